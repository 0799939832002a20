// Package vad implements the voice activity tracker: a debounced
// speech/silence state machine that decides when upstream transcription
// should start and stop.
//
// The tracker consumes per-frame (timestamp, voice-active) observations and
// emits control decisions through a [Decisions] sink. Debouncing matters
// here: without the frame thresholds and hold-off windows below, a noisy
// microphone would open and close transcription streams fast enough to trip
// upstream concurrency limits.
//
// A Tracker is not safe for concurrent use. The owning session serializes
// all calls, including the silence-timer callback, which is marshalled into
// the session's serialized context by the [Scheduler] the session supplies.
package vad

import "time"

// Debounce parameters. These values are contractual: they are tuned against
// the upstream providers' stream-churn limits and reproduced exactly.
const (
	// startVoiceFrames is the number of consecutive voice frames required
	// before transcription starts.
	startVoiceFrames = 3

	// armSilenceFrames is the number of consecutive silence frames required
	// before the stop timer is armed.
	armSilenceFrames = 5

	// restartGuard is the minimum interval between transcription starts.
	restartGuard = 2000 * time.Millisecond

	// silenceWindow is how long silence must persist, after the stop timer is
	// armed, before transcription stops.
	silenceWindow = 4000 * time.Millisecond
)

// State identifies the tracker's position in the speech/silence cycle.
type State int

const (
	// Idle: no speech detected, no transcription running.
	Idle State = iota

	// ArmingSpeech: voice frames accumulating toward a transcription start.
	ArmingSpeech

	// Transcribing: an upstream transcription stream should be open.
	Transcribing

	// ArmingSilence: sustained silence detected while transcribing; the stop
	// timer is running and fresh voice cancels it.
	ArmingSilence
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ArmingSpeech:
		return "arming-speech"
	case Transcribing:
		return "transcribing"
	case ArmingSilence:
		return "arming-silence"
	}
	return "unknown"
}

// Decisions receives the tracker's control decisions. The sink is invoked
// synchronously from Observe or from a scheduled timer callback; both run
// inside the owning session's serialized context.
type Decisions interface {
	// StartTranscription is emitted when sustained voice should open an
	// upstream transcription stream.
	StartTranscription()

	// StopTranscription is emitted when sustained silence should flush
	// buffered transcripts and close the stream.
	StopTranscription()
}

// Scheduler schedules cancellable one-shot callbacks. The returned cancel
// function suppresses the callback; implementations must guarantee that a
// callback which has fired but not yet been delivered into the serialized
// context is still suppressed by cancel (the tracker additionally guards
// with a generation counter).
type Scheduler interface {
	Schedule(d time.Duration, fn func()) (cancel func())
}

// SchedulerFunc adapts a function to the Scheduler interface.
type SchedulerFunc func(d time.Duration, fn func()) (cancel func())

// Schedule implements Scheduler.
func (f SchedulerFunc) Schedule(d time.Duration, fn func()) (cancel func()) {
	return f(d, fn)
}

// Tracker is the voice activity state machine for one session.
type Tracker struct {
	decisions Decisions
	scheduler Scheduler

	state         State
	voiceFrames   int
	silenceFrames int
	lastVoice     time.Time
	lastStart     time.Time
	started       bool // transcription-started

	silenceGen    uint64
	cancelSilence func()
}

// New creates a Tracker that reports decisions to sink and arms its silence
// timer through scheduler.
func New(sink Decisions, scheduler Scheduler) *Tracker {
	return &Tracker{
		decisions: sink,
		scheduler: scheduler,
		state:     Idle,
	}
}

// Observe feeds one frame classification into the state machine. now is the
// frame's wall-clock timestamp.
func (t *Tracker) Observe(now time.Time, voice bool) {
	if voice {
		t.observeVoice(now)
	} else {
		t.observeSilence()
	}
}

// observeVoice handles a voice frame. The voice and silence counters are
// mutually exclusive: incrementing one resets the other.
func (t *Tracker) observeVoice(now time.Time) {
	t.silenceFrames = 0
	t.voiceFrames++
	t.lastVoice = now

	switch t.state {
	case Idle:
		t.state = ArmingSpeech

	case ArmingSpeech:
		if t.voiceFrames >= startVoiceFrames && now.Sub(t.lastStart) > restartGuard {
			t.state = Transcribing
			t.lastStart = now
			t.started = true
			t.decisions.StartTranscription()
		}

	case ArmingSilence:
		// Fresh voice rescinds the pending stop.
		t.stopSilenceTimer()
		t.state = Transcribing
	}
}

// observeSilence handles a silence frame.
func (t *Tracker) observeSilence() {
	t.voiceFrames = 0
	t.silenceFrames++

	switch t.state {
	case ArmingSpeech:
		t.state = Idle

	case Transcribing:
		if t.silenceFrames >= armSilenceFrames {
			t.state = ArmingSilence
			t.armSilenceTimer()
		}
	}
}

// armSilenceTimer schedules the stop decision.
func (t *Tracker) armSilenceTimer() {
	t.silenceGen++
	gen := t.silenceGen
	t.cancelSilence = t.scheduler.Schedule(silenceWindow, func() {
		t.onSilenceExpired(gen)
	})
}

// stopSilenceTimer cancels any pending stop decision.
func (t *Tracker) stopSilenceTimer() {
	t.silenceGen++
	if t.cancelSilence != nil {
		t.cancelSilence()
		t.cancelSilence = nil
	}
}

// onSilenceExpired fires when the silence window elapses. A stale generation
// means the timer was cancelled after firing; its action is suppressed.
func (t *Tracker) onSilenceExpired(gen uint64) {
	if gen != t.silenceGen || t.state != ArmingSilence {
		return
	}
	t.cancelSilence = nil
	t.state = Idle
	t.voiceFrames = 0
	t.silenceFrames = 0
	t.started = false
	t.decisions.StopTranscription()
}

// MarkStopped records that the transcription stream ended outside the state
// machine's control (upstream error or orchestrator teardown). The restart
// guard keeps its reference point so a reopen still waits out the hold-off.
func (t *Tracker) MarkStopped() {
	t.stopSilenceTimer()
	t.state = Idle
	t.voiceFrames = 0
	t.silenceFrames = 0
	t.started = false
}

// Reset returns the tracker to its initial state, clearing the restart
// guard. Used when a session (re)enters processing.
func (t *Tracker) Reset() {
	t.stopSilenceTimer()
	t.state = Idle
	t.voiceFrames = 0
	t.silenceFrames = 0
	t.lastVoice = time.Time{}
	t.lastStart = time.Time{}
	t.started = false
}

// State returns the current state.
func (t *Tracker) State() State { return t.state }

// TranscriptionStarted reports whether the tracker believes an upstream
// transcription stream is (or should be) open.
func (t *Tracker) TranscriptionStarted() bool { return t.started }

// LastVoice returns the timestamp of the most recent voice frame.
func (t *Tracker) LastVoice() time.Time { return t.lastVoice }

// Package session implements the per-session orchestration core: each
// Session owns a voice activity tracker, a turn controller, and an optional
// transcription stream, and serializes every mutation behind its own mutex.
// The Orchestrator is the process-wide registry that creates, looks up, and
// destroys sessions.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vocalis-ai/vocalis/internal/turn"
	"github.com/vocalis-ai/vocalis/internal/vad"
	"github.com/vocalis-ai/vocalis/pkg/audio"
	"github.com/vocalis-ai/vocalis/pkg/provider/transcribe"
)

// DefaultLanguage is the language tag used when the client does not pick one.
const DefaultLanguage = "en-US"

// Emitter receives all transport-bound output of one session. Implementations
// attach timestamps and wire framing.
type Emitter interface {
	turn.Emitter

	// EmitTranscript delivers a partial or final transcript fragment.
	EmitTranscript(text string, confidence float64, partial bool)

	// EmitTranscriptionError reports a failed transcription stream.
	EmitTranscriptionError(message string)
}

// Session is the orchestration core for one client session. All exported
// methods are safe for concurrent use; internally every mutation runs under
// the session mutex, which is never held across upstream network I/O.
type Session struct {
	id        string
	userID    string
	language  string
	createdAt time.Time

	transcriber transcribe.Provider // nil disables transcription
	emitter     Emitter
	telemetry   Telemetry
	log         *slog.Logger
	timers      TimerFactory

	mu         sync.Mutex
	processing bool
	destroyed  bool
	tracker    *vad.Tracker
	tbic       *turn.Controller

	streamGen   uint64
	stream      transcribe.Stream
	streamStart time.Time
}

// Snapshot is a point-in-time view of a session for the status surface.
type Snapshot struct {
	ID               string        `json:"id"`
	UserID           string        `json:"userId"`
	IsProcessing     bool          `json:"isProcessing"`
	HasTranscription bool          `json:"hasTranscription"`
	Duration         time.Duration `json:"duration"`
	LanguageCode     string        `json:"languageCode"`
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// UserID returns the owning user id.
func (s *Session) UserID() string { return s.userID }

// Snapshot returns a consistent view of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:               s.id,
		UserID:           s.userID,
		IsProcessing:     s.processing,
		HasTranscription: s.stream != nil,
		Duration:         time.Since(s.createdAt),
		LanguageCode:     s.language,
	}
}

// exec marshals fn into the session's serialized context. Adapter callbacks
// and task completions arrive here.
func (s *Session) exec(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return
	}
	fn()
}

// TimerFactory schedules cancellable one-shot callbacks. The default uses
// time.AfterFunc; tests substitute a manual clock.
type TimerFactory func(d time.Duration, fn func()) (cancel func())

// schedule implements the one-shot timer contract for the tracker and the
// turn controller. The callback runs under the session mutex; a timer that
// fires concurrently with its cancellation is additionally suppressed by the
// callers' generation counters.
func (s *Session) schedule(d time.Duration, fn func()) (cancel func()) {
	return s.timers(d, func() { s.exec(fn) })
}

// StartProcessing enables audio processing. Buffered turn state and voice
// tracking are cleared so a restarted session begins fresh. Idempotent.
func (s *Session) StartProcessing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed || s.processing {
		return
	}
	s.processing = true
	s.tracker.Reset()
	s.tbic.Reset()
	s.log.Info("processing started")
}

// StopProcessing flushes buffered fragments into a final turn, cancels
// in-flight work, and closes the transcription stream. done, if non-nil,
// fires once the flushed turn's reply has been emitted (immediately when
// nothing is buffered). Returns false when the session was not processing,
// in which case done is not called and nothing is emitted.
func (s *Session) StopProcessing(done func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed || !s.processing {
		return false
	}
	s.processing = false
	s.closeStreamLocked(nil)
	s.tracker.MarkStopped()
	if s.tbic.Buffered() == 0 {
		// Nothing to flush; live work from an earlier turn stops silently.
		s.tbic.Reset()
		if done != nil {
			done()
		}
	} else {
		s.tbic.Flush(done)
	}
	s.log.Info("processing stopped")
	return true
}

// HandleFrame processes one audio frame: analyze, feed the voice tracker,
// and forward raw PCM to the open transcription stream. Frames arriving
// while the session is not processing are dropped.
func (s *Session) HandleFrame(frame audio.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed || !s.processing {
		return
	}
	ts := frame.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	res := audio.Analyze(frame)
	s.tracker.Observe(ts, res.VoiceActive)
	if s.stream != nil {
		if err := s.stream.Send(audio.BytesLE(frame.Samples)); err != nil {
			s.log.Debug("frame dropped", "error", err)
		}
	}
}

// History, Clear and Stats are routed through the Orchestrator; Destroy
// tears the session down.

// destroy releases everything the session owns. Safe to call twice.
func (s *Session) destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return
	}
	s.destroyed = true
	s.processing = false
	s.closeStreamLocked(nil)
	s.tracker.MarkStopped()
	s.tbic.Close()
	s.telemetry.SessionEnded()
	s.log.Info("session destroyed")
}

// ─── voice tracker decisions ───

// Compile-time interface assertion.
var _ vad.Decisions = (*Session)(nil)

// StartTranscription handles the tracker's start decision: interrupt any
// live reply or synthesis and open a transcription stream. The open runs on
// its own goroutine so the session mutex is never held across the dial; the
// generation counter discards a stream that finishes opening after the
// session moved on.
func (s *Session) StartTranscription() {
	s.tbic.OnSpeechStart()
	if s.transcriber == nil {
		// Capability disabled: audio is still analyzed for voice activity.
		return
	}
	s.streamGen++
	gen := s.streamGen
	s.log.Info("opening transcription stream", "language", s.language)
	go s.openStream(gen)
}

// StopTranscription handles the tracker's stop decision: buffered fragments
// become a turn immediately instead of waiting out the inactivity window,
// then the stream closes.
func (s *Session) StopTranscription() {
	s.tbic.Flush(nil)
	s.closeStreamLocked(nil)
}

// openStream dials the transcriber and attaches the stream if the session
// still wants it.
func (s *Session) openStream(gen uint64) {
	events := transcribe.Events{
		OnFragment: func(frag transcribe.Fragment) {
			s.exec(func() { s.onFragment(gen, frag) })
		},
		OnError: func(err error) {
			s.exec(func() { s.onStreamError(gen, err) })
		},
	}
	cfg := transcribe.Config{
		Language:   s.language,
		SampleRate: audio.DefaultSampleRate,
		Channels:   audio.DefaultChannels,
	}
	stream, err := s.transcriber.Open(context.Background(), cfg, events)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		// Connect failure is not a session error: reset the tracker so the
		// next speech burst retries.
		s.log.Warn("transcriber open failed", "error", err)
		s.tracker.MarkStopped()
		return
	}
	if gen != s.streamGen || s.destroyed || !s.processing {
		go stream.Close()
		return
	}
	s.stream = stream
	s.streamStart = time.Now()
	s.telemetry.TranscriptionStarted()
}

// onFragment handles one transcript fragment in the serialized context.
// Partials go straight to the transport; finals also feed the turn buffer.
func (s *Session) onFragment(gen uint64, frag transcribe.Fragment) {
	if gen != s.streamGen {
		return
	}
	s.telemetry.RecordFragment(frag.IsPartial)
	s.emitter.EmitTranscript(frag.Text, frag.Confidence, frag.IsPartial)
	if !frag.IsPartial {
		s.tbic.OnFinal(frag)
	}
}

// onStreamError handles a terminal stream failure: report it, drop the
// handle, and reset the tracker so the next speech detection reopens.
func (s *Session) onStreamError(gen uint64, err error) {
	if gen != s.streamGen {
		return
	}
	s.log.Warn("transcription stream failed", "error", err)
	s.emitter.EmitTranscriptionError("transcription stream failed")
	s.closeStreamLocked(err)
	s.tracker.MarkStopped()
}

// closeStreamLocked detaches and closes the current stream, if any. Close
// runs on its own goroutine; the adapter's Close is idempotent.
func (s *Session) closeStreamLocked(cause error) {
	s.streamGen++
	if s.stream == nil {
		return
	}
	st := s.stream
	s.stream = nil
	s.telemetry.TranscriptionStopped()
	s.telemetry.ObserveTranscription(time.Since(s.streamStart), cause)
	go func() {
		if err := st.Close(); err != nil {
			s.log.Debug("stream close", "error", err)
		}
	}()
}

// sessionID builds the contractual id format.
func sessionID(userID string, now time.Time) string {
	return fmt.Sprintf("session_%s_%d", userID, now.UnixMilli())
}

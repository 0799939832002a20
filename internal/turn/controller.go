// Package turn implements the turn buffer and interruption controller: the
// per-session coordinator that batches final transcript fragments into user
// turns, launches reply generation on an inactivity window, chains synthesis
// onto successful replies, and cancels in-flight work when the user barges in.
//
// A Controller is not safe for concurrent use. The owning session serializes
// every call, including the inactivity-timer callback (marshalled through the
// injected [Scheduler]) and task completions (marshalled through Exec).
// Provider calls themselves run on their own goroutines so no lock is held
// across upstream network I/O.
package turn

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/vocalis-ai/vocalis/internal/conversation"
	"github.com/vocalis-ai/vocalis/pkg/provider/respond"
	"github.com/vocalis-ai/vocalis/pkg/provider/synth"
	"github.com/vocalis-ai/vocalis/pkg/provider/transcribe"
)

// inactivityWindow is how long the controller waits after the last final
// fragment before treating the buffer as a complete user turn. Contractual.
const inactivityWindow = 2000 * time.Millisecond

// maxReplyTokens bounds reply length; voice replies should stay short.
const maxReplyTokens = 256

const systemPreamble = "You are a helpful voice assistant. " +
	"Keep your replies brief, conversational and easy to speak aloud."

const (
	fallbackReply       = "I'm sorry, I'm having trouble responding right now."
	replyErrorMessage   = "Sorry, I could not generate a response. Please try again."
	synthUnavailableMsg = "Text-to-speech is currently unavailable."
	synthErrorMessage   = "Text-to-speech failed for this reply."
)

// Scheduler schedules cancellable one-shot callbacks that fire inside the
// owning session's serialized context.
type Scheduler interface {
	Schedule(d time.Duration, fn func()) (cancel func())
}

// Emitter receives the controller's transport-bound output. Implementations
// attach timestamps and wire framing; the controller only decides what to say.
type Emitter interface {
	// EmitInterrupted reports a barge-in. stage names the cancelled work,
	// "reply" or "synthesis".
	EmitInterrupted(stage string)

	// EmitResponse delivers a finished assistant reply along with the user
	// transcript that prompted it and the transcript's mean confidence.
	EmitResponse(reply, transcript string, confidence float64)

	// EmitResponseError reports a failed reply generation.
	EmitResponseError(message string)

	// EmitAudio delivers the fully accumulated synthesis output for a reply.
	EmitAudio(pcm []byte, text string)

	// EmitSynthError reports a synthesis failure.
	EmitSynthError(message string)

	// EmitSynthUnavailable reports that synthesis is not configured or the
	// upstream refused the connection. Emitted at most once per turn.
	EmitSynthUnavailable(message string)
}

// Telemetry receives per-stage latency observations and turn counters.
// Optional.
type Telemetry interface {
	ObserveReply(d time.Duration, err error)
	ObserveSynth(d time.Duration, err error)
	RecordTurn()
	RecordInterruption(stage string)
}

// Config wires a Controller to its session.
type Config struct {
	// UserID keys the conversation store.
	UserID string

	// Store is the process-wide conversation store.
	Store *conversation.Store

	// Responder generates replies. Nil disables generation; the controller
	// then emits a canned fallback reply without touching the conversation.
	Responder respond.Provider

	// Synth produces reply audio. Nil means synthesis is unavailable.
	Synth synth.Provider

	// Emitter receives transport-bound output.
	Emitter Emitter

	// Scheduler arms the inactivity timer.
	Scheduler Scheduler

	// Exec marshals a function into the session's serialized context. Task
	// goroutines use it to deliver their results.
	Exec func(fn func())

	// Telemetry is optional per-stage latency reporting.
	Telemetry Telemetry

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

type fragment struct {
	text       string
	confidence float64
}

// Controller is the turn buffer and interruption controller for one session.
type Controller struct {
	cfg Config
	log *slog.Logger

	fragments []fragment

	timerGen    uint64
	cancelTimer func()

	replyGen    uint64
	replyCancel context.CancelFunc
	replyDone   func()

	synthGen    uint64
	synthCancel context.CancelFunc

	unavailableSent bool
	closed          bool
}

// NewController creates a Controller for one session.
func NewController(cfg Config) *Controller {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		cfg: cfg,
		log: log.With("user_id", cfg.UserID),
	}
}

// OnFinal handles a final transcript fragment. Non-empty fragments interrupt
// any live reply or synthesis, join the buffer, and re-arm the inactivity
// timer, strictly in that order. Zero-confidence fragments are admitted; some
// providers report 0 for valid results.
func (c *Controller) OnFinal(frag transcribe.Fragment) {
	if c.closed {
		return
	}
	text := strings.TrimSpace(frag.Text)
	if text == "" || frag.Confidence < 0 {
		return
	}
	c.interrupt()
	c.fragments = append(c.fragments, fragment{text: text, confidence: frag.Confidence})
	c.resetTimer()
}

// OnSpeechStart handles a fresh speech detection from the voice tracker.
// Live reply or synthesis is cancelled immediately rather than waiting for
// the first final fragment, which keeps barge-in latency low.
func (c *Controller) OnSpeechStart() {
	if c.closed {
		return
	}
	c.interrupt()
}

// Flush forces the buffered fragments into a turn immediately instead of
// waiting for the inactivity timer. done, if non-nil, fires in the serialized
// context once the flushed turn's reply has been emitted (or failed, or been
// cancelled), and fires synchronously when there is nothing to flush.
func (c *Controller) Flush(done func()) {
	if c.closed {
		if done != nil {
			done()
		}
		return
	}
	c.stopTimer()
	c.launchTurn(done)
}

// Reset discards buffered fragments and cancels timers and tasks without
// emitting anything. Used when the session (re)enters processing.
func (c *Controller) Reset() {
	c.stopTimer()
	c.cancelReply()
	c.cancelSynth()
	c.fragments = c.fragments[:0]
	c.unavailableSent = false
}

// Close tears the controller down. Buffered fragments are discarded and live
// tasks cancelled silently. Further calls are no-ops.
func (c *Controller) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.stopTimer()
	c.cancelReply()
	c.cancelSynth()
	c.fragments = nil
}

// Busy reports whether a reply or synthesis task is live.
func (c *Controller) Busy() bool {
	return c.replyCancel != nil || c.synthCancel != nil
}

// Buffered returns the number of fragments awaiting the inactivity window.
func (c *Controller) Buffered() int { return len(c.fragments) }

// ─── interruption ───

// interrupt cancels live work and reports the barge-in. Emits nothing when
// no task is live, so repeated fragments within one utterance stay quiet.
func (c *Controller) interrupt() {
	var stage string
	switch {
	case c.synthCancel != nil:
		stage = "synthesis"
	case c.replyCancel != nil:
		stage = "reply"
	default:
		return
	}
	c.cancelReply()
	c.cancelSynth()
	c.log.Info("barge-in cancelled in-flight work", "stage", stage)
	if c.cfg.Telemetry != nil {
		c.cfg.Telemetry.RecordInterruption(stage)
	}
	c.cfg.Emitter.EmitInterrupted(stage)
}

// cancelReply cancels any live reply task. The generation bump guarantees a
// completed-but-late result is discarded. A pending flush callback still
// fires so callers waiting on Flush are not stranded.
func (c *Controller) cancelReply() {
	c.replyGen++
	if c.replyCancel != nil {
		c.replyCancel()
		c.replyCancel = nil
	}
	if c.replyDone != nil {
		done := c.replyDone
		c.replyDone = nil
		done()
	}
}

func (c *Controller) cancelSynth() {
	c.synthGen++
	if c.synthCancel != nil {
		c.synthCancel()
		c.synthCancel = nil
	}
}

// ─── inactivity timer ───

func (c *Controller) resetTimer() {
	c.stopTimer()
	c.timerGen++
	gen := c.timerGen
	c.cancelTimer = c.cfg.Scheduler.Schedule(inactivityWindow, func() {
		c.onInactivity(gen)
	})
}

func (c *Controller) stopTimer() {
	c.timerGen++
	if c.cancelTimer != nil {
		c.cancelTimer()
		c.cancelTimer = nil
	}
}

// onInactivity fires when the inactivity window elapses. A stale generation
// means the timer was reset or cancelled after firing.
func (c *Controller) onInactivity(gen uint64) {
	if gen != c.timerGen || c.closed {
		return
	}
	c.cancelTimer = nil
	c.launchTurn(nil)
}

// ─── turn assembly ───

// launchTurn drains the buffer into a user turn and starts reply generation.
func (c *Controller) launchTurn(done func()) {
	if len(c.fragments) == 0 {
		if done != nil {
			done()
		}
		return
	}

	parts := make([]string, 0, len(c.fragments))
	var confSum float64
	for _, f := range c.fragments {
		parts = append(parts, f.text)
		confSum += f.confidence
	}
	transcript := strings.Join(parts, " ")
	confidence := confSum / float64(len(c.fragments))
	count := len(c.fragments)
	c.fragments = c.fragments[:0]
	c.unavailableSent = false

	// The prompt window is captured before the append so the current text
	// appears exactly once in the request.
	window := c.cfg.Store.Window(c.cfg.UserID, conversation.DefaultPromptWindow)
	c.cfg.Store.Append(c.cfg.UserID, conversation.RoleUser, transcript)

	c.log.Info("user turn assembled",
		"fragments", count,
		"mean_confidence", confidence,
		"chars", len(transcript))
	if c.cfg.Telemetry != nil {
		c.cfg.Telemetry.RecordTurn()
	}

	c.launchReply(transcript, confidence, window, done)
}

// launchReply starts a reply task for the assembled user turn.
func (c *Controller) launchReply(transcript string, confidence float64, window []conversation.Turn, done func()) {
	if c.cfg.Responder == nil {
		c.cfg.Emitter.EmitResponse(fallbackReply, transcript, confidence)
		if done != nil {
			done()
		}
		c.launchSynth(fallbackReply)
		return
	}

	c.replyGen++
	gen := c.replyGen
	ctx, cancel := context.WithCancel(context.Background())
	c.replyCancel = cancel
	c.replyDone = done

	req := respond.Request{
		System:    systemPreamble,
		Messages:  buildMessages(window, transcript),
		MaxTokens: maxReplyTokens,
	}
	start := time.Now()
	go func() {
		reply, err := c.cfg.Responder.Respond(ctx, req)
		elapsed := time.Since(start)
		c.cfg.Exec(func() {
			c.onReplyDone(gen, transcript, confidence, reply, err, elapsed)
		})
	}()
}

// buildMessages maps the recent conversation window plus the current user
// text into responder messages.
func buildMessages(window []conversation.Turn, transcript string) []respond.Message {
	msgs := make([]respond.Message, 0, len(window)+1)
	for _, t := range window {
		msgs = append(msgs, respond.Message{Role: string(t.Role), Content: t.Content})
	}
	return append(msgs, respond.Message{Role: string(conversation.RoleUser), Content: transcript})
}

// onReplyDone handles a reply task completion in the serialized context.
func (c *Controller) onReplyDone(gen uint64, transcript string, confidence float64, reply string, err error, elapsed time.Duration) {
	if gen != c.replyGen {
		// Cancelled. A late success is discarded without appending or
		// emitting; cancelReply already released any flush callback.
		return
	}
	c.replyCancel = nil
	done := c.replyDone
	c.replyDone = nil

	if c.cfg.Telemetry != nil {
		c.cfg.Telemetry.ObserveReply(elapsed, err)
	}

	if err != nil {
		if !errors.Is(err, context.Canceled) {
			c.log.Warn("reply generation failed", "error", err, "elapsed", elapsed)
			c.cfg.Emitter.EmitResponseError(replyErrorMessage)
		}
		if done != nil {
			done()
		}
		return
	}

	reply = strings.TrimSpace(reply)
	c.log.Info("assistant reply ready", "elapsed", elapsed, "chars", len(reply))
	// Emission precedes the history append so a concurrent history read
	// never sees an assistant turn whose reply is not yet on the wire.
	c.cfg.Emitter.EmitResponse(reply, transcript, confidence)
	c.cfg.Store.Append(c.cfg.UserID, conversation.RoleAssistant, reply)
	if done != nil {
		done()
	}

	if c.synthCancel != nil {
		// Concurrent synthesis is forbidden; the reply text stays in the
		// conversation but is not spoken.
		c.log.Warn("synthesis already live, skipping audio for reply")
		return
	}
	c.launchSynth(reply)
}

// ─── synthesis ───

// launchSynth starts a synthesis task for the reply text. The audio stream is
// accumulated into a single buffer and emitted whole.
func (c *Controller) launchSynth(text string) {
	if c.cfg.Synth == nil {
		c.noteSynthUnavailable()
		return
	}

	c.synthGen++
	gen := c.synthGen
	ctx, cancel := context.WithCancel(context.Background())
	c.synthCancel = cancel

	start := time.Now()
	go func() {
		ch, err := c.cfg.Synth.Synthesize(ctx, text)
		if err != nil {
			elapsed := time.Since(start)
			c.cfg.Exec(func() { c.onSynthFailed(gen, err, elapsed) })
			return
		}
		var buf []byte
		for chunk := range ch {
			buf = append(buf, chunk...)
		}
		if ctx.Err() != nil {
			// Cancelled mid-stream: the partial buffer is discarded.
			return
		}
		elapsed := time.Since(start)
		c.cfg.Exec(func() { c.onSynthDone(gen, text, buf, elapsed) })
	}()
}

func (c *Controller) onSynthDone(gen uint64, text string, pcm []byte, elapsed time.Duration) {
	if gen != c.synthGen {
		return
	}
	c.synthCancel = nil
	if c.cfg.Telemetry != nil {
		c.cfg.Telemetry.ObserveSynth(elapsed, nil)
	}
	if len(pcm) == 0 {
		// The stream closed without audio, which the streaming backends use
		// to signal a mid-stream failure.
		c.log.Warn("synthesis produced no audio", "elapsed", elapsed)
		c.cfg.Emitter.EmitSynthError(synthErrorMessage)
		return
	}
	c.log.Info("synthesis complete", "elapsed", elapsed, "bytes", len(pcm))
	c.cfg.Emitter.EmitAudio(pcm, text)
}

func (c *Controller) onSynthFailed(gen uint64, err error, elapsed time.Duration) {
	if gen != c.synthGen {
		return
	}
	c.synthCancel = nil
	if c.cfg.Telemetry != nil {
		c.cfg.Telemetry.ObserveSynth(elapsed, err)
	}
	switch {
	case errors.Is(err, context.Canceled):
	case errors.Is(err, synth.ErrUnavailable):
		c.noteSynthUnavailable()
	default:
		c.log.Warn("synthesis failed", "error", err, "elapsed", elapsed)
		c.cfg.Emitter.EmitSynthError(synthErrorMessage)
	}
}

// noteSynthUnavailable emits tts-unavailable at most once per turn.
func (c *Controller) noteSynthUnavailable() {
	if c.unavailableSent {
		return
	}
	c.unavailableSent = true
	c.cfg.Emitter.EmitSynthUnavailable(synthUnavailableMsg)
}

// Package transcribe defines the Provider interface for streaming
// speech-to-text backends.
//
// A transcribe provider wraps a real-time transcription service (e.g., the
// Deepgram streaming API or the OpenAI realtime API) and exposes a uniform
// duplex interface: once opened, a [Stream] accepts raw PCM audio and delivers
// recognition hypotheses through the [Events] sink supplied at open time.
// Partial fragments may be superseded by later hypotheses; final fragments are
// terminal for their span. The adapter is responsible for re-assembling
// provider-specific framing into this contract.
//
// Implementations must be safe for concurrent use. Event callbacks fire from
// adapter-owned goroutines; callers that touch shared state from a callback
// must provide their own synchronization.
package transcribe

import (
	"context"
	"errors"
)

// ErrUnavailable is returned by [Provider.Open] when the transcription
// capability cannot be used at all — credentials are missing or the upstream
// connection cannot be established.
var ErrUnavailable = errors.New("transcription service unavailable")

// ErrClosed is returned by [Stream.Send] after the stream has been closed,
// either explicitly or after an upstream transport error.
var ErrClosed = errors.New("transcription stream is closed")

// Config describes the audio format and recognition hints for a new stream.
type Config struct {
	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// An empty string uses the provider default.
	Language string

	// SampleRate is the audio sample rate in Hz. The orchestrator always
	// opens streams at 16000.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono.
	Channels int
}

// Events is the callback sink a caller passes to [Provider.Open]. A single
// sink is bound for the lifetime of the stream.
type Events struct {
	// OnFragment is invoked for each recognition hypothesis, partial or final.
	// Must be non-nil.
	OnFragment func(Fragment)

	// OnError is invoked at most once when the stream fails mid-flight. After
	// OnError fires the stream is terminally closed; Send returns [ErrClosed].
	// May be nil if the caller does not care about transport errors.
	OnError func(error)
}

// Stream represents an open duplex transcription channel. Callers must call
// Close when the stream is no longer needed; failing to do so leaks the
// upstream connection. All methods are safe for concurrent use.
type Stream interface {
	// Send queues a chunk of raw little-endian 16-bit PCM for transcription.
	// Send never blocks on upstream I/O: when the internal outbound queue is
	// full the oldest queued frames are dropped with a logged warning.
	// Send returns ErrClosed after Close or after an upstream error.
	Send(pcm []byte) error

	// Close terminates the stream, flushes pending audio on a best-effort
	// basis, and releases upstream resources. Close is idempotent.
	Close() error
}

// Provider is the abstraction over any streaming speech-to-text backend.
// Which backend is wired is a configuration choice; the session orchestrator
// only ever sees this interface.
type Provider interface {
	// Open establishes a new streaming transcription session. Returns an error
	// wrapping [ErrUnavailable] if credentials are missing or the upstream
	// connection cannot be established.
	Open(ctx context.Context, cfg Config, events Events) (Stream, error)
}

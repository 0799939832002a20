// Package synth defines the Provider interface for text-to-speech backends.
//
// A synth provider wraps a speech synthesis service (e.g., ElevenLabs) and
// presents a uniform streaming interface: Synthesize accepts the full reply
// text and returns a channel of raw PCM audio chunks as they become
// available. The orchestration core accumulates the chunks into a single
// buffer before emitting them to the client.
//
// Implementations must be safe for concurrent use.
package synth

import (
	"context"
	"errors"
)

// ErrUnavailable is returned by [Provider.Synthesize] when the synthesis
// capability cannot be used at all — credentials are missing or the upstream
// connection cannot be established.
var ErrUnavailable = errors.New("speech synthesis unavailable")

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize converts text to speech and returns a read-only channel that
	// emits raw PCM audio chunks (s16le mono 16 kHz). The channel is closed by
	// the implementation when synthesis completes or ctx is cancelled; callers
	// must drain it to avoid blocking the provider's internal goroutines.
	//
	// Returns a non-nil error only if the stream cannot be started. Errors
	// after start are signalled by closing the channel early; callers should
	// check ctx.Err() to distinguish cancellation from provider failure.
	Synthesize(ctx context.Context, text string) (<-chan []byte, error)
}

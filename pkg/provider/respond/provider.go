// Package respond defines the Provider interface for reply-generation
// backends.
//
// A respond provider wraps a large-language-model API and exposes a single
// blocking call that turns an assembled prompt into reply text. Streaming is
// deliberately not part of this contract: replies are synthesized to speech
// as a whole, so the orchestration core only ever needs the complete text.
//
// Implementations must be safe for concurrent use and must honor context
// cancellation promptly — a reply that completes after its context was
// cancelled is discarded by the caller and must not have side effects.
package respond

import "context"

// Message is one turn of conversation context included in a request.
type Message struct {
	// Role is "user" or "assistant".
	Role string

	// Content is the turn's text.
	Content string
}

// Request carries everything the model needs to produce a reply.
type Request struct {
	// System is the fixed system preamble injected before the history.
	System string

	// Messages is the recent conversation window in arrival order. The last
	// message is the current user utterance.
	Messages []Message

	// MaxTokens caps the reply length. Zero uses the provider default.
	MaxTokens int
}

// Provider is the abstraction over any reply-generation backend.
type Provider interface {
	// Respond sends req to the model and returns the full reply text.
	// Returns ctx.Err() (possibly wrapped) when ctx is cancelled in flight.
	Respond(ctx context.Context, req Request) (string, error)
}

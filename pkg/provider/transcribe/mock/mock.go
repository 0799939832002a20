// Package mock provides test doubles for the transcribe package interfaces.
//
// Use Provider to verify that the caller opens streams with the expected
// Config, and to capture the Events sink so tests can inject fragments and
// upstream errors at controlled points.
//
// Example:
//
//	p := &mock.Provider{}
//	stream, _ := p.Open(ctx, cfg, events)
//	p.LastEvents().OnFragment(transcribe.Fragment{Text: "hello"})
package mock

import (
	"context"
	"sync"

	"github.com/vocalis-ai/vocalis/pkg/provider/transcribe"
)

// OpenCall records a single invocation of Provider.Open.
type OpenCall struct {
	// Cfg is the Config passed to Open.
	Cfg transcribe.Config
	// Events is the sink passed to Open.
	Events transcribe.Events
	// Stream is the stream that Open returned for this call.
	Stream *Stream
}

// Provider is a mock implementation of transcribe.Provider.
type Provider struct {
	mu sync.Mutex

	// OpenErr, if non-nil, is returned as the error from Open.
	OpenErr error

	// OpenCalls records every call to Open.
	OpenCalls []OpenCall
}

// Compile-time interface assertion.
var _ transcribe.Provider = (*Provider)(nil)

// Open records the call and returns a fresh mock Stream bound to events.
func (p *Provider) Open(_ context.Context, cfg transcribe.Config, events transcribe.Events) (transcribe.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.OpenErr != nil {
		p.OpenCalls = append(p.OpenCalls, OpenCall{Cfg: cfg, Events: events})
		return nil, p.OpenErr
	}
	s := &Stream{events: events}
	p.OpenCalls = append(p.OpenCalls, OpenCall{Cfg: cfg, Events: events, Stream: s})
	return s, nil
}

// Call returns the i-th recorded Open call.
func (p *Provider) Call(i int) OpenCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.OpenCalls[i]
}

// Opens returns the number of recorded Open calls.
func (p *Provider) Opens() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.OpenCalls)
}

// LastEvents returns the Events sink from the most recent Open call.
// Panics if Open has not been called.
func (p *Provider) LastEvents() transcribe.Events {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.OpenCalls[len(p.OpenCalls)-1].Events
}

// LastStream returns the Stream from the most recent Open call.
// Panics if Open has not been called.
func (p *Provider) LastStream() *Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.OpenCalls[len(p.OpenCalls)-1].Stream
}

// Stream is a mock implementation of transcribe.Stream. It records sent
// chunks and exposes the Events sink for test-driven fragment injection.
type Stream struct {
	mu     sync.Mutex
	events transcribe.Events
	sent   [][]byte
	closed bool

	// SendErr, if non-nil, is returned by Send.
	SendErr error
}

// Compile-time interface assertion.
var _ transcribe.Stream = (*Stream)(nil)

// Send records a copy of pcm.
func (s *Stream) Send(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendErr != nil {
		return s.SendErr
	}
	if s.closed {
		return transcribe.ErrClosed
	}
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	s.sent = append(s.sent, cp)
	return nil
}

// Close marks the stream closed. Idempotent.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Sent returns copies of all chunks delivered via Send.
func (s *Stream) Sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.sent))
	copy(out, s.sent)
	return out
}

// Emit invokes the bound OnFragment callback, simulating an upstream
// hypothesis arriving on the adapter's reader goroutine.
func (s *Stream) Emit(frag transcribe.Fragment) {
	s.events.OnFragment(frag)
}

// Fail invokes the bound OnError callback and marks the stream closed,
// simulating a mid-stream transport failure.
func (s *Stream) Fail(err error) {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	if s.events.OnError != nil {
		s.events.OnError(err)
	}
}

// Package mock provides test doubles for the respond package interfaces.
package mock

import (
	"context"
	"sync"

	"github.com/vocalis-ai/vocalis/pkg/provider/respond"
)

// Provider is a mock implementation of respond.Provider.
//
// By default Respond returns Reply immediately. Set Block to make Respond
// wait for ctx cancellation or a Release call, which lets tests exercise
// in-flight cancellation.
type Provider struct {
	mu sync.Mutex

	// Reply is the text returned on success.
	Reply string

	// Err, if non-nil, is returned instead of Reply.
	Err error

	// Block, when true, makes Respond wait until Release is called or ctx is
	// cancelled.
	Block bool

	// Calls records every request passed to Respond.
	Calls []respond.Request

	release chan struct{}
}

// Compile-time interface assertion.
var _ respond.Provider = (*Provider)(nil)

// Respond records req and returns the configured result.
func (p *Provider) Respond(ctx context.Context, req respond.Request) (string, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, req)
	block := p.Block
	if block && p.release == nil {
		p.release = make(chan struct{})
	}
	release := p.release
	reply, err := p.Reply, p.Err
	p.mu.Unlock()

	if block {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-release:
		}
		// Re-read results: tests may adjust them before releasing.
		p.mu.Lock()
		reply, err = p.Reply, p.Err
		p.mu.Unlock()
	}

	if err != nil {
		return "", err
	}
	return reply, nil
}

// Release unblocks all Respond calls currently waiting.
func (p *Provider) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.release != nil {
		close(p.release)
		p.release = nil
		p.Block = false
	}
}

// CallCount returns the number of recorded Respond calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// LastCall returns the most recent recorded request.
// Panics if Respond has not been called.
func (p *Provider) LastCall() respond.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Calls[len(p.Calls)-1]
}

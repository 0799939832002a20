// Package mock provides test doubles for the synth package interfaces.
package mock

import (
	"context"
	"sync"

	"github.com/vocalis-ai/vocalis/pkg/provider/synth"
)

// Provider is a mock implementation of synth.Provider.
//
// By default Synthesize emits Chunks and closes the channel. Set Hold to keep
// the channel open until Release is called or ctx is cancelled, which lets
// tests interrupt synthesis mid-stream.
type Provider struct {
	mu sync.Mutex

	// Chunks are the PCM chunks emitted on success.
	Chunks [][]byte

	// Err, if non-nil, is returned from Synthesize instead of a channel.
	Err error

	// Hold, when true, keeps the audio channel open after emitting Chunks
	// until Release is called or the context is cancelled.
	Hold bool

	// Calls records the text of every Synthesize invocation.
	Calls []string

	release chan struct{}
}

// Compile-time interface assertion.
var _ synth.Provider = (*Provider)(nil)

// Synthesize records text and plays back the configured chunks.
func (p *Provider) Synthesize(ctx context.Context, text string) (<-chan []byte, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, text)
	if p.Err != nil {
		err := p.Err
		p.mu.Unlock()
		return nil, err
	}
	chunks := make([][]byte, len(p.Chunks))
	copy(chunks, p.Chunks)
	hold := p.Hold
	if hold && p.release == nil {
		p.release = make(chan struct{})
	}
	release := p.release
	p.mu.Unlock()

	ch := make(chan []byte, len(chunks)+1)
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
		if hold {
			select {
			case <-ctx.Done():
			case <-release:
			}
		}
	}()
	return ch, nil
}

// Release closes any held audio channels.
func (p *Provider) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.release != nil {
		close(p.release)
		p.release = nil
		p.Hold = false
	}
}

// CallCount returns the number of recorded Synthesize calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// LastText returns the text of the most recent Synthesize call.
// Panics if Synthesize has not been called.
func (p *Provider) LastText() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Calls[len(p.Calls)-1]
}

// Package deepgram provides a Deepgram-backed transcribe provider using the
// Deepgram streaming WebSocket API. Audio is sent as binary frames over a
// persistent bidirectional byte stream; results arrive as JSON messages.
// It implements the transcribe.Provider interface.
package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/vocalis-ai/vocalis/pkg/provider/transcribe"
)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en-US"
	defaultSampleRate = 16000

	// audioQueueDepth bounds the outbound frame queue. At ~64 ms per frame
	// this is roughly 16 seconds of audio before the oldest frames drop.
	audioQueueDepth = 256
)

// Compile-time interface assertion.
var _ transcribe.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithEndpoint overrides the streaming endpoint URL. Used by tests to point
// the provider at a local fake server.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// Provider implements transcribe.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey   string
	model    string
	endpoint string
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("deepgram: %w: apiKey must not be empty", transcribe.ErrUnavailable)
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		endpoint: deepgramEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Open dials the Deepgram streaming endpoint and returns a live stream.
// Recognition hypotheses are delivered through events from a reader goroutine.
func (p *Provider) Open(ctx context.Context, cfg transcribe.Config, events transcribe.Events) (transcribe.Stream, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w (%v)", transcribe.ErrUnavailable, err)
	}

	s := &stream{
		conn:   conn,
		events: events,
		audio:  make(chan []byte, audioQueueDepth),
		done:   make(chan struct{}),
	}

	s.wg.Add(2)
	go s.readLoop(ctx)
	go s.writeLoop(ctx)

	return s, nil
}

// buildURL constructs the Deepgram streaming endpoint URL for the given config.
func (p *Provider) buildURL(cfg transcribe.Config) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = defaultLanguage
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = defaultSampleRate
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sr))
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- stream ----

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// stream is a live Deepgram streaming session. It implements transcribe.Stream.
type stream struct {
	conn   *websocket.Conn
	events transcribe.Events
	audio  chan []byte

	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
	errOnce sync.Once

	dropMu  sync.Mutex
	dropped int
}

// Send queues a PCM audio chunk for delivery to Deepgram. When the outbound
// queue is full the oldest queued frame is dropped so the caller never blocks.
func (s *stream) Send(pcm []byte) error {
	select {
	case <-s.done:
		return fmt.Errorf("deepgram: %w", transcribe.ErrClosed)
	default:
	}

	for {
		select {
		case s.audio <- pcm:
			return nil
		case <-s.done:
			return fmt.Errorf("deepgram: %w", transcribe.ErrClosed)
		default:
		}
		// Queue full: evict the oldest frame and retry.
		select {
		case <-s.audio:
			s.noteDrop()
		default:
		}
	}
}

// noteDrop counts dropped frames and logs a warning on each power-of-two-ish
// milestone to avoid log flooding under sustained back-pressure.
func (s *stream) noteDrop() {
	s.dropMu.Lock()
	s.dropped++
	n := s.dropped
	s.dropMu.Unlock()
	if n == 1 || n%100 == 0 {
		slog.Warn("deepgram: outbound audio queue full, dropping oldest frame", "dropped_total", n)
	}
}

// Close terminates the stream cleanly. It is idempotent.
func (s *stream) Close() error {
	s.once.Do(func() {
		close(s.done)
		// Ask Deepgram to flush pending audio before tearing down.
		writeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = s.conn.Write(writeCtx, websocket.MessageText, []byte(`{"type":"CloseStream"}`))
		cancel()
		s.wg.Wait()
		_ = s.conn.Close(websocket.StatusNormalClosure, "stream closed")
	})
	return nil
}

// fail reports err through the events sink exactly once and moves the stream
// into its terminal closed state.
func (s *stream) fail(err error) {
	s.errOnce.Do(func() {
		if s.events.OnError != nil {
			s.events.OnError(err)
		}
	})
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
		_ = s.conn.Close(websocket.StatusInternalError, "stream failed")
	})
}

// writeLoop drains the audio queue and sends binary messages to Deepgram.
func (s *stream) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-s.done:
			// Flush whatever is still queued.
			for {
				select {
				case chunk := <-s.audio:
					_ = s.conn.Write(ctx, websocket.MessageBinary, chunk)
				default:
					return
				}
			}
		}
	}
}

// readLoop receives JSON messages from Deepgram and dispatches fragments to
// the events sink. A read error while the stream is still open is an upstream
// failure and surfaces through events.OnError.
func (s *stream) readLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			select {
			case <-s.done:
				// Normal close.
			default:
				go s.fail(fmt.Errorf("deepgram: read: %w", err))
			}
			return
		}

		frag, ok := parseResponse(msg)
		if !ok {
			continue
		}
		s.events.OnFragment(frag)
	}
}

// parseResponse parses a raw Deepgram WebSocket message into a Fragment.
// Returns (zero, false) if the message carries no usable hypothesis.
func parseResponse(data []byte) (transcribe.Fragment, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return transcribe.Fragment{}, false
	}
	if resp.Type != "Results" {
		return transcribe.Fragment{}, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return transcribe.Fragment{}, false
	}

	alt := resp.Channel.Alternatives[0]
	return transcribe.Fragment{
		Text:       alt.Transcript,
		Confidence: alt.Confidence,
		IsPartial:  !resp.IsFinal,
		Timestamp:  time.Now(),
	}, true
}

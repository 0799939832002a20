// Package openairt provides a transcribe provider backed by the OpenAI
// realtime transcription WebSocket API. Audio is transmitted as
// base64-encoded PCM16 chunks inside JSON events and turn segmentation is
// performed by the provider's server-side VAD. It implements the
// transcribe.Provider interface.
package openairt

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/vocalis-ai/vocalis/pkg/provider/transcribe"
)

const (
	defaultEndpoint = "wss://api.openai.com/v1/realtime?intent=transcription"
	defaultModel    = "gpt-4o-transcribe"

	// audioQueueDepth bounds the outbound event queue, matching the deepgram
	// backend's back-pressure policy.
	audioQueueDepth = 256
)

// Compile-time interface assertion.
var _ transcribe.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithModel sets the transcription model (e.g., "gpt-4o-transcribe").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithEndpoint overrides the realtime endpoint URL. Used by tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// Provider implements transcribe.Provider backed by the OpenAI realtime API.
type Provider struct {
	apiKey   string
	model    string
	endpoint string
}

// New creates a new OpenAI realtime transcription Provider. apiKey must be
// non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openairt: %w: apiKey must not be empty", transcribe.ErrUnavailable)
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		endpoint: defaultEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ---- wire types ----

// sessionUpdate configures the transcription session after connect.
type sessionUpdate struct {
	Type    string         `json:"type"`
	Session sessionPayload `json:"session"`
}

type sessionPayload struct {
	InputAudioFormat        string               `json:"input_audio_format"`
	InputAudioTranscription transcriptionPayload `json:"input_audio_transcription"`
	TurnDetection           turnDetectionPayload `json:"turn_detection"`
}

type transcriptionPayload struct {
	Model    string `json:"model"`
	Language string `json:"language,omitempty"`
}

type turnDetectionPayload struct {
	Type string `json:"type"`
}

// appendAudio carries one base64-encoded PCM16 chunk.
type appendAudio struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// serverEvent is the subset of realtime server events the adapter consumes.
type serverEvent struct {
	Type       string  `json:"type"`
	Delta      string  `json:"delta"`
	Transcript string  `json:"transcript"`
	Error      *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Open dials the realtime endpoint, configures a transcription session with
// server-side VAD, and returns a live stream.
func (p *Provider) Open(ctx context.Context, cfg transcribe.Config, events transcribe.Events) (transcribe.Stream, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+p.apiKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	conn, _, err := websocket.Dial(ctx, p.endpoint, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("openairt: dial: %w (%v)", transcribe.ErrUnavailable, err)
	}

	update := sessionUpdate{
		Type: "transcription_session.update",
		Session: sessionPayload{
			InputAudioFormat: "pcm16",
			InputAudioTranscription: transcriptionPayload{
				Model:    p.model,
				Language: shortLanguage(cfg.Language),
			},
			TurnDetection: turnDetectionPayload{Type: "server_vad"},
		},
	}
	raw, err := json.Marshal(update)
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "marshal session update")
		return nil, fmt.Errorf("openairt: marshal session update: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, raw); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("openairt: session update: %w (%v)", transcribe.ErrUnavailable, err)
	}

	s := &stream{
		conn:       conn,
		events:     events,
		audio:      make(chan []byte, audioQueueDepth),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}

	s.wg.Add(2)
	go s.readLoop(ctx)
	go s.writeLoop(ctx)

	return s, nil
}

// shortLanguage reduces a BCP-47 tag to the bare language subtag the realtime
// API expects ("en-US" → "en").
func shortLanguage(tag string) string {
	for i := 0; i < len(tag); i++ {
		if tag[i] == '-' {
			return tag[:i]
		}
	}
	return tag
}

// ---- stream ----

// stream is a live realtime transcription session. It implements
// transcribe.Stream.
type stream struct {
	conn   *websocket.Conn
	events transcribe.Events
	audio  chan []byte

	done       chan struct{}
	writerDone chan struct{}
	once       sync.Once
	wg         sync.WaitGroup
	errOnce    sync.Once

	dropMu  sync.Mutex
	dropped int
}

// Send queues a PCM chunk for delivery. The chunk is base64-encoded into an
// input_audio_buffer.append event by the writer goroutine. When the queue is
// full the oldest chunk is dropped so the caller never blocks.
func (s *stream) Send(pcm []byte) error {
	select {
	case <-s.done:
		return fmt.Errorf("openairt: %w", transcribe.ErrClosed)
	default:
	}

	for {
		select {
		case s.audio <- pcm:
			return nil
		case <-s.done:
			return fmt.Errorf("openairt: %w", transcribe.ErrClosed)
		default:
		}
		select {
		case <-s.audio:
			s.noteDrop()
		default:
		}
	}
}

func (s *stream) noteDrop() {
	s.dropMu.Lock()
	s.dropped++
	n := s.dropped
	s.dropMu.Unlock()
	if n == 1 || n%100 == 0 {
		slog.Warn("openairt: outbound audio queue full, dropping oldest chunk", "dropped_total", n)
	}
}

// Close terminates the stream. It is idempotent.
//
// The realtime API has no client-side close event, so after the writer
// drains its queue the connection is dropped to unblock the reader; waiting
// on the goroutines before closing would deadlock against conn.Read.
func (s *stream) Close() error {
	s.once.Do(func() {
		close(s.done)
		<-s.writerDone
		_ = s.conn.Close(websocket.StatusNormalClosure, "stream closed")
		s.wg.Wait()
	})
	return nil
}

func (s *stream) fail(err error) {
	s.errOnce.Do(func() {
		if s.events.OnError != nil {
			s.events.OnError(err)
		}
	})
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close(websocket.StatusInternalError, "stream failed")
		s.wg.Wait()
	})
}

// writeLoop encodes queued PCM chunks and sends append events.
func (s *stream) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.writerDone)
	for {
		select {
		case chunk := <-s.audio:
			if err := s.writeChunk(ctx, chunk); err != nil {
				return
			}
		case <-s.done:
			// Flush whatever is still queued.
			for {
				select {
				case chunk := <-s.audio:
					_ = s.writeChunk(ctx, chunk)
				default:
					return
				}
			}
		}
	}
}

func (s *stream) writeChunk(ctx context.Context, chunk []byte) error {
	msg, err := json.Marshal(appendAudio{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(chunk),
	})
	if err != nil {
		return nil
	}
	return s.conn.Write(ctx, websocket.MessageText, msg)
}

// readLoop receives realtime server events and dispatches fragments.
func (s *stream) readLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			select {
			case <-s.done:
			default:
				go s.fail(fmt.Errorf("openairt: read: %w", err))
			}
			return
		}

		frag, failure, ok := parseEvent(msg)
		if failure != nil {
			go s.fail(failure)
			return
		}
		if !ok {
			continue
		}
		s.events.OnFragment(frag)
	}
}

// parseEvent maps a realtime server event onto the Fragment contract:
// transcription deltas become partials and completed transcriptions become
// finals. The realtime API does not report confidence for transcription
// events, so fragments carry zero confidence — which downstream treats as
// valid (the provider legitimately returns zero for some results).
func parseEvent(data []byte) (frag transcribe.Fragment, failure error, ok bool) {
	var evt serverEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return transcribe.Fragment{}, nil, false
	}

	switch evt.Type {
	case "conversation.item.input_audio_transcription.delta":
		if evt.Delta == "" {
			return transcribe.Fragment{}, nil, false
		}
		return transcribe.Fragment{
			Text:      evt.Delta,
			IsPartial: true,
			Timestamp: time.Now(),
		}, nil, true

	case "conversation.item.input_audio_transcription.completed":
		return transcribe.Fragment{
			Text:      evt.Transcript,
			IsPartial: false,
			Timestamp: time.Now(),
		}, nil, true

	case "error":
		msg := "unknown error"
		if evt.Error != nil {
			msg = evt.Error.Message
		}
		return transcribe.Fragment{}, fmt.Errorf("openairt: server error: %s", msg), false

	default:
		return transcribe.Fragment{}, nil, false
	}
}

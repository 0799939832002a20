// Package elevenlabs provides an ElevenLabs-backed synth provider using the
// ElevenLabs streaming WebSocket API. It implements the synth.Provider
// interface.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/coder/websocket"

	"github.com/vocalis-ai/vocalis/pkg/provider/synth"
)

const (
	wsEndpointFmt    = "wss://api.elevenlabs.io/v1/text-to-speech/%s/stream-input?model_id=%s&output_format=%s"
	defaultModel     = "eleven_flash_v2_5"
	defaultVoiceID   = "21m00Tcm4TlvDq8ikWAM"
	defaultOutputFmt = "pcm_16000"
)

// Compile-time interface assertion.
var _ synth.Provider = (*Provider)(nil)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithVoice sets the voice ID used for synthesis.
func WithVoice(voiceID string) Option {
	return func(p *Provider) {
		p.voiceID = voiceID
	}
}

// WithEndpointFormat overrides the websocket endpoint format string.
// Used by tests to point the provider at a local fake server.
func WithEndpointFormat(format string) Option {
	return func(p *Provider) {
		p.endpointFmt = format
	}
}

// Provider implements synth.Provider backed by the ElevenLabs streaming API.
type Provider struct {
	apiKey      string
	model       string
	voiceID     string
	endpointFmt string
}

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("elevenlabs: %w: apiKey must not be empty", synth.ErrUnavailable)
	}
	p := &Provider{
		apiKey:      apiKey,
		model:       defaultModel,
		voiceID:     defaultVoiceID,
		endpointFmt: wsEndpointFmt,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ---- WebSocket message types ----

// textMessage is the JSON payload sent to ElevenLabs for a text fragment.
// An empty Text signals end of input and flushes pending synthesis.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// boiMessage is the initial "begin of input" handshake.
type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
}

// audioResponse is the JSON message received over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded PCM
	IsFinal bool   `json:"isFinal"`
}

// Synthesize opens a WebSocket to ElevenLabs, sends the reply text, and
// returns a channel emitting raw PCM audio chunks.
func (p *Provider) Synthesize(ctx context.Context, text string) (<-chan []byte, error) {
	wsURL := fmt.Sprintf(p.endpointFmt, p.voiceID, p.model, defaultOutputFmt)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w (%v)", synth.ErrUnavailable, err)
	}

	vs := &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}

	// ElevenLabs requires a non-empty first text value.
	boi := boiMessage{Text: " ", VoiceSettings: vs, XiAPIKey: p.apiKey}
	boiBytes, _ := json.Marshal(boi)
	if err := conn.Write(ctx, websocket.MessageText, boiBytes); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "failed to send BOI")
		return nil, fmt.Errorf("elevenlabs: send BOI: %w", err)
	}

	// Send the full reply followed by the end-of-input flush.
	payload, _ := json.Marshal(textMessage{Text: text, VoiceSettings: vs})
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "failed to send text")
		return nil, fmt.Errorf("elevenlabs: send text: %w", err)
	}
	flush, _ := json.Marshal(textMessage{Text: ""})
	if err := conn.Write(ctx, websocket.MessageText, flush); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "failed to send flush")
		return nil, fmt.Errorf("elevenlabs: send flush: %w", err)
	}

	audioCh := make(chan []byte, 256)

	go func() {
		defer close(audioCh)
		defer conn.Close(websocket.StatusNormalClosure, "done")

		for {
			_, msg, err := conn.Read(ctx)
			if err != nil {
				return
			}
			pcm, final, ok := parseAudioResponse(msg)
			if ok {
				select {
				case audioCh <- pcm:
				case <-ctx.Done():
					return
				}
			}
			if final {
				return
			}
		}
	}()

	return audioCh, nil
}

// parseAudioResponse decodes one websocket message. Returns the PCM chunk (if
// any), whether the message marks end of synthesis, and whether a chunk was
// present.
func parseAudioResponse(data []byte) (pcm []byte, final bool, ok bool) {
	var resp audioResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, false, false
	}
	if resp.Audio == "" {
		return nil, resp.IsFinal, false
	}
	decoded, err := base64.StdEncoding.DecodeString(resp.Audio)
	if err != nil {
		return nil, resp.IsFinal, false
	}
	return decoded, resp.IsFinal, true
}

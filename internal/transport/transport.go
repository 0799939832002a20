// Package transport implements the websocket protocol between browser
// clients and the orchestrator. Every message is a JSON envelope
// {"event": name, "data": payload}; one reader goroutine per connection
// dispatches inbound events, and a write mutex serializes outbound frames.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/vocalis-ai/vocalis/internal/conversation"
	"github.com/vocalis-ai/vocalis/internal/session"
	"github.com/vocalis-ai/vocalis/pkg/audio"
)

// maxMessageBytes bounds one inbound frame. Audio arrives as JSON sample
// arrays, so the limit is generous.
const maxMessageBytes = 1 << 20

// writeTimeout bounds one outbound write.
const writeTimeout = 10 * time.Second

// envelope is the wire framing for every event in both directions.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// outEnvelope is the outbound counterpart with an arbitrary payload.
type outEnvelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Handler upgrades HTTP requests to websocket connections and runs the event
// protocol against the orchestrator.
type Handler struct {
	orch *session.Orchestrator
	log  *slog.Logger
}

// NewHandler creates a websocket Handler. logger defaults to slog.Default.
func NewHandler(orch *session.Orchestrator, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{orch: orch, log: logger}
}

// ServeHTTP upgrades the connection and serves it until disconnect.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Browser clients connect from arbitrary origins (demo page, local
		// files); session access is scoped per connection instead.
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Warn("websocket accept failed", "error", err)
		return
	}
	ws.SetReadLimit(maxMessageBytes)

	c := &conn{
		id:       uuid.NewString(),
		ws:       ws,
		orch:     h.orch,
		sessions: make(map[string]*session.Session),
	}
	c.log = h.log.With("connection_id", c.id)
	c.log.Info("client connected", "remote", r.RemoteAddr)

	c.send("ready", messagePayload{Message: "connected"})
	c.run(r.Context())
}

// conn is one client connection.
type conn struct {
	id   string
	ws   *websocket.Conn
	orch *session.Orchestrator
	log  *slog.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	sessions map[string]*session.Session
	last     *session.Session
}

// ─── outbound payloads ───

type messagePayload struct {
	Message string `json:"message"`
}

type timedMessage struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type sessionCreated struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

type transcriptionResult struct {
	Transcript string    `json:"transcript"`
	Confidence float64   `json:"confidence"`
	IsPartial  bool      `json:"isPartial"`
	Timestamp  time.Time `json:"timestamp"`
}

type aiResponse struct {
	Response            string    `json:"response"`
	Transcript          string    `json:"transcript"`
	Timestamp           time.Time `json:"timestamp"`
	Confidence          float64   `json:"confidence"`
	BufferedTranscripts bool      `json:"bufferedTranscripts"`
}

type aiInterrupted struct {
	Timestamp     time.Time `json:"timestamp"`
	InterruptedAt string    `json:"interruptedAt"`
}

type ttsAudio struct {
	AudioData []byte    `json:"audioData"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type conversationHistory struct {
	History   []conversation.Turn `json:"history"`
	UserID    string              `json:"userId"`
	Timestamp time.Time           `json:"timestamp"`
}

type conversationCleared struct {
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

type conversationStats struct {
	ConversationCount int       `json:"conversationCount"`
	TotalTurns        int       `json:"totalTurns"`
	Timestamp         time.Time `json:"timestamp"`
}

// send serializes one outbound event. Write failures are logged and
// otherwise ignored; a dead connection surfaces through the read loop.
func (c *conn) send(event string, data any) {
	payload, err := json.Marshal(outEnvelope{Event: event, Data: data})
	if err != nil {
		c.log.Error("marshal outbound event", "event", event, "error", err)
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := c.ws.Write(ctx, websocket.MessageText, payload); err != nil {
		c.log.Debug("write failed", "event", event, "error", err)
	}
}

func (c *conn) sendError(message string) {
	c.send("error", messagePayload{Message: message})
}

// run reads events until the connection drops, then destroys the
// connection's sessions.
func (c *conn) run(ctx context.Context) {
	defer c.teardown()
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				c.log.Info("client disconnected")
			} else {
				c.log.Info("client connection lost", "error", err)
			}
			return
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			c.sendError("malformed message")
			continue
		}
		c.dispatch(env)
	}
}

func (c *conn) teardown() {
	c.mu.Lock()
	ids := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	c.sessions = make(map[string]*session.Session)
	c.last = nil
	c.mu.Unlock()
	for _, id := range ids {
		c.orch.Destroy(id)
	}
	_ = c.ws.Close(websocket.StatusNormalClosure, "bye")
}

// dispatch routes one inbound event.
func (c *conn) dispatch(env envelope) {
	switch env.Event {
	case "start-session":
		c.onStartSession(env.Data)
	case "start-processing":
		c.onStartProcessing(env.Data)
	case "stop-processing":
		c.onStopProcessing(env.Data)
	case "audio-data":
		c.onAudioData(env.Data)
	case "get-conversation-history":
		c.onHistory(env.Data)
	case "clear-conversation":
		c.onClearConversation()
	case "get-conversation-stats":
		c.onStats()
	default:
		c.sendError("unknown event: " + env.Event)
	}
}

// ─── inbound handlers ───

type startSessionReq struct {
	UserID       string `json:"userId"`
	LanguageCode string `json:"languageCode"`
}

func (c *conn) onStartSession(data json.RawMessage) {
	var req startSessionReq
	if err := json.Unmarshal(data, &req); err != nil || req.UserID == "" {
		c.sendError("start-session requires a userId")
		return
	}
	s := c.orch.Create(req.UserID, req.LanguageCode, &sessionEmitter{c: c})
	c.mu.Lock()
	c.sessions[s.ID()] = s
	c.last = s
	c.mu.Unlock()
	c.send("session-created", sessionCreated{
		SessionID: s.ID(),
		Message:   "session created",
	})
}

type sessionRef struct {
	SessionID string `json:"sessionId"`
}

// lookup resolves a session id against this connection's sessions.
func (c *conn) lookup(id string) (*session.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[id]
	return s, ok
}

func (c *conn) onStartProcessing(data json.RawMessage) {
	var ref sessionRef
	if err := json.Unmarshal(data, &ref); err != nil || ref.SessionID == "" {
		c.sendError("start-processing requires a sessionId")
		return
	}
	s, ok := c.lookup(ref.SessionID)
	if !ok {
		c.sendError("unknown session: " + ref.SessionID)
		return
	}
	s.StartProcessing()
	c.send("processing-started", messagePayload{Message: "audio processing started"})
}

func (c *conn) onStopProcessing(data json.RawMessage) {
	var ref sessionRef
	if len(data) > 0 {
		if err := json.Unmarshal(data, &ref); err != nil {
			c.sendError("malformed stop-processing payload")
			return
		}
	}

	var targets []*session.Session
	if ref.SessionID != "" {
		s, ok := c.lookup(ref.SessionID)
		if !ok {
			c.sendError("unknown session: " + ref.SessionID)
			return
		}
		targets = []*session.Session{s}
	} else {
		c.mu.Lock()
		for _, s := range c.sessions {
			targets = append(targets, s)
		}
		c.mu.Unlock()
	}

	for _, s := range targets {
		// The buffered turn's reply, if any, goes out before the stop
		// confirmation. A session that was not processing stays silent.
		s.StopProcessing(func() {
			c.send("processing-stopped", messagePayload{Message: "audio processing stopped"})
		})
	}
}

type audioDataReq struct {
	SessionID  string  `json:"sessionId"`
	Samples    []int16 `json:"samples"`
	SampleRate int     `json:"sampleRate"`
	Channels   int     `json:"channels"`
}

func (c *conn) onAudioData(data json.RawMessage) {
	var req audioDataReq
	if err := json.Unmarshal(data, &req); err != nil || req.SessionID == "" {
		c.sendError("audio-data requires a sessionId")
		return
	}
	s, ok := c.lookup(req.SessionID)
	if !ok {
		c.sendError("unknown session: " + req.SessionID)
		return
	}
	if req.SampleRate == 0 {
		req.SampleRate = audio.DefaultSampleRate
	}
	if req.Channels == 0 {
		req.Channels = audio.DefaultChannels
	}
	s.HandleFrame(audio.Frame{
		Samples:    req.Samples,
		SampleRate: req.SampleRate,
		Channels:   req.Channels,
		Timestamp:  time.Now(),
	})
}

type historyReq struct {
	Limit int `json:"limit"`
}

// lastSession returns the connection's most recently created session, which
// scopes the conversation admin events.
func (c *conn) lastSession() (*session.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, c.last != nil
}

func (c *conn) onHistory(data json.RawMessage) {
	s, ok := c.lastSession()
	if !ok {
		c.send("conversation-error", messagePayload{Message: "no active session"})
		return
	}
	var req historyReq
	if len(data) > 0 {
		_ = json.Unmarshal(data, &req)
	}
	history := c.orch.History(s.UserID(), req.Limit)
	if history == nil {
		history = []conversation.Turn{}
	}
	c.send("conversation-history", conversationHistory{
		History:   history,
		UserID:    s.UserID(),
		Timestamp: time.Now(),
	})
}

func (c *conn) onClearConversation() {
	s, ok := c.lastSession()
	if !ok {
		c.send("conversation-error", messagePayload{Message: "no active session"})
		return
	}
	c.orch.ClearConversation(s.UserID())
	c.send("conversation-cleared", conversationCleared{
		UserID:    s.UserID(),
		Timestamp: time.Now(),
	})
}

func (c *conn) onStats() {
	stats := c.orch.Stats()
	c.send("conversation-stats", conversationStats{
		ConversationCount: stats.ConversationCount,
		TotalTurns:        stats.TotalTurns,
		Timestamp:         time.Now(),
	})
}

// ─── session emitter ───

// sessionEmitter maps a session's output onto wire events.
type sessionEmitter struct {
	c *conn
}

// Compile-time interface assertion.
var _ session.Emitter = (*sessionEmitter)(nil)

func (e *sessionEmitter) EmitTranscript(text string, confidence float64, partial bool) {
	e.c.send("transcription-result", transcriptionResult{
		Transcript: text,
		Confidence: confidence,
		IsPartial:  partial,
		Timestamp:  time.Now(),
	})
}

func (e *sessionEmitter) EmitTranscriptionError(message string) {
	e.c.send("transcription-error", messagePayload{Message: message})
}

func (e *sessionEmitter) EmitInterrupted(stage string) {
	e.c.send("ai-interrupted", aiInterrupted{
		Timestamp:     time.Now(),
		InterruptedAt: stage,
	})
}

func (e *sessionEmitter) EmitResponse(reply, transcript string, confidence float64) {
	e.c.send("ai-response", aiResponse{
		Response:            reply,
		Transcript:          transcript,
		Timestamp:           time.Now(),
		Confidence:          confidence,
		BufferedTranscripts: true,
	})
}

func (e *sessionEmitter) EmitResponseError(message string) {
	e.c.send("ai-response-error", timedMessage{Message: message, Timestamp: time.Now()})
}

func (e *sessionEmitter) EmitAudio(pcm []byte, text string) {
	e.c.send("tts-audio", ttsAudio{
		AudioData: pcm,
		Text:      text,
		Timestamp: time.Now(),
	})
}

func (e *sessionEmitter) EmitSynthError(message string) {
	e.c.send("tts-error", timedMessage{Message: message, Timestamp: time.Now()})
}

func (e *sessionEmitter) EmitSynthUnavailable(message string) {
	e.c.send("tts-unavailable", timedMessage{Message: message, Timestamp: time.Now()})
}

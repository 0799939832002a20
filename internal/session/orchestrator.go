package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/vocalis-ai/vocalis/internal/conversation"
	"github.com/vocalis-ai/vocalis/internal/turn"
	"github.com/vocalis-ai/vocalis/internal/vad"
	"github.com/vocalis-ai/vocalis/pkg/provider/respond"
	"github.com/vocalis-ai/vocalis/pkg/provider/synth"
	"github.com/vocalis-ai/vocalis/pkg/provider/transcribe"
)

// Config wires an Orchestrator to its providers. Any provider may be nil,
// which disables that capability for all sessions.
type Config struct {
	Store       *conversation.Store
	Transcriber transcribe.Provider
	Responder   respond.Provider
	Synth       synth.Provider

	// Telemetry defaults to a no-op implementation.
	Telemetry Telemetry

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// Timers defaults to time.AfterFunc. Tests substitute a manual clock.
	Timers TimerFactory
}

// Orchestrator is the process-wide session registry. Created at server start
// and drained at shutdown; destructive operations on sessions go through it.
type Orchestrator struct {
	cfg Config
	log *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	now func() time.Time
}

// NewOrchestrator creates an empty registry.
func NewOrchestrator(cfg Config) *Orchestrator {
	if cfg.Store == nil {
		cfg.Store = conversation.NewStore()
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = nopTelemetry{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timers == nil {
		cfg.Timers = func(d time.Duration, fn func()) (cancel func()) {
			timer := time.AfterFunc(d, fn)
			return func() { timer.Stop() }
		}
	}
	return &Orchestrator{
		cfg:      cfg,
		log:      cfg.Logger,
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// Create builds and registers a session for userID. language falls back to
// [DefaultLanguage] when empty. The emitter receives everything the session
// says to its client.
func (o *Orchestrator) Create(userID, language string, em Emitter) *Session {
	if language == "" {
		language = DefaultLanguage
	}
	now := o.now()
	s := &Session{
		id:          sessionID(userID, now),
		userID:      userID,
		language:    language,
		createdAt:   now,
		transcriber: o.cfg.Transcriber,
		emitter:     em,
		telemetry:   o.cfg.Telemetry,
		timers:      o.cfg.Timers,
	}
	s.log = o.log.With("session_id", s.id, "user_id", userID)
	s.tracker = vad.New(s, vad.SchedulerFunc(s.schedule))
	s.tbic = turn.NewController(turn.Config{
		UserID:    userID,
		Store:     o.cfg.Store,
		Responder: o.cfg.Responder,
		Synth:     o.cfg.Synth,
		Emitter:   em,
		Scheduler: turnScheduler{s},
		Exec:      s.exec,
		Telemetry: o.cfg.Telemetry,
		Logger:    s.log,
	})

	o.mu.Lock()
	o.sessions[s.id] = s
	o.mu.Unlock()
	o.cfg.Telemetry.SessionStarted()
	s.log.Info("session created", "language", language)
	return s
}

// turnScheduler adapts the session's timer to the turn controller.
type turnScheduler struct{ s *Session }

func (ts turnScheduler) Schedule(d time.Duration, fn func()) (cancel func()) {
	return ts.s.schedule(d, fn)
}

// Get looks a session up by id.
func (o *Orchestrator) Get(id string) (*Session, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s, ok := o.sessions[id]
	return s, ok
}

// Destroy tears a session down and removes it from the registry. Unknown ids
// are ignored.
func (o *Orchestrator) Destroy(id string) {
	o.mu.Lock()
	s, ok := o.sessions[id]
	if ok {
		delete(o.sessions, id)
	}
	o.mu.Unlock()
	if ok {
		s.destroy()
	}
}

// DestroyAll drains the registry. Called at server shutdown.
func (o *Orchestrator) DestroyAll() {
	o.mu.Lock()
	drained := make([]*Session, 0, len(o.sessions))
	for id, s := range o.sessions {
		drained = append(drained, s)
		delete(o.sessions, id)
	}
	o.mu.Unlock()
	for _, s := range drained {
		s.destroy()
	}
}

// Snapshots returns a view of every live session.
func (o *Orchestrator) Snapshots() []Snapshot {
	o.mu.RLock()
	sessions := make([]*Session, 0, len(o.sessions))
	for _, s := range o.sessions {
		sessions = append(sessions, s)
	}
	o.mu.RUnlock()

	out := make([]Snapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	return out
}

// Counts returns the number of live sessions and of open transcription
// streams, for the health surface.
func (o *Orchestrator) Counts() (active, transcribing int) {
	for _, snap := range o.Snapshots() {
		active++
		if snap.HasTranscription {
			transcribing++
		}
	}
	return active, transcribing
}

// History returns the user's recent turns, newest last. limit <= 0 uses the
// default history window.
func (o *Orchestrator) History(userID string, limit int) []conversation.Turn {
	if limit <= 0 {
		limit = conversation.DefaultHistoryWindow
	}
	return o.cfg.Store.Window(userID, limit)
}

// ClearConversation removes the user's conversation.
func (o *Orchestrator) ClearConversation(userID string) {
	o.cfg.Store.Clear(userID)
	o.log.Info("conversation cleared", "user_id", userID)
}

// Stats returns aggregate conversation statistics.
func (o *Orchestrator) Stats() conversation.Stats {
	return o.cfg.Store.Stats()
}

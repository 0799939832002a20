// Package health provides the HTTP health and status handlers.
//
// The package exposes three endpoints:
//
//   - /health-check (aliased as /health) — liveness plus live counters.
//   - /status — short status line with the active session count.
//   - /sessions — a snapshot of every live session.
//
// Responses are JSON; counters come from the orchestrator's registry.
package health

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/vocalis-ai/vocalis/internal/session"
)

// Handler serves the health and status endpoints. Safe for concurrent use.
type Handler struct {
	orch      *session.Orchestrator
	startedAt time.Time
	now       func() time.Time
}

// New creates a Handler reporting on orch. Uptime counts from the call.
func New(orch *session.Orchestrator) *Handler {
	return &Handler{
		orch:      orch,
		startedAt: time.Now(),
		now:       time.Now,
	}
}

type healthResponse struct {
	Status               string    `json:"status"`
	ActiveSessions       int       `json:"activeSessions"`
	ActiveTranscriptions int       `json:"activeTranscriptions"`
	Uptime               float64   `json:"uptime"`
	Timestamp            time.Time `json:"timestamp"`
}

type statusResponse struct {
	Message        string `json:"message"`
	ActiveSessions int    `json:"activeSessions"`
}

type sessionEntry struct {
	ID               string  `json:"id"`
	UserID           string  `json:"userId"`
	IsProcessing     bool    `json:"isProcessing"`
	HasTranscription bool    `json:"hasTranscription"`
	Duration         float64 `json:"duration"`
	LanguageCode     string  `json:"languageCode"`
}

// HealthCheck serves GET /health-check and its /health alias.
func (h *Handler) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	active, transcribing := h.orch.Counts()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:               "ok",
		ActiveSessions:       active,
		ActiveTranscriptions: transcribing,
		Uptime:               h.now().Sub(h.startedAt).Seconds(),
		Timestamp:            h.now(),
	})
}

// Status serves GET /status.
func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	active, _ := h.orch.Counts()
	writeJSON(w, http.StatusOK, statusResponse{
		Message:        "voice orchestrator running",
		ActiveSessions: active,
	})
}

// Sessions serves GET /sessions.
func (h *Handler) Sessions(w http.ResponseWriter, _ *http.Request) {
	snaps := h.orch.Snapshots()
	out := make([]sessionEntry, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, sessionEntry{
			ID:               s.ID,
			UserID:           s.UserID,
			IsProcessing:     s.IsProcessing,
			HasTranscription: s.HasTranscription,
			Duration:         s.Duration.Seconds(),
			LanguageCode:     s.LanguageCode,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// writeJSON writes v as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

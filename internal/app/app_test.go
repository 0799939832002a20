package app_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/vocalis-ai/vocalis/internal/app"
	"github.com/vocalis-ai/vocalis/internal/config"
	respondmock "github.com/vocalis-ai/vocalis/pkg/provider/respond/mock"
	synthmock "github.com/vocalis-ai/vocalis/pkg/provider/synth/mock"
	transcribemock "github.com/vocalis-ai/vocalis/pkg/provider/transcribe/mock"
)

func newTestApp(t *testing.T) *app.App {
	t.Helper()
	a, err := app.New(config.Default(),
		app.WithTranscriber(&transcribemock.Provider{}),
		app.WithResponder(&respondmock.Provider{Reply: "hello"}),
		app.WithSynth(&synthmock.Provider{Chunks: [][]byte{{1, 2}}}),
		app.WithLogger(slog.New(slog.DiscardHandler)),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestRoutes(t *testing.T) {
	a := newTestApp(t)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	t.Run("index page", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/")
		if err != nil {
			t.Fatalf("GET /: %v", err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("want 200, got %d", resp.StatusCode)
		}
		if !strings.Contains(string(body), "Vocalis") {
			t.Error("index page must mention Vocalis")
		}
	})

	t.Run("health check", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/health-check")
		if err != nil {
			t.Fatalf("GET /health-check: %v", err)
		}
		defer resp.Body.Close()
		var body struct {
			Status string `json:"status"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Status != "ok" {
			t.Errorf("want status ok, got %q", body.Status)
		}
	})

	t.Run("health alias", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/health")
		if err != nil {
			t.Fatalf("GET /health: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("want 200, got %d", resp.StatusCode)
		}
	})

	t.Run("metrics scrape", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/metrics")
		if err != nil {
			t.Fatalf("GET /metrics: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("want 200, got %d", resp.StatusCode)
		}
	})
}

func TestWebSocketEndpoint(t *testing.T) {
	a := newTestApp(t)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ws, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close(websocket.StatusNormalClosure, "")

	_, data, err := ws.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Event != "ready" {
		t.Fatalf("want ready on connect, got %q", env.Event)
	}
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	cfg := config.Default()
	cfg.Providers.Transcribe.Name = "whisperx"
	cfg.Providers.Transcribe.APIKey = "key"

	if _, err := app.New(cfg, app.WithLogger(slog.New(slog.DiscardHandler))); err == nil {
		t.Fatal("unknown transcribe provider must fail New")
	}
}

func TestNewBuildsProvidersFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Providers.Transcribe.APIKey = "dg-key"
	cfg.Providers.Respond.Name = "anyllm:openai"
	cfg.Providers.Respond.APIKey = "oa-key"
	cfg.Providers.Respond.Model = "gpt-4o-mini"
	cfg.Providers.Synth.APIKey = "el-key"

	if _, err := app.New(cfg, app.WithLogger(slog.New(slog.DiscardHandler))); err != nil {
		t.Fatalf("New with configured providers: %v", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Port = 0

	a, err := app.New(cfg, app.WithLogger(slog.New(slog.DiscardHandler)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	// Give the listener a moment to come up, then pull the plug.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run after cancel: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

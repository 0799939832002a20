// Package app wires all Vocalis subsystems into a running HTTP server.
//
// The App struct owns the full lifecycle: New builds the providers from the
// config, assembles the session orchestrator and HTTP routes, and Run serves
// until the context is cancelled, then drains every live session.
//
// For testing, inject mock providers via functional options (WithTranscriber,
// WithResponder, WithSynth). When an option is not provided, New creates real
// implementations from the config; a provider entry without an API key leaves
// that pipeline stage disabled.
package app

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/vocalis-ai/vocalis/internal/config"
	"github.com/vocalis-ai/vocalis/internal/health"
	"github.com/vocalis-ai/vocalis/internal/observe"
	"github.com/vocalis-ai/vocalis/internal/session"
	"github.com/vocalis-ai/vocalis/internal/transport"
	"github.com/vocalis-ai/vocalis/pkg/provider/respond"
	respondanyllm "github.com/vocalis-ai/vocalis/pkg/provider/respond/anyllm"
	respondopenai "github.com/vocalis-ai/vocalis/pkg/provider/respond/openai"
	"github.com/vocalis-ai/vocalis/pkg/provider/synth"
	"github.com/vocalis-ai/vocalis/pkg/provider/synth/elevenlabs"
	"github.com/vocalis-ai/vocalis/pkg/provider/transcribe"
	"github.com/vocalis-ai/vocalis/pkg/provider/transcribe/deepgram"
	"github.com/vocalis-ai/vocalis/pkg/provider/transcribe/openairt"
)

//go:embed web
var webFS embed.FS

// shutdownTimeout bounds how long Run waits for in-flight HTTP requests
// after the context is cancelled.
const shutdownTimeout = 10 * time.Second

// App owns the orchestrator, the HTTP server, and the provider lifetimes.
type App struct {
	cfg *config.Config
	log *slog.Logger

	metrics *observe.Metrics
	orch    *session.Orchestrator
	handler http.Handler
	srv     *http.Server

	transcriber transcribe.Provider
	responder   respond.Provider
	synth       synth.Provider

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithTranscriber injects a transcription provider instead of building one
// from the config.
func WithTranscriber(p transcribe.Provider) Option {
	return func(a *App) { a.transcriber = p }
}

// WithResponder injects a reply provider instead of building one from the
// config.
func WithResponder(p respond.Provider) Option {
	return func(a *App) { a.responder = p }
}

// WithSynth injects a speech synthesis provider instead of building one from
// the config.
func WithSynth(p synth.Provider) Option {
	return func(a *App) { a.synth = p }
}

// WithLogger overrides the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring the providers, the session orchestrator, and
// the HTTP routes together. Providers not injected via options are built from
// cfg; a stage whose API key is empty stays nil and sessions degrade for it
// (no transcription, canned replies, or a tts-unavailable notice).
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return nil, fmt.Errorf("app: create metrics: %w", err)
	}
	a.metrics = metrics

	if err := a.initProviders(); err != nil {
		return nil, fmt.Errorf("app: init providers: %w", err)
	}

	a.orch = session.NewOrchestrator(session.Config{
		Transcriber: a.transcriber,
		Responder:   a.responder,
		Synth:       a.synth,
		Telemetry:   a.metrics,
		Logger:      a.log,
	})

	a.handler = observe.Middleware(a.metrics)(a.routes())
	a.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// initProviders builds the pipeline stages named in the config, skipping any
// slot already filled by an option.
func (a *App) initProviders() error {
	var err error

	if a.transcriber == nil {
		a.transcriber, err = buildTranscriber(a.cfg.Providers.Transcribe)
		if err != nil {
			return err
		}
	}
	if a.responder == nil {
		a.responder, err = buildResponder(a.cfg.Providers.Respond)
		if err != nil {
			return err
		}
	}
	if a.synth == nil {
		a.synth, err = buildSynth(a.cfg.Providers.Synth)
		if err != nil {
			return err
		}
	}

	a.log.Info("providers configured",
		"transcribe", providerLabel(a.cfg.Providers.Transcribe.Name, a.transcriber != nil),
		"respond", providerLabel(a.cfg.Providers.Respond.Name, a.responder != nil),
		"synth", providerLabel(a.cfg.Providers.Synth.Name, a.synth != nil),
	)
	return nil
}

func providerLabel(name string, enabled bool) string {
	if !enabled {
		return "disabled"
	}
	return name
}

// buildTranscriber constructs the streaming transcription provider, or nil
// when no API key is configured.
func buildTranscriber(entry config.ProviderEntry) (transcribe.Provider, error) {
	if entry.APIKey == "" {
		return nil, nil
	}
	switch entry.Name {
	case "", "deepgram":
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	case "openai-realtime":
		var opts []openairt.Option
		if entry.Model != "" {
			opts = append(opts, openairt.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, openairt.WithEndpoint(entry.BaseURL))
		}
		return openairt.New(entry.APIKey, opts...)
	default:
		return nil, fmt.Errorf("unknown transcribe provider %q", entry.Name)
	}
}

// buildResponder constructs the reply provider, or nil when no API key is
// configured. Names of the form "anyllm:<provider>" route through the any-llm
// abstraction so local backends like ollama work without an OpenAI account.
func buildResponder(entry config.ProviderEntry) (respond.Provider, error) {
	backend, isAnyLLM := strings.CutPrefix(entry.Name, "anyllm:")
	if entry.APIKey == "" && !(isAnyLLM && backend == "ollama") {
		return nil, nil
	}

	if isAnyLLM {
		var opts []anyllmlib.Option
		if entry.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return respondanyllm.New(backend, entry.Model, opts...)
	}

	switch entry.Name {
	case "", "openai":
		var opts []respondopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, respondopenai.WithBaseURL(entry.BaseURL))
		}
		return respondopenai.New(entry.APIKey, entry.Model, opts...)
	default:
		return nil, fmt.Errorf("unknown respond provider %q", entry.Name)
	}
}

// buildSynth constructs the speech synthesis provider, or nil when no API key
// is configured.
func buildSynth(entry config.ProviderEntry) (synth.Provider, error) {
	if entry.APIKey == "" {
		return nil, nil
	}
	switch entry.Name {
	case "", "elevenlabs":
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.Voice != "" {
			opts = append(opts, elevenlabs.WithVoice(entry.Voice))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	default:
		return nil, fmt.Errorf("unknown synth provider %q", entry.Name)
	}
}

// ─── Routes ──────────────────────────────────────────────────────────────────

// routes assembles the HTTP mux: the embedded web console at /, the WebSocket
// endpoint at /ws, health and status endpoints, and the Prometheus scrape
// endpoint at /metrics.
func (a *App) routes() http.Handler {
	mux := http.NewServeMux()

	static, err := fs.Sub(webFS, "web")
	if err != nil {
		// The embed directive guarantees the subtree exists.
		panic(err)
	}
	mux.Handle("GET /", http.FileServerFS(static))

	mux.Handle("GET /ws", transport.NewHandler(a.orch, a.log))

	hh := health.New(a.orch)
	mux.HandleFunc("GET /health-check", hh.HealthCheck)
	mux.HandleFunc("GET /health", hh.HealthCheck)
	mux.HandleFunc("GET /status", hh.Status)
	mux.HandleFunc("GET /sessions", hh.Sessions)

	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

// Handler returns the fully-wired HTTP handler. Exposed for tests that serve
// the app via httptest instead of a real listener.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Orchestrator returns the session registry. Exposed for tests.
func (a *App) Orchestrator() *session.Orchestrator {
	return a.orch
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP until ctx is cancelled, then shuts the server down
// gracefully and destroys every live session. Returns nil on a clean
// shutdown.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.srv.Addr)
	if err != nil {
		return fmt.Errorf("app: listen on %s: %w", a.srv.Addr, err)
	}
	a.log.Info("server listening", "addr", ln.Addr().String())

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		a.shutdown()
		return nil
	})

	return g.Wait()
}

// shutdown stops the HTTP server and drains the session registry. Safe to
// call more than once.
func (a *App) shutdown() {
	a.stopOnce.Do(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := a.srv.Shutdown(shutdownCtx); err != nil {
			a.log.Warn("http shutdown", "err", err)
		}
		a.orch.DestroyAll()
		a.log.Info("server stopped")
	})
}

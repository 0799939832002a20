// Command vocalis is the main entry point for the Vocalis voice
// orchestration server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/vocalis-ai/vocalis/internal/app"
	"github.com/vocalis-ai/vocalis/internal/config"
	"github.com/vocalis-ai/vocalis/internal/observe"
)

// version is stamped by the build; "dev" for local runs.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ─────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (optional)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────
	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "vocalis: %v\n", err)
			return 1
		}
		cfg = loaded
	}
	if err := config.ApplyEnv(cfg, os.Getenv); err != nil {
		fmt.Fprintf(os.Stderr, "vocalis: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Server.LogLevel.Slog(),
	}))
	slog.SetDefault(logger)

	slog.Info("vocalis starting",
		"version", version,
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"language", cfg.Server.LanguageCode,
	)

	// ── Signal context ────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────
	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "vocalis",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	// ── Application ───────────────────────────────────────────────────────
	application, err := app.New(cfg, app.WithLogger(logger))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// Package config provides the configuration schema and loader for the
// Vocalis voice orchestrator.
package config

import "log/slog"

// LogLevel controls log verbosity for the server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog maps l onto the slog level, defaulting to info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader], then finished with [ApplyEnv].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// Port is the TCP port the HTTP server listens on. Default: 3000.
	Port int `yaml:"port"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// LanguageCode is the default language for sessions that do not pick
	// one. Default: "en-US".
	LanguageCode string `yaml:"language_code"`
}

// ProvidersConfig declares which upstream implementation serves each
// pipeline stage. An entry without an API key disables that capability.
type ProvidersConfig struct {
	Transcribe ProviderEntry `yaml:"transcribe"`
	Respond    ProviderEntry `yaml:"respond"`
	Synth      ProviderEntry `yaml:"synth"`
}

// ProviderEntry is the common configuration block shared by all provider
// stages.
type ProviderEntry struct {
	// Name selects the implementation:
	//
	//	transcribe: "deepgram" | "openai-realtime"
	//	respond:    "openai"   | "anyllm:<provider>"
	//	synth:      "elevenlabs"
	Name string `yaml:"name"`

	// APIKey authenticates against the provider. Empty disables the stage.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Voice selects a synthesis voice. Synth stage only.
	Voice string `yaml:"voice"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         3000,
			LogLevel:     LogInfo,
			LanguageCode: "en-US",
		},
		Providers: ProvidersConfig{
			Transcribe: ProviderEntry{Name: "deepgram"},
			Respond:    ProviderEntry{Name: "openai"},
			Synth:      ProviderEntry{Name: "elevenlabs"},
		},
	}
}

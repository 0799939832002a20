package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per pipeline stage.
var ValidProviderNames = map[string][]string{
	"transcribe": {"deepgram", "openai-realtime"},
	"respond":    {"openai", "anyllm"},
	"synth":      {"elevenlabs"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. Unset fields keep the [Default] values.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of the defaults and
// validates the result. Useful in tests where configs are string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range [1, 65535]", cfg.Server.Port))
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if name := cfg.Providers.Transcribe.Name; name != "" && !validName("transcribe", name) {
		errs = append(errs, fmt.Errorf("providers.transcribe.name %q is unknown; valid values: deepgram, openai-realtime", name))
	}
	if name := cfg.Providers.Respond.Name; name != "" && !validName("respond", name) {
		errs = append(errs, fmt.Errorf("providers.respond.name %q is unknown; valid values: openai, anyllm:<provider>", name))
	}
	if name := cfg.Providers.Synth.Name; name != "" && !validName("synth", name) {
		errs = append(errs, fmt.Errorf("providers.synth.name %q is unknown; valid values: elevenlabs", name))
	}

	return errors.Join(errs...)
}

// validName matches name against the stage's known providers. Respond names
// may carry an "anyllm:<provider>" suffix selecting the wrapped backend.
func validName(stage, name string) bool {
	base, _, _ := strings.Cut(name, ":")
	for _, known := range ValidProviderNames[stage] {
		if base == known {
			return true
		}
	}
	return false
}

// ApplyEnv layers environment overrides onto cfg:
//
//	PORT                 server.port
//	DEEPGRAM_API_KEY     providers.transcribe.api_key (deepgram)
//	OPENAI_API_KEY       providers.respond.api_key (openai and anyllm:openai)
//	                     and providers.transcribe.api_key (openai-realtime)
//	ELEVENLABS_API_KEY   providers.synth.api_key (elevenlabs)
//
// getenv is injectable for tests; pass [os.Getenv] in production. Explicit
// config-file keys win over the environment.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	if port := getenv("PORT"); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("config: PORT %q is not a number: %w", port, err)
		}
		cfg.Server.Port = n
	}

	setKey := func(entry *ProviderEntry, key string) {
		if entry.APIKey == "" && key != "" {
			entry.APIKey = key
		}
	}

	switch cfg.Providers.Transcribe.Name {
	case "openai-realtime":
		setKey(&cfg.Providers.Transcribe, getenv("OPENAI_API_KEY"))
	default:
		setKey(&cfg.Providers.Transcribe, getenv("DEEPGRAM_API_KEY"))
	}
	switch cfg.Providers.Respond.Name {
	case "", "openai", "anyllm:openai":
		setKey(&cfg.Providers.Respond, getenv("OPENAI_API_KEY"))
	}
	setKey(&cfg.Providers.Synth, getenv("ELEVENLABS_API_KEY"))

	return Validate(cfg)
}

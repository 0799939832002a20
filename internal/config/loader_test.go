package config

import (
	"strings"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("want default port 3000, got %d", cfg.Server.Port)
	}
	if cfg.Server.LanguageCode != "en-US" {
		t.Errorf("want default language en-US, got %q", cfg.Server.LanguageCode)
	}
	if cfg.Providers.Transcribe.Name != "deepgram" {
		t.Errorf("want default transcriber deepgram, got %q", cfg.Providers.Transcribe.Name)
	}
}

func TestLoadFromReader(t *testing.T) {
	const doc = `
server:
  port: 8080
  log_level: debug
providers:
  transcribe:
    name: openai-realtime
    api_key: sk-stt
  respond:
    name: "anyllm:anthropic"
    api_key: sk-llm
    model: claude-sonnet
  synth:
    name: elevenlabs
    voice: custom-voice
`
	cfg, err := LoadFromReader(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.Port != 8080 || cfg.Server.LogLevel != LogDebug {
		t.Errorf("server block: %+v", cfg.Server)
	}
	if cfg.Providers.Transcribe.Name != "openai-realtime" || cfg.Providers.Transcribe.APIKey != "sk-stt" {
		t.Errorf("transcribe block: %+v", cfg.Providers.Transcribe)
	}
	if cfg.Providers.Respond.Name != "anyllm:anthropic" || cfg.Providers.Respond.Model != "claude-sonnet" {
		t.Errorf("respond block: %+v", cfg.Providers.Respond)
	}
	if cfg.Providers.Synth.Voice != "custom-voice" {
		t.Errorf("synth block: %+v", cfg.Providers.Synth)
	}
}

func TestUnknownFieldRejected(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("server:\n  prot: 8080\n"))
	if err == nil {
		t.Fatal("unknown fields must be rejected")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"bad port", "server:\n  port: 70000\n"},
		{"bad log level", "server:\n  log_level: loud\n"},
		{"bad transcriber", "providers:\n  transcribe:\n    name: whisperx\n"},
		{"bad responder", "providers:\n  respond:\n    name: bard\n"},
		{"bad synth", "providers:\n  synth:\n    name: espeak\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := LoadFromReader(strings.NewReader(tc.doc)); err == nil {
				t.Fatalf("want validation error for %s", tc.name)
			}
		})
	}
}

func TestAnyLLMNamesAccepted(t *testing.T) {
	for _, name := range []string{"anyllm:openai", "anyllm:ollama", "anyllm:groq"} {
		doc := "providers:\n  respond:\n    name: \"" + name + "\"\n"
		if _, err := LoadFromReader(strings.NewReader(doc)); err != nil {
			t.Errorf("%s must validate: %v", name, err)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"PORT":               "9090",
		"DEEPGRAM_API_KEY":   "dg-key",
		"OPENAI_API_KEY":     "oa-key",
		"ELEVENLABS_API_KEY": "el-key",
	}
	getenv := func(k string) string { return env[k] }

	cfg := Default()
	if err := ApplyEnv(cfg, getenv); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("want PORT override 9090, got %d", cfg.Server.Port)
	}
	if cfg.Providers.Transcribe.APIKey != "dg-key" {
		t.Errorf("want deepgram key, got %q", cfg.Providers.Transcribe.APIKey)
	}
	if cfg.Providers.Respond.APIKey != "oa-key" {
		t.Errorf("want openai key, got %q", cfg.Providers.Respond.APIKey)
	}
	if cfg.Providers.Synth.APIKey != "el-key" {
		t.Errorf("want elevenlabs key, got %q", cfg.Providers.Synth.APIKey)
	}
}

func TestApplyEnvRespectsExplicitKeys(t *testing.T) {
	cfg := Default()
	cfg.Providers.Respond.APIKey = "from-file"
	err := ApplyEnv(cfg, func(k string) string {
		if k == "OPENAI_API_KEY" {
			return "from-env"
		}
		return ""
	})
	if err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Providers.Respond.APIKey != "from-file" {
		t.Errorf("config file must win over environment, got %q", cfg.Providers.Respond.APIKey)
	}
}

func TestApplyEnvRealtimeUsesOpenAIKey(t *testing.T) {
	cfg := Default()
	cfg.Providers.Transcribe.Name = "openai-realtime"
	err := ApplyEnv(cfg, func(k string) string {
		if k == "OPENAI_API_KEY" {
			return "oa-key"
		}
		return ""
	})
	if err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Providers.Transcribe.APIKey != "oa-key" {
		t.Errorf("realtime transcriber must take the openai key, got %q", cfg.Providers.Transcribe.APIKey)
	}
}

func TestApplyEnvBadPort(t *testing.T) {
	cfg := Default()
	err := ApplyEnv(cfg, func(k string) string {
		if k == "PORT" {
			return "not-a-port"
		}
		return ""
	})
	if err == nil {
		t.Fatal("non-numeric PORT must error")
	}
}

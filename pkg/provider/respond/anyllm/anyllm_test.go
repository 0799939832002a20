package anyllm

import (
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/vocalis-ai/vocalis/pkg/provider/respond"
)

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "gpt-4o-mini"); err == nil {
		t.Error("want error for empty providerName")
	}
	if _, err := New("openai", ""); err == nil {
		t.Error("want error for empty model")
	}
	if _, err := New("not-a-provider", "m", anyllmlib.WithAPIKey("k")); err == nil {
		t.Error("want error for unknown provider")
	}
}

func TestBuildParams(t *testing.T) {
	params := buildParams("gpt-4o-mini", respond.Request{
		System: "preamble",
		Messages: []respond.Message{
			{Role: "user", Content: "hello"},
			{Role: "assistant", Content: "hi"},
		},
		MaxTokens: 200,
	})

	if params.Model != "gpt-4o-mini" {
		t.Errorf("model: want gpt-4o-mini, got %q", params.Model)
	}
	if len(params.Messages) != 3 {
		t.Fatalf("want 3 messages, got %d", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Errorf("first message role: want system, got %q", params.Messages[0].Role)
	}
	if params.Messages[1].Role != "user" || params.Messages[2].Role != "assistant" {
		t.Error("history roles must be preserved in order")
	}
	if params.MaxTokens == nil || *params.MaxTokens != 200 {
		t.Error("max tokens must be set to 200")
	}
}

func TestBuildParams_ZeroMaxTokensOmitted(t *testing.T) {
	params := buildParams("m", respond.Request{
		Messages: []respond.Message{{Role: "user", Content: "x"}},
	})
	if params.MaxTokens != nil {
		t.Error("max tokens must be nil when unset")
	}
}

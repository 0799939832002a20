package deepgram

import (
	"errors"
	"net/url"
	"testing"

	"github.com/vocalis-ai/vocalis/pkg/provider/transcribe"
)

func assertEqual(t *testing.T, name, want, got string) {
	t.Helper()
	if want != got {
		t.Errorf("%s: want %q, got %q", name, want, got)
	}
}

// ---- URL / query-param tests ----

func TestBuildURL_Defaults(t *testing.T) {
	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(transcribe.Config{
		Language:   "en-US",
		SampleRate: 16000,
		Channels:   1,
	})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "language", "en-US", q.Get("language"))
	assertEqual(t, "punctuate", "true", q.Get("punctuate"))
	assertEqual(t, "interim_results", "true", q.Get("interim_results"))
	assertEqual(t, "encoding", "linear16", q.Get("encoding"))
	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
	assertEqual(t, "channels", "1", q.Get("channels"))
}

func TestBuildURL_FallsBackToDefaults(t *testing.T) {
	p, err := New("key", WithModel("base"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(transcribe.Config{})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	q := u.Query()

	assertEqual(t, "model", "base", q.Get("model"))
	assertEqual(t, "language", "en-US", q.Get("language"))
	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
	if q.Has("channels") {
		t.Errorf("channels must be omitted when unset, got %q", q.Get("channels"))
	}
}

func TestNew_EmptyKeyIsUnavailable(t *testing.T) {
	_, err := New("")
	if !errors.Is(err, transcribe.ErrUnavailable) {
		t.Fatalf("want ErrUnavailable, got %v", err)
	}
}

// ---- response parsing ----

func TestParseResponse(t *testing.T) {
	t.Run("final result", func(t *testing.T) {
		msg := []byte(`{
			"type": "Results",
			"is_final": true,
			"channel": {"alternatives": [{"transcript": "hello world", "confidence": 0.97}]}
		}`)
		frag, ok := parseResponse(msg)
		if !ok {
			t.Fatal("want ok")
		}
		if frag.Text != "hello world" {
			t.Errorf("text: want %q, got %q", "hello world", frag.Text)
		}
		if frag.IsPartial {
			t.Error("is_final result must not be partial")
		}
		if frag.Confidence != 0.97 {
			t.Errorf("confidence: want 0.97, got %v", frag.Confidence)
		}
	})

	t.Run("interim result", func(t *testing.T) {
		msg := []byte(`{
			"type": "Results",
			"is_final": false,
			"channel": {"alternatives": [{"transcript": "hel", "confidence": 0.4}]}
		}`)
		frag, ok := parseResponse(msg)
		if !ok {
			t.Fatal("want ok")
		}
		if !frag.IsPartial {
			t.Error("interim result must be partial")
		}
	})

	t.Run("zero-confidence final is still delivered", func(t *testing.T) {
		msg := []byte(`{
			"type": "Results",
			"is_final": true,
			"channel": {"alternatives": [{"transcript": "ok", "confidence": 0}]}
		}`)
		frag, ok := parseResponse(msg)
		if !ok {
			t.Fatal("zero-confidence results must not be filtered by the adapter")
		}
		if frag.Confidence != 0 {
			t.Errorf("confidence: want 0, got %v", frag.Confidence)
		}
	})

	t.Run("non-results message is ignored", func(t *testing.T) {
		if _, ok := parseResponse([]byte(`{"type":"Metadata"}`)); ok {
			t.Error("metadata message must be ignored")
		}
	})

	t.Run("empty alternatives are ignored", func(t *testing.T) {
		if _, ok := parseResponse([]byte(`{"type":"Results","channel":{"alternatives":[]}}`)); ok {
			t.Error("empty alternatives must be ignored")
		}
	})

	t.Run("malformed JSON is ignored", func(t *testing.T) {
		if _, ok := parseResponse([]byte(`{not json`)); ok {
			t.Error("malformed JSON must be ignored")
		}
	})
}

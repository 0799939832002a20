package openairt

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/vocalis-ai/vocalis/pkg/provider/transcribe"
)

// newRealtimeServer starts a fake realtime endpoint whose connection is
// handed to handler. The handler runs until the client disconnects.
func newRealtimeServer(t *testing.T, handler func(ctx context.Context, conn *websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		handler(r.Context(), conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func openTestStream(t *testing.T, endpoint string) transcribe.Stream {
	t.Helper()
	p, err := New("key", WithEndpoint(endpoint))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stream, err := p.Open(context.Background(), transcribe.Config{Language: "en-US"}, transcribe.Events{
		OnFragment: func(transcribe.Fragment) {},
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return stream
}

func TestClose_ReturnsAgainstSilentServer(t *testing.T) {
	// The realtime API never sends anything unprompted, so Close must not
	// depend on the server speaking first.
	serverDone := make(chan struct{})
	endpoint := newRealtimeServer(t, func(ctx context.Context, conn *websocket.Conn) {
		defer close(serverDone)
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	})

	stream := openTestStream(t, endpoint)

	closed := make(chan struct{})
	go func() {
		_ = stream.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(3 * time.Second):
		t.Fatal("Close did not return within 3s: reader still blocked on the connection")
	}

	select {
	case <-serverDone:
	case <-time.After(3 * time.Second):
		t.Fatal("server never observed the connection closing")
	}
}

func TestClose_DeliversQueuedAudio(t *testing.T) {
	const chunks = 5

	appends := make(chan struct{}, chunks)
	endpoint := newRealtimeServer(t, func(ctx context.Context, conn *websocket.Conn) {
		for {
			_, msg, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var evt struct {
				Type string `json:"type"`
			}
			if json.Unmarshal(msg, &evt) == nil && evt.Type == "input_audio_buffer.append" {
				appends <- struct{}{}
			}
		}
	})

	stream := openTestStream(t, endpoint)
	for i := 0; i < chunks; i++ {
		if err := stream.Send([]byte{byte(i), 0x01}); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	for i := 0; i < chunks; i++ {
		select {
		case <-appends:
		case <-time.After(2 * time.Second):
			t.Fatalf("append %d never arrived: queued audio dropped on close", i)
		}
	}
}

func TestNew_EmptyKeyIsUnavailable(t *testing.T) {
	_, err := New("")
	if !errors.Is(err, transcribe.ErrUnavailable) {
		t.Fatalf("want ErrUnavailable, got %v", err)
	}
}

func TestShortLanguage(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"en-US", "en"},
		{"de-DE", "de"},
		{"en", "en"},
		{"", ""},
	}
	for _, c := range cases {
		if got := shortLanguage(c.in); got != c.want {
			t.Errorf("shortLanguage(%q): want %q, got %q", c.in, c.want, got)
		}
	}
}

func TestParseEvent(t *testing.T) {
	t.Run("delta becomes partial", func(t *testing.T) {
		frag, failure, ok := parseEvent([]byte(`{"type":"conversation.item.input_audio_transcription.delta","delta":"hel"}`))
		if failure != nil {
			t.Fatalf("unexpected failure: %v", failure)
		}
		if !ok {
			t.Fatal("want ok")
		}
		if !frag.IsPartial || frag.Text != "hel" {
			t.Fatalf("want partial %q, got %+v", "hel", frag)
		}
	})

	t.Run("completed becomes final", func(t *testing.T) {
		frag, failure, ok := parseEvent([]byte(`{"type":"conversation.item.input_audio_transcription.completed","transcript":"hello world"}`))
		if failure != nil {
			t.Fatalf("unexpected failure: %v", failure)
		}
		if !ok {
			t.Fatal("want ok")
		}
		if frag.IsPartial || frag.Text != "hello world" {
			t.Fatalf("want final %q, got %+v", "hello world", frag)
		}
		if frag.Confidence != 0 {
			t.Fatalf("realtime API reports no confidence; want 0, got %v", frag.Confidence)
		}
	})

	t.Run("empty delta is ignored", func(t *testing.T) {
		_, failure, ok := parseEvent([]byte(`{"type":"conversation.item.input_audio_transcription.delta","delta":""}`))
		if failure != nil || ok {
			t.Fatal("empty delta must be ignored")
		}
	})

	t.Run("error event surfaces a failure", func(t *testing.T) {
		_, failure, ok := parseEvent([]byte(`{"type":"error","error":{"message":"rate limited"}}`))
		if ok {
			t.Fatal("error event must not produce a fragment")
		}
		if failure == nil {
			t.Fatal("want failure")
		}
	})

	t.Run("unrelated events are ignored", func(t *testing.T) {
		_, failure, ok := parseEvent([]byte(`{"type":"session.updated"}`))
		if failure != nil || ok {
			t.Fatal("unrelated event must be ignored")
		}
	})
}

package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/jo-hoe/fixsmith/internal/config"
	"github.com/jo-hoe/fixsmith/internal/notify"
)

func newTestClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	ts := httptest.NewServer(handler)
	c := New(config.SlackConfig{BotToken: "xoxb-test", APIBaseURL: ts.URL})
	return c, ts
}

func TestPost_ReturnsMessageRef(t *testing.T) {
	var seenAuth string
	var seenPayload map[string]any
	c, ts := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		seenAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/chat.postMessage" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&seenPayload)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":      true,
			"channel": "C123",
			"ts":      "1724.42",
		})
	})
	defer ts.Close()

	ref, err := c.Post(context.Background(), "C123", "1724.01", "hello *there*")
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if ref.Channel != "C123" || ref.Timestamp != "1724.42" {
		t.Fatalf("ref = %+v", ref)
	}
	if seenAuth != "Bearer xoxb-test" {
		t.Fatalf("auth header = %q", seenAuth)
	}
	if seenPayload["thread_ts"] != "1724.01" {
		t.Fatalf("thread_ts not sent: %v", seenPayload)
	}
}

func TestPost_WithoutThreadOmitsThreadTS(t *testing.T) {
	var seenPayload map[string]any
	c, ts := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&seenPayload)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "channel": "C1", "ts": "1.0"})
	})
	defer ts.Close()

	if _, err := c.Post(context.Background(), "C1", "", "text"); err != nil {
		t.Fatalf("post: %v", err)
	}
	if _, present := seenPayload["thread_ts"]; present {
		t.Fatalf("thread_ts should be omitted: %v", seenPayload)
	}
}

func TestUpdate_APIError(t *testing.T) {
	c, ts := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "message_not_found"})
	})
	defer ts.Close()

	err := c.Update(context.Background(), notify.MessageRef{Channel: "C1", Timestamp: "1.0"}, "text")
	if err == nil || !strings.Contains(err.Error(), "message_not_found") {
		t.Fatalf("expected message_not_found error, got %v", err)
	}
}

func TestReact_AlreadyReactedIsTolerated(t *testing.T) {
	c, ts := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "already_reacted"})
	})
	defer ts.Close()

	if err := c.React(context.Background(), "C1", "1.0", "eyes"); err != nil {
		t.Fatalf("already_reacted should not be an error, got %v", err)
	}
}

func TestReact_OtherErrorsSurface(t *testing.T) {
	c, ts := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "invalid_name"})
	})
	defer ts.Close()

	if err := c.React(context.Background(), "C1", "1.0", "nope"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestCall_HTTPStatusError(t *testing.T) {
	c, ts := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broken", http.StatusBadGateway)
	})
	defer ts.Close()

	if _, err := c.Post(context.Background(), "C1", "", "text"); err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestTruncateKeepsRunesIntact(t *testing.T) {
	got := truncate(strings.Repeat("ü", 10), 5)
	if !utf8.ValidString(got) {
		t.Fatalf("truncated string is not valid UTF-8: %q", got)
	}
	if got != "üü..." {
		t.Fatalf("got %q", got)
	}
}

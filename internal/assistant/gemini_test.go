package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"nexus-backend/internal/logging"
)

func newTestGemini(t *testing.T, handler http.HandlerFunc) *Gemini {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	g, err := NewGemini("test-key", "models/gemini-test", logging.Discard())
	if err != nil {
		t.Fatalf("NewGemini() error = %v", err)
	}
	g.baseURL = srv.URL
	return g
}

func TestGeminiReply_SendsHistoryAndPrompt(t *testing.T) {
	var got generateRequest
	var path string
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		if r.Header.Get("x-goog-api-key") != "test-key" || r.URL.RawQuery != "" {
			http.Error(w, "missing key", http.StatusUnauthorized)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":" Hi there! 👋 "}]}}]}`))
	})

	reply := g.Reply(context.Background(), "how are you?", []Turn{
		{Speaker: SpeakerOther, Text: "hello"},
		{Speaker: SpeakerSelf, Text: "hey!"},
	})
	if reply != "Hi there! 👋" {
		t.Fatalf("Reply() = %q, want %q", reply, "Hi there! 👋")
	}
	if path != "/models/gemini-test:generateContent" {
		t.Fatalf("path = %q", path)
	}
	if len(got.Contents) != 3 {
		t.Fatalf("contents = %d, want 3", len(got.Contents))
	}
	roles := []string{got.Contents[0].Role, got.Contents[1].Role, got.Contents[2].Role}
	if strings.Join(roles, ",") != "user,model,user" {
		t.Fatalf("roles = %v, want [user model user]", roles)
	}
	if got.Contents[2].Parts[0].Text != "how are you?" {
		t.Fatalf("last content = %q, want prompt", got.Contents[2].Parts[0].Text)
	}
	if got.SystemInstruction == nil || !strings.Contains(got.SystemInstruction.Parts[0].Text, "Alex") {
		t.Fatalf("expected system instruction naming Alex")
	}
}

func TestGeminiReply_FallsBackOnError(t *testing.T) {
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"quota exceeded"}}`))
	})

	if reply := g.Reply(context.Background(), "hi", nil); reply != FallbackReply {
		t.Fatalf("Reply() = %q, want fallback", reply)
	}
}

func TestGeminiReply_FallsBackOnEmptyCandidates(t *testing.T) {
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	})

	if reply := g.Reply(context.Background(), "hi", nil); reply != FallbackReply {
		t.Fatalf("Reply() = %q, want fallback", reply)
	}
}

func TestGeminiReply_TransportErrorDoesNotLogKey(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	baseURL := srv.URL
	srv.Close()

	var buf bytes.Buffer
	logger, err := logging.NewWithWriter(&buf, "debug")
	if err != nil {
		t.Fatalf("NewWithWriter() error = %v", err)
	}
	g, err := NewGemini("SECRET-KEY-123", "", logger)
	if err != nil {
		t.Fatalf("NewGemini() error = %v", err)
	}
	g.baseURL = baseURL

	if reply := g.Reply(context.Background(), "hi", nil); reply != FallbackReply {
		t.Fatalf("Reply() = %q, want fallback", reply)
	}
	if !strings.Contains(buf.String(), "gemini reply failed") {
		t.Fatalf("expected failure to be logged, got %q", buf.String())
	}
	if strings.Contains(buf.String(), "SECRET-KEY-123") {
		t.Fatalf("api key leaked into logs: %s", buf.String())
	}
}

func TestNewGemini_RequiresKey(t *testing.T) {
	if _, err := NewGemini("  ", "", logging.Discard()); err == nil {
		t.Fatalf("expected error for empty api key")
	}
}

func TestStatic_Reply(t *testing.T) {
	if got := (Static{}).Reply(context.Background(), "x", nil); got != FallbackReply {
		t.Fatalf("Static{}.Reply() = %q, want fallback", got)
	}
	if got := (Static{Text: "ok"}).Reply(context.Background(), "x", nil); got != "ok" {
		t.Fatalf("Static.Reply() = %q, want ok", got)
	}
}

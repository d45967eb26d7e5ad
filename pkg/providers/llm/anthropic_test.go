package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/asp-voice/bridge/pkg/pipeline"
)

func TestAnthropicLLMSummarize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":    "msg_1",
			"type":  "message",
			"role":  "assistant",
			"model": "claude-3-5-sonnet",
			"content": []map[string]string{
				{"type": "text", "text": "a short summary"},
			},
		})
	}))
	defer server.Close()

	l := NewAnthropicLLMWithBaseURL("test-key", "claude-3-5-sonnet", server.URL)

	summary, err := l.Summarize(context.Background(), []pipeline.Message{
		{Role: "user", Content: "hi"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary != "a short summary" {
		t.Errorf("expected 'a short summary', got %q", summary)
	}
	if l.Name() != "anthropic-llm" {
		t.Errorf("expected anthropic-llm, got %s", l.Name())
	}
}

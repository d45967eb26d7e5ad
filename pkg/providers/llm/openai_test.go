package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/asp-voice/bridge/pkg/pipeline"
)

func TestOpenAILLMSummarize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"model":   "gpt-4o",
			"choices": []map[string]any{{"index": 0, "message": map[string]string{"role": "assistant", "content": "hello from openai"}}},
		})
	}))
	defer server.Close()

	l := NewOpenAILLMWithBaseURL("test-key", "gpt-4o", server.URL)

	summary, err := l.Summarize(context.Background(), []pipeline.Message{
		{Role: "user", Content: "hi"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary != "hello from openai" {
		t.Errorf("expected 'hello from openai', got %q", summary)
	}
	if l.Name() != "openai-llm" {
		t.Errorf("expected openai-llm, got %s", l.Name())
	}
}

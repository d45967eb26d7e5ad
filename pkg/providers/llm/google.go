package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/asp-voice/bridge/pkg/pipeline"
)

// GoogleLLM is a batch (non-streaming) LanguageModel backed by Gemini's
// generateContent REST endpoint, kept hand-rolled: the pack carries no
// official Gemini Go SDK, and Gemini's own streaming endpoint returns a
// JSON array rather than SSE, which doesn't fit the one-event-per-line
// SSE scanner GroqLLM uses. Generate therefore
// makes one blocking call and emits the whole reply as a single GenText.
type GoogleLLM struct {
	apiKey string
	url    string
	model  string
}

func NewGoogleLLM(apiKey string, model string) *GoogleLLM {
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &GoogleLLM{
		apiKey: apiKey,
		url:    "https://generativelanguage.googleapis.com/v1beta/models/" + model + ":generateContent",
		model:  model,
	}
}

func (l *GoogleLLM) complete(ctx context.Context, messages []pipeline.Message) (string, error) {
	type GoogleMessage struct {
		Role  string `json:"role"`
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	}

	var googleMessages []GoogleMessage
	for _, m := range messages {
		role := m.Role
		if role == "system" {
			role = "user" // Gemini doesn't always handle system role in the same way in all models
		}
		if role == "assistant" {
			role = "model"
		}
		msg := GoogleMessage{Role: role}
		msg.Parts = append(msg.Parts, struct {
			Text string `json:"text"`
		}{Text: m.Content})
		googleMessages = append(googleMessages, msg)
	}

	payload := map[string]interface{}{
		"contents": googleMessages,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", l.url+"?key="+l.apiKey, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return "", fmt.Errorf("google llm error (status %d): %v", resp.StatusCode, errResp)
	}

	var result struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no response from google llm")
	}

	return result.Candidates[0].Content.Parts[0].Text, nil
}

func (l *GoogleLLM) Name() string {
	return "google-llm"
}

// Generate implements pipeline.LanguageModel by making one blocking call
// and delivering the whole reply as a single GenText event.
func (l *GoogleLLM) Generate(ctx context.Context, messages []pipeline.Message, tools []pipeline.ToolSpec, onEvent func(pipeline.GenEvent) error) error {
	text, err := l.complete(ctx, messages)
	if err != nil {
		return err
	}
	if text != "" {
		if err := onEvent(pipeline.GenEvent{Kind: pipeline.GenText, Text: text}); err != nil {
			return err
		}
	}
	return onEvent(pipeline.GenEvent{Kind: pipeline.GenEnd})
}

// Summarize asks Gemini for a compressed summary of messages.
func (l *GoogleLLM) Summarize(ctx context.Context, messages []pipeline.Message) (string, error) {
	prompt := append([]pipeline.Message{{Role: "system", Content: "Summarize the following conversation turns concisely, preserving names and commitments made."}}, messages...)
	return l.complete(ctx, prompt)
}

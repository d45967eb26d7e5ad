package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/asp-voice/bridge/pkg/pipeline"
)

// GroqLLM is a streaming LanguageModel backed by Groq's OpenAI-compatible
// chat completions endpoint. Hand-rolled HTTP + server-sent events: Groq
// has no official Go SDK in the stack this was grounded on.
type GroqLLM struct {
	apiKey string
	url    string
	model  string
}

func NewGroqLLM(apiKey string, model string) *GroqLLM {
	if model == "" {
		model = "llama3-70b-8192"
	}
	return &GroqLLM{
		apiKey: apiKey,
		url:    "https://api.groq.com/openai/v1/chat/completions",
		model:  model,
	}
}

func (l *GroqLLM) Name() string {
	return "groq-llm"
}

type groqChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func toGroqMessages(messages []pipeline.Message) []groqChatMessage {
	out := make([]groqChatMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, groqChatMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

type groqStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Generate implements pipeline.LanguageModel, parsing Groq's SSE stream
// and emitting one GenText per delta chunk until [DONE] or ctx is done.
func (l *GroqLLM) Generate(ctx context.Context, messages []pipeline.Message, tools []pipeline.ToolSpec, onEvent func(pipeline.GenEvent) error) error {
	payload := map[string]any{
		"model":    l.model,
		"messages": toGroqMessages(messages),
		"stream":   true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", l.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+l.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp any
		json.NewDecoder(resp.Body).Decode(&errResp)
		return fmt.Errorf("groq llm error (status %d): %v", resp.StatusCode, errResp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}
		var chunk groqStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		for _, c := range chunk.Choices {
			if c.Delta.Content != "" {
				if err := onEvent(pipeline.GenEvent{Kind: pipeline.GenText, Text: c.Delta.Content}); err != nil {
					return err
				}
			}
		}
	}
	return onEvent(pipeline.GenEvent{Kind: pipeline.GenEnd})
}

// Summarize issues one non-streaming completion asking for a compressed
// summary of messages, used by pipeline.Conversation.MaybeSummarize.
func (l *GroqLLM) Summarize(ctx context.Context, messages []pipeline.Message) (string, error) {
	prompt := append([]pipeline.Message{{Role: "system", Content: "Summarize the following conversation turns concisely, preserving names and commitments made."}}, messages...)

	payload := map[string]any{
		"model":    l.model,
		"messages": toGroqMessages(prompt),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", l.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+l.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp any
		json.NewDecoder(resp.Body).Decode(&errResp)
		return "", fmt.Errorf("groq llm error (status %d): %v", resp.StatusCode, errResp)
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("no choices returned from groq")
	}
	return result.Choices[0].Message.Content, nil
}

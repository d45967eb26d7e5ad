package llm

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/asp-voice/bridge/pkg/pipeline"
)

// AnthropicLLM is a streaming LanguageModel backed by the official
// anthropic-sdk-go client.
type AnthropicLLM struct {
	client anthropic.Client
	model  anthropic.Model
}

func NewAnthropicLLM(apiKey string, model string) *AnthropicLLM {
	if model == "" {
		model = string(anthropic.ModelClaude3_5SonnetLatest)
	}
	return &AnthropicLLM{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}
}

// NewAnthropicLLMWithBaseURL points the SDK client at an alternate
// endpoint, used by tests and Anthropic-compatible gateways.
func NewAnthropicLLMWithBaseURL(apiKey, model, baseURL string) *AnthropicLLM {
	if model == "" {
		model = string(anthropic.ModelClaude3_5SonnetLatest)
	}
	return &AnthropicLLM{
		client: anthropic.NewClient(option.WithAPIKey(apiKey), option.WithBaseURL(baseURL)),
		model:  anthropic.Model(model),
	}
}

func (l *AnthropicLLM) Name() string {
	return "anthropic-llm"
}

func splitSystem(messages []pipeline.Message) (string, []anthropic.MessageParam) {
	var system string
	var out []anthropic.MessageParam
	for _, m := range messages {
		if m.Role == "system" {
			if system != "" {
				system += "\n"
			}
			system += m.Content
			continue
		}
		if m.Role == "assistant" {
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		} else {
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return system, out
}

// Generate implements pipeline.LanguageModel, consuming the SDK's SSE
// stream and emitting one GenText per text delta.
func (l *AnthropicLLM) Generate(ctx context.Context, messages []pipeline.Message, tools []pipeline.ToolSpec, onEvent func(pipeline.GenEvent) error) error {
	system, msgs := splitSystem(messages)

	params := anthropic.MessageNewParams{
		Model:     l.model,
		MaxTokens: 1024,
		Messages:  msgs,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	stream := l.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	for stream.Next() {
		event := stream.Current()
		switch delta := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta.Delta.Text != "" {
				if err := onEvent(pipeline.GenEvent{Kind: pipeline.GenText, Text: delta.Delta.Text}); err != nil {
					return err
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("anthropic llm: %w", err)
	}
	return onEvent(pipeline.GenEvent{Kind: pipeline.GenEnd})
}

// Summarize issues one non-streaming call asking for a compressed summary.
func (l *AnthropicLLM) Summarize(ctx context.Context, messages []pipeline.Message) (string, error) {
	system, msgs := splitSystem(messages)
	if system != "" {
		system += "\n"
	}
	system += "Summarize the above conversation turns concisely, preserving names and commitments made."

	resp, err := l.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     l.model,
		MaxTokens: 512,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages:  msgs,
	})
	if err != nil {
		return "", fmt.Errorf("anthropic llm: %w", err)
	}
	for _, block := range resp.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			return text.Text, nil
		}
	}
	return "", fmt.Errorf("anthropic llm: no text content in summary response")
}

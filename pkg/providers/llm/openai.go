package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/asp-voice/bridge/pkg/pipeline"
)

// OpenAILLM is a streaming LanguageModel backed by the official
// openai-go chat completions client.
type OpenAILLM struct {
	client openai.Client
	model  string
}

func NewOpenAILLM(apiKey string, model string) *OpenAILLM {
	if model == "" {
		model = "gpt-4o"
	}
	return &OpenAILLM{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// NewOpenAILLMWithBaseURL points the SDK client at an alternate endpoint,
// used by tests and OpenAI-compatible gateways.
func NewOpenAILLMWithBaseURL(apiKey, model, baseURL string) *OpenAILLM {
	if model == "" {
		model = "gpt-4o"
	}
	return &OpenAILLM{
		client: openai.NewClient(option.WithAPIKey(apiKey), option.WithBaseURL(baseURL)),
		model:  model,
	}
}

func (l *OpenAILLM) Name() string {
	return "openai-llm"
}

func toOpenAIMessages(messages []pipeline.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// Generate implements pipeline.LanguageModel via the SDK's streaming
// chat completion, emitting one GenText per content delta chunk.
func (l *OpenAILLM) Generate(ctx context.Context, messages []pipeline.Message, tools []pipeline.ToolSpec, onEvent func(pipeline.GenEvent) error) error {
	stream := l.client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Model:    l.model,
		Messages: toOpenAIMessages(messages),
	})
	defer stream.Close()

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if text := chunk.Choices[0].Delta.Content; text != "" {
			if err := onEvent(pipeline.GenEvent{Kind: pipeline.GenText, Text: text}); err != nil {
				return err
			}
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("openai llm: %w", err)
	}
	return onEvent(pipeline.GenEvent{Kind: pipeline.GenEnd})
}

// Summarize issues one non-streaming completion asking for a compressed
// summary of messages.
func (l *OpenAILLM) Summarize(ctx context.Context, messages []pipeline.Message) (string, error) {
	prompt := append([]pipeline.Message{{Role: "system", Content: "Summarize the following conversation turns concisely, preserving names and commitments made."}}, messages...)

	resp, err := l.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    l.model,
		Messages: toOpenAIMessages(prompt),
	})
	if err != nil {
		return "", fmt.Errorf("openai llm: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned from openai")
	}
	return resp.Choices[0].Message.Content, nil
}

package stt

import (
	"bytes"
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/asp-voice/bridge/pkg/audio"
)

// OpenAISTT is a batch SpeechToText backed by the official openai-go SDK,
// offered alongside the hand-rolled Groq adapter so the official client
// gets exercised too.
type OpenAISTT struct {
	client openai.Client
	model  string
}

func NewOpenAISTT(apiKey, model string) *OpenAISTT {
	if model == "" {
		model = "whisper-1"
	}
	return &OpenAISTT{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// NewOpenAISTTWithBaseURL points the SDK client at an alternate endpoint,
// used by tests and by OpenAI-compatible self-hosted deployments.
func NewOpenAISTTWithBaseURL(apiKey, model, baseURL string) *OpenAISTT {
	if model == "" {
		model = "whisper-1"
	}
	return &OpenAISTT{
		client: openai.NewClient(option.WithAPIKey(apiKey), option.WithBaseURL(baseURL)),
		model:  model,
	}
}

func (s *OpenAISTT) Name() string {
	return "openai-stt"
}

// Transcribe implements pipeline.SpeechToText.
func (s *OpenAISTT) Transcribe(ctx context.Context, pcm []byte, sampleRate int, lang string) (string, error) {
	wav := audio.NewWavBuffer(pcm, sampleRate)

	params := openai.AudioTranscriptionNewParams{
		Model: openai.AudioModel(s.model),
		File:  openai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
	}
	if lang != "" {
		params.Language = openai.String(lang)
	}

	resp, err := s.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai stt: %w", err)
	}
	return resp.Text, nil
}

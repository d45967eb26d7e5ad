package pipeline

import "context"

// Message is one role-tagged turn in the rolling conversation context
// (§4.6), mirroring the shape every provider's chat-completions wire
// format already expects.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// ToolSpec describes a tool the LLM may call, passed through to the
// provider's native tool-calling format.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON-schema-shaped
}

// ToolCall is one invocation the LLM requested.
type ToolCall struct {
	Name string
	Args map[string]any
}

// SpeechToText is C7's STT capability (§4.7). Transcribe is batch: it
// takes the already-framed PCM16 mono utterance and blocks until a final
// transcript is available or ctx is done. Streaming providers (partial
// results as audio arrives) implement StreamingSpeechToText in addition.
type SpeechToText interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int, language string) (string, error)
	Name() string
}

// TranscriptEvent is one partial or final result from a streaming STT
// provider.
type TranscriptEvent struct {
	Text  string
	Final bool
}

// StreamingSpeechToText providers emit partials as audio is pushed in,
// terminating with exactly one Final event (§4.7).
type StreamingSpeechToText interface {
	SpeechToText
	StreamTranscribe(ctx context.Context, sampleRate int, language string, audio <-chan []byte) (<-chan TranscriptEvent, error)
}

// GenEventKind enumerates the LLM token-stream event types (§4.7).
type GenEventKind int

const (
	GenText GenEventKind = iota
	GenToolCall
	GenEnd
)

// GenEvent is one event of the LLM's streamed response.
type GenEvent struct {
	Kind GenEventKind
	Text string   // set for GenText
	Call ToolCall // set for GenToolCall
}

// LanguageModel is C7's LLM capability. Generate streams text/tool-call
// events via onEvent until the provider emits GenEnd or ctx is cancelled;
// cancelling ctx MUST close the provider call promptly. Summarize is a
// synchronous helper used for context compression (§4.6).
type LanguageModel interface {
	Generate(ctx context.Context, messages []Message, tools []ToolSpec, onEvent func(GenEvent) error) error
	Summarize(ctx context.Context, messages []Message) (string, error)
	Name() string
}

// TextToSpeech is C7's TTS capability. StreamSynthesize emits 20ms PCM
// frames at sampleRate via onFrame as they're produced, returning once
// the chunk is exhausted, ctx is cancelled, or onFrame errors. Abort is
// a provider-wide kill switch for in-flight synthesis, called on
// barge-in so cancellation doesn't wait on a blocked network read.
type TextToSpeech interface {
	StreamSynthesize(ctx context.Context, text string, voice string, sampleRate int, onFrame func([]byte) error) error
	Abort() error
	Name() string
}

// PreambleSource is an optional capability: pre-rendered filler audio a
// TTS provider can hand out without a network round trip (§4.7).
type PreambleSource interface {
	PreambleFrames(name string) [][]byte
}

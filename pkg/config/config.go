// Package config loads the bridge's configuration surface from a YAML
// file, environment variables, and built-in defaults, using Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ASP holds the listener-level knobs.
type ASP struct {
	ListenPort  int `mapstructure:"listen_port"`
	MaxSessions int `mapstructure:"max_sessions"`
}

// Audio holds the negotiable codec/framing parameters.
type Audio struct {
	Encoding   string `mapstructure:"encoding"`
	SampleRate int    `mapstructure:"sample_rate"`
	FrameMs    int    `mapstructure:"frame_ms"`
}

// VAD holds the voice-activity-detector tuning.
type VAD struct {
	SilenceHangoverMs int    `mapstructure:"silence_hangover_ms"`
	MinSpeechMs       int    `mapstructure:"min_speech_ms"`
	BargeInMinMs      int    `mapstructure:"barge_in_min_ms"`
	BargeInMinWords   int    `mapstructure:"barge_in_min_words"`
	Classifier        string `mapstructure:"classifier"` // "energy" or "neural"
}

// Pipeline holds the conversation-pipeline tuning.
type Pipeline struct {
	STTDeadlineMs          int    `mapstructure:"stt_deadline_ms"`
	CancelDeadlineMs       int    `mapstructure:"cancel_deadline_ms"`
	MaxChunkChars          int    `mapstructure:"max_chunk_chars"`
	HistoryMaxTurns        int    `mapstructure:"history_max_turns"`
	MaxConsecutiveFailures int    `mapstructure:"max_consecutive_failures"`
	FallbackUtterance      string `mapstructure:"fallback_utterance"`
	HandoffUtterance       string `mapstructure:"handoff_utterance"`
	FallbackDestination    string `mapstructure:"fallback_destination"`
	SystemPrompt           string `mapstructure:"system_prompt"`
}

// ProviderSelection is an identifier plus provider-specific opaque
// config, matching §6's "identifier + provider-specific opaque config".
type ProviderSelection struct {
	Name   string                 `mapstructure:"name"`
	Config map[string]interface{} `mapstructure:"config"`
}

// Providers holds the selected STT/LLM/TTS provider and its opaque
// per-provider settings (API keys, base URLs, model names).
type Providers struct {
	STT ProviderSelection `mapstructure:"stt"`
	LLM ProviderSelection `mapstructure:"llm"`
	TTS ProviderSelection `mapstructure:"tts"`
}

// Config is the fully-resolved, decoded configuration surface.
type Config struct {
	ASP       ASP       `mapstructure:"asp"`
	Audio     Audio     `mapstructure:"audio"`
	VAD       VAD       `mapstructure:"vad"`
	Pipeline  Pipeline  `mapstructure:"pipeline"`
	Providers Providers `mapstructure:"providers"`
}

// STTDeadline, CancelDeadline return the pipeline deadlines as
// time.Duration, since Viper/mapstructure decodes plain milliseconds.
func (c Config) STTDeadline() time.Duration {
	return time.Duration(c.Pipeline.STTDeadlineMs) * time.Millisecond
}

func (c Config) CancelDeadline() time.Duration {
	return time.Duration(c.Pipeline.CancelDeadlineMs) * time.Millisecond
}

// Load reads configuration from an optional YAML file (name "config",
// searched across configPaths plus the working directory), a ".env"
// file if present, and environment variables prefixed ASP_ (e.g.
// ASP_ASP_LISTEN_PORT, ASP_PROVIDERS_LLM_NAME), in that ascending
// priority order.
func Load(configPaths ...string) (Config, error) {
	_ = godotenv.Load() // optional; missing .env is not an error

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	for _, p := range configPaths {
		v.AddConfigPath(p)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("config: read config file: %w", err)
		}
	}

	v.SetEnvPrefix("ASP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("asp.listen_port", 8443)
	v.SetDefault("asp.max_sessions", 256)

	v.SetDefault("audio.encoding", "pcm_s16le")
	v.SetDefault("audio.sample_rate", 16000)
	v.SetDefault("audio.frame_ms", 20)

	v.SetDefault("vad.silence_hangover_ms", 600)
	v.SetDefault("vad.min_speech_ms", 120)
	v.SetDefault("vad.barge_in_min_ms", 80)
	v.SetDefault("vad.barge_in_min_words", 1)
	v.SetDefault("vad.classifier", "energy")

	v.SetDefault("pipeline.stt_deadline_ms", 1500)
	v.SetDefault("pipeline.cancel_deadline_ms", 50)
	v.SetDefault("pipeline.max_chunk_chars", 180)
	v.SetDefault("pipeline.history_max_turns", 20)
	v.SetDefault("pipeline.max_consecutive_failures", 3)
	v.SetDefault("pipeline.fallback_utterance", "One moment, there is a technical issue.")

	v.SetDefault("providers.stt.name", "groq")
	v.SetDefault("providers.llm.name", "openai")
	v.SetDefault("providers.tts.name", "streaming")
}

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(wd)
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ASP.ListenPort != 8443 {
		t.Errorf("ASP.ListenPort = %d, want 8443", cfg.ASP.ListenPort)
	}
	if cfg.Audio.Encoding != "pcm_s16le" {
		t.Errorf("Audio.Encoding = %q, want pcm_s16le", cfg.Audio.Encoding)
	}
	if cfg.VAD.Classifier != "energy" {
		t.Errorf("VAD.Classifier = %q, want energy", cfg.VAD.Classifier)
	}
	if cfg.Providers.LLM.Name != "openai" {
		t.Errorf("Providers.LLM.Name = %q, want openai", cfg.Providers.LLM.Name)
	}
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(wd)
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}

	yaml := `
asp:
  listen_port: 9443
  max_sessions: 10
audio:
  sample_rate: 8000
vad:
  classifier: neural
providers:
  llm:
    name: anthropic
    config:
      model: claude-3-haiku
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ASP.ListenPort != 9443 {
		t.Errorf("ASP.ListenPort = %d, want 9443", cfg.ASP.ListenPort)
	}
	if cfg.ASP.MaxSessions != 10 {
		t.Errorf("ASP.MaxSessions = %d, want 10", cfg.ASP.MaxSessions)
	}
	if cfg.Audio.SampleRate != 8000 {
		t.Errorf("Audio.SampleRate = %d, want 8000", cfg.Audio.SampleRate)
	}
	if cfg.VAD.Classifier != "neural" {
		t.Errorf("VAD.Classifier = %q, want neural", cfg.VAD.Classifier)
	}
	if cfg.Providers.LLM.Name != "anthropic" {
		t.Errorf("Providers.LLM.Name = %q, want anthropic", cfg.Providers.LLM.Name)
	}
	if cfg.Providers.LLM.Config["model"] != "claude-3-haiku" {
		t.Errorf("Providers.LLM.Config[model] = %v, want claude-3-haiku", cfg.Providers.LLM.Config["model"])
	}
	// Untouched default survives alongside file overrides.
	if cfg.Audio.Encoding != "pcm_s16le" {
		t.Errorf("Audio.Encoding = %q, want pcm_s16le (default)", cfg.Audio.Encoding)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(wd)
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}

	t.Setenv("ASP_ASP_LISTEN_PORT", "7000")
	t.Setenv("ASP_PROVIDERS_STT_NAME", "deepgram")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ASP.ListenPort != 7000 {
		t.Errorf("ASP.ListenPort = %d, want 7000 (env override)", cfg.ASP.ListenPort)
	}
	if cfg.Providers.STT.Name != "deepgram" {
		t.Errorf("Providers.STT.Name = %q, want deepgram (env override)", cfg.Providers.STT.Name)
	}
}

func TestDeadlineHelpers(t *testing.T) {
	cfg := Config{Pipeline: Pipeline{STTDeadlineMs: 1500, CancelDeadlineMs: 50}}
	if got := cfg.STTDeadline(); got.Milliseconds() != 1500 {
		t.Errorf("STTDeadline = %v, want 1500ms", got)
	}
	if got := cfg.CancelDeadline(); got.Milliseconds() != 50 {
		t.Errorf("CancelDeadline = %v, want 50ms", got)
	}
}

package config_test

import (
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/cue"
	"github.com/MrWong99/parley/pkg/provider/llm"
	llmmock "github.com/MrWong99/parley/pkg/provider/llm/mock"
	"github.com/MrWong99/parley/pkg/provider/tts"
	ttsmock "github.com/MrWong99/parley/pkg/provider/tts/mock"
)

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
  shutdown_timeout: 5s

providers:
  llm:
    name: openai
    api_key: sk-test
    model: gpt-4o-mini
  llm_fallbacks:
    - name: ollama
      base_url: http://localhost:11434
      model: llama3.2
  embeddings:
    name: openai
    api_key: sk-test
    model: text-embedding-3-small
  tts:
    name: chatterbox
    base_url: http://localhost:8004
    options:
      timeout: 20s

scorer:
  url: http://localhost:7000/score
  timeout: 150ms
  max_failures: 3
  reset_timeout: 30s

memory:
  postgres_dsn: postgres://localhost/parley
  embedding_dimensions: 768

pipeline:
  memory_top_k: 5
  memory_min_score: 0.25
  history_window: 6
  temperature: 0.7
  max_tokens: 256

reward:
  journal_path: /var/lib/parley/rewards.jsonl

npcs:
  - id: bram
    name: Bram the Smith
    mood: grumpy
    relationship: neutral
    state:
      trust: "0.2"
    voice:
      voice_reference: voices/bram.wav
      emotion: anger
      intensity: 0.6
      pace: 1.1
    cues:
      greet:
        - text: "What now?"
          duration_ms: 350
`

func TestLoadFromReader_Sample(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want %q", cfg.Server.ListenAddr, ":9090")
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("LogLevel = %q, want debug", cfg.Server.LogLevel)
	}
	if cfg.Server.ShutdownTimeout != 5*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 5s", cfg.Server.ShutdownTimeout)
	}
	if got := len(cfg.Providers.LLMFallbacks); got != 1 {
		t.Fatalf("len(LLMFallbacks) = %d, want 1", got)
	}
	if cfg.Providers.LLMFallbacks[0].Model != "llama3.2" {
		t.Errorf("fallback model = %q, want llama3.2", cfg.Providers.LLMFallbacks[0].Model)
	}
	if cfg.Scorer.Timeout != 150*time.Millisecond {
		t.Errorf("Scorer.Timeout = %v, want 150ms", cfg.Scorer.Timeout)
	}
	if cfg.Memory.EmbeddingDimensions != 768 {
		t.Errorf("EmbeddingDimensions = %d, want 768", cfg.Memory.EmbeddingDimensions)
	}
	if cfg.Reward.JournalPath != "/var/lib/parley/rewards.jsonl" {
		t.Errorf("Reward.JournalPath = %q", cfg.Reward.JournalPath)
	}
	if cfg.Pipeline.MemoryMinScore == nil || *cfg.Pipeline.MemoryMinScore != 0.25 {
		t.Errorf("MemoryMinScore = %v, want 0.25", cfg.Pipeline.MemoryMinScore)
	}

	npc, ok := cfg.NPC("bram")
	if !ok {
		t.Fatal("NPC(bram) not found")
	}
	want := config.NPCConfig{
		ID:           "bram",
		Name:         "Bram the Smith",
		Mood:         "grumpy",
		Relationship: "neutral",
		State:        map[string]string{"trust": "0.2"},
		Voice: config.VoiceConfig{
			Reference: "voices/bram.wav",
			Emotion:   "anger",
			Intensity: 0.6,
			Pace:      1.1,
		},
		Cues: map[string][]cue.Entry{
			"greet": {{Text: "What now?", DurationMS: 350}},
		},
	}
	if diff := cmp.Diff(want, npc); diff != "" {
		t.Errorf("NPC(bram) mismatch (-want +got):\n%s", diff)
	}
	if _, ok := cfg.NPC("nobody"); ok {
		t.Error("NPC(nobody) should not be found")
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader(empty): %v", err)
	}
	if cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Errorf("ListenAddr = %q, want %q", cfg.Server.ListenAddr, config.DefaultListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("LogLevel = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Server.ShutdownTimeout != config.DefaultShutdownTimeout {
		t.Errorf("ShutdownTimeout = %v, want %v", cfg.Server.ShutdownTimeout, config.DefaultShutdownTimeout)
	}
	if cfg.Memory.EmbeddingDimensions != config.DefaultEmbeddingDimensions {
		t.Errorf("EmbeddingDimensions = %d, want %d", cfg.Memory.EmbeddingDimensions, config.DefaultEmbeddingDimensions)
	}
	if cfg.Pipeline.StageWindow != config.DefaultStageWindow {
		t.Errorf("StageWindow = %d, want %d", cfg.Pipeline.StageWindow, config.DefaultStageWindow)
	}
	if cfg.Pipeline.MemoryMinScore != nil {
		t.Errorf("MemoryMinScore = %v, want nil", *cfg.Pipeline.MemoryMinScore)
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()

	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q.IsValid() = false, want true", l)
		}
	}
	if config.LogLevel("verbose").IsValid() {
		t.Error(`"verbose".IsValid() = true, want false`)
	}
}

func TestRegistry_CreateLLM(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	want := &llmmock.Provider{}
	var got config.ProviderEntry
	reg.RegisterLLM("mock", func(e config.ProviderEntry) (llm.Provider, error) {
		got = e
		return want, nil
	})

	entry := config.ProviderEntry{Name: "mock", Model: "m1"}
	p, err := reg.CreateLLM(entry)
	if err != nil {
		t.Fatalf("CreateLLM: %v", err)
	}
	if p != llm.Provider(want) {
		t.Error("CreateLLM returned a different provider than the factory built")
	}
	if got.Model != "m1" {
		t.Errorf("factory entry.Model = %q, want m1", got.Model)
	}
}

func TestRegistry_NotRegistered(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	_, err := reg.CreateTTS(config.ProviderEntry{Name: "nope"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("CreateTTS error = %v, want ErrProviderNotRegistered", err)
	}
	if !strings.Contains(err.Error(), "tts") {
		t.Errorf("error %q should name the provider kind", err)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	boom := errors.New("boom")
	reg.RegisterTTS("bad", func(config.ProviderEntry) (tts.Provider, error) { return nil, boom })
	reg.RegisterTTS("good", func(config.ProviderEntry) (tts.Provider, error) { return &ttsmock.Provider{}, nil })

	_, err := reg.CreateTTS(config.ProviderEntry{Name: "bad"})
	if !errors.Is(err, boom) {
		t.Fatalf("CreateTTS(bad) error = %v, want wrapped boom", err)
	}
	if errors.Is(err, config.ErrProviderNotRegistered) {
		t.Error("factory failure must not look like a missing registration")
	}
	if _, err := reg.CreateTTS(config.ProviderEntry{Name: "good"}); err != nil {
		t.Errorf("CreateTTS(good): %v", err)
	}
}

func TestProviderEntry_Options(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(`
providers:
  tts:
    name: chatterbox
    options:
      timeout: 20s
      retries: 3
      ratio: 2.0
      voice: bram
      bad_timeout: soon
`))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	e := cfg.Providers.TTS

	if got := e.OptDuration("timeout"); got != 20*time.Second {
		t.Errorf("OptDuration(timeout) = %v, want 20s", got)
	}
	if got := e.OptDuration("bad_timeout"); got != 0 {
		t.Errorf("OptDuration(bad_timeout) = %v, want 0", got)
	}
	if got := e.OptInt("retries"); got != 3 {
		t.Errorf("OptInt(retries) = %d, want 3", got)
	}
	if got := e.OptInt("ratio"); got != 2 {
		t.Errorf("OptInt(ratio) = %d, want 2", got)
	}
	if got := e.OptString("voice"); got != "bram" {
		t.Errorf("OptString(voice) = %q, want bram", got)
	}
	if got := e.OptString("retries"); got != "" {
		t.Errorf("OptString(retries) = %q, want empty", got)
	}
	if got := e.OptInt("missing"); got != 0 {
		t.Errorf("OptInt(missing) = %d, want 0", got)
	}
}

func TestLogLevel_SlogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tc := range tests {
		if got := tc.in.SlogLevel(); got != tc.want {
			t.Errorf("%q.SlogLevel() = %v, want %v", tc.in, got, tc.want)
		}
	}
}

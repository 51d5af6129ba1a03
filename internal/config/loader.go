package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/url"
	"os"
	"regexp"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/parley/internal/cue"
	"github.com/MrWong99/parley/pkg/provider/tts/chatterbox"
)

// ValidProviderNames lists the built-in provider names per kind. [Validate]
// warns about names outside this list, which may be third-party providers
// registered at startup.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings": {"openai", "ollama"},
	"tts":        {"chatterbox", "elevenlabs"},
}

// Load reads and validates the YAML configuration file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader expands ${VAR} references from the environment, decodes the
// YAML in r, applies defaults and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(ExpandEnv(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envRef matches ${NAME} and ${NAME:-default}.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnv replaces ${NAME} with the value of the environment variable NAME
// and ${NAME:-default} with default when NAME is unset or empty. A bare $
// is left alone so secrets containing one survive.
func ExpandEnv(b []byte) []byte {
	return envRef.ReplaceAllFunc(b, func(m []byte) []byte {
		sub := envRef.FindSubmatch(m)
		if v := os.Getenv(string(sub[1])); v != "" {
			return []byte(v)
		}
		return sub[2]
	})
}

// Validate checks that cfg is coherent and returns every problem found,
// joined.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout %v must not be negative", cfg.Server.ShutdownTimeout))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	for _, e := range cfg.Providers.LLMFallbacks {
		validateProviderName("llm", e.Name)
	}
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	for _, e := range cfg.Providers.TTSFallbacks {
		validateProviderName("tts", e.Name)
	}
	if cfg.Providers.LLM.Name == "" {
		if len(cfg.Providers.LLMFallbacks) > 0 {
			errs = append(errs, errors.New("providers.llm_fallbacks requires providers.llm"))
		} else {
			slog.Warn("no llm provider configured; dialogue streams end after prompt_ready")
		}
	}
	if cfg.Providers.TTS.Name == "" && len(cfg.Providers.TTSFallbacks) > 0 {
		errs = append(errs, errors.New("providers.tts_fallbacks requires providers.tts"))
	}
	if cfg.Providers.Embeddings.Name != "" && cfg.Memory.PostgresDSN == "" {
		slog.Warn("providers.embeddings is configured but memory.postgres_dsn is empty; fact search is disabled")
	}

	errs = append(errs, validateScorer(cfg.Scorer)...)

	if cfg.Memory.EmbeddingDimensions < 0 {
		errs = append(errs, fmt.Errorf("memory.embedding_dimensions %d must not be negative", cfg.Memory.EmbeddingDimensions))
	}

	p := cfg.Pipeline
	if p.MemoryTopK < 0 {
		errs = append(errs, fmt.Errorf("pipeline.memory_top_k %d must not be negative", p.MemoryTopK))
	}
	if p.MemoryMinScore != nil && (*p.MemoryMinScore < 0 || *p.MemoryMinScore > 1) {
		errs = append(errs, fmt.Errorf("pipeline.memory_min_score %.2f is out of range [0, 1]", *p.MemoryMinScore))
	}
	if p.HistoryWindow < 0 {
		errs = append(errs, fmt.Errorf("pipeline.history_window %d must not be negative", p.HistoryWindow))
	}
	if p.StageWindow < 0 {
		errs = append(errs, fmt.Errorf("pipeline.stage_window %d must not be negative", p.StageWindow))
	}
	if p.Temperature < 0 || p.Temperature > 2 {
		errs = append(errs, fmt.Errorf("pipeline.temperature %.2f is out of range [0, 2]", p.Temperature))
	}
	if p.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_tokens %d must not be negative", p.MaxTokens))
	}

	seen := make(map[string]int, len(cfg.NPCs))
	for i, npc := range cfg.NPCs {
		prefix := fmt.Sprintf("npcs[%d]", i)
		if npc.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		} else {
			if prev, ok := seen[npc.ID]; ok {
				errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of npcs[%d]", prefix, npc.ID, prev))
			}
			seen[npc.ID] = i
		}
		errs = append(errs, validateVoice(prefix, npc.Voice)...)
		if _, err := cue.TableFromEntries(npc.Cues); err != nil {
			errs = append(errs, fmt.Errorf("%s.cues: %w", prefix, err))
		}
	}

	return errors.Join(errs...)
}

func validateScorer(s ScorerConfig) []error {
	var errs []error
	if s.URL != "" {
		u, err := url.Parse(s.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, fmt.Errorf("scorer.url %q must be an http or https URL", s.URL))
		}
	}
	if s.Timeout < 0 {
		errs = append(errs, fmt.Errorf("scorer.timeout %v must not be negative", s.Timeout))
	}
	if s.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("scorer.reset_timeout %v must not be negative", s.ResetTimeout))
	}
	if s.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("scorer.max_failures %d must not be negative", s.MaxFailures))
	}
	for signal, row := range s.Weights {
		for action, w := range row {
			if math.IsNaN(w) || math.IsInf(w, 0) {
				errs = append(errs, fmt.Errorf("scorer.weights[%s][%s] must be finite", signal, action))
			}
		}
	}
	return errs
}

func validateVoice(prefix string, v VoiceConfig) []error {
	var errs []error
	if v.Emotion != "" && !slices.Contains(chatterbox.Emotions(), v.Emotion) {
		errs = append(errs, fmt.Errorf("%s.voice.emotion %q is unknown; valid values: %v", prefix, v.Emotion, chatterbox.Emotions()))
	}
	if v.Intensity < 0 || v.Intensity > 1 {
		errs = append(errs, fmt.Errorf("%s.voice.intensity %.2f is out of range [0, 1]", prefix, v.Intensity))
	}
	if v.Pace != 0 && (v.Pace < 0.5 || v.Pace > 2) {
		errs = append(errs, fmt.Errorf("%s.voice.pace %.2f is out of range [0.5, 2]", prefix, v.Pace))
	}
	return errs
}

// validateProviderName warns when name is set but not a built-in provider.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	if slices.Contains(ValidProviderNames[kind], name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a third-party provider",
		slog.String("kind", kind),
		slog.String("name", name),
		slog.Any("known", ValidProviderNames[kind]),
	)
}

// Package config provides the configuration schema, loader, hot-reload
// watcher and provider registry for the parley dialogue server.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/parley/internal/cue"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l to its [slog.Level]. Unknown levels map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Config is the root configuration structure. It is loaded from YAML with
// [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Scorer    ScorerConfig    `yaml:"scorer"`
	Memory    MemoryConfig    `yaml:"memory"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Reward    RewardConfig    `yaml:"reward"`
	NPCs      []NPCConfig     `yaml:"npcs"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on. Default ":8080".
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Default "info".
	LogLevel LogLevel `yaml:"log_level"`

	// ShutdownTimeout bounds graceful shutdown. Default 10s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// TLS enables HTTPS when set.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProvidersConfig selects the provider implementation per kind. Each entry
// names a constructor in the [Registry]. Fallback lists are tried in order
// when the primary fails.
type ProvidersConfig struct {
	LLM          ProviderEntry   `yaml:"llm"`
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`
	Embeddings   ProviderEntry   `yaml:"embeddings"`
	TTS          ProviderEntry   `yaml:"tts"`
	TTSFallbacks []ProviderEntry `yaml:"tts_fallbacks"`
}

// ProviderEntry is the configuration block shared by all provider kinds.
type ProviderEntry struct {
	// Name selects the registered implementation, e.g. "openai" or
	// "chatterbox".
	Name string `yaml:"name"`

	// APIKey authenticates against the provider's API, if it has one.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// ScorerConfig configures action selection. With URL set, a remote scoring
// service is used behind a circuit breaker; otherwise Weights drive a local
// table. With neither, every turn uses the default action.
type ScorerConfig struct {
	URL          string        `yaml:"url"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`

	// Weights maps player signal to action to score. The "*" row applies
	// to signals without their own.
	Weights map[string]map[string]float64 `yaml:"weights"`

	// Bias maps "feature:action" to a score added per unit of the feature,
	// e.g. "mood=angry:warn": 0.3.
	Bias map[string]float64 `yaml:"bias"`
}

// MemoryConfig configures the long-term memory and history store.
type MemoryConfig struct {
	// PostgresDSN is the connection string of the pgvector store. Empty
	// keeps history in process memory and disables fact search.
	PostgresDSN string `yaml:"postgres_dsn"`

	// EmbeddingDimensions must match the embeddings model. Default 1536.
	EmbeddingDimensions int `yaml:"embedding_dimensions"`
}

// PipelineConfig tunes the dialogue turn.
type PipelineConfig struct {
	// MemoryTopK bounds fact search results. Default 3.
	MemoryTopK int `yaml:"memory_top_k"`

	// MemoryMinScore is the minimum fact relevance. Default 0.4.
	MemoryMinScore *float64 `yaml:"memory_min_score"`

	// HistoryWindow is the number of history lines requested. Default 4.
	HistoryWindow int `yaml:"history_window"`

	// StageWindow is the number of samples kept per latency stage.
	// Default 200.
	StageWindow int `yaml:"stage_window"`

	// Temperature and MaxTokens tune generation. Zero uses the provider
	// defaults.
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`

	// TokenModel selects the tokenizer used to report prompt sizes. Empty
	// uses the LLM model name.
	TokenModel string `yaml:"token_model"`
}

// RewardConfig configures reward evaluation.
type RewardConfig struct {
	// JournalPath is a JSON lines file every evaluated reward is appended
	// to. Empty disables the journal.
	JournalPath string `yaml:"journal_path"`
}

// NPCConfig describes one NPC.
type NPCConfig struct {
	// ID selects the NPC in requests and keys its cue table.
	ID string `yaml:"id"`

	// Name is the display name used in prompts and history.
	Name string `yaml:"name"`

	// Mood and Relationship seed the NPC state when a request omits them.
	Mood         string `yaml:"mood"`
	Relationship string `yaml:"relationship"`

	// State holds extra scorer inputs merged under request state.
	State map[string]string `yaml:"state"`

	// Voice configures speech synthesis for the NPC.
	Voice VoiceConfig `yaml:"voice"`

	// Cues overrides instant cues per category.
	Cues map[string][]cue.Entry `yaml:"cues"`
}

// VoiceConfig specifies the synthesis voice of an NPC.
type VoiceConfig struct {
	// Reference is a reference clip path for voice cloning.
	Reference string `yaml:"voice_reference"`

	// Emotion pins the emotion tag. Empty derives it from the NPC's mood.
	Emotion string `yaml:"emotion"`

	// Intensity in [0, 1]. Zero means 0.5.
	Intensity float64 `yaml:"intensity"`

	// Pace in [0.5, 2]. Zero means 1.
	Pace float64 `yaml:"pace"`
}

// Defaults.
const (
	DefaultListenAddr          = ":8080"
	DefaultShutdownTimeout     = 10 * time.Second
	DefaultEmbeddingDimensions = 1536
	DefaultStageWindow         = 200
)

// ApplyDefaults fills unset fields with their defaults. Pipeline limits
// left at zero are filled by the pipeline itself.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Memory.EmbeddingDimensions == 0 {
		c.Memory.EmbeddingDimensions = DefaultEmbeddingDimensions
	}
	if c.Pipeline.StageWindow == 0 {
		c.Pipeline.StageWindow = DefaultStageWindow
	}
}

// NPC returns the NPC with the given id.
func (c *Config) NPC(id string) (NPCConfig, bool) {
	for _, n := range c.NPCs {
		if n.ID == id {
			return n, true
		}
	}
	return NPCConfig{}, false
}

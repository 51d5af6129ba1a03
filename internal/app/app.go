// Package app wires the parley subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until its context is cancelled, Reload applies
// hot config changes and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithHistoryStore,
// WithFactIndex, ...). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/feedback"
	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/httpapi"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/pipeline"
	"github.com/MrWong99/parley/internal/reward"
	"github.com/MrWong99/parley/internal/tokens"
	"github.com/MrWong99/parley/pkg/memory"
	"github.com/MrWong99/parley/pkg/memory/postgres"
	"github.com/MrWong99/parley/pkg/provider/embeddings"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry,
// with fallbacks already applied.
type Providers struct {
	LLM        llm.Provider
	Embeddings embeddings.Provider
	TTS        tts.Provider
}

// App owns all subsystem lifetimes and serves the dialogue pipeline.
type App struct {
	listen    config.ServerConfig
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	history   memory.HistoryStore
	facts     memory.FactIndex
	retriever *memory.Retriever
	store     health.Pinger
	tokens    pipeline.TokenCounter
	reward    *reward.Computer
	window    *observe.StageWindow

	metrics        *observe.Metrics
	metricsHandler http.Handler
	level          *slog.LevelVar
	now            func() time.Time

	// mu guards rt, which Reload swaps.
	mu sync.RWMutex
	rt *runtime

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithHistoryStore injects a history store instead of creating one from
// config.
func WithHistoryStore(h memory.HistoryStore) Option {
	return func(a *App) { a.history = h }
}

// WithFactIndex injects a fact index instead of creating one from config.
func WithFactIndex(f memory.FactIndex) Option {
	return func(a *App) { a.facts = f }
}

// WithTokenCounter replaces the tiktoken counter built from config.
func WithTokenCounter(c pipeline.TokenCounter) Option {
	return func(a *App) { a.tokens = c }
}

// WithMetrics records pipeline, provider and HTTP metrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLogLevel lets Reload apply log level changes to lv.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithClock replaces time.Now in the pipeline and responder, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go. Use Option functions to inject test doubles.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		listen:    cfg.Server,
		providers: providers,
		now:       time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	if a.listen.ShutdownTimeout <= 0 {
		a.listen.ShutdownTimeout = config.DefaultShutdownTimeout
	}

	if err := a.initMemory(ctx, cfg); err != nil {
		return nil, fmt.Errorf("app: init memory: %w", err)
	}
	a.initTokens(cfg)

	a.window = observe.NewStageWindow(cfg.Pipeline.StageWindow)
	ropts := []reward.Option{reward.WithMetrics(a.metrics)}
	if path := cfg.Reward.JournalPath; path != "" {
		ropts = append(ropts, reward.WithJournal(feedback.NewFileStore(path)))
		slog.Info("reward journal enabled", slog.String("path", path))
	}
	a.reward = reward.New(ropts...)

	rt, err := a.buildRuntime(cfg, nil, config.ConfigDiff{})
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: %w", err)
	}
	a.rt = rt

	slog.Info("app initialised",
		slog.Int("npcs", len(cfg.NPCs)),
		slog.Bool("llm", providers.LLM != nil),
		slog.Bool("tts", providers.TTS != nil),
		slog.Bool("fact_search", a.retriever != nil),
	)
	return a, nil
}

// initMemory connects the PostgreSQL store or falls back to in-process
// history without fact search.
func (a *App) initMemory(ctx context.Context, cfg *config.Config) error {
	if (a.history == nil || a.facts == nil) && cfg.Memory.PostgresDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.Memory.PostgresDSN, cfg.Memory.EmbeddingDimensions)
		if err != nil {
			return err
		}
		if a.history == nil {
			a.history = store.History()
		}
		if a.facts == nil {
			a.facts = store.Facts()
		}
		a.store = store
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
	}

	if a.history == nil {
		slog.Warn("memory.postgres_dsn is empty; conversation history is kept in process memory")
		a.history = memory.NewMemHistory(memory.DefaultHistoryCapacity)
	}

	switch {
	case a.facts != nil && a.providers.Embeddings != nil:
		a.retriever = memory.NewRetriever(a.facts, a.providers.Embeddings)
	case a.facts != nil:
		slog.Warn("no embeddings provider configured; fact search is disabled")
	}
	return nil
}

// initTokens builds the prompt token counter unless one was injected.
func (a *App) initTokens(cfg *config.Config) {
	if a.tokens != nil {
		return
	}
	model := cfg.Pipeline.TokenModel
	if model == "" {
		model = cfg.Providers.LLM.Model
	}
	c, err := tokens.NewCounter(model)
	if err != nil {
		slog.Warn("prompt token counting disabled", slog.String("model", model), slog.Any("err", err))
		return
	}
	a.tokens = c
}

// Handler returns the HTTP handler serving all routes.
func (a *App) Handler() http.Handler {
	opts := []httpapi.Option{
		httpapi.WithReward(a.reward),
		httpapi.WithHealth(health.New(a.checkers()...)),
		httpapi.WithStageWindow(a.window),
	}
	if a.metrics != nil {
		opts = append(opts, httpapi.WithMetrics(a.metrics))
	}
	if a.metricsHandler != nil {
		opts = append(opts, httpapi.WithMetricsHandler(a.metricsHandler))
	}
	return httpapi.New(a, opts...).Router()
}

// checkers returns the readiness checks: the memory store is required, the
// speech server is optional because sentences are still delivered as text
// without it.
func (a *App) checkers() []health.Checker {
	var cs []health.Checker
	if a.store != nil {
		cs = append(cs, health.Ping("memory", a.store, false))
	}
	if p, ok := a.providers.TTS.(health.Pinger); ok {
		cs = append(cs, health.Ping("tts", p, true))
	}
	return cs
}

// StageWindow returns the rolling latency window fed by every turn.
func (a *App) StageWindow() *observe.StageWindow { return a.window }

// Run serves HTTP on the configured address and blocks until ctx is
// cancelled, then shuts the listener down gracefully.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.listen.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", slog.String("addr", srv.Addr), slog.Bool("tls", a.listen.TLS != nil))
		if tls := a.listen.TLS; tls != nil {
			errCh <- srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("app: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.listen.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("app: http shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("app: serve: %w", err)
	}
	return nil
}

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", slog.Int("closers", len(a.closers)))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", slog.Int("remaining", len(a.closers)-i))
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", slog.Int("index", i), slog.Any("err", err))
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) closeAll() {
	for _, closer := range a.closers {
		_ = closer()
	}
}

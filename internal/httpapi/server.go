// Package httpapi exposes the dialogue pipeline over HTTP: a server-sent
// event stream and a websocket for dialogue turns, a reward endpoint, a
// latency snapshot, health probes and Prometheus metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/pipeline"
	"github.com/MrWong99/parley/internal/reward"
)

// MaxUtteranceBytes bounds the player utterance accepted by the dialogue
// endpoints.
const MaxUtteranceBytes = 4096

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// ErrInvalidRequest is wrapped by errors that describe a malformed dialogue
// request. Handlers answer them with 400.
var ErrInvalidRequest = errors.New("httpapi: invalid request")

// DialogueRequest is the body of a dialogue turn.
type DialogueRequest struct {
	NPCID          string            `json:"npc_id"`
	Utterance      string            `json:"utterance"`
	NPCState       map[string]string `json:"npc_state,omitempty"`
	PlayerSignal   string            `json:"player_signal"`
	ConversationID string            `json:"conversation_id,omitempty"`
}

func (r DialogueRequest) validate() error {
	if len(r.Utterance) > MaxUtteranceBytes {
		return errors.Join(ErrInvalidRequest, errors.New("utterance exceeds 4096 bytes"))
	}
	return nil
}

// Dialogue runs one turn and delivers its events to sink in wire order.
type Dialogue interface {
	Converse(ctx context.Context, req DialogueRequest, sink pipeline.Sink) error
}

// RewardEvaluator scores a player's reply to the previous NPC action.
type RewardEvaluator interface {
	Evaluate(ctx context.Context, text, previousAction string, continued bool) reward.Outcome
}

var _ RewardEvaluator = (*reward.Computer)(nil)

// Option configures a [Server].
type Option func(*Server)

// WithReward enables POST /api/reward.
func WithReward(r RewardEvaluator) Option {
	return func(s *Server) { s.reward = r }
}

// WithHealth mounts /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithStageWindow serves the window's snapshot on GET /api/perf/latency.
func WithStageWindow(w *observe.StageWindow) Option {
	return func(s *Server) { s.window = w }
}

// WithMetrics enables request instrumentation and active stream counting.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMetricsHandler mounts h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithOriginPatterns sets the host patterns allowed to open the dialogue
// websocket from a browser. By default only same-origin requests are
// accepted.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.originPatterns = patterns }
}

// Server routes HTTP requests to the dialogue pipeline.
type Server struct {
	dialogue       Dialogue
	reward         RewardEvaluator
	health         *health.Handler
	window         *observe.StageWindow
	metrics        *observe.Metrics
	metricsHandler http.Handler
	originPatterns []string
}

// New returns a Server answering dialogue requests with d.
func New(d Dialogue, opts ...Option) *Server {
	s := &Server{dialogue: d}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns the HTTP handler for all routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	if s.metrics != nil {
		r.Use(observe.Middleware(s.metrics))
	}

	if s.health != nil {
		s.health.Register(r)
	}
	if s.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", s.metricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/dialogue", s.handleDialogueSSE)
		r.Get("/dialogue/ws", s.handleDialogueWS)
		r.Post("/reward", s.handleReward)
		r.Get("/perf/latency", s.handlePerfLatency)
	})
	return r
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/pipeline"
)

// TypeError is the event sent when a turn fails after streaming started.
const TypeError = "error"

// envelope is the wire form of every streamed event.
type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// ErrorEvent reports a failed turn to the client.
type ErrorEvent struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// EventType implements [pipeline.Event].
func (ErrorEvent) EventType() string { return TypeError }

// sseSink writes events as server-sent events. Headers are sent with the
// first event so a turn that fails before emitting can still answer with a
// plain JSON error.
type sseSink struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	rc      *http.ResponseController
	started bool
}

func newSSESink(w http.ResponseWriter) *sseSink {
	return &sseSink{w: w, rc: http.NewResponseController(w)}
}

// Emit implements [pipeline.Sink].
func (s *sseSink) Emit(_ context.Context, ev pipeline.Event) error {
	data, err := json.Marshal(envelope{Type: ev.EventType(), Data: ev})
	if err != nil {
		return fmt.Errorf("httpapi: encode %s event: %w", ev.EventType(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		h := s.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", ev.EventType(), data); err != nil {
		return fmt.Errorf("httpapi: write event: %w", err)
	}
	if err := s.rc.Flush(); err != nil {
		return fmt.Errorf("httpapi: flush event: %w", err)
	}
	return nil
}

func (s *sseSink) hasStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func (s *Server) handleDialogueSSE(w http.ResponseWriter, r *http.Request) {
	var req DialogueRequest
	if err := decodeJSON(w, r, &req); err != nil {
		if errors.Is(err, errEmptyBody) {
			respondError(w, http.StatusBadRequest, "invalid_request", "request body is required")
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := req.validate(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	ctx := r.Context()
	s.streamStarted(ctx)
	defer s.streamEnded(ctx)

	sink := newSSESink(w)
	err := s.dialogue.Converse(ctx, req, sink)
	if err == nil {
		return
	}

	log := observe.Logger(ctx)
	if ctx.Err() != nil {
		log.Debug("dialogue stream closed by client", slog.String("npc_id", req.NPCID))
		return
	}
	log.Warn("dialogue turn failed", slog.String("npc_id", req.NPCID), slog.Any("err", err))

	if !sink.hasStarted() {
		if errors.Is(err, ErrInvalidRequest) {
			respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "turn_failed", err.Error())
		return
	}
	_ = sink.Emit(ctx, ErrorEvent{Message: err.Error(), Code: "turn_failed"})
}

// wsSink writes events as JSON text messages.
type wsSink struct {
	conn *websocket.Conn
}

// Emit implements [pipeline.Sink].
func (s wsSink) Emit(ctx context.Context, ev pipeline.Event) error {
	if err := wsjson.Write(ctx, s.conn, envelope{Type: ev.EventType(), Data: ev}); err != nil {
		return fmt.Errorf("httpapi: write event: %w", err)
	}
	return nil
}

// handleDialogueWS runs one turn per received request message, in order,
// until the client closes the connection.
func (s *Server) handleDialogueWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.originPatterns})
	if err != nil {
		// Accept has already written the HTTP error.
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxBodyBytes)

	ctx := r.Context()
	s.streamStarted(ctx)
	defer s.streamEnded(ctx)

	log := observe.Logger(ctx)
	sink := wsSink{conn: conn}
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				conn.Close(websocket.StatusNormalClosure, "")
			default:
				if ctx.Err() == nil {
					log.Debug("dialogue websocket read failed", slog.Any("err", err))
				}
			}
			return
		}
		if typ != websocket.MessageText {
			conn.Close(websocket.StatusUnsupportedData, "expected text message")
			return
		}

		var req DialogueRequest
		if err := json.Unmarshal(data, &req); err != nil {
			if sink.Emit(ctx, ErrorEvent{Message: "invalid request: " + err.Error(), Code: "invalid_request"}) != nil {
				return
			}
			continue
		}
		if err := req.validate(); err != nil {
			if sink.Emit(ctx, ErrorEvent{Message: err.Error(), Code: "invalid_request"}) != nil {
				return
			}
			continue
		}

		if err := s.dialogue.Converse(ctx, req, sink); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("dialogue turn failed", slog.String("npc_id", req.NPCID), slog.Any("err", err))
			code := "turn_failed"
			if errors.Is(err, ErrInvalidRequest) {
				code = "invalid_request"
			}
			if sink.Emit(ctx, ErrorEvent{Message: err.Error(), Code: code}) != nil {
				return
			}
		}
	}
}

func (s *Server) streamStarted(ctx context.Context) {
	if s.metrics != nil {
		s.metrics.ActiveStreams.Add(ctx, 1)
	}
}

func (s *Server) streamEnded(ctx context.Context) {
	if s.metrics != nil {
		s.metrics.ActiveStreams.Add(context.WithoutCancel(ctx), -1)
	}
}

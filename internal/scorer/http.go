package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/pipeline"
)

const defaultTimeout = 200 * time.Millisecond

var _ pipeline.ActionScorer = (*HTTPScorer)(nil)

// scoreRequest is the body posted to the scoring service.
type scoreRequest struct {
	Snapshot pipeline.Snapshot `json:"snapshot"`
	Signal   string            `json:"signal"`
}

type scoreResponse struct {
	Scores map[string]float64 `json:"scores"`
}

// HTTPOption configures an [HTTPScorer].
type HTTPOption func(*HTTPScorer)

// WithTimeout bounds each Score call. Defaults to 200ms, since the call sits
// in front of the instant cue.
func WithTimeout(d time.Duration) HTTPOption {
	return func(s *HTTPScorer) { s.timeout = d }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPScorer) { s.client = c }
}

// WithMetrics records one provider request per Score call.
func WithMetrics(m *observe.Metrics) HTTPOption {
	return func(s *HTTPScorer) { s.metrics = m }
}

// HTTPScorer asks a remote utility service for action scores. The service
// receives {"snapshot": {...}, "signal": "..."} and answers
// {"scores": {"<action>": <score>, ...}}.
type HTTPScorer struct {
	endpoint string
	timeout  time.Duration
	client   *http.Client
	metrics  *observe.Metrics
}

// NewHTTPScorer returns a scorer posting to endpoint.
func NewHTTPScorer(endpoint string, opts ...HTTPOption) (*HTTPScorer, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("scorer: parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("scorer: url %q must be http or https", endpoint)
	}
	s := &HTTPScorer{
		endpoint: endpoint,
		timeout:  defaultTimeout,
		client:   http.DefaultClient,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Snapshot implements [pipeline.ActionScorer] using [Encode].
func (s *HTTPScorer) Snapshot(npcState map[string]string) (pipeline.Snapshot, error) {
	return Encode(npcState)
}

// Score posts snap and signal and returns the service's scores. An empty
// score map is reported as [ErrNoScores].
func (s *HTTPScorer) Score(ctx context.Context, snap pipeline.Snapshot, signal string) (map[string]float64, error) {
	scores, err := s.score(ctx, snap, signal)
	if s.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
			s.metrics.RecordProviderError(ctx, "http", "scorer")
		}
		s.metrics.RecordProviderRequest(ctx, "http", "scorer", status)
	}
	return scores, err
}

func (s *HTTPScorer) score(ctx context.Context, snap pipeline.Snapshot, signal string) (map[string]float64, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	body, err := json.Marshal(scoreRequest{Snapshot: snap, Signal: signal})
	if err != nil {
		return nil, fmt.Errorf("scorer: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("scorer: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scorer: POST: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("scorer: POST returned status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoScores
		}
		return nil, fmt.Errorf("scorer: decode response: %w", err)
	}
	if len(out.Scores) == 0 {
		return nil, ErrNoScores
	}
	return out.Scores, nil
}

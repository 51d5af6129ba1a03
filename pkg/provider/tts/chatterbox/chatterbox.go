// Package chatterbox provides a tts.Provider for a Chatterbox synthesis
// server running a full and a turbo model side by side.
//
// The client picks the model itself: intensities above [FullModelThreshold]
// go to POST /synthesize/full, everything else to POST /synthesize/turbo.
// Emotion and intensity are turned into the model's exaggeration and CFG
// weight through [Style].
//
//	p, err := chatterbox.New("http://localhost:8001", chatterbox.WithTimeout(20*time.Second))
//	res, err := p.Synthesize(ctx, "Well met, traveller.", tts.Voice{Emotion: "joy", Intensity: 0.6})
package chatterbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"math"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/parley/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

const (
	defaultTimeout = 30 * time.Second

	fullEndpoint   = "/synthesize/full"
	turboEndpoint  = "/synthesize/turbo"
	healthEndpoint = "/health"

	// FullModelThreshold is the intensity above which the full model is used.
	FullModelThreshold = 0.7

	defaultIntensity = 0.5
	defaultPace      = 1.0

	minCFG = 0.3
	maxCFG = 0.9
)

// styleBase is the per-emotion exaggeration and CFG weight at intensity 1
// and 0.5 respectively.
type styleBase struct {
	exaggeration float64
	cfg          float64
}

var emotionStyles = map[string]styleBase{
	"neutral":      {0.3, 0.5},
	"joy":          {0.6, 0.6},
	"happiness":    {0.6, 0.6},
	"sadness":      {0.7, 0.7},
	"anger":        {0.8, 0.7},
	"fear":         {0.7, 0.6},
	"surprise":     {0.6, 0.5},
	"disgust":      {0.6, 0.6},
	"trust":        {0.4, 0.5},
	"anticipation": {0.5, 0.5},
}

// Emotions returns the sorted emotion tags with a dedicated style.
func Emotions() []string {
	return slices.Sorted(maps.Keys(emotionStyles))
}

// Style returns the exaggeration and CFG weight for emotion at intensity.
// Unknown emotions use the neutral style. Exaggeration is capped at 1 and
// the CFG weight is clamped to [0.3, 0.9].
func Style(emotion string, intensity float64) (exaggeration, cfg float64) {
	base, ok := emotionStyles[strings.ToLower(strings.TrimSpace(emotion))]
	if !ok {
		base = emotionStyles["neutral"]
	}
	exaggeration = min(base.exaggeration*intensity, 1.0)
	cfg = min(max(base.cfg+(intensity-0.5)*0.2, minCFG), maxCFG)
	return exaggeration, cfg
}

// moodEmotions maps common NPC moods onto emotion tags.
var moodEmotions = map[string]string{
	"happy":      "joy",
	"cheerful":   "joy",
	"content":    "happiness",
	"sad":        "sadness",
	"grieving":   "sadness",
	"angry":      "anger",
	"hostile":    "anger",
	"furious":    "anger",
	"afraid":     "fear",
	"scared":     "fear",
	"nervous":    "fear",
	"surprised":  "surprise",
	"disgusted":  "disgust",
	"friendly":   "trust",
	"loyal":      "trust",
	"excited":    "anticipation",
	"curious":    "anticipation",
	"calm":       "neutral",
	"neutral":    "neutral",
	"suspicious": "disgust",
}

// EmotionForMood maps an NPC mood to an emotion tag. Moods that already
// name an emotion are returned as is; unknown moods map to "neutral".
func EmotionForMood(mood string) string {
	m := strings.ToLower(strings.TrimSpace(mood))
	if _, ok := emotionStyles[m]; ok {
		return m
	}
	if e, ok := moodEmotions[m]; ok {
		return e
	}
	return "neutral"
}

// Endpoint returns the synthesis endpoint for intensity.
func Endpoint(intensity float64) string {
	if intensity > FullModelThreshold {
		return fullEndpoint
	}
	return turboEndpoint
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithTimeout sets the per-request HTTP timeout. Defaults to 30s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithHTTPClient replaces the HTTP client entirely.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements tts.Provider against a Chatterbox server.
type Provider struct {
	serverURL  string
	httpClient *http.Client
}

// New creates a Provider for the server at serverURL.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("chatterbox: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type synthesizeRequest struct {
	Text           string  `json:"text"`
	Emotion        string  `json:"emotion"`
	Intensity      float64 `json:"intensity"`
	Pace           float64 `json:"pace"`
	VoiceReference string  `json:"voice_reference,omitempty"`
	Exaggeration   float64 `json:"exaggeration"`
	CFGWeight      float64 `json:"cfg_weight"`
}

type synthesizeResponse struct {
	AudioPath        string  `json:"audio_path"`
	DurationSec      float64 `json:"duration_sec"`
	ModelUsed        string  `json:"model_used"`
	GenerationTimeMS float64 `json:"generation_time_ms"`
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.Voice) (tts.Result, error) {
	if strings.TrimSpace(text) == "" {
		return tts.Result{}, errors.New("chatterbox: text must not be empty")
	}

	intensity := voice.Intensity
	if intensity <= 0 {
		intensity = defaultIntensity
	}
	intensity = min(intensity, 1.0)
	pace := voice.Pace
	if pace <= 0 {
		pace = defaultPace
	}
	emotion := strings.ToLower(strings.TrimSpace(voice.Emotion))
	if emotion == "" {
		emotion = "neutral"
	}
	exaggeration, cfg := Style(emotion, intensity)

	body, err := json.Marshal(synthesizeRequest{
		Text:           text,
		Emotion:        emotion,
		Intensity:      intensity,
		Pace:           min(max(pace, 0.5), 2.0),
		VoiceReference: voice.Reference,
		Exaggeration:   round3(exaggeration),
		CFGWeight:      round3(cfg),
	})
	if err != nil {
		return tts.Result{}, fmt.Errorf("chatterbox: marshal request: %w", err)
	}

	endpoint := Endpoint(intensity)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return tts.Result{}, fmt.Errorf("chatterbox: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return tts.Result{}, fmt.Errorf("chatterbox: POST %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return tts.Result{}, fmt.Errorf("chatterbox: POST %s returned status %d: %s",
			endpoint, resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var out synthesizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return tts.Result{}, fmt.Errorf("chatterbox: decode response: %w", err)
	}
	if out.AudioPath == "" {
		return tts.Result{}, errors.New("chatterbox: response has no audio_path")
	}

	return tts.Result{
		AudioPath:      out.AudioPath,
		Duration:       time.Duration(out.DurationSec * float64(time.Second)),
		Model:          out.ModelUsed,
		GenerationTime: time.Duration(out.GenerationTimeMS * float64(time.Millisecond)),
	}, nil
}

// Health is the server status reported by GET /health.
type Health struct {
	Status      string `json:"status"`
	Device      string `json:"device"`
	FullLoaded  bool   `json:"full_loaded"`
	TurboLoaded bool   `json:"turbo_loaded"`
}

// Health fetches the server status.
func (p *Provider) Health(ctx context.Context) (Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+healthEndpoint, nil)
	if err != nil {
		return Health{}, fmt.Errorf("chatterbox: create health request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Health{}, fmt.Errorf("chatterbox: GET %s: %w", healthEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Health{}, fmt.Errorf("chatterbox: GET %s returned status %d", healthEndpoint, resp.StatusCode)
	}
	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return Health{}, fmt.Errorf("chatterbox: decode health: %w", err)
	}
	return h, nil
}

// Ping reports an error unless the server is up with at least one model
// loaded.
func (p *Provider) Ping(ctx context.Context) error {
	h, err := p.Health(ctx)
	if err != nil {
		return err
	}
	if !h.FullLoaded && !h.TurboLoaded {
		return errors.New("chatterbox: no model loaded")
	}
	return nil
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

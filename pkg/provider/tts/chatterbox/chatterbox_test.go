package chatterbox_test

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/MrWong99/parley/pkg/provider/tts/chatterbox"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestStyle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		emotion   string
		intensity float64
		wantExag  float64
		wantCFG   float64
	}{
		{"neutral", 0.5, 0.15, 0.5},
		{"anger", 1.0, 0.8, 0.8},
		{"Sadness", 1.0, 0.7, 0.8},
		{"joy", 0.2, 0.12, 0.54},
		{"fear", 0, 0, 0.5},
		{"neutral", 0, 0, 0.4},
		{"unknown-feeling", 0.5, 0.15, 0.5},
		// Out-of-range intensity saturates both knobs.
		{"sadness", 2.0, 1.0, 0.9},
		{"neutral", -2.0, -0.6, 0.3},
	}
	for _, tc := range tests {
		exag, cfg := chatterbox.Style(tc.emotion, tc.intensity)
		if !approx(exag, tc.wantExag) || !approx(cfg, tc.wantCFG) {
			t.Errorf("Style(%q, %v) = (%v, %v), want (%v, %v)",
				tc.emotion, tc.intensity, exag, cfg, tc.wantExag, tc.wantCFG)
		}
	}
}

func TestEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		intensity float64
		want      string
	}{
		{0.0, "/synthesize/turbo"},
		{0.5, "/synthesize/turbo"},
		{0.7, "/synthesize/turbo"},
		{0.71, "/synthesize/full"},
		{1.0, "/synthesize/full"},
	}
	for _, tc := range tests {
		if got := chatterbox.Endpoint(tc.intensity); got != tc.want {
			t.Errorf("Endpoint(%v) = %q, want %q", tc.intensity, got, tc.want)
		}
	}
}

func TestEmotionForMood(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"angry":    "anger",
		"Cheerful": "joy",
		"fear":     "fear",
		"wary":     "neutral",
		"":         "neutral",
		"friendly": "trust",
	}
	for mood, want := range tests {
		if got := chatterbox.EmotionForMood(mood); got != want {
			t.Errorf("EmotionForMood(%q) = %q, want %q", mood, got, want)
		}
	}
}

func TestEmotions(t *testing.T) {
	t.Parallel()

	want := []string{
		"anger", "anticipation", "disgust", "fear", "happiness",
		"joy", "neutral", "sadness", "surprise", "trust",
	}
	if diff := cmp.Diff(want, chatterbox.Emotions()); diff != "" {
		t.Errorf("Emotions() mismatch (-want +got):\n%s", diff)
	}
}

type recordedRequest struct {
	Path string
	Body map[string]any
}

// fakeServer emulates the synthesis server and records every request.
func fakeServer(t *testing.T, status int) (*httptest.Server, func() []recordedRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []recordedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"ok","device":"cpu","full_loaded":false,"turbo_loaded":true}`))
			return
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		mu.Lock()
		reqs = append(reqs, recordedRequest{Path: r.URL.Path, Body: body})
		mu.Unlock()

		if status != http.StatusOK {
			http.Error(w, `{"detail":"Chatterbox Full not loaded"}`, status)
			return
		}
		model := strings.TrimPrefix(r.URL.Path, "/synthesize/")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"audio_path":         "/tmp/rfsn_tts/tts_" + model + "_1.wav",
			"duration_sec":       1.25,
			"model_used":         model,
			"generation_time_ms": 340.0,
		})
	}))
	t.Cleanup(srv.Close)
	return srv, func() []recordedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedRequest(nil), reqs...)
	}
}

func TestSynthesize(t *testing.T) {
	t.Parallel()

	srv, requests := fakeServer(t, http.StatusOK)
	p, err := chatterbox.New(srv.URL + "/")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := p.Synthesize(context.Background(), "Get out of my shop!", tts.Voice{
		Reference: "/voices/greta.wav",
		Emotion:   "Anger",
		Intensity: 0.9,
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	want := tts.Result{
		AudioPath:      "/tmp/rfsn_tts/tts_full_1.wav",
		Duration:       1250 * time.Millisecond,
		Model:          "full",
		GenerationTime: 340 * time.Millisecond,
	}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Errorf("Result mismatch (-want +got):\n%s", diff)
	}

	reqs := requests()
	if len(reqs) != 1 {
		t.Fatalf("got %d requests, want 1", len(reqs))
	}
	if reqs[0].Path != "/synthesize/full" {
		t.Errorf("path = %q, want /synthesize/full", reqs[0].Path)
	}
	body := reqs[0].Body
	if body["emotion"] != "anger" || body["voice_reference"] != "/voices/greta.wav" || body["pace"] != 1.0 {
		t.Errorf("body = %v, want emotion anger, reference and pace 1", body)
	}
	if got := body["exaggeration"].(float64); !approx(got, 0.72) {
		t.Errorf("exaggeration = %v, want 0.72", got)
	}
	if got := body["cfg_weight"].(float64); !approx(got, 0.78) {
		t.Errorf("cfg_weight = %v, want 0.78", got)
	}
}

func TestSynthesize_Defaults(t *testing.T) {
	t.Parallel()

	srv, requests := fakeServer(t, http.StatusOK)
	p, err := chatterbox.New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := p.Synthesize(context.Background(), "Hello.", tts.Voice{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if res.Model != "turbo" {
		t.Errorf("Model = %q, want turbo", res.Model)
	}
	body := requests()[0].Body
	if body["emotion"] != "neutral" || body["intensity"] != 0.5 || body["pace"] != 1.0 {
		t.Errorf("body = %v, want neutral defaults", body)
	}
	if _, ok := body["voice_reference"]; ok {
		t.Error("voice_reference sent without a reference")
	}
}

func TestSynthesize_Errors(t *testing.T) {
	t.Parallel()

	srv, _ := fakeServer(t, http.StatusServiceUnavailable)
	p, err := chatterbox.New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Synthesize(context.Background(), "Hi.", tts.Voice{}); err == nil {
		t.Error("Synthesize with 503: want error")
	} else if !strings.Contains(err.Error(), "503") {
		t.Errorf("error %q does not mention the status", err)
	}
	if _, err := p.Synthesize(context.Background(), "   ", tts.Voice{}); err == nil {
		t.Error("Synthesize with blank text: want error")
	}
	if _, err := chatterbox.New(""); err == nil {
		t.Error("New with empty URL: want error")
	}
}

func TestPing(t *testing.T) {
	t.Parallel()

	srv, _ := fakeServer(t, http.StatusOK)
	p, err := chatterbox.New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h, err := p.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if !h.TurboLoaded || h.FullLoaded || h.Device != "cpu" {
		t.Errorf("Health = %+v, want turbo only on cpu", h)
	}
	if err := p.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}

	down, err := chatterbox.New("http://127.0.0.1:19998", chatterbox.WithTimeout(500*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := down.Ping(context.Background()); err == nil {
		t.Error("Ping against unreachable server: want error")
	}
}

package httpapi_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/go-cmp/cmp"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/httpapi"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/pipeline"
	"github.com/MrWong99/parley/internal/respond"
	"github.com/MrWong99/parley/internal/reward"
)

// fakeDialogue emits a fixed event sequence, optionally failing before or
// after it.
type fakeDialogue struct {
	mu       sync.Mutex
	requests []httpapi.DialogueRequest

	events []pipeline.Event
	err    error
}

func (f *fakeDialogue) Converse(ctx context.Context, req httpapi.DialogueRequest, sink pipeline.Sink) error {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	for _, ev := range f.events {
		if err := sink.Emit(ctx, ev); err != nil {
			return err
		}
	}
	return f.err
}

func (f *fakeDialogue) Requests() []httpapi.DialogueRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]httpapi.DialogueRequest(nil), f.requests...)
}

func turnEvents() []pipeline.Event {
	return []pipeline.Event{
		pipeline.Meta{TurnID: "t1", NPCID: "bram", Action: "greet", CueCategory: "greet", InstantBark: "Hey there!", BarkDurationMS: 400},
		pipeline.PromptReady{TurnID: "t1", Prompt: "p", Action: "greet", Timing: map[string]float64{"action_scoring": 1}},
		respond.Sentence{TurnID: "t1", NPCName: "Bram", Sentence: "Well met.", AudioPath: "clip-1.wav", DurationMS: 200},
		respond.Done{TurnID: "t1", NPCName: "Bram", Response: "Well met.", Sentences: 1},
	}
}

type sseEvent struct {
	Event string
	Type  string
	Data  json.RawMessage
}

// readSSE parses a complete event stream body.
func readSSE(t *testing.T, resp *http.Response) []sseEvent {
	t.Helper()
	var (
		events []sseEvent
		cur    sseEvent
	)
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.Event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			var env struct {
				Type string          `json:"type"`
				Data json.RawMessage `json:"data"`
			}
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &env); err != nil {
				t.Fatalf("decode data line %q: %v", line, err)
			}
			cur.Type, cur.Data = env.Type, env.Data
		case line == "":
			events = append(events, cur)
			cur = sseEvent{}
		}
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("read stream: %v", err)
	}
	return events
}

func eventTypes(events []sseEvent) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func postDialogue(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url+"/api/dialogue", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/dialogue: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestDialogueSSE_StreamsEventsInOrder(t *testing.T) {
	t.Parallel()

	d := &fakeDialogue{events: turnEvents()}
	ts := httptest.NewServer(httpapi.New(d).Router())
	defer ts.Close()

	resp := postDialogue(t, ts.URL, `{"npc_id":"bram","utterance":"Hello!","player_signal":"friendly","npc_state":{"mood":"happy"},"conversation_id":"c1"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	events := readSSE(t, resp)
	want := []string{"meta", "prompt_ready", "sentence", "done"}
	if diff := cmp.Diff(want, eventTypes(events)); diff != "" {
		t.Fatalf("event types mismatch (-want +got):\n%s", diff)
	}
	for _, e := range events {
		if e.Event != e.Type {
			t.Errorf("event line %q does not match envelope type %q", e.Event, e.Type)
		}
	}

	var meta map[string]any
	if err := json.Unmarshal(events[0].Data, &meta); err != nil {
		t.Fatal(err)
	}
	if meta["npc_action"] != "greet" || meta["instant_bark"] != "Hey there!" {
		t.Errorf("meta = %v, want npc_action greet and instant_bark", meta)
	}

	got := d.Requests()
	wantReq := []httpapi.DialogueRequest{{
		NPCID: "bram", Utterance: "Hello!", PlayerSignal: "friendly",
		NPCState: map[string]string{"mood": "happy"}, ConversationID: "c1",
	}}
	if diff := cmp.Diff(wantReq, got); diff != "" {
		t.Errorf("requests mismatch (-want +got):\n%s", diff)
	}
}

func TestDialogueSSE_BadRequests(t *testing.T) {
	t.Parallel()

	d := &fakeDialogue{events: turnEvents()}
	ts := httptest.NewServer(httpapi.New(d).Router())
	defer ts.Close()

	tests := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"malformed json", `{"npc_id":`},
		{"unknown field", `{"npc":"bram"}`},
		{"utterance too long", `{"utterance":"` + strings.Repeat("a", httpapi.MaxUtteranceBytes+1) + `"}`},
	}
	for _, tc := range tests {
		resp := postDialogue(t, ts.URL, tc.body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", tc.name, resp.StatusCode)
		}
	}
	if n := len(d.Requests()); n != 0 {
		t.Errorf("dialogue called %d times for bad requests, want 0", n)
	}
}

func TestDialogueSSE_FailureBeforeStreaming(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"internal", errors.New("boom"), http.StatusInternalServerError},
		{"invalid", errors.Join(httpapi.ErrInvalidRequest, errors.New("unknown npc")), http.StatusBadRequest},
	}
	for _, tc := range tests {
		ts := httptest.NewServer(httpapi.New(&fakeDialogue{err: tc.err}).Router())
		resp := postDialogue(t, ts.URL, `{"utterance":"hi"}`)
		if resp.StatusCode != tc.want {
			t.Errorf("%s: status = %d, want %d", tc.name, resp.StatusCode, tc.want)
		}
		if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("%s: Content-Type = %q, want application/json", tc.name, ct)
		}
		ts.Close()
	}
}

func TestDialogueSSE_FailureMidStreamSendsErrorEvent(t *testing.T) {
	t.Parallel()

	d := &fakeDialogue{events: turnEvents()[:2], err: errors.New("respond: generate: upstream reset")}
	ts := httptest.NewServer(httpapi.New(d).Router())
	defer ts.Close()

	events := readSSE(t, postDialogue(t, ts.URL, `{"utterance":"hi"}`))
	want := []string{"meta", "prompt_ready", "error"}
	if diff := cmp.Diff(want, eventTypes(events)); diff != "" {
		t.Fatalf("event types mismatch (-want +got):\n%s", diff)
	}
	var ev httpapi.ErrorEvent
	if err := json.Unmarshal(events[2].Data, &ev); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ev.Message, "upstream reset") || ev.Code != "turn_failed" {
		t.Errorf("error event = %+v, want turn_failed with cause", ev)
	}
}

func TestDialogueWS_RunsTurnPerMessage(t *testing.T) {
	t.Parallel()

	d := &fakeDialogue{events: turnEvents()}
	ts := httptest.NewServer(httpapi.New(d).Router())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/api/dialogue/ws", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	type wireEvent struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	readTypes := func(n int) []string {
		var types []string
		for range n {
			var ev wireEvent
			if err := wsjson.Read(ctx, conn, &ev); err != nil {
				t.Fatalf("read event: %v", err)
			}
			types = append(types, ev.Type)
		}
		return types
	}

	for _, utterance := range []string{"Hello", "Bye"} {
		if err := wsjson.Write(ctx, conn, httpapi.DialogueRequest{NPCID: "bram", Utterance: utterance}); err != nil {
			t.Fatalf("write request: %v", err)
		}
		if diff := cmp.Diff([]string{"meta", "prompt_ready", "sentence", "done"}, readTypes(4)); diff != "" {
			t.Errorf("turn %q events mismatch (-want +got):\n%s", utterance, diff)
		}
	}

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"utterance":`)); err != nil {
		t.Fatalf("write malformed: %v", err)
	}
	if diff := cmp.Diff([]string{"error"}, readTypes(1)); diff != "" {
		t.Errorf("malformed request events mismatch (-want +got):\n%s", diff)
	}

	conn.Close(websocket.StatusNormalClosure, "")

	reqs := d.Requests()
	if len(reqs) != 2 || reqs[0].Utterance != "Hello" || reqs[1].Utterance != "Bye" {
		t.Errorf("requests = %+v, want Hello then Bye", reqs)
	}
}

func TestReward(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(httpapi.New(&fakeDialogue{}, httpapi.WithReward(reward.New())).Router())
	defer ts.Close()

	tests := []struct {
		name string
		body string
		want float64
	}{
		{"explicit negative", `{"text":"shut up","previous_action":"greet"}`, -1.0},
		{"positive continued by default", `{"text":"thanks"}`, 0.5},
		{"disengaged", `{"text":"thanks","conversation_continued":false}`, 0.2},
	}
	for _, tc := range tests {
		resp, err := http.Post(ts.URL+"/api/reward", "application/json", strings.NewReader(tc.body))
		if err != nil {
			t.Fatalf("%s: POST: %v", tc.name, err)
		}
		var out reward.Outcome
		err = json.NewDecoder(resp.Body).Decode(&out)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("%s: decode: %v", tc.name, err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", tc.name, resp.StatusCode)
		}
		if diff := out.Reward - tc.want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("%s: reward = %v, want %v", tc.name, out.Reward, tc.want)
		}
	}

	resp, err := http.Post(ts.URL+"/api/reward", "application/json", strings.NewReader(""))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty body status = %d, want 400", resp.StatusCode)
	}
}

func TestReward_Disabled(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(httpapi.New(&fakeDialogue{}).Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/reward", "application/json", strings.NewReader(`{"text":"hi"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestPerfLatency(t *testing.T) {
	t.Parallel()

	w := observe.NewStageWindow(10)
	w.Observe(pipeline.StageActionScoring, 4*time.Millisecond)
	w.ObserveIndicator("scorer_fallback")

	ts := httptest.NewServer(httpapi.New(&fakeDialogue{}, httpapi.WithStageWindow(w)).Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/perf/latency")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var snap observe.StageSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if snap.WindowSize != 10 {
		t.Errorf("window_size = %d, want 10", snap.WindowSize)
	}
	if len(snap.Stages) != 1 || snap.Stages[0].Stage != pipeline.StageActionScoring || snap.Stages[0].LastMS != 4 {
		t.Errorf("stages = %+v, want one action_scoring sample of 4ms", snap.Stages)
	}
	if len(snap.Indicators) != 1 || snap.Indicators[0].Count != 1 {
		t.Errorf("indicators = %+v, want scorer_fallback=1", snap.Indicators)
	}
}

func TestPerfLatency_NoWindow(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(httpapi.New(&fakeDialogue{}).Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/perf/latency")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	t.Parallel()

	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics\n"))
	})
	srv := httpapi.New(&fakeDialogue{},
		httpapi.WithHealth(health.New()),
		httpapi.WithMetricsHandler(metricsHandler),
	)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestDialogueSSE_ActiveStreamsReturnsToZero(t *testing.T) {
	t.Parallel()

	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	ts := httptest.NewServer(httpapi.New(&fakeDialogue{events: turnEvents()}, httpapi.WithMetrics(m)).Router())
	defer ts.Close()

	resp := postDialogue(t, ts.URL, `{"utterance":"hi"}`)
	_ = readSSE(t, resp)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "parley.active_streams" {
				continue
			}
			sum := met.Data.(metricdata.Sum[int64])
			if got := sum.DataPoints[0].Value; got != 0 {
				t.Errorf("active streams = %d, want 0", got)
			}
			return
		}
	}
	t.Error("parley.active_streams not recorded")
}

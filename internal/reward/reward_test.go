package reward_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/reward"
)

func TestCompute(t *testing.T) {
	t.Parallel()

	c := reward.New()
	ctx := context.Background()

	tests := []struct {
		name      string
		text      string
		continued bool
		want      float64
	}{
		{name: "continuation abandoned", text: "ok", continued: false, want: -0.3},
		{name: "continuation kept", text: "ok", continued: true, want: 0.0},
		{name: "explicit negative ignores continuation", text: "shut up, thanks", continued: true, want: -1.0},
		{name: "explicit negative abandoned", text: "you're useless", continued: false, want: -1.0},
		{name: "saturated positive", text: "thank you, perfect", continued: true, want: 1.0},
		{name: "positive abandoned", text: "thank you, perfect", continued: false, want: 0.7},
		{name: "default engaged", text: "Where is the inn?", continued: true, want: 0.1},
		{name: "default abandoned", text: "Where is the inn?", continued: false, want: -0.2},
		{name: "empty", text: "", continued: true, want: 0.1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := c.Compute(ctx, tc.text, "greet", tc.continued)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("Compute(%q, continued=%v) = %v, want %v", tc.text, tc.continued, got, tc.want)
			}
		})
	}
}

func TestCompute_PreviousActionDoesNotChangeResult(t *testing.T) {
	t.Parallel()

	c := reward.New()
	ctx := context.Background()
	base := c.Compute(ctx, "nice one", "", true)
	for _, action := range []string{"attack", "trade", "talk", "anything"} {
		if got := c.Compute(ctx, "nice one", action, true); got != base {
			t.Errorf("Compute with previous action %q = %v, want %v", action, got, base)
		}
	}
}

func TestCompute_Bounded(t *testing.T) {
	t.Parallel()

	c := reward.New()
	ctx := context.Background()
	for _, text := range []string{"", "ok", "hmm", "great, nice, thanks, amazing", "terrible", "blah"} {
		for _, continued := range []bool{true, false} {
			got := c.Compute(ctx, text, "talk", continued)
			if got < -1 || got > 1 {
				t.Errorf("Compute(%q, %v) = %v, out of [-1, 1]", text, continued, got)
			}
		}
	}
}

func TestEvaluate_ReturnsSentiment(t *testing.T) {
	t.Parallel()

	out := reward.New().Evaluate(context.Background(), "stop talking", "threaten", true)
	if !out.Sentiment.ExplicitNegative {
		t.Error("Sentiment.ExplicitNegative = false, want true")
	}
	if out.Reward != -1 {
		t.Errorf("Reward = %v, want -1", out.Reward)
	}
}

func TestEvaluate_RecordsMetrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	c := reward.New(reward.WithMetrics(m))
	c.Compute(context.Background(), "go away", "talk", true)
	c.Compute(context.Background(), "thanks", "talk", true)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "parley.reward.value" {
				continue
			}
			hist := met.Data.(metricdata.Histogram[float64])
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("reward samples = %d, want 2", got)
			}
			return
		}
	}
	t.Error("parley.reward.value not recorded")
}

type recordingJournal struct {
	mu      sync.Mutex
	entries []reward.Entry
	err     error
}

func (j *recordingJournal) Save(_ context.Context, e reward.Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
	return j.err
}

func TestEvaluate_Journal(t *testing.T) {
	t.Parallel()

	j := &recordingJournal{}
	c := reward.New(reward.WithJournal(j))
	out := c.Evaluate(context.Background(), "thanks", "trade", false)

	if len(j.entries) != 1 {
		t.Fatalf("journal entries = %d, want 1", len(j.entries))
	}
	e := j.entries[0]
	if e.Text != "thanks" || e.PreviousAction != "trade" || e.Continued {
		t.Errorf("entry = %+v, want the evaluated inputs", e)
	}
	if e.Outcome.Reward != out.Reward {
		t.Errorf("entry reward = %v, want %v", e.Outcome.Reward, out.Reward)
	}
}

func TestEvaluate_JournalErrorIgnored(t *testing.T) {
	t.Parallel()

	c := reward.New(reward.WithJournal(&recordingJournal{err: errors.New("disk full")}))
	if got := c.Compute(context.Background(), "ok", "talk", true); got != 0 {
		t.Errorf("Compute with failing journal = %v, want 0", got)
	}
}

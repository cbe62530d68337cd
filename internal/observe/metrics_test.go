package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/sonichess/pkg/audio/mixer"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumWhere returns the value of the int64 sum data point whose attribute key
// equals value.
func sumWhere(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	t.Fatalf("metric %q: no data point with %s=%s", name, key, value)
	return 0
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestSonifyDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	attrs := metric.WithAttributes(attribute.String("sonifier", "board"))
	m.SonifyDuration.Record(ctx, 0.0003, attrs)
	m.SonifyDuration.Record(ctx, 0.002, attrs)

	rm := collect(t, reader)
	met := findMetric(rm, "sonichess.sonify.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := hist.DataPoints[0].Count; got != 2 {
		t.Errorf("sample count = %d, want 2", got)
	}
}

func TestCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordGameEvent(ctx, "move", StatusAccepted)
	m.RecordGameEvent(ctx, "move", StatusAccepted)
	m.RecordGameEvent(ctx, "move", StatusInvalid)
	m.RecordVoice(ctx, "melody")
	m.RecordVoiceRejected(ctx, ReasonQueueFull)
	m.RecordVoiceRejected(ctx, ReasonQueueFull)
	m.RecordVoiceRejected(ctx, ReasonArenaFull)

	rm := collect(t, reader)

	tests := []struct {
		name, key, value string
		want             int64
	}{
		{"sonichess.game.events", "status", StatusAccepted, 2},
		{"sonichess.game.events", "status", StatusInvalid, 1},
		{"sonichess.voices.requested", "sonifier", "melody", 1},
		{"sonichess.voices.rejected", "reason", ReasonQueueFull, 2},
		{"sonichess.voices.rejected", "reason", ReasonArenaFull, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name+"/"+tc.value, func(t *testing.T) {
			if got := sumWhere(t, rm, tc.name, tc.key, tc.value); got != tc.want {
				t.Errorf("value = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestFeedConnectionsGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.FeedConnections.Add(ctx, 1)
	m.FeedConnections.Add(ctx, 1)
	m.FeedConnections.Add(ctx, -1)

	rm := collect(t, reader)
	met := findMetric(rm, "sonichess.feed.connections")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) == 0 {
		t.Fatalf("metric data = %T with no points", met.Data)
	}
	if got := sum.DataPoints[0].Value; got != 1 {
		t.Errorf("gauge value = %d, want 1", got)
	}
}

type fakeProcessor struct {
	stats mixer.Stats
	gain  float32
}

func (f *fakeProcessor) Stats() mixer.Stats { return f.stats }
func (f *fakeProcessor) Gain() float32      { return f.gain }

func TestObserveProcessor(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	src := &fakeProcessor{
		stats: mixer.Stats{Frames: 4800, TriggersFired: 9, Retired: 3, Evicted: 1, LiveVoices: 2, ScheduledEntries: 5},
		gain:  0.5,
	}
	reg, err := ObserveProcessor(mp, src)
	if err != nil {
		t.Fatalf("ObserveProcessor: %v", err)
	}
	t.Cleanup(func() { _ = reg.Unregister() })

	rm := collect(t, reader)

	counters := map[string]int64{
		"sonichess.mixer.frames":         4800,
		"sonichess.mixer.triggers_fired": 9,
		"sonichess.mixer.voices_retired": 3,
		"sonichess.mixer.voices_evicted": 1,
	}
	for name, want := range counters {
		met := findMetric(rm, name)
		if met == nil {
			t.Fatalf("metric %q not found", name)
		}
		sum, ok := met.Data.(metricdata.Sum[int64])
		if !ok || len(sum.DataPoints) != 1 {
			t.Fatalf("metric %q: data = %#v", name, met.Data)
		}
		if got := sum.DataPoints[0].Value; got != want {
			t.Errorf("%s = %d, want %d", name, got, want)
		}
	}

	gauges := map[string]int64{
		"sonichess.mixer.live_voices":      2,
		"sonichess.mixer.pending_triggers": 5,
	}
	for name, want := range gauges {
		met := findMetric(rm, name)
		if met == nil {
			t.Fatalf("metric %q not found", name)
		}
		g, ok := met.Data.(metricdata.Gauge[int64])
		if !ok || len(g.DataPoints) != 1 {
			t.Fatalf("metric %q: data = %#v", name, met.Data)
		}
		if got := g.DataPoints[0].Value; got != want {
			t.Errorf("%s = %d, want %d", name, got, want)
		}
	}

	met := findMetric(rm, "sonichess.mixer.gain")
	if met == nil {
		t.Fatal("gain metric not found")
	}
	if g, ok := met.Data.(metricdata.Gauge[float64]); !ok || g.DataPoints[0].Value != 0.5 {
		t.Errorf("gain data = %#v, want 0.5", met.Data)
	}
}

func TestHTTPRequestDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.HTTPRequestDuration.Record(ctx, 0.05,
		metric.WithAttributes(
			attribute.String("method", "GET"),
			attribute.String("path", "/healthz"),
		),
	)

	rm := collect(t, reader)
	met := findMetric(rm, "sonichess.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := hist.DataPoints[0].Count; got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}

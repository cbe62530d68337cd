// Package observe provides application-wide observability primitives for
// sonichess: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
//
// The audio goroutine never touches these instruments. Render-side counters
// are atomics inside the mixer and are exported through observable
// instruments registered with [ObserveProcessor].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/sonichess/pkg/audio/mixer"
)

// meterName is the instrumentation scope name used for all sonichess metrics.
const meterName = "github.com/MrWong99/sonichess"

// Status and reason attribute values shared by callers.
const (
	StatusAccepted = "accepted"
	StatusDropped  = "dropped"
	StatusInvalid  = "invalid"
	StatusLimited  = "rate_limited"

	ReasonQueueFull = "queue_full"
	ReasonArenaFull = "arena_full"
	ReasonOther     = "other"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// SonifyDuration tracks how long a sonifier takes to turn one game event
	// into voice requests. Use with attribute:
	//   attribute.String("sonifier", ...)
	SonifyDuration metric.Float64Histogram

	// GameEvents counts game events received. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("status", ...)
	GameEvents metric.Int64Counter

	// VoicesRequested counts voices handed to the mixer. Use with attribute:
	//   attribute.String("sonifier", ...)
	VoicesRequested metric.Int64Counter

	// VoicesRejected counts voice requests the mixer refused. Use with
	// attribute:
	//   attribute.String("reason", ...)
	VoicesRejected metric.Int64Counter

	// FeedConnections tracks the number of open game-event feed connections.
	FeedConnections metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// control-side work that must keep up with a chess clock, not an audio
// callback.
var latencyBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.SonifyDuration, err = m.Float64Histogram("sonichess.sonify.duration",
		metric.WithDescription("Time spent turning a game event into voices."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.GameEvents, err = m.Int64Counter("sonichess.game.events",
		metric.WithDescription("Total game events by kind and status."),
	); err != nil {
		return nil, err
	}
	if met.VoicesRequested, err = m.Int64Counter("sonichess.voices.requested",
		metric.WithDescription("Total voices handed to the mixer by sonifier."),
	); err != nil {
		return nil, err
	}
	if met.VoicesRejected, err = m.Int64Counter("sonichess.voices.rejected",
		metric.WithDescription("Total voice requests refused by the mixer by reason."),
	); err != nil {
		return nil, err
	}

	if met.FeedConnections, err = m.Int64UpDownCounter("sonichess.feed.connections",
		metric.WithDescription("Number of open game-event feed connections."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("sonichess.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordGameEvent records a game event counter increment.
func (m *Metrics) RecordGameEvent(ctx context.Context, kind, status string) {
	m.GameEvents.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordVoice records a voice handed to the mixer.
func (m *Metrics) RecordVoice(ctx context.Context, sonifier string) {
	m.VoicesRequested.Add(ctx, 1,
		metric.WithAttributes(attribute.String("sonifier", sonifier)),
	)
}

// RecordVoiceRejected records a voice request the mixer refused.
func (m *Metrics) RecordVoiceRejected(ctx context.Context, reason string) {
	m.VoicesRejected.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// ProcessorSource is the part of [mixer.Processor] read by
// [ObserveProcessor].
type ProcessorSource interface {
	Stats() mixer.Stats
	Gain() float32
}

// ObserveProcessor registers observable instruments that read src's
// counters at collection time. Unregister the returned registration when src
// is discarded.
func ObserveProcessor(mp metric.MeterProvider, src ProcessorSource) (metric.Registration, error) {
	m := mp.Meter(meterName)

	frames, err := m.Int64ObservableCounter("sonichess.mixer.frames",
		metric.WithDescription("Total frames rendered by the mixer."),
		metric.WithUnit("{frame}"),
	)
	if err != nil {
		return nil, err
	}
	fired, err := m.Int64ObservableCounter("sonichess.mixer.triggers_fired",
		metric.WithDescription("Total scheduled transitions that reached their sample index."),
	)
	if err != nil {
		return nil, err
	}
	retired, err := m.Int64ObservableCounter("sonichess.mixer.voices_retired",
		metric.WithDescription("Total voices handed back for reclamation."),
	)
	if err != nil {
		return nil, err
	}
	evicted, err := m.Int64ObservableCounter("sonichess.mixer.voices_evicted",
		metric.WithDescription("Total voices removed after they went silent."),
	)
	if err != nil {
		return nil, err
	}
	live, err := m.Int64ObservableGauge("sonichess.mixer.live_voices",
		metric.WithDescription("Number of voices rendered in the last block."),
	)
	if err != nil {
		return nil, err
	}
	pending, err := m.Int64ObservableGauge("sonichess.mixer.pending_triggers",
		metric.WithDescription("Number of scheduled transitions not yet fired."),
	)
	if err != nil {
		return nil, err
	}
	gain, err := m.Float64ObservableGauge("sonichess.mixer.gain",
		metric.WithDescription("Master gain applied to the mix."),
	)
	if err != nil {
		return nil, err
	}

	return m.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		st := src.Stats()
		o.ObserveInt64(frames, st.Frames)
		o.ObserveInt64(fired, st.TriggersFired)
		o.ObserveInt64(retired, st.Retired)
		o.ObserveInt64(evicted, st.Evicted)
		o.ObserveInt64(live, st.LiveVoices)
		o.ObserveInt64(pending, st.ScheduledEntries)
		o.ObserveFloat64(gain, float64(src.Gain()))
		return nil
	}, frames, fired, retired, evicted, live, pending, gain)
}

// Package observe provides the observability primitives shared by the
// analysis pipeline and live sessions: OpenTelemetry metrics, tracing, and
// trace-correlated structured logging.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider]. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/MrWong99/singalong"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// AnalysisDuration tracks a full offline analysis, separation included.
	AnalysisDuration metric.Float64Histogram

	// DecodeDuration tracks WAV decoding.
	DecodeDuration metric.Float64Histogram

	// PitchDuration tracks offline pitch extraction.
	PitchDuration metric.Float64Histogram

	// SegmentDuration tracks note segmentation.
	SegmentDuration metric.Float64Histogram

	// SeparationDuration tracks the guarded vocal-isolation call. Use with
	// attribute.String("status", ...).
	SeparationDuration metric.Float64Histogram

	// --- Counters ---

	// SeparationRequests counts gate requests. Use with attributes:
	//   attribute.String("status", ...), attribute.Bool("shared", ...)
	SeparationRequests metric.Int64Counter

	// SeparationErrors counts failed separation attempts. Use with attribute:
	//   attribute.String("provider", ...)
	SeparationErrors metric.Int64Counter

	// AnalysisDegraded counts analyses that hit a resource ceiling.
	AnalysisDegraded metric.Int64Counter

	// NotesProduced counts notes emitted by the segmenter.
	NotesProduced metric.Int64Counter

	// LiveFrames counts frames processed by live sessions. Use with attribute:
	//   attribute.Bool("voiced", ...)
	LiveFrames metric.Int64Counter

	// --- Gauges ---

	// LiveSessions tracks the number of active microphone sessions.
	LiveSessions metric.Int64UpDownCounter

	// SeparationInFlight tracks separation calls currently running.
	SeparationInFlight metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Vocal
// isolation of a full song routinely takes minutes, so the tail is long.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.AnalysisDuration, "singalong.analysis.duration", "Latency of a complete offline analysis."},
		{&met.DecodeDuration, "singalong.decode.duration", "Latency of WAV decoding."},
		{&met.PitchDuration, "singalong.pitch.duration", "Latency of offline pitch extraction."},
		{&met.SegmentDuration, "singalong.segment.duration", "Latency of note segmentation."},
		{&met.SeparationDuration, "singalong.separation.duration", "Latency of vocal isolation by status."},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	// Counters.
	if met.SeparationRequests, err = m.Int64Counter("singalong.separation.requests",
		metric.WithDescription("Total separation gate requests by status and whether the result was shared."),
	); err != nil {
		return nil, err
	}
	if met.SeparationErrors, err = m.Int64Counter("singalong.separation.errors",
		metric.WithDescription("Total failed separation attempts by provider."),
	); err != nil {
		return nil, err
	}
	if met.AnalysisDegraded, err = m.Int64Counter("singalong.analysis.degraded",
		metric.WithDescription("Total analyses degraded to an empty result by a resource ceiling."),
	); err != nil {
		return nil, err
	}
	if met.NotesProduced, err = m.Int64Counter("singalong.notes.produced",
		metric.WithDescription("Total notes produced by the segmenter."),
	); err != nil {
		return nil, err
	}
	if met.LiveFrames, err = m.Int64Counter("singalong.live.frames",
		metric.WithDescription("Total live microphone frames analysed, by voicing."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.LiveSessions, err = m.Int64UpDownCounter("singalong.live.sessions",
		metric.WithDescription("Number of active microphone sessions."),
	); err != nil {
		return nil, err
	}
	if met.SeparationInFlight, err = m.Int64UpDownCounter("singalong.separation.inflight",
		metric.WithDescription("Number of separation calls currently executing."),
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
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordSeparationRequest records one gate request outcome.
func (m *Metrics) RecordSeparationRequest(ctx context.Context, status string, shared bool) {
	m.SeparationRequests.Add(ctx, 1,
		metric.WithAttributes(
			Attr("status", status),
			attribute.Bool("shared", shared),
		),
	)
}

// RecordSeparationError records a failed attempt against provider.
func (m *Metrics) RecordSeparationError(ctx context.Context, provider string) {
	m.SeparationErrors.Add(ctx, 1,
		metric.WithAttributes(Attr("provider", provider)),
	)
}

// RecordLiveFrame records one processed live frame.
func (m *Metrics) RecordLiveFrame(ctx context.Context, voiced bool) {
	m.LiveFrames.Add(ctx, 1,
		metric.WithAttributes(attribute.Bool("voiced", voiced)),
	)
}

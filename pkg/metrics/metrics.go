// Package metrics is the process-wide OTel metrics registry (§5: "a
// process-wide metrics registry" is the only permitted global mutable
// state). A Prometheus exporter bridge lets it be scraped over HTTP.
package metrics

import (
	"context"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "github.com/asp-voice/bridge"

var latencyBucketsMs = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2000, 5000}

// Metrics holds every OTel instrument the session and pipeline layers
// record against. All fields are safe for concurrent use.
type Metrics struct {
	FramesIn  metric.Int64Counter
	FramesOut metric.Int64Counter

	Utterances metric.Int64Counter
	BargeIns   metric.Int64Counter

	TimeToFirstAudio     metric.Float64Histogram
	CancellationLatency  metric.Float64Histogram
	BackpressureEvents   metric.Int64Counter
	ProviderFailures     metric.Int64Counter
	ActiveSessions       metric.Int64UpDownCounter
}

// New creates a fully initialised Metrics using mp. Returns an error if
// any instrument fails to register.
func New(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}
	var err error

	if met.FramesIn, err = m.Int64Counter("asp.frames.in",
		metric.WithDescription("Inbound audio frames received per session."),
	); err != nil {
		return nil, err
	}
	if met.FramesOut, err = m.Int64Counter("asp.frames.out",
		metric.WithDescription("Outbound audio frames sent per session."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("asp.utterances",
		metric.WithDescription("Utterances completed (audio.end received with non-empty audio)."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("asp.barge_ins",
		metric.WithDescription("Barge-ins that interrupted an in-flight response."),
	); err != nil {
		return nil, err
	}
	if met.TimeToFirstAudio, err = m.Float64Histogram("asp.ttfa",
		metric.WithDescription("Time from utterance-ready to the first outbound audio frame."),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(latencyBucketsMs...),
	); err != nil {
		return nil, err
	}
	if met.CancellationLatency, err = m.Float64Histogram("asp.cancellation_latency",
		metric.WithDescription("Time from barge-in to response.cancelled reaching the wire."),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(latencyBucketsMs...),
	); err != nil {
		return nil, err
	}
	if met.BackpressureEvents, err = m.Int64Counter("asp.backpressure_events",
		metric.WithDescription("Times the outbound writer queue crossed the high watermark."),
	); err != nil {
		return nil, err
	}
	if met.ProviderFailures, err = m.Int64Counter("asp.provider.failures",
		metric.WithDescription("Provider call failures by provider name."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("asp.active_sessions",
		metric.WithDescription("Number of live ASP sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// Default returns the package-level Metrics instance, created on first
// call against the global OTel meter provider. Panics if instrument
// registration fails against the global provider, which should not
// happen.
func Default() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = New(otel.GetMeterProvider())
		if err != nil {
			panic("metrics: failed to create default instruments: " + err.Error())
		}
	})
	return defaultMetrics
}

// InitPrometheus wires a Prometheus exporter bridge into the global OTel
// meter provider and returns the /metrics HTTP handler to mount.
func InitPrometheus() (http.Handler, func(context.Context) error, error) {
	exp, err := promexporter.New()
	if err != nil {
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exp))
	otel.SetMeterProvider(mp)
	return promhttp.Handler(), mp.Shutdown, nil
}

func (m *Metrics) RecordFramesIn(ctx context.Context, sessionID string, n int64) {
	m.FramesIn.Add(ctx, n, metric.WithAttributes(attribute.String("session_id", sessionID)))
}

func (m *Metrics) RecordFramesOut(ctx context.Context, sessionID string, n int64) {
	m.FramesOut.Add(ctx, n, metric.WithAttributes(attribute.String("session_id", sessionID)))
}

func (m *Metrics) RecordUtterance(ctx context.Context, sessionID string) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(attribute.String("session_id", sessionID)))
}

func (m *Metrics) RecordBargeIn(ctx context.Context, sessionID string) {
	m.BargeIns.Add(ctx, 1, metric.WithAttributes(attribute.String("session_id", sessionID)))
}

func (m *Metrics) RecordTTFA(ctx context.Context, sessionID string, ms float64) {
	m.TimeToFirstAudio.Record(ctx, ms, metric.WithAttributes(attribute.String("session_id", sessionID)))
}

func (m *Metrics) RecordCancellationLatency(ctx context.Context, sessionID string, ms float64) {
	m.CancellationLatency.Record(ctx, ms, metric.WithAttributes(attribute.String("session_id", sessionID)))
}

func (m *Metrics) RecordBackpressure(ctx context.Context, sessionID string) {
	m.BackpressureEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("session_id", sessionID)))
}

func (m *Metrics) RecordProviderFailure(ctx context.Context, provider string) {
	m.ProviderFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
}

package metrics

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := New(mp)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

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

func TestNewCreatesAllInstruments(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("New returned nil")
	}
}

func TestRecordFramesInOut(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFramesIn(ctx, "sess-1", 10)
	m.RecordFramesIn(ctx, "sess-1", 5)
	m.RecordFramesOut(ctx, "sess-1", 3)

	rm := collect(t, reader)

	in := findMetric(rm, "asp.frames.in")
	if in == nil {
		t.Fatal("asp.frames.in not found")
	}
	sum, ok := in.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("asp.frames.in is not a sum")
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	if total != 15 {
		t.Errorf("frames in total = %d, want 15", total)
	}

	out := findMetric(rm, "asp.frames.out")
	if out == nil {
		t.Fatal("asp.frames.out not found")
	}
}

func TestRecordUtteranceAndBargeIn(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordUtterance(ctx, "sess-1")
	m.RecordUtterance(ctx, "sess-1")
	m.RecordBargeIn(ctx, "sess-1")

	rm := collect(t, reader)

	utt := findMetric(rm, "asp.utterances")
	if utt == nil {
		t.Fatal("asp.utterances not found")
	}
	sum := utt.Data.(metricdata.Sum[int64])
	if sum.DataPoints[0].Value != 2 {
		t.Errorf("utterances = %d, want 2", sum.DataPoints[0].Value)
	}

	bargeIns := findMetric(rm, "asp.barge_ins")
	if bargeIns == nil {
		t.Fatal("asp.barge_ins not found")
	}
}

func TestRecordTTFAHistogram(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTTFA(ctx, "sess-1", 120)
	m.RecordTTFA(ctx, "sess-1", 340)

	rm := collect(t, reader)
	met := findMetric(rm, "asp.ttfa")
	if met == nil {
		t.Fatal("asp.ttfa not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("asp.ttfa is not a histogram")
	}
	if len(hist.DataPoints) == 0 || hist.DataPoints[0].Count != 2 {
		t.Fatalf("unexpected histogram data: %+v", hist.DataPoints)
	}
}

func TestRecordCancellationLatencyHistogram(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCancellationLatency(ctx, "sess-1", 45)

	rm := collect(t, reader)
	met := findMetric(rm, "asp.cancellation_latency")
	if met == nil {
		t.Fatal("asp.cancellation_latency not found")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) == 0 || hist.DataPoints[0].Count != 1 {
		t.Fatalf("unexpected histogram data: %+v", hist.DataPoints)
	}
}

func TestRecordBackpressureAndProviderFailure(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordBackpressure(ctx, "sess-1")
	m.RecordProviderFailure(ctx, "deepgram-stt")

	rm := collect(t, reader)
	if findMetric(rm, "asp.backpressure_events") == nil {
		t.Error("asp.backpressure_events not found")
	}
	if findMetric(rm, "asp.provider.failures") == nil {
		t.Error("asp.provider.failures not found")
	}
}

func TestActiveSessionsUpDownCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)

	rm := collect(t, reader)
	met := findMetric(rm, "asp.active_sessions")
	if met == nil {
		t.Fatal("asp.active_sessions not found")
	}
	sum := met.Data.(metricdata.Sum[int64])
	if sum.DataPoints[0].Value != 1 {
		t.Errorf("active sessions = %d, want 1", sum.DataPoints[0].Value)
	}
}

func TestDefaultReturnsSameInstance(t *testing.T) {
	a := Default()
	b := Default()
	if a != b {
		t.Error("Default returned different pointers")
	}
}

package observe

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics builds a Metrics instance backed by a ManualReader so tests
// can collect and inspect recorded data points.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		if err := mp.Shutdown(context.Background()); err != nil {
			t.Errorf("shutdown meter provider: %v", err)
		}
	})

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) (metricdata.Metrics, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

func TestNewMetrics(t *testing.T) {
	t.Parallel()

	m, _ := newTestMetrics(t)

	if m.STTDuration == nil {
		t.Error("STTDuration not initialized")
	}
	if m.InterpretDuration == nil {
		t.Error("InterpretDuration not initialized")
	}
	if m.TTSDuration == nil {
		t.Error("TTSDuration not initialized")
	}
	if m.Confirmations == nil {
		t.Error("Confirmations not initialized")
	}
	if m.ActiveSessions == nil {
		t.Error("ActiveSessions not initialized")
	}
	if m.HTTPRequestDuration == nil {
		t.Error("HTTPRequestDuration not initialized")
	}
}

func TestHistogramRecording(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.STTDuration.Record(ctx, 0.42, Attr("provider", "deepgram"))
	m.STTDuration.Record(ctx, 1.87, Attr("provider", "deepgram"))

	rm := collect(t, reader)
	metric, ok := findMetric(rm, "ember.stt.duration")
	if !ok {
		t.Fatal("ember.stt.duration not found in collected metrics")
	}

	hist, ok := metric.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("expected Histogram[float64], got %T", metric.Data)
	}
	if len(hist.DataPoints) != 1 {
		t.Fatalf("expected 1 data point, got %d", len(hist.DataPoints))
	}

	dp := hist.DataPoints[0]
	if dp.Count != 2 {
		t.Errorf("expected count 2, got %d", dp.Count)
	}
	if dp.Sum < 2.28 || dp.Sum > 2.30 {
		t.Errorf("expected sum ~2.29, got %f", dp.Sum)
	}
}

func TestCounterRecording(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "openai", "llm", "ok")
	m.RecordProviderRequest(ctx, "openai", "llm", "ok")
	m.RecordProviderRequest(ctx, "elevenlabs", "tts", "error")

	rm := collect(t, reader)
	metric, ok := findMetric(rm, "ember.provider.requests")
	if !ok {
		t.Fatal("ember.provider.requests not found in collected metrics")
	}

	sum, ok := metric.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("expected Sum[int64], got %T", metric.Data)
	}

	// Two distinct attribute sets.
	if len(sum.DataPoints) != 2 {
		t.Fatalf("expected 2 data points, got %d", len(sum.DataPoints))
	}

	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	if total != 3 {
		t.Errorf("expected total 3, got %d", total)
	}
}

func TestConfirmationCounters(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordConfirmation(ctx, "manual")
	m.RecordConfirmation(ctx, "auto")
	m.RecordConfirmation(ctx, "auto")
	m.RecordCancellation(ctx)

	rm := collect(t, reader)

	conf, ok := findMetric(rm, "ember.dialog.confirmations")
	if !ok {
		t.Fatal("ember.dialog.confirmations not found")
	}
	confSum := conf.Data.(metricdata.Sum[int64])
	var confirmations int64
	for _, dp := range confSum.DataPoints {
		confirmations += dp.Value
	}
	if confirmations != 3 {
		t.Errorf("expected 3 confirmations, got %d", confirmations)
	}

	canc, ok := findMetric(rm, "ember.dialog.cancellations")
	if !ok {
		t.Fatal("ember.dialog.cancellations not found")
	}
	cancSum := canc.Data.(metricdata.Sum[int64])
	if len(cancSum.DataPoints) != 1 || cancSum.DataPoints[0].Value != 1 {
		t.Errorf("expected 1 cancellation, got %+v", cancSum.DataPoints)
	}
}

func TestAlertAndHomeCounters(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordAlert(ctx, "sms", "delivered")
	m.RecordAlert(ctx, "pushover", "failed")
	m.RecordHomeCommand(ctx, "ok")

	rm := collect(t, reader)

	alerts, ok := findMetric(rm, "ember.alerts.sent")
	if !ok {
		t.Fatal("ember.alerts.sent not found")
	}
	alertSum := alerts.Data.(metricdata.Sum[int64])
	if len(alertSum.DataPoints) != 2 {
		t.Errorf("expected 2 alert data points, got %d", len(alertSum.DataPoints))
	}

	home, ok := findMetric(rm, "ember.smarthome.commands")
	if !ok {
		t.Fatal("ember.smarthome.commands not found")
	}
	homeSum := home.Data.(metricdata.Sum[int64])
	if len(homeSum.DataPoints) != 1 || homeSum.DataPoints[0].Value != 1 {
		t.Errorf("expected 1 home command, got %+v", homeSum.DataPoints)
	}
}

func TestGaugeRecording(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)

	rm := collect(t, reader)
	metric, ok := findMetric(rm, "ember.active_sessions")
	if !ok {
		t.Fatal("ember.active_sessions not found in collected metrics")
	}

	sum, ok := metric.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("expected Sum[int64], got %T", metric.Data)
	}
	if len(sum.DataPoints) != 1 {
		t.Fatalf("expected 1 data point, got %d", len(sum.DataPoints))
	}
	if sum.DataPoints[0].Value != 1 {
		t.Errorf("expected value 1, got %d", sum.DataPoints[0].Value)
	}
}

func TestDefaultMetricsSingleton(t *testing.T) {
	m1, err := DefaultMetrics()
	if err != nil {
		t.Fatalf("DefaultMetrics: %v", err)
	}
	m2, err := DefaultMetrics()
	if err != nil {
		t.Fatalf("DefaultMetrics second call: %v", err)
	}
	if m1 != m2 {
		t.Error("DefaultMetrics returned different instances")
	}
}

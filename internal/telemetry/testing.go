package telemetry

import (
	"context"
	"sync"
	"testing"

	"go.opentelemetry.io/otel"
	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestTelemetry keeps every signal in memory. Spans and log records are
// recorded synchronously; metrics are read on demand with Collect.
type TestTelemetry struct {
	*Telemetry

	spans  *tracetest.SpanRecorder
	reader *sdkmetric.ManualReader
	logs   *LogRecorder
}

// NewTestTelemetry builds an enabled Telemetry backed by in-memory
// exporters. It does not touch the global providers; see Install.
func NewTestTelemetry() *TestTelemetry {
	cfg := NewDefaultConfig()
	cfg.Enabled = true

	spans := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()
	logs := &LogRecorder{}

	return &TestTelemetry{
		Telemetry: &Telemetry{
			config:         cfg,
			tracerProvider: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans)),
			meterProvider:  sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
			loggerProvider: sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewSimpleProcessor(logs))),
		},
		spans:  spans,
		reader: reader,
		logs:   logs,
	}
}

// Install makes the in-memory providers global for the rest of the test,
// for code that resolves its tracer or meter through otel. Tests calling
// Install must not run in parallel.
func (t *TestTelemetry) Install(tb testing.TB) {
	tb.Helper()
	prevTracer, prevMeter := otel.GetTracerProvider(), otel.GetMeterProvider()
	otel.SetTracerProvider(t.tracerProvider)
	otel.SetMeterProvider(t.meterProvider)
	tb.Cleanup(func() {
		otel.SetTracerProvider(prevTracer)
		otel.SetMeterProvider(prevMeter)
	})
}

// Spans returns every ended span in end order.
func (t *TestTelemetry) Spans() []sdktrace.ReadOnlySpan {
	return t.spans.Ended()
}

// SpanByName returns the first ended span called name, or nil.
func (t *TestTelemetry) SpanByName(name string) sdktrace.ReadOnlySpan {
	for _, s := range t.Spans() {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

// AssertSpanExists fails tb unless a span called name has ended.
func (t *TestTelemetry) AssertSpanExists(tb testing.TB, name string) {
	tb.Helper()
	if t.SpanByName(name) == nil {
		var names []string
		for _, s := range t.Spans() {
			names = append(names, s.Name())
		}
		tb.Errorf("span %q not recorded; have %v", name, names)
	}
}

// AssertSpanAttribute fails tb unless span name carries key with want.
// Integer attributes compare as int64.
func (t *TestTelemetry) AssertSpanAttribute(tb testing.TB, name, key string, want any) {
	tb.Helper()
	span := t.SpanByName(name)
	if span == nil {
		tb.Fatalf("span %q not recorded", name)
	}
	for _, kv := range span.Attributes() {
		if string(kv.Key) != key {
			continue
		}
		if got := kv.Value.AsInterface(); got != want {
			tb.Errorf("span %q attribute %q = %v (%T), want %v (%T)", name, key, got, got, want, want)
		}
		return
	}
	tb.Errorf("span %q has no attribute %q", name, key)
}

// Collect reads the current metric state.
func (t *TestTelemetry) Collect(ctx context.Context) (metricdata.ResourceMetrics, error) {
	var rm metricdata.ResourceMetrics
	err := t.reader.Collect(ctx, &rm)
	return rm, err
}

// Logs returns the recorder behind LoggerProvider.
func (t *TestTelemetry) Logs() *LogRecorder {
	return t.logs
}

// LogRecorder is an sdklog.Exporter that keeps records in memory.
type LogRecorder struct {
	mu      sync.Mutex
	records []sdklog.Record
}

var _ sdklog.Exporter = (*LogRecorder)(nil)

// Export stores clones of records.
func (r *LogRecorder) Export(_ context.Context, records []sdklog.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range records {
		r.records = append(r.records, rec.Clone())
	}
	return nil
}

// Shutdown is a no-op.
func (r *LogRecorder) Shutdown(context.Context) error { return nil }

// ForceFlush is a no-op.
func (r *LogRecorder) ForceFlush(context.Context) error { return nil }

// Bodies returns the string body of every record in export order.
func (r *LogRecorder) Bodies() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.Body().AsString())
	}
	return out
}

// Attribute returns the string form of key on the first record whose body
// is body.
func (r *LogRecorder) Attribute(body, key string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.Body().AsString() != body {
			continue
		}
		var (
			val   string
			found bool
		)
		rec.WalkAttributes(func(kv otellog.KeyValue) bool {
			if kv.Key == key {
				val, found = kv.Value.String(), true
				return false
			}
			return true
		})
		return val, found
	}
	return "", false
}

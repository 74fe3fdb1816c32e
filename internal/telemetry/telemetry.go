package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry owns the trace, metric and log pipelines of one process.
//
// A signal whose exporter cannot be built stays on the global no-op
// provider and the reason is kept for Health; a recovery chain never
// fails because the collector is unreachable.
type Telemetry struct {
	config *Config

	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	loggerProvider *sdklog.LoggerProvider

	mu       sync.Mutex
	problems []string
	closed   atomic.Bool
}

// Option overrides part of the pipeline New builds.
type Option func(*options)

type options struct {
	spans sdktrace.SpanExporter
	logs  sdklog.Exporter
}

// WithSpanExporter replaces the OTLP trace exporter.
func WithSpanExporter(exp sdktrace.SpanExporter) Option {
	return func(o *options) { o.spans = exp }
}

// WithLogExporter replaces the OTLP log exporter.
func WithLogExporter(exp sdklog.Exporter) Option {
	return func(o *options) { o.logs = exp }
}

// New validates cfg and, when telemetry is enabled, installs the providers
// globally. Only an invalid config is an error.
func New(ctx context.Context, cfg *Config, opts ...Option) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}
	t := &Telemetry{config: cfg}
	if !cfg.Enabled {
		return t, nil
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	res := newResource(cfg)

	if tp, err := newTracerProvider(ctx, cfg, res, o.spans); err != nil {
		t.degrade("traces", err)
	} else {
		t.tracerProvider = tp
		otel.SetTracerProvider(tp)
	}

	if mp, err := newMeterProvider(ctx, cfg, res); err != nil {
		t.degrade("metrics", err)
	} else if mp != nil {
		t.meterProvider = mp
		otel.SetMeterProvider(mp)
	}

	if lp, err := newLoggerProvider(ctx, cfg, res, o.logs); err != nil {
		t.degrade("logs", err)
	} else if lp != nil {
		t.loggerProvider = lp
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return t, nil
}

// Tracer returns a tracer from this pipeline, or the global one when
// traces are not exported.
func (t *Telemetry) Tracer(name string, opts ...trace.TracerOption) trace.Tracer {
	if t == nil || t.tracerProvider == nil {
		return otel.GetTracerProvider().Tracer(name, opts...)
	}
	return t.tracerProvider.Tracer(name, opts...)
}

// Meter returns a meter from this pipeline, or the global one when
// metrics are not exported.
func (t *Telemetry) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if t == nil || t.meterProvider == nil {
		return otel.GetMeterProvider().Meter(name, opts...)
	}
	return t.meterProvider.Meter(name, opts...)
}

// LoggerProvider feeds the logging OTEL bridge. It is nil when logs are
// not exported.
func (t *Telemetry) LoggerProvider() log.LoggerProvider {
	if t == nil || t.loggerProvider == nil {
		return nil
	}
	return t.loggerProvider
}

// pipeline is the lifecycle every SDK provider shares.
type pipeline interface {
	ForceFlush(context.Context) error
	Shutdown(context.Context) error
}

// pipelines lists the live providers with logs last, so records emitted
// while the others drain are still exported.
func (t *Telemetry) pipelines() []namedPipeline {
	var out []namedPipeline
	if t.tracerProvider != nil {
		out = append(out, namedPipeline{"trace", t.tracerProvider})
	}
	if t.meterProvider != nil {
		out = append(out, namedPipeline{"meter", t.meterProvider})
	}
	if t.loggerProvider != nil {
		out = append(out, namedPipeline{"log", t.loggerProvider})
	}
	return out
}

type namedPipeline struct {
	name string
	pipeline
}

// Shutdown flushes and stops every pipeline. Without a deadline on ctx the
// configured shutdown timeout applies.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok && t.config != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.Shutdown.Timeout.Duration())
		defer cancel()
	}

	var errs []error
	for _, p := range t.pipelines() {
		if err := p.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s provider shutdown: %w", p.name, err))
		}
	}
	t.closed.Store(true)
	return errors.Join(errs...)
}

// ForceFlush exports everything buffered so far.
func (t *Telemetry) ForceFlush(ctx context.Context) error {
	if t == nil {
		return nil
	}
	var errs []error
	for _, p := range t.pipelines() {
		if err := p.ForceFlush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s flush: %w", p.name, err))
		}
	}
	return errors.Join(errs...)
}

// HealthStatus reports the pipeline state. Problems names each signal
// that fell back to no-op and why.
type HealthStatus struct {
	Healthy  bool
	Degraded bool
	Problems []string
}

// Health reports whether the pipelines are open and which failed to start.
func (t *Telemetry) Health() HealthStatus {
	if t == nil {
		return HealthStatus{Degraded: true}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return HealthStatus{
		Healthy:  !t.closed.Load(),
		Degraded: len(t.problems) > 0,
		Problems: append([]string(nil), t.problems...),
	}
}

// IsEnabled reports whether telemetry was requested and is still open.
func (t *Telemetry) IsEnabled() bool {
	if t == nil || t.config == nil {
		return false
	}
	return t.config.Enabled && !t.closed.Load()
}

func (t *Telemetry) degrade(signal string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.problems = append(t.problems, fmt.Sprintf("%s: %v", signal, err))
}

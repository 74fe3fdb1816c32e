package telemetry

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc/credentials"
)

// collector is the OTLP destination shared by traces, metrics and logs.
type collector struct {
	http     bool
	hostPort string
	insecure bool
	// tls is set only when certificate verification is skipped; nil
	// means the system roots.
	tls *tls.Config
}

func newCollector(cfg *Config) collector {
	c := collector{
		http:     cfg.Protocol == ProtocolHTTP,
		hostPort: stripScheme(cfg.Endpoint),
		insecure: cfg.Insecure,
	}
	if !c.insecure && cfg.TLSSkipVerify {
		c.tls = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for internal CAs
	}
	return c
}

// newResource describes the service. It is built standalone rather than
// merged with resource.Default() so the schema URL never conflicts.
func newResource(cfg *Config) *resource.Resource {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	)
}

func (c collector) spanExporter(ctx context.Context) (sdktrace.SpanExporter, error) {
	if c.http {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(c.hostPort)}
		switch {
		case c.insecure:
			opts = append(opts, otlptracehttp.WithInsecure())
		case c.tls != nil:
			opts = append(opts, otlptracehttp.WithTLSClientConfig(c.tls))
		}
		return otlptracehttp.New(ctx, opts...)
	}
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(c.hostPort)}
	switch {
	case c.insecure:
		opts = append(opts, otlptracegrpc.WithInsecure())
	case c.tls != nil:
		opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewTLS(c.tls)))
	}
	return otlptracegrpc.New(ctx, opts...)
}

// cumulative pins metric temporality for Prometheus-compatible backends,
// overriding OTEL_EXPORTER_OTLP_METRICS_TEMPORALITY_PREFERENCE inherited
// from the runner.
func cumulative(sdkmetric.InstrumentKind) metricdata.Temporality {
	return metricdata.CumulativeTemporality
}

func (c collector) metricExporter(ctx context.Context) (sdkmetric.Exporter, error) {
	if c.http {
		opts := []otlpmetrichttp.Option{
			otlpmetrichttp.WithEndpoint(c.hostPort),
			otlpmetrichttp.WithTemporalitySelector(cumulative),
		}
		switch {
		case c.insecure:
			opts = append(opts, otlpmetrichttp.WithInsecure())
		case c.tls != nil:
			opts = append(opts, otlpmetrichttp.WithTLSClientConfig(c.tls))
		}
		return otlpmetrichttp.New(ctx, opts...)
	}
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(c.hostPort),
		otlpmetricgrpc.WithTemporalitySelector(cumulative),
	}
	switch {
	case c.insecure:
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	case c.tls != nil:
		opts = append(opts, otlpmetricgrpc.WithTLSCredentials(credentials.NewTLS(c.tls)))
	}
	return otlpmetricgrpc.New(ctx, opts...)
}

func (c collector) logExporter(ctx context.Context) (sdklog.Exporter, error) {
	if c.http {
		opts := []otlploghttp.Option{otlploghttp.WithEndpoint(c.hostPort)}
		switch {
		case c.insecure:
			opts = append(opts, otlploghttp.WithInsecure())
		case c.tls != nil:
			opts = append(opts, otlploghttp.WithTLSClientConfig(c.tls))
		}
		return otlploghttp.New(ctx, opts...)
	}
	opts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(c.hostPort)}
	switch {
	case c.insecure:
		opts = append(opts, otlploggrpc.WithInsecure())
	case c.tls != nil:
		opts = append(opts, otlploggrpc.WithTLSCredentials(credentials.NewTLS(c.tls)))
	}
	return otlploggrpc.New(ctx, opts...)
}

// sampler honors the parent's decision and samples roots at rate.
func sampler(rate float64) sdktrace.Sampler {
	root := sdktrace.TraceIDRatioBased(rate)
	switch {
	case rate >= 1:
		root = sdktrace.AlwaysSample()
	case rate <= 0:
		root = sdktrace.NeverSample()
	}
	return sdktrace.ParentBased(root)
}

func newTracerProvider(ctx context.Context, cfg *Config, res *resource.Resource, exp sdktrace.SpanExporter) (*sdktrace.TracerProvider, error) {
	if exp == nil {
		var err error
		if exp, err = newCollector(cfg).spanExporter(ctx); err != nil {
			return nil, fmt.Errorf("creating trace exporter: %w", err)
		}
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.Sampling.Rate)),
	), nil
}

// newMeterProvider returns nil when metrics export is off.
func newMeterProvider(ctx context.Context, cfg *Config, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	if !cfg.Metrics.Enabled {
		return nil, nil
	}
	exp, err := newCollector(cfg).metricExporter(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}
	reader := sdkmetric.NewPeriodicReader(exp,
		sdkmetric.WithInterval(cfg.Metrics.ExportInterval.Duration()))
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	), nil
}

// newLoggerProvider backs the zap OTEL bridge. Records are batched. It
// returns nil when the log pipeline is disabled.
func newLoggerProvider(ctx context.Context, cfg *Config, res *resource.Resource, exp sdklog.Exporter) (*sdklog.LoggerProvider, error) {
	if !cfg.Logs.Enabled {
		return nil, nil
	}
	if exp == nil {
		var err error
		if exp, err = newCollector(cfg).logExporter(ctx); err != nil {
			return nil, fmt.Errorf("creating log exporter: %w", err)
		}
	}
	return sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exp)),
	), nil
}

// stripScheme reduces a URL to host:port, the form every OTLP exporter
// expects.
func stripScheme(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	return strings.TrimPrefix(endpoint, "http://")
}

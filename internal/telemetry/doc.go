// Package telemetry owns the OpenTelemetry pipelines of a cirecover process.
//
// New builds up to three OTLP pipelines against one collector, over gRPC
// or HTTP: traces, metrics and logs. The trace and meter providers are
// installed globally so packages can call otel.Tracer and otel.Meter
// directly. The log provider is not global; it is handed to the logging
// package, whose zap core mirrors every entry into it.
//
//	tel, err := telemetry.New(ctx, telemetry.FromObservability(cfg.Observability, version))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
//
// A pipeline whose exporter cannot be built is skipped and reported by
// Health; only an invalid Config makes New fail. Insecure export is
// limited to loopback collectors.
//
// Tests use TestTelemetry, which keeps spans, metrics and log records in
// memory:
//
//	tt := telemetry.NewTestTelemetry()
//	tt.Install(t)
//	// ... exercise code that starts spans ...
//	tt.AssertSpanAttribute(t, "controller.Run", "chain.id", "chain-1")
package telemetry

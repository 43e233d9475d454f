// Package observability provides the two pieces of telemetry the relay
// exercises at runtime: Prometheus metrics for dispatch_turn calls, and an
// OpenTelemetry span per operation id tracked by internal/opmanager.
//
// # Metrics
//
//	metrics := observability.NewMetrics()
//	metrics.RecordLLMRequest("openai", "gpt-5", "success", elapsed.Seconds(), promptTokens, completionTokens)
//	metrics.RecordToolExecution("dispatch_turn", "success", elapsed.Seconds())
//	metrics.RecordError("dispatch_turn", "provider_error")
//
// Metrics is entirely optional: mcpserver.Services.Build only constructs one
// when cfg.Metrics.Enabled is set, and every call site on a nil *Metrics is
// guarded before use.
//
// # Tracing
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName: "mcprelay",
//	    Endpoint:    os.Getenv("OTEL_ENDPOINT"), // empty disables export
//	})
//	defer shutdown(context.Background())
//
//	ctx, span := tracer.Start(ctx, "op.dispatch_turn")
//	defer span.End()
//	if err != nil {
//	    tracer.RecordError(span, err)
//	}
//
// opmanager.Manager is the only caller: every RunWithTimeout call wraps its
// operation in a span named "op.<id>" when a Tracer is configured, and is a
// plain context-cancellation wrapper when it isn't.
package observability

// Package observability wires OpenTelemetry for imgflow: OTLP/HTTP export
// behind a config switch, span helpers, and the pipeline instruments.
//
// Instruments are created against the global meter provider, so they are
// safe to use before or without Init:
//
//	shutdown, err := observability.Init(ctx, cfg.Observability, observability.Build{Service: "imgflow"})
//	defer shutdown(ctx)
//
//	ctx, hop := observability.StartHop(ctx, "imgflow", "flip", "cat.jpg", msgID, metrics)
//	outcome, err := run(ctx)
//	hop.End(ctx, outcome, err)
package observability

// Package telemetry provides OpenTelemetry instrumentation for rerankd.
//
// # Overview
//
// This package implements distributed tracing and metrics collection using the
// OpenTelemetry Go SDK. It exports telemetry data to an OTEL Collector over
// OTLP (gRPC or HTTP/protobuf).
//
// # Usage
//
// Create telemetry instance:
//
//	cfg := telemetry.NewDefaultConfig()
//	tel, err := telemetry.New(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(ctx)
//
// Use tracer and meter:
//
//	tracer := tel.Tracer("rerankd.scoring")
//	ctx, span := tracer.Start(ctx, "Adapter.Score")
//	defer span.End()
//
//	meter := tel.Meter("rerankd.scoring")
//	counter, _ := meter.Int64Counter("scoring.requests")
//	counter.Add(ctx, 1)
//
// # Configuration
//
//	observability:
//	  telemetry:
//	    enabled: true
//	    endpoint: "localhost:4317"
//	    protocol: "grpc"
//	    sampling_rate: 1.0  # 100% in dev, lower in prod
//	    metrics_enabled: true
//	    metrics_interval: "15s"
//
// # Error Handling
//
// Telemetry failures do not crash the daemon. If telemetry cannot be
// initialized, the instance degrades gracefully and returns no-op providers.
//
// # Testing
//
// Use TestTelemetry for tests:
//
//	tt := telemetry.NewTestTelemetry()
//	tracer := tt.Tracer("test")
//	_, span := tracer.Start(ctx, "test-span")
//	span.End()
//	tt.AssertSpanExists(t, "test-span")
package telemetry

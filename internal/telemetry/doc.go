// Package telemetry sets up OpenTelemetry tracing and metrics for vecfs.
//
// Telemetry is off by default. When enabled it exports over OTLP, either
// gRPC or HTTP/protobuf, and hands its providers to the vector store through
// TracerProvider and MeterProvider. Exporter failures degrade the instance
// instead of failing startup.
//
//	tel, err := telemetry.New(ctx, cfg, telemetry.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	store, err := vectorfs.New(ctx, gen, snaps, vectorfs.Options{
//	    TracerProvider: tel.TracerProvider(),
//	    MeterProvider:  tel.MeterProvider(),
//	})
package telemetry

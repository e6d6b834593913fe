package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope for session spans
const TracerName = "github.com/pamuduchat/syncshare"

// Tracer returns the tracer registered with the global provider
func Tracer() oteltrace.Tracer {
	return otel.Tracer(TracerName)
}

// InitTracing initializes OpenTelemetry tracing
func InitTracing(ctx context.Context, endpoint string, serviceName string) (*trace.TracerProvider, func() error, error) {
	if endpoint == "" {
		// Return a no-op provider if no endpoint is configured
		return trace.NewTracerProvider(), func() error { return nil }, nil
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
		),
	)
	if err != nil {
		return nil, nil, err
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp, func() error {
		return tp.Shutdown(context.Background())
	}, nil
}



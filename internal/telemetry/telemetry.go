// Package telemetry initializes OpenTelemetry tracing and custom
// metrics for chorus.
package telemetry

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

var (
	// Global tracer for the application
	Tracer trace.Tracer

	// Global meter for custom metrics
	Meter metric.Meter

	// Custom metrics
	MessagesHandled   metric.Int64Counter
	CompletionsServed metric.Int64Counter
	DedupJoins        metric.Int64Counter
	CompletionLatency metric.Float64Histogram
)

// The global meter delegates to whatever provider is installed later,
// so instruments created here are always safe to use even when Init is
// never called.
func init() {
	Tracer = otel.Tracer("chorus")
	Meter = otel.Meter("chorus")
	if err := initMetrics(); err != nil {
		log.Printf("[telemetry] failed to create metric instruments: %v", err)
	}
}

// Init initializes OpenTelemetry tracing and metrics. The returned
// function flushes and shuts the exporter down.
func Init(ctx context.Context, serviceName, otelEndpoint string) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion("1.0.0"),
			attribute.String("environment", "development"),
		),
	)
	if err != nil {
		return nil, err
	}

	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(otelEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	Tracer = otel.Tracer(serviceName)
	Meter = otel.Meter(serviceName)

	if err := initMetrics(); err != nil {
		return nil, err
	}

	log.Printf("[telemetry] initialized with endpoint %s", otelEndpoint)

	return func(ctx context.Context) error {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return traceProvider.Shutdown(shutdownCtx)
	}, nil
}

// initMetrics creates all custom metrics
func initMetrics() error {
	var err error

	MessagesHandled, err = Meter.Int64Counter(
		"chorus.messages.handled",
		metric.WithDescription("Number of inbound chat messages handled"),
	)
	if err != nil {
		return err
	}

	CompletionsServed, err = Meter.Int64Counter(
		"chorus.completions.served",
		metric.WithDescription("Number of persona completions served"),
	)
	if err != nil {
		return err
	}

	DedupJoins, err = Meter.Int64Counter(
		"chorus.completions.dedup_joins",
		metric.WithDescription("Number of requests that joined an in-flight identical completion"),
	)
	if err != nil {
		return err
	}

	CompletionLatency, err = Meter.Float64Histogram(
		"chorus.completions.latency",
		metric.WithDescription("Completion round-trip latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	return nil
}

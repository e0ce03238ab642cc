// Package telemetry sets up OpenTelemetry tracing and carries trace context
// across the job queue.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/JakeFAU/newswatch/internal/crawler"
)

const tracerName = "github.com/JakeFAU/newswatch"

// Config controls tracer provider setup.
type Config struct {
	ServiceName string
	// SampleRatio is the fraction of root spans sampled; 0 keeps the default (always).
	SampleRatio float64
}

// InitTracerProvider installs the global tracer provider and W3C propagators.
// Spans are recorded in-process; exporter wiring belongs to the deployment.
func InitTracerProvider(ctx context.Context, cfg Config, opts ...sdktrace.TracerProviderOption) (*sdktrace.TracerProvider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "newswatch"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	base := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.SampleRatio > 0 && cfg.SampleRatio < 1 {
		base = append(base, sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))))
	}
	tp := sdktrace.NewTracerProvider(append(base, opts...)...)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp, nil
}

// InjectJob stores the trace context of ctx on msg.
func InjectJob(ctx context.Context, msg *crawler.JobMessage) {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	if len(carrier) > 0 {
		msg.Trace = carrier
	}
}

// StartJobSpan starts the span of one job execution, parented on the trace
// context the enqueuer attached to msg.
func StartJobSpan(ctx context.Context, msg crawler.JobMessage) (context.Context, trace.Span) {
	if len(msg.Trace) > 0 {
		ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(msg.Trace))
	}
	return otel.Tracer(tracerName).Start(ctx, "job "+string(msg.TaskName),
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("job.id", msg.ID),
			attribute.String("job.task", string(msg.TaskName)),
			attribute.String("job.target", msg.TargetKey),
		),
	)
}

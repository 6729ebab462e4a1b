package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer wraps OpenTelemetry tracer
type Tracer struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
}

// Config holds tracing configuration
type Config struct {
	ServiceName    string
	ServiceVersion string
	JaegerEndpoint string
	Environment    string
}

// NewTracer creates a tracer exporting to Jaeger
func NewTracer(config Config) (*Tracer, error) {
	exporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(config.JaegerEndpoint)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(config.ServiceName),
			semconv.ServiceVersionKey.String(config.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Tracer{
		tracer:   tp.Tracer(config.ServiceName),
		provider: tp,
	}, nil
}

// NewNoopTracer returns a tracer whose spans are never recorded
func NewNoopTracer() *Tracer {
	return &Tracer{tracer: noop.NewTracerProvider().Tracer("noop")}
}

// StartSpan starts a new span. A nil Tracer starts no-op spans.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if t == nil {
		return noop.NewTracerProvider().Tracer("noop").Start(ctx, name, opts...)
	}
	return t.tracer.Start(ctx, name, opts...)
}

// StartStatementSpan starts a span for one statement generation
func (t *Tracer) StartStatementSpan(ctx context.Context, period string, includeEstimates, includeReal bool) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("statement.period", period),
		attribute.Bool("statement.include_estimates", includeEstimates),
		attribute.Bool("statement.include_real", includeReal),
	}

	return t.StartSpan(ctx, "statement.generate", trace.WithAttributes(attrs...))
}

// StartFetchSpan starts a span for a data source fetch
func (t *Tracer) StartFetchSpan(ctx context.Context, kind, source, period string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("fetch.kind", kind),
		attribute.String("fetch.source", source),
		attribute.String("fetch.period", period),
	}

	return t.StartSpan(ctx, "datasource.fetch", trace.WithAttributes(attrs...))
}

// StartCalibrationSpan starts a span for calibration analysis or application
func (t *Tracer) StartCalibrationSpan(ctx context.Context, operation, period string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("calibration.operation", operation),
		attribute.String("calibration.period", period),
	}

	return t.StartSpan(ctx, "calibration."+operation, trace.WithAttributes(attrs...))
}

// AddSpanAttributes adds attributes to a span
func AddSpanAttributes(span trace.Span, attrs map[string]interface{}) {
	for key, value := range attrs {
		switch v := value.(type) {
		case string:
			span.SetAttributes(attribute.String(key, v))
		case int:
			span.SetAttributes(attribute.Int(key, v))
		case int64:
			span.SetAttributes(attribute.Int64(key, v))
		case float64:
			span.SetAttributes(attribute.Float64(key, v))
		case bool:
			span.SetAttributes(attribute.Bool(key, v))
		case []string:
			span.SetAttributes(attribute.StringSlice(key, v))
		default:
			span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", v)))
		}
	}
}

// RecordSpanError records an error in a span
func RecordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// RecordSpanSuccess records success in a span
func RecordSpanSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "success")
}

// RecordSpanDuration records duration in a span
func RecordSpanDuration(span trace.Span, duration time.Duration) {
	span.SetAttributes(attribute.Float64("duration_ms", float64(duration.Nanoseconds())/1e6))
}

// RecordSpanCost records statement totals in a span
func RecordSpanCost(span trace.Span, estimated, real float64, currency string) {
	span.SetAttributes(
		attribute.Float64("cost.estimated", estimated),
		attribute.Float64("cost.real", real),
		attribute.String("cost.currency", currency),
	)
}

// Shutdown flushes and stops the exporter, if any
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

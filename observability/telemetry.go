package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/edge-robotics/command-core/config"
)

const instrumentationName = "edge-robot-core"

// TelemetryProvider wires OpenTelemetry tracing and metrics around command
// dispatch and the priority queue.
type TelemetryProvider struct {
	config        *config.TelemetryConfig
	tracer        trace.Tracer
	meter         metric.Meter
	traceProvider *sdktrace.TracerProvider

	commandsEnqueued  metric.Int64Counter
	commandsDispatched metric.Int64Counter
	commandsFailed    metric.Int64Counter
	dispatchDuration  metric.Float64Histogram
	queueDepth        metric.Int64UpDownCounter
}

// NewTelemetryProvider creates a TelemetryProvider. A nil or disabled cfg
// yields a no-op provider so instrumentation calls are always safe.
func NewTelemetryProvider(cfg *config.TelemetryConfig) (*TelemetryProvider, error) {
	if cfg == nil {
		cfg = &config.TelemetryConfig{
			ServiceName:    "edge-robot-core",
			ServiceVersion: "0.1.0",
			Environment:    "development",
			OTLPEndpoint:   "http://localhost:4318",
			TracingEnabled: true,
			MetricsEnabled: true,
			SampleRate:     1.0,
			Enabled:        false,
		}
	}

	tp := &TelemetryProvider{config: cfg}

	if !cfg.Enabled {
		tp.tracer = otel.Tracer(instrumentationName)
		tp.meter = otel.Meter(instrumentationName)
		return tp, nil
	}

	if cfg.TracingEnabled {
		if err := tp.initTracing(); err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
	}
	if cfg.MetricsEnabled {
		if err := tp.initMetrics(); err != nil {
			return nil, fmt.Errorf("init metrics: %w", err)
		}
	}
	return tp, nil
}

func (tp *TelemetryProvider) initTracing() error {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(tp.config.ServiceName),
			semconv.ServiceVersion(tp.config.ServiceVersion),
			semconv.DeploymentEnvironment(tp.config.Environment),
		),
	)
	if err != nil {
		return fmt.Errorf("create resource: %w", err)
	}

	exporter, err := otlptrace.New(context.Background(),
		otlptracehttp.NewClient(
			otlptracehttp.WithEndpoint(tp.config.OTLPEndpoint),
			otlptracehttp.WithHeaders(tp.config.OTLPHeaders),
		),
	)
	if err != nil {
		return fmt.Errorf("create exporter: %w", err)
	}

	tp.traceProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(tp.config.SampleRate)),
	)

	otel.SetTracerProvider(tp.traceProvider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	tp.tracer = otel.Tracer(instrumentationName,
		trace.WithInstrumentationVersion(tp.config.ServiceVersion),
		trace.WithSchemaURL(semconv.SchemaURL),
	)
	return nil
}

func (tp *TelemetryProvider) initMetrics() error {
	tp.meter = otel.Meter(instrumentationName,
		metric.WithInstrumentationVersion(tp.config.ServiceVersion),
		metric.WithSchemaURL(semconv.SchemaURL),
	)

	var err error
	tp.commandsEnqueued, err = tp.meter.Int64Counter(
		"commands.enqueued",
		metric.WithDescription("Total number of commands enqueued"),
	)
	if err != nil {
		return fmt.Errorf("create commands.enqueued counter: %w", err)
	}

	tp.commandsDispatched, err = tp.meter.Int64Counter(
		"commands.dispatched",
		metric.WithDescription("Total number of commands successfully dispatched"),
	)
	if err != nil {
		return fmt.Errorf("create commands.dispatched counter: %w", err)
	}

	tp.commandsFailed, err = tp.meter.Int64Counter(
		"commands.failed",
		metric.WithDescription("Total number of commands that failed dispatch"),
	)
	if err != nil {
		return fmt.Errorf("create commands.failed counter: %w", err)
	}

	tp.dispatchDuration, err = tp.meter.Float64Histogram(
		"dispatch.duration",
		metric.WithDescription("Duration of command dispatch operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create dispatch.duration histogram: %w", err)
	}

	tp.queueDepth, err = tp.meter.Int64UpDownCounter(
		"queue.depth",
		metric.WithDescription("Current queue depth"),
	)
	if err != nil {
		return fmt.Errorf("create queue.depth counter: %w", err)
	}
	return nil
}

// TraceOperation starts a span for an arbitrary internal operation.
func (tp *TelemetryProvider) TraceOperation(ctx context.Context, operationName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	if tp.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tp.tracer.Start(ctx, operationName,
		trace.WithAttributes(attributes...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// TraceDispatch starts a span around dispatching a command to a robot.
func (tp *TelemetryProvider) TraceDispatch(ctx context.Context, commandID, robotID string, actionCount int) (context.Context, trace.Span) {
	attributes := []attribute.KeyValue{
		attribute.String("command.id", commandID),
		attribute.String("robot.id", robotID),
		attribute.Int("command.actions.count", actionCount),
		attribute.String("operation", "dispatch"),
	}
	return tp.TraceOperation(ctx, "command.dispatch", attributes...)
}

// TraceEnqueue starts a span around enqueueing a command.
func (tp *TelemetryProvider) TraceEnqueue(ctx context.Context, commandID, queueType string) (context.Context, trace.Span) {
	attributes := []attribute.KeyValue{
		attribute.String("command.id", commandID),
		attribute.String("queue.type", queueType),
		attribute.String("operation", "enqueue"),
	}
	return tp.TraceOperation(ctx, "command.enqueue", attributes...)
}

// RecordDispatched records a successful command dispatch.
func (tp *TelemetryProvider) RecordDispatched(ctx context.Context, robotID string, duration time.Duration) {
	if tp.commandsDispatched != nil {
		tp.commandsDispatched.Add(ctx, 1, metric.WithAttributes(
			attribute.String("robot.id", robotID),
			attribute.String("status", "success"),
		))
	}
	if tp.dispatchDuration != nil {
		tp.dispatchDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
			attribute.String("robot.id", robotID),
			attribute.String("status", "success"),
		))
	}
}

// RecordFailed records a failed command dispatch.
func (tp *TelemetryProvider) RecordFailed(ctx context.Context, robotID string, duration time.Duration, errorType string) {
	if tp.commandsFailed != nil {
		tp.commandsFailed.Add(ctx, 1, metric.WithAttributes(
			attribute.String("robot.id", robotID),
			attribute.String("error_type", errorType),
		))
	}
	if tp.dispatchDuration != nil {
		tp.dispatchDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
			attribute.String("robot.id", robotID),
			attribute.String("status", "error"),
		))
	}
}

// RecordEnqueued records a command enqueue.
func (tp *TelemetryProvider) RecordEnqueued(ctx context.Context, queueType string) {
	if tp.commandsEnqueued != nil {
		tp.commandsEnqueued.Add(ctx, 1, metric.WithAttributes(
			attribute.String("queue.type", queueType),
		))
	}
}

// UpdateQueueDepth records the current queue depth.
func (tp *TelemetryProvider) UpdateQueueDepth(ctx context.Context, queueType string, delta int64) {
	if tp.queueDepth != nil {
		tp.queueDepth.Add(ctx, delta, metric.WithAttributes(
			attribute.String("queue.type", queueType),
		))
	}
}

// SetSpanError marks a span as failed.
func (tp *TelemetryProvider) SetSpanError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful.
func (tp *TelemetryProvider) SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// Shutdown flushes and stops the trace provider, if one was started.
func (tp *TelemetryProvider) Shutdown(ctx context.Context) error {
	if tp.traceProvider != nil {
		return tp.traceProvider.Shutdown(ctx)
	}
	return nil
}

// GetTracer returns the underlying tracer.
func (tp *TelemetryProvider) GetTracer() trace.Tracer { return tp.tracer }

// GetMeter returns the underlying meter.
func (tp *TelemetryProvider) GetMeter() metric.Meter { return tp.meter }

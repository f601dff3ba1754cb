// Package telemetry wires OpenTelemetry tracing and metrics into the engine,
// adapted from the teacher's internal/services.TelemetryService and
// runtime.WorkflowTelemetry: one tracer/meter pair, a span-per-execution and
// span-per-task model, and a handful of counters/histograms.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"orchestra/internal/config"
)

const instrumentationName = "orchestra.engine"

// Telemetry holds the tracer/meter and the engine-specific instruments
// (SPEC_FULL §7.1). A nil *Telemetry is a safe no-op, matching the teacher's
// "disabled means skip initialization" convention.
type Telemetry struct {
	tracer trace.Tracer
	meter  metric.Meter

	runCounter     metric.Int64Counter
	runDuration    metric.Float64Histogram
	taskCounter    metric.Int64Counter
	taskDuration   metric.Float64Histogram
	activeRuns     metric.Int64UpDownCounter
	failureCounter metric.Int64Counter

	shutdown func(context.Context) error

	mu        sync.RWMutex
	runSpans  map[string]trace.Span
	taskSpans map[string]trace.Span
}

// New initializes OpenTelemetry according to cfg and returns a Telemetry
// instance. It returns (nil, nil) when telemetry is disabled.
func New(ctx context.Context, cfg config.TelemetryConfig) (*Telemetry, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.DeploymentEnvironmentKey.String(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create otel resource: %w", err)
	}

	var opts []otlptracehttp.Option
	if cfg.OTLPEndpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(cfg.OTLPEndpoint), otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
	}

	sampler := sdktrace.TraceIDRatioBased(cfg.SampleRate)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	t := &Telemetry{
		tracer:    otel.Tracer(instrumentationName),
		meter:     otel.Meter(instrumentationName),
		shutdown:  tp.Shutdown,
		runSpans:  make(map[string]trace.Span),
		taskSpans: make(map[string]trace.Span),
	}
	if err := t.initMetrics(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Telemetry) initMetrics() error {
	var err error
	if t.runCounter, err = t.meter.Int64Counter(
		"orchestra_workflow_runs_total",
		metric.WithDescription("Total number of workflow executions started"),
		metric.WithUnit("{run}"),
	); err != nil {
		return err
	}
	if t.runDuration, err = t.meter.Float64Histogram(
		"orchestra_workflow_run_duration_seconds",
		metric.WithDescription("Duration of workflow executions"),
		metric.WithUnit("s"),
	); err != nil {
		return err
	}
	if t.taskCounter, err = t.meter.Int64Counter(
		"orchestra_workflow_tasks_total",
		metric.WithDescription("Total number of tasks executed"),
		metric.WithUnit("{task}"),
	); err != nil {
		return err
	}
	if t.taskDuration, err = t.meter.Float64Histogram(
		"orchestra_workflow_task_duration_seconds",
		metric.WithDescription("Duration of task execution"),
		metric.WithUnit("s"),
	); err != nil {
		return err
	}
	if t.activeRuns, err = t.meter.Int64UpDownCounter(
		"orchestra_workflow_runs_active",
		metric.WithDescription("Number of currently active workflow executions"),
		metric.WithUnit("{run}"),
	); err != nil {
		return err
	}
	if t.failureCounter, err = t.meter.Int64Counter(
		"orchestra_workflow_failures_total",
		metric.WithDescription("Total number of workflow/task failures"),
		metric.WithUnit("{failure}"),
	); err != nil {
		return err
	}
	return nil
}

// Shutdown flushes and stops the tracer provider. Safe to call on a nil
// Telemetry.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil || t.shutdown == nil {
		return nil
	}
	return t.shutdown(ctx)
}

// StartExecutionSpan opens a span for one workflow execution and returns the
// derived context. Safe to call on a nil Telemetry (returns ctx unchanged).
func (t *Telemetry) StartExecutionSpan(ctx context.Context, executionID, specName string) context.Context {
	if t == nil {
		return ctx
	}
	ctx, span := t.tracer.Start(ctx, fmt.Sprintf("workflow.run.%s", specName),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("workflow.execution_id", executionID),
			attribute.String("workflow.spec_name", specName),
		),
	)

	t.mu.Lock()
	t.runSpans[executionID] = span
	t.mu.Unlock()

	t.runCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("workflow.spec_name", specName)))
	t.activeRuns.Add(ctx, 1, metric.WithAttributes(attribute.String("workflow.spec_name", specName)))
	return ctx
}

// EndExecutionSpan closes the span opened by StartExecutionSpan and records
// the run's duration and success/failure.
func (t *Telemetry) EndExecutionSpan(ctx context.Context, executionID, specName, state string, duration time.Duration, failErr error) {
	if t == nil {
		return
	}
	t.mu.Lock()
	span, ok := t.runSpans[executionID]
	delete(t.runSpans, executionID)
	t.mu.Unlock()
	if !ok || span == nil {
		return
	}

	span.SetAttributes(
		attribute.String("workflow.state", state),
		attribute.Float64("workflow.duration_seconds", duration.Seconds()),
	)
	if failErr != nil {
		span.RecordError(failErr)
		span.SetStatus(codes.Error, failErr.Error())
		t.failureCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("workflow.spec_name", specName),
			attribute.String("failure.scope", "run"),
		))
	} else {
		span.SetStatus(codes.Ok, "workflow execution finished")
	}
	span.End()

	t.runDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("workflow.spec_name", specName),
		attribute.String("workflow.state", state),
	))
	t.activeRuns.Add(ctx, -1, metric.WithAttributes(attribute.String("workflow.spec_name", specName)))
}

// StartTaskSpan opens a span for one task execution, keyed by taskExecID so
// EndTaskSpan can close it from a later, separate dispatcher invocation (a
// task may go RUNNING -> DELAYED -> RUNNING again across several HandleEvent
// calls before it reaches a terminal state), the same survives-the-call
// pattern StartExecutionSpan/EndExecutionSpan use for runSpans.
func (t *Telemetry) StartTaskSpan(ctx context.Context, executionID, taskExecID, taskName string) context.Context {
	if t == nil {
		return ctx
	}
	ctx, span := t.tracer.Start(ctx, fmt.Sprintf("workflow.task.%s", taskName),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("workflow.execution_id", executionID),
			attribute.String("workflow.task_execution_id", taskExecID),
			attribute.String("workflow.task_name", taskName),
		),
	)

	t.mu.Lock()
	t.taskSpans[taskExecID] = span
	t.mu.Unlock()

	t.taskCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("workflow.task_name", taskName)))
	return ctx
}

// EndTaskSpan closes the span opened by StartTaskSpan for taskExecID and
// records its outcome. A no-op if no span is open for taskExecID (StartTaskSpan
// was never called, e.g. telemetry was disabled when the task started).
func (t *Telemetry) EndTaskSpan(taskExecID, taskName, state string, duration time.Duration, failErr error) {
	if t == nil {
		return
	}
	t.mu.Lock()
	span, ok := t.taskSpans[taskExecID]
	delete(t.taskSpans, taskExecID)
	t.mu.Unlock()
	if !ok || span == nil {
		return
	}

	span.SetAttributes(
		attribute.String("workflow.task_state", state),
		attribute.Float64("workflow.task_duration_seconds", duration.Seconds()),
	)
	if failErr != nil {
		span.RecordError(failErr)
		span.SetStatus(codes.Error, failErr.Error())
	} else {
		span.SetStatus(codes.Ok, "task finished")
	}
	span.End()

	ctx := context.Background()
	t.taskDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("workflow.task_name", taskName),
		attribute.String("workflow.task_state", state),
	))
	if failErr != nil {
		t.failureCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("workflow.task_name", taskName),
			attribute.String("failure.scope", "task"),
		))
	}
}

// EventTraceCarrier implements propagation.TextMapCarrier over a plain
// string map, letting trace context ride inside a dispatch.Event the same
// way the teacher's NATSTraceCarrier rides inside a NATS message.
type EventTraceCarrier struct {
	headers map[string]string
}

func NewEventTraceCarrier(headers map[string]string) *EventTraceCarrier {
	if headers == nil {
		headers = make(map[string]string)
	}
	return &EventTraceCarrier{headers: headers}
}

func (c *EventTraceCarrier) Get(key string) string     { return c.headers[key] }
func (c *EventTraceCarrier) Set(key, value string)      { c.headers[key] = value }
func (c *EventTraceCarrier) Headers() map[string]string { return c.headers }
func (c *EventTraceCarrier) Keys() []string {
	keys := make([]string, 0, len(c.headers))
	for k := range c.headers {
		keys = append(keys, k)
	}
	return keys
}

// InjectTraceContext writes ctx's trace context into carrier.
func InjectTraceContext(ctx context.Context, carrier *EventTraceCarrier) {
	otel.GetTextMapPropagator().Inject(ctx, carrier)
}

// ExtractTraceContext reads a trace context out of carrier into ctx.
func ExtractTraceContext(ctx context.Context, carrier *EventTraceCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

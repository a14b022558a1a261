package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// TraceConfig configures distributed tracing.
type TraceConfig struct {
	// ServiceName identifies this service in traces. Default: maestro.
	ServiceName string

	// ServiceVersion tags the running version.
	ServiceVersion string

	// Environment is the deployment environment (production, dev, ...).
	Environment string

	// Endpoint is the OTLP gRPC collector. Empty disables export.
	Endpoint string

	// SamplingRate is the recorded fraction of traces in (0, 1].
	// Default: 1.0.
	SamplingRate float64

	// Insecure disables TLS on the OTLP connection.
	Insecure bool
}

// Tracer wraps the OpenTelemetry tracer with runtime span helpers.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracer builds a tracer and returns it with a shutdown function.
// With no endpoint, or if the exporter cannot be built, spans are
// recorded as no-ops so instrumentation never blocks startup.
func NewTracer(config TraceConfig) (*Tracer, func(context.Context) error) {
	if config.ServiceName == "" {
		config.ServiceName = "maestro"
	}
	noop := func(context.Context) error { return nil }

	if config.Endpoint == "" {
		return &Tracer{tracer: otel.Tracer(config.ServiceName)}, noop
	}
	if config.SamplingRate <= 0 {
		config.SamplingRate = 1.0
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(config.Endpoint)}
	if config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptrace.New(context.Background(), otlptracegrpc.NewClient(opts...))
	if err != nil {
		return &Tracer{tracer: otel.Tracer(config.ServiceName)}, noop
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
	}
	if config.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(config.Environment))
	}
	res, err := resource.New(context.Background(), resource.WithAttributes(attrs...))
	if err != nil {
		res = resource.Default()
	}

	var sampler sdktrace.Sampler
	switch {
	case config.SamplingRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(config.SamplingRate)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Tracer{
		provider: provider,
		tracer:   provider.Tracer(config.ServiceName),
	}, provider.Shutdown
}

// Start opens a span.
func (t *Tracer) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordError marks the span failed with the error.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// TraceRun opens a span for one agent run.
func (t *Tracer) TraceRun(ctx context.Context, agentID, sessionID string) (context.Context, trace.Span) {
	return t.Start(ctx, "agent.run",
		attribute.String("agent.id", agentID),
		attribute.String("session.id", sessionID),
	)
}

// TraceLLMCall opens a span for one model call.
func (t *Tracer) TraceLLMCall(ctx context.Context, provider, model string) (context.Context, trace.Span) {
	ctx, span := t.Start(ctx, "llm.call",
		attribute.String("llm.provider", provider),
		attribute.String("llm.model", model),
	)
	return ctx, span
}

// TraceToolDispatch opens a span for one tool execution.
func (t *Tracer) TraceToolDispatch(ctx context.Context, tool string) (context.Context, trace.Span) {
	return t.Start(ctx, "tool.dispatch", attribute.String("tool.name", tool))
}

// TraceEpicRound opens a span for one orchestrator round.
func (t *Tracer) TraceEpicRound(ctx context.Context, runID string, round int) (context.Context, trace.Span) {
	return t.Start(ctx, "epic.round",
		attribute.String("epic.run_id", runID),
		attribute.Int("epic.round", round),
	)
}

// TraceHTTPRequest opens a server span for an API request.
func (t *Tracer) TraceHTTPRequest(ctx context.Context, method, path string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, method+" "+path,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.route", path),
		),
	)
	return ctx, span
}

// GetTraceID returns the current trace id, or empty when unsampled.
func GetTraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

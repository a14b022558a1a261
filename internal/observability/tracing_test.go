package observability

import (
	"context"
	"errors"
	"testing"
)

func TestNewTracerWithoutEndpoint(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{})
	defer shutdown(context.Background())

	ctx, span := tracer.TraceRun(context.Background(), "researcher", "s1")
	defer span.End()

	// No exporter means unsampled spans and no trace id.
	if id := GetTraceID(ctx); id != "" {
		t.Errorf("expected empty trace id without exporter, got %q", id)
	}
}

func TestRecordErrorNilSafe(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{})
	defer shutdown(context.Background())

	_, span := tracer.Start(context.Background(), "op")
	defer span.End()

	tracer.RecordError(span, nil)
	tracer.RecordError(span, errors.New("boom"))
}

package tracing

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return rec
}

func spanAttrs(s sdktrace.ReadOnlySpan) map[attribute.Key]string {
	out := make(map[attribute.Key]string)
	for _, kv := range s.Attributes() {
		out[kv.Key] = kv.Value.Emit()
	}
	return out
}

func TestStartSpan_TagsSessionAndRole(t *testing.T) {
	rec := recordSpans(t)

	ctx := NewAgentRunContext(NewSessionContext(context.Background(), "sess-9"), "form")
	ctx, span := StartSpan(ctx, TracerAgent, "agent.run", attribute.String("url", "https://shop.test"))
	span.End()

	spans := rec.Ended()
	require.Len(t, spans, 1)
	attrs := spanAttrs(spans[0])
	assert.Equal(t, "sess-9", attrs[AttrSessionID])
	assert.Equal(t, "form", attrs[AttrAgentRole])
	assert.Equal(t, "https://shop.test", attrs["url"])
	assert.NotEmpty(t, GetTraceID(ctx))
}

func TestStartSpan_SeedsTraceIDFromSpan(t *testing.T) {
	recordSpans(t)

	ctx, span := StartSpan(context.Background(), TracerServer, "request")
	defer span.End()

	assert.Equal(t, span.SpanContext().TraceID().String(), GetTraceID(ctx))
	_, ok := spanAttrs(span.(sdktrace.ReadOnlySpan))[AttrSessionID]
	assert.False(t, ok)
}

func TestShutdown_WithoutSetup(t *testing.T) {
	assert.NoError(t, Shutdown(context.Background()))
}

package tracing

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Tracer names, one per pipeline stage.
const (
	TracerSession      = "uxorbit.session"
	TracerOrchestrator = "uxorbit.orchestrator"
	TracerAgent        = "uxorbit.agent"
	TracerProbe        = "uxorbit.probe"
	TracerServer       = "uxorbit.server"
)

// Span attributes copied from the context onto every span.
const (
	AttrSessionID = attribute.Key("uxorbit.session_id")
	AttrAgentRole = attribute.Key("uxorbit.agent_role")
)

// Options selects how test runs are traced.
type Options struct {
	ServiceName string
	// SampleRatio is the share of root spans (one per test run) kept. Values
	// outside (0, 1] keep every run.
	SampleRatio float64
}

var (
	setupOnce sync.Once
	mu        sync.RWMutex
	provider  *sdktrace.TracerProvider
	setupErr  error
)

// Setup installs the global tracer provider. Only the first call has an
// effect; later calls return its error.
func Setup(opts Options) error {
	setupOnce.Do(func() {
		setupErr = install(opts)
	})
	return setupErr
}

func install(opts Options) error {
	ratio := opts.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	name := opts.ServiceName
	if name == "" {
		name = "uxorbit"
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(semconv.ServiceName(name)))
	if err != nil {
		return err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
		sdktrace.WithResource(res),
	)
	mu.Lock()
	provider = tp
	mu.Unlock()
	otel.SetTracerProvider(tp)
	return nil
}

// Shutdown flushes pending spans. It is a no-op when Setup never ran.
func Shutdown(ctx context.Context) error {
	mu.RLock()
	tp := provider
	mu.RUnlock()
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

// StartSpan opens a span tagged with the session and agent role found in ctx.
// The first span of a run also seeds the trace id used in log lines.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	if id := GetSessionID(ctx); id != "" {
		attrs = append(attrs, AttrSessionID.String(id))
	}
	if role := GetAgentRole(ctx); role != "" {
		attrs = append(attrs, AttrAgentRole.String(role))
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))
	if GetTraceID(ctx) == "" {
		if sc := span.SpanContext(); sc.IsValid() {
			ctx = WithTraceID(ctx, sc.TraceID().String())
		}
	}
	return ctx, span
}

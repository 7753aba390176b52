package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// PropagateToLogger adds tracing context to a zerolog logger
func PropagateToLogger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)

	fields := logger.With()
	if tc.TraceID != "" {
		fields = fields.Str("trace_id", tc.TraceID)
	}
	if tc.SessionID != "" {
		fields = fields.Str("session_id", tc.SessionID)
	}
	if tc.RunID != "" {
		fields = fields.Str("run_id", tc.RunID)
	}
	if tc.AgentRole != "" {
		fields = fields.Str("agent_role", tc.AgentRole)
	}
	if tc.RequestID != "" {
		fields = fields.Str("request_id", tc.RequestID)
	}

	return fields.Logger()
}

// LoggerFromContext creates a logger with tracing context from the given context
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	return PropagateToLogger(ctx, baseLogger)
}

// Detach copies tracing values onto a fresh background context. Used when
// work outlives the request that started it.
func Detach(ctx context.Context) context.Context {
	tc := FromContext(ctx)
	out := context.Background()
	if tc.TraceID != "" {
		out = WithTraceID(out, tc.TraceID)
	}
	if tc.SessionID != "" {
		out = WithSessionID(out, tc.SessionID)
	}
	if tc.RequestID != "" {
		out = WithRequestID(out, tc.RequestID)
	}
	return out
}

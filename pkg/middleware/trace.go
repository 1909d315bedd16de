package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/wisphttp/wisp/pkg/common"
)

type traceIDKey struct{}

// TraceHook creates an OnRequest hook that assigns each request a unique
// trace ID, reusing an inbound X-Trace-Id header when present. The ID is
// stored in the request context and echoed in the response headers so calls
// can be correlated across logs.
func TraceHook() common.Hook {
	return func(req *common.Request, reply *common.Reply) error {
		traceID := req.Header("X-Trace-Id")
		if traceID == "" {
			traceID = uuid.New().String()
		}
		req.Raw = req.Raw.WithContext(context.WithValue(req.Context(), traceIDKey{}, traceID))
		reply.Header("X-Trace-Id", traceID)
		return nil
	}
}

// TraceID extracts the trace ID from the request, or "" when the TraceHook
// is not installed.
func TraceID(req *common.Request) string {
	return TraceIDFromContext(req.Context())
}

// TraceIDFromContext extracts the trace ID from a context.
func TraceIDFromContext(ctx context.Context) string {
	traceID, _ := ctx.Value(traceIDKey{}).(string)
	return traceID
}

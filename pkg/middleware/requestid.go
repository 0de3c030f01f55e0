package middleware

import (
	"context"
	"net/http"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ephedra/ephedra/pkg/logger"
)

const (
	requestIDKey      = "request_id"
	requestIDTraceKey = "request_id"

	// RequestIDHeader defines the HTTP header that is set in each HTTP response
	// for a given request. The value of the header is unique per request.
	RequestIDHeader = "X-Request-Id"
)

type requestIDCtxKey struct{}

// InitID returns the ID to be used to identify the request.
// If trace is enabled, returns trace ID; otherwise returns a new ULID.
func InitID(ctx context.Context) string {
	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.TraceID().IsValid() {
		return spanCtx.TraceID().String()
	}
	return ulid.Make().String()
}

// RequestIDFromContext returns the id assigned by WithRequestID.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDCtxKey{}).(string)
	return id, ok
}

// WithRequestID assigns every request an id, returns it in the RequestIDHeader and
// attaches it to the span and to the logger fields of the request context. It must
// come after the trace handler.
func WithRequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := InitID(ctx)

			w.Header().Set(RequestIDHeader, requestID)
			trace.SpanFromContext(ctx).SetAttributes(attribute.String(requestIDTraceKey, requestID))

			ctx = context.WithValue(ctx, requestIDCtxKey{}, requestID)
			ctx = logger.ContextWithFields(ctx, zap.String(requestIDKey, requestID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

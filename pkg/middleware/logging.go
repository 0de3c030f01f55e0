package middleware

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ephedra/ephedra/pkg/logger"
)

const (
	httpMethodKey      = "http_method"
	httpPathKey        = "http_path"
	httpStatusKey      = "http_status"
	traceIDKey         = "trace_id"
	userAgentKey       = "user_agent"
	queryDurationKey   = "query_duration_ms"
	httpReqCompleteKey = "http_req_complete"
)

// WithLogging logs one entry per completed request. Server errors are logged at
// error level. It must come after WithRequestID to carry the request id.
func WithLogging(l logger.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			fields := []zap.Field{
				zap.String(httpMethodKey, r.Method),
				zap.String(httpPathKey, r.URL.Path),
				zap.Int(httpStatusKey, rec.status),
				zap.Int64(queryDurationKey, time.Since(start).Milliseconds()),
			}
			if ua := r.UserAgent(); ua != "" {
				fields = append(fields, zap.String(userAgentKey, ua))
			}
			if spanCtx := trace.SpanContextFromContext(r.Context()); spanCtx.HasTraceID() {
				fields = append(fields, zap.String(traceIDKey, spanCtx.TraceID().String()))
			}

			if rec.status >= http.StatusInternalServerError {
				l.ErrorWithContext(r.Context(), httpReqCompleteKey, fields...)
				return
			}
			l.InfoWithContext(r.Context(), httpReqCompleteKey, fields...)
		})
	}
}

package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/ephedra/ephedra/pkg/logger"
)

// InternalServerErrorMsg is the message returned for recovered panics.
const InternalServerErrorMsg = "Internal Server Error"

// WithPanicRecovery recovers from panics of next and answers with a 500.
func WithPanicRecovery(l logger.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					l.ErrorWithContext(r.Context(), "HTTPPanicRecoveryHandler has recovered a panic",
						zap.Error(fmt.Errorf("%v", err)),
						zap.ByteString("stacktrace", debug.Stack()),
					)
					w.Header().Set("content-type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)

					responseBody, err := json.Marshal(map[string]string{
						"code":    "internal_error",
						"message": InternalServerErrorMsg,
					})
					if err != nil {
						return
					}
					_, _ = w.Write(responseBody)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

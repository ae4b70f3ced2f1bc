package middleware

import (
	"net/http"
	"runtime/debug"

	"ppmt-amp-api/pkg/apierror"
	"ppmt-amp-api/pkg/response"

	"go.uber.org/zap"
)

// Recovery returns a middleware that turns panics into a 500 JSON response.
// Mounted after RequestID, the panic is logged with the request id.
func Recovery(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					Logger(r.Context(), logger).Error("panic recovered",
						zap.Any("panic", err),
						zap.String("path", r.URL.Path),
						zap.ByteString("stack", debug.Stack()))

					response.Error(w, apierror.InternalError("internal server error"))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

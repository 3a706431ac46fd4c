package middleware

import (
	"log/slog"
	"net/http"

	"github.com/phrazzld/tasks-emulator/internal/api/shared"
)

// NewTraceMiddleware returns middleware that adds a trace ID to the request
// context and response headers. Apply it early in the chain so every handler
// and error response can see the ID.
func NewTraceMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := shared.SetTraceID(r.Context())
			w.Header().Set(shared.TraceIDHeader, shared.GetTraceID(ctx))

			logger.DebugContext(ctx, "request started",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr))

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

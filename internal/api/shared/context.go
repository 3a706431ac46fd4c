package shared

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/phrazzld/tasks-emulator/internal/platform/logger"
)

// TraceIDHeader is echoed on every response so clients can quote it.
const TraceIDHeader = "X-Trace-Id"

// SetTraceID adds a fresh trace ID to the context.
// This is useful for correlating logs and error responses.
func SetTraceID(ctx context.Context) context.Context {
	return logger.WithTraceID(ctx, generateTraceID())
}

// GetTraceID retrieves the trace ID from the context.
// If no trace ID exists, it returns an empty string.
func GetTraceID(ctx context.Context) string {
	return logger.TraceID(ctx)
}

// generateTraceID returns a 32-character hex string.
func generateTraceID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

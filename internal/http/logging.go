package http

import (
	"context"
	"log/slog"

	"github.com/example/parish-portal/internal/logging"
)

// handlerLogger prefers the request logger installed by RequestLogger so
// handler lines carry the request id.
func handlerLogger(ctx context.Context, fallback *slog.Logger, handlerName, operation string, attrs ...any) *slog.Logger {
	logger := logging.FromContext(ctx)
	if logger == nil {
		logger = logging.Default(fallback)
	}

	pairs := []any{"handler", handlerName}
	if operation != "" {
		pairs = append(pairs, "operation", operation)
	}
	pairs = append(pairs, attrs...)
	return logger.With(pairs...)
}

package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/rovercam/internal/logging"
	"github.com/smazurov/rovercam/internal/metrics"
)

// quietOperations are polled or streamed continuously and log at debug.
var quietOperations = map[string]bool{
	"health-check":     true,
	"get-status":       true,
	"get-snapshot":     true,
	"command-joystick": true,
	"events-stream":    true,
	"logs-stream":      true,
}

// HTTPLoggingMiddleware logs each API request with a level chosen from the
// status code and counts it per operation.
func HTTPLoggingMiddleware(ctx huma.Context, next func(huma.Context)) {
	start := time.Now()
	logger := logging.GetLogger("http")

	method := ctx.Method()
	attrs := []slog.Attr{
		slog.String("method", method),
		slog.String("path", ctx.URL().Path),
		slog.String("remote_addr", ctx.RemoteAddr()),
	}
	if q := ctx.URL().RawQuery; q != "" {
		attrs = append(attrs, slog.String("query", q))
	}
	if ua := ctx.Header("User-Agent"); ua != "" {
		attrs = append(attrs, slog.String("user_agent", ua))
	}

	next(ctx)

	status := ctx.Status()
	attrs = append(attrs,
		slog.Int("status", status),
		slog.Duration("duration", time.Since(start)),
	)

	opID := "unknown"
	if op := ctx.Operation(); op != nil {
		opID = op.OperationID
	}
	logRequest(ctx.Context(), logger, opID, method, status, attrs)
}

// logRequest counts a finished request and logs it at a level chosen from
// the status code.
func logRequest(ctx context.Context, logger *slog.Logger, opID, method string, status int, attrs []slog.Attr) {
	metrics.IncHTTPRequests(opID, status)

	level := slog.LevelInfo
	switch {
	case status >= 500:
		level = slog.LevelError
	case status >= 400:
		level = slog.LevelWarn
	case method == "OPTIONS", quietOperations[opID]:
		level = slog.LevelDebug
	}
	logger.LogAttrs(ctx, level, "HTTP request completed", attrs...)
}

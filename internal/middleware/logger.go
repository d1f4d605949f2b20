package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/chandlery/internal/domain"
)

const (
	// LoggerContextKey is the context key for storing the request-scoped logger
	LoggerContextKey contextKey = "logger"
)

// WithRequestLogger creates middleware that injects a request-scoped logger into the context.
// The logger carries request_id, method and the path with any confirmation
// token masked. WithActor adds the actor further down the chain.
func WithRequestLogger(baseLogger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestLogger := baseLogger.With(
				slog.String("method", r.Method),
				slog.String("path", redactTokenPath(r.URL.Path)),
			)

			if requestID := GetRequestID(r.Context()); requestID != "" {
				requestLogger = requestLogger.With(slog.String("request_id", requestID))
			}

			ctx := context.WithValue(r.Context(), LoggerContextKey, requestLogger)
			if actor, ok := GetActor(ctx); ok {
				ctx = withActorLogger(ctx, actor)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// withActorLogger tags the request-scoped logger, if there is one, with the
// calling actor.
func withActorLogger(ctx context.Context, actor domain.Actor) context.Context {
	logger, ok := ctx.Value(LoggerContextKey).(*slog.Logger)
	if !ok {
		return ctx
	}
	return context.WithValue(ctx, LoggerContextKey, logger.With(
		slog.String("actor_kind", string(actor.Kind)),
		slog.String("actor_id", actor.ID.String()),
	))
}

// redactTokenPath masks the segment after "tokens" in a confirm or decline
// link. Entity ids stay readable.
func redactTokenPath(path string) string {
	if !strings.Contains(path, "/tokens/") {
		return path
	}
	segments := strings.Split(path, "/")
	for i := 1; i < len(segments); i++ {
		if segments[i-1] == "tokens" && segments[i] != "" {
			segments[i] = "[redacted]"
		}
	}
	return strings.Join(segments, "/")
}

// GetLogger retrieves the request-scoped logger from the context.
// If no logger is found, returns the provided fallback logger.
// If no fallback is provided, returns slog.Default().
func GetLogger(ctx context.Context, fallback ...*slog.Logger) *slog.Logger {
	if logger, ok := ctx.Value(LoggerContextKey).(*slog.Logger); ok {
		return logger
	}
	if len(fallback) > 0 && fallback[0] != nil {
		return fallback[0]
	}
	return slog.Default()
}

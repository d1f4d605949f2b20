package internal

import (
	"io"
	"log/slog"
	"time"
)

// tokenKeys are attribute keys whose values are confirmation tokens. They
// are masked in every environment.
var tokenKeys = map[string]bool{
	"token":              true,
	"raw_token":          true,
	"confirmation_token": true,
}

const redacted = "[redacted]"

// NewLogger builds the process logger: JSON in prod, text elsewhere. Every
// record carries the service name so server and worker logs can be told
// apart once shipped.
func NewLogger(w io.Writer, env, level, service string) *slog.Logger {
	var l = new(slog.LevelVar) // Info by default
	switch level {
	case "debug":
		l.Set(slog.LevelDebug)
	case "info", "":
	case "warn":
		l.Set(slog.LevelWarn)
	case "error":
		l.Set(slog.LevelError)
	default:
		slog.Default().Warn("Invalid log level. Using default level: info", slog.String("value", level))
	}

	var h slog.Handler
	switch env {
	case "prod":
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: l,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey && len(groups) == 0 {
					return slog.String("time", a.Value.Time().UTC().Format(time.RFC3339Nano))
				}
				return maskToken(groups, a)
			},
		})
	default:
		h = slog.NewTextHandler(w, &slog.HandlerOptions{Level: l, ReplaceAttr: maskToken})
	}

	logger := slog.New(h)
	if service != "" {
		logger = logger.With("service", service)
	}
	return logger
}

func maskToken(_ []string, a slog.Attr) slog.Attr {
	if tokenKeys[a.Key] && a.Value.Kind() == slog.KindString && a.Value.String() != "" {
		return slog.String(a.Key, redacted)
	}
	return a
}

package logger

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/schoolbilling/internal/domain"
)

// Config holds logger configuration.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	// Output defaults to stdout.
	Output io.Writer
}

// New creates a new zerolog logger based on config.
func New(cfg Config) zerolog.Logger {
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	return zerolog.New(output).
		Level(parseLevel(cfg.Level)).
		With().
		Timestamp().
		Caller().
		Logger()
}

// WithContext returns l enriched with the request id and actor carried by ctx.
func WithContext(ctx context.Context, l zerolog.Logger) zerolog.Logger {
	c := l.With()

	if id := domain.RequestIDFromContext(ctx); id != "" {
		c = c.Str("request_id", id)
	}

	if actor, ok := domain.ActorFromContext(ctx); ok {
		c = c.Str("user_id", actor.UserID).
			Str("school_id", actor.SchoolID).
			Str("role", string(actor.Role))
	}

	return c.Logger()
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

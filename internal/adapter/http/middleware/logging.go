package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/schoolbilling/internal/domain"
	"github.com/iho/schoolbilling/internal/infrastructure/logger"
)

// LoggingMiddleware logs HTTP requests.
type LoggingMiddleware struct {
	logger zerolog.Logger
}

// NewLoggingMiddleware creates a new LoggingMiddleware.
func NewLoggingMiddleware(logger zerolog.Logger) *LoggingMiddleware {
	return &LoggingMiddleware{logger: logger}
}

// Wrap wraps an http.Handler with logging. The request logger carries the
// request id and, once authenticated, the tenant.
func (m *LoggingMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		trace := &requestTrace{}
		r = r.WithContext(context.WithValue(r.Context(), traceKey{}, trace))

		wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		ctx := r.Context()
		if trace.set {
			ctx = domain.ContextWithActor(ctx, trace.actor)
		}
		log := logger.WithContext(ctx, m.logger)

		event := log.Info()
		switch {
		case wrapped.statusCode >= 500:
			event = log.Error()
		case wrapped.statusCode >= 400:
			event = log.Warn()
		}

		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.statusCode).
			Dur("duration", time.Since(start)).
			Str("remote_addr", r.RemoteAddr).
			Msg("request completed")
	})
}

type traceKey struct{}

// requestTrace lets inner middleware report the actor back to the logger.
type requestTrace struct {
	actor domain.Actor
	set   bool
}

func noteActor(ctx context.Context, actor domain.Actor) {
	if t, ok := ctx.Value(traceKey{}).(*requestTrace); ok {
		t.actor = actor
		t.set = true
	}
}

type statusRecorder struct {
	http.ResponseWriter

	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

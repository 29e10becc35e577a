package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/schoolbilling/internal/domain"
	"github.com/iho/schoolbilling/internal/usecase"
)

const (
	// IdempotencyKeyHeader is the header name for idempotency keys.
	IdempotencyKeyHeader = "Idempotency-Key"
	pendingResponse      = "processing"
	// maxFingerprintBody caps how much of a body is read to fingerprint it.
	maxFingerprintBody = 1 << 20
)

// keyReleaser drops a claimed key so a failed request can be retried.
type keyReleaser interface {
	Release(ctx context.Context, key string) error
}

// IdempotencyMiddleware replays the first successful response of a payment
// request carrying the same Idempotency-Key. Keys are scoped per school and
// per request: the same key sent to another record or with another body is a
// different request.
type IdempotencyMiddleware struct {
	store  usecase.IdempotencyStore
	logger zerolog.Logger
	ttl    time.Duration
}

// NewIdempotencyMiddleware creates a new IdempotencyMiddleware.
func NewIdempotencyMiddleware(store usecase.IdempotencyStore, ttl time.Duration, logger zerolog.Logger) *IdempotencyMiddleware {
	if ttl <= 0 {
		ttl = usecase.IdempotencyKeyTTL
	}

	return &IdempotencyMiddleware{store: store, ttl: ttl, logger: logger}
}

// Wrap wraps an http.Handler with idempotency checking.
func (m *IdempotencyMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost && r.Method != http.MethodPut {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get(IdempotencyKeyHeader)
		if key == "" || m.store == nil {
			next.ServeHTTP(w, r)
			return
		}

		key, err := scopedKey(r, key)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body", "")
			return
		}

		exists, cached, err := m.store.CheckAndSet(r.Context(), key, nil, m.ttl)
		if err != nil {
			m.logger.Error().Err(err).Msg("idempotency check failed")
			writeJSONError(w, http.StatusInternalServerError, "idempotency check failed", "")
			return
		}

		if exists {
			if cached == nil || string(cached) == pendingResponse {
				writeJSONError(w, http.StatusConflict, "request in progress", "a request with this Idempotency-Key is still being processed")
				return
			}

			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Idempotency-Replay", "true")
			w.Write(cached)
			return
		}

		recorder := &responseRecorder{
			ResponseWriter: w,
			body:           &bytes.Buffer{},
			statusCode:     http.StatusOK,
		}
		next.ServeHTTP(recorder, r)

		if recorder.statusCode >= 200 && recorder.statusCode < 300 {
			if err := m.store.Update(r.Context(), key, recorder.body.Bytes(), m.ttl); err != nil {
				m.logger.Error().Err(err).Str("idempotency_key", key).Msg("failed to store idempotent response")
			}
			return
		}

		if rel, ok := m.store.(keyReleaser); ok {
			if err := rel.Release(r.Context(), key); err != nil {
				m.logger.Warn().Err(err).Str("idempotency_key", key).Msg("failed to release idempotency key")
			}
		}
	})
}

// scopedKey binds key to the school, method, path and body of r. The body is
// restored for the next handler.
func scopedKey(r *http.Request, key string) (string, error) {
	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(io.LimitReader(r.Body, maxFingerprintBody))
		if err != nil {
			return "", err
		}
		r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), r.Body))
	}

	h := sha256.New()
	h.Write([]byte(r.Method))
	h.Write([]byte{0})
	h.Write([]byte(r.URL.Path))
	h.Write([]byte{0})
	h.Write(body)

	school := ""
	if actor, ok := domain.ActorFromContext(r.Context()); ok {
		school = actor.SchoolID
	}

	return school + ":" + key + ":" + hex.EncodeToString(h.Sum(nil)[:16]), nil
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *responseRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

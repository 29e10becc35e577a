package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/iho/schoolbilling/internal/domain"
)

// Retrier re-runs an operation with exponential backoff while it fails with
// domain.ErrConcurrency. Every other error stops the loop immediately.
type Retrier struct {
	logger          zerolog.Logger
	onRetry         func()
	maxRetries      int
	initialInterval time.Duration
	maxInterval     time.Duration
	maxElapsedTime  time.Duration
}

// Option configures a Retrier.
type Option func(*Retrier)

// WithBackoff overrides the backoff intervals.
func WithBackoff(initial, max, maxElapsed time.Duration) Option {
	return func(r *Retrier) {
		r.initialInterval = initial
		r.maxInterval = max
		r.maxElapsedTime = maxElapsed
	}
}

// WithOnRetry registers a hook called before every retry.
func WithOnRetry(fn func()) Option {
	return func(r *Retrier) {
		r.onRetry = fn
	}
}

// New creates a Retrier that gives up after maxRetries retries.
func New(maxRetries int, logger zerolog.Logger, opts ...Option) *Retrier {
	r := &Retrier{
		logger:          logger,
		maxRetries:      maxRetries,
		initialInterval: 20 * time.Millisecond,
		maxInterval:     500 * time.Millisecond,
		maxElapsedTime:  5 * time.Second,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Retry executes operation, retrying on concurrency conflicts.
func (r *Retrier) Retry(ctx context.Context, operation func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initialInterval
	b.MaxInterval = r.maxInterval
	b.MaxElapsedTime = r.maxElapsedTime

	retryCount := 0

	err := backoff.Retry(func() error {
		err := operation()
		if err == nil {
			return nil
		}

		if !IsRetryable(err) {
			return backoff.Permanent(err)
		}

		retryCount++
		if retryCount > r.maxRetries {
			return backoff.Permanent(err)
		}

		r.logger.Warn().
			Err(err).
			Int("retry", retryCount).
			Msg("concurrent update, retrying")

		if r.onRetry != nil {
			r.onRetry()
		}

		return err
	}, backoff.WithContext(b, ctx))

	return unwrapPermanent(err)
}

// IsRetryable reports whether err is a lost optimistic-concurrency race.
func IsRetryable(err error) bool {
	return errors.Is(err, domain.ErrConcurrency)
}

func unwrapPermanent(err error) error {
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}

	return err
}

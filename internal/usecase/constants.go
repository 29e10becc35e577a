package usecase

import "time"

const (
	// DefaultTransactionTimeout is the maximum duration for a payment commit.
	// A commit that does not finish in time is rolled back.
	DefaultTransactionTimeout = 10 * time.Second

	// DefaultReportCacheTTL is used when no TTL is configured.
	DefaultReportCacheTTL = 5 * time.Minute

	// IdempotencyKeyTTL is how long idempotency keys are cached
	IdempotencyKeyTTL = 24 * time.Hour

	// ReconcileBatchSize is the page size used when reconciling a whole school.
	ReconcileBatchSize = 100

	// SystemActor is recorded in audit logs when no user is attached to the context.
	SystemActor = "system"
)

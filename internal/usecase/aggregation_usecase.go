package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/schoolbilling/internal/domain"
	"github.com/iho/schoolbilling/internal/infrastructure/metrics"
)

const (
	reportDashboard = "dashboard"
	reportMetrics   = "metrics"
)

// AggregationUseCase computes read-only billing reports.
type AggregationUseCase struct {
	reports  ReportRepository
	cache    ReportCache
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	cacheTTL time.Duration
	now      func() time.Time
}

// NewAggregationUseCase creates a new AggregationUseCase. cache and m may be nil.
func NewAggregationUseCase(
	reports ReportRepository,
	cache ReportCache,
	cacheTTL time.Duration,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *AggregationUseCase {
	if cacheTTL <= 0 {
		cacheTTL = DefaultReportCacheTTL
	}

	return &AggregationUseCase{
		reports:  reports,
		cache:    cache,
		metrics:  m,
		logger:   logger.With().Str("component", "reports").Logger(),
		cacheTTL: cacheTTL,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// GetDashboardData returns totals, per-status breakdown, collections inside the
// window and the most recent payments of a school. Both bounds are inclusive.
func (uc *AggregationUseCase) GetDashboardData(
	ctx context.Context,
	schoolID string,
	startDate, endDate time.Time,
	schoolYearID *string,
) (*domain.DashboardData, error) {
	filter := domain.ReportFilter{
		SchoolID:     schoolID,
		StartDate:    &startDate,
		EndDate:      &endDate,
		SchoolYearID: schoolYearID,
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	return cached(ctx, uc, reportDashboard, filter, func() (*domain.DashboardData, error) {
		m, err := uc.computeMetrics(ctx, filter)
		if err != nil {
			return nil, err
		}

		methods, err := uc.reports.CollectedByMethod(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("collected by method: %w", err)
		}

		collected, err := domain.BuildCollected(methods)
		if err != nil {
			return nil, err
		}

		recent, err := uc.reports.RecentPayments(ctx, filter, domain.RecentPaymentsLimit)
		if err != nil {
			return nil, fmt.Errorf("recent payments: %w", err)
		}

		lines := make([]domain.RecentPayment, 0, len(recent))
		for _, tx := range recent {
			lines = append(lines, domain.NewRecentPayment(tx))
		}

		return &domain.DashboardData{
			BillingMetrics: *m,
			Collected:      collected,
			RecentPayments: lines,
		}, nil
	})
}

// GetMetrics returns the totals of a school. Either bound may be nil.
func (uc *AggregationUseCase) GetMetrics(
	ctx context.Context,
	schoolID string,
	startDate, endDate *time.Time,
	schoolYearID *string,
) (*domain.BillingMetrics, error) {
	filter := domain.ReportFilter{
		SchoolID:     schoolID,
		StartDate:    startDate,
		EndDate:      endDate,
		SchoolYearID: schoolYearID,
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	return cached(ctx, uc, reportMetrics, filter, func() (*domain.BillingMetrics, error) {
		return uc.computeMetrics(ctx, filter)
	})
}

func (uc *AggregationUseCase) computeMetrics(ctx context.Context, filter domain.ReportFilter) (*domain.BillingMetrics, error) {
	rows, err := uc.reports.StatusTotals(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("status totals: %w", err)
	}

	return domain.BuildMetrics(filter, rows, uc.now())
}

// cached serves a report from the cache or computes and stores it. The
// generation is read before computing, so a payment that invalidates the school
// meanwhile leaves the stored copy unreachable. Cache failures are logged and
// the report is computed from the repository.
func cached[T any](
	ctx context.Context,
	uc *AggregationUseCase,
	report string,
	filter domain.ReportFilter,
	compute func() (T, error),
) (T, error) {
	start := time.Now()
	key := cacheKey(report, filter)

	var gen string
	if uc.cache != nil {
		var err error
		if gen, err = uc.cache.Generation(ctx, filter.SchoolID); err != nil {
			uc.logger.Warn().Err(err).Str("report", report).Msg("report cache unavailable")
			gen = ""
		}
	}

	if gen != "" {
		data, ok, err := uc.cache.Get(ctx, filter.SchoolID, gen, key)
		switch {
		case err != nil:
			uc.logger.Warn().Err(err).Str("report", report).Msg("report cache read failed")
		case ok:
			var out T
			if err := json.Unmarshal(data, &out); err == nil {
				uc.observeLookup(report, "hit")
				return out, nil
			}
			uc.logger.Warn().Str("report", report).Msg("discarding undecodable cached report")
		}
		uc.observeLookup(report, "miss")
	}

	out, err := compute()
	if err != nil {
		var zero T
		return zero, err
	}

	if uc.metrics != nil {
		uc.metrics.ReportDuration.WithLabelValues(report).Observe(time.Since(start).Seconds())
	}

	if gen != "" {
		data, err := json.Marshal(out)
		if err == nil {
			err = uc.cache.Set(ctx, filter.SchoolID, gen, key, data, uc.cacheTTL)
		}
		if err != nil {
			uc.logger.Warn().Err(err).Str("report", report).Msg("report cache write failed")
		}
	}

	return out, nil
}

func (uc *AggregationUseCase) observeLookup(report, result string) {
	if uc.metrics != nil {
		uc.metrics.ReportCacheLookups.WithLabelValues(report, result).Inc()
	}
}

func cacheKey(report string, f domain.ReportFilter) string {
	parts := []string{report, formatBound(f.StartDate), formatBound(f.EndDate)}
	if f.SchoolYearID != nil {
		parts = append(parts, "year="+*f.SchoolYearID)
	}

	return strings.Join(parts, "|")
}

func formatBound(t *time.Time) string {
	if t == nil {
		return "-"
	}

	return t.UTC().Format(time.RFC3339Nano)
}

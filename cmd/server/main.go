package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	httpAdapter "github.com/iho/schoolbilling/internal/adapter/http"
	"github.com/iho/schoolbilling/internal/adapter/http/handler"
	"github.com/iho/schoolbilling/internal/adapter/http/middleware"
	"github.com/iho/schoolbilling/internal/adapter/repository/memory"
	postgresRepo "github.com/iho/schoolbilling/internal/adapter/repository/postgres"
	redisRepo "github.com/iho/schoolbilling/internal/adapter/repository/redis"
	"github.com/iho/schoolbilling/internal/infrastructure/auth"
	"github.com/iho/schoolbilling/internal/infrastructure/config"
	"github.com/iho/schoolbilling/internal/infrastructure/eventpublisher"
	"github.com/iho/schoolbilling/internal/infrastructure/logger"
	"github.com/iho/schoolbilling/internal/infrastructure/metrics"
	"github.com/iho/schoolbilling/internal/infrastructure/postgres"
	"github.com/iho/schoolbilling/internal/infrastructure/redis"
	"github.com/iho/schoolbilling/internal/infrastructure/retry"
	"github.com/iho/schoolbilling/internal/usecase"
)

const streamMaxLen = 100_000

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := buildApp(ctx, cfg, log, reg)
	if err != nil {
		return err
	}
	defer a.close()

	workers, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	if a.relay != nil {
		go func() {
			if err := a.relay.Start(workers); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("event publisher stopped")
			}
		}()
	}

	if a.limiter != nil {
		go sweepLimiters(workers, a.limiter)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:      a.handler,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.HTTPPort).Str("storage", cfg.StorageDriver).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info().Msg("server stopped")

	return nil
}

func sweepLimiters(ctx context.Context, rl *middleware.RateLimiter) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.CleanupLimiters(time.Hour)
		}
	}
}

// storage is the set of repositories behind one driver.
type storage struct {
	records      usecase.BillingRecordRepository
	transactions usecase.PaymentTransactionRepository
	ledger       usecase.BillingLedgerStore
	reports      usecase.ReportRepository
	outbox       usecase.OutboxRepository
	audits       usecase.AuditRepository
	ping         handler.Pinger
	close        func()
}

func openStorage(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*storage, error) {
	if cfg.StorageDriver == config.StorageMemory {
		log.Warn().Msg("using in-memory storage; data is lost on restart")

		store := memory.New()
		return &storage{
			records:      store,
			transactions: store,
			ledger:       store,
			reports:      store,
			outbox:       store,
			audits:       store,
			close:        func() {},
		}, nil
	}

	if cfg.AutoMigrate {
		if err := postgres.RunMigrations(cfg.DatabaseURL, cfg.MigrationsPath, log); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	pool, err := postgres.NewPoolWithConfig(ctx, postgres.PoolConfig{
		DatabaseURL:     cfg.DatabaseURL,
		MaxConns:        cfg.DatabaseMaxConns,
		MinConns:        cfg.DatabaseMinConns,
		MaxConnLifetime: cfg.DatabaseMaxConnLifetime,
		MaxConnIdleTime: cfg.DatabaseMaxConnIdleTime,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	log.Info().Msg("connected to postgres")

	return &storage{
		records:      postgresRepo.NewBillingRecordRepository(pool),
		transactions: postgresRepo.NewPaymentTransactionRepository(pool),
		ledger:       postgresRepo.NewLedgerStore(pool),
		reports:      postgresRepo.NewReportRepository(pool),
		outbox:       postgresRepo.NewOutboxRepository(pool),
		audits:       postgresRepo.NewAuditRepository(pool),
		ping:         handler.PingFunc(pool.Ping),
		close:        pool.Close,
	}, nil
}

type app struct {
	handler http.Handler
	relay   *eventpublisher.EventPublisher
	limiter *middleware.RateLimiter
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// buildApp wires storage, caches, use cases and the router from cfg.
func buildApp(ctx context.Context, cfg *config.Config, log zerolog.Logger, reg *prometheus.Registry) (*app, error) {
	policy, err := cfg.Policy()
	if err != nil {
		return nil, err
	}

	m := metrics.New(reg)
	a := &app{}

	store, err := openStorage(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.close)

	var (
		redisClient *goredis.Client
		reportCache usecase.ReportCache
		idempotency usecase.IdempotencyStore
	)

	if cfg.RedisURL != "" {
		redisClient, err = redis.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.closers = append(a.closers, func() { redisClient.Close() })
		log.Info().Msg("connected to redis")

		reportCache = redisRepo.NewReportCache(redisClient)
		idempotency = redisRepo.NewIdempotencyStore(redisClient)
	}

	idGen := postgresRepo.NewULIDGenerator()
	retrier := retry.New(cfg.PaymentMaxRetries, log, retry.WithOnRetry(m.PaymentRetries.Inc))

	payments := usecase.NewPaymentUseCase(usecase.PaymentUseCaseConfig{
		Records: store.records,
		Store:   store.ledger,
		IDGen:   idGen,
		Retrier: retrier,
		Cache:   reportCache,
		Metrics: m,
		Logger:  log,
		Policy:  policy,
	})
	billing := usecase.NewBillingUseCase(store.records, store.transactions, store.audits, reportCache, idGen, log)
	reports := usecase.NewAggregationUseCase(store.reports, reportCache, cfg.ReportCacheTTL, m, log)
	reconcile := usecase.NewReconciliationUseCase(store.records, store.transactions, log)

	switch cfg.EventPublisher {
	case config.PublisherLog:
		a.relay = newRelay(cfg, store.outbox, eventpublisher.NewLogPublisher(log), m, log)
	case config.PublisherRedis:
		a.relay = newRelay(cfg, store.outbox, eventpublisher.NewStreamPublisher(redisClient, cfg.EventStream, streamMaxLen), m, log)
	}

	var jwtManager *auth.JWTManager
	if cfg.AuthEnabled {
		jwtManager = auth.NewJWTManager(cfg.JWTSecret, cfg.JWTExpiration)
	} else {
		log.Warn().Msg("authentication disabled; tenant is read from the X-School-ID header")
	}

	if cfg.RateLimitRPS > 0 {
		a.limiter = middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, m)
	}

	checks := map[string]handler.Pinger{}
	if store.ping != nil {
		checks["postgres"] = store.ping
	}
	if redisClient != nil {
		checks["redis"] = handler.PingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
	}

	a.handler = httpAdapter.NewRouter(httpAdapter.RouterConfig{
		PaymentHandler:   handler.NewPaymentHandler(payments, cfg.DefaultCurrency),
		BillingHandler:   handler.NewBillingHandler(billing, cfg.DefaultCurrency),
		ReportHandler:    handler.NewReportHandler(reports, reconcile),
		HealthHandler:    handler.NewHealthHandler(checks),
		Authenticator:    middleware.NewAuthenticator(jwtManager, m),
		RateLimiter:      a.limiter,
		IdempotencyStore: idempotency,
		IdempotencyTTL:   cfg.IdempotencyTTL,
		Metrics:          m,
		MetricsHandler:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Logger:           log,
	})

	return a, nil
}

func newRelay(cfg *config.Config, outbox usecase.OutboxRepository, p eventpublisher.Publisher, m *metrics.Metrics, log zerolog.Logger) *eventpublisher.EventPublisher {
	return eventpublisher.NewEventPublisher(eventpublisher.Config{
		OutboxRepo: outbox,
		Publisher:  p,
		Metrics:    m,
		Logger:     log,
		Interval:   cfg.EventPublishInterval,
		Retention:  cfg.EventRetention,
	})
}

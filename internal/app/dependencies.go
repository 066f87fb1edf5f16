package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/toko-fulfillment/internal/config"
	"github.com/noah-isme/toko-fulfillment/internal/events"
	"github.com/noah-isme/toko-fulfillment/internal/fulfillment"
	"github.com/noah-isme/toko-fulfillment/internal/jobs"
	"github.com/noah-isme/toko-fulfillment/internal/lock"
	"github.com/noah-isme/toko-fulfillment/internal/notify"
	"github.com/noah-isme/toko-fulfillment/internal/obs"
	"github.com/noah-isme/toko-fulfillment/internal/queue"
	"github.com/noah-isme/toko-fulfillment/internal/resilience"
	"github.com/noah-isme/toko-fulfillment/internal/runs"
	"github.com/noah-isme/toko-fulfillment/internal/store"
)

// Dependencies holds the process-wide services shared by the commands.
type Dependencies struct {
	Config     *config.Config
	Logger     zerolog.Logger
	DB         *pgxpool.Pool
	Redis      *redis.Client
	Validator  *validator.Validate
	Registry   *fulfillment.Registry
	Events     *events.Bus
	Shipments  *store.Shipments
	Stock      *store.Stock
	Pipeline   *fulfillment.Pipeline
	Reporter   fulfillment.ErrorReporter
	Queue      queue.Enqueuer
	QueueStore queue.Store
	Runs       runs.Store
	Runner     jobs.Runner
	Dispatcher jobs.Dispatcher

	closers []func()
}

// Build connects to Postgres and Redis and wires the fulfillment pipeline.
// appName tags database sessions and log lines.
func Build(ctx context.Context, cfg *config.Config, logger zerolog.Logger, appName string) (*Dependencies, error) {
	registry, err := NewRegistry(cfg, logger)
	if err != nil {
		return nil, err
	}

	d := &Dependencies{
		Config:    cfg,
		Logger:    logger,
		Validator: validator.New(validator.WithRequiredStructEnabled()),
		Registry:  registry,
	}

	pool, err := OpenDatabase(ctx, cfg.DatabaseURL, appName)
	if err != nil {
		return nil, err
	}
	d.DB = pool
	d.closers = append(d.closers, pool.Close)

	rdb, err := OpenRedis(ctx, cfg.RedisURL, logger)
	if err != nil {
		d.Close()
		return nil, err
	}
	d.Redis = rdb
	d.closers = append(d.closers, func() {
		if err := rdb.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	})

	d.Events = &events.Bus{
		Store:     store.EventStore{DB: pool},
		Notifiers: []events.Notifier{notify.LogNotifier{Logger: obs.Component(logger, "events")}},
	}
	d.Shipments = &store.Shipments{DB: pool, Submitter: registry, Events: d.Events, Logger: obs.Component(logger, "store.shipments")}
	d.Stock = &store.Stock{DB: pool, Events: d.Events, Logger: obs.Component(logger, "store.stock")}
	d.Reporter = NewReporter(cfg, rdb, logger)
	if flusher, ok := d.Reporter.(interface{ Flush() }); ok {
		d.closers = append(d.closers, flusher.Flush)
	}
	d.Pipeline = &fulfillment.Pipeline{
		Shipments: d.Shipments,
		Stock:     d.Stock,
		Registry:  registry,
		Reporter:  d.Reporter,
		Logger:    obs.Component(logger, "fulfillment"),
	}

	d.Queue = queue.Enqueuer{R: rdb, Prefix: cfg.RedisPrefix, DedupTTL: cfg.QueueDedupTTL, MaxAttempts: cfg.QueueMaxAttempts}
	d.QueueStore = queue.NewStore(pool)
	d.Runs = runs.Store{R: rdb, Prefix: cfg.RedisPrefix}
	d.Dispatcher = jobs.Dispatcher{Queue: d.Queue, MaxAttempts: cfg.QueueMaxAttempts}
	d.Runner = jobs.Runner{
		Pipeline: d.Pipeline,
		Locker:   lock.Locker{R: rdb},
		Runs:     d.Runs,
		LockTTL:  cfg.LockTTL,
		Logger:   obs.Component(logger, "jobs"),
	}
	return d, nil
}

// Close releases connections in reverse order of acquisition.
func (d *Dependencies) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}

// NewRegistry loads the fulfillment file for cfg.AppEnv and registers the
// built-in adapters.
func NewRegistry(cfg *config.Config, logger zerolog.Logger) (*fulfillment.Registry, error) {
	providerCfg, err := config.LoadFulfillment(cfg.FulfillmentConfigFile, cfg.AppEnv)
	if err != nil {
		return nil, err
	}
	registry := fulfillment.NewRegistry(providerCfg, logger)
	fulfillment.RegisterBuiltins(registry, NewProviderClient(cfg, logger))
	return registry, nil
}

// NewProviderClient builds the retrying, circuit-broken client used by HTTP adapters.
func NewProviderClient(cfg *config.Config, logger zerolog.Logger) resilience.HTTPClient {
	return resilience.HTTPClient{
		Client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport.(*http.Transport).Clone()),
		},
		Breaker:     newBreaker(cfg, "fulfillment-provider", logger),
		Target:      "fulfillment-provider",
		Logger:      &logger,
		BaseBackoff: cfg.ProviderBackoff,
		MaxAttempts: cfg.ProviderMaxAttempts,
		Jitter:      0.2,
		Timeout:     cfg.ProviderTimeout,
	}
}

func newBreaker(cfg *config.Config, target string, logger zerolog.Logger) *resilience.Breaker {
	return resilience.NewBreaker(resilience.BreakerConfig{
		Target:       target,
		MinRequests:  cfg.BreakerMinRequests,
		FailureRatio: cfg.BreakerFailureRatio,
		OpenFor:      cfg.BreakerOpenFor,
		Logger:       &logger,
	})
}

// NewReporter returns a webhook reporter when ERROR_REPORT_URL is set and a
// log-only reporter otherwise.
func NewReporter(cfg *config.Config, rdb *redis.Client, logger zerolog.Logger) fulfillment.ErrorReporter {
	reportLogger := obs.Component(logger, "error-report")
	if cfg.ErrorReportURL == "" {
		return notify.LogReporter{Logger: reportLogger}
	}
	httpClient := notify.HttpClient(int(cfg.ErrorReportTimeout/time.Millisecond), false)
	return &notify.WebhookReporter{
		URL:         cfg.ErrorReportURL,
		Secret:      cfg.ErrorReportSecret,
		Source:      "toko-fulfillment",
		Environment: cfg.AppEnv,
		HTTP: &resilience.HTTPClient{
			Client:      httpClient,
			Breaker:     newBreaker(cfg, "error-report", reportLogger),
			Target:      "error-report",
			Logger:      &reportLogger,
			BaseBackoff: cfg.ProviderBackoff,
			MaxAttempts: 2,
			Jitter:      0.2,
			Timeout:     cfg.ErrorReportTimeout,
		},
		Logger:    reportLogger,
		Replay:    notify.RedisReplayProtector{Client: rdb, Prefix: cfg.RedisPrefix},
		ReplayTTL: cfg.ErrorReportReplayTTL,
		Timeout:   cfg.ErrorReportTimeout,
	}
}

// OpenDatabase connects a traced pgx pool and pings it.
func OpenDatabase(ctx context.Context, url, appName string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.QueryTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = appName

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// OpenRedis connects an instrumented Redis client and pings it.
func OpenRedis(ctx context.Context, url string, logger zerolog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisotel.InstrumentMetrics(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis metrics")
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// InitObservability registers domain metrics and, when enabled, the tracer
// provider. The returned function flushes spans and never returns nil.
func InitObservability(ctx context.Context, cfg *config.Config, logger zerolog.Logger) func(context.Context) error {
	obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, nil)
	noop := func(context.Context) error { return nil }
	if !cfg.TracingEnabled {
		return noop
	}
	shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
		ServiceName:   cfg.ServiceName,
		Endpoint:      cfg.TracingEndpoint,
		Exporter:      cfg.TracingExporter,
		SamplingRatio: cfg.TracingSampling,
		Environment:   cfg.AppEnv,
	})
	if err != nil {
		logger.Error().Err(err).Msg("initialise tracing")
		return noop
	}
	return shutdown
}

// Logger builds the process logger from cfg tagged with the command name.
func Logger(cfg *config.Config, command string) zerolog.Logger {
	return obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().
		Str("env", cfg.AppEnv).
		Str("cmd", command).
		Logger()
}

// IsConfigError reports whether err is a fatal fulfillment misconfiguration.
func IsConfigError(err error) bool {
	var cfgErr *fulfillment.ConfigError
	return errors.As(err, &cfgErr)
}

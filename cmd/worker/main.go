package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/toko-fulfillment/internal/app"
	"github.com/noah-isme/toko-fulfillment/internal/config"
	"github.com/noah-isme/toko-fulfillment/internal/fulfillment"
	"github.com/noah-isme/toko-fulfillment/internal/jobs"
	"github.com/noah-isme/toko-fulfillment/internal/obs"
	"github.com/noah-isme/toko-fulfillment/internal/queue"
	"github.com/noah-isme/toko-fulfillment/internal/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := app.Logger(cfg, "worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing := app.InitObservability(ctx, cfg, logger)
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown tracer")
		}
	}()

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	deps, err := app.Build(startCtx, cfg, logger, "toko-fulfillment-worker")
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise dependencies")
	}
	defer deps.Close()

	if err := deps.Registry.Validate(); err != nil {
		// Unknown adapters only skip runs; keep the worker up so a config
		// deploy can fix it without a restart loop.
		logger.Error().Err(err).Msg("fulfillment provider unavailable")
	}
	if err := queue.SyncDLQGauge(ctx, deps.QueueStore); err != nil {
		logger.Warn().Err(err).Msg("sync dlq gauge")
	}

	sched := scheduler.Scheduler{
		Dispatcher: deps.Dispatcher,
		Intervals: map[fulfillment.Stage]time.Duration{
			fulfillment.StageReady:       cfg.ReadyInterval,
			fulfillment.StageFulfilling:  cfg.FulfillingInterval,
			fulfillment.StageStockLevels: cfg.StockLevelsInterval,
		},
		Logger: obs.Component(logger, "scheduler"),
	}

	worker := queue.Worker{
		R:                 deps.Redis,
		Prefix:            cfg.RedisPrefix,
		Kind:              jobs.TaskKind,
		Concurrency:       1,
		VisibilityTimeout: cfg.QueueVisibilityTimeout,
		SoftDeadline:      cfg.LockTTL,
		RetryBase:         cfg.QueueRetryBase,
		RetryJitter:       0.2,
		Store:             deps.QueueStore,
		Logger:            &logger,
		Handler:           deps.Runner.Handle,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error { return worker.Run(gctx) })

	logger.Info().
		Dur("ready_interval", cfg.ReadyInterval).
		Dur("fulfilling_interval", cfg.FulfillingInterval).
		Dur("stock_levels_interval", cfg.StockLevelsInterval).
		Msg("worker starting")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker stopped with error")
	} else {
		logger.Info().Msg("worker shutdown complete")
	}
}

package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-fulfillment/internal/fulfillment"
	"github.com/noah-isme/toko-fulfillment/internal/lock"
	"github.com/noah-isme/toko-fulfillment/internal/obs"
	"github.com/noah-isme/toko-fulfillment/internal/queue"
)

// StageRunner executes one reconciliation stage. *fulfillment.Pipeline implements it.
type StageRunner interface {
	Run(ctx context.Context, stage fulfillment.Stage) (fulfillment.Report, error)
}

// Locker is satisfied by lock.Locker.
type Locker interface {
	TryWithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Recorder stores the last report of a stage. runs.Store implements it.
type Recorder interface {
	Save(ctx context.Context, report fulfillment.Report) error
}

// Runner executes stage tasks one at a time per stage.
type Runner struct {
	Pipeline StageRunner
	Locker   Locker
	Runs     Recorder
	// LockTTL is the expiry of the stage lock. The holder renews it while the
	// run is in progress, so it only bounds how long a crashed worker blocks
	// the stage.
	LockTTL time.Duration
	Logger  zerolog.Logger
}

// Execute runs stage under its lock and records the report. When another
// process holds the lock the run is skipped and lock.ErrNotAcquired returned.
func (r Runner) Execute(ctx context.Context, stage fulfillment.Stage) (fulfillment.Report, error) {
	logger := r.Logger.With().Str("stage", string(stage)).Logger()
	var (
		report fulfillment.Report
		runErr error
	)
	run := func(ctx context.Context) error {
		report, runErr = r.Pipeline.Run(ctx, stage)
		if r.Runs != nil && report.Stage != "" {
			if err := r.Runs.Save(ctx, report); err != nil {
				logger.Warn().Err(err).Msg("save run report")
			}
		}
		return runErr
	}

	var err error
	if r.Locker == nil {
		err = run(ctx)
	} else {
		err = r.Locker.TryWithLock(ctx, LockKey(stage), r.lockTTL(), run)
	}

	switch {
	case errors.Is(err, lock.ErrNotAcquired):
		obs.ObserveRunStatus(string(stage), "locked")
		logger.Info().Msg("fulfillment run skipped: stage locked")
		return fulfillment.Report{Stage: stage, Skipped: "locked"}, err
	case err != nil:
		obs.ObserveRunStatus(string(stage), "aborted")
		return report, err
	case len(report.Failures()) > 0:
		obs.ObserveRunStatus(string(stage), "failed")
	default:
		obs.ObserveRunStatus(string(stage), "ok")
	}
	return report, nil
}

// Handle is the queue.Worker handler for TaskKind. Held locks and fatal
// configuration errors are not retried.
func (r Runner) Handle(ctx context.Context, task queue.Task) error {
	stage, err := DecodeStage(task.Payload)
	if err != nil {
		r.Logger.Error().Err(err).Str("key", task.IdempotencyKey).Msg("drop malformed stage task")
		return nil
	}
	_, err = r.Execute(ctx, stage)
	var cfgErr *fulfillment.ConfigError
	switch {
	case err == nil, errors.Is(err, lock.ErrNotAcquired):
		return nil
	case errors.As(err, &cfgErr):
		r.Logger.Error().Err(err).Str("stage", string(stage)).Msg("fulfillment misconfigured")
		return nil
	default:
		return err
	}
}

func (r Runner) lockTTL() time.Duration {
	if r.LockTTL <= 0 {
		return 15 * time.Minute
	}
	return r.LockTTL
}

// Package scheduler periodically enqueues fulfillment stage tasks.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-fulfillment/internal/fulfillment"
	"github.com/noah-isme/toko-fulfillment/internal/jobs"
)

// Dispatcher is satisfied by jobs.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, stage fulfillment.Stage, key string, delay time.Duration) (bool, error)
}

// Scheduler enqueues each stage on its own interval. Stages with a zero
// interval are disabled.
type Scheduler struct {
	Dispatcher Dispatcher
	Intervals  map[fulfillment.Stage]time.Duration
	Logger     zerolog.Logger
	Now        func() time.Time
}

// Run blocks until ctx is cancelled. Every enabled stage is enqueued once at
// start and then on every tick.
func (s Scheduler) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, stage := range s.enabled() {
		interval := s.Intervals[stage]
		wg.Add(1)
		go func(stage fulfillment.Stage, interval time.Duration) {
			defer wg.Done()
			s.loop(ctx, stage, interval)
		}(stage, interval)
	}
	wg.Wait()
	return nil
}

// Tick enqueues stage for the interval window containing the current time.
func (s Scheduler) Tick(ctx context.Context, stage fulfillment.Stage) {
	interval := s.Intervals[stage]
	key := jobs.IdempotencyKey(stage, s.now(), interval)
	added, err := s.Dispatcher.Dispatch(ctx, stage, key, 0)
	logger := s.Logger.With().Str("stage", string(stage)).Str("key", key).Logger()
	if err != nil {
		logger.Error().Err(err).Msg("schedule stage")
		return
	}
	if !added {
		logger.Debug().Msg("stage already queued")
		return
	}
	logger.Debug().Msg("stage queued")
}

func (s Scheduler) loop(ctx context.Context, stage fulfillment.Stage, interval time.Duration) {
	s.Tick(ctx, stage)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx, stage)
		}
	}
}

func (s Scheduler) enabled() []fulfillment.Stage {
	var stages []fulfillment.Stage
	for stage, interval := range s.Intervals {
		if interval > 0 {
			stages = append(stages, stage)
		}
	}
	sort.Slice(stages, func(i, j int) bool { return stages[i] < stages[j] })
	return stages
}

func (s Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

package jobs

import (
	"context"
	"time"

	"github.com/noah-isme/toko-fulfillment/internal/fulfillment"
	"github.com/noah-isme/toko-fulfillment/internal/queue"
)

// Enqueuer is the queue surface the dispatcher needs.
type Enqueuer interface {
	EnqueueUnique(ctx context.Context, t queue.Task) (bool, error)
}

// Dispatcher turns stage requests into queue tasks.
type Dispatcher struct {
	Queue       Enqueuer
	MaxAttempts int
}

// Dispatch enqueues a run of stage. A non-empty key deduplicates the task;
// the boolean is false when an identical task is already pending.
func (d Dispatcher) Dispatch(ctx context.Context, stage fulfillment.Stage, key string, delay time.Duration) (bool, error) {
	payload, err := EncodeStage(stage)
	if err != nil {
		return false, err
	}
	return d.Queue.EnqueueUnique(ctx, queue.Task{
		Kind:           TaskKind,
		Payload:        payload,
		IdempotencyKey: key,
		MaxAttempts:    d.MaxAttempts,
		Delay:          delay,
	})
}

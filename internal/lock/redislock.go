package lock

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned by TryWithLock when another holder owns the key.
var ErrNotAcquired = errors.New("lock: already held")

// ErrLockLost is joined to the callback's error when the lock could not be
// renewed because another holder took the key. The callback's context is
// cancelled with it as cause.
var ErrLockLost = errors.New("lock: ownership lost")

// Locker provides a Redis-backed distributed lock.
type Locker struct {
	R            *redis.Client
	RetryBackoff time.Duration
}

// WithLock executes fn while holding a lock for the provided key. The lock is
// renewed every third of ttl while fn runs and released automatically even if
// fn returns an error. When the lock cannot be acquired before the context is
// cancelled an error is returned.
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if err := l.check(fn); err != nil {
		return err
	}
	token := uuid.NewString()
	retry := l.RetryBackoff
	if retry <= 0 {
		retry = 50 * time.Millisecond
	}

	for {
		ok, err := l.acquire(ctx, key, token, ttl)
		if err != nil {
			return err
		}
		if ok {
			return l.hold(ctx, key, token, ttl, fn)
		}
		timer := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// TryWithLock runs fn only if the lock for key is free right now, otherwise it
// returns ErrNotAcquired without waiting.
func (l Locker) TryWithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if err := l.check(fn); err != nil {
		return err
	}
	token := uuid.NewString()
	ok, err := l.acquire(ctx, key, token, ttl)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAcquired
	}
	return l.hold(ctx, key, token, ttl, fn)
}

// hold runs fn while token owns key, extending the expiry so a run longer
// than ttl keeps the key. The ttl only bounds how long a crashed holder
// blocks others.
func (l Locker) hold(ctx context.Context, key, token string, ttl time.Duration, fn func(context.Context) error) error {
	defer l.release(context.Background(), key, token)

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.renew(runCtx, key, token, effectiveTTL(ttl), stop, cancel)
	}()

	err := fn(runCtx)
	close(stop)
	wg.Wait()
	if errors.Is(context.Cause(runCtx), ErrLockLost) {
		return errors.Join(ErrLockLost, err)
	}
	return err
}

func (l Locker) renew(ctx context.Context, key, token string, ttl time.Duration, stop <-chan struct{}, cancel context.CancelCauseFunc) {
	interval := ttl / 3
	if interval <= 0 {
		interval = ttl
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		ok, err := l.extend(ctx, key, token, ttl)
		if err != nil {
			// transient; retried on the next tick while the key still lives
			continue
		}
		if !ok {
			cancel(ErrLockLost)
			return
		}
	}
}

func (l Locker) extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	const script = `if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("pexpire", KEYS[1], ARGV[2])
else
  return 0
end`
	n, err := l.R.Eval(ctx, script, []string{key}, token, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (l Locker) check(fn func(context.Context) error) error {
	if l.R == nil {
		return errors.New("lock: redis client not configured")
	}
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	return nil
}

func (l Locker) acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return l.R.SetNX(ctx, key, token, effectiveTTL(ttl)).Result()
}

func effectiveTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 30 * time.Second
	}
	return ttl
}

func (l Locker) release(ctx context.Context, key, token string) {
	const script = `if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
else
  return 0
end`
	if err := l.R.Eval(ctx, script, []string{key}, token).Err(); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unknown command") {
			_ = l.R.Del(ctx, key).Err()
		}
	}
}

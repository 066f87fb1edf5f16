package notify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"maps"
	"slices"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// ReplayProtector suppresses duplicate reports within a TTL.
type ReplayProtector interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// RedisReplayProtector guards report keys with SET NX so that every worker
// process shares one suppression window.
type RedisReplayProtector struct {
	Client *redis.Client
	Prefix string
}

// Acquire claims key for ttl and reports whether this caller won it. A nil
// client grants every claim.
func (r RedisReplayProtector) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if r.Client == nil {
		return true, nil
	}
	err := r.Client.SetArgs(ctx, r.key(key), time.Now().UTC().Format(time.RFC3339), redis.SetArgs{Mode: "NX", TTL: ttl}).Err()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, redis.Nil):
		return false, nil
	}
	return false, err
}

// Release drops the guard for key.
func (r RedisReplayProtector) Release(ctx context.Context, key string) error {
	if r.Client == nil {
		return nil
	}
	return r.Client.Del(ctx, r.key(key)).Err()
}

func (r RedisReplayProtector) key(key string) string {
	if r.Prefix == "" {
		return key
	}
	return r.Prefix + ":" + key
}

// replayKey fingerprints a report by its error text and sorted fields so the
// same failure seen on consecutive runs is reported once per TTL.
func replayKey(report errorReport) string {
	h := sha256.New()
	_, _ = h.Write([]byte(report.Error))
	for _, k := range slices.Sorted(maps.Keys(report.Fields)) {
		_, _ = h.Write([]byte("|" + k + "=" + report.Fields[k]))
	}
	return "errreport:" + hex.EncodeToString(h.Sum(nil))[:32]
}

// Package runs keeps the most recent report of every fulfillment stage in Redis
// so operators can inspect the last reconciliation without scraping logs.
package runs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/toko-fulfillment/internal/fulfillment"
)

// ErrNoRun is returned by Last when no report was recorded for the stage.
var ErrNoRun = errors.New("runs: no report recorded")

// Store persists the last report per stage.
type Store struct {
	R      *redis.Client
	Prefix string
	// TTL expires stale reports; zero keeps them forever.
	TTL time.Duration
}

// Save overwrites the stored report for report.Stage.
func (s Store) Save(ctx context.Context, report fulfillment.Report) error {
	if s.R == nil {
		return errors.New("runs: redis client not configured")
	}
	if report.Stage == "" {
		return errors.New("runs: report stage is required")
	}
	raw, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("runs: encode report: %w", err)
	}
	return s.R.Set(ctx, s.key(report.Stage), raw, s.TTL).Err()
}

// Last returns the most recent report for stage.
func (s Store) Last(ctx context.Context, stage fulfillment.Stage) (fulfillment.Report, error) {
	if s.R == nil {
		return fulfillment.Report{}, errors.New("runs: redis client not configured")
	}
	raw, err := s.R.Get(ctx, s.key(stage)).Bytes()
	if errors.Is(err, redis.Nil) {
		return fulfillment.Report{}, ErrNoRun
	}
	if err != nil {
		return fulfillment.Report{}, err
	}
	var report fulfillment.Report
	if err := json.Unmarshal(raw, &report); err != nil {
		return fulfillment.Report{}, fmt.Errorf("runs: decode report: %w", err)
	}
	return report, nil
}

func (s Store) key(stage fulfillment.Stage) string {
	if s.Prefix == "" {
		return fmt.Sprintf("runs:%s", stage)
	}
	return fmt.Sprintf("%s:runs:%s", s.Prefix, stage)
}

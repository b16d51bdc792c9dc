package cache

import (
	"context"
	"time"

	"tokopos/backend/internal/domain"
)

// StatsCache keeps recently computed transaction stats so dashboard
// polling does not hammer the store. Misses are not errors.
type StatsCache interface {
	Get(ctx context.Context, key string) (*domain.TransactionStats, bool, error)
	Set(ctx context.Context, key string, value *domain.TransactionStats, ttl time.Duration) error
	Invalidate(ctx context.Context, prefix string) error
}

type NoopStatsCache struct{}

func (NoopStatsCache) Get(_ context.Context, _ string) (*domain.TransactionStats, bool, error) {
	return nil, false, nil
}

func (NoopStatsCache) Set(_ context.Context, _ string, _ *domain.TransactionStats, _ time.Duration) error {
	return nil
}

func (NoopStatsCache) Invalidate(_ context.Context, _ string) error {
	return nil
}

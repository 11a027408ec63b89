// Package janitor drives the pull-based cleanup of the memory
// subsystem. Nothing inside the stores expires entries on its own;
// this loop is the external caller that sweeps TTL-expired entries and
// low-performance reasoning patterns on an interval.
package janitor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nidhogg/memoria/internal/memory"
)

const leaseKey = "memoria:janitor:lease"

// Cleaner is the slice of the memory facade the janitor needs.
type Cleaner interface {
	Cleanup(ctx context.Context, opts memory.CleanupOptions) (memory.CleanupResult, error)
}

// Janitor periodically runs the composite cleanup. With a Redis client
// it takes a short lease first, so only one replica sweeps per tick.
type Janitor struct {
	cleaner  Cleaner
	rdb      *redis.Client
	id       string
	interval time.Duration
	lease    time.Duration
	opts     memory.CleanupOptions
	logger   *zap.Logger
}

// New creates a janitor. redisURL may be empty, which disables the
// lease and makes every replica sweep.
func New(cleaner Cleaner, redisURL string, interval, lease time.Duration, opts memory.CleanupOptions, logger *zap.Logger) (*Janitor, error) {
	j := &Janitor{
		cleaner:  cleaner,
		id:       uuid.New().String(),
		interval: interval,
		lease:    lease,
		opts:     opts,
		logger:   logger,
	}
	if redisURL != "" {
		ropts, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb := redis.NewClient(ropts)
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		j.rdb = rdb
	}
	return j, nil
}

// Run sweeps on the configured interval until the context is canceled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.logger.Info("janitor started",
		zap.Duration("interval", j.interval),
		zap.Bool("leased", j.rdb != nil))

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("janitor stopped")
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep runs one cleanup pass, honoring the lease when configured.
func (j *Janitor) Sweep(ctx context.Context) {
	if j.rdb != nil {
		ok, err := j.rdb.SetNX(ctx, leaseKey, j.id, j.lease).Result()
		if err != nil {
			j.logger.Warn("janitor lease unavailable", zap.Error(err))
			return
		}
		if !ok {
			j.logger.Debug("janitor lease held elsewhere")
			return
		}
	}

	res, err := j.cleaner.Cleanup(ctx, j.opts)
	if err != nil {
		j.logger.Warn("cleanup pass failed", zap.Error(err))
	}
	if res.ExpiredEntries > 0 || res.LowPerformance > 0 {
		j.logger.Info("cleanup pass complete",
			zap.Int("expired_entries", res.ExpiredEntries),
			zap.Int("low_performance_patterns", res.LowPerformance))
	}
}

// Close releases the Redis connection if one was configured.
func (j *Janitor) Close() error {
	if j.rdb == nil {
		return nil
	}
	return j.rdb.Close()
}

// Package lock holds the helpers shared by the Locker backends.
package lock

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/newswatch/internal/crawler"
)

// StageKey returns the lock key of an enrichment stage, e.g. "search_lock".
func StageKey(task crawler.TaskName) string {
	return string(task) + "_lock"
}

// ReleaseQuietly releases lease and logs a failure. The lease still expires
// on its own, so release errors never fail a job. A job killed by its hard
// timeout keeps the lock until the lease runs out.
func ReleaseQuietly(ctx context.Context, lease crawler.Lease, logger *zap.Logger) {
	if lease == nil {
		return
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		logger.Warn("hard timeout reached, leaving lock to expire", zap.String("key", lease.Key()))
		return
	}
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := lease.Release(releaseCtx); err != nil {
		logger.Warn("lock release failed", zap.String("key", lease.Key()), zap.Error(err))
	}
}

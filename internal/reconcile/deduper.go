package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deduper suppresses replays of already-processed snapshots. The push
// channel is at-least-once, so the same snapshot can arrive twice; a
// replay must not change state or re-raise a resolved conflict.
type Deduper struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewDeduper(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Deduper {
	return &Deduper{rdb: rdb, ttl: ttl, logger: logger}
}

// AcquireOnce tries to claim a snapshot identified by milestone id and
// authoritative timestamp. Returns true on first sight, false on a
// duplicate. If redis is unavailable processing is allowed through:
// the store's merge is idempotent anyway.
func (d *Deduper) AcquireOnce(ctx context.Context, milestoneID string, updatedAt time.Time) bool {
	key := fmt.Sprintf("dedup:snapshot:%s:%d", milestoneID, updatedAt.UnixNano())

	ok, err := d.rdb.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		if d.logger != nil {
			d.logger.Warn("Redis dedup check failed, allowing processing",
				zap.String("milestone_id", milestoneID),
				zap.Error(err),
			)
		}
		return true
	}

	if !ok && d.logger != nil {
		d.logger.Debug("Skipped duplicated snapshot",
			zap.String("milestone_id", milestoneID),
			zap.String("dedup_key", key),
		)
	}
	return ok
}

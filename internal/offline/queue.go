package offline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/clachance14/pipetrak/internal/model"
	"github.com/clachance14/pipetrak/pkg/metrics"
)

// Queue persists not-yet-submitted and awaiting-retry intents in the
// scoped key-value store so in-flight work survives a restart. Keys
// are scoped per project so two projects on one gateway never mix
// queues.
type Queue struct {
	rdb    *redis.Client
	scope  string
	logger *zap.Logger
}

func NewQueue(rdb *redis.Client, scope string, logger *zap.Logger) *Queue {
	return &Queue{rdb: rdb, scope: scope, logger: logger}
}

func (q *Queue) offlineKey() string {
	return fmt.Sprintf("sync:%s:offline", q.scope)
}

func (q *Queue) retryKey() string {
	return fmt.Sprintf("sync:%s:retry", q.scope)
}

// Push appends a not-yet-submitted intent to the offline queue.
func (q *Queue) Push(ctx context.Context, intent model.UpdateIntent) error {
	return q.push(ctx, q.offlineKey(), intent)
}

// PushRetry records an intent awaiting its backoff retry.
func (q *Queue) PushRetry(ctx context.Context, intent model.UpdateIntent) error {
	return q.push(ctx, q.retryKey(), intent)
}

func (q *Queue) push(ctx context.Context, key string, intent model.UpdateIntent) error {
	b, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("failed to marshal intent: %w", err)
	}
	if err := q.rdb.HSet(ctx, key, intent.MilestoneID, b).Err(); err != nil {
		return fmt.Errorf("failed to persist intent: %w", err)
	}
	q.refreshDepthGauge(ctx)
	return nil
}

// refreshDepthGauge republishes the persisted queue depth, best effort.
func (q *Queue) refreshDepthGauge(ctx context.Context) {
	if depth, err := q.Depth(ctx); err == nil {
		metrics.SetOfflineDepth(depth)
	}
}

// Remove drops a resolved intent from both queues.
func (q *Queue) Remove(ctx context.Context, milestoneID string) error {
	pipe := q.rdb.TxPipeline()
	pipe.HDel(ctx, q.offlineKey(), milestoneID)
	pipe.HDel(ctx, q.retryKey(), milestoneID)
	_, err := pipe.Exec(ctx)
	q.refreshDepthGauge(ctx)
	return err
}

// Drain atomically takes every persisted intent, offline queue first.
// Keyed by milestone id, so a superseding intent for the same
// milestone replaced its predecessor at persist time.
func (q *Queue) Drain(ctx context.Context) ([]model.UpdateIntent, error) {
	var raw []map[string]string
	pipe := q.rdb.TxPipeline()
	offline := pipe.HGetAll(ctx, q.offlineKey())
	retry := pipe.HGetAll(ctx, q.retryKey())
	pipe.Del(ctx, q.offlineKey(), q.retryKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to drain queues: %w", err)
	}
	raw = append(raw, offline.Val(), retry.Val())
	metrics.SetOfflineDepth(0)

	seen := make(map[string]bool)
	var intents []model.UpdateIntent
	for _, set := range raw {
		for milestoneID, data := range set {
			if seen[milestoneID] {
				continue
			}
			var intent model.UpdateIntent
			if err := json.Unmarshal([]byte(data), &intent); err != nil {
				q.logger.Warn("Dropping undecodable persisted intent",
					zap.String("milestone_id", milestoneID),
					zap.Error(err),
				)
				continue
			}
			seen[milestoneID] = true
			intents = append(intents, intent)
		}
	}
	return intents, nil
}

// Depth reports how many intents are persisted across both queues.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	pipe := q.rdb.TxPipeline()
	offline := pipe.HLen(ctx, q.offlineKey())
	retry := pipe.HLen(ctx, q.retryKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return offline.Val() + retry.Val(), nil
}

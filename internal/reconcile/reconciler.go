package reconcile

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/clachance14/pipetrak/internal/model"
	"github.com/clachance14/pipetrak/pkg/metrics"
)

// Ingester is the store-facing side of the reconciler. Satisfied by
// *optimistic.Store.
type Ingester interface {
	Ingest(server model.Milestone)
}

// Mirror persists confirmed snapshots locally. Satisfied by
// *repository.MilestoneRepository.
type Mirror interface {
	UpsertMilestone(ctx context.Context, m model.Milestone) error
	UpsertComponent(ctx context.Context, c model.Component) error
}

// snapshotMessage is the push payload: a milestone snapshot plus an
// optional component header, carried when the central server assigns
// work the gateway has never mirrored. Mirroring the header is what
// lets push-discovered milestones survive a restart.
type snapshotMessage struct {
	model.Milestone
	Component *model.Component `json:"component,omitempty"`
}

// Reconciler merges externally pushed milestone snapshots into the
// optimistic store. Delivery is at-least-once and unordered; the
// deduper and the store's merge keep replays harmless. This is also
// how other users' edits land locally.
type Reconciler struct {
	store   Ingester
	deduper *Deduper
	mirror  Mirror
	logger  *zap.Logger
}

func NewReconciler(store Ingester, deduper *Deduper, mirror Mirror, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		store:   store,
		deduper: deduper,
		mirror:  mirror,
		logger:  logger,
	}
}

// HandleSnapshot consumes one milestone.updated message from the push
// channel. Registered as the consumer handler in cmd/syncd.
func (r *Reconciler) HandleSnapshot(ctx context.Context, raw json.RawMessage) error {
	var msg snapshotMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		metrics.IncSnapshotIngest("invalid")
		r.logger.Error("Failed to unmarshal milestone snapshot", zap.Error(err))
		return err
	}
	if msg.ID == "" {
		metrics.IncSnapshotIngest("invalid")
		return fmt.Errorf("snapshot is missing milestone id")
	}

	if msg.Component != nil && r.mirror != nil {
		header := model.Component{
			ID:            msg.Component.ID,
			WorkflowType:  msg.Component.WorkflowType,
			ComponentType: msg.Component.ComponentType,
		}
		if err := r.mirror.UpsertComponent(ctx, header); err != nil {
			r.logger.Warn("Failed to mirror component header",
				zap.String("component_id", header.ID),
				zap.Error(err),
			)
		}
	}

	r.Apply(ctx, msg.Milestone)
	return nil
}

// Apply merges one snapshot. Safe to call with replays.
func (r *Reconciler) Apply(ctx context.Context, snapshot model.Milestone) {
	if r.deduper != nil && !r.deduper.AcquireOnce(ctx, snapshot.ID, snapshot.UpdatedAt) {
		metrics.IncSnapshotIngest("duplicate")
		return
	}

	r.store.Ingest(snapshot)
	metrics.IncSnapshotIngest("applied")

	if r.mirror != nil {
		if err := r.mirror.UpsertMilestone(ctx, snapshot); err != nil {
			// The mirror is a warm-start cache, not the source of
			// truth; a write failure must not fail the merge.
			r.logger.Warn("Failed to mirror confirmed snapshot",
				zap.String("milestone_id", snapshot.ID),
				zap.Error(err),
			)
		}
	}

	r.logger.Debug("Merged pushed snapshot",
		zap.String("milestone_id", snapshot.ID),
		zap.String("component_id", snapshot.ComponentID),
		zap.Time("updated_at", snapshot.UpdatedAt),
	)
}

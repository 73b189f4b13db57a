package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/clachance14/pipetrak/internal/bulk"
	"github.com/clachance14/pipetrak/internal/model"
	"github.com/clachance14/pipetrak/internal/optimistic"
	"github.com/clachance14/pipetrak/internal/repository"
	"github.com/clachance14/pipetrak/internal/workflow"
)

// ErrTransitionBlocked is returned when the dependency rule evaluator
// rejects a requested completion or uncompletion.
var ErrTransitionBlocked = errors.New("transition blocked by workflow dependencies")

type componentMeta struct {
	workflowType  model.WorkflowType
	componentType model.ComponentType
	milestoneIDs  []string
}

// SyncService is the UI-facing layer of the engine: it gates intents
// through the dependency rule evaluator, applies them optimistically
// and exposes read-side views.
type SyncService struct {
	store  *optimistic.Store
	repo   *repository.MilestoneRepository
	bulk   *bulk.Orchestrator
	logger *zap.Logger

	mu         sync.RWMutex
	components map[string]componentMeta
	index      map[string]string // milestone id -> component id
}

func NewSyncService(
	store *optimistic.Store,
	repo *repository.MilestoneRepository,
	bulkOrch *bulk.Orchestrator,
	logger *zap.Logger,
) *SyncService {
	return &SyncService{
		store:      store,
		repo:       repo,
		bulk:       bulkOrch,
		logger:     logger,
		components: make(map[string]componentMeta),
		index:      make(map[string]string),
	}
}

// RegisterComponent seeds the store with a component's confirmed
// milestones and indexes it for gating.
func (s *SyncService) RegisterComponent(c model.Component) {
	s.store.Seed(c)

	s.mu.Lock()
	defer s.mu.Unlock()
	meta := componentMeta{
		workflowType:  c.WorkflowType,
		componentType: c.ComponentType,
	}
	for _, m := range c.Milestones {
		meta.milestoneIDs = append(meta.milestoneIDs, m.ID)
		s.index[m.ID] = c.ID
	}
	s.components[c.ID] = meta
}

// SeedFromMirror loads every mirrored component on startup.
func (s *SyncService) SeedFromMirror(ctx context.Context) error {
	ids, err := s.repo.ListComponentIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list mirrored components: %w", err)
	}
	for _, id := range ids {
		c, err := s.repo.GetComponent(ctx, id)
		if err != nil {
			return err
		}
		s.RegisterComponent(*c)
	}
	s.logger.Info("Seeded optimistic store from mirror", zap.Int("component_count", len(ids)))
	return nil
}

// UpdateMilestone gates and applies a single milestone edit. The
// returned snapshot is the speculative value; confirmation arrives
// through the observer callbacks.
func (s *SyncService) UpdateMilestone(ctx context.Context, userID, milestoneID string, value model.UpdateValue) (model.Milestone, error) {
	view, meta, err := s.componentView(milestoneID)
	if err != nil {
		return model.Milestone{}, err
	}

	var target model.Milestone
	found := false
	for _, m := range view {
		if m.ID == milestoneID {
			target = m
			found = true
			break
		}
	}
	if !found {
		return model.Milestone{}, fmt.Errorf("milestone %s not found in component view", milestoneID)
	}

	if dir, gated := transitionDirection(target, value, meta.workflowType); gated {
		if !workflow.CanTransition(target, view, meta.componentType, dir) {
			return model.Milestone{}, fmt.Errorf("%w: %s", ErrTransitionBlocked, target.Name)
		}
	}

	intent := model.UpdateIntent{
		IntentID:    model.NewIntentID(),
		MilestoneID: milestoneID,
		ComponentID: target.ComponentID,
		Value:       value,
		UserID:      userID,
	}
	return s.store.Apply(intent)
}

// MilestoneView pairs a current-truth snapshot with its operation
// status for the UI.
type MilestoneView struct {
	Milestone  model.Milestone       `json:"milestone"`
	Status     model.OperationStatus `json:"status"`
	HasPending bool                  `json:"has_pending"`
}

// ComponentMilestones returns the read()-backed view of a component.
func (s *SyncService) ComponentMilestones(componentID string) ([]MilestoneView, error) {
	s.mu.RLock()
	meta, ok := s.components[componentID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown component %s", componentID)
	}

	views := make([]MilestoneView, 0, len(meta.milestoneIDs))
	for _, id := range meta.milestoneIDs {
		rec, ok := s.store.RecordOf(id)
		if !ok {
			continue
		}
		m := rec.ServerValue
		if rec.SpeculativeValue != nil {
			m = *rec.SpeculativeValue
		}
		views = append(views, MilestoneView{
			Milestone:  m,
			Status:     rec.Status,
			HasPending: rec.PendingIntent != nil,
		})
	}
	return views, nil
}

// ValidateBulk runs the pre-flight check for a bulk request.
func (s *SyncService) ValidateBulk(req model.BulkRequest) model.ValidationResult {
	return s.bulk.Validate(req)
}

// SubmitBulk runs a bulk operation with progress reporting.
func (s *SyncService) SubmitBulk(ctx context.Context, req model.BulkRequest, progress bulk.ProgressFunc) (*model.BulkResult, error) {
	return s.bulk.Submit(ctx, req, progress)
}

// Conflicts lists unresolved conflicts.
func (s *SyncService) Conflicts() []model.ConflictRecord {
	return s.store.Conflicts()
}

// ResolveConflict settles a surfaced conflict.
func (s *SyncService) ResolveConflict(milestoneID string, resolution optimistic.Resolution) error {
	return s.store.ResolveConflict(milestoneID, resolution)
}

// componentView assembles the current-truth milestone list used for
// dependency gating, so gating and display can never disagree.
func (s *SyncService) componentView(milestoneID string) ([]model.Milestone, componentMeta, error) {
	s.mu.RLock()
	componentID, ok := s.index[milestoneID]
	if !ok {
		s.mu.RUnlock()
		return nil, componentMeta{}, fmt.Errorf("unknown milestone %s", milestoneID)
	}
	meta := s.components[componentID]
	s.mu.RUnlock()

	view := make([]model.Milestone, 0, len(meta.milestoneIDs))
	for _, id := range meta.milestoneIDs {
		if m, ok := s.store.Read(id); ok {
			view = append(view, m)
		}
	}
	return view, meta, nil
}

// transitionDirection decides which dependency gate applies. Lowering
// a value that was never complete needs no gate; everything moving a
// milestone toward or away from completion does.
func transitionDirection(current model.Milestone, value model.UpdateValue, wt model.WorkflowType) (workflow.Direction, bool) {
	switch wt {
	case model.WorkflowPercentage:
		if value.PercentageValue == nil {
			return 0, false
		}
		if *value.PercentageValue > current.PercentageValue {
			return workflow.DirectionComplete, true
		}
		if current.IsCompleted {
			return workflow.DirectionUncomplete, true
		}
		return 0, false
	case model.WorkflowQuantity:
		if value.QuantityValue == nil {
			return 0, false
		}
		if *value.QuantityValue > current.QuantityComplete {
			return workflow.DirectionComplete, true
		}
		if current.IsCompleted {
			return workflow.DirectionUncomplete, true
		}
		return 0, false
	default:
		if value.IsCompleted == nil {
			return 0, false
		}
		if *value.IsCompleted && !current.IsCompleted {
			return workflow.DirectionComplete, true
		}
		if !*value.IsCompleted && current.IsCompleted {
			return workflow.DirectionUncomplete, true
		}
		return 0, false
	}
}

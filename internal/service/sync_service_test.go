package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clachance14/pipetrak/internal/bulk"
	"github.com/clachance14/pipetrak/internal/clock"
	"github.com/clachance14/pipetrak/internal/model"
	"github.com/clachance14/pipetrak/internal/optimistic"
)

type idleClient struct {
	mu    sync.Mutex
	calls int
}

func (c *idleClient) SubmitUpdate(_ context.Context, milestoneID string, _ model.UpdateValue) (*model.Milestone, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return &model.Milestone{ID: milestoneID}, nil
}

func (c *idleClient) SubmitBulk(context.Context, model.BulkRequest) (*model.BulkResult, error) {
	return &model.BulkResult{}, nil
}

type dropScheduler struct{}

func (dropScheduler) Enqueue(model.UpdateIntent) {}
func (dropScheduler) Clear()                     {}

func newTestService(t *testing.T) (*SyncService, *optimistic.Store) {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC))
	store := optimistic.NewStore(&idleClient{}, clk, nil, nil, optimistic.Callbacks{}, optimistic.DefaultConfig(), zap.NewNop())
	store.AttachScheduler(dropScheduler{})
	orch := bulk.NewOrchestrator(&idleClient{}, clk, bulk.DefaultConfig(), zap.NewNop())
	return NewSyncService(store, nil, orch, zap.NewNop()), store
}

func spoolComponent() model.Component {
	updated := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)
	mk := func(id, name string, seq int, done bool) model.Milestone {
		return model.Milestone{
			ID:            id,
			ComponentID:   "comp-1",
			Name:          name,
			SequenceOrder: seq,
			IsCompleted:   done,
			UpdatedAt:     updated,
		}
	}
	return model.Component{
		ID:           "comp-1",
		WorkflowType: model.WorkflowDiscrete,
		Milestones: []model.Milestone{
			mk("ms-receive", "Receive", 1, true),
			mk("ms-erect", "Erect", 2, false),
			mk("ms-punch", "Punch", 3, false),
			mk("ms-test", "Test", 4, false),
		},
	}
}

func boolPtr(b bool) *bool { return &b }

func TestSyncService_UpdateAllowedTransition(t *testing.T) {
	svc, store := newTestService(t)
	svc.RegisterComponent(spoolComponent())

	spec, err := svc.UpdateMilestone(context.Background(), "user-7", "ms-erect", model.UpdateValue{IsCompleted: boolPtr(true)})
	require.NoError(t, err)
	assert.True(t, spec.IsCompleted)
	assert.Equal(t, "user-7", spec.CompletedBy)
	assert.Equal(t, model.StatusPending, store.StatusOf("ms-erect"))
}

func TestSyncService_UpdateBlockedBySkippedStep(t *testing.T) {
	svc, _ := newTestService(t)
	svc.RegisterComponent(spoolComponent())

	_, err := svc.UpdateMilestone(context.Background(), "user-7", "ms-punch", model.UpdateValue{IsCompleted: boolPtr(true)})
	assert.ErrorIs(t, err, ErrTransitionBlocked)
}

func TestSyncService_GatingSeesSpeculativeState(t *testing.T) {
	svc, _ := newTestService(t)
	svc.RegisterComponent(spoolComponent())

	// Completing Erect optimistically unlocks Punch immediately, before
	// the server confirms. Gating and display share the same view.
	_, err := svc.UpdateMilestone(context.Background(), "user-7", "ms-erect", model.UpdateValue{IsCompleted: boolPtr(true)})
	require.NoError(t, err)

	_, err = svc.UpdateMilestone(context.Background(), "user-7", "ms-punch", model.UpdateValue{IsCompleted: boolPtr(true)})
	assert.NoError(t, err)
}

func TestSyncService_UncompleteBlockedByDescendant(t *testing.T) {
	svc, _ := newTestService(t)
	c := spoolComponent()
	c.Milestones[1].IsCompleted = true // Erect done, built upon Receive
	svc.RegisterComponent(c)

	_, err := svc.UpdateMilestone(context.Background(), "user-7", "ms-receive", model.UpdateValue{IsCompleted: boolPtr(false)})
	assert.ErrorIs(t, err, ErrTransitionBlocked)

	// The leaf-most completed step can always be reversed.
	_, err = svc.UpdateMilestone(context.Background(), "user-7", "ms-erect", model.UpdateValue{IsCompleted: boolPtr(false)})
	assert.NoError(t, err)
}

func TestSyncService_UnknownMilestone(t *testing.T) {
	svc, _ := newTestService(t)
	svc.RegisterComponent(spoolComponent())

	_, err := svc.UpdateMilestone(context.Background(), "user-7", "ms-bogus", model.UpdateValue{IsCompleted: boolPtr(true)})
	assert.Error(t, err)
}

func TestSyncService_ComponentMilestonesView(t *testing.T) {
	svc, _ := newTestService(t)
	svc.RegisterComponent(spoolComponent())

	_, err := svc.UpdateMilestone(context.Background(), "user-7", "ms-erect", model.UpdateValue{IsCompleted: boolPtr(true)})
	require.NoError(t, err)

	views, err := svc.ComponentMilestones("comp-1")
	require.NoError(t, err)
	require.Len(t, views, 4)

	byID := make(map[string]MilestoneView, len(views))
	for _, v := range views {
		byID[v.Milestone.ID] = v
	}
	assert.True(t, byID["ms-erect"].Milestone.IsCompleted, "speculative value exposed")
	assert.Equal(t, model.StatusPending, byID["ms-erect"].Status)
	assert.True(t, byID["ms-erect"].HasPending)
	assert.Equal(t, model.StatusIdle, byID["ms-receive"].Status)

	_, err = svc.ComponentMilestones("comp-unknown")
	assert.Error(t, err)
}

func TestSyncService_QuantityDecreaseWhileIncompleteNeedsNoGate(t *testing.T) {
	svc, _ := newTestService(t)
	updated := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)
	svc.RegisterComponent(model.Component{
		ID:           "comp-2",
		WorkflowType: model.WorkflowQuantity,
		Milestones: []model.Milestone{
			{ID: "qty-weld", ComponentID: "comp-2", Name: "Weld Out", SequenceOrder: 1,
				QuantityComplete: 5, QuantityTotal: 10, UpdatedAt: updated},
		},
	})

	three := 3
	spec, err := svc.UpdateMilestone(context.Background(), "user-7", "qty-weld", model.UpdateValue{QuantityValue: &three})
	require.NoError(t, err)
	assert.Equal(t, 3, spec.QuantityComplete)
}

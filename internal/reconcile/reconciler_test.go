package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clachance14/pipetrak/internal/model"
)

type captureIngester struct {
	ingested []model.Milestone
}

func (c *captureIngester) Ingest(m model.Milestone) {
	c.ingested = append(c.ingested, m)
}

type captureMirror struct {
	upserts    []model.Milestone
	components []model.Component
	err        error
}

func (c *captureMirror) UpsertMilestone(_ context.Context, m model.Milestone) error {
	c.upserts = append(c.upserts, m)
	return c.err
}

func (c *captureMirror) UpsertComponent(_ context.Context, comp model.Component) error {
	c.components = append(c.components, comp)
	return c.err
}

func TestReconciler_HandleSnapshot(t *testing.T) {
	store := &captureIngester{}
	mirror := &captureMirror{}
	r := NewReconciler(store, nil, mirror, zap.NewNop())

	snapshot := model.Milestone{
		ID:          "ms-1",
		ComponentID: "comp-1",
		Name:        "Erect",
		IsCompleted: true,
		UpdatedAt:   time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC),
	}
	raw, err := json.Marshal(snapshot)
	require.NoError(t, err)

	require.NoError(t, r.HandleSnapshot(context.Background(), raw))

	require.Len(t, store.ingested, 1)
	assert.Equal(t, "ms-1", store.ingested[0].ID)
	assert.True(t, store.ingested[0].IsCompleted)
	require.Len(t, mirror.upserts, 1)
	assert.Empty(t, mirror.components, "no component header in the payload")
}

func TestReconciler_SnapshotWithComponentHeaderMirrorsIt(t *testing.T) {
	store := &captureIngester{}
	mirror := &captureMirror{}
	r := NewReconciler(store, nil, mirror, zap.NewNop())

	raw := json.RawMessage(`{
		"id": "ms-9",
		"component_id": "comp-9",
		"name": "Fit Up",
		"updated_at": "2026-03-10T08:00:00Z",
		"component": {"id": "comp-9", "workflow_type": "MILESTONE_DISCRETE", "component_type": "FIELD_WELD"}
	}`)
	require.NoError(t, r.HandleSnapshot(context.Background(), raw))

	require.Len(t, mirror.components, 1, "new component header lands in the mirror")
	assert.Equal(t, "comp-9", mirror.components[0].ID)
	assert.Equal(t, model.ComponentFieldWeld, mirror.components[0].ComponentType)
	assert.Empty(t, mirror.components[0].Milestones, "header only; the snapshot upsert carries the milestone")
	require.Len(t, store.ingested, 1)
	require.Len(t, mirror.upserts, 1)
}

func TestReconciler_MalformedPayloadRejected(t *testing.T) {
	store := &captureIngester{}
	r := NewReconciler(store, nil, nil, zap.NewNop())

	assert.Error(t, r.HandleSnapshot(context.Background(), json.RawMessage(`{"id":`)))
	assert.Error(t, r.HandleSnapshot(context.Background(), json.RawMessage(`{"name":"Erect"}`)), "missing milestone id")
	assert.Empty(t, store.ingested)
}

func TestReconciler_MirrorFailureDoesNotFailMerge(t *testing.T) {
	store := &captureIngester{}
	mirror := &captureMirror{err: errors.New("db down")}
	r := NewReconciler(store, nil, mirror, zap.NewNop())

	raw, _ := json.Marshal(model.Milestone{ID: "ms-1"})
	assert.NoError(t, r.HandleSnapshot(context.Background(), raw))
	assert.Len(t, store.ingested, 1, "merge happens despite the mirror write failing")
}

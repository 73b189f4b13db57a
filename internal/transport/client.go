package transport

import (
	"context"

	"github.com/clachance14/pipetrak/internal/model"
)

// Client is the abstract network contract of the central PipeTrak
// server. Payload shape depends on the component's workflow category.
type Client interface {
	// SubmitUpdate submits one milestone update and returns the
	// server's confirmed snapshot.
	SubmitUpdate(ctx context.Context, milestoneID string, payload model.UpdateValue) (*model.Milestone, error)

	// SubmitBulk submits one bulk request chunk and returns per-item
	// outcomes.
	SubmitBulk(ctx context.Context, req model.BulkRequest) (*model.BulkResult, error)
}

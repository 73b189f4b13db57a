package bulk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clachance14/pipetrak/internal/clock"
	"github.com/clachance14/pipetrak/internal/model"
	"github.com/clachance14/pipetrak/internal/transport"
)

// fakeBulkClient answers SubmitBulk with a scripted per-call outcome.
type fakeBulkClient struct {
	mu       sync.Mutex
	calls    int
	requests []model.BulkRequest
	respond  func(call int, req model.BulkRequest) (*model.BulkResult, error)
}

func (f *fakeBulkClient) SubmitUpdate(ctx context.Context, milestoneID string, value model.UpdateValue) (*model.Milestone, error) {
	return nil, errors.New("not used")
}

func (f *fakeBulkClient) SubmitBulk(ctx context.Context, req model.BulkRequest) (*model.BulkResult, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.respond(call, req)
}

func (f *fakeBulkClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// echoSuccess marks every item in the request successful.
func echoSuccess(_ int, req model.BulkRequest) (*model.BulkResult, error) {
	result := &model.BulkResult{}
	for _, id := range req.ComponentIDs {
		result.Successful = append(result.Successful, model.BulkItemResult{
			ComponentID:   id,
			MilestoneName: req.MilestoneName,
		})
	}
	for _, g := range req.Groups {
		for _, id := range g.ComponentIDs {
			for _, name := range g.Milestones {
				result.Successful = append(result.Successful, model.BulkItemResult{
					ComponentID:   id,
					MilestoneName: name,
				})
			}
		}
	}
	return result, nil
}

func componentIDs(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("comp-%04d", i)
	}
	return out
}

func quickRequest(n int) model.BulkRequest {
	done := true
	return model.BulkRequest{
		Mode:          model.BulkQuick,
		MilestoneName: "Erect",
		ComponentIDs:  componentIDs(n),
		Value:         model.UpdateValue{IsCompleted: &done},
	}
}

func TestOrchestrator_QuickModeChunking(t *testing.T) {
	client := &fakeBulkClient{respond: echoSuccess}
	o := NewOrchestrator(client, clock.NewFake(time.Unix(0, 0)), DefaultConfig(), zap.NewNop())

	var progress []model.BulkProgress
	result, err := o.Submit(context.Background(), quickRequest(1000), func(p model.BulkProgress) {
		progress = append(progress, p)
	})
	require.NoError(t, err)

	assert.Equal(t, 20, client.callCount(), "1000 items in chunks of 50")
	assert.Equal(t, 1000, result.Total)
	assert.Len(t, result.Successful, 1000)
	assert.Empty(t, result.Failed)

	require.Len(t, progress, 20)
	assert.Equal(t, 1, progress[0].CurrentChunk)
	assert.Equal(t, 20, progress[0].TotalChunks)
	assert.InDelta(t, 5.0, progress[0].Percentage, 0.01)
	assert.InDelta(t, 100.0, progress[19].Percentage, 0.01)

	// Every chunk except possibly the last carries exactly chunk-size.
	for i, req := range client.requests {
		if i < 19 {
			assert.Len(t, req.ComponentIDs, 50)
		}
	}
}

func TestOrchestrator_PartialFailureAggregation(t *testing.T) {
	// Chunk 3 fails terminally, the rest succeed. Chunks are
	// independent: a failed chunk never aborts the remainder.
	client := &fakeBulkClient{
		respond: func(call int, req model.BulkRequest) (*model.BulkResult, error) {
			if call == 3 {
				return nil, &transport.ValidationError{Msg: "rejected"}
			}
			return echoSuccess(call, req)
		},
	}
	o := NewOrchestrator(client, clock.NewFake(time.Unix(0, 0)), DefaultConfig(), zap.NewNop())

	result, err := o.Submit(context.Background(), quickRequest(200), nil)
	require.NoError(t, err)

	assert.Equal(t, 200, result.Total)
	assert.Len(t, result.Successful, 150)
	assert.Len(t, result.Failed, 50)
	assert.Equal(t, 200, len(result.Successful)+len(result.Failed))
	for _, item := range result.Failed {
		assert.Contains(t, item.Error, "rejected")
	}
}

func TestOrchestrator_TransientChunkRetries(t *testing.T) {
	transient := &transport.TransientError{Op: "bulk", Err: errors.New("gateway timeout")}
	client := &fakeBulkClient{
		respond: func(call int, req model.BulkRequest) (*model.BulkResult, error) {
			if call <= 2 {
				return nil, transient
			}
			return echoSuccess(call, req)
		},
	}
	o := NewOrchestrator(client, clock.NewFake(time.Unix(0, 0)), Config{
		ChunkSize:  50,
		MaxRetries: 3,
	}, zap.NewNop())

	result, err := o.Submit(context.Background(), quickRequest(50), nil)
	require.NoError(t, err)

	assert.Equal(t, 3, client.callCount(), "two transient failures then success")
	assert.Len(t, result.Successful, 50)
	assert.Empty(t, result.Failed)
}

func TestOrchestrator_ValidationErrorNeverRetried(t *testing.T) {
	client := &fakeBulkClient{
		respond: func(int, model.BulkRequest) (*model.BulkResult, error) {
			return nil, &transport.ValidationError{Msg: "bad value"}
		},
	}
	o := NewOrchestrator(client, clock.NewFake(time.Unix(0, 0)), DefaultConfig(), zap.NewNop())

	result, err := o.Submit(context.Background(), quickRequest(50), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, client.callCount(), "validation failures fail fast")
	assert.Len(t, result.Failed, 50)
}

func TestOrchestrator_RetryBudgetExhausted(t *testing.T) {
	transient := &transport.TransientError{Op: "bulk", Err: errors.New("unreachable")}
	client := &fakeBulkClient{
		respond: func(int, model.BulkRequest) (*model.BulkResult, error) {
			return nil, transient
		},
	}
	o := NewOrchestrator(client, clock.NewFake(time.Unix(0, 0)), Config{
		ChunkSize:  50,
		MaxRetries: 3,
	}, zap.NewNop())

	result, err := o.Submit(context.Background(), quickRequest(50), nil)
	require.NoError(t, err)

	assert.Equal(t, 4, client.callCount(), "initial attempt plus three retries")
	assert.Len(t, result.Failed, 50)
}

func TestOrchestrator_AdvancedModeExpansion(t *testing.T) {
	client := &fakeBulkClient{respond: echoSuccess}
	o := NewOrchestrator(client, clock.NewFake(time.Unix(0, 0)), DefaultConfig(), zap.NewNop())

	done := true
	req := model.BulkRequest{
		Mode: model.BulkAdvanced,
		Groups: []model.BulkGroup{
			{TemplateID: "spool", ComponentIDs: componentIDs(10), Milestones: []string{"Erect", "Connect"}},
			{TemplateID: "valve", ComponentIDs: []string{"v-1", "v-2"}, Milestones: []string{"Receive"}},
		},
		Value: model.UpdateValue{IsCompleted: &done},
	}

	result, err := o.Submit(context.Background(), req, nil)
	require.NoError(t, err)

	assert.Equal(t, 22, result.Total, "10*2 + 2*1 expanded pairs")
	assert.Len(t, result.Successful, 22)

	// Chunk requests preserve the advanced shape and group identity.
	require.NotEmpty(t, client.requests)
	assert.Equal(t, model.BulkAdvanced, client.requests[0].Mode)
	assert.NotEmpty(t, client.requests[0].Groups)
}

func TestOrchestrator_AdvancedGroupSplitAcrossChunks(t *testing.T) {
	// One group of 17 components x 3 milestones is 51 pairs, so the
	// chunk boundary falls inside the last component. The second chunk
	// must carry only the one pair the first chunk left out.
	client := &fakeBulkClient{respond: echoSuccess}
	o := NewOrchestrator(client, clock.NewFake(time.Unix(0, 0)), DefaultConfig(), zap.NewNop())

	done := true
	req := model.BulkRequest{
		Mode: model.BulkAdvanced,
		Groups: []model.BulkGroup{
			{TemplateID: "spool", ComponentIDs: componentIDs(17), Milestones: []string{"Erect", "Connect", "Punch"}},
		},
		Value: model.UpdateValue{IsCompleted: &done},
	}

	result, err := o.Submit(context.Background(), req, nil)
	require.NoError(t, err)
	require.Equal(t, 2, client.callCount())

	sent := make(map[string]int)
	total := 0
	for _, chunkReq := range client.requests {
		for _, g := range chunkReq.Groups {
			for _, id := range g.ComponentIDs {
				for _, name := range g.Milestones {
					sent[id+"/"+name]++
					total++
				}
			}
		}
	}
	assert.Equal(t, 51, total, "chunks carry exactly the expanded pairs")
	for pair, n := range sent {
		assert.Equal(t, 1, n, "pair %s submitted once", pair)
	}

	assert.Equal(t, 51, result.Total)
	assert.Len(t, result.Successful, 51)
	assert.Empty(t, result.Failed)
	assert.Equal(t, result.Total, len(result.Successful)+len(result.Failed))
}

func TestOrchestrator_Validate(t *testing.T) {
	o := NewOrchestrator(&fakeBulkClient{respond: echoSuccess}, clock.NewFake(time.Unix(0, 0)), DefaultConfig(), zap.NewNop())

	v := o.Validate(model.BulkRequest{Mode: model.BulkQuick})
	assert.False(t, v.Valid)
	assert.Len(t, v.Errors, 2, "missing milestone name and components")

	v = o.Validate(quickRequest(10))
	assert.True(t, v.Valid)
	assert.Equal(t, 10, v.EstimatedCount)

	v = o.Validate(quickRequest(1000))
	assert.True(t, v.Valid)
	assert.NotEmpty(t, v.Warnings, "large selection warns")

	v = o.Validate(model.BulkRequest{Mode: "bogus"})
	assert.False(t, v.Valid)

	v = o.Validate(model.BulkRequest{
		Mode:   model.BulkAdvanced,
		Groups: []model.BulkGroup{{TemplateID: "spool", ComponentIDs: []string{"a"}, Milestones: []string{"Erect", "Test"}}},
	})
	assert.True(t, v.Valid)
	assert.Equal(t, 2, v.EstimatedCount)

	_, err := o.Submit(context.Background(), model.BulkRequest{Mode: model.BulkQuick}, nil)
	var ve *transport.ValidationError
	assert.ErrorAs(t, err, &ve)
}

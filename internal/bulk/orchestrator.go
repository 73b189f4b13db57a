package bulk

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/clachance14/pipetrak/internal/clock"
	"github.com/clachance14/pipetrak/internal/model"
	"github.com/clachance14/pipetrak/internal/transport"
	"github.com/clachance14/pipetrak/pkg/metrics"
)

// Config bounds chunking and whole-request retries.
type Config struct {
	ChunkSize     int
	MaxRetries    int
	RetryBase     time.Duration
	RetryCap      time.Duration
	WarnThreshold int
}

func DefaultConfig() Config {
	return Config{
		ChunkSize:     50,
		MaxRetries:    3,
		RetryBase:     1 * time.Second,
		RetryCap:      10 * time.Second,
		WarnThreshold: 500,
	}
}

// ProgressFunc receives coarse progress after each chunk resolves.
type ProgressFunc func(model.BulkProgress)

// target is one (component, milestone) pair expanded from a request.
type target struct {
	templateID    string
	componentID   string
	milestoneName string
}

// Orchestrator submits large update sets in bounded sequential chunks
// with whole-request retry for transient failures and partial-failure
// aggregation. Chunks are never parallelized: predictable server load
// and simple failure accounting beat throughput here.
type Orchestrator struct {
	client transport.Client
	clock  clock.Clock
	config Config
	logger *zap.Logger
}

func NewOrchestrator(client transport.Client, clk clock.Clock, config Config, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		client: client,
		clock:  clk,
		config: config,
		logger: logger,
	}
}

// Validate runs the pre-flight shape check independent of submission.
func (o *Orchestrator) Validate(req model.BulkRequest) model.ValidationResult {
	var result model.ValidationResult

	switch req.Mode {
	case model.BulkQuick:
		if req.MilestoneName == "" {
			result.Errors = append(result.Errors, "milestone name is required in quick mode")
		}
		if len(req.ComponentIDs) == 0 {
			result.Errors = append(result.Errors, "no components selected")
		}
		result.EstimatedCount = len(req.ComponentIDs)
	case model.BulkAdvanced:
		if len(req.Groups) == 0 {
			result.Errors = append(result.Errors, "no component groups selected")
		}
		for _, g := range req.Groups {
			if g.TemplateID == "" {
				result.Errors = append(result.Errors, "group is missing template id")
			}
			if len(g.ComponentIDs) == 0 {
				result.Errors = append(result.Errors, fmt.Sprintf("group %s has no components", g.TemplateID))
			}
			if len(g.Milestones) == 0 {
				result.Errors = append(result.Errors, fmt.Sprintf("group %s has no milestones", g.TemplateID))
			}
			result.EstimatedCount += len(g.ComponentIDs) * len(g.Milestones)
		}
	default:
		result.Errors = append(result.Errors, fmt.Sprintf("unknown bulk mode %q", req.Mode))
	}

	if o.config.WarnThreshold > 0 && result.EstimatedCount > o.config.WarnThreshold {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("large selection (%d items), submission may take a while", result.EstimatedCount))
	}

	result.Valid = len(result.Errors) == 0
	return result
}

// Submit validates, chunks and submits the request, accumulating
// per-item outcomes. A failed chunk marks its items failed but never
// aborts the remaining chunks.
func (o *Orchestrator) Submit(ctx context.Context, req model.BulkRequest, progress ProgressFunc) (*model.BulkResult, error) {
	if v := o.Validate(req); !v.Valid {
		return nil, &transport.ValidationError{Msg: fmt.Sprintf("invalid bulk request: %v", v.Errors)}
	}

	targets := expand(req)
	chunks := chunkTargets(targets, o.config.ChunkSize)
	result := &model.BulkResult{Total: len(targets)}

	o.logger.Info("Submitting bulk update",
		zap.String("mode", string(req.Mode)),
		zap.Int("total_items", len(targets)),
		zap.Int("total_chunks", len(chunks)),
	)

	for i, chunk := range chunks {
		chunkReq := buildChunkRequest(req, chunk)
		resp, err := o.submitChunk(ctx, chunkReq)
		if err != nil {
			metrics.IncBulkChunk("failed")
			o.logger.Error("Bulk chunk failed",
				zap.Int("chunk", i+1),
				zap.Int("total_chunks", len(chunks)),
				zap.Int("item_count", len(chunk)),
				zap.Error(err),
			)
			for _, t := range chunk {
				result.Failed = append(result.Failed, model.BulkItemResult{
					ComponentID:   t.componentID,
					MilestoneName: t.milestoneName,
					Error:         err.Error(),
				})
			}
		} else {
			metrics.IncBulkChunk("success")
			result.Successful = append(result.Successful, resp.Successful...)
			result.Failed = append(result.Failed, resp.Failed...)
		}

		if progress != nil {
			progress(model.BulkProgress{
				CurrentChunk: i + 1,
				TotalChunks:  len(chunks),
				Percentage:   float64(i+1) / float64(len(chunks)) * 100,
			})
		}
	}

	o.logger.Info("Bulk update finished",
		zap.Int("successful", len(result.Successful)),
		zap.Int("failed", len(result.Failed)),
		zap.Int("total", result.Total),
	)
	return result, nil
}

// submitChunk retries a chunk at whole-request granularity. Transient
// failures retry with capped exponential backoff; validation failures
// never do.
func (o *Orchestrator) submitChunk(ctx context.Context, req model.BulkRequest) (*model.BulkResult, error) {
	var lastErr error
	for attempt := 0; attempt <= o.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := o.sleep(ctx, o.backoff(attempt)); err != nil {
				return nil, err
			}
		}
		resp, err := o.client.SubmitBulk(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if retryable, _ := transport.IsRetryable(err); !retryable {
			return nil, err
		}
	}
	return nil, lastErr
}

func (o *Orchestrator) backoff(attempt int) time.Duration {
	d := o.config.RetryBase << (attempt - 1)
	if d > o.config.RetryCap {
		return o.config.RetryCap
	}
	return d
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	done := make(chan struct{})
	timer := o.clock.AfterFunc(d, func() { close(done) })
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	}
}

func expand(req model.BulkRequest) []target {
	var targets []target
	switch req.Mode {
	case model.BulkQuick:
		for _, id := range req.ComponentIDs {
			targets = append(targets, target{componentID: id, milestoneName: req.MilestoneName})
		}
	case model.BulkAdvanced:
		for _, g := range req.Groups {
			for _, id := range g.ComponentIDs {
				for _, name := range g.Milestones {
					targets = append(targets, target{
						templateID:    g.TemplateID,
						componentID:   id,
						milestoneName: name,
					})
				}
			}
		}
	}
	return targets
}

func chunkTargets(targets []target, size int) [][]target {
	if size <= 0 {
		size = 50
	}
	var chunks [][]target
	for start := 0; start < len(targets); start += size {
		end := start + size
		if end > len(targets) {
			end = len(targets)
		}
		chunks = append(chunks, targets[start:end])
	}
	return chunks
}

// buildChunkRequest reconstructs a request covering only the chunk's
// targets, preserving the original mode. Advanced chunks carry one
// group per component: a multi-component group split mid-chunk must
// not widen back into a ComponentIDs x Milestones cross-product, or
// boundary pairs get submitted by two chunks.
func buildChunkRequest(req model.BulkRequest, chunk []target) model.BulkRequest {
	out := model.BulkRequest{
		Mode:          req.Mode,
		MilestoneName: req.MilestoneName,
		Value:         req.Value,
		TransactionID: req.TransactionID,
	}

	if req.Mode == model.BulkQuick {
		for _, t := range chunk {
			out.ComponentIDs = append(out.ComponentIDs, t.componentID)
		}
		return out
	}

	type groupKey struct {
		templateID  string
		componentID string
	}
	groups := make(map[groupKey]*model.BulkGroup)
	var order []groupKey
	for _, t := range chunk {
		k := groupKey{t.templateID, t.componentID}
		g, ok := groups[k]
		if !ok {
			g = &model.BulkGroup{
				TemplateID:   t.templateID,
				ComponentIDs: []string{t.componentID},
			}
			groups[k] = g
			order = append(order, k)
		}
		g.Milestones = append(g.Milestones, t.milestoneName)
	}
	for _, k := range order {
		out.Groups = append(out.Groups, *groups[k])
	}
	return out
}

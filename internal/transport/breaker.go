package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/clachance14/pipetrak/internal/clock"
	"github.com/clachance14/pipetrak/internal/model"
)

// ErrCircuitOpen is returned while the breaker is rejecting requests.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerState of the submission circuit breaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

// BreakerConfig tunes the submission circuit breaker.
type BreakerConfig struct {
	FailureThreshold    int
	SuccessThreshold    int
	Timeout             time.Duration
	HalfOpenMaxRequests int
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		Timeout:             30 * time.Second,
		HalfOpenMaxRequests: 3,
	}
}

// BreakerClient wraps a Client and sheds submissions while the central
// server is failing, so a flaky uplink does not burn the retry budget
// of every queued intent at once.
type BreakerClient struct {
	inner  Client
	clock  clock.Clock
	config BreakerConfig

	state         BreakerState
	failureCount  int
	successCount  int
	halfOpenCount int
	lastStateTime time.Time

	mu sync.Mutex
}

func NewBreakerClient(inner Client, clk clock.Clock, config BreakerConfig) *BreakerClient {
	return &BreakerClient{
		inner:         inner,
		clock:         clk,
		config:        config,
		state:         BreakerClosed,
		lastStateTime: clk.Now(),
	}
}

func (b *BreakerClient) SubmitUpdate(ctx context.Context, milestoneID string, payload model.UpdateValue) (*model.Milestone, error) {
	var snapshot *model.Milestone
	err := b.execute(func() error {
		var err error
		snapshot, err = b.inner.SubmitUpdate(ctx, milestoneID, payload)
		return err
	})
	return snapshot, err
}

func (b *BreakerClient) SubmitBulk(ctx context.Context, req model.BulkRequest) (*model.BulkResult, error) {
	var result *model.BulkResult
	err := b.execute(func() error {
		var err error
		result, err = b.inner.SubmitBulk(ctx, req)
		return err
	})
	return result, err
}

// State returns the current breaker state, applying a due
// open-to-half-open transition first.
func (b *BreakerClient) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpenLocked()
	return b.state
}

func (b *BreakerClient) execute(fn func() error) error {
	b.mu.Lock()
	b.maybeHalfOpenLocked()

	switch b.state {
	case BreakerOpen:
		b.mu.Unlock()
		return ErrCircuitOpen
	case BreakerHalfOpen:
		if b.halfOpenCount >= b.config.HalfOpenMaxRequests {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.halfOpenCount++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		// Validation rejections are the server answering; only
		// transport-level failures should trip the breaker.
		if retryable, _ := IsRetryable(err); retryable {
			b.onFailure()
		} else {
			b.onSuccess()
		}
		return err
	}
	b.onSuccess()
	return nil
}

// maybeHalfOpenLocked lets an open breaker start probing once the
// timeout has elapsed. Caller holds the lock.
func (b *BreakerClient) maybeHalfOpenLocked() {
	if b.state != BreakerOpen {
		return
	}
	now := b.clock.Now()
	if now.Sub(b.lastStateTime) >= b.config.Timeout {
		b.state = BreakerHalfOpen
		b.halfOpenCount = 0
		b.successCount = 0
		b.lastStateTime = now
	}
}

func (b *BreakerClient) onFailure() {
	b.failureCount++
	switch b.state {
	case BreakerHalfOpen:
		b.state = BreakerOpen
		b.halfOpenCount = 0
		b.lastStateTime = b.clock.Now()
	case BreakerClosed:
		if b.failureCount >= b.config.FailureThreshold {
			b.state = BreakerOpen
			b.lastStateTime = b.clock.Now()
		}
	}
}

func (b *BreakerClient) onSuccess() {
	b.failureCount = 0
	if b.state == BreakerHalfOpen {
		b.successCount++
		if b.successCount >= b.config.SuccessThreshold {
			b.state = BreakerClosed
			b.lastStateTime = b.clock.Now()
		}
	}
}

package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clachance14/pipetrak/internal/clock"
	"github.com/clachance14/pipetrak/internal/model"
)

type scriptedClient struct {
	err   error
	calls int
}

func (s *scriptedClient) SubmitUpdate(ctx context.Context, milestoneID string, value model.UpdateValue) (*model.Milestone, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &model.Milestone{ID: milestoneID}, nil
}

func (s *scriptedClient) SubmitBulk(ctx context.Context, req model.BulkRequest) (*model.BulkResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &model.BulkResult{}, nil
}

func TestBreaker_OpensAfterFailureThreshold(t *testing.T) {
	inner := &scriptedClient{err: &TransientError{Op: "submit", Err: errors.New("refused")}}
	cfg := DefaultBreakerConfig()
	b := NewBreakerClient(inner, clock.NewFake(time.Unix(0, 0)), cfg)

	for i := 0; i < cfg.FailureThreshold-1; i++ {
		_, err := b.SubmitUpdate(context.Background(), "ms-1", model.UpdateValue{})
		require.Error(t, err)
		require.Equal(t, BreakerClosed, b.State())
	}

	// The threshold failure opens the breaker immediately, not on the
	// next call.
	_, err := b.SubmitUpdate(context.Background(), "ms-1", model.UpdateValue{})
	require.Error(t, err)
	assert.Equal(t, BreakerOpen, b.State())

	// Further calls are shed without touching the wire.
	calls := inner.calls
	_, err = b.SubmitUpdate(context.Background(), "ms-1", model.UpdateValue{})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, calls, inner.calls)
}

func TestBreaker_ValidationErrorsDoNotTrip(t *testing.T) {
	inner := &scriptedClient{err: &ValidationError{Msg: "bad"}}
	b := NewBreakerClient(inner, clock.NewFake(time.Unix(0, 0)), DefaultBreakerConfig())

	for i := 0; i < 20; i++ {
		_, err := b.SubmitUpdate(context.Background(), "ms-1", model.UpdateValue{})
		require.Error(t, err)
	}
	assert.Equal(t, BreakerClosed, b.State(), "the server answering is not an outage")
}

func TestBreaker_RecoversThroughHalfOpen(t *testing.T) {
	inner := &scriptedClient{err: &TransientError{Op: "submit", Err: errors.New("refused")}}
	cfg := DefaultBreakerConfig()
	clk := clock.NewFake(time.Unix(0, 0))
	b := NewBreakerClient(inner, clk, cfg)

	for i := 0; i < cfg.FailureThreshold; i++ {
		b.SubmitUpdate(context.Background(), "ms-1", model.UpdateValue{})
	}
	require.Equal(t, BreakerOpen, b.State())

	clk.Advance(cfg.Timeout)
	require.Equal(t, BreakerHalfOpen, b.State())
	inner.err = nil

	for i := 0; i < cfg.SuccessThreshold; i++ {
		_, err := b.SubmitUpdate(context.Background(), "ms-1", model.UpdateValue{})
		require.NoError(t, err)
	}
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	inner := &scriptedClient{err: &TransientError{Op: "submit", Err: errors.New("refused")}}
	cfg := DefaultBreakerConfig()
	clk := clock.NewFake(time.Unix(0, 0))
	b := NewBreakerClient(inner, clk, cfg)

	for i := 0; i < cfg.FailureThreshold; i++ {
		b.SubmitUpdate(context.Background(), "ms-1", model.UpdateValue{})
	}
	clk.Advance(cfg.Timeout)

	_, err := b.SubmitUpdate(context.Background(), "ms-1", model.UpdateValue{})
	require.Error(t, err)
	assert.Equal(t, BreakerOpen, b.State())

	// The reopen restarts the timeout from the half-open failure.
	clk.Advance(cfg.Timeout)
	assert.Equal(t, BreakerHalfOpen, b.State())
}

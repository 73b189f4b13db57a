package batch

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/clachance14/pipetrak/internal/clock"
	"github.com/clachance14/pipetrak/internal/model"
)

type captureSubmit struct {
	mu      sync.Mutex
	intents []model.UpdateIntent
}

func (c *captureSubmit) submit(intent model.UpdateIntent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.intents = append(c.intents, intent)
}

func (c *captureSubmit) all() []model.UpdateIntent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.UpdateIntent{}, c.intents...)
}

func intentFor(milestoneID, componentID string, pct float64) model.UpdateIntent {
	return model.UpdateIntent{
		IntentID:    model.NewIntentID(),
		MilestoneID: milestoneID,
		ComponentID: componentID,
		Value:       model.UpdateValue{PercentageValue: &pct},
	}
}

func newTestScheduler(clk clock.Clock, cfg Config) (*Scheduler, *captureSubmit) {
	sink := &captureSubmit{}
	return NewScheduler(sink.submit, clk, cfg, zap.NewNop()), sink
}

func TestScheduler_DebounceFlush(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	s, sink := newTestScheduler(clk, DefaultConfig())

	s.Enqueue(intentFor("ms-1", "comp-1", 10))
	assert.Empty(t, sink.all(), "nothing submits before the debounce elapses")

	clk.Advance(400 * time.Millisecond)
	assert.Len(t, sink.all(), 1)
	assert.Equal(t, 0, s.Pending())
}

func TestScheduler_DebounceRestartsOnEachEnqueue(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	s, sink := newTestScheduler(clk, DefaultConfig())

	s.Enqueue(intentFor("ms-1", "comp-1", 10))
	clk.Advance(300 * time.Millisecond)
	s.Enqueue(intentFor("ms-2", "comp-1", 20))
	clk.Advance(300 * time.Millisecond)
	assert.Empty(t, sink.all(), "quiet period restarted by second edit")

	clk.Advance(100 * time.Millisecond)
	assert.Len(t, sink.all(), 2)
}

func TestScheduler_LastWriteWinsPerMilestone(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	s, sink := newTestScheduler(clk, DefaultConfig())

	s.Enqueue(intentFor("ms-1", "comp-1", 10))
	s.Enqueue(intentFor("ms-1", "comp-1", 40))
	s.Enqueue(intentFor("ms-1", "comp-1", 70))
	assert.Equal(t, 1, s.Pending())

	clk.Advance(400 * time.Millisecond)
	got := sink.all()
	assert.Len(t, got, 1)
	assert.Equal(t, 70.0, *got[0].Value.PercentageValue)
}

func TestScheduler_MaxWaitCapsContinuousInput(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	s, sink := newTestScheduler(clk, DefaultConfig())

	// A stepper hammering faster than the debounce: without the hard
	// bound nothing would ever flush.
	for i := 0; i < 10; i++ {
		s.Enqueue(intentFor("ms-1", "comp-1", float64(i)))
		clk.Advance(200 * time.Millisecond)
	}

	got := sink.all()
	assert.NotEmpty(t, got, "max-wait forced a flush despite continuous input")
}

func TestScheduler_MaxSizeFlushesImmediately(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	cfg := DefaultConfig()
	cfg.MaxSize = 3
	s, sink := newTestScheduler(clk, cfg)

	s.Enqueue(intentFor("ms-1", "comp-1", 10))
	s.Enqueue(intentFor("ms-2", "comp-1", 20))
	assert.Empty(t, sink.all())

	s.Enqueue(intentFor("ms-3", "comp-2", 30))
	assert.Len(t, sink.all(), 3, "hitting max size flushes without waiting")
	assert.Equal(t, 0, s.Pending())
}

func TestScheduler_FlushForcesSubmission(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	s, sink := newTestScheduler(clk, DefaultConfig())

	s.Enqueue(intentFor("ms-1", "comp-1", 10))
	s.Flush()
	assert.Len(t, sink.all(), 1)

	// The closed window leaves no armed timers behind.
	clk.Advance(time.Minute)
	assert.Len(t, sink.all(), 1)
}

func TestScheduler_ClearDiscardsWithoutSubmitting(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	s, sink := newTestScheduler(clk, DefaultConfig())

	s.Enqueue(intentFor("ms-1", "comp-1", 10))
	s.Enqueue(intentFor("ms-2", "comp-1", 20))
	s.Clear()

	clk.Advance(time.Minute)
	assert.Empty(t, sink.all())
	assert.Equal(t, 0, s.Pending())
}

func TestScheduler_PreservesArrivalOrder(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	s, sink := newTestScheduler(clk, DefaultConfig())

	for i := 0; i < 5; i++ {
		s.Enqueue(intentFor(fmt.Sprintf("ms-%d", i), "comp-1", float64(i)))
	}
	clk.Advance(400 * time.Millisecond)

	got := sink.all()
	assert.Len(t, got, 5)
	for i, intent := range got {
		assert.Equal(t, fmt.Sprintf("ms-%d", i), intent.MilestoneID)
	}
}

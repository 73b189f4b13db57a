package batch

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/clachance14/pipetrak/internal/clock"
	"github.com/clachance14/pipetrak/internal/model"
	"github.com/clachance14/pipetrak/pkg/metrics"
)

// SubmitFunc submits one already-applied intent over the network.
// Wired to (*optimistic.Store).SubmitIntent.
type SubmitFunc func(intent model.UpdateIntent)

// Config bounds a batch window in time and size.
type Config struct {
	Debounce time.Duration
	MaxWait  time.Duration
	MaxSize  int
}

func DefaultConfig() Config {
	return Config{
		Debounce: 400 * time.Millisecond,
		MaxWait:  2 * time.Second,
		MaxSize:  25,
	}
}

// Scheduler coalesces rapid-fire single-milestone edits into grouped
// submissions. A window opens on the first enqueued intent and closes
// on debounce-quiet, max-wait or max-size, whichever fires first. The
// hard max-wait bound keeps perceived latency capped under continuous
// input such as a quantity stepper.
type Scheduler struct {
	mu            sync.Mutex
	queue         map[string]model.UpdateIntent
	order         []string
	windowOpen    bool
	debounceTimer clock.Timer
	maxWaitTimer  clock.Timer

	submit SubmitFunc
	clock  clock.Clock
	config Config
	logger *zap.Logger
}

func NewScheduler(submit SubmitFunc, clk clock.Clock, config Config, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		queue:  make(map[string]model.UpdateIntent),
		submit: submit,
		clock:  clk,
		config: config,
		logger: logger,
	}
}

// Enqueue queues an intent into the current window. A queued intent
// for the same milestone is replaced: last value wins inside one
// window.
func (s *Scheduler) Enqueue(intent model.UpdateIntent) {
	s.mu.Lock()

	if _, exists := s.queue[intent.MilestoneID]; !exists {
		s.order = append(s.order, intent.MilestoneID)
	}
	s.queue[intent.MilestoneID] = intent

	if !s.windowOpen {
		s.windowOpen = true
		s.maxWaitTimer = s.clock.AfterFunc(s.config.MaxWait, func() {
			s.flush("max_wait")
		})
	}

	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
	}
	s.debounceTimer = s.clock.AfterFunc(s.config.Debounce, func() {
		s.flush("debounce")
	})

	full := s.config.MaxSize > 0 && len(s.queue) >= s.config.MaxSize
	s.mu.Unlock()

	if full {
		s.flush("max_size")
	}
}

// Flush forces immediate submission of whatever is queued.
func (s *Scheduler) Flush() {
	s.flush("forced")
}

// Clear discards queued intents without submitting, used on unmount
// or navigation away.
func (s *Scheduler) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeWindowLocked()
	s.queue = make(map[string]model.UpdateIntent)
	s.order = nil
}

// Pending returns the number of intents in the open window.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Scheduler) flush(reason string) {
	s.mu.Lock()
	if len(s.queue) == 0 {
		s.closeWindowLocked()
		s.mu.Unlock()
		return
	}

	intents := make([]model.UpdateIntent, 0, len(s.queue))
	for _, id := range s.order {
		intents = append(intents, s.queue[id])
	}
	s.queue = make(map[string]model.UpdateIntent)
	s.order = nil
	s.closeWindowLocked()
	s.mu.Unlock()

	// Group by owning component so sibling edits land together.
	byComponent := make(map[string][]model.UpdateIntent)
	for _, intent := range intents {
		byComponent[intent.ComponentID] = append(byComponent[intent.ComponentID], intent)
	}

	metrics.IncBatchFlush(reason)
	s.logger.Debug("Flushing batch window",
		zap.String("reason", reason),
		zap.Int("intent_count", len(intents)),
		zap.Int("component_count", len(byComponent)),
	)

	for _, group := range byComponent {
		for _, intent := range group {
			s.submit(intent)
		}
	}
}

func (s *Scheduler) closeWindowLocked() {
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
		s.debounceTimer = nil
	}
	if s.maxWaitTimer != nil {
		s.maxWaitTimer.Stop()
		s.maxWaitTimer = nil
	}
	s.windowOpen = false
}

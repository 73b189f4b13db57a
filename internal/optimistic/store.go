package optimistic

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/clachance14/pipetrak/internal/clock"
	"github.com/clachance14/pipetrak/internal/model"
	"github.com/clachance14/pipetrak/internal/transport"
	"github.com/clachance14/pipetrak/pkg/metrics"
)

// ErrUnknownMilestone is returned when an intent targets a milestone
// the store has never been seeded with. This is a programming-contract
// violation by the caller, not a recoverable condition.
var ErrUnknownMilestone = errors.New("unknown milestone")

// OfflineQueue persists intents that cannot be submitted while the
// uplink is down, so in-flight work survives a process restart.
type OfflineQueue interface {
	Push(ctx context.Context, intent model.UpdateIntent) error
	PushRetry(ctx context.Context, intent model.UpdateIntent) error
	Remove(ctx context.Context, milestoneID string) error
	Drain(ctx context.Context) ([]model.UpdateIntent, error)
}

// ConnectivitySource reports uplink availability. The store subscribes
// once and routes intents to the offline queue while offline.
type ConnectivitySource interface {
	Online() bool
	Subscribe(fn func(online bool))
}

// Scheduler defers and coalesces submissions for the single-edit UI
// path. Satisfied by *batch.Scheduler.
type Scheduler interface {
	Enqueue(intent model.UpdateIntent)
	Clear()
}

// Callbacks are the observer hooks exposed to the UI-facing layer.
type Callbacks struct {
	OnSuccess  func(intent model.UpdateIntent, confirmed model.Milestone)
	OnError    func(intent model.UpdateIntent, err error)
	OnConflict func(intent model.UpdateIntent, conflict model.ConflictRecord)
}

// Config tunes retry and reclaim behaviour.
type Config struct {
	MaxRetries    int
	RetryBase     time.Duration
	RetryCap      time.Duration
	DisplayWindow time.Duration
	SubmitTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:    3,
		RetryBase:     1 * time.Second,
		RetryCap:      30 * time.Second,
		DisplayWindow: 2 * time.Second,
		SubmitTimeout: 10 * time.Second,
	}
}

// record is the per-milestone state machine:
// Idle -> Pending -> {Success -> Idle | Conflict -> Idle-on-resolve |
// Error -> (retry) -> Pending | Error-terminal}.
type record struct {
	serverValue  model.Milestone
	workflowType model.WorkflowType
	speculative  *model.Milestone
	status       model.OperationStatus
	pending      *model.UpdateIntent
	retryCount   int
	appliedAt    time.Time
	epoch        uint64
	retryTimer   clock.Timer
	reclaimTimer clock.Timer
}

// Store is the single mutable shared structure of the engine. All
// other components read and write milestone state through its
// operation set.
type Store struct {
	mu        sync.Mutex
	records   map[string]*record
	conflicts map[string]model.ConflictRecord
	epoch     uint64

	client       transport.Client
	clock        clock.Clock
	offline      OfflineQueue
	connectivity ConnectivitySource
	callbacks    Callbacks
	config       Config
	logger       *zap.Logger
	scheduler    Scheduler
}

func NewStore(
	client transport.Client,
	clk clock.Clock,
	offline OfflineQueue,
	connectivity ConnectivitySource,
	callbacks Callbacks,
	config Config,
	logger *zap.Logger,
) *Store {
	s := &Store{
		records:      make(map[string]*record),
		conflicts:    make(map[string]model.ConflictRecord),
		client:       client,
		clock:        clk,
		offline:      offline,
		connectivity: connectivity,
		callbacks:    callbacks,
		config:       config,
		logger:       logger,
	}
	if connectivity != nil {
		connectivity.Subscribe(s.handleConnectivity)
	}
	return s
}

// Seed loads server-confirmed snapshots for every milestone of a
// component. Apply requires a seeded snapshot to exist.
func (s *Store) Seed(component model.Component) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range component.Milestones {
		rec, ok := s.records[m.ID]
		if !ok {
			s.records[m.ID] = &record{
				serverValue:  m,
				workflowType: component.WorkflowType,
				status:       model.StatusIdle,
			}
			continue
		}
		rec.serverValue = m
		rec.workflowType = component.WorkflowType
	}
}

// Apply computes a new speculative snapshot from the intent, stores it
// as the exposed value, marks the milestone pending and triggers
// submission without blocking the caller. A new intent for the same
// milestone supersedes any earlier unconfirmed one.
func (s *Store) Apply(intent model.UpdateIntent) (model.Milestone, error) {
	s.mu.Lock()

	rec, ok := s.records[intent.MilestoneID]
	if !ok {
		s.mu.Unlock()
		return model.Milestone{}, fmt.Errorf("%w: %s", ErrUnknownMilestone, intent.MilestoneID)
	}

	base := rec.serverValue
	if rec.speculative != nil {
		base = *rec.speculative
	}
	spec := applyValue(base, intent, rec.workflowType, s.clock.Now())

	// Supersede: at most one intent in flight per milestone.
	rec.stopTimers()
	rec.speculative = &spec
	rec.pending = &intent
	rec.status = model.StatusPending
	rec.retryCount = 0
	rec.appliedAt = s.clock.Now()
	rec.epoch = s.epoch
	epoch := s.epoch
	s.mu.Unlock()

	if s.connectivity != nil && !s.connectivity.Online() {
		s.parkOffline(intent)
		return spec, nil
	}

	if s.scheduler != nil {
		s.scheduler.Enqueue(intent)
		return spec, nil
	}
	go s.submit(intent, epoch)
	return spec, nil
}

// AttachScheduler routes submissions through a batching scheduler
// instead of submitting immediately. Retries still bypass it.
func (s *Store) AttachScheduler(scheduler Scheduler) {
	s.scheduler = scheduler
}

// SubmitIntent submits a previously applied intent now. Called by the
// batching scheduler when a window flushes; superseded intents are
// dropped inside submit.
func (s *Store) SubmitIntent(intent model.UpdateIntent) {
	s.mu.Lock()
	rec, ok := s.records[intent.MilestoneID]
	var epoch uint64
	if ok {
		epoch = rec.epoch
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	go s.submit(intent, epoch)
}

// Read returns the speculative snapshot if present, else the server
// snapshot. This is the single place current truth is computed.
func (s *Store) Read(milestoneID string) (model.Milestone, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[milestoneID]
	if !ok {
		return model.Milestone{}, false
	}
	if rec.speculative != nil {
		return *rec.speculative, true
	}
	return rec.serverValue, true
}

// HasPending reports whether an intent is still awaiting confirmation.
func (s *Store) HasPending(milestoneID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[milestoneID]
	return ok && rec.pending != nil
}

// StatusOf returns the operation status for a milestone.
func (s *Store) StatusOf(milestoneID string) model.OperationStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[milestoneID]
	if !ok {
		return model.StatusIdle
	}
	return rec.status
}

// RecordOf materializes the tracked state of one milestone in a single
// consistent snapshot, so callers assembling views never interleave
// reads with a concurrent resolution.
func (s *Store) RecordOf(milestoneID string) (model.OptimisticRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[milestoneID]
	if !ok {
		return model.OptimisticRecord{}, false
	}
	out := model.OptimisticRecord{
		MilestoneID: milestoneID,
		ServerValue: rec.serverValue,
		Status:      rec.status,
		RetryCount:  rec.retryCount,
	}
	if rec.speculative != nil {
		v := *rec.speculative
		out.SpeculativeValue = &v
	}
	if rec.pending != nil {
		p := *rec.pending
		out.PendingIntent = &p
	}
	return out, true
}

// Conflicts returns unresolved conflict records.
func (s *Store) Conflicts() []model.ConflictRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ConflictRecord, 0, len(s.conflicts))
	for _, c := range s.conflicts {
		out = append(out, c)
	}
	return out
}

// Confirm merges the server's confirmed snapshot for an intent.
// Confirmations for superseded intents are ignored; replaying the same
// confirmation is a no-op.
func (s *Store) Confirm(intentID string, server model.Milestone) {
	s.mu.Lock()

	rec, ok := s.records[server.ID]
	if !ok {
		s.mu.Unlock()
		return
	}
	if rec.pending == nil || rec.pending.IntentID != intentID {
		// Superseded or already resolved: arrival-order guarantee says
		// only the newest intent's confirmation may settle the record.
		s.mu.Unlock()
		return
	}

	intent := *rec.pending
	if rec.speculative != nil && valuesDiffer(*rec.speculative, server) && !server.UpdatedAt.Before(rec.appliedAt) {
		conflict := s.raiseConflictLocked(rec, server)
		s.mu.Unlock()
		if s.callbacks.OnConflict != nil {
			s.callbacks.OnConflict(intent, conflict)
		}
		return
	}

	rec.serverValue = server
	rec.pending = nil
	rec.retryCount = 0
	rec.status = model.StatusSuccess
	s.scheduleReclaimLocked(server.ID, rec)
	s.mu.Unlock()

	go s.removePersisted(server.ID)
	metrics.IncUpdateResolved("success")
	if s.callbacks.OnSuccess != nil {
		s.callbacks.OnSuccess(intent, server)
	}
}

// Rollback discards the speculative snapshot, restores the exposed
// value to the server snapshot and either re-queues the intent with
// exponential backoff or, past the retry ceiling, surfaces a terminal
// error.
func (s *Store) Rollback(intentID string, cause error) {
	s.mu.Lock()

	var rec *record
	var milestoneID string
	for id, r := range s.records {
		if r.pending != nil && r.pending.IntentID == intentID {
			rec, milestoneID = r, id
			break
		}
	}
	if rec == nil {
		s.mu.Unlock()
		return
	}

	rec.speculative = nil
	rec.retryCount++
	intent := *rec.pending
	intent.RetryCount = rec.retryCount

	retryable, errType := transport.IsRetryable(cause)
	if retryable && rec.retryCount < s.config.MaxRetries {
		delay := s.backoff(rec.retryCount)
		rec.status = model.StatusPending
		rec.pending = &intent
		epoch := rec.epoch
		rec.retryTimer = s.clock.AfterFunc(delay, func() {
			s.submit(intent, epoch)
		})
		s.mu.Unlock()

		go s.persistRetry(intent)
		metrics.IncRetry(errType)
		s.logger.Warn("Milestone update failed, retrying",
			zap.String("milestone_id", milestoneID),
			zap.String("error_type", errType),
			zap.Int("retry_count", intent.RetryCount),
			zap.Duration("delay", delay),
			zap.Error(cause),
		)
		return
	}

	rec.pending = nil
	rec.status = model.StatusError
	s.scheduleReclaimLocked(milestoneID, rec)
	s.mu.Unlock()

	go s.removePersisted(milestoneID)
	metrics.IncUpdateResolved("error")
	s.logger.Error("Milestone update failed terminally",
		zap.String("milestone_id", milestoneID),
		zap.String("error_type", errType),
		zap.Int("retry_count", intent.RetryCount),
		zap.Error(cause),
	)
	if s.callbacks.OnError != nil {
		s.callbacks.OnError(intent, cause)
	}
}

// Ingest merges an externally pushed snapshot, including other users'
// edits arriving with no local intent outstanding. Replaying the same
// snapshot is a no-op.
func (s *Store) Ingest(server model.Milestone) {
	s.mu.Lock()

	rec, ok := s.records[server.ID]
	if !ok {
		s.records[server.ID] = &record{
			serverValue: server,
			status:      model.StatusIdle,
		}
		s.mu.Unlock()
		return
	}

	if rec.pending == nil {
		if server.UpdatedAt.Before(rec.serverValue.UpdatedAt) {
			// Out-of-order delivery of an older snapshot.
			s.mu.Unlock()
			return
		}
		rec.serverValue = server
		if resolved, ok := s.conflicts[server.ID]; ok && !server.UpdatedAt.Before(resolved.Remote.UpdatedAt) {
			delete(s.conflicts, server.ID)
		}
		s.mu.Unlock()
		return
	}

	intent := *rec.pending
	if rec.speculative != nil && valuesDiffer(*rec.speculative, server) {
		if server.UpdatedAt.Before(rec.appliedAt) {
			// Stale push: the local edit is newer and still wins
			// pending confirmation.
			rec.serverValue = server
			s.mu.Unlock()
			return
		}
		conflict := s.raiseConflictLocked(rec, server)
		s.mu.Unlock()
		if s.callbacks.OnConflict != nil {
			s.callbacks.OnConflict(intent, conflict)
		}
		return
	}

	// The push agrees with the speculative value: treat it as the
	// confirmation for the outstanding intent.
	rec.serverValue = server
	rec.pending = nil
	rec.retryCount = 0
	rec.status = model.StatusSuccess
	s.scheduleReclaimLocked(server.ID, rec)
	s.mu.Unlock()

	go s.removePersisted(server.ID)
	metrics.IncUpdateResolved("success")
	if s.callbacks.OnSuccess != nil {
		s.callbacks.OnSuccess(intent, server)
	}
}

// Resolution of a surfaced conflict.
type Resolution int

const (
	// ResolutionAcceptRemote drops the local edit; server truth stands.
	ResolutionAcceptRemote Resolution = iota
	// ResolutionRetryLocal resubmits the local edit as a fresh intent.
	ResolutionRetryLocal
)

// ResolveConflict settles a surfaced conflict. This is the only entry
// point that moves a record out of the conflict state.
func (s *Store) ResolveConflict(milestoneID string, resolution Resolution) error {
	s.mu.Lock()
	rec, ok := s.records[milestoneID]
	if !ok || rec.status != model.StatusConflict {
		s.mu.Unlock()
		return fmt.Errorf("no unresolved conflict for milestone %s", milestoneID)
	}

	delete(s.conflicts, milestoneID)

	if resolution == ResolutionAcceptRemote || rec.pending == nil {
		rec.stopTimers()
		rec.speculative = nil
		rec.pending = nil
		rec.retryCount = 0
		rec.status = model.StatusIdle
		s.mu.Unlock()
		return nil
	}

	intent := *rec.pending
	intent.IntentID = model.NewIntentID()
	intent.RetryCount = 0
	intent.CreatedAt = s.clock.Now()
	rec.status = model.StatusIdle
	rec.pending = nil
	s.mu.Unlock()

	_, err := s.Apply(intent)
	return err
}

// Clear discards queued-but-not-yet-submitted work and invalidates any
// result still in flight, used on navigation away.
func (s *Store) Clear() {
	if s.scheduler != nil {
		s.scheduler.Clear()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	for _, rec := range s.records {
		rec.stopTimers()
		rec.speculative = nil
		rec.pending = nil
		rec.retryCount = 0
		rec.status = model.StatusIdle
	}
	s.conflicts = make(map[string]model.ConflictRecord)
}

// FlushOffline drains the persisted offline queue through the normal
// submission path. Called on startup and on reconnect.
func (s *Store) FlushOffline(ctx context.Context) {
	if s.offline == nil {
		return
	}
	intents, err := s.offline.Drain(ctx)
	if err != nil {
		s.logger.Error("Failed to drain offline queue", zap.Error(err))
		return
	}
	if len(intents) == 0 {
		return
	}
	s.logger.Info("Flushing offline queue", zap.Int("count", len(intents)))
	for _, intent := range intents {
		if _, err := s.Apply(intent); err != nil {
			s.logger.Warn("Dropping offline intent for unknown milestone",
				zap.String("milestone_id", intent.MilestoneID),
			)
		}
	}
}

func (s *Store) handleConnectivity(online bool) {
	if online {
		s.logger.Info("Connectivity restored, flushing offline queue")
		go s.FlushOffline(context.Background())
	} else {
		s.logger.Warn("Connectivity lost, queueing updates offline")
	}
}

func (s *Store) parkOffline(intent model.UpdateIntent) {
	if s.offline == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.config.SubmitTimeout)
	defer cancel()
	if err := s.offline.Push(ctx, intent); err != nil {
		s.logger.Error("Failed to persist offline intent",
			zap.String("milestone_id", intent.MilestoneID),
			zap.Error(err),
		)
	}
	metrics.IncOfflineQueued()
}

func (s *Store) persistRetry(intent model.UpdateIntent) {
	if s.offline == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.config.SubmitTimeout)
	defer cancel()
	if err := s.offline.PushRetry(ctx, intent); err != nil {
		s.logger.Error("Failed to persist retry intent",
			zap.String("milestone_id", intent.MilestoneID),
			zap.Error(err),
		)
	}
}

func (s *Store) removePersisted(milestoneID string) {
	if s.offline == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.config.SubmitTimeout)
	defer cancel()
	if err := s.offline.Remove(ctx, milestoneID); err != nil {
		s.logger.Warn("Failed to clear persisted intent",
			zap.String("milestone_id", milestoneID),
			zap.Error(err),
		)
	}
}

func (s *Store) submit(intent model.UpdateIntent, epoch uint64) {
	s.mu.Lock()
	rec, ok := s.records[intent.MilestoneID]
	stale := !ok || epoch != s.epoch ||
		rec.pending == nil || rec.pending.IntentID != intent.IntentID
	s.mu.Unlock()
	if stale {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.SubmitTimeout)
	defer cancel()

	start := s.clock.Now()
	snapshot, err := s.client.SubmitUpdate(ctx, intent.MilestoneID, intent.Value)
	metrics.ObserveSubmission(s.clock.Now().Sub(start), err == nil)

	s.mu.Lock()
	current := s.epoch
	s.mu.Unlock()
	if epoch != current {
		// Cleared while in flight: the result is discarded on arrival.
		return
	}

	if err != nil {
		s.Rollback(intent.IntentID, err)
		return
	}
	s.Confirm(intent.IntentID, *snapshot)
}

func (s *Store) backoff(retryCount int) time.Duration {
	d := s.config.RetryBase << (retryCount - 1)
	if d > s.config.RetryCap {
		return s.config.RetryCap
	}
	return d
}

// raiseConflictLocked flips the record into the conflict state and
// registers the conflict. Caller holds the lock.
func (s *Store) raiseConflictLocked(rec *record, server model.Milestone) model.ConflictRecord {
	local := rec.serverValue
	if rec.speculative != nil {
		local = *rec.speculative
	}
	conflict := model.ConflictRecord{
		MilestoneID: server.ID,
		Local:       local,
		Remote:      server,
		DetectedAt:  s.clock.Now(),
	}
	rec.serverValue = server
	rec.status = model.StatusConflict
	s.conflicts[server.ID] = conflict
	metrics.IncConflict()
	return conflict
}

// scheduleReclaimLocked keeps the resolved value visible for the
// display window, then drops the speculative overlay and returns the
// record to idle. Caller holds the lock.
func (s *Store) scheduleReclaimLocked(milestoneID string, rec *record) {
	if rec.reclaimTimer != nil {
		rec.reclaimTimer.Stop()
	}
	epoch := rec.epoch
	rec.reclaimTimer = s.clock.AfterFunc(s.config.DisplayWindow, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		r, ok := s.records[milestoneID]
		if !ok || r.pending != nil || r.epoch != epoch {
			return
		}
		r.speculative = nil
		r.status = model.StatusIdle
	})
}

func (r *record) stopTimers() {
	if r.retryTimer != nil {
		r.retryTimer.Stop()
		r.retryTimer = nil
	}
	if r.reclaimTimer != nil {
		r.reclaimTimer.Stop()
		r.reclaimTimer = nil
	}
}

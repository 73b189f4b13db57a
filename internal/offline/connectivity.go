package offline

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ProbeFunc checks whether the central server is reachable.
type ProbeFunc func(ctx context.Context) error

// Monitor is an injected connectivity source. It replaces global
// online/offline listeners: subscribers are notified on every state
// change, and synthetic events can be fed in tests via SetOnline.
type Monitor struct {
	mu     sync.Mutex
	online bool
	subs   []func(online bool)
	logger *zap.Logger
}

func NewMonitor(logger *zap.Logger) *Monitor {
	return &Monitor{online: true, logger: logger}
}

// Online reports the last observed connectivity state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers a state-change callback.
func (m *Monitor) Subscribe(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

// SetOnline records a connectivity observation and notifies
// subscribers on change.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	subs := make([]func(bool), len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	m.logger.Info("Connectivity state changed", zap.Bool("online", online))
	for _, fn := range subs {
		fn(online)
	}
}

// StartProbing polls the server until the context is cancelled.
// Run in a goroutine.
func (m *Monitor) StartProbing(ctx context.Context, probe ProbeFunc, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, interval)
			err := probe(probeCtx)
			cancel()
			m.SetOnline(err == nil)
		}
	}
}

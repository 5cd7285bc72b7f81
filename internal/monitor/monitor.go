// Package monitor tracks connectivity to the remote inventory API and
// triggers queue drains when it returns.
//
// There is no platform online/offline event to subscribe to, so the monitor
// probes the API's health endpoint on a ticker and derives transitions from
// probe results. It is the single owner of the online/syncing flags; UI
// consumers observe state through Status and Subscribe, never by mutating it.
package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stockpilot/offsync/internal/queue"
	"github.com/stockpilot/offsync/internal/store"
	syncengine "github.com/stockpilot/offsync/internal/sync"
)

// DefaultProbeInterval is how often connectivity is re-checked.
const DefaultProbeInterval = 10 * time.Second

// SyncRunner drains the pending-operation queue.
type SyncRunner interface {
	RunSync(ctx context.Context) (syncengine.Result, error)
}

// Prober checks whether the remote API is reachable.
type Prober interface {
	Ping(ctx context.Context) error
}

// Status is the connectivity surface exposed to UI consumers.
type Status struct {
	Online       bool
	PendingCount int
	Syncing      bool
}

// Monitor owns the process-wide connectivity and sync-progress state.
type Monitor struct {
	runner   SyncRunner
	prober   Prober
	pool     store.PgxIface
	interval time.Duration

	mu      sync.Mutex
	online  bool
	pending int
	subs    []func(Status)

	syncing atomic.Bool
}

// New creates a monitor. The monitor starts offline; the first successful
// probe flips it online and triggers the initial drain.
func New(runner SyncRunner, prober Prober, pool store.PgxIface, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	return &Monitor{
		runner:   runner,
		prober:   prober,
		pool:     pool,
		interval: interval,
	}
}

// Start probes connectivity until the context is cancelled.
func (m *Monitor) Start(ctx context.Context) error {
	m.RefreshPending(ctx)
	m.probe(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	err := m.prober.Ping(ctx)
	m.SetOnline(ctx, err == nil)
}

// SetOnline records a connectivity observation. An offline→online transition
// triggers a queue drain.
func (m *Monitor) SetOnline(ctx context.Context, online bool) {
	m.mu.Lock()
	was := m.online
	m.online = online
	m.mu.Unlock()

	if was != online {
		logrus.WithField("online", online).Info("Connectivity changed")
		m.notify()
	}

	if !was && online {
		if err := m.SyncData(ctx); err != nil {
			logrus.WithError(err).Warn("Automatic sync after reconnect failed")
		}
	}
}

// IsOnline reports the last observed connectivity state.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Status returns a snapshot of the UI-facing state.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Online:       m.online,
		PendingCount: m.pending,
		Syncing:      m.syncing.Load(),
	}
}

// Subscribe registers an observer called on every state change.
func (m *Monitor) Subscribe(fn func(Status)) {
	m.mu.Lock()
	m.subs = append(m.subs, fn)
	m.mu.Unlock()
}

func (m *Monitor) notify() {
	status := m.Status()
	m.mu.Lock()
	subs := make([]func(Status), len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	for _, fn := range subs {
		fn(status)
	}
}

// SyncData runs one drain pass. A trigger while a pass is already in flight
// is a no-op, so a connectivity flap during sync cannot start an overlapping
// run. The pending count is refreshed after every attempt, successful or not.
func (m *Monitor) SyncData(ctx context.Context) error {
	if !m.syncing.CompareAndSwap(false, true) {
		logrus.Debug("Sync already in progress, trigger ignored")
		return nil
	}
	m.notify()

	result, err := m.runner.RunSync(ctx)

	// The Syncing=false transition must reach observers even when the pass
	// made no progress and the pending count is unchanged.
	m.syncing.Store(false)
	m.notify()
	m.RefreshPending(ctx)

	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"synced":    result.Synced,
		"remaining": result.Remaining,
		"skipped":   result.Skipped,
	}).Info("Sync trigger completed")
	return nil
}

// RefreshPending re-queries the pending-operation queue length.
func (m *Monitor) RefreshPending(ctx context.Context) {
	count, err := queue.Count(ctx, m.pool)
	if err != nil {
		logrus.WithError(err).Warn("Failed to refresh pending sync count")
		return
	}

	m.mu.Lock()
	changed := m.pending != count
	m.pending = count
	m.mu.Unlock()

	if changed {
		m.notify()
	}
}

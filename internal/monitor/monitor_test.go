package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncengine "github.com/stockpilot/offsync/internal/sync"
)

type stubRunner struct {
	calls   int
	result  syncengine.Result
	err     error
	started chan struct{}
	release chan struct{}
}

func (s *stubRunner) RunSync(ctx context.Context) (syncengine.Result, error) {
	s.calls++
	if s.started != nil {
		close(s.started)
	}
	if s.release != nil {
		<-s.release
	}
	return s.result, s.err
}

type stubProber struct{ err error }

func (s *stubProber) Ping(ctx context.Context) error { return s.err }

func expectCount(mock pgxmock.PgxPoolIface, n int) {
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM pending_sync`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(n))
}

// TestOnlineTransitionTriggersSync tests that the offline→online edge runs
// one drain and refreshes the pending count afterwards.
func TestOnlineTransitionTriggersSync(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runner := &stubRunner{result: syncengine.Result{Synced: 2, Remaining: 0}}
	m := New(runner, &stubProber{}, mock, time.Minute)

	expectCount(mock, 0)

	m.SetOnline(context.Background(), true)

	assert.Equal(t, 1, runner.calls)
	assert.True(t, m.IsOnline())
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestRepeatedOnlineObservationsDoNotRetrigger tests that staying online
// does not run extra drains.
func TestRepeatedOnlineObservationsDoNotRetrigger(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runner := &stubRunner{}
	m := New(runner, &stubProber{}, mock, time.Minute)

	expectCount(mock, 0)
	m.SetOnline(context.Background(), true)
	m.SetOnline(context.Background(), true)
	m.SetOnline(context.Background(), true)

	assert.Equal(t, 1, runner.calls, "only the transition edge may trigger a sync")
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestConcurrentTriggerIsNoOp tests the isSyncing guard: a second trigger
// while a drain is in flight returns immediately without a second run.
func TestConcurrentTriggerIsNoOp(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runner := &stubRunner{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	m := New(runner, &stubProber{}, mock, time.Minute)

	expectCount(mock, 0)

	done := make(chan error)
	go func() { done <- m.SyncData(context.Background()) }()
	<-runner.started

	assert.True(t, m.Status().Syncing)
	require.NoError(t, m.SyncData(context.Background()), "overlapping trigger must be a silent no-op")
	assert.Equal(t, 1, runner.calls)

	close(runner.release)
	require.NoError(t, <-done)
	assert.False(t, m.Status().Syncing)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestPendingCountRefreshAfterFailedSync tests that the count is refreshed
// even when the drain stops at a failure.
func TestPendingCountRefreshAfterFailedSync(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runner := &stubRunner{
		result: syncengine.Result{Synced: 0, Remaining: 2},
		err:    errors.New("sync halted"),
	}
	m := New(runner, &stubProber{}, mock, time.Minute)

	expectCount(mock, 2)

	err = m.SyncData(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, m.Status().PendingCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestSubscriberSeesSyncFinish tests that the Syncing=false transition is
// delivered even for a zero-progress pass where the pending count does not
// change, so an observer-driven UI cannot stick on "syncing".
func TestSubscriberSeesSyncFinish(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runner := &stubRunner{
		result: syncengine.Result{Synced: 0, Remaining: 2},
		err:    errors.New("sync halted"),
	}
	m := New(runner, &stubProber{}, mock, time.Minute)

	// Pre-populate the cached count so the post-sync refresh sees no change
	expectCount(mock, 2)
	m.RefreshPending(context.Background())

	var seen []Status
	m.Subscribe(func(s Status) { seen = append(seen, s) })

	expectCount(mock, 2)
	require.Error(t, m.SyncData(context.Background()))

	require.NotEmpty(t, seen)
	assert.True(t, seen[0].Syncing, "first notification marks the drain start")
	assert.False(t, seen[len(seen)-1].Syncing, "last notification must mark the drain finished")
	assert.Equal(t, 2, seen[len(seen)-1].PendingCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestSubscribeObservesTransitions tests the observer contract.
func TestSubscribeObservesTransitions(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runner := &stubRunner{}
	m := New(runner, &stubProber{}, mock, time.Minute)

	var seen []Status
	m.Subscribe(func(s Status) { seen = append(seen, s) })

	expectCount(mock, 0)
	m.SetOnline(context.Background(), true)
	m.SetOnline(context.Background(), false)

	require.NotEmpty(t, seen)
	assert.True(t, seen[0].Online, "first notification follows the online transition")
	assert.False(t, seen[len(seen)-1].Online, "last notification follows the offline transition")
}

// TestStatusSnapshot tests the UI-facing surface defaults.
func TestStatusSnapshot(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	m := New(&stubRunner{}, &stubProber{}, mock, 0)

	status := m.Status()
	assert.False(t, status.Online, "monitor starts offline until the first probe")
	assert.False(t, status.Syncing)
	assert.Zero(t, status.PendingCount)
	assert.Equal(t, DefaultProbeInterval, m.interval)
}

package services

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melih/lighthouse-runner/internal/adapters/memory"
	"github.com/melih/lighthouse-runner/internal/core/domain"
)

func TestReconcile(t *testing.T) {
	m, rt, store := newManager(t)
	exited := startAlpine(t, m, "alice")
	crashed := startAlpine(t, m, "alice")
	vanished := startAlpine(t, m, "bob")
	untouched := startAlpine(t, m, "bob")

	require.NoError(t, rt.Exit(exited.ID, 1))
	require.NoError(t, rt.Crash(crashed.ID))
	rt.Forget(vanished.ID)

	changed, err := m.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, changed)

	get := func(id string) *domain.Container {
		c, err := store.Get(context.Background(), id)
		require.NoError(t, err)
		return c
	}
	assert.Equal(t, domain.StatusExited, get(exited.ID).Status)
	assert.Equal(t, 1, get(exited.ID).ExitCode)
	assert.Equal(t, domain.StatusError, get(crashed.ID).Status)
	assert.Equal(t, domain.StatusError, get(vanished.ID).Status)
	assert.Equal(t, domain.StatusRunning, get(untouched.ID).Status)

	changed, err = m.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Zero(t, changed)
}

func TestCleanup_RemovesOnlyExpired(t *testing.T) {
	m, rt, store := newManager(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	m.now = func() time.Time { return now.Add(-48 * time.Hour) }
	old := startAlpine(t, m, "alice")
	m.now = func() time.Time { return now }
	fresh := startAlpine(t, m, "alice")

	report, err := m.Cleanup(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, report.CleanedCount)
	assert.Equal(t, now.Add(-24*time.Hour), report.CutoffTime)

	_, err = store.Get(context.Background(), old.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Contains(t, rt.Calls(), "remove:"+old.ID)

	_, err = store.Get(context.Background(), fresh.ID)
	assert.NoError(t, err)
}

func TestCleanup_RemovesOrphansAfterRestart(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rt := memory.NewRuntime()

	// a previous process started these; its in-memory records are gone
	before := NewContainerManager(rt, memory.NewContainerStore(), nil, ManagerConfig{})
	rt.SetClock(func() time.Time { return now.Add(-72 * time.Hour) })
	orphan := startAlpine(t, before, "alice")
	rt.SetClock(func() time.Time { return now.Add(-time.Hour) })
	recent := startAlpine(t, before, "alice")

	after := NewContainerManager(rt, memory.NewContainerStore(), nil, ManagerConfig{})
	after.now = func() time.Time { return now }
	rt.SetClock(func() time.Time { return now.Add(-48 * time.Hour) })
	tracked := startAlpine(t, after, "bob")

	report, err := after.Cleanup(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, report.CleanedCount)

	left, err := rt.ListContainers(context.Background())
	require.NoError(t, err)
	ids := make([]string, 0, len(left))
	for _, c := range left {
		ids = append(ids, c.ID)
	}
	assert.NotContains(t, ids, orphan.ID)
	assert.Contains(t, ids, recent.ID)
	assert.Contains(t, ids, tracked.ID, "a container with a live record is never an orphan")

	report, err = after.Cleanup(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, report.CleanedCount)
}

func TestCleanup_InvalidMaxAge(t *testing.T) {
	m, _, _ := newManager(t)
	_, err := m.Cleanup(context.Background(), 0)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestScheduler(t *testing.T) {
	s := NewScheduler()
	assert.Error(t, s.Add("bad", "not a schedule", func(context.Context) error { return nil }))
	require.NoError(t, s.Add("disabled", "", func(context.Context) error { return nil }))
	assert.Zero(t, s.Len())

	var runs atomic.Int32
	require.NoError(t, s.Add("tick", "@every 1s", func(context.Context) error {
		runs.Add(1)
		return nil
	}))
	assert.Equal(t, 1, s.Len())

	s.Start()
	assert.Eventually(t, func() bool { return runs.Load() > 0 }, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}

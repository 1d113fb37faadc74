package widget

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSweeperRunOnceEvictsIdleSessions(t *testing.T) {
	backend := newFakeBackend()
	reg := NewRegistry(5*time.Minute, 10)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return base }

	_, err := reg.Put("session-1", openTestSession(t, backend))
	require.NoError(t, err)

	sweeper := NewSweeper(reg, time.Minute)
	sweeper.Now = func() time.Time { return base.Add(time.Minute) }

	evicted, err := sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, evicted)

	sweeper.Now = func() time.Time { return base.Add(6 * time.Minute) }
	evicted, err = sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, evicted)
	require.Equal(t, 0, reg.Len())
}

func TestSweeperRunOnceRequiresRegistry(t *testing.T) {
	_, err := (&Sweeper{}).RunOnce(context.Background())
	require.Error(t, err)

	var nilSweeper *Sweeper
	_, err = nilSweeper.RunOnce(context.Background())
	require.Error(t, err)
}

func TestSweeperRunOnceHonorsCancelledContext(t *testing.T) {
	sweeper := NewSweeper(NewRegistry(time.Minute, 1), 0)
	require.Equal(t, defaultSweepInterval, sweeper.Interval)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := sweeper.RunOnce(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSweeperStartStopsOnCancel(t *testing.T) {
	backend := newFakeBackend()
	reg := NewRegistry(time.Millisecond, 10)
	_, err := reg.Put("session-1", openTestSession(t, backend))
	require.NoError(t, err)

	sweeper := NewSweeper(reg, 5*time.Millisecond)
	sweeper.Logf = func(string, ...any) {}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return reg.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}

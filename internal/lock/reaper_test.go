package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReaperReleasesStaleLocks(t *testing.T) {
	clk := &fakeClock{now: time.Now()}
	m := NewManager(WithTTL(time.Second), WithClock(clk.Now))
	_, err := m.Lock(1, alice)
	require.NoError(t, err)
	clk.Advance(2 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewReaper(m, 5*time.Millisecond).Run(ctx) }()

	require.Eventually(t, func() bool { return !m.IsLocked(1) }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("reaper did not stop")
	}
}

func TestReaperDisabledWithoutTTL(t *testing.T) {
	m := NewManager()
	// returns without waiting for cancellation
	require.NoError(t, NewReaper(m, time.Millisecond).Run(context.Background()))
}

func TestNewReaperDefaultsInterval(t *testing.T) {
	m := NewManager(WithTTL(time.Minute))
	require.Equal(t, 30*time.Second, NewReaper(m, 0).interval)
}

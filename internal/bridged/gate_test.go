// ABOUTME: Tests for the one-shot ready gate.

package bridged

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_ReleasesEveryWaiter(t *testing.T) {
	var g gate
	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			assert.NoError(t, g.Wait(context.Background()))
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
		}(i)
		require.Eventually(t, func() bool { return g.pending() == i+1 }, time.Second, time.Millisecond)
	}

	assert.True(t, g.Open())
	wg.Wait()
	assert.ElementsMatch(t, []int{0, 1, 2, 3, 4}, order)
	assert.False(t, g.Open(), "the gate opens once")
}

func TestGate_WaitAfterOpenReturnsImmediately(t *testing.T) {
	var g gate
	g.Open()
	require.NoError(t, g.Wait(context.Background()))
	assert.True(t, g.IsOpen())
}

func TestGate_CancelledWaiterIsDropped(t *testing.T) {
	var g gate
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- g.Wait(ctx) }()
	require.Eventually(t, func() bool { return g.pending() == 1 }, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Zero(t, g.pending())
	assert.False(t, g.IsOpen())
}

func TestGate_HandOffSkipsCancelledWaiter(t *testing.T) {
	var g gate
	results := make([]chan error, 3)
	cancels := make([]context.CancelFunc, 3)

	for i := range results {
		ctx, cancel := context.WithCancel(context.Background())
		cancels[i] = cancel
		results[i] = make(chan error, 1)
		go func(n int) { results[n] <- g.Wait(ctx) }(i)
		require.Eventually(t, func() bool { return g.pending() == i+1 }, time.Second, time.Millisecond)
	}
	defer func() {
		for _, cancel := range cancels {
			cancel()
		}
	}()

	cancels[1]()
	assert.ErrorIs(t, <-results[1], context.Canceled)
	assert.Equal(t, 2, g.pending())

	require.True(t, g.Open())
	for _, n := range []int{0, 2} {
		select {
		case err := <-results[n]:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatalf("waiter %d was never woken", n)
		}
	}
	assert.Zero(t, g.pending())
	require.NoError(t, g.Wait(context.Background()), "late waiters pass straight through")
}

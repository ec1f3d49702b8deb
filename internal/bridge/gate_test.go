package bridge

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateEnterLeave(t *testing.T) {
	g := NewGate(1, 50*time.Millisecond)

	leave, err := g.Enter()
	require.NoError(t, err)

	_, err = g.Enter()
	assert.ErrorIs(t, err, ErrGateTimeout, "second entry must wait for the slot")

	leave()
	leave()

	leave2, err := g.Enter()
	require.NoError(t, err, "idempotent leave must release exactly one slot")
	leave2()
}

func TestGateDefaults(t *testing.T) {
	g := NewGate(0, 0)
	assert.Equal(t, DefaultCallbackTimeout, g.timeout)
	for i := 0; i < DefaultCallbackConcurrency; i++ {
		_, err := g.Enter()
		require.NoError(t, err)
	}
}

func TestGateCloseRejectsEntries(t *testing.T) {
	g := NewGate(2, time.Second)
	g.Close()
	assert.True(t, g.Closed())

	_, err := g.Enter()
	assert.ErrorIs(t, err, ErrGateClosed)
}

// TestGateCloseWakesWaiters tests that waiters blocked on a full gate fail
// with ErrGateClosed instead of timing out
func TestGateCloseWakesWaiters(t *testing.T) {
	g := NewGate(1, 10*time.Second)
	leave, err := g.Enter()
	require.NoError(t, err)
	defer leave()

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.Enter()
			errs <- err
		}()
	}

	time.Sleep(20 * time.Millisecond)
	start := time.Now()
	g.Close()
	wg.Wait()
	close(errs)

	assert.Less(t, time.Since(start), 5*time.Second)
	for err := range errs {
		assert.ErrorIs(t, err, ErrGateClosed)
	}
}

func TestGateBoundsConcurrency(t *testing.T) {
	const limit = 3
	g := NewGate(limit, 5*time.Second)

	var mu sync.Mutex
	inside, peak := 0, 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			leave, err := g.Enter()
			if !assert.NoError(t, err) {
				return
			}
			defer leave()
			mu.Lock()
			inside++
			if inside > peak {
				peak = inside
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak, limit)
	assert.Positive(t, peak)
}

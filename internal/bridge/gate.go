package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Default gate settings.
const (
	DefaultCallbackConcurrency = 4
	DefaultCallbackTimeout     = 5 * time.Second
)

// Gate admits vendor callback goroutines into the sink domain. Each Enter is
// a scoped acquisition that must be paired with the returned leave func; at
// most concurrency callbacks are inside at once. After Close every Enter
// fails, including those already waiting.
type Gate struct {
	sem     *semaphore.Weighted
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
}

// NewGate creates a gate. Non-positive arguments select the defaults.
func NewGate(concurrency int64, timeout time.Duration) *Gate {
	if concurrency <= 0 {
		concurrency = DefaultCallbackConcurrency
	}
	if timeout <= 0 {
		timeout = DefaultCallbackTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Gate{
		sem:     semaphore.NewWeighted(concurrency),
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Enter blocks until the caller may deliver a callback. leave is idempotent.
func (g *Gate) Enter() (leave func(), err error) {
	g.mu.RLock()
	closed := g.closed
	g.mu.RUnlock()
	if closed {
		return nil, ErrGateClosed
	}

	ctx, cancel := context.WithTimeout(g.ctx, g.timeout)
	defer cancel()
	if err := g.sem.Acquire(ctx, 1); err != nil {
		if errors.Is(g.ctx.Err(), context.Canceled) {
			return nil, ErrGateClosed
		}
		return nil, ErrGateTimeout
	}

	var once sync.Once
	leave = func() { once.Do(func() { g.sem.Release(1) }) }

	g.mu.RLock()
	closed = g.closed
	g.mu.RUnlock()
	if closed {
		leave()
		return nil, ErrGateClosed
	}
	return leave, nil
}

// Close rejects all later and pending entries. Callbacks already inside keep
// running until they leave.
func (g *Gate) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.cancel()
}

// Closed reports whether Close was called.
func (g *Gate) Closed() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.closed
}

package femas

import (
	"sync"
	"sync/atomic"
	"time"
)

// eventLoop runs simulator callbacks one at a time on a goroutine it owns.
// Posting never blocks, so callbacks may issue new requests from inside the
// loop.
type eventLoop struct {
	mu    sync.Mutex
	queue []func()

	wake     chan struct{}
	stop     chan struct{}
	done     chan struct{}
	started  atomic.Bool
	stopOnce sync.Once
}

func newEventLoop() *eventLoop {
	return &eventLoop{
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// start launches the loop goroutine once.
func (l *eventLoop) start() {
	if !l.started.CompareAndSwap(false, true) {
		return
	}
	go l.run()
}

func (l *eventLoop) run() {
	defer close(l.done)
	for {
		select {
		case <-l.stop:
			return
		case <-l.wake:
		}
		for {
			fn := l.next()
			if fn == nil {
				break
			}
			select {
			case <-l.stop:
				return
			default:
			}
			fn()
		}
	}
}

func (l *eventLoop) next() func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn
}

// post queues fn. It reports false once the loop is stopped.
func (l *eventLoop) post(fn func()) bool {
	if l.stopped() {
		return false
	}
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// after queues fn once d has elapsed. Timers firing after shutdown are
// discarded by post.
func (l *eventLoop) after(d time.Duration, fn func()) {
	if d <= 0 {
		l.post(fn)
		return
	}
	time.AfterFunc(d, func() { l.post(fn) })
}

func (l *eventLoop) stopped() bool {
	select {
	case <-l.stop:
		return true
	default:
		return false
	}
}

func (l *eventLoop) shutdown() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// wait blocks until shutdown and, if the loop was started, until the loop
// goroutine has returned.
func (l *eventLoop) wait() {
	<-l.stop
	if l.started.Load() {
		<-l.done
	}
}

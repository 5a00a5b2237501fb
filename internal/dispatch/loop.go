// Package dispatch provides the single-goroutine event loop that owns session
// state. Other goroutines never touch that state directly; they post closures
// onto the loop.
package dispatch

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// ErrClosed is returned when posting to or running a closed loop.
var ErrClosed = errors.New("dispatch loop closed")

// Poster is the narrow view of a Loop handed to producer goroutines.
type Poster interface {
	Post(func()) bool
}

// Loop executes posted callbacks one at a time on its own goroutine.
//
// Callbacks posted from one goroutine run in the order they were posted. The
// queue is unbounded so Post never blocks the producer.
type Loop struct {
	logger *slog.Logger

	mu      sync.Mutex
	queue   []func()
	closed  bool
	running bool
	wake    chan struct{}
	done    chan struct{}

	// timers and seq are owned by the loop goroutine.
	timers timerHeap
	seq    uint64
}

// New constructs an idle loop. Call Run or Start to begin executing callbacks.
func New(logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Loop{
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Post enqueues fn and returns immediately. It reports false once the loop
// has been closed.
func (l *Loop) Post(fn func()) bool {
	if fn == nil {
		return false
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// PostDelayed schedules fn to be enqueued after d. The timer is armed and
// fired on the loop goroutine. The returned cancel func reports whether the
// callback was prevented from running; it is only safe to call on the loop.
func (l *Loop) PostDelayed(fn func(), d time.Duration) (cancel func() bool) {
	if d < 0 {
		d = 0
	}
	t := &timer{fn: fn}
	posted := l.Post(func() {
		l.seq++
		t.at = time.Now().Add(d)
		t.seq = l.seq
		heap.Push(&l.timers, t)
	})
	if !posted {
		return func() bool { return false }
	}
	return func() bool {
		if t.fired || t.cancelled {
			return false
		}
		t.cancelled = true
		return true
	}
}

// Call posts fn and waits for it to finish on the loop. It must not be
// called from a loop callback.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	var panicked any
	if !l.Post(func() {
		defer close(done)
		defer func() { panicked = recover() }()
		fn()
	}) {
		return ErrClosed
	}

	select {
	case <-done:
		if panicked != nil {
			return fmt.Errorf("loop call panicked: %v", panicked)
		}
		return nil
	case <-l.done:
		select {
		case <-done:
			return nil
		default:
		}
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start runs the loop on a new goroutine until ctx is cancelled or Close is called.
func (l *Loop) Start(ctx context.Context) {
	go func() {
		if err := l.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrClosed) {
			l.logger.Error("dispatch loop stopped", "error", err.Error())
		}
	}()
}

// Run drives the loop on the calling goroutine. It returns ctx.Err() on
// cancellation or nil after Close.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	if l.running {
		l.mu.Unlock()
		return errors.New("dispatch loop already running")
	}
	l.running = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.closed = true
		l.queue = nil
		l.mu.Unlock()
		close(l.done)
	}()

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		for {
			fn, ok := l.next()
			if !ok {
				break
			}
			l.invoke(fn)
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}

		l.mu.Lock()
		closed := l.closed
		l.mu.Unlock()
		if closed {
			return nil
		}

		var timerC <-chan time.Time
		if next := l.armTimer(timer); next {
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		case <-timerC:
			l.fireTimers()
		}
	}
}

// Close stops accepting new posts. A running loop exits after the callback
// currently executing returns; queued callbacks are dropped.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.queue = nil
	running := l.running
	l.mu.Unlock()

	if !running {
		close(l.done)
		return
	}
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Done is closed once the loop has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Pending returns the number of queued callbacks.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || len(l.queue) == 0 {
		return nil, false
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn, true
}

func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("dispatch callback panicked",
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	fn()
}

// armTimer resets timer to the earliest live deadline and reports whether one exists.
func (l *Loop) armTimer(timer *time.Timer) bool {
	for l.timers.Len() > 0 && l.timers[0].cancelled {
		heap.Pop(&l.timers)
	}
	if l.timers.Len() == 0 {
		return false
	}
	wait := time.Until(l.timers[0].at)
	if wait < 0 {
		wait = 0
	}
	timer.Reset(wait)
	return true
}

// fireTimers moves every expired timer callback onto the queue in deadline order.
func (l *Loop) fireTimers() {
	now := time.Now()
	for l.timers.Len() > 0 && !l.timers[0].at.After(now) {
		t := heap.Pop(&l.timers).(*timer)
		if t.cancelled {
			continue
		}
		t.fired = true
		l.Post(t.fn)
	}
}

type timer struct {
	at        time.Time
	seq       uint64
	fn        func()
	fired     bool
	cancelled bool
}

type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}

func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x any) { *h = append(*h, x.(*timer)) }

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

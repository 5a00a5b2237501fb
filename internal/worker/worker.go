// Package worker runs one long task per handle off the orchestrating loop,
// streams its progress back onto the loop, and supports bounded cancellation.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrTaskPanicked wraps a panic recovered from a task goroutine.
	ErrTaskPanicked = errors.New("task panicked")
	// ErrCancelled is the error carried by a cancelled outcome.
	ErrCancelled = errors.New("task cancelled")
)

// DefaultGrace is the cancel grace period used when none is configured.
const DefaultGrace = time.Second

// Poster enqueues a callback onto the orchestrating loop.
type Poster interface {
	Post(func()) bool
}

// Status is the terminal classification of one task.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Outcome is the single terminal notification of a task.
type Outcome[R any] struct {
	TaskID string
	Status Status
	Value  R
	Err    error
	// Forced is set when the task ignored cancellation past the grace period
	// and its goroutine was abandoned.
	Forced   bool
	Duration time.Duration
}

// Task is the long-running unit of work. It must watch ctx for cancellation
// and may call emit any number of times.
type Task[R any] func(ctx context.Context, emit func(chunk string)) (R, error)

const (
	stateRunning int32 = iota
	stateSettled
	stateCancelled
)

// Dispatcher spawns task goroutines and tracks the ones still alive.
type Dispatcher[R any] struct {
	poster Poster
	grace  time.Duration
	logger *slog.Logger

	mu     sync.Mutex
	active map[string]*Handle

	leaked atomic.Int64
}

// NewDispatcher constructs a dispatcher that delivers callbacks through poster.
func NewDispatcher[R any](poster Poster, grace time.Duration, logger *slog.Logger) *Dispatcher[R] {
	if grace <= 0 {
		grace = DefaultGrace
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Dispatcher[R]{
		poster: poster,
		grace:  grace,
		logger: logger,
		active: make(map[string]*Handle),
	}
}

// Handle controls one running task.
type Handle struct {
	id        string
	startedAt time.Time

	state  atomic.Int32
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	exited bool
	forced bool

	grace  time.Duration
	logger *slog.Logger
	leaked *atomic.Int64

	// onCancelled posts the cancelled outcome; set by Run.
	onCancelled func(forced bool)
}

// ID returns the task id.
func (h *Handle) ID() string {
	return h.id
}

// Done is closed when the task goroutine has returned.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Forced reports whether cancellation gave up waiting for the goroutine.
func (h *Handle) Forced() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.forced
}

// abandon marks the goroutine as leaked unless it already exited.
func (h *Handle) abandon() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.exited {
		return false
	}
	h.forced = true
	h.leaked.Add(1)
	return true
}

// Run starts task on its own goroutine. It never blocks the caller.
//
// onProgress receives every emitted chunk on the loop until the task settles
// or is cancelled. onComplete is posted exactly once.
func (d *Dispatcher[R]) Run(task Task[R], onProgress func(string), onComplete func(Outcome[R])) *Handle {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		id:        uuid.NewString(),
		startedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
		grace:     d.grace,
		logger:    d.logger,
		leaked:    &d.leaked,
	}

	h.onCancelled = func(forced bool) {
		out := Outcome[R]{
			TaskID:   h.id,
			Status:   StatusCancelled,
			Err:      ErrCancelled,
			Forced:   forced,
			Duration: time.Since(h.startedAt),
		}
		d.deliver(onComplete, out)
	}

	d.mu.Lock()
	d.active[h.id] = h
	d.mu.Unlock()

	emit := func(chunk string) {
		if h.state.Load() != stateRunning {
			return
		}
		d.poster.Post(func() {
			if h.state.Load() == stateCancelled {
				return
			}
			if onProgress != nil {
				onProgress(chunk)
			}
		})
	}

	go d.execute(ctx, h, task, emit, onComplete)
	return h
}

func (d *Dispatcher[R]) execute(ctx context.Context, h *Handle, task Task[R], emit func(string), onComplete func(Outcome[R])) {
	defer close(h.done)
	defer d.release(h)
	defer h.cancel()

	value, err := runRecovered(ctx, task, emit)

	if !h.state.CompareAndSwap(stateRunning, stateSettled) {
		h.logger.Info("task result dropped after cancellation",
			"task_id", h.id,
			"forced", h.Forced(),
			"error", errString(err),
		)
		return
	}

	out := Outcome[R]{TaskID: h.id, Value: value, Err: err, Duration: time.Since(h.startedAt)}
	if err != nil {
		out.Status = StatusFailed
	} else {
		out.Status = StatusCompleted
	}
	d.deliver(onComplete, out)
}

func runRecovered[R any](ctx context.Context, task Task[R], emit func(string)) (value R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v\n%s", ErrTaskPanicked, r, debug.Stack())
		}
	}()
	return task(ctx, emit)
}

func (d *Dispatcher[R]) deliver(onComplete func(Outcome[R]), out Outcome[R]) {
	if onComplete == nil {
		return
	}
	if !d.poster.Post(func() { onComplete(out) }) {
		d.logger.Warn("task outcome dropped; loop closed", "task_id", out.TaskID, "status", string(out.Status))
	}
}

func (d *Dispatcher[R]) release(h *Handle) {
	d.mu.Lock()
	delete(d.active, h.id)
	d.mu.Unlock()

	h.mu.Lock()
	h.exited = true
	forced := h.forced
	h.mu.Unlock()
	if forced {
		d.leaked.Add(-1)
		h.logger.Info("abandoned task goroutine finally exited", "task_id", h.id)
	}
}

// Cancel requests cooperative cancellation and waits up to the grace period
// for the goroutine to exit. If the task already settled, Cancel is a logged
// no-op and reports false; otherwise it posts the cancelled outcome and
// reports true. It may block for the grace period.
func (h *Handle) Cancel() bool {
	if !h.state.CompareAndSwap(stateRunning, stateCancelled) {
		h.logger.Info("cancel ignored; task already settled", "task_id", h.id)
		return false
	}

	h.cancel()

	timer := time.NewTimer(h.grace)
	defer timer.Stop()

	forced := false
	select {
	case <-h.done:
	case <-timer.C:
		forced = h.abandon()
	}
	if forced {
		h.logger.Warn("task ignored cancellation; abandoning goroutine",
			"task_id", h.id,
			"grace_ms", h.grace.Milliseconds(),
		)
	}

	h.onCancelled(forced)
	return true
}

// Outstanding returns the number of task goroutines that have not exited,
// including abandoned ones.
func (d *Dispatcher[R]) Outstanding() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.active)
}

// Leaked returns the number of abandoned goroutines still running.
func (d *Dispatcher[R]) Leaked() int64 {
	return d.leaked.Load()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

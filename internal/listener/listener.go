// Package listener observes system-wide key events on its own goroutine and
// invokes the handlers of bound combinations that pass the filter gate.
package listener

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rbright/murmur/internal/hotkey"
)

var (
	// ErrNoBindings rejects starting a listener with nothing to listen for.
	ErrNoBindings = errors.New("no hotkey bindings to listen for")
	// ErrAlreadyRunning rejects a second Start without Stop.
	ErrAlreadyRunning = errors.New("hotkey listener already running")
	// ErrListener matches every *Error.
	ErrListener = errors.New("hotkey listener failure")
	// ErrUnsupported reports a backend that cannot run on this platform.
	ErrUnsupported = errors.New("global hotkeys unsupported on this platform")
)

// Error is an OS-level hook failure.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("hotkey listener %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == ErrListener
}

// Event is one observation from a Source: either a pressed combination or a
// fatal read error.
type Event struct {
	Hotkey hotkey.Hotkey
	Err    error
}

// Source installs an OS hook for a fixed set of combinations.
//
// Open returns a channel of presses restricted to combos. Close removes the
// hook, waits for the source's own goroutines, and closes the channel. A
// closed source may be opened again.
type Source interface {
	Open(combos []hotkey.Hotkey) (<-chan Event, error)
	Close() error
}

// Stats counts what the dispatch path did with observed presses.
type Stats struct {
	Matched uint64
	Dropped uint64
	Unbound uint64
}

// Listener dispatches presses from a Source to a bindings snapshot.
type Listener struct {
	source Source
	gate   *hotkey.FilterGate
	logger *slog.Logger

	mu        sync.Mutex
	running   bool
	gen       uint64
	done      chan struct{}
	onFailure func(gen uint64, err error)

	matched atomic.Uint64
	dropped atomic.Uint64
	unbound atomic.Uint64
}

// New constructs a stopped listener reading from source and filtering through gate.
func New(source Source, gate *hotkey.FilterGate, logger *slog.Logger) *Listener {
	if gate == nil {
		gate = hotkey.NewFilterGate()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Listener{source: source, gate: gate, logger: logger}
}

// OnFailure sets the callback for hook failures that happen after Start.
// It runs on the listener goroutine and receives the generation of the Start
// that failed.
func (l *Listener) OnFailure(fn func(gen uint64, err error)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onFailure = fn
}

// Start installs the hook for bindings and begins dispatching. The bindings
// slice is the snapshot used until Stop.
func (l *Listener) Start(bindings []hotkey.Binding) error {
	if len(bindings) == 0 {
		return ErrNoBindings
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return ErrAlreadyRunning
	}

	table := make(map[string]hotkey.Binding, len(bindings))
	combos := make([]hotkey.Hotkey, 0, len(bindings))
	for _, b := range bindings {
		key := b.Hotkey.String()
		if _, dup := table[key]; dup {
			continue
		}
		table[key] = b
		combos = append(combos, b.Hotkey)
	}

	events, err := l.source.Open(combos)
	if err != nil {
		return &Error{Op: "install hook", Err: err}
	}

	l.running = true
	l.gen++
	l.done = make(chan struct{})
	go l.dispatch(table, events, l.done, l.gen, l.onFailure)

	l.logger.Info("hotkey listener started", "bindings", len(table), "gate", l.gate.Mode())
	return nil
}

// Stop removes the hook and waits for the dispatch goroutine to exit. It
// reports false when the listener was not running. It must not be called
// from a binding handler.
func (l *Listener) Stop() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running {
		return false
	}

	if err := l.source.Close(); err != nil {
		l.logger.Warn("remove hotkey hook failed", "error", err.Error())
	}
	<-l.done
	l.running = false
	l.done = nil

	l.logger.Debug("hotkey listener stopped")
	return true
}

// Running reports whether the listener is started.
func (l *Listener) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Generation identifies the most recent successful Start. A failure reported
// with an older generation belongs to a hook that has since been replaced.
func (l *Listener) Generation() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gen
}

// Stats returns dispatch counters since construction.
func (l *Listener) Stats() Stats {
	return Stats{
		Matched: l.matched.Load(),
		Dropped: l.dropped.Load(),
		Unbound: l.unbound.Load(),
	}
}

func (l *Listener) dispatch(table map[string]hotkey.Binding, events <-chan Event, done chan struct{}, gen uint64, onFailure func(uint64, error)) {
	defer close(done)

	failed := false
	for ev := range events {
		if ev.Err != nil {
			if failed {
				continue
			}
			failed = true
			err := &Error{Op: "read events", Err: ev.Err}
			l.logger.Error("hotkey listener failed", "error", err.Error())
			if onFailure != nil {
				onFailure(gen, err)
			}
			continue
		}
		if failed {
			continue
		}

		binding, ok := table[ev.Hotkey.String()]
		if !ok {
			l.unbound.Add(1)
			continue
		}
		if !l.gate.IsAllowed(ev.Hotkey) {
			l.dropped.Add(1)
			l.logger.Debug("hotkey filtered", "hotkey", ev.Hotkey.String(), "gate", l.gate.Mode())
			continue
		}

		l.matched.Add(1)
		if binding.Handler != nil {
			binding.Handler(binding.Hotkey)
		}
	}
}

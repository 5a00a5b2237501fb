package listener

import (
	"errors"
	"sync"

	"github.com/rbright/murmur/internal/hotkey"
)

// Fake is an in-process Source driven by Press.
type Fake struct {
	mu      sync.RWMutex
	events  chan Event
	combos  []hotkey.Hotkey
	opens   int
	OpenErr error
}

// NewFake returns a closed fake source.
func NewFake() *Fake {
	return &Fake{}
}

func (f *Fake) Open(combos []hotkey.Hotkey) (<-chan Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.OpenErr != nil {
		return nil, f.OpenErr
	}
	if f.events != nil {
		return nil, errors.New("fake source already open")
	}
	f.events = make(chan Event)
	f.combos = append([]hotkey.Hotkey(nil), combos...)
	f.opens++
	return f.events, nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.events != nil {
		close(f.events)
		f.events = nil
	}
	return nil
}

// Press delivers h as if the user pressed it. Unlike a real hook it does not
// filter by the opened combos, so unbound presses can be simulated. It
// reports false when the source is closed.
func (f *Fake) Press(h hotkey.Hotkey) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.events == nil {
		return false
	}
	f.events <- Event{Hotkey: h}
	return true
}

// Fail delivers a fatal hook error.
func (f *Fake) Fail(err error) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.events == nil {
		return false
	}
	f.events <- Event{Err: err}
	return true
}

// Combos returns the combinations passed to the latest Open.
func (f *Fake) Combos() []hotkey.Hotkey {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]hotkey.Hotkey(nil), f.combos...)
}

// Opens returns how many times the source has been opened.
func (f *Fake) Opens() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.opens
}

// IsOpen reports whether the source is currently open.
func (f *Fake) IsOpen() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.events != nil
}

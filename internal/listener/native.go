//go:build darwin || windows

package listener

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	xhotkey "golang.design/x/hotkey"

	"github.com/rbright/murmur/internal/hotkey"
)

// NativeSource registers each combination with the OS hotkey API. On darwin
// the process must run golang.design/x/hotkey/mainthread.Init.
type NativeSource struct {
	logger *slog.Logger

	mu      sync.Mutex
	hks     []*xhotkey.Hotkey
	stop    chan struct{}
	wg      sync.WaitGroup
	events  chan Event
	openNow bool
}

// NewNativeSource constructs a closed native source.
func NewNativeSource(logger *slog.Logger) *NativeSource {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &NativeSource{logger: logger}
}

func (s *NativeSource) Open(combos []hotkey.Hotkey) (<-chan Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openNow {
		return nil, errors.New("native source already open")
	}

	hks := make([]*xhotkey.Hotkey, 0, len(combos))
	unregisterAll := func() {
		for _, hk := range hks {
			_ = hk.Unregister()
		}
	}

	for _, combo := range combos {
		mods, key, err := toNative(combo)
		if err != nil {
			unregisterAll()
			return nil, err
		}
		hk := xhotkey.New(mods, key)
		if err := hk.Register(); err != nil {
			unregisterAll()
			return nil, fmt.Errorf("register %s: %w", combo, err)
		}
		hks = append(hks, hk)
	}

	s.hks = hks
	s.stop = make(chan struct{})
	s.events = make(chan Event, 16)
	s.openNow = true

	for i, hk := range hks {
		s.wg.Add(1)
		go s.forward(hk, combos[i])
	}
	return s.events, nil
}

func (s *NativeSource) forward(hk *xhotkey.Hotkey, combo hotkey.Hotkey) {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		case <-hk.Keydown():
			select {
			case s.events <- Event{Hotkey: combo}:
			case <-s.stop:
				return
			}
		}
	}
}

func (s *NativeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.openNow {
		return nil
	}

	close(s.stop)
	s.wg.Wait()

	var errs []error
	for _, hk := range s.hks {
		if err := hk.Unregister(); err != nil {
			errs = append(errs, err)
		}
	}
	close(s.events)

	s.hks = nil
	s.events = nil
	s.openNow = false
	return errors.Join(errs...)
}

func toNative(combo hotkey.Hotkey) ([]xhotkey.Modifier, xhotkey.Key, error) {
	if len(combo.Keys()) != 1 {
		return nil, 0, fmt.Errorf("%s: native hotkeys take exactly one base key", combo)
	}
	key, ok := nativeKeys[combo.Key()]
	if !ok {
		return nil, 0, fmt.Errorf("%s: key %q not supported by native hotkeys", combo, combo.Key())
	}
	mods := make([]xhotkey.Modifier, 0, len(combo.Modifiers()))
	for _, m := range combo.Modifiers() {
		mod, ok := nativeModifiers[m]
		if !ok {
			return nil, 0, fmt.Errorf("%s: modifier %q not supported", combo, m)
		}
		mods = append(mods, mod)
	}
	return mods, key, nil
}

var nativeKeys = map[string]xhotkey.Key{
	"a": xhotkey.KeyA, "b": xhotkey.KeyB, "c": xhotkey.KeyC, "d": xhotkey.KeyD,
	"e": xhotkey.KeyE, "f": xhotkey.KeyF, "g": xhotkey.KeyG, "h": xhotkey.KeyH,
	"i": xhotkey.KeyI, "j": xhotkey.KeyJ, "k": xhotkey.KeyK, "l": xhotkey.KeyL,
	"m": xhotkey.KeyM, "n": xhotkey.KeyN, "o": xhotkey.KeyO, "p": xhotkey.KeyP,
	"q": xhotkey.KeyQ, "r": xhotkey.KeyR, "s": xhotkey.KeyS, "t": xhotkey.KeyT,
	"u": xhotkey.KeyU, "v": xhotkey.KeyV, "w": xhotkey.KeyW, "x": xhotkey.KeyX,
	"y": xhotkey.KeyY, "z": xhotkey.KeyZ,

	"0": xhotkey.Key0, "1": xhotkey.Key1, "2": xhotkey.Key2, "3": xhotkey.Key3,
	"4": xhotkey.Key4, "5": xhotkey.Key5, "6": xhotkey.Key6, "7": xhotkey.Key7,
	"8": xhotkey.Key8, "9": xhotkey.Key9,

	"f1": xhotkey.KeyF1, "f2": xhotkey.KeyF2, "f3": xhotkey.KeyF3, "f4": xhotkey.KeyF4,
	"f5": xhotkey.KeyF5, "f6": xhotkey.KeyF6, "f7": xhotkey.KeyF7, "f8": xhotkey.KeyF8,
	"f9": xhotkey.KeyF9, "f10": xhotkey.KeyF10, "f11": xhotkey.KeyF11, "f12": xhotkey.KeyF12,

	"space":  xhotkey.KeySpace,
	"enter":  xhotkey.KeyReturn,
	"esc":    xhotkey.KeyEscape,
	"delete": xhotkey.KeyDelete,
	"tab":    xhotkey.KeyTab,
	"left":   xhotkey.KeyLeft,
	"right":  xhotkey.KeyRight,
	"up":     xhotkey.KeyUp,
	"down":   xhotkey.KeyDown,
}

// Diagnose reports native hotkey availability.
func Diagnose() (string, error) {
	return "native hotkey API available", nil
}

// NewSystemSource picks the OS source for backend ("auto" or "native").
func NewSystemSource(backend string, _ []string, logger *slog.Logger) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", "auto", "native":
		return NewNativeSource(logger), nil
	default:
		return nil, fmt.Errorf("%w: backend %q", ErrUnsupported, backend)
	}
}

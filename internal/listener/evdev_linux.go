//go:build linux

package listener

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/rbright/murmur/internal/hotkey"
)

const (
	evKey          = 1
	keyRelease     = 0
	keyPress       = 1
	inputEventSize = 24
)

// EvdevSource reads keyboards under /dev/input directly, which works on both
// X11 and Wayland sessions. The user needs read access to the devices
// (usually membership of the input group).
type EvdevSource struct {
	devices []string
	logger  *slog.Logger

	mu     sync.Mutex
	files  []*os.File
	stop   chan struct{}
	wg     sync.WaitGroup
	events chan Event
	closed chan struct{}
}

// NewEvdevSource reads the given device paths, or every keyboard found under
// /dev/input when devices is empty.
func NewEvdevSource(devices []string, logger *slog.Logger) *EvdevSource {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &EvdevSource{devices: devices, logger: logger}
}

func (s *EvdevSource) Open(combos []hotkey.Hotkey) (<-chan Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.events != nil {
		return nil, errors.New("evdev source already open")
	}

	wanted := make(map[string]bool, len(combos))
	for _, combo := range combos {
		for _, key := range combo.Keys() {
			if _, ok := evdevCodes[key]; !ok {
				return nil, fmt.Errorf("key %q in %s has no evdev code", key, combo)
			}
		}
		wanted[combo.String()] = true
	}

	paths := s.devices
	if len(paths) == 0 {
		found, err := findKeyboards()
		if err != nil {
			return nil, fmt.Errorf("find keyboards: %w", err)
		}
		paths = found
	}
	if len(paths) == 0 {
		return nil, errors.New("no keyboard devices found (is the user in the 'input' group?)")
	}

	files := make([]*os.File, 0, len(paths))
	for _, path := range paths {
		fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
		if err != nil {
			s.logger.Debug("skip input device", "path", path, "error", err.Error())
			continue
		}
		files = append(files, os.NewFile(uintptr(fd), path))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("could not open any of %d keyboard device(s) (add the user to the 'input' group and re-login)", len(paths))
	}

	s.files = files
	s.stop = make(chan struct{})
	s.events = make(chan Event, 16)
	s.closed = make(chan struct{})

	for _, f := range files {
		s.wg.Add(1)
		go s.read(f, wanted)
	}

	events, closed := s.events, s.closed
	go func() {
		s.wg.Wait()
		close(events)
		close(closed)
	}()

	s.logger.Info("evdev source opened", "devices", len(files))
	return events, nil
}

func (s *EvdevSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.events == nil {
		return nil
	}

	close(s.stop)
	var errs []error
	for _, f := range s.files {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	<-s.closed

	s.files = nil
	s.events = nil
	s.closed = nil
	return errors.Join(errs...)
}

func (s *EvdevSource) read(f *os.File, wanted map[string]bool) {
	defer s.wg.Done()

	held := make(map[uint16]bool)
	buf := make([]byte, inputEventSize*16)

	for {
		n, err := f.Read(buf)
		if err != nil {
			select {
			case <-s.stop:
				return
			default:
			}
			if errors.Is(err, os.ErrClosed) {
				return
			}
			s.send(Event{Err: fmt.Errorf("read %s: %w", f.Name(), err)})
			return
		}

		for i := 0; i+inputEventSize <= n; i += inputEventSize {
			evType := binary.LittleEndian.Uint16(buf[i+16:])
			evCode := binary.LittleEndian.Uint16(buf[i+18:])
			evValue := int32(binary.LittleEndian.Uint32(buf[i+20:]))

			if evType != evKey {
				continue
			}

			if _, isMod := evdevModifiers[evCode]; isMod {
				switch evValue {
				case keyPress:
					held[evCode] = true
				case keyRelease:
					delete(held, evCode)
				}
				continue
			}

			// autorepeat (value 2) never re-triggers
			if evValue != keyPress {
				continue
			}
			name, ok := evdevNames[evCode]
			if !ok {
				continue
			}
			combo, err := hotkey.FromParts(heldModifiers(held), name)
			if err != nil || !wanted[combo.String()] {
				continue
			}
			if !s.send(Event{Hotkey: combo}) {
				return
			}
		}
	}
}

func (s *EvdevSource) send(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.stop:
		return false
	}
}

func heldModifiers(held map[uint16]bool) []string {
	mods := make([]string, 0, 4)
	seen := make(map[string]bool, 4)
	for code := range held {
		mod := evdevModifiers[code]
		if !seen[mod] {
			seen[mod] = true
			mods = append(mods, mod)
		}
	}
	return mods
}

func findKeyboards() ([]string, error) {
	entries, err := os.ReadDir("/dev/input")
	if err != nil {
		return nil, err
	}

	var keyboards []string
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "event") {
			continue
		}
		if isKeyboard(e.Name()) {
			keyboards = append(keyboards, filepath.Join("/dev/input", e.Name()))
		}
	}
	return keyboards, nil
}

// isKeyboard uses the key capability bitmap length as a cheap keyboard test;
// mice and power buttons expose far shorter bitmaps.
func isKeyboard(eventName string) bool {
	capsPath := filepath.Join("/sys/class/input", eventName, "device", "capabilities", "key")
	data, err := os.ReadFile(capsPath)
	if err != nil {
		return false
	}
	return len(strings.TrimSpace(string(data))) > 10
}

// Diagnose reports whether keyboards are present and readable.
func Diagnose() (string, error) {
	keyboards, err := findKeyboards()
	if err != nil {
		return "", fmt.Errorf("cannot scan input devices: %w", err)
	}
	if len(keyboards) == 0 {
		return "", errors.New("no keyboard devices found (is the user in the 'input' group?)")
	}
	for _, path := range keyboards {
		fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
		if err == nil {
			_ = unix.Close(fd)
			return fmt.Sprintf("%d keyboard(s) found, opened %s", len(keyboards), path), nil
		}
	}
	return "", fmt.Errorf("found %d keyboard(s) but cannot open any (run: sudo usermod -aG input $USER)", len(keyboards))
}

// NewSystemSource picks the OS source for backend ("auto" or "evdev" on linux).
func NewSystemSource(backend string, devices []string, logger *slog.Logger) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", "auto", "evdev":
		return NewEvdevSource(devices, logger), nil
	default:
		return nil, fmt.Errorf("%w: backend %q on linux", ErrUnsupported, backend)
	}
}

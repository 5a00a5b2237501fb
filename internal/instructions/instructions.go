// Package instructions loads the named instruction sets that shape
// transcription and refinement, and maps each set's hotkey to its owner.
package instructions

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.yaml.in/yaml/v3"

	"github.com/rbright/murmur/internal/hotkey"
)

const (
	// DefaultSetName is the set created when no file exists.
	DefaultSetName = "Default"
	maxFileBytes   = 1 << 20
)

// STT holds speech-to-text request parameters.
type STT struct {
	Model        string   `yaml:"model,omitempty"`
	Language     string   `yaml:"language,omitempty"`
	Vocabulary   []string `yaml:"vocabulary,omitempty"`
	Instructions []string `yaml:"instructions,omitempty"`
}

// LLM holds optional refinement parameters.
type LLM struct {
	Enabled      bool     `yaml:"enabled"`
	Model        string   `yaml:"model,omitempty"`
	Instructions []string `yaml:"instructions,omitempty"`
	// ClipboardText passes the current clipboard as context.
	ClipboardText bool `yaml:"clipboard_text,omitempty"`
}

// Set is one named configuration. Its name owns its hotkey.
type Set struct {
	Name   string `yaml:"name"`
	Hotkey string `yaml:"hotkey,omitempty"`
	STT    STT    `yaml:"stt"`
	LLM    LLM    `yaml:"llm"`
}

// File is the on-disk document.
type File struct {
	Active string `yaml:"active,omitempty"`
	Sets   []Set  `yaml:"sets"`
}

// Default returns a single set with no hotkey.
func Default() File {
	return File{
		Active: DefaultSetName,
		Sets:   []Set{{Name: DefaultSetName}},
	}
}

// Parse decodes and validates raw YAML. Unknown fields are rejected.
func Parse(raw []byte) (File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return Default(), nil
		}
		return File{}, fmt.Errorf("decode instruction sets: %w", err)
	}
	if err := f.Validate(); err != nil {
		return File{}, err
	}
	return f, nil
}

// Load reads path. A missing file yields Default().
func Load(path string) (File, error) {
	raw, err := readLimited(path, maxFileBytes)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return File{}, fmt.Errorf("read instruction sets %s: %w", path, err)
	}
	f, err := Parse(raw)
	if err != nil {
		return File{}, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Save validates f and writes it atomically.
func Save(path string, f File) error {
	if err := f.Validate(); err != nil {
		return err
	}
	raw, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode instruction sets: %w", err)
	}
	return atomicWrite(path, raw)
}

// Validate checks names and hotkeys, including conflicts between sets.
func (f File) Validate() error {
	if len(f.Sets) == 0 {
		return errors.New("at least one instruction set is required")
	}
	names := make(map[string]bool, len(f.Sets))
	for i, s := range f.Sets {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			return fmt.Errorf("sets[%d]: name is required", i)
		}
		if names[name] {
			return fmt.Errorf("sets[%d]: duplicate name %q", i, name)
		}
		names[name] = true
	}
	if f.Active != "" && !names[f.Active] {
		return fmt.Errorf("active set %q is not defined", f.Active)
	}
	_, err := f.Bindings()
	return err
}

// Bindings returns one (hotkey, owner) pair per set that declares a hotkey.
// Handlers are left nil for the orchestrator to fill in.
func (f File) Bindings() ([]hotkey.Binding, error) {
	reg := hotkey.NewRegistry()
	for _, s := range f.Sets {
		if strings.TrimSpace(s.Hotkey) == "" {
			continue
		}
		h, err := hotkey.Parse(s.Hotkey)
		if err != nil {
			return nil, fmt.Errorf("set %q: %w", s.Name, err)
		}
		if err := reg.Register(h, s.Name, nil); err != nil {
			return nil, fmt.Errorf("set %q: %w", s.Name, err)
		}
	}
	return reg.All(), nil
}

// Lookup finds a set by name.
func (f File) Lookup(name string) (Set, bool) {
	for _, s := range f.Sets {
		if s.Name == name {
			return s, true
		}
	}
	return Set{}, false
}

// ActiveName returns the active set, falling back to the first one.
func (f File) ActiveName() string {
	if f.Active != "" {
		return f.Active
	}
	if len(f.Sets) > 0 {
		return f.Sets[0].Name
	}
	return DefaultSetName
}

// Store holds the current File for concurrent readers.
type Store struct {
	mu   sync.RWMutex
	file File
}

// NewStore wraps f.
func NewStore(f File) *Store {
	return &Store{file: f}
}

// Current returns the file in effect.
func (s *Store) Current() File {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.file
}

// Replace swaps in f.
func (s *Store) Replace(f File) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.file = f
}

// Get resolves a set by name, falling back to the active set and then to an
// empty set carrying name.
func (s *Store) Get(name string) Set {
	f := s.Current()
	if set, ok := f.Lookup(name); ok {
		return set
	}
	if set, ok := f.Lookup(f.ActiveName()); ok {
		return set
	}
	return Set{Name: name}
}

func readLimited(path string, maxBytes int64) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	raw, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) > maxBytes {
		return nil, fmt.Errorf("file exceeds %d bytes", maxBytes)
	}
	return raw, nil
}

func atomicWrite(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err = os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("save instruction sets: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".instructions.yaml.tmp.*")
	if err != nil {
		return fmt.Errorf("save instruction sets: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmp != nil {
			_ = tmp.Close()
		}
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	if err = tmp.Chmod(0o600); err != nil {
		return fmt.Errorf("save instruction sets: chmod temp: %w", err)
	}
	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("save instruction sets: write: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("save instruction sets: sync: %w", err)
	}
	err = tmp.Close()
	tmp = nil
	if err != nil {
		return fmt.Errorf("save instruction sets: close: %w", err)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("save instruction sets: rename: %w", err)
	}
	return nil
}

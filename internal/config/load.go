package config

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// maxConfigBytes bounds the config file read.
const maxConfigBytes = 1 << 20

// Loaded is a parsed config together with where it came from.
type Loaded struct {
	Path     string
	Config   Config
	Warnings []Warning
	// Exists is false when defaults were used because Path is missing.
	Exists bool
}

// Load resolves explicitPath (or the XDG default) and parses it over Default.
// A missing file is not an error.
func Load(explicitPath string) (Loaded, error) {
	path, err := ResolvePath(explicitPath)
	if err != nil {
		return Loaded{}, err
	}

	content, err := readConfig(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		warnings, verr := Validate(cfg)
		if verr != nil {
			return Loaded{}, verr
		}
		warnings = append([]Warning{{
			Message: fmt.Sprintf("config file %q not found; using defaults", path),
		}}, warnings...)
		return Loaded{Path: path, Config: cfg, Warnings: warnings}, nil
	}
	if err != nil {
		return Loaded{}, err
	}

	cfg, warnings, err := Parse(content, Default())
	if err != nil {
		return Loaded{}, fmt.Errorf("parse config %q: %w", path, err)
	}
	return Loaded{Path: path, Config: cfg, Warnings: warnings, Exists: true}, nil
}

func readConfig(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		return "", fmt.Errorf("read config %q: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxConfigBytes+1))
	if err != nil {
		return "", fmt.Errorf("read config %q: %w", path, err)
	}
	if len(data) > maxConfigBytes {
		return "", fmt.Errorf("config %q exceeds %d bytes", path, maxConfigBytes)
	}
	return string(data), nil
}

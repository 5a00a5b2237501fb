package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ResolvePath applies CLI/XDG/home fallback rules for config.jsonc location.
func ResolvePath(explicit string) (string, error) {
	if strings.TrimSpace(explicit) != "" {
		return explicit, nil
	}

	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" {
		return filepath.Join(xdg, "murmur", "config.jsonc"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("unable to resolve user home for config fallback")
	}

	return filepath.Join(home, ".config", "murmur", "config.jsonc"), nil
}

// StateDir returns $XDG_STATE_HOME/murmur, falling back to ~/.local/state/murmur.
func StateDir() (string, error) {
	if xdg := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); xdg != "" {
		return filepath.Join(xdg, "murmur"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("unable to resolve user home for state dir")
	}
	return filepath.Join(home, ".local", "state", "murmur"), nil
}

// InstructionsPath resolves the instruction file, defaulting to a sibling of
// the config file.
func (l Loaded) InstructionsPath() string {
	if p := strings.TrimSpace(l.Config.Instructions.Path); p != "" {
		return expandHome(p)
	}
	return filepath.Join(filepath.Dir(l.Path), "instructions.yaml")
}

// HistoryPath resolves the sqlite file, defaulting to the state dir.
func (l Loaded) HistoryPath() (string, error) {
	if p := strings.TrimSpace(l.Config.History.Path); p != "" {
		return expandHome(p), nil
	}
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history.db"), nil
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

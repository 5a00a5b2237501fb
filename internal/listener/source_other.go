//go:build !linux && !darwin && !windows

package listener

import (
	"log/slog"
	"runtime"
)

// Diagnose reports that no OS source exists for this platform.
func Diagnose() (string, error) {
	return "", ErrUnsupported
}

// NewSystemSource always fails; only UI and control-socket triggers work here.
func NewSystemSource(string, []string, *slog.Logger) (Source, error) {
	return nil, &Error{Op: "select source (" + runtime.GOOS + ")", Err: ErrUnsupported}
}

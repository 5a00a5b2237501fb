// Package ipc carries newline-delimited JSON control commands between the
// murmur CLI and the running daemon over a unix socket (a named pipe on
// windows).
package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

var ErrAlreadyRunning = errors.New("murmur daemon already running")

// Acquire claims path for a new daemon. A responsive owner yields
// ErrAlreadyRunning; a stale endpoint is removed and rescue runs before the
// next attempt.
func Acquire(
	ctx context.Context,
	path string,
	probeTimeout time.Duration,
	retries int,
	rescue func(context.Context) error,
) (net.Listener, error) {
	if err := prepare(path); err != nil {
		return nil, err
	}

	for attempt := 0; attempt <= retries; attempt++ {
		listener, err := listen(path)
		if err == nil {
			return listener, nil
		}

		if !isAddrInUse(err) {
			return nil, fmt.Errorf("listen %s: %w", path, err)
		}

		alive, probeErr := Probe(ctx, path, probeTimeout)
		if alive {
			return nil, ErrAlreadyRunning
		}
		if probeErr != nil {
			return nil, fmt.Errorf("probe existing socket %s: %w", path, probeErr)
		}

		if err := removeStale(path); err != nil {
			return nil, err
		}

		if rescue != nil {
			_ = rescue(ctx)
		}

		if attempt < retries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(25*(attempt+1)) * time.Millisecond):
			}
		}
	}

	return nil, fmt.Errorf("failed to acquire socket %s after %d retries", path, retries)
}

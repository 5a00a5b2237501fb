package output

import (
	"context"
	"time"
)

const pasteTimeout = 1200 * time.Millisecond

// paste waits for the clipboard owner to settle, then runs argv.
func paste(ctx context.Context, argv []string, delay time.Duration) error {
	if delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	pasteCtx, cancel := context.WithTimeout(ctx, pasteTimeout)
	defer cancel()
	return runCommandWithInput(pasteCtx, argv, "")
}

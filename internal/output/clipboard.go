// Package output applies the final text of a session: clipboard first, then
// an optional paste command.
package output

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/atotto/clipboard"

	"github.com/rbright/murmur/internal/config"
)

const clipboardTimeout = 2 * time.Second

// Committer applies output side effects for completed sessions.
type Committer struct {
	config config.OutputConfig
	logger *slog.Logger

	writeClipboard func(string) error

	queue chan string
	done  chan struct{}
}

// NewCommitter constructs a committer from the output config section.
func NewCommitter(cfg config.OutputConfig, logger *slog.Logger) *Committer {
	return &Committer{
		config:         cfg,
		logger:         logger,
		writeClipboard: clipboard.WriteAll,
	}
}

// Commit writes text to the clipboard and optionally dispatches paste.
func (c *Committer) Commit(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}

	clipboardCtx, clipboardCancel := context.WithTimeout(ctx, clipboardTimeout)
	defer clipboardCancel()
	if err := c.setClipboard(clipboardCtx, text); err != nil {
		return fmt.Errorf("set clipboard: %w", err)
	}

	if len(c.config.Paste.Argv) == 0 {
		return nil
	}
	if err := paste(ctx, c.config.Paste.Argv, c.config.PasteDelay); err != nil {
		c.logPasteFailure(err)
	}
	return nil
}

func (c *Committer) setClipboard(ctx context.Context, text string) error {
	if len(c.config.Clipboard.Argv) > 0 {
		return runCommandWithInput(ctx, c.config.Clipboard.Argv, text)
	}
	return c.writeClipboard(text)
}

// runCommandWithInput executes argv and optionally writes input to stdin.
func runCommandWithInput(ctx context.Context, argv []string, input string) error {
	if len(argv) == 0 {
		return fmt.Errorf("command argv cannot be empty")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open stdin for %s: %w", argv[0], err)
	}

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return fmt.Errorf("start command %s: %w", argv[0], err)
	}

	if input != "" {
		if _, err := stdin.Write([]byte(input)); err != nil {
			_ = stdin.Close()
			_ = cmd.Wait()
			return fmt.Errorf("write stdin for %s: %w", argv[0], err)
		}
	}
	_ = stdin.Close()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("wait for %s: %w", argv[0], err)
	}
	return nil
}

// logPasteFailure records paste errors while preserving clipboard success semantics.
func (c *Committer) logPasteFailure(err error) {
	if c.logger == nil || err == nil {
		return
	}
	c.logger.Error("paste dispatch failed; clipboard remains set", "error", err.Error())
}

package output

import (
	"context"

	"github.com/rbright/murmur/internal/session"
)

const queueDepth = 8

// Start begins applying completed sessions in the background. Commits run in
// completion order, off the orchestrating loop.
func (c *Committer) Start() {
	if c.queue != nil {
		return
	}
	c.queue = make(chan string, queueDepth)
	c.done = make(chan struct{})
	go func() {
		defer close(c.done)
		for text := range c.queue {
			if err := c.Commit(context.Background(), text); err != nil && c.logger != nil {
				c.logger.Error("commit output failed", "error", err.Error())
			}
		}
	}()
}

// Close drains queued commits and stops the background goroutine.
func (c *Committer) Close() {
	if c.queue == nil {
		return
	}
	close(c.queue)
	<-c.done
	c.queue = nil
}

func (c *Committer) OnStateChanged(session.Snapshot) {}

func (c *Committer) OnProgress(string, string) {}

func (c *Committer) OnCancelled(session.Snapshot) {}

// OnComplete queues the session text. Failed sessions leave the clipboard alone.
func (c *Committer) OnComplete(result session.Result) {
	if result.Err != nil || result.Text() == "" || c.queue == nil {
		return
	}
	select {
	case c.queue <- result.Text():
	default:
		if c.logger != nil {
			c.logger.Warn("output queue full; dropping result", "session_id", result.SessionID)
		}
	}
}

package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/rbright/murmur/internal/session"
)

const recordTimeout = 2 * time.Second

// Recorder writes terminal session outcomes into a Store.
type Recorder struct {
	store  *Store
	logger *slog.Logger
}

// NewRecorder adapts store to session.Subscriber.
func NewRecorder(store *Store, logger *slog.Logger) *Recorder {
	return &Recorder{store: store, logger: logger}
}

func (r *Recorder) OnStateChanged(session.Snapshot) {}

func (r *Recorder) OnProgress(string, string) {}

func (r *Recorder) OnComplete(result session.Result) {
	e := Entry{
		SessionID:  result.SessionID,
		TaskID:     result.TaskID,
		Set:        result.Set,
		Hotkey:     result.Hotkey,
		Status:     StatusCompleted,
		Transcript: result.Transcript,
		Output:     result.Output,
		Duration:   result.Duration,
	}
	if result.Err != nil {
		e.Status = StatusFailed
		e.Error = result.Err.Error()
	}
	r.record(e)
}

func (r *Recorder) OnCancelled(snap session.Snapshot) {
	r.record(Entry{
		SessionID: snap.ID,
		Set:       snap.Set,
		Hotkey:    snap.Hotkey,
		Status:    StatusCancelled,
	})
}

func (r *Recorder) record(e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if _, err := r.store.Record(ctx, e); err != nil && r.logger != nil {
		r.logger.Error("record session history", "session_id", e.SessionID, "error", err.Error())
	}
}

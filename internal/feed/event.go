package feed

import (
	"time"

	"github.com/rbright/murmur/internal/session"
)

// Event types.
const (
	TypeState     = "state"
	TypeProgress  = "progress"
	TypeComplete  = "complete"
	TypeCancelled = "cancelled"
)

// Event is one JSON text frame on the feed.
type Event struct {
	Type      string            `json:"type"`
	Time      time.Time         `json:"time"`
	SessionID string            `json:"session_id,omitempty"`
	Snapshot  *session.Snapshot `json:"snapshot,omitempty"`
	Chunk     string            `json:"chunk,omitempty"`
	Result    *session.Result   `json:"result,omitempty"`
	Error     string            `json:"error,omitempty"`
}

func (h *Hub) OnStateChanged(snap session.Snapshot) {
	h.Publish(Event{Type: TypeState, Time: time.Now(), SessionID: snap.ID, Snapshot: &snap})
}

func (h *Hub) OnProgress(sessionID, chunk string) {
	h.Publish(Event{Type: TypeProgress, Time: time.Now(), SessionID: sessionID, Chunk: chunk})
}

func (h *Hub) OnComplete(result session.Result) {
	ev := Event{Type: TypeComplete, Time: time.Now(), SessionID: result.SessionID, Result: &result}
	if result.Err != nil {
		ev.Error = result.Err.Error()
	}
	h.Publish(ev)
}

func (h *Hub) OnCancelled(snap session.Snapshot) {
	h.Publish(Event{Type: TypeCancelled, Time: time.Now(), SessionID: snap.ID, Snapshot: &snap})
}

package session

import (
	"fmt"
	"log/slog"
)

// Subscriber receives lifecycle notifications. Every method runs on the
// orchestrating loop and must not block.
type Subscriber interface {
	OnStateChanged(Snapshot)
	OnProgress(sessionID string, chunk string)
	OnComplete(Result)
	OnCancelled(Snapshot)
}

// Funcs adapts optional callbacks to the Subscriber interface.
type Funcs struct {
	StateChanged func(Snapshot)
	Progress     func(sessionID string, chunk string)
	Complete     func(Result)
	Cancelled    func(Snapshot)
}

func (f Funcs) OnStateChanged(s Snapshot) {
	if f.StateChanged != nil {
		f.StateChanged(s)
	}
}

func (f Funcs) OnProgress(sessionID string, chunk string) {
	if f.Progress != nil {
		f.Progress(sessionID, chunk)
	}
}

func (f Funcs) OnComplete(r Result) {
	if f.Complete != nil {
		f.Complete(r)
	}
}

func (f Funcs) OnCancelled(s Snapshot) {
	if f.Cancelled != nil {
		f.Cancelled(s)
	}
}

// Subscribers fans each notification out in registration order. A panicking
// subscriber is logged and does not starve the ones after it.
type Subscribers struct {
	list   []Subscriber
	logger *slog.Logger
}

// Add appends s.
func (s *Subscribers) Add(sub Subscriber) {
	if sub != nil {
		s.list = append(s.list, sub)
	}
}

// Len returns the number of subscribers.
func (s *Subscribers) Len() int {
	return len(s.list)
}

func (s *Subscribers) OnStateChanged(snap Snapshot) {
	s.each("state_changed", func(sub Subscriber) { sub.OnStateChanged(snap) })
}

func (s *Subscribers) OnProgress(sessionID string, chunk string) {
	s.each("progress", func(sub Subscriber) { sub.OnProgress(sessionID, chunk) })
}

func (s *Subscribers) OnComplete(r Result) {
	s.each("complete", func(sub Subscriber) { sub.OnComplete(r) })
}

func (s *Subscribers) OnCancelled(snap Snapshot) {
	s.each("cancelled", func(sub Subscriber) { sub.OnCancelled(snap) })
}

func (s *Subscribers) each(event string, fn func(Subscriber)) {
	for _, sub := range s.list {
		s.deliver(event, sub, fn)
	}
}

func (s *Subscribers) deliver(event string, sub Subscriber, fn func(Subscriber)) {
	defer func() {
		if r := recover(); r != nil && s.logger != nil {
			s.logger.Error("subscriber panicked",
				"event", event,
				"subscriber", fmt.Sprintf("%T", sub),
				"panic", fmt.Sprint(r),
			)
		}
	}()
	fn(sub)
}

package hotkey

import (
	"errors"
	"fmt"
)

// ErrConflict matches every *ConflictError.
var ErrConflict = errors.New("hotkey already registered")

// ConflictError reports a combination already owned by someone else.
type ConflictError struct {
	Hotkey Hotkey
	Owner  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("hotkey %s already registered by %q", e.Hotkey, e.Owner)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// Handler is invoked by the listener goroutine when a bound combination fires.
type Handler func(Hotkey)

// Binding ties one combination to the owner that registered it.
type Binding struct {
	Hotkey  Hotkey
	Owner   string
	Handler Handler
}

// Registry holds at most one binding per canonical combination.
//
// It does no locking. Callers mutate it only while the listener consuming
// its snapshot is stopped.
type Registry struct {
	order    []string
	bindings map[string]Binding
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{bindings: make(map[string]Binding)}
}

// Register binds h to owner. Re-registering the same owner replaces the
// handler; a different owner yields *ConflictError.
func (r *Registry) Register(h Hotkey, owner string, handler Handler) error {
	if h.IsZero() {
		return &ParseError{Input: "", Reason: "empty"}
	}
	key := h.String()
	if existing, ok := r.bindings[key]; ok {
		if existing.Owner != owner {
			return &ConflictError{Hotkey: h, Owner: existing.Owner}
		}
		existing.Handler = handler
		r.bindings[key] = existing
		return nil
	}

	r.bindings[key] = Binding{Hotkey: h, Owner: owner, Handler: handler}
	r.order = append(r.order, key)
	return nil
}

// Unregister removes the binding for h and reports whether one existed.
func (r *Registry) Unregister(h Hotkey) bool {
	key := h.String()
	if _, ok := r.bindings[key]; !ok {
		return false
	}
	delete(r.bindings, key)
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// FindOwner returns the owner of h, if any.
func (r *Registry) FindOwner(h Hotkey) (string, bool) {
	b, ok := r.bindings[h.String()]
	if !ok {
		return "", false
	}
	return b.Owner, true
}

// Lookup returns the full binding for h.
func (r *Registry) Lookup(h Hotkey) (Binding, bool) {
	b, ok := r.bindings[h.String()]
	return b, ok
}

// All returns a snapshot of every binding in insertion order.
func (r *Registry) All() []Binding {
	out := make([]Binding, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.bindings[key])
	}
	return out
}

// Len returns the number of bindings.
func (r *Registry) Len() int {
	return len(r.order)
}

// Reset drops every binding.
func (r *Registry) Reset() {
	r.order = nil
	r.bindings = make(map[string]Binding)
}

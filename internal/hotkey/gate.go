package hotkey

// FilterGate narrows which bound combinations may currently fire.
//
// The gate is read by the listener goroutine and written by the orchestrating
// loop. Writes happen only while the listener is stopped; Listener.Stop and
// Listener.Start provide the ordering between the two.
type FilterGate struct {
	restricted bool
	target     *Hotkey
}

// NewFilterGate returns an unrestricted gate.
func NewFilterGate() *FilterGate {
	return &FilterGate{}
}

// SetUnrestricted lets every bound combination through.
func (g *FilterGate) SetUnrestricted() {
	g.restricted = false
	g.target = nil
}

// SetRestricted allows only h. A nil h blocks everything.
func (g *FilterGate) SetRestricted(h *Hotkey) {
	g.restricted = true
	if h == nil {
		g.target = nil
		return
	}
	target := *h
	g.target = &target
}

// IsAllowed reports whether h may be dispatched.
func (g *FilterGate) IsAllowed(h Hotkey) bool {
	if !g.restricted {
		return true
	}
	if g.target == nil {
		return false
	}
	return g.target.Equal(h)
}

// Restricted reports whether the gate is in restricted mode.
func (g *FilterGate) Restricted() bool {
	return g.restricted
}

// Mode renders the gate for logs and status output.
func (g *FilterGate) Mode() string {
	switch {
	case !g.restricted:
		return "unrestricted"
	case g.target == nil:
		return "restricted(none)"
	default:
		return "restricted(" + g.target.String() + ")"
	}
}

package session

import (
	"context"
	"fmt"

	"github.com/rbright/murmur/internal/fsm"
	"github.com/rbright/murmur/internal/ipc"
)

// Handle serves control-socket commands. It is safe to call from any
// goroutine except the loop.
func (o *Orchestrator) Handle(ctx context.Context, req ipc.Request) ipc.Response {
	var resp ipc.Response
	if err := o.loop.Call(ctx, func() { resp = o.handle(req) }); err != nil {
		return ipc.Response{OK: false, Error: fmt.Sprintf("%s: %v", req.Command, err)}
	}
	return resp
}

func (o *Orchestrator) handle(req ipc.Request) ipc.Response {
	before := o.state

	switch req.Command {
	case "status":
		return o.response(true, "status")
	case "bindings":
		resp := o.response(true, "bindings")
		for _, b := range o.registry.All() {
			resp.Bindings = append(resp.Bindings, ipc.Binding{Hotkey: b.Hotkey.String(), Owner: b.Owner})
		}
		return resp
	case "toggle":
		if !o.Toggle() {
			return o.refused("toggle", before)
		}
		return o.response(true, toggleMessage(before))
	case "start":
		if !o.StartSet(req.Set) {
			return o.refused("start", before)
		}
		return o.response(true, "recording started")
	case "stop":
		if !o.Stop() {
			return o.refused("stop", before)
		}
		return o.response(true, "stop requested")
	case "cancel":
		if !o.Cancel() {
			return o.refused("cancel", before)
		}
		return o.response(true, "cancel requested")
	default:
		resp := o.response(false, "")
		resp.Error = fmt.Sprintf("unknown command: %s", req.Command)
		return resp
	}
}

func (o *Orchestrator) response(ok bool, message string) ipc.Response {
	snap := o.Snapshot()
	return ipc.Response{
		OK:      ok,
		State:   string(snap.State),
		Set:     snap.Set,
		Hotkey:  snap.Hotkey,
		Gate:    snap.Gate,
		Message: message,
	}
}

func (o *Orchestrator) refused(command string, from fsm.State) ipc.Response {
	resp := o.response(false, "")
	if (command == "start" || command == "toggle") && from == fsm.StateIdle {
		resp.Error = "start failed; see log for capture error"
		return resp
	}
	resp.Error = fmt.Sprintf("cannot %s from state %s", command, from)
	return resp
}

func toggleMessage(from fsm.State) string {
	switch from {
	case fsm.StateProcessing:
		return "cancel requested"
	case fsm.StateRecording:
		return "stop requested"
	default:
		return "recording started"
	}
}

package ipc

// Request is one newline-delimited JSON command.
type Request struct {
	Command string `json:"command"`
	// Set selects the instruction set for "start".
	Set string `json:"set,omitempty"`
}

// Binding is one hotkey registration as reported by "bindings".
type Binding struct {
	Hotkey string `json:"hotkey"`
	Owner  string `json:"owner"`
}

type Response struct {
	OK       bool      `json:"ok"`
	State    string    `json:"state,omitempty"`
	Set      string    `json:"set,omitempty"`
	Hotkey   string    `json:"hotkey,omitempty"`
	Gate     string    `json:"gate,omitempty"`
	Bindings []Binding `json:"bindings,omitempty"`
	Message  string    `json:"message,omitempty"`
	Error    string    `json:"error,omitempty"`
}

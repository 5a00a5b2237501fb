// Package config resolves, parses, validates, and defaults murmur configuration.
package config

import (
	"os"
	"strings"
	"time"
)

// Config is the fully materialized runtime configuration used by murmur.
type Config struct {
	Listener     ListenerConfig
	Worker       WorkerConfig
	Audio        AudioConfig
	Processing   ProcessingConfig
	Output       OutputConfig
	Instructions InstructionsConfig
	Feed         FeedConfig
	History      HistoryConfig
	Log          LogConfig
	Debug        DebugConfig
}

// ListenerConfig selects the global hotkey backend.
type ListenerConfig struct {
	// Backend is auto, evdev (linux), or native (darwin/windows).
	Backend string
	// Devices pins evdev keyboards; empty scans /dev/input.
	Devices []string
}

// WorkerConfig controls background processing tasks.
type WorkerConfig struct {
	CancelGraceMS int
}

// CancelGrace is how long a cancelled task may run before it is abandoned.
func (w WorkerConfig) CancelGrace() time.Duration {
	return time.Duration(w.CancelGraceMS) * time.Millisecond
}

// AudioConfig controls preferred and fallback input-source selection.
type AudioConfig struct {
	Input    string
	Fallback string
	Format   string
}

// ProcessingConfig points at an OpenAI-compatible transcription/chat API.
type ProcessingConfig struct {
	BaseURL   string
	APIKeyEnv string
	STTModel  string
	LLMModel  string
	TimeoutMS int
	// GRPCHealth is an optional host:port probed by doctor with grpc.health.v1.
	GRPCHealth string
}

// Timeout bounds one processing task.
func (p ProcessingConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutMS) * time.Millisecond
}

// APIKey reads the key from the configured environment variable.
func (p ProcessingConfig) APIKey() string {
	if strings.TrimSpace(p.APIKeyEnv) == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(p.APIKeyEnv))
}

// OutputConfig controls how completed text reaches the user.
type OutputConfig struct {
	// Clipboard overrides the built-in clipboard when set.
	Clipboard CommandConfig
	// Paste runs after the clipboard is set; empty disables paste.
	Paste      CommandConfig
	PasteDelay time.Duration
}

// InstructionsConfig locates the instruction-set file.
type InstructionsConfig struct {
	Path  string
	Watch bool
}

// FeedConfig controls the websocket event feed.
type FeedConfig struct {
	Enable bool
	Addr   string
}

// HistoryConfig controls the sqlite session log.
type HistoryConfig struct {
	Enable bool
	Path   string
}

// LogConfig controls the JSONL runtime log.
type LogConfig struct {
	Level string
}

// CommandConfig stores a raw command string and its parsed argv form.
type CommandConfig struct {
	Raw  string
	Argv []string
}

// DebugConfig controls optional debug artifact output.
type DebugConfig struct {
	KeepAudio bool
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}

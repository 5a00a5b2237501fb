// Package session owns the dictation lifecycle: which instruction set is
// active, which hotkey may fire, and the one processing task in flight.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/rbright/murmur/internal/fsm"
	"github.com/rbright/murmur/internal/worker"
)

var (
	// ErrPipelineUnavailable indicates recorder or processor wiring is missing.
	ErrPipelineUnavailable = errors.New("audio capture and processing pipeline not configured")
	// ErrEmptyTranscript indicates processing finished without usable speech.
	ErrEmptyTranscript = errors.New("no speech recognized; check microphone input or mute state")
)

// Artifact is the captured audio handed from the recorder to the processor.
type Artifact struct {
	Path     string
	Format   string
	Device   string
	Bytes    int64
	Duration time.Duration
}

// Recorder captures audio for one session at a time. All methods are called
// on the orchestrating loop.
type Recorder interface {
	StartCapture(ctx context.Context, set string) error
	// StopCapture ends the capture. ok is false when nothing was recorded.
	StopCapture(ctx context.Context) (artifact Artifact, ok bool, err error)
	CancelCapture(ctx context.Context) error
}

// Processor builds the background task that turns an artifact into text.
type Processor interface {
	Task(set string, artifact Artifact) worker.Task[Result]
}

// Result is the terminal payload of one processed session. A failed task is
// still a Result, with Err set.
type Result struct {
	SessionID  string        `json:"session_id"`
	TaskID     string        `json:"task_id,omitempty"`
	Set        string        `json:"set"`
	Hotkey     string        `json:"hotkey,omitempty"`
	Transcript string        `json:"transcript,omitempty"`
	Output     string        `json:"output,omitempty"`
	Refined    bool          `json:"refined,omitempty"`
	Artifact   Artifact      `json:"-"`
	Err        error         `json:"-"`
	Duration   time.Duration `json:"duration"`
}

// Text returns the text that should reach the user.
func (r Result) Text() string {
	if r.Output != "" {
		return r.Output
	}
	return r.Transcript
}

// Snapshot is a read-only view of the orchestrator for subscribers and status.
type Snapshot struct {
	ID            string    `json:"id,omitempty"`
	State         fsm.State `json:"state"`
	Set           string    `json:"set,omitempty"`
	Hotkey        string    `json:"hotkey,omitempty"`
	StartedAt     time.Time `json:"started_at,omitzero"`
	Gate          string    `json:"gate"`
	HotkeysActive bool      `json:"hotkeys_active"`
}

type placeholderRecorder struct{}

func (placeholderRecorder) StartCapture(context.Context, string) error {
	return ErrPipelineUnavailable
}

func (placeholderRecorder) StopCapture(context.Context) (Artifact, bool, error) {
	return Artifact{}, false, ErrPipelineUnavailable
}

func (placeholderRecorder) CancelCapture(context.Context) error {
	return nil
}

type placeholderProcessor struct{}

func (placeholderProcessor) Task(string, Artifact) worker.Task[Result] {
	return func(context.Context, func(string)) (Result, error) {
		return Result{}, ErrPipelineUnavailable
	}
}

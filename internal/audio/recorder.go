package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rbright/murmur/internal/session"
)

// minCaptureBytes drops captures shorter than 100ms.
const minCaptureBytes = SampleRate * Channels * BitsPerSample / 8 / 10

// RecorderConfig selects the device and artifact format.
type RecorderConfig struct {
	Input    string
	Fallback string
	Format   string
	// Dir receives artifact files; empty means the system temp dir.
	Dir string
}

// stream is the part of Capture the recorder depends on.
type stream interface {
	Stop() error
	PCM() []byte
	Device() Device
}

type openFunc func(ctx context.Context, input string, fallback string) (stream, Selection, error)

// Recorder captures one session at a time and writes the encoded artifact
// to disk on stop.
type Recorder struct {
	cfg    RecorderConfig
	logger *slog.Logger
	open   openFunc

	mu        sync.Mutex
	active    stream
	set       string
	startedAt time.Time
}

// NewRecorder records from Pulse.
func NewRecorder(cfg RecorderConfig, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Recorder{cfg: cfg, logger: logger, open: openPulse}
}

func openPulse(ctx context.Context, input string, fallback string) (stream, Selection, error) {
	selection, err := SelectDevice(ctx, input, fallback)
	if err != nil {
		return nil, Selection{}, err
	}
	capture, err := StartCapture(ctx, selection.Device)
	if err != nil {
		return nil, selection, err
	}
	return capture, selection, nil
}

func (r *Recorder) StartCapture(ctx context.Context, set string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		return errors.New("capture already running")
	}

	s, selection, err := r.open(ctx, r.cfg.Input, r.cfg.Fallback)
	if err != nil {
		return err
	}
	if selection.Warning != "" {
		r.logger.Warn(selection.Warning)
	}
	r.active = s
	r.set = set
	r.startedAt = time.Now()
	r.logger.Debug("capture started", "device", s.Device().String(), "set", set)
	return nil
}

func (r *Recorder) StopCapture(_ context.Context) (session.Artifact, bool, error) {
	r.mu.Lock()
	s, set, startedAt := r.active, r.set, r.startedAt
	r.active = nil
	r.mu.Unlock()

	if s == nil {
		return session.Artifact{}, false, session.ErrPipelineUnavailable
	}
	_ = s.Stop()

	pcm := s.PCM()
	if len(pcm) < minCaptureBytes {
		r.logger.Info("capture too short; discarded", "bytes", len(pcm), "set", set)
		return session.Artifact{}, false, nil
	}

	format := r.cfg.Format
	if format == "" {
		format = FormatFLAC
	}
	encoded, err := Encode(format, pcm)
	if err != nil {
		return session.Artifact{}, false, err
	}
	path, err := r.writeArtifact(format, encoded)
	if err != nil {
		return session.Artifact{}, false, err
	}

	artifact := session.Artifact{
		Path:     path,
		Format:   format,
		Device:   s.Device().String(),
		Bytes:    int64(len(encoded)),
		Duration: pcmDuration(len(pcm)),
	}
	r.logger.Info("capture stopped",
		"set", set,
		"pcm_bytes", len(pcm),
		"artifact_bytes", artifact.Bytes,
		"wall_ms", time.Since(startedAt).Milliseconds(),
	)
	return artifact, true, nil
}

func (r *Recorder) CancelCapture(_ context.Context) error {
	r.mu.Lock()
	s := r.active
	r.active = nil
	r.mu.Unlock()

	if s == nil {
		return nil
	}
	return s.Stop()
}

func (r *Recorder) writeArtifact(format string, data []byte) (string, error) {
	dir := r.cfg.Dir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), clientName)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}

	name := fmt.Sprintf("capture-%s.%s", time.Now().Format("20060102-150405.000"), format)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write artifact %q: %w", path, err)
	}
	return path, nil
}

func pcmDuration(n int) time.Duration {
	bytesPerSecond := SampleRate * Channels * BitsPerSample / 8
	return time.Duration(n) * time.Second / time.Duration(bytesPerSecond)
}

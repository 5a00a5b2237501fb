// Package processing turns a captured artifact into text: a speech-to-text
// upload, then optional LLM refinement streamed back as progress.
package processing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/atotto/clipboard"

	"github.com/rbright/murmur/internal/instructions"
	"github.com/rbright/murmur/internal/session"
	"github.com/rbright/murmur/internal/version"
	"github.com/rbright/murmur/internal/worker"
)

const (
	DefaultSTTModel = "whisper-1"
	DefaultLLMModel = "gpt-4o-mini"
	DefaultTimeout  = 60 * time.Second

	maxErrorBody = 500
)

// ErrNoEndpoint is returned when no base URL is configured.
var ErrNoEndpoint = errors.New("processing base_url is not configured")

// Config holds the endpoint and model defaults shared by every set.
type Config struct {
	BaseURL   string
	APIKey    string
	STTModel  string
	LLMModel  string
	Timeout   time.Duration
	KeepAudio bool
}

// Pipeline implements session.Processor against an OpenAI-compatible API.
type Pipeline struct {
	cfg    Config
	sets   *instructions.Store
	client *http.Client
	logger *slog.Logger

	readClipboard func() (string, error)
}

// New builds a pipeline. sets resolves the instruction set named by each task.
func New(cfg Config, sets *instructions.Store, logger *slog.Logger) *Pipeline {
	if cfg.STTModel == "" {
		cfg.STTModel = DefaultSTTModel
	}
	if cfg.LLMModel == "" {
		cfg.LLMModel = DefaultLLMModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if sets == nil {
		sets = instructions.NewStore(instructions.Default())
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Pipeline{
		cfg:           cfg,
		sets:          sets,
		client:        &http.Client{},
		logger:        logger,
		readClipboard: clipboard.ReadAll,
	}
}

// Task returns the background job for one artifact.
func (p *Pipeline) Task(set string, artifact session.Artifact) worker.Task[session.Result] {
	return func(ctx context.Context, emit func(string)) (session.Result, error) {
		defer p.cleanup(artifact)

		if p.cfg.BaseURL == "" {
			return session.Result{}, ErrNoEndpoint
		}
		ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()

		s := p.sets.Get(set)
		result := session.Result{Set: s.Name, Artifact: artifact}

		started := time.Now()
		text, err := p.transcribe(ctx, s.STT, artifact)
		if err != nil {
			return result, err
		}
		result.Transcript = strings.TrimSpace(text)
		p.logger.Debug("transcription complete",
			"set", s.Name,
			"chars", len(result.Transcript),
			"duration_ms", time.Since(started).Milliseconds(),
		)

		if !s.LLM.Enabled || result.Transcript == "" {
			emit(result.Transcript)
			return result, nil
		}

		started = time.Now()
		output, err := p.refine(ctx, s.LLM, result.Transcript, emit)
		if err != nil {
			return result, err
		}
		result.Output = strings.TrimSpace(output)
		result.Refined = true
		p.logger.Debug("refinement complete",
			"set", s.Name,
			"chars", len(result.Output),
			"duration_ms", time.Since(started).Milliseconds(),
		)
		return result, nil
	}
}

func (p *Pipeline) cleanup(artifact session.Artifact) {
	if p.cfg.KeepAudio || artifact.Path == "" {
		return
	}
	if err := os.Remove(artifact.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		p.logger.Warn("remove audio artifact", "path", artifact.Path, "error", err.Error())
	}
}

func (p *Pipeline) authorize(req *http.Request) {
	req.Header.Set("User-Agent", version.UserAgent())
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}
}

func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return fmt.Errorf("%s: HTTP %d: %s", op, resp.StatusCode, strings.TrimSpace(string(body)))
}

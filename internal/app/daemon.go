package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/rbright/murmur/internal/audio"
	"github.com/rbright/murmur/internal/config"
	"github.com/rbright/murmur/internal/dispatch"
	"github.com/rbright/murmur/internal/feed"
	"github.com/rbright/murmur/internal/history"
	"github.com/rbright/murmur/internal/instructions"
	"github.com/rbright/murmur/internal/ipc"
	"github.com/rbright/murmur/internal/listener"
	"github.com/rbright/murmur/internal/output"
	"github.com/rbright/murmur/internal/processing"
	"github.com/rbright/murmur/internal/session"
)

const (
	acquireProbeTimeout = 180 * time.Millisecond
	acquireRetries      = 8
	shutdownTimeout     = 3 * time.Second
)

// commandRun owns the control socket and runs the orchestrator until ctx is
// cancelled.
func (r Runner) commandRun(ctx context.Context, cfgLoaded config.Loaded, logger *slog.Logger) int {
	cfg := cfgLoaded.Config

	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	ln, err := ipc.Acquire(ctx, socketPath, acquireProbeTimeout, acquireRetries, nil)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		_ = ln.Close()
		_ = os.Remove(socketPath)
	}()

	instructionsPath := cfgLoaded.InstructionsPath()
	file, err := instructions.Load(instructionsPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	bindings, err := file.Bindings()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	store := instructions.NewStore(file)

	committer := output.NewCommitter(cfg.Output, logger)
	committer.Start()
	defer committer.Close()

	subscribers := []session.Subscriber{committer, sessionLog(logger)}

	if cfg.History.Enable {
		path, err := cfgLoaded.HistoryPath()
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		hist, err := history.Open(path)
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		defer func() { _ = hist.Close() }()
		subscribers = append(subscribers, history.NewRecorder(hist, logger))
	}

	if cfg.Feed.Enable {
		hub := feed.NewHub(feed.Options{Addr: cfg.Feed.Addr, Logger: logger})
		if err := hub.Start(ctx); err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		defer func() { _ = hub.Stop() }()
		subscribers = append(subscribers, hub)
		logger.Info("event feed listening", "url", hub.URL())
	}

	loop := dispatch.New(logger)
	orch, err := session.New(session.Deps{
		Loop:        loop,
		Source:      r.hotkeySource(cfg.Listener, logger),
		Recorder:    r.recorder(cfg, logger),
		Processor:   r.processor(cfg, store, logger),
		Subscribers: subscribers,
		Grace:       cfg.Worker.CancelGrace(),
		DefaultSet:  file.ActiveName(),
		Logger:      logger,
	})
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	loop.Start(context.Background())
	defer func() {
		loop.Close()
		<-loop.Done()
	}()

	if err := loop.Call(ctx, func() {
		if err := orch.Bind(bindings); err != nil {
			logger.Error("bind hotkeys failed", "error", err.Error())
			return
		}
		if err := orch.Listen(); err != nil {
			logger.Warn("global hotkeys unavailable; control socket still accepts commands", "error", err.Error())
		}
	}); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	if cfg.Instructions.Watch {
		watcher, err := instructions.Watch(instructionsPath, instructions.DefaultDebounce, logger, func(f instructions.File, err error) {
			if err != nil {
				logger.Warn("instruction reload rejected", "path", instructionsPath, "error", err.Error())
				return
			}
			loop.Post(func() { applyInstructions(orch, store, f, logger) })
		})
		if err != nil {
			logger.Warn("instruction watch unavailable", "path", instructionsPath, "error", err.Error())
		} else {
			defer func() { _ = watcher.Close() }()
		}
	}

	serverCtx, serverCancel := context.WithCancel(ctx)
	defer serverCancel()
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- ipc.Serve(serverCtx, ln, orch)
	}()

	logger.Info("daemon running",
		"socket", socketPath,
		"instructions", instructionsPath,
		"bindings", len(bindings),
	)

	exitCode := 0
	select {
	case <-ctx.Done():
	case err := <-serverErrCh:
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: ipc server failed: %v\n", err)
			exitCode = 1
		}
		serverErrCh = nil
	}

	serverCancel()
	if serverErrCh != nil {
		if err := <-serverErrCh; err != nil {
			logger.Error("ipc server stopped with error", "error", err.Error())
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := loop.Call(shutdownCtx, orch.Shutdown); err != nil {
		logger.Warn("orchestrator shutdown incomplete", "error", err.Error())
	}
	logger.Info("daemon stopped", "leaked_tasks", orch.Workers().Leaked())
	return exitCode
}

// applyInstructions swaps in a reloaded instruction file. It runs on the loop.
func applyInstructions(orch *session.Orchestrator, store *instructions.Store, f instructions.File, logger *slog.Logger) {
	bindings, err := f.Bindings()
	if err != nil {
		logger.Warn("instruction reload rejected", "error", err.Error())
		return
	}
	// sets swap with the bindings so an active session keeps resolving its
	// owner against the file it started with
	err = orch.BindThen(bindings, func() {
		store.Replace(f)
		orch.SetDefaultSet(f.ActiveName())
		logger.Info("instructions reloaded", "sets", len(f.Sets), "bindings", len(bindings))
	})
	if err != nil {
		logger.Warn("instruction reload rejected", "error", err.Error())
	}
}

func (r Runner) hotkeySource(cfg config.ListenerConfig, logger *slog.Logger) listener.Source {
	if r.Source != nil {
		return r.Source
	}
	source, err := listener.NewSystemSource(cfg.Backend, cfg.Devices, logger)
	if err != nil {
		logger.Warn("hotkey source unavailable; running without global hotkeys", "backend", cfg.Backend, "error", err.Error())
		return nil
	}
	return source
}

func (r Runner) recorder(cfg config.Config, logger *slog.Logger) session.Recorder {
	if r.Recorder != nil {
		return r.Recorder
	}
	return audio.NewRecorder(audio.RecorderConfig{
		Input:    cfg.Audio.Input,
		Fallback: cfg.Audio.Fallback,
		Format:   cfg.Audio.Format,
	}, logger)
}

func (r Runner) processor(cfg config.Config, store *instructions.Store, logger *slog.Logger) session.Processor {
	if r.Processor != nil {
		return r.Processor
	}
	return processing.New(processing.Config{
		BaseURL:   cfg.Processing.BaseURL,
		APIKey:    cfg.Processing.APIKey(),
		STTModel:  cfg.Processing.STTModel,
		LLMModel:  cfg.Processing.LLMModel,
		Timeout:   cfg.Processing.Timeout(),
		KeepAudio: cfg.Debug.KeepAudio,
	}, store, logger)
}

// sessionLog writes one structured line per terminal outcome.
func sessionLog(logger *slog.Logger) session.Subscriber {
	return session.Funcs{
		Complete: func(result session.Result) {
			logSessionResult(logger, result)
		},
		Cancelled: func(snap session.Snapshot) {
			logger.Info("session cancelled", "session_id", snap.ID, "set", snap.Set, "hotkey", snap.Hotkey)
		},
	}
}

func logSessionResult(logger *slog.Logger, result session.Result) {
	if logger == nil {
		return
	}
	fields := []any{
		"session_id", result.SessionID,
		"task_id", result.TaskID,
		"set", result.Set,
		"hotkey", result.Hotkey,
		"duration_ms", result.Duration.Milliseconds(),
		"audio_device", result.Artifact.Device,
		"bytes_captured", result.Artifact.Bytes,
		"transcript_length", len(result.Transcript),
		"output_length", len(result.Output),
		"refined", result.Refined,
	}

	if result.Err != nil {
		if errors.Is(result.Err, session.ErrEmptyTranscript) {
			logger.Warn("session produced no text", fields...)
			return
		}
		logger.Error("session failed", append(fields, "error", result.Err.Error())...)
		return
	}
	logger.Info("session complete", fields...)
}

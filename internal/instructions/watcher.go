package instructions

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the burst of events editors emit on save.
const DefaultDebounce = 150 * time.Millisecond

// Watcher reloads the instruction file when it changes on disk.
//
// The parent directory is watched rather than the file so atomic
// rename-over saves keep being observed.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger
	onChange func(File, error)

	fs   *fsnotify.Watcher
	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// Watch starts watching path. onChange runs on the watcher goroutine with
// the reloaded file, or with the load error.
func Watch(path string, debounce time.Duration, logger *slog.Logger, onChange func(File, error)) (*Watcher, error) {
	if onChange == nil {
		return nil, errors.New("instruction watcher requires a change callback")
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve instruction path: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	w := &Watcher{
		path:     abs,
		debounce: debounce,
		logger:   logger,
		onChange: onChange,
		fs:       fsw,
		stop:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w, nil
}

// Close stops the watcher and waits for its goroutine.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.stop)
		err = w.fs.Close()
		w.wg.Wait()
	})
	return err
}

func (w *Watcher) run() {
	defer w.wg.Done()

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-w.stop:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			w.logger.Debug("instruction file changed", "path", w.path, "op", ev.Op.String())
			timer.Reset(w.debounce)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("instruction watcher error", "error", err.Error())
		case <-timer.C:
			f, err := Load(w.path)
			if err != nil {
				w.logger.Warn("instruction reload failed", "path", w.path, "error", err.Error())
			} else {
				w.logger.Info("instruction sets reloaded", "path", w.path, "sets", len(f.Sets))
			}
			w.onChange(f, err)
		}
	}
}

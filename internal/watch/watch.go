package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/liamcoop/compliance/internal/logger"
)

// DefaultDebounce is used when New gets a non-positive interval
const DefaultDebounce = 200 * time.Millisecond

// FileWatcher calls a reload function when a single file changes. The parent
// directory is watched so editors that replace the file by rename are seen.
type FileWatcher struct {
	path     string
	debounce time.Duration
	watcher  *fsnotify.Watcher

	mu    sync.Mutex // guards timer
	timer *time.Timer

	reloadMu sync.Mutex // serializes reloads
}

// New creates a watcher for path. The directory containing path must exist.
func New(path string, debounce time.Duration) (*FileWatcher, error) {
	if path == "" {
		return nil, fmt.Errorf("watch path cannot be empty")
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	return &FileWatcher{path: abs, debounce: debounce, watcher: w}, nil
}

// Run blocks until ctx is cancelled, calling reload once per burst of changes.
// Reload errors are logged and watching continues.
func (fw *FileWatcher) Run(ctx context.Context, reload func() error) error {
	defer fw.watcher.Close()

	logger.Info("watching rules file", "path", fw.path, "debounce_ms", fw.debounce.Milliseconds())

	for {
		select {
		case <-ctx.Done():
			fw.stopTimer()
			return nil

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if !fw.relevant(event) {
				continue
			}
			logger.Debug("rules file event", "path", event.Name, "op", event.Op.String())
			fw.schedule(ctx, reload)

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			logger.Error("file watcher error", "error", err)
		}
	}
}

func (fw *FileWatcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != fw.path {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
}

func (fw *FileWatcher) schedule(ctx context.Context, reload func() error) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.timer != nil {
		fw.timer.Stop()
	}
	fw.timer = time.AfterFunc(fw.debounce, func() {
		if ctx.Err() != nil {
			return
		}
		fw.reloadMu.Lock()
		defer fw.reloadMu.Unlock()

		logger.Info("reloading rules file", "path", fw.path)
		if err := reload(); err != nil {
			logger.Error("rules reload failed", "path", fw.path, "error", err)
		}
	})
}

func (fw *FileWatcher) stopTimer() {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.timer != nil {
		fw.timer.Stop()
	}
}

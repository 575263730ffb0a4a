package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"docrag/internal/document"
	"docrag/internal/index"
)

const defaultDebounce = 2 * time.Second

// TriggerFunc is invoked once a burst of changes in the raw directory settles.
type TriggerFunc func(ctx context.Context, reason string) error

// Watcher debounces changes to supported documents under a directory and
// fires a single trigger per burst.
type Watcher struct {
	dir      string
	debounce time.Duration
	trigger  TriggerFunc
	fs       *fsnotify.Watcher

	mu      sync.Mutex
	timer   *time.Timer
	changed map[string]struct{}
	stopped bool
}

func New(dir string, debounce time.Duration, trigger TriggerFunc) (*Watcher, error) {
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fsWatcher.Add(dir); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	return &Watcher{
		dir:      dir,
		debounce: debounce,
		trigger:  trigger,
		fs:       fsWatcher,
		changed:  make(map[string]struct{}),
	}, nil
}

// Run blocks until ctx is cancelled or the underlying watcher fails.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.stop()

	slog.InfoContext(ctx, "watching raw directory", "dir", w.dir, "debounce", w.debounce)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fs.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if relevant(event) {
				w.schedule(ctx, filepath.Base(event.Name))
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			if err != nil {
				slog.WarnContext(ctx, "watcher error", "error", err)
			}
		}
	}
}

func relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	return document.IsSupported(event.Name)
}

func (w *Watcher) schedule(ctx context.Context, name string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.changed[name] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() { w.fire(ctx) })
}

func (w *Watcher) fire(ctx context.Context) {
	w.mu.Lock()
	files := make([]string, 0, len(w.changed))
	for name := range w.changed {
		files = append(files, name)
	}
	w.changed = make(map[string]struct{})
	w.timer = nil
	w.mu.Unlock()

	if ctx.Err() != nil || len(files) == 0 {
		return
	}

	reason := fmt.Sprintf("raw directory changed (%d files)", len(files))
	slog.InfoContext(ctx, "raw directory changed", "files", files)
	err := w.trigger(ctx, reason)
	switch {
	case err == nil:
	case errors.Is(err, index.ErrRebuildInProgress):
		// The running rebuild may have read the directory before these
		// changes; try again once it had time to finish.
		slog.InfoContext(ctx, "rebuild in progress, deferring changes", "files", files)
		w.rearm(ctx, files)
	default:
		slog.ErrorContext(ctx, "rebuild trigger failed", "error", err)
	}
}

// rearm puts files back into the pending set and restarts the timer unless
// a newer event already did.
func (w *Watcher) rearm(ctx context.Context, files []string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped || ctx.Err() != nil {
		return
	}
	for _, name := range files {
		w.changed[name] = struct{}{}
	}
	if w.timer == nil {
		w.timer = time.AfterFunc(w.debounce, func() { w.fire(ctx) })
	}
}

func (w *Watcher) stop() {
	w.mu.Lock()
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()
	w.fs.Close()
}

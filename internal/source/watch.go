package source

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce collapses bursts of writes into one change.
const DefaultDebounce = 500 * time.Millisecond

// Watcher calls a handler after the corpus file changes. Bursts of events
// within the debounce window produce one call.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func(ctx context.Context)
	logger   *zap.Logger
}

// NewWatcher creates a watcher for path.
func NewWatcher(path string, debounce time.Duration, onChange func(ctx context.Context), logger *zap.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		path:     filepath.Clean(path),
		debounce: debounce,
		onChange: onChange,
		logger:   logger.With(zap.String("component", "watcher"), zap.String("path", path)),
	}
}

// Run watches until ctx is done. The parent directory is watched so that
// editors replacing the file through a rename are seen.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.logger.Info("watching corpus")

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if w.relevant(ev) {
				w.logger.Debug("corpus event", zap.String("op", ev.Op.String()))
				timer.Reset(w.debounce)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(err))
		case <-timer.C:
			w.logger.Info("corpus changed")
			w.onChange(ctx)
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if filepath.Clean(ev.Name) != w.path {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)
}

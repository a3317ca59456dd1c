package connector

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rerankd/internal/logging"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// Watcher hot-reloads registry state when the state file is rewritten by
// an external process (operator edit, config management).
//
// The parent directory is watched rather than the file itself: the store
// saves via rename, which replaces the inode a file-level watch is bound
// to.
type Watcher struct {
	registry *Registry
	store    *Store
	watcher  *fsnotify.Watcher
	stop     chan struct{}
	stopOnce sync.Once
	logger   *logging.Logger
}

// NewWatcher creates a watcher for the registry's store.
func NewWatcher(registry *Registry, store *Store, logger *logging.Logger) (*Watcher, error) {
	if registry == nil || store == nil {
		return nil, fmt.Errorf("registry and store are required")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}

	return &Watcher{
		registry: registry,
		store:    store,
		watcher:  fsw,
		stop:     make(chan struct{}),
		logger:   logger,
	}, nil
}

// Start begins watching. Events are processed on a background goroutine
// until Stop is called or ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.store.Path())
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("watching state directory: %w", err)
	}

	go w.processEvents(ctx)
	return nil
}

// Stop stops the watcher and cleans up resources. Safe to call
// concurrently and more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		_ = w.watcher.Close()
	})
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Name != w.store.Path() {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := w.registry.Reload(); err != nil {
				w.logger.Warn(ctx, "state file reload failed",
					zap.String("path", w.store.Path()),
					zap.Error(err),
				)
				continue
			}
			w.logger.Info(ctx, "registry state reloaded",
				zap.String("path", w.store.Path()),
			)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn(ctx, "state watcher error", zap.Error(err))
		}
	}
}

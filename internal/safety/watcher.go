// File: internal/safety/watcher.go
package safety

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// StopWatcher reacts to the emergency stop file appearing while a task is
// already running. The Guard's CheckBeforeApplication only gates new work;
// the watcher interrupts work in flight.
type StopWatcher struct {
	path    string
	logger  *zap.Logger
	watcher *fsnotify.Watcher
	stopped chan struct{}
}

// NewStopWatcher watches the directory containing the stop file. The file
// itself usually does not exist yet, so the watch is on its parent.
func NewStopWatcher(path string, logger *zap.Logger) (*StopWatcher, error) {
	if path == "" {
		return nil, fmt.Errorf("stop watcher requires a file path")
	}
	if logger == nil {
		return nil, fmt.Errorf("stop watcher requires a logger")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	return &StopWatcher{
		path:    path,
		logger:  logger.Named("stopwatch"),
		watcher: w,
		stopped: make(chan struct{}),
	}, nil
}

// Stopped is closed when the stop file appears. Callers typically select on
// it alongside their task context.
func (s *StopWatcher) Stopped() <-chan struct{} {
	return s.stopped
}

// Run blocks, watching for the stop file, until the context is cancelled or
// the file appears. It is safe to run in its own goroutine.
func (s *StopWatcher) Run(ctx context.Context) error {
	defer s.watcher.Close()

	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return nil
			}
			if ev.Name == s.path && ev.Op.Has(fsnotify.Create) {
				s.logger.Warn("Emergency stop file detected.", zap.String("path", s.path))
				close(s.stopped)
				return nil
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("Stop watcher error.", zap.Error(err))
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

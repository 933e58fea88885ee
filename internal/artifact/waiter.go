// Package artifact waits for and loads the JSON artifact produced by the build step.
//
// A file is considered ready as soon as it exists with a non-zero size. That does
// not prove the producer finished writing; producers should write to a temporary
// name and rename.
//
// Import Path: metapub.io/metapub/internal/artifact
package artifact

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	apperrors "metapub.io/metapub/internal/pkg/errors"
	"metapub.io/metapub/internal/pkg/logger"
)

// DefaultInterval is the polling interval of Waiter.
const DefaultInterval = 200 * time.Millisecond

// Waiter blocks until a file appears.
type Waiter struct {
	Interval time.Duration

	// Watch enables fsnotify wake-ups on the parent directory in addition to polling.
	Watch bool
}

// NewWaiter returns a Waiter polling every 200ms with filesystem notifications enabled.
func NewWaiter() *Waiter {
	return &Waiter{Interval: DefaultInterval, Watch: true}
}

// Wait returns nil once path exists with size > 0. After timeout it returns
// ARTIFACT_NOT_FOUND wrapping ErrTimeout; a cancelled ctx returns ctx.Err().
func (w *Waiter) Wait(ctx context.Context, path string, timeout time.Duration) error {
	if ready(path) {
		return nil
	}

	interval := w.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	var events <-chan fsnotify.Event
	var watchErrs <-chan error
	if w.Watch {
		if watcher := watchDir(filepath.Dir(path)); watcher != nil {
			defer watcher.Close()
			events = watcher.Events
			watchErrs = watcher.Errors
		}
	}

	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			if ready(path) {
				return nil
			}
			return apperrors.Wrap(apperrors.ErrTimeout, apperrors.CodeArtifactNotFound, "artifact did not appear").
				WithParams(map[string]interface{}{"path": path, "timeout": timeout.String()})
		case <-ticker.C:
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			logger.Debug("Artifact watcher error, relying on polling", zap.Error(err))
			continue
		}
		if ready(path) {
			return nil
		}
	}
}

func watchDir(dir string) *fsnotify.Watcher {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Debug("fsnotify unavailable, polling only", zap.Error(err))
		return nil
	}
	if err := watcher.Add(dir); err != nil {
		logger.Debug("Cannot watch artifact directory, polling only", zap.String("dir", dir), zap.Error(err))
		_ = watcher.Close()
		return nil
	}
	return watcher
}

func ready(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular() && fi.Size() > 0
}

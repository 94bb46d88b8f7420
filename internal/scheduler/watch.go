package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadDebounce is how long the schedule file must stay quiet before a
// change is applied.
const ReloadDebounce = 200 * time.Millisecond

// Watch reloads the scheduler whenever the schedule file changes, until
// ctx is cancelled. The parent directory is watched so that atomic
// replacements and first-time creation are both seen.
func (s *Scheduler) Watch(ctx context.Context) error {
	path := filepath.Clean(s.store.Path())
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create schedules dir: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	s.log.Debug("watching schedule file", "path", path)

	var (
		timer  *time.Timer
		reload <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path || ev.Op == fsnotify.Chmod {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(ReloadDebounce)
			} else {
				timer.Reset(ReloadDebounce)
			}
			reload = timer.C
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("schedule watcher error", "error", err)
		case <-reload:
			reload = nil
			if ctx.Err() != nil {
				return nil
			}
			err := s.Reload()
			if errors.Is(err, ErrStopped) {
				return nil
			}
			if err != nil {
				s.log.Error("reload schedules", "error", err)
				continue
			}
			s.log.Info("schedules reloaded", "entries", s.Entries())
		}
	}
}

package automations

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces bursts of filesystem events (editors write
// multiple times) into a single reload.
const watchDebounce = 500 * time.Millisecond

// Watch reloads the scheduler when automation files change on disk.
// Blocks until ctx is cancelled.
func (s *Scheduler) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(s.dir); err != nil {
		return err
	}
	slog.Info("scheduler.watch", "dir", s.dir)

	var timer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name := event.Name
			if !strings.HasSuffix(name, ".yml") && !strings.HasSuffix(name, ".yaml") {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
				timerCh = timer.C
			} else {
				timer.Reset(watchDebounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("scheduler.watch", "error", err)
		case <-timerCh:
			timer = nil
			timerCh = nil
			if err := s.Reload(); err != nil {
				slog.Error("scheduler.watch_reload", "error", err)
			}
		}
	}
}

package prompt

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 250 * time.Millisecond

// Watch reloads the pack whenever its file changes, until ctx is done.
// The parent directory is watched so editors that save by rename are seen.
// It is a no-op for the built-in pack.
func (l *Library) Watch(ctx context.Context) error {
	if l.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create prompt pack watcher: %w", err)
	}
	dir := filepath.Dir(l.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	go l.watchLoop(ctx, watcher)
	slog.Info("Watching prompt pack", "path", l.path)
	return nil
}

func (l *Library) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer func() {
		if err := watcher.Close(); err != nil {
			slog.Debug("prompt pack watcher close failed", "error", err)
		}
	}()

	target := filepath.Clean(l.path)
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			if err := l.Reload(); err != nil {
				slog.Warn("Prompt pack reload failed, keeping previous pack", "path", l.path, "error", err)
				continue
			}
			slog.Info("Prompt pack reloaded", "path", l.path, "suggestions", len(l.Suggestions()))
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Prompt pack watcher error", "error", err)
		}
	}
}

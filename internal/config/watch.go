package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the settings file into h whenever it changes on disk, until
// ctx is cancelled. The parent directory is watched rather than the file so
// editors that replace the file atomically are still observed. A file that
// fails to parse leaves the previous settings in place.
func Watch(ctx context.Context, h *Holder, logger *slog.Logger) error {
	path := filepath.Clean(ExpandHome(h.Path()))
	dir := filepath.Dir(path)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir settings dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create settings watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	logger.Info("watching settings", "path", path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			reload(h, path, logger)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("settings watcher error", "error", err)
		}
	}
}

func reload(h *Holder, path string, logger *slog.Logger) {
	s, err := LoadSettings(path)
	if err != nil {
		logger.Warn("settings reload rejected, keeping previous", "path", path, "error", err)
		return
	}

	prev := h.Settings()
	h.Update(s)
	if prev != s {
		logger.Info("settings reloaded",
			"core_metrics_debounce_seconds", s.CoreMetricsDebounceSeconds,
			"stop_on_session_end", s.StopOnSessionEnd,
		)
	}
}

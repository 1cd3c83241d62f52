package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/codefionn/intentest/internal/logger"
	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces the burst of events a single save produces.
const watchDebounce = 100 * time.Millisecond

// Watch reloads the config at path whenever it changes and passes the result
// to onChange. It blocks until ctx is done. The parent directory is watched
// so that editors replacing the file are noticed as well.
func Watch(ctx context.Context, path string, onChange func(*Config, error)) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(absPath), err)
	}

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != absPath {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			pending = time.After(watchDebounce)

		case <-pending:
			pending = nil
			cfg, err := Load(absPath)
			if err == nil {
				err = cfg.Validate()
			}
			if err != nil {
				logger.Warn("config: reload of %s failed: %v", absPath, err)
			} else {
				logger.Info("config: reloaded %s", absPath)
			}
			onChange(cfg, err)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("config watcher error: %v", err)
		}
	}
}

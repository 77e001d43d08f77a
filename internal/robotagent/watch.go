package robotagent

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 500 * time.Millisecond

// startWatcher reloads the command secret whenever the config file changes.
// The parent directory is watched because editors replace files by rename.
func (ra *RobotAgent) startWatcher(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	path = filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return err
	}

	go ra.watchLoop(ctx, watcher, path)

	ra.logger.Info().Str("file", path).Msg("watching config for changes")
	return nil
}

func (ra *RobotAgent) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, path string) {
	defer watcher.Close()

	var mu sync.Mutex
	var timer *time.Timer
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path || !event.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, func() { ra.reloadSecret(path) })
			mu.Unlock()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			ra.logger.Error().Err(err).Msg("watcher error")
		}
	}
}

func (ra *RobotAgent) reloadSecret(path string) {
	v, err := newViper(path)
	if err != nil {
		ra.logger.Error().Err(err).Msg("config reload failed, keeping current secret")
		return
	}
	secret := v.GetString("security.command_secret")
	if secret == ra.currentSecret() {
		return
	}
	ra.setSecret(secret)
	ra.logger.Info().Bool("signed", secret != "").Msg("command secret reloaded")
}

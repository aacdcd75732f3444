// Package fswatch turns directory changes into debounced trigger calls.
package fswatch

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Triggerable accepts early-pass requests.
type Triggerable interface {
	Trigger()
}

// Watch triggers t when files appear in dir, debounced so a burst of writes
// produces one request. If fsnotify cannot be set up, it returns false and
// the caller keeps relying on interval polling.
func Watch(ctx context.Context, dir string, debounce time.Duration, t Triggerable) bool {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn().Err(err).Msg("fsnotify unavailable, falling back to polling")
		return false
	}
	if err := watcher.Add(dir); err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("Failed to watch directory, falling back to polling")
		watcher.Close()
		return false
	}

	go func() {
		defer watcher.Close()

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
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Write) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(debounce)
				} else {
					timer.Reset(debounce)
				}
				fire = timer.C
			case <-fire:
				fire = nil
				t.Trigger()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Str("dir", dir).Msg("Directory watcher error")
			}
		}
	}()
	return true
}

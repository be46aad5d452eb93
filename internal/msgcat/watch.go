package msgcat

import (
	"context"
	"errors"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const reloadDebounce = 300 * time.Millisecond

// Watch reloads the catalog whenever a YAML file in the override directory
// changes. It blocks until ctx is done. A failed reload keeps the old texts.
func (c *Catalog) Watch(ctx context.Context, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if c.overrideDir == "" {
		return errors.New("msgcat: no override directory to watch")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(c.overrideDir); err != nil {
		return err
	}
	logger.Info("msgcat_watch_started", zap.String("dir", c.overrideDir))

	// editors tend to emit several events per save; coalesce them
	var (
		timer   *time.Timer
		timerCh <-chan time.Time
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
			if !isYAML(ev.Name) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			timerCh = timer.C
		case <-timerCh:
			timerCh = nil
			if err := c.Reload(); err != nil {
				logger.Warn("msgcat_reload_failed", zap.Error(err))
				continue
			}
			logger.Info("msgcat_reloaded", zap.Int("keys", len(c.Keys())))
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("msgcat_watch_error", zap.Error(err))
		}
	}
}

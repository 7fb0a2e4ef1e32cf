package config

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"mdgw/internal/infra/telemetry"
)

const reloadDebounce = 200 * time.Millisecond

// Watch reloads the config file on change and hands the result to onReload.
// Write bursts are debounced; a reload that fails to parse keeps the
// previous configuration. Blocks until the context is done.
func (l *Loader) Watch(ctx context.Context, path string, onReload func(GatewayConfig)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-watcher.Errors:
			if err != nil {
				l.logger.Warn("config watcher error", zap.Error(err))
			}
		case event := <-watcher.Events:
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(reloadDebounce)
		case <-timerChan(timer):
			timer = nil
			cfg, err := l.Load(path)
			if err != nil {
				l.logger.Warn("config reload failed",
					telemetry.EventField(telemetry.EventConfigReload),
					zap.Error(err),
				)
				continue
			}
			l.logger.Info("config reloaded",
				telemetry.EventField(telemetry.EventConfigReload),
				zap.String("path", path),
			)
			onReload(cfg)
		}
	}
}

func timerChan(timer *time.Timer) <-chan time.Time {
	if timer == nil {
		return nil
	}
	return timer.C
}

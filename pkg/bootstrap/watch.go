package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/robfig/cron/v3"
)

// Watch re-applies the definition whenever its file is written, created, or
// renamed into place, until ctx is done. The parent directory is watched so
// editors that replace the file are picked up.
func (b *Bootstrapper) Watch(ctx context.Context) error {
	if b.path == "" {
		return errors.New("bootstrap: no file to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(b.path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", target, err)
	}
	b.log.WithField("file", target).Info("watching bootstrap file")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			b.runSafely(ctx, TriggerWatch)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			b.log.WithError(err).Warn("bootstrap watcher error")
		}
	}
}

// Schedule starts a cron job that re-applies the definition on spec, a
// standard five-field cron expression or descriptor such as "@hourly".
// The caller stops the returned cron.
func (b *Bootstrapper) Schedule(ctx context.Context, spec string) (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		b.runSafely(ctx, TriggerSchedule)
	}); err != nil {
		return nil, fmt.Errorf("invalid bootstrap schedule %q: %w", spec, err)
	}
	c.Start()
	b.log.WithField("schedule", spec).Info("bootstrap reconciliation scheduled")
	return c, nil
}

// runSafely runs in the background; failures are already logged and recorded
func (b *Bootstrapper) runSafely(ctx context.Context, trigger string) {
	defer observability.RecoverPanic(b.log, "bootstrap "+trigger)
	_, _ = b.Run(ctx, trigger)
}

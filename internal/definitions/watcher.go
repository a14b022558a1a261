package definitions

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch hot-reloads definition files in dir until the context ends.
// Reload failures keep the previous definitions and log a warning;
// a broken edit never takes down running agents.
func (r *Registry) Watch(ctx context.Context, dir string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()

		// Editors fire several events per save; coalesce them.
		pending := map[string]fsnotify.Op{}
		var flush <-chan time.Time

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !isYAML(event.Name) {
					continue
				}
				pending[event.Name] |= event.Op
				flush = time.After(200 * time.Millisecond)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("definition watcher error", "error", err)
			case <-flush:
				for path, op := range pending {
					r.applyChange(path, op, logger)
				}
				pending = map[string]fsnotify.Op{}
				flush = nil
			}
		}
	}()
	return nil
}

func (r *Registry) applyChange(path string, op fsnotify.Op, logger *slog.Logger) {
	switch {
	case op.Has(fsnotify.Remove) || op.Has(fsnotify.Rename):
		r.UnloadFile(path)
		logger.Info("agent definitions unloaded", "path", path)
	case op.Has(fsnotify.Write) || op.Has(fsnotify.Create):
		if err := r.LoadFile(path); err != nil {
			logger.Warn("agent definition reload failed, keeping previous", "path", path, "error", err)
			return
		}
		logger.Info("agent definitions reloaded", "path", path)
	}
}

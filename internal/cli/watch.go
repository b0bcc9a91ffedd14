package cli

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// ConfigWatcher reports changes to a single configuration file. It watches
// the containing directory so that editors which replace the file on save
// are still seen.
type ConfigWatcher struct {
	path string
	w    *fsnotify.Watcher
	log  *Logger
}

// NewConfigWatcher starts watching path.
func NewConfigWatcher(path string, log *Logger) (*ConfigWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, err
	}

	if log == nil {
		log = NewLogger(nil, false, false)
	}
	return &ConfigWatcher{path: abs, w: w, log: log}, nil
}

// Path returns the absolute path being watched
func (cw *ConfigWatcher) Path() string { return cw.path }

// Run calls onChange after every create, write or rename of the watched file
// until ctx is done or the watcher is closed. Watcher errors are logged and
// do not stop the loop.
func (cw *ConfigWatcher) Run(ctx context.Context, onChange func(path string)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-cw.w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != cw.path {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			cw.log.Debug("config %s changed (%s)", cw.path, ev.Op)
			onChange(cw.path)
		case err, ok := <-cw.w.Errors:
			if !ok {
				return nil
			}
			cw.log.Warn("config watcher: %v", err)
		}
	}
}

// Close stops the watcher
func (cw *ConfigWatcher) Close() error { return cw.w.Close() }

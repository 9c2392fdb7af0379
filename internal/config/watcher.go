package config

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reloads the config when the file changes on disk and hands the
// new config to a callback. Editors often replace the file rather than
// write in place, so the parent directory is watched instead of the file.
type Watcher struct {
	loader   *Loader
	logger   zerolog.Logger
	onChange func(*Config)
	fw       *fsnotify.Watcher
	done     chan struct{}
}

// NewWatcher creates a watcher. onChange runs on the watcher goroutine
// with each successfully reloaded config.
func NewWatcher(loader *Loader, logger zerolog.Logger, onChange func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fs watcher: %w", err)
	}
	return &Watcher{
		loader:   loader,
		logger:   logger,
		onChange: onChange,
		fw:       fw,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. Non-blocking.
func (w *Watcher) Start() error {
	path, err := w.loader.Path()
	if err != nil {
		return err
	}
	if err := w.fw.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	go w.run(path)
	return nil
}

func (w *Watcher) run(path string) {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if event.Name != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			cfg, err := w.loader.Load()
			if err != nil {
				w.logger.Warn().Err(err).Msg("Config changed but reload failed")
				continue
			}
			w.logger.Info().Str("path", path).Msg("Config reloaded")
			w.onChange(cfg)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("Config watcher error")
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fw.Close()
}

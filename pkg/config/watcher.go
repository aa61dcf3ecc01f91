package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"localdns/pkg/logging"
)

// Watcher watches the configuration file for changes and reloads it
type Watcher struct {
	path     string
	cfg      *Config
	mu       sync.RWMutex
	watcher  *fsnotify.Watcher
	onChange func(*Config)
	logger   *logging.Logger
}

// NewWatcher creates a new configuration file watcher
func NewWatcher(path string, logger *logging.Logger) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial config: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch config file: %w", err)
	}

	return &Watcher{
		path:    path,
		cfg:     cfg,
		watcher: watcher,
		logger:  logger,
	}, nil
}

// Config returns the current configuration (thread-safe)
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}

// OnChange registers a callback to be called when the config changes
func (w *Watcher) OnChange(fn func(*Config)) {
	w.onChange = fn
}

// Start begins watching the configuration file for changes.
// It blocks until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	w.logger.Info("Starting config file watcher", "path", w.path)

	// Debounce rapid file changes (editors often write multiple times)
	debounceTimer := time.NewTimer(0)
	debounceTimer.Stop()
	const debounceDelay = 100 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Config watcher stopped")
			return w.watcher.Close()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				debounceTimer.Reset(debounceDelay)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error("Config watcher error", "error", err)

		case <-debounceTimer.C:
			if err := w.reload(); err != nil {
				w.logger.Error("Failed to reload config", "error", err)
			} else {
				w.logger.Info("Config reloaded")
				if w.onChange != nil {
					w.onChange(w.Config())
				}
			}
		}
	}
}

func (w *Watcher) reload() error {
	newCfg, err := Load(w.path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	w.mu.Lock()
	w.cfg = newCfg
	w.mu.Unlock()

	return nil
}

// Close stops the watcher
func (w *Watcher) Close() error {
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}

package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/moolen/lattice/internal/logging"
)

// DefaultDebounce coalesces the burst of events an editor save produces.
const DefaultDebounce = 500 * time.Millisecond

// ReloadCallback is called with every successfully reloaded configuration.
// If it returns an error, the error is logged and the watcher keeps watching.
type ReloadCallback func(cfg *Config) error

// WatcherConfig holds configuration for the Watcher.
type WatcherConfig struct {
	// FilePath is the config file to watch
	FilePath string

	// Debounce is the quiet period after the last event before reloading.
	// Default: 500ms
	Debounce time.Duration
}

// Watcher watches the node config file and reloads it on change.
//
// Invalid configs during reload are logged and skipped; the previous
// configuration stays in effect.
type Watcher struct {
	config   WatcherConfig
	callback ReloadCallback
	logger   *logging.Logger
	ready    chan struct{}
	mu       sync.Mutex

	debounceTimer *time.Timer
}

// NewWatcher creates a watcher for the given config file.
func NewWatcher(config WatcherConfig, callback ReloadCallback) (*Watcher, error) {
	if config.FilePath == "" {
		return nil, fmt.Errorf("FilePath cannot be empty")
	}

	if callback == nil {
		return nil, fmt.Errorf("callback cannot be nil")
	}

	if config.Debounce <= 0 {
		config.Debounce = DefaultDebounce
	}

	return &Watcher{
		config:   config,
		callback: callback,
		logger:   logging.GetLogger("config.watcher"),
		ready:    make(chan struct{}),
	}, nil
}

// Ready is closed once the file is being watched.
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

func (w *Watcher) signalReady() {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.ready:
	default:
		close(w.ready)
	}
}

// Run watches the file until ctx is cancelled. It returns an error only if the
// watch cannot be established.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.config.FilePath); err != nil {
		return fmt.Errorf("failed to watch file %s: %w", w.config.FilePath, err)
	}

	w.logger.Info("Watching %s for changes (debounce: %s)", w.config.FilePath, w.config.Debounce)
	w.signalReady()

	defer w.stopTimer()

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("Context cancelled, stopping")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}

			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}

			// Atomic writes replace the inode; the watch must be re-added
			if event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				time.Sleep(50 * time.Millisecond)
				if err := watcher.Add(w.config.FilePath); err != nil {
					w.logger.Warn("Failed to re-add watch after %s: %v", event.Op, err)
				}
			}
			w.handleFileChange(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Warn("Watcher error: %v", err)
		}
	}
}

// handleFileChange resets the debounce timer on each event.
func (w *Watcher) handleFileChange(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}

	w.debounceTimer = time.AfterFunc(w.config.Debounce, func() {
		w.reload(ctx)
	})
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
}

func (w *Watcher) reload(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	w.logger.Info("Reloading config from %s", w.config.FilePath)

	cfg, err := Load(w.config.FilePath)
	if err != nil {
		w.logger.Warn("Failed to load config (keeping previous config): %v", err)
		return
	}

	if err := w.callback(cfg); err != nil {
		w.logger.Warn("Reload callback error (continuing to watch): %v", err)
		return
	}

	w.logger.Info("Config reloaded successfully")
}

package config

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func startWatcher(t *testing.T, path string, callback ReloadCallback) {
	t.Helper()

	w, err := NewWatcher(WatcherConfig{FilePath: path, Debounce: 100 * time.Millisecond}, callback)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case <-w.Ready():
	case err := <-done:
		t.Fatalf("Run returned early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for watcher to initialize")
	}

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run returned error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("timeout waiting for watcher to stop")
		}
	})
}

func TestNewWatcherValidation(t *testing.T) {
	if _, err := NewWatcher(WatcherConfig{}, func(*Config) error { return nil }); err == nil {
		t.Error("expected error for empty FilePath")
	}
	if _, err := NewWatcher(WatcherConfig{FilePath: "lattice.yaml"}, nil); err == nil {
		t.Error("expected error for nil callback")
	}

	w, err := NewWatcher(WatcherConfig{FilePath: "lattice.yaml"}, func(*Config) error { return nil })
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	if w.config.Debounce != DefaultDebounce {
		t.Errorf("expected default debounce, got %s", w.config.Debounce)
	}
}

func TestWatcherDetectsFileChange(t *testing.T) {
	path := createTempConfigFile(t, "log:\n  level: info\n")

	var mu sync.Mutex
	var last *Config
	var calls atomic.Int32

	startWatcher(t, path, func(cfg *Config) error {
		mu.Lock()
		last = cfg
		mu.Unlock()
		calls.Add(1)
		return nil
	})

	if err := os.WriteFile(path, []byte("log:\n  level: debug\n"), 0600); err != nil {
		t.Fatalf("failed to modify config file: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if last == nil {
		t.Fatal("callback was not called after file change")
	}
	if last.Log.Level != "debug" {
		t.Errorf("expected reloaded level debug, got %q", last.Log.Level)
	}
}

func TestWatcherDebouncing(t *testing.T) {
	path := createTempConfigFile(t, "log:\n  level: info\n")

	var calls atomic.Int32
	startWatcher(t, path, func(cfg *Config) error {
		calls.Add(1)
		return nil
	})

	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte("log:\n  level: warn\n"), 0600); err != nil {
			t.Fatalf("failed to write config file: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	time.Sleep(400 * time.Millisecond)

	if got := calls.Load(); got != 1 {
		t.Errorf("expected 1 debounced callback, got %d", got)
	}
}

func TestWatcherSkipsInvalidConfig(t *testing.T) {
	path := createTempConfigFile(t, "log:\n  level: info\n")

	var calls atomic.Int32
	startWatcher(t, path, func(cfg *Config) error {
		calls.Add(1)
		return nil
	})

	if err := os.WriteFile(path, []byte("node:\n  role: observer\n"), 0600); err != nil {
		t.Fatalf("failed to write invalid config: %v", err)
	}
	time.Sleep(300 * time.Millisecond)

	if got := calls.Load(); got != 0 {
		t.Errorf("expected callback NOT to be called for invalid config, got %d calls", got)
	}

	if err := os.WriteFile(path, []byte("log:\n  level: error\n"), 0600); err != nil {
		t.Fatalf("failed to write valid config: %v", err)
	}
	time.Sleep(300 * time.Millisecond)

	if got := calls.Load(); got != 1 {
		t.Errorf("expected 1 callback after recovery, got %d", got)
	}
}

func TestWatcherFollowsAtomicWrites(t *testing.T) {
	path := createTempConfigFile(t, "log:\n  level: info\n")

	var mu sync.Mutex
	var levels []string
	startWatcher(t, path, func(cfg *Config) error {
		mu.Lock()
		levels = append(levels, cfg.Log.Level)
		mu.Unlock()
		return nil
	})

	for _, level := range []string{"debug", "warn"} {
		cfg := Default()
		cfg.Log.Level = level
		if err := Write(path, cfg); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		time.Sleep(400 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(levels) == 0 || levels[len(levels)-1] != "warn" {
		t.Errorf("expected last reload to see level warn, got %v", levels)
	}
}

func TestWatcherRunFailsForMissingFile(t *testing.T) {
	w, err := NewWatcher(WatcherConfig{FilePath: "/nonexistent/lattice.yaml"}, func(*Config) error { return nil })
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	if err := w.Run(context.Background()); err == nil {
		t.Error("expected error watching a missing file")
	}
}

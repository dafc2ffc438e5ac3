package node

import (
	"context"
	"fmt"

	"github.com/moolen/lattice/internal/config"
	"github.com/moolen/lattice/internal/lifecycle"
	"github.com/moolen/lattice/internal/logging"
)

// ConfigWatcherName is the name of the config watcher in the node graph.
const ConfigWatcherName = "config-watcher"

// ApplyLogConfig sets the global and per-package log levels from cfg.
func ApplyLogConfig(cfg *config.Config) error {
	if cfg.Log.Level != "" {
		if err := logging.SetLevel(cfg.Log.Level); err != nil {
			return fmt.Errorf("log.level: %w", err)
		}
	}
	if err := logging.SetPackageLogLevels(cfg.Log.Packages); err != nil {
		return fmt.Errorf("log.packages: %w", err)
	}
	return nil
}

// ConfigWatcherDescriptor watches path and applies the log section of every
// valid revision. Other settings take effect on restart.
func ConfigWatcherDescriptor(path string) lifecycle.Descriptor {
	return lifecycle.Descriptor{
		Name: ConfigWatcherName,
		Start: func(ctx context.Context, sc *lifecycle.StartContext) (lifecycle.Handle, []lifecycle.Task, error) {
			w, err := config.NewWatcher(config.WatcherConfig{FilePath: path}, func(cfg *config.Config) error {
				if err := ApplyLogConfig(cfg); err != nil {
					return err
				}
				sc.Logger.Info("Applied log configuration from %s (level %s)", path, logging.Level())
				return nil
			})
			if err != nil {
				return nil, nil, err
			}

			return w, []lifecycle.Task{{
				Name:        "watch",
				Criticality: lifecycle.BestEffort,
				Run:         w.Run,
			}}, nil
		},
	}
}

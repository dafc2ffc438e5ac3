package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/moolen/lattice/internal/config"
	"github.com/moolen/lattice/internal/logging"
	"github.com/moolen/lattice/internal/version"
	"github.com/spf13/cobra"
)

var (
	logLevelFlags []string // Supports multiple --log-level flags
)

var rootCmd = &cobra.Command{
	Use:   version.Name,
	Short: "Lattice - a supervised blockchain node",
	Long: `Lattice runs a blockchain node as a graph of supervised components:
chain database, peer network, transaction pool, block authorship, RPC,
telemetry and off-chain workers.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and prints the error, if any, to stderr.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return err
}

func init() {
	// Supports per-package log levels: --log-level debug --log-level network=debug
	rootCmd.PersistentFlags().StringSliceVar(&logLevelFlags, "log-level",
		[]string{"info"},
		"Log level for packages. Use 'default=level' for default, or 'package.name=level' for per-package.\n"+
			"Examples: --log-level debug (all), --log-level network=debug --log-level lifecycle.*=warn")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(graphCmd)
}

// setupLog initializes logging from the config file's log section, LOG_LEVEL_*
// environment variables and --log-level flags.
// Priority: CLI flags > Environment variables > config file
func setupLog(cmd *cobra.Command, cfg *config.Config) error {
	var flags []string
	flagsSet := cmd.Flags().Changed("log-level")
	if flagsSet {
		flags = logLevelFlags
	}
	defaultLevel, packageLevels, err := parseLogLevelFlags(flags)
	if err != nil {
		return err
	}

	_, envDefault := os.LookupEnv("LOG_LEVEL_DEFAULT")
	if !flagsSet && !envDefault && cfg != nil && cfg.Log.Level != "" {
		defaultLevel = cfg.Log.Level
	}

	merged := make(map[string]string)
	if cfg != nil {
		for pkg, level := range cfg.Log.Packages {
			merged[pkg] = level
		}
	}
	for pkg, level := range packageLevels {
		merged[pkg] = level
	}

	return logging.Initialize(defaultLevel, merged)
}

// parseLogLevelFlags parses CLI flags and environment variables
// Priority: CLI flags > Environment variables
//
// CLI format: ["debug"], ["default=info", "network.peer=debug"], or ["info"]
// Env vars: LOG_LEVEL_NETWORK_PEER=debug (package name uppercased, dots to underscores)
//
// Returns: (defaultLevel, packageLevels map, error)
func parseLogLevelFlags(flags []string) (string, map[string]string, error) {
	result := make(map[string]string)

	// Environment variables first (lower priority)
	for _, envPair := range os.Environ() {
		if strings.HasPrefix(envPair, "LOG_LEVEL_") {
			parts := strings.SplitN(envPair, "=", 2)
			if len(parts) != 2 {
				continue
			}
			result[convertEnvKeyToPackageName(parts[0])] = parts[1]
		}
	}

	for _, flag := range flags {
		if !strings.Contains(flag, "=") {
			result["default"] = flag
			continue
		}
		parts := strings.SplitN(flag, "=", 2)
		result[parts[0]] = parts[1]
	}

	defaultLevel := "info"
	if level, exists := result["default"]; exists {
		defaultLevel = level
		delete(result, "default")
	}

	if err := validateLogLevel(defaultLevel); err != nil {
		return "", nil, err
	}

	for pkg, level := range result {
		if err := validateLogLevel(level); err != nil {
			return "", nil, fmt.Errorf("invalid log level for package %q: %v", pkg, err)
		}
	}

	return defaultLevel, result, nil
}

// convertEnvKeyToPackageName converts LOG_LEVEL_NETWORK_PEER -> network.peer
func convertEnvKeyToPackageName(envKey string) string {
	name := strings.TrimPrefix(envKey, "LOG_LEVEL_")
	return strings.ToLower(strings.ReplaceAll(name, "_", "."))
}

// validateLogLevel checks if a level string is valid
func validateLogLevel(level string) error {
	if _, err := logging.ParseLevel(level); err != nil {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error, fatal)", level)
	}
	return nil
}

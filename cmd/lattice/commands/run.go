package commands

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/moolen/lattice/internal/config"
	"github.com/moolen/lattice/internal/node"
	"github.com/spf13/cobra"
)

var (
	configPath       string
	nodeName         string
	nodeRole         string
	databasePath     string
	listenAddrs      []string
	bootnodes        []string
	rpcListenAddrs   []string
	telemetryURLs    []string
	tracingEnabled   bool
	tracingEndpoint  string
	shutdownGrace    time.Duration
	criticalityFlags []string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a lattice node",
	Long: `Run a lattice node until SIGINT or SIGTERM, or until a critical task fails.
Settings come from the config file (if any) with command line flags applied on top.

Exit codes: 0 clean stop, 1 error, 2 invalid component graph, 3 component start
failure, 4 critical task failure, 5 shutdown timeout.`,
	Args: cobra.NoArgs,
	RunE: runNode,
}

func init() {
	addRunFlags(runCmd)
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the node config file (YAML)")
	cmd.Flags().StringVar(&nodeName, "name", "", "Node name reported to telemetry")
	cmd.Flags().StringVar(&nodeRole, "role", "", "Node role: authority, full or light")
	cmd.Flags().StringVar(&databasePath, "db-path", "", "Path to the chain database file")
	cmd.Flags().StringSliceVar(&listenAddrs, "listen", nil, "Peer listen addresses (host:port)")
	cmd.Flags().StringSliceVar(&bootnodes, "bootnodes", nil, "Peers to dial on startup (host:port)")
	cmd.Flags().StringSliceVar(&rpcListenAddrs, "rpc-listen", nil, "RPC listen addresses (host:port)")
	cmd.Flags().StringSliceVar(&telemetryURLs, "telemetry-url", nil, "Telemetry websocket endpoints (ws:// or wss://)")
	cmd.Flags().BoolVar(&tracingEnabled, "tracing-enabled", false, "Enable OpenTelemetry tracing (default: false)")
	cmd.Flags().StringVar(&tracingEndpoint, "tracing-endpoint", "", "OTLP gRPC endpoint for traces (e.g., otel-collector:4317)")
	cmd.Flags().DurationVar(&shutdownGrace, "grace-period", 0, "Time allowed for tasks to exit on shutdown")
	cmd.Flags().StringSliceVar(&criticalityFlags, "criticality", nil,
		"Criticality overrides as component[/task]=critical|best-effort, e.g. --criticality rpc=critical")
}

func runNode(cmd *cobra.Command, _ []string) error {
	cfg, err := loadNodeConfig(cmd)
	if err != nil {
		return err
	}

	if err := setupLog(cmd, cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return node.Run(ctx, cfg, node.Options{})
}

// loadNodeConfig loads the config file (or defaults) and applies the flags
// that were set explicitly.
func loadNodeConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("name") {
		cfg.Node.Name = nodeName
	}
	if flags.Changed("role") {
		cfg.Node.Role = config.Role(nodeRole)
	}
	if flags.Changed("db-path") {
		cfg.Database.Path = databasePath
	}
	if flags.Changed("listen") {
		cfg.Network.Listen = listenAddrs
	}
	if flags.Changed("bootnodes") {
		cfg.Network.Bootnodes = bootnodes
	}
	if flags.Changed("rpc-listen") {
		cfg.RPC.Listen = rpcListenAddrs
	}
	if flags.Changed("telemetry-url") {
		cfg.Telemetry.Endpoints = telemetryURLs
	}
	if flags.Changed("tracing-enabled") {
		cfg.Tracing.Enabled = tracingEnabled
	}
	if flags.Changed("tracing-endpoint") {
		cfg.Tracing.Endpoint = tracingEndpoint
	}
	if flags.Changed("grace-period") {
		cfg.Shutdown.GracePeriod = config.Duration(shutdownGrace)
	}
	if flags.Changed("criticality") {
		if cfg.Criticality == nil {
			cfg.Criticality = make(map[string]string)
		}
		for _, kv := range criticalityFlags {
			key, value, ok := strings.Cut(kv, "=")
			if !ok || key == "" || value == "" {
				return nil, config.NewConfigError("--criticality expects component[/task]=level, got " + kv)
			}
			cfg.Criticality[key] = value
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

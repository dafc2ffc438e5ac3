// Package node assembles the lattice components into a service graph and runs it.
package node

import (
	"context"
	"fmt"

	"github.com/moolen/lattice/internal/chain"
	"github.com/moolen/lattice/internal/config"
	"github.com/moolen/lattice/internal/consensus"
	"github.com/moolen/lattice/internal/lifecycle"
	"github.com/moolen/lattice/internal/logging"
	"github.com/moolen/lattice/internal/network"
	"github.com/moolen/lattice/internal/offchain"
	"github.com/moolen/lattice/internal/rpc"
	"github.com/moolen/lattice/internal/telemetry"
	"github.com/moolen/lattice/internal/tracing"
	"github.com/moolen/lattice/internal/txpool"
	"github.com/prometheus/client_golang/prometheus"
)

// Options customizes how a node is assembled.
type Options struct {
	// Tracing options for the tracing component (e.g. an in-memory exporter).
	Tracing []tracing.Option
	// Workers are off-chain workers run next to the heartbeat.
	Workers []offchain.Worker
	// Registry receives every component's metrics; a new one is created when nil.
	Registry *prometheus.Registry
	// InstanceID overrides the generated service instance id.
	InstanceID string
	// OnBuilt is called with the running service before Run waits for exit.
	OnBuilt func(*lifecycle.Service)
}

// NewGraph declares the components of a node for cfg. Consensus is only
// included for authority nodes, off-chain workers are skipped for light nodes
// and the config watcher only runs when cfg was loaded from a file.
func NewGraph(cfg *config.Config, opts Options) (*lifecycle.Graph, error) {
	g := lifecycle.NewGraph()

	descriptors := []lifecycle.Descriptor{tracing.Descriptor(opts.Tracing...)}
	if cfg.Path != "" {
		descriptors = append(descriptors, ConfigWatcherDescriptor(cfg.Path))
	}
	descriptors = append(descriptors,
		chain.Descriptor(),
		network.Descriptor(),
		txpool.Descriptor(),
	)
	if cfg.Node.Role == config.RoleAuthority {
		descriptors = append(descriptors, consensus.Descriptor())
	}
	descriptors = append(descriptors,
		rpc.Descriptor(),
		telemetry.Descriptor(),
	)
	if cfg.Node.Role != config.RoleLight {
		descriptors = append(descriptors, offchain.Descriptor(opts.Workers...))
	}

	for _, d := range descriptors {
		if err := g.Add(d); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Build assembles and starts a node.
func Build(ctx context.Context, cfg *config.Config, opts Options) (*lifecycle.Service, error) {
	g, err := NewGraph(cfg, opts)
	if err != nil {
		return nil, err
	}

	policy, err := lifecycle.ParsePolicy(cfg.Criticality)
	if err != nil {
		return nil, fmt.Errorf("invalid criticality overrides: %w", err)
	}

	buildOpts := []lifecycle.Option{lifecycle.WithPolicy(policy)}
	if opts.Registry != nil {
		buildOpts = append(buildOpts, lifecycle.WithRegistry(opts.Registry))
	}
	if opts.InstanceID != "" {
		buildOpts = append(buildOpts, lifecycle.WithInstanceID(opts.InstanceID))
	}

	return lifecycle.Build(ctx, g, cfg, buildOpts...)
}

// Run starts a node and blocks until it exits on its own or ctx is cancelled.
// It then stops the node within shutdown.grace_period and returns the error
// classifying the shutdown, nil for a clean stop.
func Run(ctx context.Context, cfg *config.Config, opts Options) error {
	logger := logging.GetLogger("node")

	svc, err := Build(ctx, cfg, opts)
	if err != nil {
		return err
	}
	logger.InfoWithFields("Node running",
		logging.Field("name", cfg.Node.Name),
		logging.Field("role", string(cfg.Node.Role)),
		logging.Field("instance", svc.InstanceID()),
		logging.Field("components", len(svc.Components())))

	if opts.OnBuilt != nil {
		opts.OnBuilt(svc)
	}

	select {
	case <-svc.Done():
		logger.Warn("Node exiting: %v", svc.WaitForExit(context.Background()))
	case <-ctx.Done():
		logger.Info("Shutdown requested")
	}

	report := svc.StopWithTimeout(cfg.Shutdown.GracePeriod.Duration())
	logReport(logger, report)
	return report.Err()
}

func logReport(logger *logging.Logger, report *lifecycle.ShutdownReport) {
	if len(report.Abandoned) > 0 {
		logger.Error("Tasks still running after grace period: %v", report.Abandoned)
	}
	for _, err := range report.Secondary {
		logger.Warn("Shutdown: %v", err)
	}
	if report.Cause != nil {
		logger.Error("Node stopped after failure in %s: %v", report.Duration, report.Cause)
		return
	}
	logger.Info("Node stopped cleanly in %s (%d task(s) completed)", report.Duration, len(report.Completed))
}

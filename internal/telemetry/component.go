package telemetry

import (
	"context"

	"github.com/moolen/lattice/internal/chain"
	"github.com/moolen/lattice/internal/lifecycle"
	"github.com/moolen/lattice/internal/network"
	"github.com/moolen/lattice/internal/txpool"
)

// ComponentName is the name of the telemetry reporter in the node graph.
const ComponentName = "telemetry"

// Descriptor declares the telemetry reporter. Without endpoints it starts no
// tasks.
func Descriptor() lifecycle.Descriptor {
	return lifecycle.Descriptor{
		Name:      ComponentName,
		DependsOn: []string{chain.ComponentName, network.ComponentName, txpool.ComponentName},
		Start: func(ctx context.Context, sc *lifecycle.StartContext) (lifecycle.Handle, []lifecycle.Task, error) {
			client, err := lifecycle.Dep[*chain.Client](sc, chain.ComponentName)
			if err != nil {
				return nil, nil, err
			}
			nw, err := lifecycle.Dep[*network.Network](sc, network.ComponentName)
			if err != nil {
				return nil, nil, err
			}
			pool, err := lifecycle.Dep[*txpool.Pool](sc, txpool.ComponentName)
			if err != nil {
				return nil, nil, err
			}

			tc := sc.Config.Telemetry
			r := New(Options{
				Endpoints:  tc.Endpoints,
				Interval:   tc.Interval.Duration(),
				Name:       sc.Config.Node.Name,
				Role:       string(sc.Config.Node.Role),
				InstanceID: sc.InstanceID,
			}, client, nw, pool)

			if len(tc.Endpoints) == 0 {
				sc.Logger.Info("No telemetry endpoints configured")
				return r, nil, nil
			}
			return r, []lifecycle.Task{{
				Name:        "reporter",
				Criticality: lifecycle.BestEffort,
				Run:         r.Run,
			}}, nil
		},
	}
}

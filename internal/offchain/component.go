package offchain

import (
	"context"

	"github.com/moolen/lattice/internal/chain"
	"github.com/moolen/lattice/internal/lifecycle"
	"github.com/moolen/lattice/internal/txpool"
)

// ComponentName is the name of the off-chain worker dispatcher in the node graph.
const ComponentName = "offchain"

// Descriptor declares the off-chain dispatcher with the heartbeat worker plus
// extra. When offchain.enabled is false the component starts no tasks.
func Descriptor(extra ...Worker) lifecycle.Descriptor {
	return lifecycle.Descriptor{
		Name:      ComponentName,
		DependsOn: []string{chain.ComponentName, txpool.ComponentName},
		Start: func(ctx context.Context, sc *lifecycle.StartContext) (lifecycle.Handle, []lifecycle.Task, error) {
			client, err := lifecycle.Dep[*chain.Client](sc, chain.ComponentName)
			if err != nil {
				return nil, nil, err
			}
			pool, err := lifecycle.Dep[*txpool.Pool](sc, txpool.ComponentName)
			if err != nil {
				return nil, nil, err
			}

			oc := sc.Config.Offchain
			workers := append([]Worker{&Heartbeat{
				Node:  sc.Config.Node.Name,
				Every: uint64(oc.HeartbeatEvery), //nolint:gosec // validated non-negative
				Pool:  pool,
			}}, extra...)

			d := NewDispatcher(client, oc.Concurrency, workers...)
			if !oc.Enabled {
				sc.Logger.Info("Off-chain workers disabled")
				return d, nil, nil
			}
			if sc.Registry != nil {
				d.Register(sc.Registry)
			}

			return d, []lifecycle.Task{{
				Name:        "dispatcher",
				Criticality: lifecycle.BestEffort,
				Run:         d.Run,
			}}, nil
		},
	}
}

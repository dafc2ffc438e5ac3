package rpc

import (
	"context"

	"github.com/moolen/lattice/internal/chain"
	"github.com/moolen/lattice/internal/lifecycle"
	"github.com/moolen/lattice/internal/network"
	"github.com/moolen/lattice/internal/txpool"
	"github.com/prometheus/client_golang/prometheus"
)

// ComponentName is the name of the RPC server in the node graph.
const ComponentName = "rpc"

// Descriptor declares the RPC server. Listeners are bound during start; each
// is served by a best-effort http task.
func Descriptor() lifecycle.Descriptor {
	return lifecycle.Descriptor{
		Name:      ComponentName,
		DependsOn: []string{chain.ComponentName, txpool.ComponentName, network.ComponentName},
		Start: func(ctx context.Context, sc *lifecycle.StartContext) (lifecycle.Handle, []lifecycle.Task, error) {
			client, err := lifecycle.Dep[*chain.Client](sc, chain.ComponentName)
			if err != nil {
				return nil, nil, err
			}
			pool, err := lifecycle.Dep[*txpool.Pool](sc, txpool.ComponentName)
			if err != nil {
				return nil, nil, err
			}
			nw, err := lifecycle.Dep[*network.Network](sc, network.ComponentName)
			if err != nil {
				return nil, nil, err
			}

			var gatherer prometheus.Gatherer
			if sc.Registry != nil {
				gatherer = sc.Registry
			}
			s := NewServer(client, pool, nw, gatherer)
			if sc.Registry != nil {
				s.Register(sc.Registry)
			}
			if err := s.Listen(sc.Config.RPC.Listen); err != nil {
				return nil, nil, err
			}
			return s, s.Tasks(), nil
		},
	}
}

package network

import (
	"context"

	"github.com/moolen/lattice/internal/chain"
	"github.com/moolen/lattice/internal/lifecycle"
)

// ComponentName is the name of the network in the node graph.
const ComponentName = "network"

// Descriptor declares the network component. It depends on the chain client
// and binds its listeners during start, so an address in use fails the build.
func Descriptor() lifecycle.Descriptor {
	return lifecycle.Descriptor{
		Name:      ComponentName,
		DependsOn: []string{chain.ComponentName},
		Start: func(ctx context.Context, sc *lifecycle.StartContext) (lifecycle.Handle, []lifecycle.Task, error) {
			client, err := lifecycle.Dep[*chain.Client](sc, chain.ComponentName)
			if err != nil {
				return nil, nil, err
			}

			nc := sc.Config.Network
			n, err := New(client, Options{
				Listen:         nc.Listen,
				Bootnodes:      nc.Bootnodes,
				MinPeerVersion: nc.MinPeerVersion,
				MaxPeers:       nc.MaxPeers,
			}, sc.Spawner)
			if err != nil {
				return nil, nil, err
			}
			if sc.Registry != nil {
				NewMetrics(sc.Registry, n)
			}
			return n, n.Tasks(), nil
		},
	}
}

package txpool

import (
	"context"

	"github.com/moolen/lattice/internal/chain"
	"github.com/moolen/lattice/internal/lifecycle"
)

// ComponentName is the name of the transaction pool in the node graph.
const ComponentName = "txpool"

// Descriptor declares the transaction pool. Its handle is the *Pool.
func Descriptor() lifecycle.Descriptor {
	return lifecycle.Descriptor{
		Name:      ComponentName,
		DependsOn: []string{chain.ComponentName},
		Start: func(ctx context.Context, sc *lifecycle.StartContext) (lifecycle.Handle, []lifecycle.Task, error) {
			client, err := lifecycle.Dep[*chain.Client](sc, chain.ComponentName)
			if err != nil {
				return nil, nil, err
			}

			tc := sc.Config.TxPool
			p := New(tc.Capacity, tc.MaxAge.Duration())
			if sc.Registry != nil {
				NewMetrics(sc.Registry, p)
			}

			return p, []lifecycle.Task{{
				Name:        "maintenance",
				Criticality: lifecycle.BestEffort,
				Run:         func(ctx context.Context) error { return p.Maintain(ctx, client) },
			}}, nil
		},
	}
}

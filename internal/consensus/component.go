package consensus

import (
	"context"

	"github.com/moolen/lattice/internal/chain"
	"github.com/moolen/lattice/internal/lifecycle"
	"github.com/moolen/lattice/internal/txpool"
)

// ComponentName is the name of block authorship in the node graph.
const ComponentName = "consensus"

// Descriptor declares block authorship. Only authority nodes include it.
func Descriptor() lifecycle.Descriptor {
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

			cc := sc.Config.Consensus
			a := New(client, pool, sc.Config.Node.Name, cc.BlockTime.Duration(), cc.MaxBlockTxs)
			if sc.Registry != nil {
				a.Register(sc.Registry)
			}

			return a, []lifecycle.Task{{
				Name:        "authorship",
				Criticality: lifecycle.Critical,
				Run:         a.Run,
			}}, nil
		},
	}
}

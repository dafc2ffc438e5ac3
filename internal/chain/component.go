package chain

import (
	"context"

	"github.com/moolen/lattice/internal/lifecycle"
)

// ComponentName is the name of the chain client in the node graph.
const ComponentName = "client"

// Descriptor declares the chain client. Its handle is the *Client; the
// import-queue task is the only writer of the database.
func Descriptor() lifecycle.Descriptor {
	return lifecycle.Descriptor{
		Name: ComponentName,
		Start: func(ctx context.Context, sc *lifecycle.StartContext) (lifecycle.Handle, []lifecycle.Task, error) {
			db := sc.Config.Database
			c, err := Open(Options{Path: db.Path, CacheBlocks: db.CacheBlocks})
			if err != nil {
				return nil, nil, err
			}
			if sc.Registry != nil {
				NewMetrics(sc.Registry, c)
			}

			return c, []lifecycle.Task{{
				Name:        "import-queue",
				Criticality: lifecycle.Critical,
				Run:         c.RunImportQueue,
			}}, nil
		},
	}
}

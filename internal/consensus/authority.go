package consensus

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/moolen/lattice/internal/chain"
	"github.com/moolen/lattice/internal/logging"
	"github.com/moolen/lattice/internal/txpool"
	"github.com/prometheus/client_golang/prometheus"
)

// Authority authors blocks on a fixed schedule from pooled transactions.
type Authority struct {
	client    *chain.Client
	pool      *txpool.Pool
	name      string
	blockTime time.Duration
	maxTxs    int
	now       func() time.Time
	logger    *logging.Logger

	authored atomic.Uint64
}

// New creates an authority signing blocks as name.
func New(client *chain.Client, pool *txpool.Pool, name string, blockTime time.Duration, maxTxs int) *Authority {
	return &Authority{
		client:    client,
		pool:      pool,
		name:      name,
		blockTime: blockTime,
		maxTxs:    maxTxs,
		now:       time.Now,
		logger:    logging.GetLogger("consensus"),
	}
}

// Register adds the authored-blocks counter to reg.
func (a *Authority) Register(reg prometheus.Registerer) {
	reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "lattice_consensus_blocks_authored_total",
		Help: "Total number of blocks authored by this node",
	}, func() float64 { return float64(a.authored.Load()) }))
}

// Authored returns the number of blocks authored since start.
func (a *Authority) Authored() uint64 {
	return a.authored.Load()
}

// Run authors one block per block time until ctx is cancelled. Losing the
// chain client ends the task with an error.
func (a *Authority) Run(ctx context.Context) error {
	a.logger.Info("Authoring blocks every %s as %s", a.blockTime, a.name)

	ticker := time.NewTicker(a.blockTime)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := a.AuthorBlock(ctx); err != nil {
				if errors.Is(err, chain.ErrClosed) {
					return err
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				a.logger.Warn("Failed to author block: %v", err)
			}
		}
	}
}

// AuthorBlock builds a block on top of the current head from ready
// transactions and imports it.
func (a *Authority) AuthorBlock(ctx context.Context) (*chain.Block, error) {
	parent := a.client.Head()
	txs := a.pool.Ready(a.maxTxs)

	b := chain.NewBlock(parent, txs, a.name, a.now())
	if err := a.client.Import(ctx, b); err != nil {
		return nil, fmt.Errorf("import block #%d: %w", b.Number, err)
	}

	a.pool.Remove(b.TxHashes())
	a.authored.Add(1)

	a.logger.InfoWithFields("Authored block",
		logging.Field("number", b.Number),
		logging.Field("hash", b.Hash.Short()),
		logging.Field("txs", len(txs)))
	return b, nil
}

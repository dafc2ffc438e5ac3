package offchain

import (
	"context"
	"errors"
	"fmt"

	"github.com/moolen/lattice/internal/chain"
	"github.com/moolen/lattice/internal/txpool"
)

// Worker runs off-chain logic for each imported block. OnBlock must return
// promptly once ctx is cancelled.
type Worker interface {
	Name() string
	OnBlock(ctx context.Context, b *chain.Block) error
}

// Submitter is the part of the transaction pool workers may use.
type Submitter interface {
	Submit(tx []byte) (chain.Hash, error)
}

var _ Submitter = (*txpool.Pool)(nil)

// Heartbeat submits a liveness transaction every Every blocks.
type Heartbeat struct {
	Node  string
	Every uint64
	Pool  Submitter
}

// Name returns the worker name.
func (h *Heartbeat) Name() string {
	return "heartbeat"
}

// OnBlock submits "heartbeat:<node>:<number>" when number is a multiple of Every.
func (h *Heartbeat) OnBlock(_ context.Context, b *chain.Block) error {
	if h.Every == 0 || b.Number == 0 || b.Number%h.Every != 0 {
		return nil
	}
	_, err := h.Pool.Submit(HeartbeatTx(h.Node, b.Number))
	if errors.Is(err, txpool.ErrDuplicate) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("submit heartbeat for block #%d: %w", b.Number, err)
	}
	return nil
}

// HeartbeatTx encodes the heartbeat transaction of node at block number.
func HeartbeatTx(node string, number uint64) []byte {
	return []byte(fmt.Sprintf("heartbeat:%s:%d", node, number))
}

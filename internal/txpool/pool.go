package txpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/moolen/lattice/internal/chain"
	"github.com/moolen/lattice/internal/logging"
)

var (
	// ErrEmptyTx is returned when submitting a zero-length transaction.
	ErrEmptyTx = errors.New("empty transaction")
	// ErrDuplicate is returned when the transaction is already pooled.
	ErrDuplicate = errors.New("transaction already in pool")
	// ErrPoolFull is returned when the pool is at capacity.
	ErrPoolFull = errors.New("transaction pool is full")
)

// MaxTxSize is the largest accepted transaction in bytes.
const MaxTxSize = 64 * 1024

type entry struct {
	hash  chain.Hash
	tx    []byte
	added time.Time
}

// Status summarizes the pool.
type Status struct {
	Ready    int `json:"ready"`
	Capacity int `json:"capacity"`
}

// Pool holds transactions waiting to be included in a block, in submission order.
type Pool struct {
	capacity int
	maxAge   time.Duration
	now      func() time.Time
	logger   *logging.Logger
	metrics  *Metrics

	mu      sync.Mutex
	entries map[chain.Hash]*entry
	order   []*entry
}

// New creates a pool holding up to capacity transactions. Entries older than
// maxAge are dropped by Expire; zero disables expiry.
func New(capacity int, maxAge time.Duration) *Pool {
	return &Pool{
		capacity: capacity,
		maxAge:   maxAge,
		now:      time.Now,
		logger:   logging.GetLogger("txpool"),
		entries:  make(map[chain.Hash]*entry),
	}
}

// Submit adds tx to the pool and returns its hash.
func (p *Pool) Submit(tx []byte) (chain.Hash, error) {
	if len(tx) == 0 {
		p.reject("empty")
		return chain.Hash{}, ErrEmptyTx
	}
	if len(tx) > MaxTxSize {
		p.reject("oversized")
		return chain.Hash{}, fmt.Errorf("transaction of %d bytes exceeds limit of %d", len(tx), MaxTxSize)
	}

	hash := chain.HashTx(tx)

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.entries[hash]; ok {
		p.reject("duplicate")
		return hash, ErrDuplicate
	}
	if len(p.entries) >= p.capacity {
		p.reject("full")
		return hash, ErrPoolFull
	}

	e := &entry{hash: hash, tx: append([]byte(nil), tx...), added: p.now()}
	p.entries[hash] = e
	p.order = append(p.order, e)

	if p.metrics != nil {
		p.metrics.Submitted.Inc()
	}
	p.logger.Debug("Accepted transaction %s (%d bytes)", hash.Short(), len(tx))
	return hash, nil
}

func (p *Pool) reject(reason string) {
	if p.metrics != nil {
		p.metrics.Rejected.WithLabelValues(reason).Inc()
	}
}

// Ready returns up to max transactions in submission order. The transactions
// stay pooled until removed.
func (p *Pool) Ready(max int) [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	if max <= 0 || max > len(p.order) {
		max = len(p.order)
	}
	out := make([][]byte, max)
	for i := 0; i < max; i++ {
		out[i] = p.order[i].tx
	}
	return out
}

// Len returns the number of pooled transactions.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Status returns the pool size and capacity.
func (p *Pool) Status() Status {
	return Status{Ready: p.Len(), Capacity: p.capacity}
}

// Remove drops the given transactions and returns how many were pooled.
func (p *Pool) Remove(hashes []chain.Hash) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	removed := 0
	for _, h := range hashes {
		if _, ok := p.entries[h]; ok {
			delete(p.entries, h)
			removed++
		}
	}
	if removed > 0 {
		p.compact()
	}
	return removed
}

// Expire drops entries older than maxAge and returns how many were dropped.
func (p *Pool) Expire() int {
	if p.maxAge <= 0 {
		return 0
	}
	cutoff := p.now().Add(-p.maxAge)

	p.mu.Lock()
	defer p.mu.Unlock()

	expired := 0
	for _, e := range p.order {
		if e.added.After(cutoff) {
			break
		}
		delete(p.entries, e.hash)
		expired++
	}
	if expired > 0 {
		p.compact()
		if p.metrics != nil {
			p.metrics.Expired.Add(float64(expired))
		}
	}
	return expired
}

// compact rebuilds order from entries. Callers hold mu.
func (p *Pool) compact() {
	kept := p.order[:0]
	for _, e := range p.order {
		if _, ok := p.entries[e.hash]; ok {
			kept = append(kept, e)
		}
	}
	for i := len(kept); i < len(p.order); i++ {
		p.order[i] = nil
	}
	p.order = kept
}

// Maintain prunes transactions included in imported blocks and expires old
// entries until ctx is cancelled.
func (p *Pool) Maintain(ctx context.Context, client *chain.Client) error {
	blocks, unsubscribe := client.Subscribe(64)
	defer unsubscribe()

	interval := p.maxAge / 4
	if interval <= 0 || interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b, ok := <-blocks:
			if !ok {
				return nil
			}
			if n := p.Remove(b.TxHashes()); n > 0 {
				p.logger.Debug("Pruned %d transaction(s) included in block #%d", n, b.Number)
			}
		case <-ticker.C:
			if n := p.Expire(); n > 0 {
				p.logger.Info("Expired %d transaction(s) older than %s", n, p.maxAge)
			}
		}
	}
}

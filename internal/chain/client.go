package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/moolen/lattice/internal/logging"
)

var (
	// ErrKnownBlock is returned when importing a block at or below the head.
	ErrKnownBlock = errors.New("block already known")
	// ErrUnknownParent is returned when a block does not extend the head.
	ErrUnknownParent = errors.New("block does not extend the current head")
	// ErrBadHash is returned when a block's hash does not match its contents.
	ErrBadHash = errors.New("block hash mismatch")
	// ErrClosed is returned by Import once the import queue has stopped.
	ErrClosed = errors.New("chain client is closed")
)

// Options configures a Client.
type Options struct {
	// Path is the bbolt database file
	Path string
	// CacheBlocks is the number of blocks kept in the read cache
	CacheBlocks int
	// QueueSize bounds pending imports (default 64)
	QueueSize int
}

type importRequest struct {
	block  *Block
	result chan error
}

// Client is the node's view of the chain. Reads are served from an atomic
// head snapshot, the block cache and the store. All writes go through the
// import queue, drained by a single task.
type Client struct {
	store   *Store
	cache   *BlockCache
	genesis *Block
	head    atomic.Pointer[Block]
	logger  *logging.Logger
	metrics *Metrics

	queue   chan importRequest
	stopped chan struct{} // closed when the import queue exits
	stopMu  sync.Once

	subsMu  sync.Mutex
	subs    map[int]chan *Block
	nextSub int
	closed  bool
}

// Open opens the chain database, writing the genesis block on first use.
func Open(opts Options) (*Client, error) {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}

	cache, err := NewBlockCache(opts.CacheBlocks)
	if err != nil {
		return nil, err
	}

	store, err := OpenStore(opts.Path)
	if err != nil {
		return nil, err
	}

	c := &Client{
		store:   store,
		cache:   cache,
		genesis: GenesisBlock(),
		logger:  logging.GetLogger("chain"),
		queue:   make(chan importRequest, opts.QueueSize),
		stopped: make(chan struct{}),
		subs:    make(map[int]chan *Block),
	}

	if err := c.loadHead(); err != nil {
		store.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) loadHead() error {
	n, ok, err := c.store.Head()
	if err != nil {
		return fmt.Errorf("failed to read head: %w", err)
	}

	if !ok {
		if err := c.store.Put(c.genesis); err != nil {
			return fmt.Errorf("failed to write genesis block: %w", err)
		}
		c.head.Store(c.genesis)
		c.logger.Info("Initialized new chain database at %s (genesis %s)", c.store.Path(), c.genesis.Hash.Short())
		return nil
	}

	stored, err := c.store.Get(0)
	if err != nil {
		return fmt.Errorf("failed to read genesis block: %w", err)
	}
	if stored.Hash != c.genesis.Hash {
		return fmt.Errorf("database genesis %s does not match %s", stored.Hash, c.genesis.Hash)
	}

	head, err := c.store.Get(n)
	if err != nil {
		return fmt.Errorf("failed to read head block %d: %w", n, err)
	}
	c.head.Store(head)
	c.logger.Info("Opened chain database at %s (head #%d %s)", c.store.Path(), head.Number, head.Hash.Short())
	return nil
}

// Head returns the current best block.
func (c *Client) Head() *Block {
	return c.head.Load()
}

// Genesis returns the genesis block.
func (c *Client) Genesis() *Block {
	return c.genesis
}

// BlockByNumber returns block n.
func (c *Client) BlockByNumber(n uint64) (*Block, error) {
	if n > c.Head().Number {
		return nil, ErrBlockNotFound
	}
	if b := c.cache.Get(n); b != nil {
		return b, nil
	}
	b, err := c.store.Get(n)
	if err != nil {
		return nil, err
	}
	c.cache.Put(b)
	return b, nil
}

// CacheStats returns block cache statistics.
func (c *Client) CacheStats() CacheStats {
	return c.cache.Stats()
}

// Import queues b and waits until the import task has applied or rejected it.
func (c *Client) Import(ctx context.Context, b *Block) error {
	req := importRequest{block: b, result: make(chan error, 1)}

	select {
	case c.queue <- req:
	case <-c.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.result:
		return err
	case <-c.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunImportQueue applies queued blocks until ctx is cancelled. It is the
// only writer of the store. A storage failure ends the task with an error.
func (c *Client) RunImportQueue(ctx context.Context) error {
	defer c.stopMu.Do(func() { close(c.stopped) })

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-c.queue:
			err := c.apply(req.block)
			req.result <- err

			var serr *storageError
			if errors.As(err, &serr) {
				return err
			}
		}
	}
}

// storageError marks failures of the database itself, as opposed to invalid blocks.
type storageError struct {
	err error
}

func (e *storageError) Error() string { return e.err.Error() }
func (e *storageError) Unwrap() error { return e.err }

func (c *Client) apply(b *Block) error {
	head := c.Head()

	if b.Number <= head.Number {
		return ErrKnownBlock
	}
	if b.Number != head.Number+1 || b.ParentHash != head.Hash {
		return fmt.Errorf("%w: block #%d parent %s, head #%d %s",
			ErrUnknownParent, b.Number, b.ParentHash.Short(), head.Number, head.Hash.Short())
	}
	if b.ComputeHash() != b.Hash {
		return ErrBadHash
	}

	if err := c.store.Put(b); err != nil {
		return &storageError{err: fmt.Errorf("failed to store block #%d: %w", b.Number, err)}
	}

	c.cache.Put(b)
	c.head.Store(b)
	if c.metrics != nil {
		c.metrics.Head.Set(float64(b.Number))
		c.metrics.Imported.Inc()
	}

	c.logger.DebugWithFields("Imported block",
		logging.Field("number", b.Number),
		logging.Field("hash", b.Hash.Short()),
		logging.Field("txs", len(b.Txs)))

	c.broadcast(b)
	return nil
}

// Subscribe returns a channel receiving every imported block. Slow readers
// miss blocks rather than stall imports. The returned function unsubscribes.
func (c *Client) Subscribe(buffer int) (<-chan *Block, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan *Block, buffer)

	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	if c.closed {
		close(ch)
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch

	return ch, func() {
		c.subsMu.Lock()
		defer c.subsMu.Unlock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
	}
}

func (c *Client) broadcast(b *Block) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- b:
		default:
			if c.metrics != nil {
				c.metrics.Dropped.Inc()
			}
		}
	}
}

// Stop closes subscriptions and the database.
func (c *Client) Stop(ctx context.Context) error {
	c.subsMu.Lock()
	c.closed = true
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
	c.subsMu.Unlock()

	c.stopMu.Do(func() { close(c.stopped) })

	if err := c.store.Close(); err != nil {
		return fmt.Errorf("failed to close chain database: %w", err)
	}
	c.logger.Info("Chain database closed at head #%d", c.Head().Number)
	return nil
}

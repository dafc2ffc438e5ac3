package network

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	goversion "github.com/hashicorp/go-version"
	"github.com/moolen/lattice/internal/chain"
	"github.com/moolen/lattice/internal/lifecycle"
	"github.com/moolen/lattice/internal/logging"
	"github.com/moolen/lattice/internal/version"
	"golang.org/x/sync/errgroup"
)

const (
	// HandshakeTimeout bounds the HELLO exchange on a new connection.
	HandshakeTimeout = 5 * time.Second

	dialTimeout = 3 * time.Second
)

// Options configures a Network.
type Options struct {
	Listen         []string
	Bootnodes      []string
	MinPeerVersion string
	MaxPeers       int

	// Version is advertised in the handshake (default version.Version).
	Version string
	// MaxRedialInterval caps the bootnode backoff (default 30s).
	MaxRedialInterval time.Duration
}

// PeerInfo is a point-in-time view of a connected peer.
type PeerInfo struct {
	Addr     string `json:"addr"`
	Version  string `json:"version"`
	Head     uint64 `json:"head"`
	Outbound bool   `json:"outbound"`
}

type peer struct {
	conn     net.Conn
	addr     string
	version  *goversion.Version
	outbound bool
	head     atomic.Uint64

	writeMu sync.Mutex
	closed  chan struct{}
	once    sync.Once
}

func (p *peer) send(line string) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(HandshakeTimeout))
	_, err := p.conn.Write([]byte(line + "\n"))
	return err
}

func (p *peer) close() {
	p.once.Do(func() {
		close(p.closed)
		_ = p.conn.Close()
	})
}

// Network maintains peer connections for a node. Listeners are bound when the
// Network is created; accepting, announcing and dialing run as tasks.
type Network struct {
	client     *chain.Client
	opts       Options
	version    *goversion.Version
	minVersion *goversion.Version
	listeners  []net.Listener
	spawner    lifecycle.Spawner
	logger     *logging.Logger
	metrics    *Metrics

	mu    sync.Mutex
	peers map[string]*peer
}

// New binds every listen address. A bind failure closes the listeners opened
// so far and returns the error.
func New(client *chain.Client, opts Options, spawner lifecycle.Spawner) (*Network, error) {
	if opts.Version == "" {
		opts.Version = version.Version
	}
	if opts.MaxRedialInterval <= 0 {
		opts.MaxRedialInterval = 30 * time.Second
	}

	own, err := goversion.NewVersion(opts.Version)
	if err != nil {
		return nil, fmt.Errorf("invalid node version %q: %w", opts.Version, err)
	}

	var minVersion *goversion.Version
	if opts.MinPeerVersion != "" {
		minVersion, err = goversion.NewVersion(opts.MinPeerVersion)
		if err != nil {
			return nil, fmt.Errorf("invalid min_peer_version %q: %w", opts.MinPeerVersion, err)
		}
	}

	n := &Network{
		client:     client,
		opts:       opts,
		version:    own,
		minVersion: minVersion,
		spawner:    spawner,
		logger:     logging.GetLogger("network"),
		peers:      make(map[string]*peer),
	}

	for _, addr := range opts.Listen {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			n.closeListeners()
			return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
		n.listeners = append(n.listeners, ln)
		n.logger.Info("Listening for peers on %s", ln.Addr())
	}

	return n, nil
}

func (n *Network) closeListeners() {
	for _, ln := range n.listeners {
		_ = ln.Close()
	}
}

// ListenAddrs returns the bound listener addresses.
func (n *Network) ListenAddrs() []string {
	out := make([]string, len(n.listeners))
	for i, ln := range n.listeners {
		out[i] = ln.Addr().String()
	}
	return out
}

// PeerCount returns the number of connected peers.
func (n *Network) PeerCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.peers)
}

// Peers returns the connected peers sorted by address.
func (n *Network) Peers() []PeerInfo {
	n.mu.Lock()
	out := make([]PeerInfo, 0, len(n.peers))
	for _, p := range n.peers {
		out = append(out, PeerInfo{
			Addr:     p.addr,
			Version:  p.version.String(),
			Head:     p.head.Load(),
			Outbound: p.outbound,
		})
	}
	n.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

// Tasks returns one accept task per listener plus the announce and dial tasks.
func (n *Network) Tasks() []lifecycle.Task {
	tasks := make([]lifecycle.Task, 0, len(n.listeners)+2)
	for i, ln := range n.listeners {
		name := "accept"
		if len(n.listeners) > 1 {
			name = fmt.Sprintf("accept-%d", i)
		}
		tasks = append(tasks, lifecycle.Task{
			Name:        name,
			Criticality: lifecycle.Critical,
			Run:         func(ctx context.Context) error { return n.acceptLoop(ctx, ln) },
		})
	}
	tasks = append(tasks, lifecycle.Task{
		Name:        "announce",
		Criticality: lifecycle.BestEffort,
		Run:         n.announceLoop,
	})
	if len(n.opts.Bootnodes) > 0 {
		tasks = append(tasks, lifecycle.Task{
			Name:        "dial",
			Criticality: lifecycle.BestEffort,
			Run:         n.dialLoop,
		})
	}
	return tasks
}

// acceptLoop accepts inbound peers until ctx is cancelled. An accept error
// before that ends the task with the error.
func (n *Network) acceptLoop(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("accept on %s: %w", ln.Addr(), err)
		}

		go func() {
			p, err := n.handshake(ctx, conn, false)
			if err != nil {
				n.rejected(conn.RemoteAddr().String(), err)
				return
			}
			n.serve(p)
		}()
	}
}

// Connect dials addr and completes the handshake. It returns once the peer
// is registered.
func (n *Network) Connect(ctx context.Context, addr string) error {
	p, err := n.connect(ctx, addr)
	if err != nil {
		return err
	}
	n.serve(p)
	return nil
}

func (n *Network) connect(ctx context.Context, addr string) (*peer, error) {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	p, err := n.handshake(ctx, conn, true)
	if err != nil {
		n.rejected(addr, err)
		return nil, err
	}
	return p, nil
}

func (n *Network) rejected(addr string, err error) {
	if n.metrics != nil {
		n.metrics.Rejected.Inc()
	}
	n.logger.WarnWithFields("Peer rejected",
		logging.Field("peer", addr),
		logging.Field("error", err.Error()))
}

// handshake exchanges HELLO messages and registers the peer. The connection is
// closed on failure.
func (n *Network) handshake(ctx context.Context, conn net.Conn, outbound bool) (*peer, error) {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	_ = conn.SetDeadline(time.Now().Add(HandshakeTimeout))

	local := hello{Version: n.version, Genesis: n.client.Genesis().Hash, Head: n.client.Head().Number}
	if _, err := conn.Write([]byte(local.String() + "\n")); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send handshake: %w", err)
	}

	r := bufio.NewReader(conn)
	line, err := readLine(r)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read handshake: %w", err)
	}
	remote, err := parseHello(line)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := remote.check(local.Genesis, n.minVersion); err != nil {
		conn.Close()
		return nil, err
	}

	_ = conn.SetDeadline(time.Time{})

	p := &peer{
		conn:     &bufferedConn{Conn: conn, r: r},
		addr:     conn.RemoteAddr().String(),
		version:  remote.Version,
		outbound: outbound,
		closed:   make(chan struct{}),
	}
	p.head.Store(remote.Head)

	if err := n.register(p); err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

func (n *Network) register(p *peer) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.opts.MaxPeers > 0 && len(n.peers) >= n.opts.MaxPeers {
		return fmt.Errorf("%w (%d)", ErrTooManyPeers, n.opts.MaxPeers)
	}
	n.peers[p.addr] = p
	if n.metrics != nil {
		n.metrics.Peers.Set(float64(len(n.peers)))
	}
	n.logger.InfoWithFields("Peer connected",
		logging.Field("peer", p.addr),
		logging.Field("version", p.version.String()),
		logging.Field("head", p.head.Load()),
		logging.Field("outbound", p.outbound))
	return nil
}

func (n *Network) unregister(p *peer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.peers[p.addr] == p {
		delete(n.peers, p.addr)
	}
	if n.metrics != nil {
		n.metrics.Peers.Set(float64(len(n.peers)))
	}
}

// serve hands the peer's read loop to the task manager. If the service is
// already shutting down the peer is dropped.
func (n *Network) serve(p *peer) {
	run := func(ctx context.Context) error {
		n.readLoop(ctx, p)
		return nil
	}

	if n.spawner != nil {
		_, err := n.spawner.Spawn(lifecycle.Task{
			Name:        "peer-" + p.addr,
			Criticality: lifecycle.BestEffort,
			Run:         run,
		})
		if err != nil {
			n.logger.Debug("Dropping peer %s: %v", p.addr, err)
			n.unregister(p)
			p.close()
		}
		return
	}
	go run(context.Background()) //nolint:errcheck
}

// readLoop consumes HEAD messages until the connection or ctx closes.
func (n *Network) readLoop(ctx context.Context, p *peer) {
	stop := context.AfterFunc(ctx, p.close)
	defer stop()
	defer func() {
		n.unregister(p)
		p.close()
		n.logger.Info("Peer disconnected: %s", p.addr)
	}()

	r := bufio.NewReader(p.conn)
	for {
		line, err := readLine(r)
		if err != nil {
			return
		}
		num, hash, err := parseHead(line)
		if err != nil {
			n.logger.Debug("Ignoring message from %s: %v", p.addr, err)
			continue
		}
		p.head.Store(num)
		n.logger.DebugWithFields("Peer head",
			logging.Field("peer", p.addr),
			logging.Field("number", num),
			logging.Field("hash", hash.Short()))
	}
}

// announceLoop sends a HEAD message to every peer for each imported block.
func (n *Network) announceLoop(ctx context.Context) error {
	blocks, unsubscribe := n.client.Subscribe(32)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b, ok := <-blocks:
			if !ok {
				return nil
			}
			n.broadcast(formatHead(b))
		}
	}
}

func (n *Network) broadcast(line string) {
	n.mu.Lock()
	peers := make([]*peer, 0, len(n.peers))
	for _, p := range n.peers {
		peers = append(peers, p)
	}
	n.mu.Unlock()

	for _, p := range peers {
		if err := p.send(line); err != nil {
			n.logger.Debug("Announce to %s failed: %v", p.addr, err)
			p.close()
			continue
		}
		if n.metrics != nil {
			n.metrics.Announced.Inc()
		}
	}
}

// dialLoop keeps a connection to every bootnode, redialing with exponential
// backoff after failures or disconnects.
func (n *Network) dialLoop(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, addr := range n.opts.Bootnodes {
		g.Go(func() error {
			n.maintain(gctx, addr)
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

func (n *Network) maintain(ctx context.Context, addr string) {
	for ctx.Err() == nil {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 200 * time.Millisecond
		b.MaxInterval = n.opts.MaxRedialInterval
		b.MaxElapsedTime = 0

		var p *peer
		err := backoff.RetryNotify(func() error {
			var err error
			p, err = n.connect(ctx, addr)
			if errors.Is(err, ErrGenesisMismatch) || errors.Is(err, ErrVersionTooOld) {
				return backoff.Permanent(err)
			}
			return err
		}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
			n.logger.Debug("Dial %s failed, retrying in %s: %v", addr, next, err)
		})
		if err != nil {
			if ctx.Err() == nil {
				n.logger.Warn("Giving up on bootnode %s: %v", addr, err)
			}
			return
		}

		n.serve(p)

		select {
		case <-ctx.Done():
			return
		case <-p.closed:
		}
	}
}

// Stop closes the listeners and disconnects every peer.
func (n *Network) Stop(ctx context.Context) error {
	n.closeListeners()

	n.mu.Lock()
	peers := make([]*peer, 0, len(n.peers))
	for _, p := range n.peers {
		peers = append(peers, p)
	}
	n.mu.Unlock()

	for _, p := range peers {
		p.close()
	}
	n.logger.Info("Network stopped (%d peer(s) disconnected)", len(peers))
	return nil
}

// bufferedConn keeps bytes read past the handshake line.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(b []byte) (int, error) {
	return c.r.Read(b)
}

package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/moolen/lattice/internal/chain"
	"github.com/moolen/lattice/internal/logging"
	"github.com/moolen/lattice/internal/network"
	"github.com/moolen/lattice/internal/txpool"
	"github.com/moolen/lattice/internal/version"
	"golang.org/x/sync/errgroup"
)

// Message types sent to telemetry endpoints.
const (
	MsgConnected = "system.connected"
	MsgInterval  = "system.interval"
)

const writeTimeout = 5 * time.Second

// Message is one telemetry record.
type Message struct {
	ID        string      `json:"id"`
	Type      string      `json:"msg"`
	Timestamp time.Time   `json:"ts"`
	Payload   interface{} `json:"payload"`
}

// Connected identifies the node once per connection.
type Connected struct {
	Name       string     `json:"name"`
	Version    string     `json:"version"`
	Role       string     `json:"role"`
	InstanceID string     `json:"instance"`
	Genesis    chain.Hash `json:"genesis"`
}

// Interval is the periodic status report.
type Interval struct {
	Height  uint64     `json:"height"`
	Best    chain.Hash `json:"best"`
	Peers   int        `json:"peers"`
	TxReady int        `json:"txpool_ready"`
}

// Options configures a Reporter.
type Options struct {
	Endpoints  []string
	Interval   time.Duration
	Name       string
	Role       string
	InstanceID string
}

// Reporter pushes node status to telemetry endpoints over websockets.
// Connections are opened lazily and re-opened on the next tick after a failure.
type Reporter struct {
	opts    Options
	client  *chain.Client
	network *network.Network
	pool    *txpool.Pool
	dialer  *websocket.Dialer
	logger  *logging.Logger

	mu    sync.Mutex
	conns map[string]*websocket.Conn
	sent  map[string]int
}

// New creates a reporter. network and pool may be nil.
func New(opts Options, client *chain.Client, nw *network.Network, pool *txpool.Pool) *Reporter {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	return &Reporter{
		opts:    opts,
		client:  client,
		network: nw,
		pool:    pool,
		dialer:  &websocket.Dialer{HandshakeTimeout: writeTimeout},
		logger:  logging.GetLogger("telemetry"),
		conns:   make(map[string]*websocket.Conn),
		sent:    make(map[string]int),
	}
}

// Run reports immediately and then every interval until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) error {
	defer r.closeAll()

	r.logger.Info("Reporting to %d telemetry endpoint(s) every %s", len(r.opts.Endpoints), r.opts.Interval)

	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	for {
		if err := r.Report(ctx); err != nil {
			r.logger.Debug("Telemetry report incomplete: %v", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Report sends an interval message to every endpoint concurrently. It returns
// the first endpoint error; other endpoints are still attempted.
func (r *Reporter) Report(ctx context.Context) error {
	msg := Message{
		ID:        uuid.NewString(),
		Type:      MsgInterval,
		Timestamp: time.Now().UTC(),
		Payload:   r.interval(),
	}

	var g errgroup.Group
	for _, endpoint := range r.opts.Endpoints {
		g.Go(func() error {
			if err := r.send(ctx, endpoint, msg); err != nil {
				r.logger.WarnWithFields("Telemetry send failed",
					logging.Field("endpoint", endpoint),
					logging.Field("error", err.Error()))
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// Sent returns how many messages were delivered to endpoint.
func (r *Reporter) Sent(endpoint string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent[endpoint]
}

func (r *Reporter) interval() Interval {
	head := r.client.Head()
	iv := Interval{Height: head.Number, Best: head.Hash}
	if r.network != nil {
		iv.Peers = r.network.PeerCount()
	}
	if r.pool != nil {
		iv.TxReady = r.pool.Len()
	}
	return iv
}

func (r *Reporter) connected() Message {
	return Message{
		ID:        uuid.NewString(),
		Type:      MsgConnected,
		Timestamp: time.Now().UTC(),
		Payload: Connected{
			Name:       r.opts.Name,
			Version:    version.Version,
			Role:       r.opts.Role,
			InstanceID: r.opts.InstanceID,
			Genesis:    r.client.Genesis().Hash,
		},
	}
}

// send writes msg to endpoint, dialing first if needed. A fresh connection
// starts with a system.connected message.
func (r *Reporter) send(ctx context.Context, endpoint string, msg Message) error {
	r.mu.Lock()
	conn := r.conns[endpoint]
	r.mu.Unlock()

	if conn == nil {
		c, _, err := r.dialer.DialContext(ctx, endpoint, nil)
		if err != nil {
			return fmt.Errorf("dial %s: %w", endpoint, err)
		}
		if err := r.write(c, r.connected()); err != nil {
			_ = c.Close()
			return fmt.Errorf("send %s to %s: %w", MsgConnected, endpoint, err)
		}
		conn = c

		r.mu.Lock()
		r.conns[endpoint] = conn
		r.sent[endpoint]++
		r.mu.Unlock()
		r.logger.Info("Connected to telemetry endpoint %s", endpoint)
	}

	if err := r.write(conn, msg); err != nil {
		r.drop(endpoint, conn)
		return fmt.Errorf("send %s to %s: %w", msg.Type, endpoint, err)
	}

	r.mu.Lock()
	r.sent[endpoint]++
	r.mu.Unlock()
	return nil
}

func (r *Reporter) write(conn *websocket.Conn, msg Message) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(msg)
}

func (r *Reporter) drop(endpoint string, conn *websocket.Conn) {
	r.mu.Lock()
	if r.conns[endpoint] == conn {
		delete(r.conns, endpoint)
	}
	r.mu.Unlock()
	_ = conn.Close()
}

func (r *Reporter) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for endpoint, conn := range r.conns {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "node stopping"),
			time.Now().Add(time.Second))
		_ = conn.Close()
		delete(r.conns, endpoint)
	}
}

package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/moolen/lattice/internal/chain"
	"github.com/moolen/lattice/internal/config"
	"github.com/moolen/lattice/internal/lifecycle"
	"github.com/moolen/lattice/internal/network"
	"github.com/moolen/lattice/internal/txpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type received struct {
	Type    string          `json:"msg"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// collector is a websocket endpoint recording every message it receives.
type collector struct {
	server   *httptest.Server
	messages chan received
}

func newCollector(t *testing.T) *collector {
	t.Helper()
	c := &collector{messages: make(chan received, 64)}
	upgrader := websocket.Upgrader{}

	c.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var msg received
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			c.messages <- msg
		}
	}))
	t.Cleanup(c.server.Close)
	return c
}

func (c *collector) url() string {
	return "ws" + strings.TrimPrefix(c.server.URL, "http")
}

func (c *collector) next(t *testing.T) received {
	t.Helper()
	select {
	case msg := <-c.messages:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for telemetry message")
		return received{}
	}
}

func openClient(t *testing.T) *chain.Client {
	t.Helper()
	c, err := chain.Open(chain.Options{Path: filepath.Join(t.TempDir(), "chain.db"), CacheBlocks: 8})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Stop(context.Background()) })
	return c
}

func TestReportSendsConnectedThenInterval(t *testing.T) {
	col := newCollector(t)
	client := openClient(t)
	pool := txpool.New(10, 0)
	_, err := pool.Submit([]byte("tx"))
	require.NoError(t, err)

	r := New(Options{Endpoints: []string{col.url()}, Name: "node-1", Role: "full", InstanceID: "abc"}, client, nil, pool)
	defer r.closeAll()

	require.NoError(t, r.Report(context.Background()))

	first := col.next(t)
	assert.Equal(t, MsgConnected, first.Type)
	assert.NotEmpty(t, first.ID)
	var connected Connected
	require.NoError(t, json.Unmarshal(first.Payload, &connected))
	assert.Equal(t, "node-1", connected.Name)
	assert.Equal(t, "abc", connected.InstanceID)
	assert.Equal(t, client.Genesis().Hash, connected.Genesis)

	second := col.next(t)
	assert.Equal(t, MsgInterval, second.Type)
	assert.NotEqual(t, first.ID, second.ID)
	var iv Interval
	require.NoError(t, json.Unmarshal(second.Payload, &iv))
	assert.Equal(t, Interval{Height: 0, Best: client.Head().Hash, TxReady: 1}, iv)

	// The connection is reused: no second system.connected.
	require.NoError(t, r.Report(context.Background()))
	assert.Equal(t, MsgInterval, col.next(t).Type)
	assert.Equal(t, 3, r.Sent(col.url()))
}

func TestReportFansOutAndToleratesFailures(t *testing.T) {
	a, b := newCollector(t), newCollector(t)
	client := openClient(t)

	dead := "ws://127.0.0.1:1/unreachable"
	r := New(Options{Endpoints: []string{a.url(), dead, b.url()}}, client, nil, nil)
	defer r.closeAll()

	err := r.Report(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "127.0.0.1:1")

	assert.Equal(t, MsgConnected, a.next(t).Type)
	assert.Equal(t, MsgConnected, b.next(t).Type)
	assert.Equal(t, 2, r.Sent(a.url()))
	assert.Equal(t, 2, r.Sent(b.url()))
	assert.Equal(t, 0, r.Sent(dead))
}

func TestReconnectAfterEndpointRestart(t *testing.T) {
	col := newCollector(t)
	client := openClient(t)
	r := New(Options{Endpoints: []string{col.url()}}, client, nil, nil)
	defer r.closeAll()

	require.NoError(t, r.Report(context.Background()))
	col.next(t)
	col.next(t)

	// Drop the connection from the reporter's side; the next report redials.
	r.mu.Lock()
	conn := r.conns[col.url()]
	r.mu.Unlock()
	r.drop(col.url(), conn)

	require.NoError(t, r.Report(context.Background()))
	assert.Equal(t, MsgConnected, col.next(t).Type)
	assert.Equal(t, MsgInterval, col.next(t).Type)
}

func TestRunStopsOnCancel(t *testing.T) {
	col := newCollector(t)
	client := openClient(t)
	r := New(Options{Endpoints: []string{col.url()}, Interval: 20 * time.Millisecond}, client, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	assert.Equal(t, MsgConnected, col.next(t).Type)
	assert.Equal(t, MsgInterval, col.next(t).Type)
	assert.Equal(t, MsgInterval, col.next(t).Type)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	r.mu.Lock()
	assert.Empty(t, r.conns)
	r.mu.Unlock()
}

func buildGraph(t *testing.T, cfg *config.Config) *lifecycle.Service {
	t.Helper()
	cfg.Database.Path = filepath.Join(t.TempDir(), "chain.db")
	cfg.Network.Listen = []string{"127.0.0.1:0"}

	g := lifecycle.NewGraph()
	g.MustAdd(chain.Descriptor())
	g.MustAdd(network.Descriptor())
	g.MustAdd(txpool.Descriptor())
	g.MustAdd(Descriptor())

	svc, err := lifecycle.Build(context.Background(), g, cfg)
	require.NoError(t, err)
	return svc
}

func TestDescriptorWithoutEndpoints(t *testing.T) {
	svc := buildGraph(t, config.Default())
	defer svc.StopWithTimeout(5 * time.Second)

	for _, info := range svc.Tasks() {
		assert.NotEqual(t, ComponentName, info.Component)
	}
}

func TestDescriptorReports(t *testing.T) {
	col := newCollector(t)
	cfg := config.Default()
	cfg.Telemetry.Endpoints = []string{col.url()}
	cfg.Telemetry.Interval = config.Duration(20 * time.Millisecond)

	svc := buildGraph(t, cfg)

	first := col.next(t)
	assert.Equal(t, MsgConnected, first.Type)
	var connected Connected
	require.NoError(t, json.Unmarshal(first.Payload, &connected))
	assert.Equal(t, svc.InstanceID(), connected.InstanceID)
	assert.Equal(t, cfg.Node.Name, connected.Name)

	report := svc.StopWithTimeout(5 * time.Second)
	assert.True(t, report.Clean(), "report: %+v", report)
}

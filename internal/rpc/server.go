package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/moolen/lattice/internal/chain"
	"github.com/moolen/lattice/internal/lifecycle"
	"github.com/moolen/lattice/internal/logging"
	"github.com/moolen/lattice/internal/network"
	"github.com/moolen/lattice/internal/txpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// maxRequestSize bounds a JSON-RPC request body.
	maxRequestSize = 1 << 20

	shutdownTimeout = 5 * time.Second
)

// Server serves JSON-RPC, health and metrics over HTTP on one or more listeners.
type Server struct {
	client  *chain.Client
	pool    *txpool.Pool
	network *network.Network
	logger  *logging.Logger

	router    *http.ServeMux
	handler   http.Handler
	methodMap map[string]methodFunc
	listeners []net.Listener
	servers   []*http.Server
	requests  *prometheus.CounterVec
}

// NewServer wires the handlers. gatherer backs /metrics; nil disables it.
// network may be nil.
func NewServer(client *chain.Client, pool *txpool.Pool, nw *network.Network, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		client:  client,
		pool:    pool,
		network: nw,
		logger:  logging.GetLogger("rpc"),
		router:  http.NewServeMux(),
	}
	s.methodMap = s.methods()

	s.router.HandleFunc("/", s.withMethod(http.MethodPost, s.handleRPC))
	s.router.HandleFunc("/health", s.withMethod(http.MethodGet, s.handleHealth))
	if gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	s.handler = s.corsMiddleware(s.router)
	return s
}

// Register adds the request counter to reg.
func (s *Server) Register(reg prometheus.Registerer) {
	s.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lattice_rpc_requests_total",
		Help: "Total number of JSON-RPC calls by method and outcome",
	}, []string{"method", "outcome"})
	reg.MustRegister(s.requests)
}

// Handler returns the HTTP handler serving every endpoint.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Listen binds every address. On failure the listeners bound so far are closed.
func (s *Server) Listen(addrs []string) error {
	for _, addr := range addrs {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			for _, l := range s.listeners {
				_ = l.Close()
			}
			s.listeners = nil
			return fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
		s.listeners = append(s.listeners, ln)
		s.servers = append(s.servers, s.configureHTTPServer())
		s.logger.Info("RPC server listening on %s", ln.Addr())
	}
	return nil
}

// configureHTTPServer creates an HTTP server with the node's timeouts
func (s *Server) configureHTTPServer() *http.Server {
	return &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Addrs returns the bound listener addresses.
func (s *Server) Addrs() []string {
	out := make([]string, len(s.listeners))
	for i, ln := range s.listeners {
		out[i] = ln.Addr().String()
	}
	return out
}

// Tasks returns one http task per listener.
func (s *Server) Tasks() []lifecycle.Task {
	tasks := make([]lifecycle.Task, len(s.listeners))
	for i := range s.listeners {
		name := "http"
		if len(s.listeners) > 1 {
			name = fmt.Sprintf("http-%d", i)
		}
		tasks[i] = lifecycle.Task{
			Name:        name,
			Criticality: lifecycle.BestEffort,
			Run:         func(ctx context.Context) error { return s.serve(ctx, i) },
		}
	}
	return tasks
}

// serve runs listener i until ctx is cancelled, then shuts the server down
// gracefully.
func (s *Server) serve(ctx context.Context, i int) error {
	srv, ln := s.servers[i], s.listeners[i]

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve %s: %w", ln.Addr(), err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("RPC server on %s did not shut down cleanly: %v", ln.Addr(), err)
		_ = srv.Close()
	}
	<-errCh
	s.logger.Info("RPC server on %s stopped", ln.Addr())
	return ctx.Err()
}

// Stop closes every server and listener that is still open.
func (s *Server) Stop(ctx context.Context) error {
	var errs []error
	for i, srv := range s.servers {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		_ = s.listeners[i].Close()
	}
	return errors.Join(errs...)
}

// handleRPC decodes one JSON-RPC request and writes its response.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestSize+1))
	if err != nil {
		s.writeResponse(w, Response{Error: errorf(CodeParseError, "read body: %v", err)})
		return
	}
	if len(body) > maxRequestSize {
		s.writeResponse(w, Response{Error: errorf(CodeInvalidRequest, "request exceeds %d bytes", maxRequestSize)})
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeResponse(w, Response{Error: errorf(CodeParseError, "invalid JSON: %v", err)})
		return
	}

	s.writeResponse(w, s.Call(r.Context(), req))
}

// Call dispatches req to its method.
func (s *Server) Call(ctx context.Context, req Request) Response {
	resp := Response{ID: req.ID}
	if req.JSONRPC != jsonrpcVersion || req.Method == "" {
		resp.Error = errorf(CodeInvalidRequest, "expected jsonrpc %q and a method", jsonrpcVersion)
		s.count(req.Method, "invalid")
		return resp
	}

	method, ok := s.methodMap[req.Method]
	if !ok {
		resp.Error = errorf(CodeMethodNotFound, "method %q not found", req.Method)
		s.count("unknown", "error")
		return resp
	}

	ctx, span := otel.Tracer("github.com/moolen/lattice/internal/rpc").Start(ctx, "rpc."+req.Method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("rpc.method", req.Method)))
	defer span.End()

	result, rpcErr := method(ctx, req.Params)
	if rpcErr != nil {
		span.SetStatus(codes.Error, rpcErr.Message)
		s.logger.DebugWithFields("RPC call failed",
			logging.Field("method", req.Method),
			logging.Field("code", rpcErr.Code),
			logging.Field("error", rpcErr.Message))
		resp.Error = rpcErr
		s.count(req.Method, "error")
		return resp
	}

	resp.Result = result
	s.count(req.Method, "ok")
	return resp
}

func (s *Server) count(method, outcome string) {
	if s.requests != nil {
		s.requests.WithLabelValues(method, outcome).Inc()
	}
}

func (s *Server) writeResponse(w http.ResponseWriter, resp Response) {
	resp.JSONRPC = jsonrpcVersion
	if resp.ID == nil {
		resp.ID = json.RawMessage("null")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = writeJSON(w, resp)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = writeJSON(w, s.health())
}

func writeJSON(w io.Writer, data interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	return encoder.Encode(data)
}

package offchain

import (
	"context"
	"time"

	"github.com/moolen/lattice/internal/chain"
	"github.com/moolen/lattice/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// Dispatcher runs every worker for each imported block with bounded concurrency.
type Dispatcher struct {
	client      *chain.Client
	workers     []Worker
	concurrency int
	logger      *logging.Logger
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
}

// NewDispatcher creates a dispatcher running at most concurrency workers at once.
func NewDispatcher(client *chain.Client, concurrency int, workers ...Worker) *Dispatcher {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Dispatcher{
		client:      client,
		workers:     workers,
		concurrency: concurrency,
		logger:      logging.GetLogger("offchain"),
	}
}

// Register adds the worker metrics to reg.
func (d *Dispatcher) Register(reg prometheus.Registerer) {
	d.runs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lattice_offchain_worker_runs_total",
		Help: "Total number of off-chain worker runs by worker and outcome",
	}, []string{"worker", "outcome"})
	d.duration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lattice_offchain_worker_duration_seconds",
		Help:    "Time spent in off-chain workers per block",
		Buckets: prometheus.DefBuckets,
	}, []string{"worker"})
	reg.MustRegister(d.runs, d.duration)
}

// Workers returns the registered workers.
func (d *Dispatcher) Workers() []Worker {
	return d.workers
}

// Run dispatches imported blocks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	blocks, unsubscribe := d.client.Subscribe(64)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b, ok := <-blocks:
			if !ok {
				return nil
			}
			d.Dispatch(ctx, b)
		}
	}
}

// Dispatch runs every worker on b and waits for them. Worker errors are
// logged and counted; they never stop the other workers.
func (d *Dispatcher) Dispatch(ctx context.Context, b *chain.Block) {
	var g errgroup.Group
	g.SetLimit(d.concurrency)

	for _, w := range d.workers {
		g.Go(func() error {
			start := time.Now()
			err := w.OnBlock(ctx, b)
			d.observe(w.Name(), time.Since(start), err)
			if err != nil {
				d.logger.WarnWithFields("Off-chain worker failed",
					logging.Field("worker", w.Name()),
					logging.Field("block", b.Number),
					logging.Field("error", err.Error()))
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (d *Dispatcher) observe(worker string, took time.Duration, err error) {
	if d.runs == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	d.runs.WithLabelValues(worker, outcome).Inc()
	d.duration.WithLabelValues(worker).Observe(took.Seconds())
}

package chain

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the chain client's Prometheus metrics.
type Metrics struct {
	Head     prometheus.Gauge   // Number of the best block
	Imported prometheus.Counter // Blocks imported since start
	Dropped  prometheus.Counter // Notifications dropped for slow subscribers
}

// NewMetrics creates the chain metrics and registers them, together with the
// block cache counters of c, with reg.
func NewMetrics(reg prometheus.Registerer, c *Client) *Metrics {
	m := &Metrics{
		Head: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lattice_chain_head",
			Help: "Number of the current best block",
		}),
		Imported: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lattice_chain_blocks_imported_total",
			Help: "Total number of blocks imported",
		}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lattice_chain_notifications_dropped_total",
			Help: "Total number of block notifications dropped because a subscriber was full",
		}),
	}

	cacheHits := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "lattice_chain_cache_hits_total",
		Help: "Total number of block reads served from the cache",
	}, func() float64 { return float64(c.cache.Stats().Hits) })
	cacheMisses := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "lattice_chain_cache_misses_total",
		Help: "Total number of block reads that went to the database",
	}, func() float64 { return float64(c.cache.Stats().Misses) })

	reg.MustRegister(m.Head, m.Imported, m.Dropped, cacheHits, cacheMisses)

	m.Head.Set(float64(c.Head().Number))
	c.metrics = m
	return m
}

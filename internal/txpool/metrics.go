package txpool

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pool's Prometheus metrics.
type Metrics struct {
	Submitted prometheus.Counter     // Accepted transactions
	Rejected  *prometheus.CounterVec // Rejected submissions by reason
	Expired   prometheus.Counter     // Entries dropped for age
}

// NewMetrics creates the pool metrics, registers them with reg and attaches
// them to p.
func NewMetrics(reg prometheus.Registerer, p *Pool) *Metrics {
	m := &Metrics{
		Submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lattice_txpool_submitted_total",
			Help: "Total number of transactions accepted into the pool",
		}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lattice_txpool_rejected_total",
			Help: "Total number of rejected submissions",
		}, []string{"reason"}),
		Expired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lattice_txpool_expired_total",
			Help: "Total number of transactions dropped for exceeding max age",
		}),
	}
	size := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "lattice_txpool_size",
		Help: "Number of pooled transactions",
	}, func() float64 { return float64(p.Len()) })

	reg.MustRegister(m.Submitted, m.Rejected, m.Expired, size)

	p.metrics = m
	return m
}

package network

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the network's Prometheus metrics.
type Metrics struct {
	Peers     prometheus.Gauge   // Connected peers
	Rejected  prometheus.Counter // Failed or refused handshakes
	Announced prometheus.Counter // HEAD messages sent
}

// NewMetrics creates the network metrics, registers them with reg and attaches
// them to n.
func NewMetrics(reg prometheus.Registerer, n *Network) *Metrics {
	m := &Metrics{
		Peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lattice_network_peers",
			Help: "Number of connected peers",
		}),
		Rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lattice_network_handshakes_rejected_total",
			Help: "Total number of peer handshakes that failed or were refused",
		}),
		Announced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lattice_network_announcements_total",
			Help: "Total number of head announcements sent to peers",
		}),
	}

	reg.MustRegister(m.Peers, m.Rejected, m.Announced)

	n.metrics = m
	return m
}

package lifecycle

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for service orchestration.
type Metrics struct {
	TasksSpawned     *prometheus.CounterVec   // Tasks spawned per component and criticality
	TasksRunning     *prometheus.GaugeVec     // Tasks currently executing per component
	TaskFailures     *prometheus.CounterVec   // Task failures per component, task and criticality
	ComponentStartup *prometheus.HistogramVec // Start function duration per component
	AbandonedTasks   prometheus.Gauge         // Tasks abandoned by the last shutdown
}

// NewMetrics creates and registers the lifecycle metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TasksSpawned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lattice_tasks_spawned_total",
			Help: "Total number of tasks spawned",
		}, []string{"component", "criticality"}),
		TasksRunning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lattice_tasks_running",
			Help: "Number of tasks currently running",
		}, []string{"component"}),
		TaskFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lattice_task_failures_total",
			Help: "Total number of tasks that ended in failure",
		}, []string{"component", "task", "criticality"}),
		ComponentStartup: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lattice_component_start_duration_seconds",
			Help:    "Time spent in component start functions",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"component"}),
		AbandonedTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lattice_shutdown_abandoned_tasks",
			Help: "Number of tasks still running when the last shutdown deadline elapsed",
		}),
	}

	reg.MustRegister(m.TasksSpawned)
	reg.MustRegister(m.TasksRunning)
	reg.MustRegister(m.TaskFailures)
	reg.MustRegister(m.ComponentStartup)
	reg.MustRegister(m.AbandonedTasks)

	return m
}

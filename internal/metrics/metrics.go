// Package metrics exposes run counters in the Prometheus text format. Runs
// are short-lived, so the collectors are written to a textfile for the node
// exporter instead of being scraped.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Collector struct {
	registry *prometheus.Registry
	applied  *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
	pending  *prometheus.GaugeVec
}

func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		applied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "migrate_nodes_applied_total",
			Help: "Migration nodes applied, by environment and module.",
		}, []string{"env", "module"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "migrate_node_failures_total",
			Help: "Migration node failures, by environment and failure kind.",
		}, []string{"env", "kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "migrate_node_duration_seconds",
			Help:    "Time spent applying one migration node.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"env"}),
		pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "migrate_pending_nodes",
			Help: "Nodes still pending after the last plan.",
		}, []string{"env"}),
	}
	c.registry.MustRegister(c.applied, c.failures, c.duration, c.pending)
	return c
}

func (c *Collector) NodeApplied(env, module string, d time.Duration) {
	if c == nil {
		return
	}
	c.applied.WithLabelValues(env, module).Inc()
	c.duration.WithLabelValues(env).Observe(d.Seconds())
}

func (c *Collector) NodeFailed(env, kind string) {
	if c == nil {
		return
	}
	c.failures.WithLabelValues(env, kind).Inc()
}

func (c *Collector) Pending(env string, n int) {
	if c == nil {
		return
	}
	c.pending.WithLabelValues(env).Set(float64(n))
}

func (c *Collector) Gatherer() prometheus.Gatherer { return c.registry }

// WriteTextfile atomically replaces path with the current values.
func (c *Collector) WriteTextfile(path string) error {
	if c == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, c.registry)
}

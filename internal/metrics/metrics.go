// Package metrics exposes Prometheus metrics for the dispatch core:
// tasks pushed/finished/errored, simulator latency, and how many worker
// slots sit idle. Mirrors the teacher repository's Collector shape (one
// struct of registered prometheus.Collector fields, a NewCollector
// constructor, small Record*/Set* methods, and a StartServer helper).
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector collects the Prometheus metrics for one dispatch-core run.
type Collector struct {
	tasksPushed   prometheus.Counter
	tasksFinished prometheus.Counter
	tasksErrored  prometheus.Counter

	simulatorLatency prometheus.Histogram

	slotsIdle prometheus.Gauge
	slotsBusy prometheus.Gauge

	generation prometheus.Gauge
}

// NewCollector builds and registers a Collector against the default
// Prometheus registry.
func NewCollector() *Collector {
	c := &Collector{
		tasksPushed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pakman_tasks_pushed_total",
			Help: "Total number of tasks pushed to a master",
		}),
		tasksFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pakman_tasks_finished_total",
			Help: "Total number of tasks that finished (accepted or rejected)",
		}),
		tasksErrored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pakman_tasks_errored_total",
			Help: "Total number of tasks whose simulator reported a nonzero error code",
		}),
		simulatorLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pakman_simulator_latency_seconds",
			Help:    "Simulator invocation latency in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		slotsIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pakman_slots_idle",
			Help: "Current number of idle worker slots",
		}),
		slotsBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pakman_slots_busy",
			Help: "Current number of busy worker slots",
		}),
		generation: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pakman_controller_generation",
			Help: "Current SMC generation index (always 0 for Sweep and Rejection)",
		}),
	}

	prometheus.MustRegister(
		c.tasksPushed,
		c.tasksFinished,
		c.tasksErrored,
		c.simulatorLatency,
		c.slotsIdle,
		c.slotsBusy,
		c.generation,
	)

	return c
}

// RecordPush records a task being pushed to a master.
func (c *Collector) RecordPush() {
	c.tasksPushed.Inc()
}

// RecordFinished records a finished task's simulator latency and error
// code.
func (c *Collector) RecordFinished(latencySeconds float64, errorCode int) {
	c.tasksFinished.Inc()
	c.simulatorLatency.Observe(latencySeconds)
	if errorCode != 0 {
		c.tasksErrored.Inc()
	}
}

// SetSlotStats updates the idle/busy worker slot gauges.
func (c *Collector) SetSlotStats(idle, busy int) {
	c.slotsIdle.Set(float64(idle))
	c.slotsBusy.Set(float64(busy))
}

// SetGeneration updates the current SMC generation gauge.
func (c *Collector) SetGeneration(gen int) {
	c.generation.Set(float64(gen))
}

// StartServer starts a Prometheus metrics HTTP server on addr (e.g.
// ":9090"), serving /metrics. It blocks; callers run it in its own
// goroutine.
func StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		return fmt.Errorf("metrics: serving %s: %w", addr, err)
	}
	return nil
}

// Package metrics defines the Prometheus collectors exported by the lobby
// server and the HTTP handler that exposes them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lobby"

// Metrics bundles every collector on a private registry so several servers
// (or tests) can run in one process.
type Metrics struct {
	registry *prometheus.Registry

	Accepted      prometheus.Counter
	AcceptErrors  *prometheus.CounterVec
	Disconnects   prometheus.Counter
	FramesIn      *prometheus.CounterVec
	FramesOut     *prometheus.CounterVec
	FramesDropped *prometheus.CounterVec
	BytesRead     prometheus.Counter
	BytesWritten  prometheus.Counter
	Evictions     prometheus.Counter
	PoolExhausted *prometheus.CounterVec
	SweepRemoved  prometheus.Counter
	SweepDuration prometheus.Histogram
}

// New creates the collectors and registers them, along with the Go runtime
// and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_accepted_total",
			Help:      "Connections accepted and registered",
		}),
		AcceptErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accept_errors_total",
			Help:      "Abandoned connection attempts by failing stage",
		}, []string{"stage"}),
		Disconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnects_total",
			Help:      "Peer disconnects detected",
		}),
		FramesIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Frames reassembled from clients",
		}, []string{"kind"}),
		FramesOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Frame deliveries handed to the socket, one per recipient",
		}, []string{"kind"}),
		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Frames discarded without delivery",
		}, []string{"reason"}),
		BytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_read_total",
			Help:      "Bytes read from client sockets",
		}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_written_total",
			Help:      "Bytes written to client sockets",
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evictions_total",
			Help:      "Sessions forcibly disconnected after write failure or send overflow",
		}),
		PoolExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_exhausted_total",
			Help:      "Operations deferred because the message pool was empty",
		}, []string{"op"}),
		SweepRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_removed_total",
			Help:      "Sessions reclaimed by sweeps",
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Time spent in registry sweeps",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 8),
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Accepted,
		m.AcceptErrors,
		m.Disconnects,
		m.FramesIn,
		m.FramesOut,
		m.FramesDropped,
		m.BytesRead,
		m.BytesWritten,
		m.Evictions,
		m.PoolExhausted,
		m.SweepRemoved,
		m.SweepDuration,
	)

	return m
}

// PoolStats is the subset of bufferpool statistics exported as gauges.
type PoolStats struct {
	Free, Ready, Work, Assigned int
}

// ObservePool exports the population of each pool list, read on scrape.
func (m *Metrics) ObservePool(stats func() PoolStats) {
	lists := map[string]func(PoolStats) int{
		"free":     func(s PoolStats) int { return s.Free },
		"ready":    func(s PoolStats) int { return s.Ready },
		"work":     func(s PoolStats) int { return s.Work },
		"assigned": func(s PoolStats) int { return s.Assigned },
	}

	for list, pick := range lists {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "pool_slots",
			Help:        "Message slots per pool list",
			ConstLabels: prometheus.Labels{"list": list},
		}, func() float64 { return float64(pick(stats())) }))
	}
}

// ObserveGauge exports a value read on scrape, such as the session count.
func (m *Metrics) ObserveGauge(name, help string, value func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, func() float64 { return float64(value()) }))
}

// Gatherer exposes the registry for tests and custom exposition.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

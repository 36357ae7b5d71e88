// Package metrics exposes engine traffic as Prometheus metrics.
//
// A Collector observes both sides of the worker boundary: it implements
// client.Observer for calls made by the host and worker.Observer for boots
// and requests inside the worker.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wippyai/wasm-chess/client"
	"github.com/wippyai/wasm-chess/protocol"
	"github.com/wippyai/wasm-chess/worker"
)

const namespace = "wasmchess"

var (
	_ client.Observer = (*Collector)(nil)
	_ worker.Observer = (*Collector)(nil)
)

// Collector records engine metrics into its own registry.
type Collector struct {
	registry *prometheus.Registry

	calls       *prometheus.CounterVec
	callLatency *prometheus.HistogramVec
	cancels     *prometheus.CounterVec
	pending     prometheus.Gauge

	boots       *prometheus.CounterVec
	bootLatency prometheus.Histogram
	requests    *prometheus.CounterVec
	execLatency *prometheus.HistogramVec

	games prometheus.Gauge
}

// NewCollector registers the engine metrics with reg. A nil reg gets a
// fresh registry.
func NewCollector(reg *prometheus.Registry) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	searchBuckets := []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

	c := &Collector{
		registry: reg,
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "calls_total",
			Help:      "Engine calls completed by the client, by method and outcome.",
		}, []string{"method", "outcome"}),
		callLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "call_seconds",
			Help:      "Round trip time of engine calls.",
			Buckets:   searchBuckets,
		}, []string{"method"}),
		cancels: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "cancels_total",
			Help:      "Cancel messages sent for pending calls.",
		}, []string{"method"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "pending_calls",
			Help:      "Calls awaiting a response.",
		}),
		boots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "boots_total",
			Help:      "Engine boot attempts, by result.",
		}, []string{"result"}),
		bootLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "boot_seconds",
			Help:      "Time to load, verify and instantiate the engine module.",
			Buckets:   prometheus.DefBuckets,
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "requests_total",
			Help:      "Requests answered by the worker, by method and outcome.",
		}, []string{"method", "outcome"}),
		execLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "request_seconds",
			Help:      "Time the engine spent on a request.",
			Buckets:   searchBuckets,
		}, []string{"method"}),
		games: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "games_active",
			Help:      "Games currently held by the server.",
		}),
	}

	reg.MustRegister(
		c.calls, c.callLatency, c.cancels, c.pending,
		c.boots, c.bootLatency, c.requests, c.execLatency,
		c.games,
	)
	return c
}

// Registry returns the registry the metrics live in.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) CallStarted(protocol.Method) {
	c.pending.Inc()
}

func (c *Collector) CallFinished(method protocol.Method, outcome string, elapsed time.Duration) {
	c.pending.Dec()
	c.calls.WithLabelValues(string(method), outcome).Inc()
	c.callLatency.WithLabelValues(string(method)).Observe(elapsed.Seconds())
}

func (c *Collector) CancelSent(method protocol.Method) {
	c.cancels.WithLabelValues(string(method)).Inc()
}

func (c *Collector) BootFinished(err error, elapsed time.Duration) {
	result := "ok"
	if err != nil {
		result = "failed"
	}
	c.boots.WithLabelValues(result).Inc()
	c.bootLatency.Observe(elapsed.Seconds())
}

func (c *Collector) RequestFinished(method protocol.Method, outcome string, elapsed time.Duration) {
	c.requests.WithLabelValues(string(method), outcome).Inc()
	c.execLatency.WithLabelValues(string(method)).Observe(elapsed.Seconds())
}

// SetActiveGames records the number of live games.
func (c *Collector) SetActiveGames(n int) {
	c.games.Set(float64(n))
}

// Package metrics holds the Prometheus collectors shared by primd and
// prim-robot.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricPrefix = "primbus_"

// Result labels.
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultFailed   = "failed"
)

var (
	registerOnce sync.Once
	registry     = prometheus.NewRegistry()

	dispatchTotal  *prometheus.CounterVec
	executeTotal   *prometheus.CounterVec
	rejectedTotal  *prometheus.CounterVec
	executeLatency *prometheus.HistogramVec
)

// Init registers the collectors. It is safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		dispatchTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "dispatch_total",
				Help: "Primitives submitted for dispatch by primitive name and result",
			},
			[]string{"primitive", "result"},
		)
		executeTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "execute_total",
				Help: "Primitives handed to a robot executor by primitive name and result",
			},
			[]string{"primitive", "result"},
		)
		rejectedTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "rejected_total",
				Help: "Primitive messages dropped before execution by reason",
			},
			[]string{"reason"},
		)
		executeLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "execute_latency_seconds",
				Help:    "Executor latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"primitive"},
		)

		registry.MustRegister(dispatchTotal, executeTotal, rejectedTotal, executeLatency)
		registry.MustRegister(collectors.NewGoCollector())
	})
}

// ObserveDispatch records one dispatch attempt.
func ObserveDispatch(name, result string) {
	Init()
	dispatchTotal.WithLabelValues(name, result).Inc()
}

// ObserveExecute records one executor call and its duration.
func ObserveExecute(name, result string, seconds float64) {
	Init()
	executeTotal.WithLabelValues(name, result).Inc()
	executeLatency.WithLabelValues(name).Observe(seconds)
}

// ObserveRejected records a message dropped for reason.
func ObserveRejected(reason string) {
	Init()
	rejectedTotal.WithLabelValues(reason).Inc()
}

// Handler serves the collectors in the Prometheus text format.
func Handler() http.Handler {
	Init()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry, mainly for tests.
func Gatherer() prometheus.Gatherer {
	Init()
	return registry
}

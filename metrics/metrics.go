// Package metrics exposes cache gate counters in the prometheus format.
// Every method is safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ssc"

type Metrics struct {
	registry       *prometheus.Registry
	requests       *prometheus.CounterVec
	storeErrors    prometheus.Counter
	clears         prometheus.Counter
	clearedEntries prometheus.Counter
	purges         prometheus.Counter
}

// New creates the collectors on a dedicated registry.
// Go runtime and process collectors are included when withRuntime is set.
func New(withRuntime bool) *Metrics {
	registry := prometheus.NewRegistry()
	if withRuntime {
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	m := &Metrics{
		registry: registry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests seen by the cache gate, by outcome.",
		}, []string{"result"}),
		storeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Generated pages that could not be written to the cache.",
		}),
		clears: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clears_total",
			Help:      "Clear-all operations.",
		}),
		clearedEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleared_entries_total",
			Help:      "Entries removed by clear-all operations.",
		}),
		purges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purges_total",
			Help:      "Single pages purged from the cache.",
		}),
	}
	registry.MustRegister(m.requests, m.storeErrors, m.clears, m.clearedEntries, m.purges)
	return m
}

// RegisterEntries registers a gauge reporting the number of stored entries.
// Registering a second gauge is a no-op.
func (m *Metrics) RegisterEntries(count func() float64) error {
	if m == nil {
		return nil
	}
	err := m.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "entries",
		Help:      "Entries currently stored.",
	}, count))
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		return nil
	}
	return err
}

func (m *Metrics) ObserveRequest(result string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(result).Inc()
}

func (m *Metrics) StoreError() {
	if m == nil {
		return
	}
	m.storeErrors.Inc()
}

func (m *Metrics) Cleared(removed int) {
	if m == nil {
		return
	}
	m.clears.Inc()
	m.clearedEntries.Add(float64(removed))
}

func (m *Metrics) Purged() {
	if m == nil {
		return
	}
	m.purges.Inc()
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

package cache

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks response cache effectiveness.
type Metrics struct {
	hits   *prometheus.CounterVec
	misses *prometheus.CounterVec
	sets   *prometheus.CounterVec
	errors *prometheus.CounterVec
}

// NewMetrics creates the cache metric vectors under the given namespace.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "gateway"
	}

	return &Metrics{
		hits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "hits_total",
				Help:      "Total number of cache hits",
			},
			[]string{"service"},
		),
		misses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "misses_total",
				Help:      "Total number of cache misses",
			},
			[]string{"service"},
		),
		sets: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "stores_total",
				Help:      "Total number of responses written to the cache",
			},
			[]string{"service"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "errors_total",
				Help:      "Total number of cache backend errors",
			},
			[]string{"service", "op"},
		),
	}
}

// Register registers all cache metrics with the given registerer.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.hits, m.misses, m.sets, m.errors} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// RecordHit records a cache hit for a service.
func (m *Metrics) RecordHit(service string) {
	m.hits.WithLabelValues(service).Inc()
}

// RecordMiss records a cache miss for a service.
func (m *Metrics) RecordMiss(service string) {
	m.misses.WithLabelValues(service).Inc()
}

// RecordStore records a response stored in the cache.
func (m *Metrics) RecordStore(service string) {
	m.sets.WithLabelValues(service).Inc()
}

// RecordError records a cache backend error.
func (m *Metrics) RecordError(service, op string) {
	m.errors.WithLabelValues(service, op).Inc()
}

// Package metrics exposes the Prometheus gauges and counters named in
// SPEC_FULL.md's domain-stack section, wired the same way the
// orchestrator exposes its own observability metrics: promauto
// constructors registered against a dedicated registry, served by
// promhttp.HandlerFor on that registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every gauge/counter the gateway updates.
type Metrics struct {
	StaticPoolInUse     prometheus.Gauge
	ExclusivePoolInUse  prometheus.GaugeFunc
	ActiveStreams       prometheus.Gauge
	EventsAppendedTotal *prometheus.CounterVec
	PoolAcquireTimeouts prometheus.Counter
}

// New registers and returns the gateway's metrics against reg.
func New(reg prometheus.Registerer, exclusiveInUse func() float64) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		StaticPoolInUse: factory.NewGauge(prometheus.GaugeOpts{
			Name: "streamgate_static_pool_in_use",
			Help: "Approximate in-flight commands on the shared static Redis client.",
		}),
		ExclusivePoolInUse: factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "streamgate_exclusive_pool_in_use",
			Help: "Number of exclusive Redis connections currently checked out.",
		}, exclusiveInUse),
		ActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Name: "streamgate_active_streams",
			Help: "Number of streams observed active on the last scan.",
		}),
		EventsAppendedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "streamgate_events_appended_total",
			Help: "Events appended to stream logs, by outcome.",
		}, []string{"outcome"}),
		PoolAcquireTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamgate_pool_acquire_timeouts_total",
			Help: "Exclusive pool acquisitions that failed after the admission timeout.",
		}),
	}
}

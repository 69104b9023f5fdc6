package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the market sync collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	updatesApplied   *prometheus.CounterVec
	updatesDropped   *prometheus.CounterVec
	resyncs          *prometheus.CounterVec
	snapshotFailures *prometheus.CounterVec
	pending          *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		updatesApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsync_updates_applied_total",
			Help: "Snapshots and deltas folded into a local order book.",
		}, []string{"exchange", "pair"}),
		updatesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsync_updates_dropped_total",
			Help: "Stale or duplicate updates discarded during reconciliation.",
		}, []string{"exchange", "pair"}),
		resyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsync_resyncs_total",
			Help: "Streams torn down and resubscribed.",
		}, []string{"exchange", "pair", "reason"}),
		snapshotFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsync_snapshot_failures_total",
			Help: "Failed subscribe or snapshot round-trips.",
		}, []string{"exchange", "pair"}),
		pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marketsync_pending_updates",
			Help: "Updates buffered while waiting for a snapshot.",
		}, []string{"exchange", "pair"}),
	}
	m.registry.MustRegister(
		m.updatesApplied,
		m.updatesDropped,
		m.resyncs,
		m.snapshotFailures,
		m.pending,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveApply(exchange, pair string, applied, dropped, pending int) {
	if m == nil {
		return
	}
	m.updatesApplied.WithLabelValues(exchange, pair).Add(float64(applied))
	m.updatesDropped.WithLabelValues(exchange, pair).Add(float64(dropped))
	m.pending.WithLabelValues(exchange, pair).Set(float64(pending))
}

func (m *Metrics) Resync(exchange, pair, reason string) {
	if m == nil {
		return
	}
	m.resyncs.WithLabelValues(exchange, pair, reason).Inc()
	m.pending.WithLabelValues(exchange, pair).Set(0)
}

func (m *Metrics) SnapshotFailure(exchange, pair string) {
	if m == nil {
		return
	}
	m.snapshotFailures.WithLabelValues(exchange, pair).Inc()
}

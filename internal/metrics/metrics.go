// Package metrics registers the Prometheus collectors for unlock activity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PositionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "adventure_positions_total",
		Help: "Total position fixes evaluated by unlock engines",
	})
	PositionsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "adventure_positions_dropped_total",
		Help: "Position fixes dropped because an evaluation cycle was in flight",
	})
	UnlocksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "adventure_unlocks_total",
		Help: "Locations unlocked, by source",
	}, []string{"source"})
	StoreFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "adventure_visited_store_failures_total",
		Help: "Visited-state store failures, by operation",
	}, []string{"op"})
	RecordFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "adventure_record_visit_failures_total",
		Help: "Remote visit recordings that failed",
	})
	RecordDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "adventure_record_visit_duration_ms",
		Help:    "Remote visit recording duration in milliseconds",
		Buckets: []float64{5, 10, 20, 50, 100, 200, 500, 1000, 5000},
	})
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "adventure_active_sessions",
		Help: "Tracking sessions currently held by the server",
	})
)

func init() {
	prometheus.MustRegister(PositionsTotal)
	prometheus.MustRegister(PositionsDroppedTotal)
	prometheus.MustRegister(UnlocksTotal)
	prometheus.MustRegister(StoreFailuresTotal)
	prometheus.MustRegister(RecordFailuresTotal)
	prometheus.MustRegister(RecordDurationMs)
	prometheus.MustRegister(ActiveSessions)
}

// Handler exposes the registered collectors for scraping.
func Handler() http.Handler { return promhttp.Handler() }

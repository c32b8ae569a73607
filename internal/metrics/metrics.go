// Package metrics provides Prometheus collectors for the state store and the HTTP handler exposing them.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Operation results
const (
	ResultOK       = "ok"
	ResultError    = "error"
	ResultNotFound = "not_found"
)

// StoreMetrics counts and times state store operations.
// A nil *StoreMetrics is valid and records nothing.
type StoreMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	trades     *prometheus.CounterVec
}

// NewStoreMetrics creates the store collectors and registers them on reg
func NewStoreMetrics(reg prometheus.Registerer) *StoreMetrics {
	m := &StoreMetrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "amats_store_operations_total",
				Help: "Total number of state store operations",
			},
			[]string{"op", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "amats_store_operation_duration_seconds",
				Help:    "Duration of state store operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		trades: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "amats_trade_records_appended_total",
				Help: "Total number of trade records appended",
			},
			[]string{"symbol", "side"},
		),
	}

	reg.MustRegister(m.operations, m.duration, m.trades)
	return m
}

// Observe records one operation that started at start
func (m *StoreMetrics) Observe(op string, start time.Time, result string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, result).Inc()
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// RecordTrade counts an appended trade record
func (m *StoreMetrics) RecordTrade(symbol, side string) {
	if m == nil {
		return
	}
	m.trades.WithLabelValues(symbol, side).Inc()
}

// Handler serves the metrics gathered by g in the Prometheus text format
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

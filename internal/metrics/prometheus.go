// Package metrics exports escrow engine and sweep metrics to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"escrow/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "escrow"

// Collector implements the escrow service and sweep metrics interfaces.
type Collector struct {
	registry *prometheus.Registry

	opDuration  *prometheus.HistogramVec
	opResults   *prometheus.CounterVec
	transitions *prometheus.CounterVec
	txnCount    *prometheus.CounterVec
	txnAmount   *prometheus.CounterVec
	cache       *prometheus.CounterVec
	errors      *prometheus.CounterVec

	sweepRuns     prometheus.Counter
	sweepEscrows  *prometheus.CounterVec
	sweepDuration prometheus.Histogram
}

// NewCollector registers all metrics on a fresh registry, together with the
// Go runtime and process collectors.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of escrow commands.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		opResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Escrow commands by result.",
		}, []string{"operation", "result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Accepted status transitions.",
		}, []string{"from", "to", "role"}),
		txnCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Financial records written.",
		}, []string{"type"}),
		txnAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transaction_amount_minor_units_total",
			Help:      "Sum of recorded amounts in minor units.",
		}, []string{"type"}),
		cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detail_cache_requests_total",
			Help:      "Detail cache lookups by outcome.",
		}, []string{"outcome"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Rejected or failed commands by kind.",
		}, []string{"operation", "kind"}),
		sweepRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "runs_total",
			Help:      "Completed sweep runs.",
		}),
		sweepEscrows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "escrows_total",
			Help:      "Escrows handled by the sweep by outcome.",
		}, []string{"outcome"}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "duration_seconds",
			Help:      "Duration of sweep runs.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.opDuration,
		c.opResults,
		c.transitions,
		c.txnCount,
		c.txnAmount,
		c.cache,
		c.errors,
		c.sweepRuns,
		c.sweepEscrows,
		c.sweepDuration,
	)
	return c
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) RecordOperationDuration(operation string, duration time.Duration) {
	c.opDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (c *Collector) RecordOperationResult(operation, result string) {
	c.opResults.WithLabelValues(operation, result).Inc()
}

func (c *Collector) RecordTransition(from, to models.EscrowStatus, role models.Role) {
	c.transitions.WithLabelValues(string(from), string(to), string(role)).Inc()
}

func (c *Collector) RecordTransaction(txType models.TransactionType, amount int64) {
	c.txnCount.WithLabelValues(string(txType)).Inc()
	c.txnAmount.WithLabelValues(string(txType)).Add(float64(amount))
}

// Cache keys carry escrow ids; only the outcome is used as a label.
func (c *Collector) RecordCacheHit(string) {
	c.cache.WithLabelValues("hit").Inc()
}

func (c *Collector) RecordCacheMiss(string) {
	c.cache.WithLabelValues("miss").Inc()
}

func (c *Collector) RecordError(operation, errType string) {
	c.errors.WithLabelValues(operation, errType).Inc()
}

func (c *Collector) RecordSweep(released, skipped, failed int, duration time.Duration) {
	c.sweepRuns.Inc()
	c.sweepEscrows.WithLabelValues("released").Add(float64(released))
	c.sweepEscrows.WithLabelValues("skipped").Add(float64(skipped))
	c.sweepEscrows.WithLabelValues("failed").Add(float64(failed))
	c.sweepDuration.Observe(duration.Seconds())
}

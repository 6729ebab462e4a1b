package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "costrecon"

// PrometheusMetrics holds all Prometheus metrics. A nil *PrometheusMetrics is
// valid and records nothing.
type PrometheusMetrics struct {
	// Statement metrics
	StatementsTotal         *prometheus.CounterVec
	StatementLatency        prometheus.Histogram
	StatementTotalCost      *prometheus.GaugeVec
	StatementVariancePct    *prometheus.GaugeVec
	LineItemsTotal          *prometheus.CounterVec
	StatementWarningsTotal  prometheus.Counter
	UnpricedOperationsTotal *prometheus.CounterVec

	// Calibration metrics
	CalibrationsAnalyzedTotal prometheus.Counter
	CalibrationsAppliedTotal  *prometheus.CounterVec
	RateCardMultiplier        *prometheus.GaugeVec
	RateCardVariancePct       *prometheus.GaugeVec

	// Fetch metrics
	FetchesTotal *prometheus.CounterVec
	FetchLatency *prometheus.HistogramVec

	// Cache metrics
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter

	// Retry metrics
	RetriesTotal *prometheus.CounterVec

	// Circuit breaker metrics
	CircuitOpenTotal     *prometheus.CounterVec
	CircuitClosedTotal   *prometheus.CounterVec
	CircuitHalfOpenTotal *prometheus.CounterVec
}

// NewPrometheusMetrics registers the metric set on reg. Passing nil uses the
// default registerer.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		// Statement metrics
		StatementsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "statements_total",
				Help:      "Total number of cost statement generations",
			},
			[]string{"status"},
		),

		StatementLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "statement_generation_seconds",
				Help:      "Cost statement generation latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),

		StatementTotalCost: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "statement_total_cost",
				Help:      "Total cost of the latest statement per period and source",
			},
			[]string{"period", "source", "currency"},
		),

		StatementVariancePct: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "statement_variance_percent",
				Help:      "Estimate vs real variance percent of the latest statement per period",
			},
			[]string{"period"},
		),

		LineItemsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "line_items_total",
				Help:      "Total number of line items produced",
			},
			[]string{"source"},
		),

		StatementWarningsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "statement_warnings_total",
				Help:      "Total number of statement warnings emitted",
			},
		),

		UnpricedOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "unpriced_operations_total",
				Help:      "Total number of operations with no matching rate card",
			},
			[]string{"provider", "service"},
		),

		// Calibration metrics
		CalibrationsAnalyzedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "calibrations_analyzed_total",
				Help:      "Total number of rate card calibration analyses",
			},
		),

		CalibrationsAppliedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "calibrations_applied_total",
				Help:      "Total number of calibrations written to the registry",
			},
			[]string{"rate_card_id"},
		),

		RateCardMultiplier: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "rate_card_calibration_multiplier",
				Help:      "Current calibration multiplier per rate card",
			},
			[]string{"rate_card_id"},
		),

		RateCardVariancePct: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "rate_card_variance_percent",
				Help:      "Latest analyzed variance percent per rate card",
			},
			[]string{"rate_card_id"},
		),

		// Fetch metrics
		FetchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetches_total",
				Help:      "Total number of data source fetches",
			},
			[]string{"source", "status"},
		),

		FetchLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_latency_seconds",
				Help:      "Data source fetch latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"source"},
		),

		// Cache metrics
		CacheHitsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_cache_hits_total",
				Help:      "Total number of fetch cache hits",
			},
		),

		CacheMissesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_cache_misses_total",
				Help:      "Total number of fetch cache misses",
			},
		),

		// Retry metrics
		RetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_retries_total",
				Help:      "Total number of fetch retries",
			},
			[]string{"source", "reason"},
		),

		// Circuit breaker metrics
		CircuitOpenTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_open_total",
				Help:      "Total number of circuit breaker opens",
			},
			[]string{"source"},
		),

		CircuitClosedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_closed_total",
				Help:      "Total number of circuit breaker closes",
			},
			[]string{"source"},
		),

		CircuitHalfOpenTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_half_open_total",
				Help:      "Total number of circuit breaker half-opens",
			},
			[]string{"source"},
		),
	}
}

// RecordStatement records one statement generation
func (m *PrometheusMetrics) RecordStatement(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.StatementsTotal.WithLabelValues(status).Inc()
	m.StatementLatency.Observe(duration.Seconds())
}

// RecordStatementTotals records the totals of a generated statement
func (m *PrometheusMetrics) RecordStatementTotals(period, currency string, estimated, real, variancePercent float64) {
	if m == nil {
		return
	}
	m.StatementTotalCost.WithLabelValues(period, "estimate", currency).Set(estimated)
	m.StatementTotalCost.WithLabelValues(period, "real", currency).Set(real)
	m.StatementVariancePct.WithLabelValues(period).Set(variancePercent)
}

// RecordLineItems records produced line items per source
func (m *PrometheusMetrics) RecordLineItems(source string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.LineItemsTotal.WithLabelValues(source).Add(float64(count))
}

// RecordWarnings records emitted statement warnings
func (m *PrometheusMetrics) RecordWarnings(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.StatementWarningsTotal.Add(float64(count))
}

// RecordUnpriced records operations no rate card priced
func (m *PrometheusMetrics) RecordUnpriced(provider, service string, operations int) {
	if m == nil || operations <= 0 {
		return
	}
	m.UnpricedOperationsTotal.WithLabelValues(provider, service).Add(float64(operations))
}

// RecordCalibrationAnalysis records one analyzed rate card
func (m *PrometheusMetrics) RecordCalibrationAnalysis(rateCardID string, variancePercent float64) {
	if m == nil {
		return
	}
	m.CalibrationsAnalyzedTotal.Inc()
	m.RateCardVariancePct.WithLabelValues(rateCardID).Set(variancePercent)
}

// RecordCalibrationApplied records a multiplier written to the registry
func (m *PrometheusMetrics) RecordCalibrationApplied(rateCardID string, multiplier float64) {
	if m == nil {
		return
	}
	m.CalibrationsAppliedTotal.WithLabelValues(rateCardID).Inc()
	m.RateCardMultiplier.WithLabelValues(rateCardID).Set(multiplier)
}

// SetMultiplier publishes a rate card's current multiplier
func (m *PrometheusMetrics) SetMultiplier(rateCardID string, multiplier float64) {
	if m == nil {
		return
	}
	m.RateCardMultiplier.WithLabelValues(rateCardID).Set(multiplier)
}

// RecordFetch records a data source fetch
func (m *PrometheusMetrics) RecordFetch(source, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.FetchesTotal.WithLabelValues(source, status).Inc()
	m.FetchLatency.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordCacheHit records a cache hit
func (m *PrometheusMetrics) RecordCacheHit() {
	if m == nil {
		return
	}
	m.CacheHitsTotal.Inc()
}

// RecordCacheMiss records a cache miss
func (m *PrometheusMetrics) RecordCacheMiss() {
	if m == nil {
		return
	}
	m.CacheMissesTotal.Inc()
}

// RecordRetry records a retry
func (m *PrometheusMetrics) RecordRetry(source, reason string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(source, reason).Inc()
}

// RecordCircuitOpen records a circuit breaker open
func (m *PrometheusMetrics) RecordCircuitOpen(source string) {
	if m == nil {
		return
	}
	m.CircuitOpenTotal.WithLabelValues(source).Inc()
}

// RecordCircuitClosed records a circuit breaker close
func (m *PrometheusMetrics) RecordCircuitClosed(source string) {
	if m == nil {
		return
	}
	m.CircuitClosedTotal.WithLabelValues(source).Inc()
}

// RecordCircuitHalfOpen records a circuit breaker half-open
func (m *PrometheusMetrics) RecordCircuitHalfOpen(source string) {
	if m == nil {
		return
	}
	m.CircuitHalfOpenTotal.WithLabelValues(source).Inc()
}

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPrometheusMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheusMetrics(reg)

	m.RecordStatement("success", 150*time.Millisecond)
	m.RecordStatementTotals("2024-01", "USD", 100, 120, 20)
	m.RecordLineItems("estimate", 3)
	m.RecordLineItems("real", 0)
	m.RecordCalibrationApplied("gcp-cloud-run-v1", 1.1)
	m.RecordFetch("memory", "success", time.Millisecond)
	m.RecordRetry("bigquery", "http_503")
	m.RecordCircuitOpen("bigquery")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.StatementsTotal.WithLabelValues("success")))
	assert.Equal(t, 120.0, testutil.ToFloat64(m.StatementTotalCost.WithLabelValues("2024-01", "real", "USD")))
	assert.Equal(t, 20.0, testutil.ToFloat64(m.StatementVariancePct.WithLabelValues("2024-01")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.LineItemsTotal.WithLabelValues("estimate")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.LineItemsTotal.WithLabelValues("real")))
	assert.Equal(t, 1.1, testutil.ToFloat64(m.RateCardMultiplier.WithLabelValues("gcp-cloud-run-v1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FetchesTotal.WithLabelValues("memory", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RetriesTotal.WithLabelValues("bigquery", "http_503")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CircuitOpenTotal.WithLabelValues("bigquery")))
}

func TestPrometheusMetrics_IndependentRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewPrometheusMetrics(prometheus.NewRegistry())
		NewPrometheusMetrics(prometheus.NewRegistry())
	})
}

func TestPrometheusMetrics_NilSafe(t *testing.T) {
	var m *PrometheusMetrics
	assert.NotPanics(t, func() {
		m.RecordStatement("error", time.Second)
		m.RecordStatementTotals("2024-01", "USD", 1, 2, 100)
		m.RecordCalibrationAnalysis("x", 12)
		m.RecordCacheHit()
		m.RecordCircuitHalfOpen("x")
	})
}

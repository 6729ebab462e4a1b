package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/snow-ghost/costrecon/pkg/logging"
	"github.com/snow-ghost/costrecon/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestManager_RecordFetch(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	m := metrics.NewPrometheusMetrics(prometheus.NewRegistry())
	manager := NewManagerWith(logging.FromZap(zap.New(core)), m, nil)

	ctx := context.Background()
	manager.RecordFetch(ctx, "ops", "2024-01", 10, false, time.Millisecond, nil)
	manager.RecordFetch(ctx, "ops", "2024-01", 0, false, time.Millisecond, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.FetchesTotal.WithLabelValues("ops", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FetchesTotal.WithLabelValues("ops", "error")))
	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "Data source fetch failed", logs.All()[1].Message)
}

func TestManager_RecordCircuitBreaker(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	m := metrics.NewPrometheusMetrics(prometheus.NewRegistry())
	manager := NewManagerWith(logging.FromZap(zap.New(core)), m, nil)

	manager.RecordCircuitBreaker(context.Background(), "billing", "closed", "open")
	manager.RecordCircuitBreaker(context.Background(), "billing", "open", "half-open")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CircuitOpenTotal.WithLabelValues("billing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CircuitHalfOpenTotal.WithLabelValues("billing")))
	assert.Equal(t, 2, logs.FilterMessage("Circuit breaker state changed").Len())
}

func TestNopManager(t *testing.T) {
	manager := NewNopManager()
	ctx, span := manager.GetTracer().StartStatementSpan(context.Background(), "2024-01", true, true)
	span.End()
	assert.NotNil(t, ctx)
	assert.NoError(t, manager.Shutdown(context.Background()))
}

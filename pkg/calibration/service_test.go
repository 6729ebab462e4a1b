package calibration

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/snow-ghost/costrecon/pkg/logging"
	"github.com/snow-ghost/costrecon/pkg/metrics"
	"github.com/snow-ghost/costrecon/pkg/observability"
	"github.com/snow-ghost/costrecon/pkg/ratecard"
	"github.com/snow-ghost/costrecon/pkg/statement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T) *ratecard.Registry {
	t.Helper()
	registry, err := ratecard.NewDefaultRegistry(ratecard.DefaultConfig())
	require.NoError(t, err)
	return registry
}

func gcpStatement(services map[string][2]float64) *statement.CostStatement {
	summary := &statement.ProviderSummary{Services: map[string]*statement.Totals{}}
	for service, totals := range services {
		summary.Services[service] = &statement.Totals{EstimatedCost: totals[0], RealCost: totals[1]}
		summary.EstimatedCost += totals[0]
		summary.RealCost += totals[1]
	}
	return &statement.CostStatement{
		ID:         "stmt-1",
		Period:     "2024-01",
		ByProvider: map[string]*statement.ProviderSummary{"gcp": summary},
	}
}

func TestService_AnalyzeStatement(t *testing.T) {
	registry := newRegistry(t)
	service := NewService(registry, DefaultConfig(), nil)

	report := service.AnalyzeStatement(context.Background(), gcpStatement(map[string][2]float64{
		"cloud-run": {100, 130},
		"firestore": {100, 102},
		"bigquery":  {10, 50},
	}))

	require.Len(t, report.Results, 2, "services without a rate card are skipped")
	assert.Equal(t, "stmt-1", report.StatementID)

	run := report.Results[0]
	assert.Equal(t, "gcp-cloud-run-v1", run.RateCardID)
	assert.InDelta(t, 30.0, run.VariancePercent, 1e-9)
	assert.True(t, run.NeedsCalibration)
	assert.False(t, run.Applied)
	assert.InDelta(t, 1.15, run.SuggestedMultiplier, 1e-9)
	assert.Equal(t, 130000, run.SampleSize)
	assert.Equal(t, 1.0, run.Confidence)
	assert.Contains(t, run.Reason, "exceeds")

	store := report.Results[1]
	assert.Equal(t, "gcp-firestore-v1", store.RateCardID)
	assert.False(t, store.NeedsCalibration)
	assert.Equal(t, 1.0, store.SuggestedMultiplier)
	assert.Contains(t, store.Reason, "within")

	assert.Equal(t, Summary{TotalRateCards: 2, NeedingCalibration: 1, AverageVariancePercent: 16}, report.Summary)
	require.Len(t, report.Recommendations, 2)
	assert.Contains(t, report.Recommendations[0], "average variance of 16.0%")
	assert.Contains(t, report.Recommendations[1], "gcp-cloud-run-v1")

	assert.Len(t, report.DataPoints, 2)
	assert.Len(t, registry.History("gcp-cloud-run-v1"), 1)
	assert.Len(t, registry.History("gcp-firestore-v1"), 1, "history is recorded even within threshold")

	card := registry.FindByID("gcp-cloud-run-v1")
	assert.Equal(t, 1.0, card.CalibrationMultiplier, "analysis never applies")
}

func TestService_SuggestionClamp(t *testing.T) {
	tests := []struct {
		name      string
		estimated float64
		real      float64
		want      float64
	}{
		{name: "damped increase", estimated: 100, real: 120, want: 1.1},
		{name: "damped decrease", estimated: 100, real: 80, want: 0.9},
		{name: "clamped up", estimated: 10, real: 100, want: 1.2},
		{name: "clamped down", estimated: 100, real: 10, want: 0.8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := NewService(newRegistry(t), DefaultConfig(), nil)
			report := service.AnalyzeStatement(context.Background(), gcpStatement(map[string][2]float64{
				"cloud-run": {tt.estimated, tt.real},
			}))
			require.Len(t, report.Results, 1)
			assert.InDelta(t, tt.want, report.Results[0].SuggestedMultiplier, 1e-9)
		})
	}
}

func TestService_ZeroEstimate(t *testing.T) {
	service := NewService(newRegistry(t), DefaultConfig(), nil)
	report := service.AnalyzeStatement(context.Background(), gcpStatement(map[string][2]float64{
		"cloud-run": {0, 5},
	}))

	require.Len(t, report.Results, 1)
	result := report.Results[0]
	assert.Equal(t, 100.0, result.VariancePercent)
	assert.False(t, result.NeedsCalibration)
	assert.Equal(t, 1.0, result.SuggestedMultiplier)
	assert.Equal(t, "no estimated cost to calibrate against", result.Reason)
}

func TestService_ApplyCalibrations(t *testing.T) {
	registry := newRegistry(t)
	m := metrics.NewPrometheusMetrics(prometheus.NewRegistry())
	service := NewService(registry, DefaultConfig(), observability.NewManagerWith(logging.NewNop(), m, nil))

	report := service.AnalyzeStatement(context.Background(), gcpStatement(map[string][2]float64{
		"cloud-run":     {100, 130},
		"firestore":     {100, 102},
		"cloud-storage": {0.04, 0.05},
	}))
	require.Len(t, report.Results, 3)

	results := service.ApplyCalibrations(context.Background(), report.Results, ApplyOptions{})
	byID := make(map[string]Result)
	for _, result := range results {
		byID[result.RateCardID] = result
	}

	run := byID["gcp-cloud-run-v1"]
	assert.True(t, run.Applied)
	assert.Contains(t, run.Reason, "applied multiplier 1.1500")
	assert.InDelta(t, 1.15, registry.FindByID("gcp-cloud-run-v1").CalibrationMultiplier, 1e-9)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CalibrationsAppliedTotal.WithLabelValues("gcp-cloud-run-v1")))

	store := byID["gcp-firestore-v1"]
	assert.False(t, store.Applied)
	assert.Contains(t, store.Reason, "no calibration needed")

	storage := byID["gcp-cloud-storage-v1"]
	assert.True(t, storage.NeedsCalibration)
	assert.InDelta(t, 0.5, storage.Confidence, 1e-9)
	assert.False(t, storage.Applied)
	assert.Contains(t, storage.Reason, "confidence 0.50 is below the required 0.80")
	assert.Equal(t, 1.0, registry.FindByID("gcp-cloud-storage-v1").CalibrationMultiplier)

	assert.False(t, report.Results[0].Applied, "input results are not modified")
	assert.Equal(t, 1, Summarize(results).Applied)
}

func TestService_ApplyCalibrations_Force(t *testing.T) {
	registry := newRegistry(t)
	service := NewService(registry, DefaultConfig(), nil)

	results := service.ApplyCalibrations(context.Background(), []Result{
		{RateCardID: "gcp-cloud-storage-v1", CurrentMultiplier: 1, SuggestedMultiplier: 1.125, Confidence: 0.5, NeedsCalibration: true},
		{RateCardID: "missing", CurrentMultiplier: 1, SuggestedMultiplier: 1.1},
	}, ApplyOptions{Force: true})

	assert.True(t, results[0].Applied)
	assert.InDelta(t, 1.125, registry.FindByID("gcp-cloud-storage-v1").CalibrationMultiplier, 1e-9)
	assert.False(t, results[1].Applied)
	assert.Equal(t, "rate card missing not found", results[1].Reason)
}

func TestService_ApplyCalibrations_RegistryClamp(t *testing.T) {
	registry := newRegistry(t)
	service := NewService(registry, DefaultConfig(), nil)

	results := service.ApplyCalibrations(context.Background(), []Result{
		{RateCardID: "gcp-firestore-v1", CurrentMultiplier: 1, SuggestedMultiplier: 3, Confidence: 1, NeedsCalibration: true},
	}, ApplyOptions{})

	require.True(t, results[0].Applied)
	assert.InDelta(t, 1.2, registry.FindByID("gcp-firestore-v1").CalibrationMultiplier, 1e-9)
	assert.Contains(t, results[0].Reason, "applied multiplier 1.2000")
}

func TestService_AnalyzeVarianceTrend(t *testing.T) {
	tests := []struct {
		name      string
		variances []float64
		want      Trend
	}{
		{name: "no history", want: TrendInsufficientData},
		{name: "single point", variances: []float64{10}, want: TrendInsufficientData},
		{name: "improving", variances: []float64{40, 30, 10, 5}, want: TrendImproving},
		{name: "worsening", variances: []float64{5, 5, 20, 30}, want: TrendWorsening},
		{name: "stable", variances: []float64{10, 10, 10, 11}, want: TrendStable},
		{name: "sign ignored", variances: []float64{-20, 20, -20, 19}, want: TrendStable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := newRegistry(t)
			for _, v := range tt.variances {
				registry.AddCalibrationData(ratecard.CalibrationData{RateCardID: "gcp-cloud-run-v1", VariancePercent: v})
			}

			report := NewService(registry, DefaultConfig(), nil).AnalyzeVarianceTrend("gcp-cloud-run-v1")
			assert.Equal(t, tt.want, report.Trend)
			assert.Equal(t, len(tt.variances), report.DataPoints)
		})
	}
}

func TestService_ResetCalibration(t *testing.T) {
	registry := newRegistry(t)
	service := NewService(registry, DefaultConfig(), nil)

	require.True(t, registry.Calibrate("gcp-cloud-run-v1", 1.2))
	require.True(t, registry.Calibrate("gcp-cloud-run-v1", 1.4))
	require.InDelta(t, 1.4, registry.FindByID("gcp-cloud-run-v1").CalibrationMultiplier, 1e-9)

	assert.True(t, service.ResetCalibration("gcp-cloud-run-v1"))
	assert.InDelta(t, 1.2, registry.FindByID("gcp-cloud-run-v1").CalibrationMultiplier, 1e-9, "reset moves through the clamp")
	assert.True(t, service.ResetCalibration("gcp-cloud-run-v1"))
	assert.InDelta(t, 1.0, registry.FindByID("gcp-cloud-run-v1").CalibrationMultiplier, 1e-9)

	assert.False(t, service.ResetCalibration("missing"))
}

func TestNewService_ZeroConfig(t *testing.T) {
	service := NewService(newRegistry(t), Config{}, nil)
	assert.Equal(t, DefaultConfig(), service.Config())

	report := service.AnalyzeStatement(context.Background(), gcpStatement(map[string][2]float64{
		"cloud-run": {100, 130},
		"firestore": {100, 102},
	}))
	require.Len(t, report.Results, 2)
	assert.InDelta(t, 1.15, report.Results[0].SuggestedMultiplier, 1e-9)
	assert.False(t, report.Results[1].NeedsCalibration)
}

func TestService_AnalyzeStatementMatchesSpacedServiceNames(t *testing.T) {
	registry := ratecard.NewRegistry(ratecard.DefaultConfig())
	require.NoError(t, registry.Register(&ratecard.RateCard{
		ID:       "run-custom",
		Provider: "GCP",
		Service:  "Cloud Run",
		Currency: "USD",
		Rules: []ratecard.PricingRule{
			{ID: "cpu", Unit: ratecard.UnitCPUSeconds, PricePerUnit: ratecard.Float(0.001)},
		},
	}))
	service := NewService(registry, DefaultConfig(), nil)

	report := service.AnalyzeStatement(context.Background(), gcpStatement(map[string][2]float64{
		"cloud-run": {100, 130},
	}))

	require.Len(t, report.Results, 1)
	assert.Equal(t, "run-custom", report.Results[0].RateCardID)
	assert.True(t, report.Results[0].NeedsCalibration)
	assert.Len(t, registry.History("run-custom"), 1)
}

package calibration

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/snow-ghost/costrecon/pkg/billing"
	"github.com/snow-ghost/costrecon/pkg/observability"
	"github.com/snow-ghost/costrecon/pkg/ratecard"
	"github.com/snow-ghost/costrecon/pkg/statement"
	"github.com/snow-ghost/costrecon/pkg/tracing"
)

// Service measures estimate vs real variance per rate card and writes
// multiplier corrections back through the registry.
type Service struct {
	registry *ratecard.Registry
	config   Config
	obs      *observability.Manager
	now      func() time.Time
}

// NewService creates a calibration service. obs may be nil.
func NewService(registry *ratecard.Registry, config Config, obs *observability.Manager) *Service {
	defaults := DefaultConfig()
	if config.VarianceThreshold <= 0 {
		config.VarianceThreshold = defaults.VarianceThreshold
	}
	if config.MaxChange <= 0 {
		config.MaxChange = defaults.MaxChange
	}
	if config.MinConfidence <= 0 {
		config.MinConfidence = defaults.MinConfidence
	}
	if config.DampingFactor <= 0 {
		config.DampingFactor = defaults.DampingFactor
	}
	if config.AssumedAvgCostPerOperation <= 0 {
		config.AssumedAvgCostPerOperation = defaults.AssumedAvgCostPerOperation
	}
	if config.MinSampleSize <= 0 {
		config.MinSampleSize = defaults.MinSampleSize
	}
	if config.Precision <= 0 {
		config.Precision = defaults.Precision
	}
	if obs == nil {
		obs = observability.NewNopManager()
	}

	return &Service{
		registry: registry,
		config:   config,
		obs:      obs,
		now:      time.Now,
	}
}

// Config returns the service settings
func (s *Service) Config() Config {
	return s.config
}

// AnalyzeStatement compares the estimated and real totals of every
// provider/service in the statement that has a rate card. A history point is
// recorded in the registry for each analyzed card whether or not it needs
// calibration. Nothing is applied.
func (s *Service) AnalyzeStatement(ctx context.Context, stmt *statement.CostStatement) *Report {
	ctx, span := s.obs.GetTracer().StartCalibrationSpan(ctx, "analyze", stmt.Period)
	defer span.End()

	report := &Report{
		StatementID:     stmt.ID,
		Period:          stmt.Period,
		GeneratedAt:     s.now(),
		Results:         []Result{},
		Recommendations: []string{},
		DataPoints:      []ratecard.CalibrationData{},
	}

	for _, provider := range sortedKeys(stmt.ByProvider) {
		summary := stmt.ByProvider[provider]
		for _, service := range sortedKeys(summary.Services) {
			card := s.registry.Find(provider, service, "")
			if card == nil {
				continue
			}

			result := s.analyzeService(card, provider, service, summary.Services[service])
			data := ratecard.CalibrationData{
				RateCardID:          card.ID,
				Period:              stmt.Period,
				EstimatedTotal:      result.EstimatedTotal,
				RealTotal:           result.RealTotal,
				Variance:            result.Variance,
				VariancePercent:     result.VariancePercent,
				SuggestedMultiplier: result.SuggestedMultiplier,
				Confidence:          result.Confidence,
				SampleSize:          result.SampleSize,
				CalculatedAt:        report.GeneratedAt,
			}
			s.registry.AddCalibrationData(data)

			report.Results = append(report.Results, result)
			report.DataPoints = append(report.DataPoints, data)

			s.obs.GetMetrics().RecordCalibrationAnalysis(card.ID, result.VariancePercent)
			s.obs.GetLogger().LogCalibration(ctx, card.ID, result.CurrentMultiplier, result.SuggestedMultiplier,
				result.Confidence, false, result.Reason)
		}
	}

	report.Summary = Summarize(report.Results)
	report.Recommendations = recommendations(report.Results, report.Summary)

	tracing.AddSpanAttributes(span, map[string]interface{}{
		"calibration.analyzed":            report.Summary.TotalRateCards,
		"calibration.needing_calibration": report.Summary.NeedingCalibration,
	})
	tracing.RecordSpanSuccess(span)
	return report
}

func (s *Service) analyzeService(card *ratecard.RateCard, provider, service string, totals *statement.Totals) Result {
	precision := s.config.Precision
	current := card.CalibrationMultiplier

	sampleSize := int(math.Round(totals.RealCost / s.config.AssumedAvgCostPerOperation))
	confidence := math.Min(1, float64(sampleSize)/float64(s.config.MinSampleSize))
	variancePercent := billing.VariancePercent(totals.EstimatedCost, totals.RealCost)

	result := Result{
		RateCardID:          card.ID,
		Provider:            provider,
		Service:             service,
		CurrentMultiplier:   current,
		SuggestedMultiplier: current,
		EstimatedTotal:      totals.EstimatedCost,
		RealTotal:           totals.RealCost,
		Variance:            billing.Round(totals.RealCost-totals.EstimatedCost, precision),
		VariancePercent:     billing.Round(variancePercent, precision),
		Confidence:          billing.Round(confidence, precision),
		SampleSize:          sampleSize,
	}

	threshold := s.config.VarianceThreshold * 100
	switch {
	case math.Abs(variancePercent) <= threshold:
		result.Reason = fmt.Sprintf("variance %.2f%% is within the %.2f%% threshold", variancePercent, threshold)
	case totals.EstimatedCost == 0:
		result.Reason = "no estimated cost to calibrate against"
	default:
		factor := totals.RealCost / totals.EstimatedCost
		adjustment := (factor - 1) * s.config.DampingFactor
		suggested := current * (1 + adjustment)

		lower := current * (1 - s.config.MaxChange)
		upper := current * (1 + s.config.MaxChange)
		suggested = math.Max(lower, math.Min(upper, suggested))

		result.SuggestedMultiplier = billing.Round(suggested, precision)
		result.NeedsCalibration = true
		result.Reason = fmt.Sprintf("variance %.2f%% exceeds the %.2f%% threshold, suggest multiplier %.4f",
			variancePercent, threshold, result.SuggestedMultiplier)
	}
	return result
}

// ApplyCalibrations writes suggested multipliers to the registry for results
// that need calibration and meet the confidence bar, or for every result when
// Force is set. The registry clamps each write. Returns updated copies.
func (s *Service) ApplyCalibrations(ctx context.Context, results []Result, opts ApplyOptions) []Result {
	minConfidence := opts.MinConfidence
	if minConfidence <= 0 {
		minConfidence = s.config.MinConfidence
	}

	out := make([]Result, len(results))
	for i, result := range results {
		switch {
		case opts.Force || (result.NeedsCalibration && result.Confidence >= minConfidence):
			if !s.registry.Calibrate(result.RateCardID, result.SuggestedMultiplier) {
				result.Reason = fmt.Sprintf("rate card %s not found", result.RateCardID)
				break
			}
			applied := result.SuggestedMultiplier
			if card := s.registry.FindByID(result.RateCardID); card != nil {
				applied = card.CalibrationMultiplier
			}
			result.Applied = true
			result.Reason = fmt.Sprintf("applied multiplier %.4f (was %.4f)", applied, result.CurrentMultiplier)
			s.obs.GetMetrics().RecordCalibrationApplied(result.RateCardID, applied)
		case !result.NeedsCalibration:
			result.Reason = "variance within threshold, no calibration needed"
		default:
			result.Reason = fmt.Sprintf("confidence %.2f is below the required %.2f", result.Confidence, minConfidence)
		}

		s.obs.GetLogger().LogCalibration(ctx, result.RateCardID, result.CurrentMultiplier, result.SuggestedMultiplier,
			result.Confidence, result.Applied, result.Reason)
		out[i] = result
	}
	return out
}

// AnalyzeVarianceTrend compares the mean absolute variance of the older and
// recent halves of a card's history.
func (s *Service) AnalyzeVarianceTrend(id string) TrendReport {
	history := s.registry.History(id)
	report := TrendReport{RateCardID: id, Trend: TrendInsufficientData, DataPoints: len(history)}
	if len(history) < 2 {
		return report
	}

	half := len(history) / 2
	older := meanAbsVariance(history[:half])
	recent := meanAbsVariance(history[half:])
	report.OlderMeanVariance = billing.Round(older, s.config.Precision)
	report.RecentMeanVariance = billing.Round(recent, s.config.Precision)

	switch {
	case recent < older*improvingFactor:
		report.Trend = TrendImproving
	case recent > older*worseningFactor:
		report.Trend = TrendWorsening
	default:
		report.Trend = TrendStable
	}
	return report
}

// ResetCalibration moves a card's multiplier back toward 1.0 through the
// registry clamp. Returns false for an unknown id.
func (s *Service) ResetCalibration(id string) bool {
	if !s.registry.Calibrate(id, 1.0) {
		return false
	}
	if card := s.registry.FindByID(id); card != nil {
		s.obs.GetMetrics().SetMultiplier(id, card.CalibrationMultiplier)
	}
	return true
}

// Summarize counts analyzed, needing and applied results and averages the
// absolute variance.
func Summarize(results []Result) Summary {
	summary := Summary{TotalRateCards: len(results)}
	if len(results) == 0 {
		return summary
	}

	total := 0.0
	for _, result := range results {
		if result.NeedsCalibration {
			summary.NeedingCalibration++
		}
		if result.Applied {
			summary.Applied++
		}
		total += math.Abs(result.VariancePercent)
	}
	summary.AverageVariancePercent = billing.Round(total/float64(len(results)), 2)
	return summary
}

func recommendations(results []Result, summary Summary) []string {
	out := []string{}
	if summary.AverageVariancePercent > averageVarianceRecommendation {
		out = append(out, fmt.Sprintf("average variance of %.1f%% across %d rate cards, review usage metering and pricing definitions",
			summary.AverageVariancePercent, summary.TotalRateCards))
	}
	for _, result := range results {
		if math.Abs(result.VariancePercent) > cardVarianceRecommendation {
			out = append(out, fmt.Sprintf("rate card %s (%s/%s) is off by %.1f%%, recalibrate or update its pricing rules",
				result.RateCardID, result.Provider, result.Service, result.VariancePercent))
		}
	}
	return out
}

func meanAbsVariance(entries []ratecard.CalibrationData) float64 {
	if len(entries) == 0 {
		return 0
	}
	total := 0.0
	for _, entry := range entries {
		total += math.Abs(entry.VariancePercent)
	}
	return total / float64(len(entries))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/snow-ghost/costrecon/pkg/accounting"
	"github.com/snow-ghost/costrecon/pkg/billing"
	"github.com/snow-ghost/costrecon/pkg/calibration"
	"github.com/snow-ghost/costrecon/pkg/datasource"
	"github.com/snow-ghost/costrecon/pkg/observability"
	"github.com/snow-ghost/costrecon/pkg/ratecard"
	"github.com/snow-ghost/costrecon/pkg/statement"
)

// Options controls one reconciliation pass
type Options struct {
	Sources datasource.Selector

	// Apply writes qualifying suggestions back to the registry
	Apply        bool
	ApplyOptions calibration.ApplyOptions
}

// Result is the outcome of one reconciliation pass
type Result struct {
	Statement *statement.CostStatement  `json:"statement"`
	Report    *calibration.Report       `json:"report"`
	Trends    []calibration.TrendReport `json:"trends"`
}

// Reconciler closes the estimate/real loop for a period: generate the
// statement, persist it, analyze variance, persist the new history points,
// and optionally calibrate and persist the applied multipliers.
type Reconciler struct {
	registry   *ratecard.Registry
	generator  *statement.Generator
	calibrator *calibration.Service
	store      *accounting.Manager
	obs        *observability.Manager
}

// New creates a reconciler. obs may be nil.
func New(registry *ratecard.Registry, generator *statement.Generator, calibrator *calibration.Service, store *accounting.Manager, obs *observability.Manager) *Reconciler {
	if obs == nil {
		obs = observability.NewNopManager()
	}
	return &Reconciler{
		registry:   registry,
		generator:  generator,
		calibrator: calibrator,
		store:      store,
		obs:        obs,
	}
}

// LastClosedPeriod returns the key of the month before the one containing now
func LastClosedPeriod(now time.Time) string {
	return billing.MonthOf(now).Previous().Key
}

// Restored counts what Restore loaded from the store
type Restored struct {
	HistoryPoints int `json:"history_points"`
	Multipliers   int `json:"multipliers"`
}

// Restore loads persisted multipliers and calibration history into the
// registry, so corrections applied by earlier runs carry forward.
func (r *Reconciler) Restore(ctx context.Context) (Restored, error) {
	var restored Restored

	multipliers, err := r.store.RestoreMultipliers(ctx, r.registry)
	if err != nil {
		return restored, fmt.Errorf("restore multipliers: %w", err)
	}
	restored.Multipliers = multipliers

	points, err := r.store.RestoreHistory(ctx, r.registry)
	restored.HistoryPoints = points
	if err != nil {
		return restored, fmt.Errorf("restore calibration history: %w", err)
	}

	r.obs.GetLogger().Info("Calibration state restored",
		"points", restored.HistoryPoints,
		"multipliers", restored.Multipliers,
		"rate_cards", r.registry.Len(),
	)
	return restored, nil
}

// RunPeriod reconciles one period. The statement is persisted before
// analysis so a failed calibration step never loses it.
func (r *Reconciler) RunPeriod(ctx context.Context, period string, opts Options) (*Result, error) {
	logger := r.obs.GetLogger().WithContext(ctx).With("period", period)

	stmt, err := r.generator.Generate(ctx, statement.Request{
		Period:           period,
		IncludeEstimates: true,
		IncludeReal:      true,
		Sources:          opts.Sources,
	})
	if err != nil {
		return nil, err
	}

	if err := r.store.SaveStatement(ctx, stmt); err != nil {
		return nil, fmt.Errorf("save statement %s: %w", period, err)
	}

	report := r.calibrator.AnalyzeStatement(ctx, stmt)
	if err := r.store.RecordCalibrations(ctx, report.DataPoints); err != nil {
		return nil, err
	}

	if opts.Apply {
		report.Results = r.calibrator.ApplyCalibrations(ctx, report.Results, opts.ApplyOptions)
		report.Summary = calibration.Summarize(report.Results)

		var applied []*ratecard.RateCard
		for _, res := range report.Results {
			if !res.Applied {
				continue
			}
			if card := r.registry.FindByID(res.RateCardID); card != nil {
				applied = append(applied, card)
			}
		}
		if err := r.store.SaveMultipliers(ctx, applied); err != nil {
			return nil, err
		}
	}

	result := &Result{
		Statement: stmt,
		Report:    report,
		Trends:    make([]calibration.TrendReport, 0, len(report.Results)),
	}
	for _, analyzed := range report.Results {
		result.Trends = append(result.Trends, r.calibrator.AnalyzeVarianceTrend(analyzed.RateCardID))
	}

	for _, card := range r.registry.List() {
		r.obs.GetMetrics().SetMultiplier(card.ID, card.CalibrationMultiplier)
	}

	logger.Info("Reconciliation completed",
		"statement_id", stmt.ID,
		"variance_percent", stmt.VariancePercent,
		"analyzed", report.Summary.TotalRateCards,
		"needing_calibration", report.Summary.NeedingCalibration,
		"applied", report.Summary.Applied,
		"recommendations", len(report.Recommendations),
	)
	return result, nil
}

package statement

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/snow-ghost/costrecon/pkg/billing"
	"github.com/snow-ghost/costrecon/pkg/cost"
	"github.com/snow-ghost/costrecon/pkg/datasource"
	"github.com/snow-ghost/costrecon/pkg/observability"
	"github.com/snow-ghost/costrecon/pkg/tracing"
	"golang.org/x/sync/errgroup"
)

// Generator builds cost statements from an operation source priced through
// the calculator and a billing source normalized into real line items.
type Generator struct {
	catalog    *datasource.Catalog
	calculator *cost.Calculator
	normalizer *billing.Normalizer
	config     Config
	obs        *observability.Manager
	now        func() time.Time
}

// NewGenerator creates a statement generator. obs may be nil.
func NewGenerator(catalog *datasource.Catalog, calculator *cost.Calculator, obs *observability.Manager, config Config) *Generator {
	defaults := DefaultConfig()
	if config.Precision <= 0 {
		config.Precision = defaults.Precision
	}
	if config.Currency == "" {
		config.Currency = defaults.Currency
	}
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = defaults.FetchTimeout
	}
	if config.VarianceWarningPercent <= 0 {
		config.VarianceWarningPercent = defaults.VarianceWarningPercent
	}
	if obs == nil {
		obs = observability.NewNopManager()
	}

	return &Generator{
		catalog:    catalog,
		calculator: calculator,
		normalizer: billing.NewNormalizer(config.Precision),
		config:     config,
		obs:        obs,
		now:        time.Now,
	}
}

type estimateResult struct {
	costs  *cost.OperationCosts
	source DataSourceInfo
}

type realResult struct {
	items  []billing.LineItem
	source DataSourceInfo
}

// Generate builds the statement for req.Period. Both requested fetches run
// concurrently under their own timeout; if either fails the whole generation
// fails and nothing partial is returned.
func (g *Generator) Generate(ctx context.Context, req Request) (*CostStatement, error) {
	start := g.now()

	period, err := billing.ParsePeriod(req.Period)
	if err != nil {
		return nil, err
	}

	ctx, span := g.obs.GetTracer().StartStatementSpan(ctx, period.Key, req.IncludeEstimates, req.IncludeReal)
	defer span.End()

	stmt, err := g.generate(ctx, req, period)
	duration := time.Since(start)
	if err != nil {
		tracing.RecordSpanError(span, err)
		g.obs.GetMetrics().RecordStatement("error", duration)
		g.obs.GetLogger().WithContext(ctx).Error("Cost statement generation failed", "period", period.Key, "error", err)
		return nil, fmt.Errorf("generate statement %s: %w", period.Key, err)
	}

	tracing.RecordSpanCost(span, stmt.EstimatedTotal, stmt.RealTotal, stmt.Currency)
	tracing.RecordSpanDuration(span, duration)
	tracing.RecordSpanSuccess(span)

	metrics := g.obs.GetMetrics()
	metrics.RecordStatement("success", duration)
	metrics.RecordStatementTotals(stmt.Period, stmt.Currency, stmt.EstimatedTotal, stmt.RealTotal, stmt.VariancePercent)
	metrics.RecordLineItems(string(billing.SourceEstimate), len(stmt.EstimatedLineItems))
	metrics.RecordLineItems(string(billing.SourceReal), len(stmt.RealLineItems))
	metrics.RecordWarnings(len(stmt.Warnings))

	g.obs.GetLogger().LogStatementGenerated(ctx, stmt.ID, stmt.Period, stmt.EstimatedTotal, stmt.RealTotal, stmt.VariancePercent, len(stmt.Warnings), duration)
	return stmt, nil
}

func (g *Generator) generate(ctx context.Context, req Request, period billing.Period) (*CostStatement, error) {
	var opSource datasource.OperationSource
	var billSource datasource.BillingSource
	var err error

	if req.IncludeEstimates {
		if opSource, err = g.catalog.Operations(req.Sources.Operations); err != nil {
			return nil, err
		}
	}
	if req.IncludeReal {
		if billSource, err = g.catalog.Billing(req.Sources.Billing); err != nil {
			return nil, err
		}
	}

	var estimates *estimateResult
	var reals *realResult

	group, gctx := errgroup.WithContext(ctx)
	if opSource != nil {
		group.Go(func() error {
			result, err := g.fetchEstimates(gctx, opSource, period)
			if err != nil {
				return err
			}
			estimates = result
			return nil
		})
	}
	if billSource != nil {
		group.Go(func() error {
			result, err := g.fetchReal(gctx, billSource, period)
			if err != nil {
				return err
			}
			reals = result
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	stmt := &CostStatement{
		ID:                 uuid.NewString(),
		Period:             period.Key,
		GeneratedAt:        g.now(),
		Currency:           g.config.Currency,
		LineItems:          []billing.LineItem{},
		EstimatedLineItems: []billing.LineItem{},
		RealLineItems:      []billing.LineItem{},
		DataSources:        []DataSourceInfo{},
		RateCardsUsed:      []string{},
		Warnings:           []string{},
	}

	var costs *cost.OperationCosts
	if estimates != nil {
		costs = estimates.costs
		stmt.EstimatedLineItems = estimates.costs.LineItems
		stmt.DataSources = append(stmt.DataSources, estimates.source)
		stmt.RateCardsUsed = rateCardsUsed(estimates.costs)
	}
	if reals != nil {
		stmt.RealLineItems = reals.items
		stmt.DataSources = append(stmt.DataSources, reals.source)
	}

	stmt.LineItems = make([]billing.LineItem, 0, len(stmt.EstimatedLineItems)+len(stmt.RealLineItems))
	stmt.LineItems = append(stmt.LineItems, stmt.EstimatedLineItems...)
	stmt.LineItems = append(stmt.LineItems, stmt.RealLineItems...)

	precision := g.config.Precision
	stmt.EstimatedTotal = SumLineItems(stmt.EstimatedLineItems, precision)
	stmt.RealTotal = SumLineItems(stmt.RealLineItems, precision)
	stmt.Variance = billing.Round(stmt.RealTotal-stmt.EstimatedTotal, precision)
	stmt.VariancePercent = billing.Round(billing.VariancePercent(stmt.EstimatedTotal, stmt.RealTotal), precision)

	aggregation := Aggregate(stmt.LineItems, precision)
	stmt.ByProvider = aggregation.ByProvider
	stmt.ByTenant = aggregation.ByTenant
	stmt.ByFeature = aggregation.ByFeature

	stmt.Warnings = g.warnings(stmt, req, costs)
	return stmt, nil
}

func (g *Generator) fetchEstimates(ctx context.Context, source datasource.OperationSource, period billing.Period) (*estimateResult, error) {
	ctx, cancel := context.WithTimeout(ctx, g.config.FetchTimeout)
	defer cancel()

	ctx, span := g.obs.GetTracer().StartFetchSpan(ctx, datasource.KindOperations, source.Name(), period.Key)
	defer span.End()

	started := time.Now()
	operations, err := source.FetchOperations(ctx, period)
	g.obs.RecordFetch(ctx, source.Name(), period.Key, len(operations), false, time.Since(started), err)
	if err != nil {
		tracing.RecordSpanError(span, err)
		return nil, fmt.Errorf("fetch operations from %s: %w", source.Name(), err)
	}

	costs := g.calculator.CalculateFromOperations(operations, period)
	for _, usage := range costs.Unpriced {
		g.obs.GetMetrics().RecordUnpriced(usage.Provider, usage.Service, usage.OperationCount)
	}
	tracing.AddSpanAttributes(span, map[string]interface{}{
		"fetch.records":    len(operations),
		"fetch.line_items": len(costs.LineItems),
	})

	return &estimateResult{
		costs: costs,
		source: DataSourceInfo{
			Type:        datasource.KindOperations,
			Name:        source.Name(),
			Start:       period.Start,
			End:         period.End,
			RecordCount: len(operations),
			FetchedAt:   g.now(),
		},
	}, nil
}

func (g *Generator) fetchReal(ctx context.Context, source datasource.BillingSource, period billing.Period) (*realResult, error) {
	ctx, cancel := context.WithTimeout(ctx, g.config.FetchTimeout)
	defer cancel()

	ctx, span := g.obs.GetTracer().StartFetchSpan(ctx, datasource.KindBilling, source.Name(), period.Key)
	defer span.End()

	started := time.Now()
	records, err := source.FetchBillingRecords(ctx, period)
	g.obs.RecordFetch(ctx, source.Name(), period.Key, len(records), false, time.Since(started), err)
	if err != nil {
		tracing.RecordSpanError(span, err)
		return nil, fmt.Errorf("fetch billing records from %s: %w", source.Name(), err)
	}

	items := g.normalizer.NormalizeAll(records, period)
	tracing.AddSpanAttributes(span, map[string]interface{}{
		"fetch.records": len(records),
	})

	return &realResult{
		items: items,
		source: DataSourceInfo{
			Type:        datasource.KindBilling,
			Name:        source.Name(),
			Start:       period.Start,
			End:         period.End,
			RecordCount: len(records),
			FetchedAt:   g.now(),
		},
	}, nil
}

func rateCardsUsed(costs *cost.OperationCosts) []string {
	seen := make(map[string]struct{})
	ids := []string{}
	for _, estimate := range costs.Estimates {
		if _, ok := seen[estimate.RateCardID]; ok {
			continue
		}
		seen[estimate.RateCardID] = struct{}{}
		ids = append(ids, estimate.RateCardID)
	}
	sort.Strings(ids)
	return ids
}

func (g *Generator) warnings(stmt *CostStatement, req Request, costs *cost.OperationCosts) []string {
	warnings := []string{}

	// a one-sided statement always shows 100% variance
	if req.IncludeEstimates && req.IncludeReal && math.Abs(stmt.VariancePercent) > g.config.VarianceWarningPercent {
		warnings = append(warnings, fmt.Sprintf("variance of %.2f%% between estimated and real costs exceeds %.0f%%",
			stmt.VariancePercent, g.config.VarianceWarningPercent))
	}
	if req.IncludeEstimates && len(stmt.EstimatedLineItems) == 0 {
		warnings = append(warnings, fmt.Sprintf("no estimated line items for period %s", stmt.Period))
	}
	if req.IncludeReal && len(stmt.RealLineItems) == 0 {
		warnings = append(warnings, fmt.Sprintf("no real line items for period %s", stmt.Period))
	}

	missingTenant := 0
	for _, item := range stmt.LineItems {
		if item.Attribution.TenantID == "" {
			missingTenant++
		}
	}
	if missingTenant > 0 {
		warnings = append(warnings, fmt.Sprintf("%d line items have no tenant attribution", missingTenant))
	}

	if costs == nil {
		return warnings
	}
	for _, usage := range costs.Unpriced {
		warnings = append(warnings, fmt.Sprintf("%d operations for %s/%s matched no rate card",
			usage.OperationCount, usage.Provider, usage.Service))
	}
	for _, id := range costs.OutOfWindow {
		warnings = append(warnings, fmt.Sprintf("rate card %s is not effective for period %s", id, stmt.Period))
	}
	return warnings
}

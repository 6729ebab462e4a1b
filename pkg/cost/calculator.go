package cost

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/snow-ghost/costrecon/pkg/billing"
	"github.com/snow-ghost/costrecon/pkg/ratecard"
)

const defaultGroupValue = "_default"

const bytesPerGB = 1024 * 1024 * 1024

// Calculator prices usage against the rate cards of a registry
type Calculator struct {
	registry *ratecard.Registry
	config   Config
	now      func() time.Time
}

// NewCalculator creates a new cost calculator. A non-positive precision
// falls back to billing.DefaultPrecision.
func NewCalculator(registry *ratecard.Registry, config Config) *Calculator {
	if config.Precision <= 0 {
		config.Precision = billing.DefaultPrecision
	}
	return &Calculator{
		registry: registry,
		config:   config,
		now:      time.Now,
	}
}

// Config returns the calculator settings
func (c *Calculator) Config() Config {
	return c.config
}

// CalculateCost prices a usage bag. It returns nil when no rate card matches
// the usage's provider, service and sku.
func (c *Calculator) CalculateCost(usage Usage) *CostEstimate {
	card := c.registry.Find(usage.Provider, usage.Service, usage.SKU)
	if card == nil {
		return nil
	}
	return c.price(card, usage)
}

func (c *Calculator) price(card *ratecard.RateCard, usage Usage) *CostEstimate {
	precision := c.config.Precision

	estimate := &CostEstimate{
		RateCardID:   card.ID,
		RateCardName: card.Name,
		Provider:     card.Provider,
		Service:      card.Service,
		SKU:          card.SKU,
		Currency:     card.Currency,
		Breakdown:    []CostBreakdownItem{},
		CalculatedAt: c.now(),
	}

	subtotal := 0.0
	for _, rule := range card.Rules {
		quantity := lookupQuantity(rule, usage.Metrics)
		if quantity <= 0 {
			continue
		}
		item := PriceRule(rule, quantity, precision)
		estimate.Breakdown = append(estimate.Breakdown, item)
		subtotal += item.Cost
	}

	multiplier := 1.0
	if !c.config.DisableCalibration {
		multiplier = card.CalibrationMultiplier
	}

	estimate.Subtotal = billing.Round(subtotal, precision)
	estimate.CalibrationMultiplier = multiplier
	estimate.Total = billing.Round(estimate.Subtotal*multiplier, precision)
	return estimate
}

// lookupQuantity reads a rule's metric by unit, then custom unit, then rule id.
func lookupQuantity(rule ratecard.PricingRule, metrics map[string]float64) float64 {
	for _, key := range rule.MetricKeys() {
		if value, ok := metrics[key]; ok {
			return value
		}
	}
	return 0
}

// PriceRule applies one pricing rule to a raw quantity. Free allowance is
// deducted first; tiers, when present, take precedence over the flat price.
func PriceRule(rule ratecard.PricingRule, quantity float64, precision int) CostBreakdownItem {
	free := 0.0
	if rule.FreeAllowance != nil {
		free = *rule.FreeAllowance
	}
	billable := math.Max(0, quantity-free)

	item := CostBreakdownItem{
		RuleID:           rule.ID,
		RuleName:         rule.Name,
		Unit:             unitName(rule),
		Quantity:         quantity,
		FreeAllowance:    free,
		BillableQuantity: billable,
	}

	var cost float64
	if len(rule.Tiers) > 0 {
		remaining := billable
		for _, tier := range rule.SortedTiers() {
			if remaining <= 0 {
				break
			}
			tierQuantity := math.Min(remaining, tier.Width())
			tierCost := tierQuantity * tier.PricePerUnit
			item.Tiers = append(item.Tiers, TierCost{
				Min:          tier.Min,
				Max:          tier.Max,
				Quantity:     tierQuantity,
				PricePerUnit: tier.PricePerUnit,
				Cost:         billing.Round(tierCost, precision),
			})
			cost += tierCost
			remaining -= tierQuantity
		}
	} else if rule.PricePerUnit != nil {
		item.PricePerUnit = *rule.PricePerUnit
		cost = billable * *rule.PricePerUnit
	}

	if rule.MinimumCharge != nil && billable > 0 && cost < *rule.MinimumCharge {
		cost = *rule.MinimumCharge
		item.MinimumChargeApplied = true
	}

	item.Cost = billing.Round(cost, precision)
	return item
}

func unitName(rule ratecard.PricingRule) string {
	if rule.Unit == ratecard.UnitCustom && rule.CustomUnit != "" {
		return rule.CustomUnit
	}
	return string(rule.Unit)
}

type groupKey struct {
	provider string
	service  string
	tenant   string
	feature  string
}

// AggregateOperations folds raw operations into one Usage per
// (provider, service, tenant, feature) group, in first-seen order.
func AggregateOperations(operations []billing.Operation, period billing.Period) []Usage {
	groups := make(map[groupKey]*Usage)
	var order []groupKey

	for _, op := range operations {
		key := groupKey{
			provider: billing.NormalizeKey(op.Provider),
			service:  billing.NormalizeKey(op.Service),
			tenant:   orDefault(op.Attribution.TenantID),
			feature:  orDefault(op.Attribution.Feature),
		}

		usage, ok := groups[key]
		if !ok {
			usage = &Usage{
				Provider:    key.provider,
				Service:     key.service,
				Period:      period.Key,
				Attribution: op.Attribution,
				Metrics:     make(map[string]float64),
			}
			groups[key] = usage
			order = append(order, key)
		}

		usage.OperationCount++
		addOperationMetrics(usage.Metrics, op.Metrics)
	}

	result := make([]Usage, 0, len(order))
	for _, key := range order {
		result = append(result, *groups[key])
	}
	return result
}

func orDefault(value string) string {
	if value == "" {
		return defaultGroupValue
	}
	return value
}

func addOperationMetrics(metrics map[string]float64, m billing.OperationMetrics) {
	add := func(unit ratecard.UsageUnit, value float64) {
		if value != 0 {
			metrics[string(unit)] += value
		}
	}

	durationSeconds := m.DurationMs / 1000
	cpuSeconds := m.CPUSeconds
	if cpuSeconds == 0 {
		cpuSeconds = durationSeconds
	}

	add(ratecard.UnitRequests, 1)
	add(ratecard.UnitOperations, 1)
	add(ratecard.UnitDurationMs, m.DurationMs)
	add(ratecard.UnitCPUSeconds, cpuSeconds)
	add(ratecard.UnitMemoryGBSeconds, m.MemoryMB/1024*durationSeconds)
	add(ratecard.UnitReads, m.StorageReads)
	add(ratecard.UnitWrites, m.StorageWrites)
	add(ratecard.UnitDeletes, m.StorageDeletes)
	add(ratecard.UnitEgressGB, m.NetworkEgressBytes/bytesPerGB)
	add(ratecard.UnitInputTokens, m.InputTokens)
	add(ratecard.UnitOutputTokens, m.OutputTokens)
	add(ratecard.UnitTokens, m.InputTokens+m.OutputTokens)
}

// CalculateFromOperations aggregates operations, prices every group and emits
// one estimate line item per non-zero rule cost. Cards whose effective window
// does not cover the period start still price, but are listed in OutOfWindow.
// Each line item's total is the
// pre-calibration rule cost times the multiplier recorded on its estimate, so
// calibration is applied exactly once per line item.
func (c *Calculator) CalculateFromOperations(operations []billing.Operation, period billing.Period) *OperationCosts {
	result := &OperationCosts{
		LineItems: []billing.LineItem{},
		Estimates: []*CostEstimate{},
	}
	precision := c.config.Precision
	outOfWindow := make(map[string]struct{})

	for _, usage := range AggregateOperations(operations, period) {
		card := c.registry.Find(usage.Provider, usage.Service, usage.SKU)
		if card == nil {
			result.Unpriced = append(result.Unpriced, UnpricedUsage{
				Provider:       usage.Provider,
				Service:        usage.Service,
				OperationCount: usage.OperationCount,
			})
			continue
		}
		if !card.IsEffective(period.Start) {
			if _, seen := outOfWindow[card.ID]; !seen {
				outOfWindow[card.ID] = struct{}{}
				result.OutOfWindow = append(result.OutOfWindow, card.ID)
			}
		}
		estimate := c.price(card, usage)
		result.Estimates = append(result.Estimates, estimate)

		for _, item := range estimate.Breakdown {
			if item.Cost == 0 {
				continue
			}
			result.LineItems = append(result.LineItems, billing.LineItem{
				ID:          uuid.NewString(),
				Source:      billing.SourceEstimate,
				Period:      period.Key,
				Provider:    billing.NormalizeKey(estimate.Provider),
				Service:     billing.NormalizeKey(estimate.Service),
				SKU:         estimate.SKU,
				Description: item.RuleName,
				Attribution: usage.Attribution,
				Quantity:    item.BillableQuantity,
				Unit:        item.Unit,
				UnitCost:    billing.Round(item.Cost/math.Max(item.BillableQuantity, 1), precision),
				TotalCost:   billing.Round(item.Cost*estimate.CalibrationMultiplier, precision),
				Currency:    estimate.Currency,
				RateCardID:  estimate.RateCardID,
				RuleID:      item.RuleID,
			})
		}
	}

	return result
}

package statement

import (
	"github.com/snow-ghost/costrecon/pkg/billing"
)

type accumulator struct {
	estimated float64
	real      float64
	count     int
}

func (a *accumulator) add(item billing.LineItem) {
	switch item.Source {
	case billing.SourceEstimate:
		a.estimated += item.TotalCost
	case billing.SourceReal:
		a.real += item.TotalCost
	}
	a.count++
}

func (a *accumulator) totals(precision int) Totals {
	estimated := billing.Round(a.estimated, precision)
	real := billing.Round(a.real, precision)
	return Totals{
		EstimatedCost:   estimated,
		RealCost:        real,
		Variance:        billing.Round(real-estimated, precision),
		VariancePercent: billing.Round(billing.VariancePercent(estimated, real), precision),
		LineItemCount:   a.count,
	}
}

// Aggregation holds the three statement views
type Aggregation struct {
	ByProvider map[string]*ProviderSummary
	ByTenant   map[string]*Totals
	ByFeature  map[string]*Totals
}

// Aggregate groups line items by provider and service, by tenant and by
// feature. Each group's variance is computed from its own items only.
func Aggregate(items []billing.LineItem, precision int) Aggregation {
	providers := make(map[string]*accumulator)
	services := make(map[string]map[string]*accumulator)
	tenants := make(map[string]*accumulator)
	features := make(map[string]*accumulator)

	for _, item := range items {
		bucket(providers, item.Provider).add(item)

		byService, ok := services[item.Provider]
		if !ok {
			byService = make(map[string]*accumulator)
			services[item.Provider] = byService
		}
		bucket(byService, item.Service).add(item)

		bucket(tenants, orUnattributed(item.Attribution.TenantID)).add(item)
		bucket(features, orUnattributed(item.Attribution.Feature)).add(item)
	}

	result := Aggregation{
		ByProvider: make(map[string]*ProviderSummary, len(providers)),
		ByTenant:   finish(tenants, precision),
		ByFeature:  finish(features, precision),
	}
	for provider, acc := range providers {
		result.ByProvider[provider] = &ProviderSummary{
			Totals:   acc.totals(precision),
			Services: finish(services[provider], precision),
		}
	}
	return result
}

// SumLineItems adds the total cost of items at the given precision
func SumLineItems(items []billing.LineItem, precision int) float64 {
	total := 0.0
	for _, item := range items {
		total += item.TotalCost
	}
	return billing.Round(total, precision)
}

func bucket(groups map[string]*accumulator, key string) *accumulator {
	acc, ok := groups[key]
	if !ok {
		acc = &accumulator{}
		groups[key] = acc
	}
	return acc
}

func finish(groups map[string]*accumulator, precision int) map[string]*Totals {
	out := make(map[string]*Totals, len(groups))
	for key, acc := range groups {
		totals := acc.totals(precision)
		out[key] = &totals
	}
	return out
}

func orUnattributed(value string) string {
	if value == "" {
		return UnattributedKey
	}
	return value
}

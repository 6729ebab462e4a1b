package accounting

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/snow-ghost/costrecon/pkg/billing"
)

var csvHeader = []string{
	"ID", "Source", "Period", "Provider", "Service", "SKU", "Description",
	"Tenant ID", "Feature", "Environment", "Quantity", "Unit",
	"Unit Cost", "Total Cost", "Currency", "Rate Card ID", "Rule ID", "Billing Record ID",
}

func exportLineItems(items []billing.LineItem, format ExportFormat) ([]byte, error) {
	switch format {
	case ExportFormatJSON:
		if items == nil {
			items = []billing.LineItem{}
		}
		return json.MarshalIndent(items, "", "  ")
	case ExportFormatCSV:
		return exportCSV(items)
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}

func exportCSV(items []billing.LineItem) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(csvHeader); err != nil {
		return nil, err
	}

	for _, item := range items {
		row := []string{
			item.ID,
			string(item.Source),
			item.Period,
			item.Provider,
			item.Service,
			item.SKU,
			item.Description,
			item.Attribution.TenantID,
			item.Attribution.Feature,
			item.Attribution.Environment,
			strconv.FormatFloat(item.Quantity, 'f', -1, 64),
			item.Unit,
			fmt.Sprintf("%.6f", item.UnitCost),
			fmt.Sprintf("%.6f", item.TotalCost),
			item.Currency,
			item.RateCardID,
			item.RuleID,
			item.BillingRecordID,
		}
		if err := writer.Write(row); err != nil {
			return nil, err
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func matchesFilter(item billing.LineItem, filter LineItemFilter) bool {
	if filter.Period != "" && item.Period != filter.Period {
		return false
	}
	if filter.Source != "" && item.Source != filter.Source {
		return false
	}
	if filter.Provider != "" && item.Provider != filter.Provider {
		return false
	}
	if filter.Service != "" && item.Service != filter.Service {
		return false
	}
	if filter.TenantID != "" && item.Attribution.TenantID != filter.TenantID {
		return false
	}
	return true
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return []T{}
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

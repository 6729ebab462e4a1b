package accounting

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/snow-ghost/costrecon/pkg/billing"
	"github.com/snow-ghost/costrecon/pkg/ratecard"
	"github.com/snow-ghost/costrecon/pkg/statement"
)

// MemoryStore implements Store in memory. Statements are kept by reference
// since they are not modified after generation.
type MemoryStore struct {
	statements  map[string]*statement.CostStatement
	history     map[string][]ratecard.CalibrationData
	multipliers map[string]Multiplier
	mu          sync.RWMutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		statements:  make(map[string]*statement.CostStatement),
		history:     make(map[string][]ratecard.CalibrationData),
		multipliers: make(map[string]Multiplier),
	}
}

// SaveStatement stores a statement under its period
func (m *MemoryStore) SaveStatement(ctx context.Context, stmt *statement.CostStatement) error {
	if stmt == nil || stmt.Period == "" {
		return fmt.Errorf("save statement: missing period")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.statements[stmt.Period] = stmt
	return nil
}

// GetStatement returns the statement of a period
func (m *MemoryStore) GetStatement(ctx context.Context, period string) (*statement.CostStatement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stmt, ok := m.statements[period]
	if !ok {
		return nil, fmt.Errorf("statement %s: %w", period, ErrNotFound)
	}
	return stmt, nil
}

// ListStatements returns statement headers, newest period first
func (m *MemoryStore) ListStatements(ctx context.Context) ([]StatementSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	summaries := make([]StatementSummary, 0, len(m.statements))
	for _, stmt := range m.statements {
		summaries = append(summaries, summaryOf(stmt))
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Period > summaries[j].Period
	})
	return summaries, nil
}

// QueryLineItems returns line items matching filter
func (m *MemoryStore) QueryLineItems(ctx context.Context, filter LineItemFilter) ([]billing.LineItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := []billing.LineItem{}
	for _, stmt := range m.statements {
		for _, item := range stmt.LineItems {
			if matchesFilter(item, filter) {
				items = append(items, item)
			}
		}
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Period != items[j].Period {
			return items[i].Period < items[j].Period
		}
		return items[i].ID < items[j].ID
	})
	return paginate(items, filter.Limit, filter.Offset), nil
}

// AppendCalibration appends one history point
func (m *MemoryStore) AppendCalibration(ctx context.Context, data ratecard.CalibrationData) error {
	if data.RateCardID == "" {
		return fmt.Errorf("append calibration: missing rate card id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.history[data.RateCardID] = append(m.history[data.RateCardID], data)
	return nil
}

// CalibrationHistory returns the most recent history points, oldest first
func (m *MemoryStore) CalibrationHistory(ctx context.Context, rateCardID string, limit int) ([]ratecard.CalibrationData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.history[rateCardID]
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]ratecard.CalibrationData, len(entries))
	copy(out, entries)
	return out, nil
}

// SaveMultiplier stores a card's current multiplier
func (m *MemoryStore) SaveMultiplier(ctx context.Context, multiplier Multiplier) error {
	if multiplier.RateCardID == "" {
		return fmt.Errorf("save multiplier: missing rate card id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.multipliers[multiplier.RateCardID] = multiplier
	return nil
}

// Multipliers returns stored multipliers ordered by rate card id
func (m *MemoryStore) Multipliers(ctx context.Context) ([]Multiplier, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Multiplier, 0, len(m.multipliers))
	for _, multiplier := range m.multipliers {
		out = append(out, multiplier)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RateCardID < out[j].RateCardID
	})
	return out, nil
}

// ExportLineItems exports line items in specified format
func (m *MemoryStore) ExportLineItems(ctx context.Context, filter LineItemFilter, format ExportFormat) ([]byte, error) {
	items, err := m.QueryLineItems(ctx, filter)
	if err != nil {
		return nil, err
	}
	return exportLineItems(items, format)
}

// Close is a no-op
func (m *MemoryStore) Close() error {
	return nil
}

package accounting

import (
	"context"
	"fmt"

	"github.com/snow-ghost/costrecon/pkg/ratecard"
	"github.com/snow-ghost/costrecon/pkg/statement"
)

// Backend names a Store implementation
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Config holds accounting configuration
type Config struct {
	Backend string
	DBPath  string
}

// Manager manages persisted statements and calibration history
type Manager struct {
	store Store
}

// NewStore creates the Store selected by config.Backend. An empty backend
// means memory.
func NewStore(config Config) (Store, error) {
	switch config.Backend {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendSQLite:
		if config.DBPath == "" {
			return nil, fmt.Errorf("sqlite backend requires a database path")
		}
		store, err := NewSQLiteStore(config.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store backend: %s", config.Backend)
	}
}

// NewManager creates a new accounting manager
func NewManager(config Config) (*Manager, error) {
	store, err := NewStore(config)
	if err != nil {
		return nil, err
	}
	return NewManagerWithStore(store), nil
}

// NewManagerWithStore wraps an existing store
func NewManagerWithStore(store Store) *Manager {
	return &Manager{store: store}
}

// Store returns the underlying store
func (m *Manager) Store() Store {
	return m.store
}

// SaveStatement persists a statement
func (m *Manager) SaveStatement(ctx context.Context, stmt *statement.CostStatement) error {
	return m.store.SaveStatement(ctx, stmt)
}

// GetStatement loads the statement of a period
func (m *Manager) GetStatement(ctx context.Context, period string) (*statement.CostStatement, error) {
	return m.store.GetStatement(ctx, period)
}

// ListStatements lists persisted statement headers
func (m *Manager) ListStatements(ctx context.Context) ([]StatementSummary, error) {
	return m.store.ListStatements(ctx)
}

// ExportLineItems exports persisted line items
func (m *Manager) ExportLineItems(ctx context.Context, filter LineItemFilter, format ExportFormat) ([]byte, error) {
	return m.store.ExportLineItems(ctx, filter, format)
}

// RecordCalibrations appends every history point, stopping at the first error
func (m *Manager) RecordCalibrations(ctx context.Context, points []ratecard.CalibrationData) error {
	for _, data := range points {
		if err := m.store.AppendCalibration(ctx, data); err != nil {
			return fmt.Errorf("append calibration for %s: %w", data.RateCardID, err)
		}
	}
	return nil
}

// RestoreHistory replaces the in-memory history of every registered card
// with the most recent persisted points, as many as the registry retains.
// Returns the number of points restored.
func (m *Manager) RestoreHistory(ctx context.Context, registry *ratecard.Registry) (int, error) {
	limit := 2 * registry.Config().LookbackPeriods
	restored := 0

	for _, card := range registry.List() {
		history, err := m.store.CalibrationHistory(ctx, card.ID, limit)
		if err != nil {
			return restored, fmt.Errorf("load calibration history for %s: %w", card.ID, err)
		}
		if len(history) == 0 {
			continue
		}

		registry.ClearHistory(card.ID)
		for _, data := range history {
			registry.AddCalibrationData(data)
		}
		restored += len(history)
	}

	return restored, nil
}

// SaveMultipliers persists the current multiplier of each card
func (m *Manager) SaveMultipliers(ctx context.Context, cards []*ratecard.RateCard) error {
	for _, card := range cards {
		multiplier := Multiplier{
			RateCardID: card.ID,
			Multiplier: card.CalibrationMultiplier,
		}
		if card.LastCalibratedAt != nil {
			multiplier.CalibratedAt = *card.LastCalibratedAt
		}
		if err := m.store.SaveMultiplier(ctx, multiplier); err != nil {
			return fmt.Errorf("save multiplier for %s: %w", card.ID, err)
		}
	}
	return nil
}

// RestoreMultipliers sets every registered card's multiplier to its
// persisted value. Stored multipliers of unregistered cards are skipped.
// Returns the number of cards restored.
func (m *Manager) RestoreMultipliers(ctx context.Context, registry *ratecard.Registry) (int, error) {
	multipliers, err := m.store.Multipliers(ctx)
	if err != nil {
		return 0, fmt.Errorf("load multipliers: %w", err)
	}

	restored := 0
	for _, multiplier := range multipliers {
		if registry.SetMultiplier(multiplier.RateCardID, multiplier.Multiplier, multiplier.CalibratedAt) {
			restored++
		}
	}
	return restored, nil
}

// Close closes the manager
func (m *Manager) Close() error {
	return m.store.Close()
}

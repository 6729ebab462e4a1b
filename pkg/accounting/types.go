package accounting

import (
	"context"
	"errors"
	"time"

	"github.com/snow-ghost/costrecon/pkg/billing"
	"github.com/snow-ghost/costrecon/pkg/ratecard"
	"github.com/snow-ghost/costrecon/pkg/statement"
)

// ErrNotFound is returned when no statement exists for a period
var ErrNotFound = errors.New("accounting: not found")

// StatementSummary is the header of a persisted statement
type StatementSummary struct {
	ID              string    `json:"id" db:"id"`
	Period          string    `json:"period" db:"period"`
	GeneratedAt     time.Time `json:"generated_at" db:"generated_at"`
	Currency        string    `json:"currency" db:"currency"`
	EstimatedTotal  float64   `json:"estimated_total" db:"estimated_total"`
	RealTotal       float64   `json:"real_total" db:"real_total"`
	VariancePercent float64   `json:"variance_percent" db:"variance_percent"`
	LineItemCount   int       `json:"line_item_count" db:"line_item_count"`
	WarningCount    int       `json:"warning_count" db:"warning_count"`
}

// LineItemFilter selects persisted line items. Empty fields match anything.
type LineItemFilter struct {
	Period   string         `json:"period,omitempty"`
	Source   billing.Source `json:"source,omitempty"`
	Provider string         `json:"provider,omitempty"`
	Service  string         `json:"service,omitempty"`
	TenantID string         `json:"tenant_id,omitempty"`
	Limit    int            `json:"limit,omitempty"`
	Offset   int            `json:"offset,omitempty"`
}

// Multiplier is the persisted calibration multiplier of a rate card
type Multiplier struct {
	RateCardID   string    `json:"rate_card_id" db:"rate_card_id"`
	Multiplier   float64   `json:"multiplier" db:"multiplier"`
	CalibratedAt time.Time `json:"calibrated_at" db:"calibrated_at"`
}

// ExportFormat represents supported export formats
type ExportFormat string

const (
	ExportFormatJSON ExportFormat = "json"
	ExportFormatCSV  ExportFormat = "csv"
)

// Store persists one statement per period, an append-only calibration
// history per rate card and the current multiplier of each calibrated card.
type Store interface {
	// SaveStatement stores a statement, replacing any previous one for its period
	SaveStatement(ctx context.Context, stmt *statement.CostStatement) error

	// GetStatement returns the statement of a period or ErrNotFound
	GetStatement(ctx context.Context, period string) (*statement.CostStatement, error)

	// ListStatements returns statement headers, newest period first
	ListStatements(ctx context.Context) ([]StatementSummary, error)

	// QueryLineItems returns persisted line items ordered by period then id
	QueryLineItems(ctx context.Context, filter LineItemFilter) ([]billing.LineItem, error)

	// AppendCalibration appends one history point
	AppendCalibration(ctx context.Context, data ratecard.CalibrationData) error

	// CalibrationHistory returns up to limit of the most recent points for
	// a rate card, oldest first. A non-positive limit returns all.
	CalibrationHistory(ctx context.Context, rateCardID string, limit int) ([]ratecard.CalibrationData, error)

	// SaveMultiplier stores a card's multiplier, replacing the previous one
	SaveMultiplier(ctx context.Context, multiplier Multiplier) error

	// Multipliers returns every stored multiplier ordered by rate card id
	Multipliers(ctx context.Context) ([]Multiplier, error)

	// ExportLineItems exports line items in the given format
	ExportLineItems(ctx context.Context, filter LineItemFilter, format ExportFormat) ([]byte, error)

	// Close closes the store
	Close() error
}

func summaryOf(stmt *statement.CostStatement) StatementSummary {
	return StatementSummary{
		ID:              stmt.ID,
		Period:          stmt.Period,
		GeneratedAt:     stmt.GeneratedAt,
		Currency:        stmt.Currency,
		EstimatedTotal:  stmt.EstimatedTotal,
		RealTotal:       stmt.RealTotal,
		VariancePercent: stmt.VariancePercent,
		LineItemCount:   len(stmt.LineItems),
		WarningCount:    len(stmt.Warnings),
	}
}

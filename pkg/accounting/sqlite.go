package accounting

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/snow-ghost/costrecon/pkg/billing"
	"github.com/snow-ghost/costrecon/pkg/ratecard"
	"github.com/snow-ghost/costrecon/pkg/statement"
)

// SQLiteStore implements Store on SQLite. The full statement is kept as a
// JSON document; line items are also written to their own table for queries
// and export.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at dbPath
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}

	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

// createTables creates the statement, line item and calibration tables
func (s *SQLiteStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS statements (
		period TEXT PRIMARY KEY,
		id TEXT NOT NULL,
		generated_at DATETIME NOT NULL,
		currency TEXT NOT NULL,
		estimated_total REAL NOT NULL,
		real_total REAL NOT NULL,
		variance_percent REAL NOT NULL,
		line_item_count INTEGER NOT NULL,
		warning_count INTEGER NOT NULL,
		body TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS line_items (
		id TEXT PRIMARY KEY,
		period TEXT NOT NULL,
		source TEXT NOT NULL,
		provider TEXT NOT NULL,
		service TEXT NOT NULL,
		sku TEXT,
		description TEXT,
		tenant_id TEXT,
		feature TEXT,
		environment TEXT,
		quantity REAL NOT NULL,
		unit TEXT,
		unit_cost REAL NOT NULL,
		total_cost REAL NOT NULL,
		currency TEXT NOT NULL,
		rate_card_id TEXT,
		rule_id TEXT,
		billing_record_id TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_line_items_period ON line_items(period);
	CREATE INDEX IF NOT EXISTS idx_line_items_provider ON line_items(provider, service);
	CREATE INDEX IF NOT EXISTS idx_line_items_tenant ON line_items(tenant_id);

	CREATE TABLE IF NOT EXISTS calibration_history (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		rate_card_id TEXT NOT NULL,
		period TEXT NOT NULL,
		estimated_total REAL NOT NULL,
		real_total REAL NOT NULL,
		variance REAL NOT NULL,
		variance_percent REAL NOT NULL,
		suggested_multiplier REAL NOT NULL,
		confidence REAL NOT NULL,
		sample_size INTEGER NOT NULL,
		calculated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_calibration_rate_card ON calibration_history(rate_card_id, seq);

	CREATE TABLE IF NOT EXISTS rate_card_multipliers (
		rate_card_id TEXT PRIMARY KEY,
		multiplier REAL NOT NULL,
		calibrated_at DATETIME NOT NULL
	);
	`

	_, err := s.db.Exec(query)
	return err
}

// SaveStatement replaces the statement and line items of its period in one
// transaction.
func (s *SQLiteStore) SaveStatement(ctx context.Context, stmt *statement.CostStatement) error {
	if stmt == nil || stmt.Period == "" {
		return fmt.Errorf("save statement: missing period")
	}

	body, err := json.Marshal(stmt)
	if err != nil {
		return fmt.Errorf("encode statement %s: %w", stmt.Period, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM line_items WHERE period = ?`, stmt.Period); err != nil {
		return err
	}

	summary := summaryOf(stmt)
	_, err = tx.ExecContext(ctx, `
	INSERT OR REPLACE INTO statements (
		period, id, generated_at, currency, estimated_total, real_total,
		variance_percent, line_item_count, warning_count, body
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		summary.Period,
		summary.ID,
		summary.GeneratedAt,
		summary.Currency,
		summary.EstimatedTotal,
		summary.RealTotal,
		summary.VariancePercent,
		summary.LineItemCount,
		summary.WarningCount,
		string(body),
	)
	if err != nil {
		return err
	}

	insert, err := tx.PrepareContext(ctx, `
	INSERT INTO line_items (
		id, period, source, provider, service, sku, description, tenant_id, feature,
		environment, quantity, unit, unit_cost, total_cost, currency, rate_card_id,
		rule_id, billing_record_id
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer insert.Close()

	for _, item := range stmt.LineItems {
		_, err := insert.ExecContext(ctx,
			item.ID,
			item.Period,
			string(item.Source),
			item.Provider,
			item.Service,
			item.SKU,
			item.Description,
			item.Attribution.TenantID,
			item.Attribution.Feature,
			item.Attribution.Environment,
			item.Quantity,
			item.Unit,
			item.UnitCost,
			item.TotalCost,
			item.Currency,
			item.RateCardID,
			item.RuleID,
			item.BillingRecordID,
		)
		if err != nil {
			return fmt.Errorf("insert line item %s: %w", item.ID, err)
		}
	}

	return tx.Commit()
}

// GetStatement loads the statement document of a period
func (s *SQLiteStore) GetStatement(ctx context.Context, period string) (*statement.CostStatement, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM statements WHERE period = ?`, period).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("statement %s: %w", period, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	var stmt statement.CostStatement
	if err := json.Unmarshal([]byte(body), &stmt); err != nil {
		return nil, fmt.Errorf("decode statement %s: %w", period, err)
	}
	return &stmt, nil
}

// ListStatements returns statement headers, newest period first
func (s *SQLiteStore) ListStatements(ctx context.Context) ([]StatementSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, period, generated_at, currency, estimated_total, real_total,
		variance_percent, line_item_count, warning_count
	FROM statements
	ORDER BY period DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := []StatementSummary{}
	for rows.Next() {
		var summary StatementSummary
		err := rows.Scan(
			&summary.ID,
			&summary.Period,
			&summary.GeneratedAt,
			&summary.Currency,
			&summary.EstimatedTotal,
			&summary.RealTotal,
			&summary.VariancePercent,
			&summary.LineItemCount,
			&summary.WarningCount,
		)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}

	return summaries, rows.Err()
}

// QueryLineItems returns persisted line items matching filter
func (s *SQLiteStore) QueryLineItems(ctx context.Context, filter LineItemFilter) ([]billing.LineItem, error) {
	whereClause, args := buildWhereClause(filter)

	query := fmt.Sprintf(`
	SELECT
		id, period, source, provider, service, sku, description, tenant_id, feature,
		environment, quantity, unit, unit_cost, total_cost, currency, rate_card_id,
		rule_id, billing_record_id
	FROM line_items
	%s
	ORDER BY period ASC, id ASC
	`, whereClause)

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	} else if filter.Offset > 0 {
		query += fmt.Sprintf(" LIMIT -1 OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []billing.LineItem{}
	for rows.Next() {
		var item billing.LineItem
		var source string
		var sku, description, tenantID, feature, environment, unit, rateCardID, ruleID, billingRecordID sql.NullString
		err := rows.Scan(
			&item.ID,
			&item.Period,
			&source,
			&item.Provider,
			&item.Service,
			&sku,
			&description,
			&tenantID,
			&feature,
			&environment,
			&item.Quantity,
			&unit,
			&item.UnitCost,
			&item.TotalCost,
			&item.Currency,
			&rateCardID,
			&ruleID,
			&billingRecordID,
		)
		if err != nil {
			return nil, err
		}

		item.Source = billing.Source(source)
		item.SKU = sku.String
		item.Description = description.String
		item.Attribution = billing.Attribution{
			TenantID:    tenantID.String,
			Feature:     feature.String,
			Environment: environment.String,
		}
		item.Unit = unit.String
		item.RateCardID = rateCardID.String
		item.RuleID = ruleID.String
		item.BillingRecordID = billingRecordID.String
		items = append(items, item)
	}

	return items, rows.Err()
}

// AppendCalibration appends one history point
func (s *SQLiteStore) AppendCalibration(ctx context.Context, data ratecard.CalibrationData) error {
	if data.RateCardID == "" {
		return fmt.Errorf("append calibration: missing rate card id")
	}

	_, err := s.db.ExecContext(ctx, `
	INSERT INTO calibration_history (
		rate_card_id, period, estimated_total, real_total, variance, variance_percent,
		suggested_multiplier, confidence, sample_size, calculated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		data.RateCardID,
		data.Period,
		data.EstimatedTotal,
		data.RealTotal,
		data.Variance,
		data.VariancePercent,
		data.SuggestedMultiplier,
		data.Confidence,
		data.SampleSize,
		data.CalculatedAt,
	)
	return err
}

// CalibrationHistory returns the most recent history points, oldest first
func (s *SQLiteStore) CalibrationHistory(ctx context.Context, rateCardID string, limit int) ([]ratecard.CalibrationData, error) {
	query := `
	SELECT rate_card_id, period, estimated_total, real_total, variance, variance_percent,
		suggested_multiplier, confidence, sample_size, calculated_at
	FROM calibration_history
	WHERE rate_card_id = ?
	ORDER BY seq DESC
	`
	args := []interface{}{rateCardID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var newestFirst []ratecard.CalibrationData
	for rows.Next() {
		var data ratecard.CalibrationData
		err := rows.Scan(
			&data.RateCardID,
			&data.Period,
			&data.EstimatedTotal,
			&data.RealTotal,
			&data.Variance,
			&data.VariancePercent,
			&data.SuggestedMultiplier,
			&data.Confidence,
			&data.SampleSize,
			&data.CalculatedAt,
		)
		if err != nil {
			return nil, err
		}
		newestFirst = append(newestFirst, data)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	history := make([]ratecard.CalibrationData, len(newestFirst))
	for i, data := range newestFirst {
		history[len(newestFirst)-1-i] = data
	}
	return history, nil
}

// SaveMultiplier stores a card's current multiplier
func (s *SQLiteStore) SaveMultiplier(ctx context.Context, multiplier Multiplier) error {
	if multiplier.RateCardID == "" {
		return fmt.Errorf("save multiplier: missing rate card id")
	}

	_, err := s.db.ExecContext(ctx, `
	INSERT OR REPLACE INTO rate_card_multipliers (rate_card_id, multiplier, calibrated_at)
	VALUES (?, ?, ?)
	`, multiplier.RateCardID, multiplier.Multiplier, multiplier.CalibratedAt)
	return err
}

// Multipliers returns stored multipliers ordered by rate card id
func (s *SQLiteStore) Multipliers(ctx context.Context) ([]Multiplier, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT rate_card_id, multiplier, calibrated_at
	FROM rate_card_multipliers
	ORDER BY rate_card_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	multipliers := []Multiplier{}
	for rows.Next() {
		var multiplier Multiplier
		if err := rows.Scan(&multiplier.RateCardID, &multiplier.Multiplier, &multiplier.CalibratedAt); err != nil {
			return nil, err
		}
		multipliers = append(multipliers, multiplier)
	}
	return multipliers, rows.Err()
}

// ExportLineItems exports line items in specified format
func (s *SQLiteStore) ExportLineItems(ctx context.Context, filter LineItemFilter, format ExportFormat) ([]byte, error) {
	items, err := s.QueryLineItems(ctx, filter)
	if err != nil {
		return nil, err
	}
	return exportLineItems(items, format)
}

// buildWhereClause builds WHERE clause with filters
func buildWhereClause(filter LineItemFilter) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	if filter.Period != "" {
		conditions = append(conditions, "period = ?")
		args = append(args, filter.Period)
	}
	if filter.Source != "" {
		conditions = append(conditions, "source = ?")
		args = append(args, string(filter.Source))
	}
	if filter.Provider != "" {
		conditions = append(conditions, "provider = ?")
		args = append(args, filter.Provider)
	}
	if filter.Service != "" {
		conditions = append(conditions, "service = ?")
		args = append(args, filter.Service)
	}
	if filter.TenantID != "" {
		conditions = append(conditions, "tenant_id = ?")
		args = append(args, filter.TenantID)
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	return whereClause, args
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

package accounting

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/snow-ghost/costrecon/pkg/billing"
	"github.com/snow-ghost/costrecon/pkg/ratecard"
	"github.com/snow-ghost/costrecon/pkg/statement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "costrecon.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func sampleStatement(period, id string) *statement.CostStatement {
	estimate := billing.LineItem{
		ID:          id + "-e1",
		Source:      billing.SourceEstimate,
		Period:      period,
		Provider:    "gcp",
		Service:     "cloud-run",
		Description: "vCPU time",
		Attribution: billing.Attribution{TenantID: "acme", Feature: "checkout"},
		Quantity:    20000,
		Unit:        "cpu_seconds",
		UnitCost:    0.000024,
		TotalCost:   0.48,
		Currency:    "USD",
		RateCardID:  "gcp-cloud-run-v1",
		RuleID:      "cpu",
	}
	real := billing.LineItem{
		ID:              id + "-r1",
		Source:          billing.SourceReal,
		Period:          period,
		Provider:        "gcp",
		Service:         "cloud-run",
		Quantity:        20000,
		Unit:            "seconds",
		UnitCost:        0.000026,
		TotalCost:       0.52,
		Currency:        "USD",
		BillingRecordID: "bill-1",
	}

	return &statement.CostStatement{
		ID:                 id,
		Period:             period,
		GeneratedAt:        time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC),
		Currency:           "USD",
		EstimatedTotal:     0.48,
		RealTotal:          0.52,
		Variance:           0.04,
		VariancePercent:    8.333333,
		LineItems:          []billing.LineItem{estimate, real},
		EstimatedLineItems: []billing.LineItem{estimate},
		RealLineItems:      []billing.LineItem{real},
		ByTenant: map[string]*statement.Totals{
			"acme":                     {EstimatedCost: 0.48, LineItemCount: 1},
			statement.UnattributedKey: {RealCost: 0.52, LineItemCount: 1},
		},
		RateCardsUsed: []string{"gcp-cloud-run-v1"},
		Warnings:      []string{"1 line items have no tenant attribution"},
	}
}

func TestStore_Statements(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := store.GetStatement(ctx, "2024-01")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, store.SaveStatement(ctx, sampleStatement("2023-12", "stmt-a")))
			require.NoError(t, store.SaveStatement(ctx, sampleStatement("2024-01", "stmt-b")))

			got, err := store.GetStatement(ctx, "2024-01")
			require.NoError(t, err)
			assert.Equal(t, "stmt-b", got.ID)
			assert.Equal(t, 0.52, got.RealTotal)
			require.Len(t, got.LineItems, 2)
			assert.Equal(t, "acme", got.LineItems[0].Attribution.TenantID)
			assert.Contains(t, got.ByTenant, statement.UnattributedKey)
			assert.True(t, got.GeneratedAt.Equal(time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)))

			summaries, err := store.ListStatements(ctx)
			require.NoError(t, err)
			require.Len(t, summaries, 2)
			assert.Equal(t, "2024-01", summaries[0].Period)
			assert.Equal(t, 2, summaries[0].LineItemCount)
			assert.Equal(t, 1, summaries[0].WarningCount)
			assert.Equal(t, "2023-12", summaries[1].Period)

			// regenerating a period replaces it
			require.NoError(t, store.SaveStatement(ctx, sampleStatement("2024-01", "stmt-c")))
			got, err = store.GetStatement(ctx, "2024-01")
			require.NoError(t, err)
			assert.Equal(t, "stmt-c", got.ID)

			items, err := store.QueryLineItems(ctx, LineItemFilter{Period: "2024-01"})
			require.NoError(t, err)
			assert.Len(t, items, 2)

			assert.Error(t, store.SaveStatement(ctx, &statement.CostStatement{}))
		})
	}
}

func TestStore_QueryLineItems(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.SaveStatement(ctx, sampleStatement("2023-12", "a")))
			require.NoError(t, store.SaveStatement(ctx, sampleStatement("2024-01", "b")))

			tests := []struct {
				name   string
				filter LineItemFilter
				want   []string
			}{
				{name: "all", filter: LineItemFilter{}, want: []string{"a-e1", "a-r1", "b-e1", "b-r1"}},
				{name: "by source", filter: LineItemFilter{Source: billing.SourceReal}, want: []string{"a-r1", "b-r1"}},
				{name: "by tenant", filter: LineItemFilter{TenantID: "acme", Period: "2024-01"}, want: []string{"b-e1"}},
				{name: "paged", filter: LineItemFilter{Limit: 2, Offset: 1}, want: []string{"a-r1", "b-e1"}},
				{name: "offset only", filter: LineItemFilter{Offset: 3}, want: []string{"b-r1"}},
				{name: "no match", filter: LineItemFilter{Provider: "aws"}, want: []string{}},
			}

			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					items, err := store.QueryLineItems(ctx, tt.filter)
					require.NoError(t, err)
					ids := []string{}
					for _, item := range items {
						ids = append(ids, item.ID)
					}
					assert.Equal(t, tt.want, ids)
				})
			}
		})
	}
}

func TestStore_CalibrationHistory(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i, period := range []string{"2023-10", "2023-11", "2023-12", "2024-01"} {
				require.NoError(t, store.AppendCalibration(ctx, ratecard.CalibrationData{
					RateCardID:      "gcp-cloud-run-v1",
					Period:          period,
					VariancePercent: float64(10 * (i + 1)),
					SampleSize:      100 * (i + 1),
					CalculatedAt:    time.Date(2024, 1, i+1, 0, 0, 0, 0, time.UTC),
				}))
			}
			require.NoError(t, store.AppendCalibration(ctx, ratecard.CalibrationData{RateCardID: "other", Period: "2024-01"}))
			assert.Error(t, store.AppendCalibration(ctx, ratecard.CalibrationData{}))

			all, err := store.CalibrationHistory(ctx, "gcp-cloud-run-v1", 0)
			require.NoError(t, err)
			require.Len(t, all, 4)
			assert.Equal(t, "2023-10", all[0].Period)
			assert.Equal(t, 400, all[3].SampleSize)

			recent, err := store.CalibrationHistory(ctx, "gcp-cloud-run-v1", 2)
			require.NoError(t, err)
			require.Len(t, recent, 2)
			assert.Equal(t, "2023-12", recent[0].Period)
			assert.Equal(t, "2024-01", recent[1].Period)
			assert.Equal(t, 40.0, recent[1].VariancePercent)

			none, err := store.CalibrationHistory(ctx, "missing", 3)
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestStore_Export(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.SaveStatement(ctx, sampleStatement("2024-01", "b")))

			data, err := store.ExportLineItems(ctx, LineItemFilter{}, ExportFormatJSON)
			require.NoError(t, err)
			var items []billing.LineItem
			require.NoError(t, json.Unmarshal(data, &items))
			assert.Len(t, items, 2)

			data, err = store.ExportLineItems(ctx, LineItemFilter{Source: billing.SourceEstimate}, ExportFormatCSV)
			require.NoError(t, err)
			rows, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
			require.NoError(t, err)
			require.Len(t, rows, 2)
			assert.Equal(t, csvHeader, rows[0])
			assert.Equal(t, "b-e1", rows[1][0])
			assert.Equal(t, "acme", rows[1][7])
			assert.Equal(t, "0.480000", rows[1][13])

			data, err = store.ExportLineItems(ctx, LineItemFilter{Period: "1999-01"}, ExportFormatJSON)
			require.NoError(t, err)
			assert.JSONEq(t, "[]", string(data))

			_, err = store.ExportLineItems(ctx, LineItemFilter{}, ExportFormat("xml"))
			assert.Error(t, err)
		})
	}
}

func TestNewStore(t *testing.T) {
	store, err := NewStore(Config{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)

	_, err = NewStore(Config{Backend: BackendSQLite})
	assert.Error(t, err)

	_, err = NewStore(Config{Backend: "postgres"})
	assert.Error(t, err)

	store, err = NewStore(Config{Backend: BackendSQLite, DBPath: filepath.Join(t.TempDir(), "x.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, store)
	require.NoError(t, store.Close())
}

func TestManager_RestoreHistory(t *testing.T) {
	ctx := context.Background()
	manager := NewManagerWithStore(NewMemoryStore())

	var points []ratecard.CalibrationData
	for i := 0; i < 8; i++ {
		points = append(points, ratecard.CalibrationData{
			RateCardID:      "gcp-firestore-v1",
			Period:          time.Date(2023, time.Month(i+1), 1, 0, 0, 0, 0, time.UTC).Format("2006-01"),
			VariancePercent: float64(i),
		})
	}
	points = append(points, ratecard.CalibrationData{RateCardID: "retired-card", Period: "2024-01"})
	require.NoError(t, manager.RecordCalibrations(ctx, points))

	registry, err := ratecard.NewDefaultRegistry(ratecard.DefaultConfig())
	require.NoError(t, err)
	registry.AddCalibrationData(ratecard.CalibrationData{RateCardID: "gcp-firestore-v1", Period: "stale"})

	restored, err := manager.RestoreHistory(ctx, registry)
	require.NoError(t, err)
	assert.Equal(t, 6, restored)

	history := registry.History("gcp-firestore-v1")
	require.Len(t, history, 6)
	assert.Equal(t, "2023-03", history[0].Period)
	assert.Equal(t, "2023-08", history[5].Period)
	assert.Empty(t, registry.History("gcp-cloud-run-v1"))
}

func TestStore_Multipliers(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			at := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)

			empty, err := store.Multipliers(ctx)
			require.NoError(t, err)
			assert.Empty(t, empty)

			require.NoError(t, store.SaveMultiplier(ctx, Multiplier{RateCardID: "gcp-firestore-v1", Multiplier: 0.9, CalibratedAt: at}))
			require.NoError(t, store.SaveMultiplier(ctx, Multiplier{RateCardID: "gcp-cloud-run-v1", Multiplier: 1.1, CalibratedAt: at}))
			require.NoError(t, store.SaveMultiplier(ctx, Multiplier{RateCardID: "gcp-cloud-run-v1", Multiplier: 1.25, CalibratedAt: at.Add(time.Hour)}))
			assert.Error(t, store.SaveMultiplier(ctx, Multiplier{Multiplier: 1.1}))

			multipliers, err := store.Multipliers(ctx)
			require.NoError(t, err)
			require.Len(t, multipliers, 2)
			assert.Equal(t, "gcp-cloud-run-v1", multipliers[0].RateCardID)
			assert.Equal(t, 1.25, multipliers[0].Multiplier)
			assert.True(t, multipliers[0].CalibratedAt.Equal(at.Add(time.Hour)))
			assert.Equal(t, "gcp-firestore-v1", multipliers[1].RateCardID)
		})
	}
}

func TestManager_MultipliersSurviveNewRegistry(t *testing.T) {
	ctx := context.Background()
	manager := NewManagerWithStore(NewMemoryStore())

	registry, err := ratecard.NewDefaultRegistry(ratecard.DefaultConfig())
	require.NoError(t, err)
	require.True(t, registry.Calibrate("gcp-cloud-run-v1", 1.15))
	require.NoError(t, manager.SaveMultipliers(ctx, []*ratecard.RateCard{registry.FindByID("gcp-cloud-run-v1")}))
	require.NoError(t, manager.Store().SaveMultiplier(ctx, Multiplier{RateCardID: "retired-card", Multiplier: 1.3}))

	fresh, err := ratecard.NewDefaultRegistry(ratecard.DefaultConfig())
	require.NoError(t, err)
	restored, err := manager.RestoreMultipliers(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, 1, restored)

	card := fresh.FindByID("gcp-cloud-run-v1")
	assert.InDelta(t, 1.15, card.CalibrationMultiplier, 1e-9)
	assert.NotNil(t, card.LastCalibratedAt)
	assert.Equal(t, 1.0, fresh.FindByID("gcp-firestore-v1").CalibrationMultiplier)
}

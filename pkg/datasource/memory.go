package datasource

import (
	"context"
	"sync"

	"github.com/snow-ghost/costrecon/pkg/billing"
)

// MemoryOperations serves operations held in memory
type MemoryOperations struct {
	name       string
	mu         sync.RWMutex
	operations []billing.Operation
}

// NewMemoryOperations creates an in-memory operation source
func NewMemoryOperations(name string, operations ...billing.Operation) *MemoryOperations {
	return &MemoryOperations{name: name, operations: append([]billing.Operation(nil), operations...)}
}

// Name returns the source name
func (m *MemoryOperations) Name() string { return m.name }

// Add appends operations
func (m *MemoryOperations) Add(operations ...billing.Operation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.operations = append(m.operations, operations...)
}

// FetchOperations returns the operations timestamped inside period
func (m *MemoryOperations) FetchOperations(ctx context.Context, period billing.Period) ([]billing.Operation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return filterOperations(m.operations, period), nil
}

// MemoryBilling serves billing records held in memory
type MemoryBilling struct {
	name    string
	mu      sync.RWMutex
	records []billing.Record
}

// NewMemoryBilling creates an in-memory billing source
func NewMemoryBilling(name string, records ...billing.Record) *MemoryBilling {
	return &MemoryBilling{name: name, records: append([]billing.Record(nil), records...)}
}

// Name returns the source name
func (m *MemoryBilling) Name() string { return m.name }

// Add appends billing records
func (m *MemoryBilling) Add(records ...billing.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, records...)
}

// FetchBillingRecords returns the records whose usage starts inside period
func (m *MemoryBilling) FetchBillingRecords(ctx context.Context, period billing.Period) ([]billing.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return filterRecords(m.records, period), nil
}

func filterOperations(operations []billing.Operation, period billing.Period) []billing.Operation {
	result := make([]billing.Operation, 0, len(operations))
	for _, op := range operations {
		if period.Contains(op.Timestamp) {
			result = append(result, op)
		}
	}
	return result
}

func filterRecords(records []billing.Record, period billing.Period) []billing.Record {
	result := make([]billing.Record, 0, len(records))
	for _, record := range records {
		if period.Contains(record.UsageStart) {
			result = append(result, record)
		}
	}
	return result
}

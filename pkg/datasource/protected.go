package datasource

import (
	"context"
	"fmt"

	"github.com/snow-ghost/costrecon/pkg/billing"
	"github.com/snow-ghost/costrecon/pkg/limiter"
)

// ProtectedOperations wraps an operation source with rate limiting, retries
// and a circuit breaker keyed by the source name.
type ProtectedOperations struct {
	source     OperationSource
	protection *limiter.ProtectionManager
}

// NewProtectedOperations wraps source
func NewProtectedOperations(source OperationSource, protection *limiter.ProtectionManager) *ProtectedOperations {
	return &ProtectedOperations{source: source, protection: protection}
}

// Name returns the wrapped source's name
func (p *ProtectedOperations) Name() string { return p.source.Name() }

// FetchOperations fetches through the protection manager
func (p *ProtectedOperations) FetchOperations(ctx context.Context, period billing.Period) ([]billing.Operation, error) {
	result, err := p.protection.ExecuteWithProtection(ctx, protectionKey(KindOperations, p.source.Name()), func(ctx context.Context) (interface{}, error) {
		return p.source.FetchOperations(ctx, period)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch operations from %s: %w", p.source.Name(), err)
	}
	return result.([]billing.Operation), nil
}

// ProtectedBilling wraps a billing source with rate limiting, retries and a
// circuit breaker keyed by the source name.
type ProtectedBilling struct {
	source     BillingSource
	protection *limiter.ProtectionManager
}

// NewProtectedBilling wraps source
func NewProtectedBilling(source BillingSource, protection *limiter.ProtectionManager) *ProtectedBilling {
	return &ProtectedBilling{source: source, protection: protection}
}

// Name returns the wrapped source's name
func (p *ProtectedBilling) Name() string { return p.source.Name() }

// FetchBillingRecords fetches through the protection manager
func (p *ProtectedBilling) FetchBillingRecords(ctx context.Context, period billing.Period) ([]billing.Record, error) {
	result, err := p.protection.ExecuteWithProtection(ctx, protectionKey(KindBilling, p.source.Name()), func(ctx context.Context) (interface{}, error) {
		return p.source.FetchBillingRecords(ctx, period)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch billing records from %s: %w", p.source.Name(), err)
	}
	return result.([]billing.Record), nil
}

func protectionKey(kind, name string) string {
	return kind + "/" + name
}

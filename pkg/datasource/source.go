package datasource

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/snow-ghost/costrecon/pkg/billing"
)

// ErrSourceNotFound is returned when a selector names an unknown source
var ErrSourceNotFound = errors.New("datasource: source not found")

// Kinds of data a source can provide
const (
	KindOperations = "operations"
	KindBilling    = "billing"
)

// OperationSource reads raw usage events from a telemetry store
type OperationSource interface {
	Name() string
	FetchOperations(ctx context.Context, period billing.Period) ([]billing.Operation, error)
}

// BillingSource reads provider billing export rows
type BillingSource interface {
	Name() string
	FetchBillingRecords(ctx context.Context, period billing.Period) ([]billing.Record, error)
}

// Selector chooses which sources a statement consults. Empty names select
// the catalog defaults.
type Selector struct {
	Operations string `json:"operations,omitempty"`
	Billing    string `json:"billing,omitempty"`
}

// Catalog holds the named operation and billing sources. The first source
// registered of each kind is the default until SetDefaults changes it.
type Catalog struct {
	mu               sync.RWMutex
	operations       map[string]OperationSource
	billing          map[string]BillingSource
	defaultOperation string
	defaultBilling   string
}

// NewCatalog creates an empty catalog
func NewCatalog() *Catalog {
	return &Catalog{
		operations: make(map[string]OperationSource),
		billing:    make(map[string]BillingSource),
	}
}

// RegisterOperations adds or replaces an operation source
func (c *Catalog) RegisterOperations(source OperationSource) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.operations[source.Name()] = source
	if c.defaultOperation == "" {
		c.defaultOperation = source.Name()
	}
}

// RegisterBilling adds or replaces a billing source
func (c *Catalog) RegisterBilling(source BillingSource) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.billing[source.Name()] = source
	if c.defaultBilling == "" {
		c.defaultBilling = source.Name()
	}
}

// SetDefaults changes the default sources. Empty names leave a default as is.
func (c *Catalog) SetDefaults(selector Selector) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if selector.Operations != "" {
		if _, ok := c.operations[selector.Operations]; !ok {
			return fmt.Errorf("%w: operations %q", ErrSourceNotFound, selector.Operations)
		}
		c.defaultOperation = selector.Operations
	}
	if selector.Billing != "" {
		if _, ok := c.billing[selector.Billing]; !ok {
			return fmt.Errorf("%w: billing %q", ErrSourceNotFound, selector.Billing)
		}
		c.defaultBilling = selector.Billing
	}
	return nil
}

// Operations resolves an operation source by name, "" meaning the default
func (c *Catalog) Operations(name string) (OperationSource, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if name == "" {
		name = c.defaultOperation
	}
	source, ok := c.operations[name]
	if !ok {
		return nil, fmt.Errorf("%w: operations %q", ErrSourceNotFound, name)
	}
	return source, nil
}

// Billing resolves a billing source by name, "" meaning the default
func (c *Catalog) Billing(name string) (BillingSource, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if name == "" {
		name = c.defaultBilling
	}
	source, ok := c.billing[name]
	if !ok {
		return nil, fmt.Errorf("%w: billing %q", ErrSourceNotFound, name)
	}
	return source, nil
}

// Names lists registered source names per kind, sorted
func (c *Catalog) Names() map[string][]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := map[string][]string{KindOperations: {}, KindBilling: {}}
	for name := range c.operations {
		names[KindOperations] = append(names[KindOperations], name)
	}
	for name := range c.billing {
		names[KindBilling] = append(names[KindBilling], name)
	}
	sort.Strings(names[KindOperations])
	sort.Strings(names[KindBilling])
	return names
}

package billing

import (
	"time"
)

// Source tags where a line item came from
type Source string

const (
	SourceEstimate Source = "estimate"
	SourceReal     Source = "real"
)

// Attribution carries the request-scoped dimensions a cost is charged to
type Attribution struct {
	TenantID    string `json:"tenant_id,omitempty" db:"tenant_id"`
	Feature     string `json:"feature,omitempty" db:"feature"`
	Environment string `json:"environment,omitempty" db:"environment"`
}

// OperationMetrics are the measured resources of one operation
type OperationMetrics struct {
	DurationMs         float64 `json:"duration_ms,omitempty"`
	CPUSeconds         float64 `json:"cpu_seconds,omitempty"`
	MemoryMB           float64 `json:"memory_mb,omitempty"`
	StorageReads       float64 `json:"storage_reads,omitempty"`
	StorageWrites      float64 `json:"storage_writes,omitempty"`
	StorageDeletes     float64 `json:"storage_deletes,omitempty"`
	NetworkEgressBytes float64 `json:"network_egress_bytes,omitempty"`
	InputTokens        float64 `json:"input_tokens,omitempty"`
	OutputTokens       float64 `json:"output_tokens,omitempty"`
}

// Operation is one raw usage event as recorded by the telemetry layer
type Operation struct {
	ID          string           `json:"id"`
	Timestamp   time.Time        `json:"timestamp"`
	Provider    string           `json:"provider"`
	Service     string           `json:"service"`
	Resource    string           `json:"resource,omitempty"`
	Operation   string           `json:"operation,omitempty"`
	RequestID   string           `json:"request_id,omitempty"`
	Status      string           `json:"status,omitempty"`
	Attribution Attribution      `json:"attribution"`
	Metrics     OperationMetrics `json:"metrics"`
}

// Record is one row of a provider billing export
type Record struct {
	ID             string            `json:"id"`
	Provider       string            `json:"provider"`
	ServiceID      string            `json:"service_id,omitempty"`
	ServiceName    string            `json:"service_name"`
	SKUID          string            `json:"sku_id,omitempty"`
	SKUDescription string            `json:"sku_description,omitempty"`
	UsageStart     time.Time         `json:"usage_start"`
	UsageEnd       time.Time         `json:"usage_end"`
	UsageAmount    float64           `json:"usage_amount"`
	UsageUnit      string            `json:"usage_unit"`
	Cost           float64           `json:"cost"`
	Currency       string            `json:"currency"`
	ProjectID      string            `json:"project_id,omitempty"`
	Labels         map[string]string `json:"labels,omitempty"`
}

// LineItem is an atomic cost record. It is built once and never mutated.
type LineItem struct {
	ID              string      `json:"id" db:"id"`
	Source          Source      `json:"source" db:"source"`
	Period          string      `json:"period" db:"period"`
	Provider        string      `json:"provider" db:"provider"`
	Service         string      `json:"service" db:"service"`
	SKU             string      `json:"sku,omitempty" db:"sku"`
	Description     string      `json:"description,omitempty" db:"description"`
	Attribution     Attribution `json:"attribution"`
	Quantity        float64     `json:"quantity" db:"quantity"`
	Unit            string      `json:"unit" db:"unit"`
	UnitCost        float64     `json:"unit_cost" db:"unit_cost"`
	TotalCost       float64     `json:"total_cost" db:"total_cost"`
	Currency        string      `json:"currency" db:"currency"`
	RateCardID      string      `json:"rate_card_id,omitempty" db:"rate_card_id"`
	RuleID          string      `json:"rule_id,omitempty" db:"rule_id"`
	BillingRecordID string      `json:"billing_record_id,omitempty" db:"billing_record_id"`
}

package model

import "time"

// FindingType categorizes a finding derived from facts.
type FindingType string

const (
	FindingTypeRisk           FindingType = "risk"
	FindingTypeWorkItem       FindingType = "work_item"
	FindingTypeRecommendation FindingType = "recommendation"
	FindingTypeStrategic      FindingType = "strategic"
)

// Severity levels for risks and work items.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Finding is a risk, work item, recommendation, or strategic
// consideration derived from one or more facts.
type Finding struct {
	ID          string      `json:"id"`
	DealID      string      `json:"deal_id"`
	RunID       string      `json:"run_id,omitempty"`
	FindingType FindingType `json:"finding_type"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Severity    Severity    `json:"severity,omitempty"`
	Phase       string      `json:"phase,omitempty"`
	CostLowUSD  float64     `json:"cost_low_usd,omitempty"`
	CostHighUSD float64     `json:"cost_high_usd,omitempty"`
	FactIDs     []string    `json:"fact_ids,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	DeletedAt   *time.Time  `json:"deleted_at,omitempty"`
}

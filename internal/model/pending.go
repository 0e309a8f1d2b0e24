package model

import "time"

// PendingChange is a candidate fact held for human review, together with
// the classification that routed it out of auto-apply.
type PendingChange struct {
	ID             string        `json:"id"`
	DealID         string        `json:"deal_id"`
	RunID          string        `json:"run_id,omitempty"`
	DocumentID     string        `json:"document_id,omitempty"`
	Candidate      CandidateFact `json:"candidate"`
	Tier           int           `json:"tier"`
	ChangeCategory string        `json:"change_category"`
	Reasons        []string      `json:"reasons"`
	RiskScore      float64       `json:"risk_score"`
	ExistingFactID string        `json:"existing_fact_id,omitempty"`
	Resolved       bool          `json:"resolved"`
	Resolution     string        `json:"resolution,omitempty"` // "applied" or "rejected"
	CreatedAt      time.Time     `json:"created_at"`
	ResolvedAt     *time.Time    `json:"resolved_at,omitempty"`
}

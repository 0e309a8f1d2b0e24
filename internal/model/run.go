package model

import "time"

// RunStatus represents the current state of an analysis run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// RunCounts summarizes work done by a run so far.
type RunCounts struct {
	DocumentsTotal     int `json:"documents_total"`
	DocumentsProcessed int `json:"documents_processed"`
	DocumentsFailed    int `json:"documents_failed"`
	FactsWritten       int `json:"facts_written"`
	GapsWritten        int `json:"gaps_written"`
	FindingsWritten    int `json:"findings_written"`
	PendingReview      int `json:"pending_review"`
}

// AnalysisRun is one execution of the extraction pipeline over a deal.
// The latest completed run for a deal is the scoping unit for queries.
type AnalysisRun struct {
	ID          string     `json:"id"`
	DealID      string     `json:"deal_id"`
	Status      RunStatus  `json:"status"`
	Progress    float64    `json:"progress"`
	Counts      RunCounts  `json:"counts"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

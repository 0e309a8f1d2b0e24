package model

import "time"

// DocumentStatus tracks a document through the processing pipeline.
type DocumentStatus string

const (
	DocumentStatusPending    DocumentStatus = "pending"
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusCompleted  DocumentStatus = "completed"
	DocumentStatusFailed     DocumentStatus = "failed"
)

// Document is an uploaded data-room file awaiting or through processing.
type Document struct {
	ID          string         `json:"id"`
	DealID      string         `json:"deal_id"`
	Filename    string         `json:"filename"`
	ContentType string         `json:"content_type"`
	SizeBytes   int64          `json:"size_bytes"`
	Path        string         `json:"path"`
	Status      DocumentStatus `json:"status"`
	FailReason  string         `json:"fail_reason,omitempty"`
	RetryCount  int            `json:"retry_count"`
	UploadedAt  time.Time      `json:"uploaded_at"`
	ProcessedAt *time.Time     `json:"processed_at,omitempty"`
}

// Priority orders documents in the processing queue.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

// ParsePriority maps a priority name to its Priority. Unknown names map
// to PriorityNormal.
func ParsePriority(s string) Priority {
	switch s {
	case "urgent":
		return PriorityUrgent
	case "high":
		return PriorityHigh
	case "low":
		return PriorityLow
	default:
		return PriorityNormal
	}
}

func (p Priority) String() string {
	switch p {
	case PriorityUrgent:
		return "urgent"
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "normal"
	}
}

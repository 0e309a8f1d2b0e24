package resilience

import "time"

// DeadLetter records a document that exhausted its retries and was marked
// permanently failed. The processor appends these to its state directory so
// operators can re-submit after fixing the underlying problem.
type DeadLetter struct {
	DocumentID   string    `json:"document_id"`
	DealID       string    `json:"deal_id"`
	Filename     string    `json:"filename"`
	Error        string    `json:"error"`
	ErrorType    string    `json:"error_type"` // "transient" or "permanent"
	RetryCount   int       `json:"retry_count"`
	LastFailedAt time.Time `json:"last_failed_at"`
}

// ClassifyError categorizes an error as "transient" or "permanent".
func ClassifyError(err error) string {
	if IsTransient(err) {
		return "transient"
	}
	return "permanent"
}

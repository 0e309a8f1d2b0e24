package model

import "time"

// Entity identifies which side of the transaction a fact describes.
type Entity string

const (
	EntityTarget  Entity = "target"
	EntityBuyer   Entity = "buyer"
	EntityUnknown Entity = "unknown"
)

// FactStatus describes the lifecycle state an observed item is in.
type FactStatus string

const (
	FactStatusActive     FactStatus = "active"
	FactStatusPlanned    FactStatus = "planned"
	FactStatusDeprecated FactStatus = "deprecated"
	FactStatusRetired    FactStatus = "retired"
	FactStatusUnknown    FactStatus = "unknown"
)

// IsValid reports whether s is a known lifecycle state.
func (s FactStatus) IsValid() bool {
	switch s {
	case FactStatusActive, FactStatusPlanned, FactStatusDeprecated, FactStatusRetired, FactStatusUnknown:
		return true
	}
	return false
}

// Evidence ties a fact back to its source document.
type Evidence struct {
	Quote string `json:"quote"`
	Page  int    `json:"page"`
}

// Fact is an atomic observation about the target or buyer IT estate.
type Fact struct {
	ID         string         `json:"id"`
	DealID     string         `json:"deal_id"`
	DocumentID string         `json:"document_id,omitempty"`
	RunID      string         `json:"run_id,omitempty"`
	Domain     string         `json:"domain"`
	Category   string         `json:"category"`
	Entity     Entity         `json:"entity"`
	Item       string         `json:"item"`
	Status     FactStatus     `json:"status"`
	Details    map[string]any `json:"details,omitempty"`
	Evidence   *Evidence      `json:"evidence,omitempty"`
	Confidence float64        `json:"confidence"`
	Verified   bool           `json:"verified"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  *time.Time     `json:"deleted_at,omitempty"`
}

// Gap records a diligence question the documents leave unanswered.
type Gap struct {
	ID          string     `json:"id"`
	DealID      string     `json:"deal_id"`
	RunID       string     `json:"run_id,omitempty"`
	Domain      string     `json:"domain"`
	Category    string     `json:"category"`
	Description string     `json:"description"`
	Severity    string     `json:"severity"`
	CreatedAt   time.Time  `json:"created_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

// CandidateFact is the extractor's output before tier classification
// and persistence. TempID is stable for the extraction pass only; the
// store assigns the durable fact ID on merge.
type CandidateFact struct {
	TempID     string         `json:"temp_id"`
	Domain     string         `json:"domain"`
	Category   string         `json:"category"`
	Entity     Entity         `json:"entity"`
	Item       string         `json:"item"`
	Status     FactStatus     `json:"status"`
	Details    map[string]any `json:"details,omitempty"`
	Evidence   *Evidence      `json:"evidence,omitempty"`
	Confidence float64        `json:"confidence"`
	SourceFile string         `json:"source_file"`
}

// ClampConfidence bounds c to [0, 1].
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

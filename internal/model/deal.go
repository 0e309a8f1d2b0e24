package model

import "time"

// DealType categorizes the transaction a deal represents.
type DealType string

const (
	DealTypeAcquisition DealType = "acquisition"
	DealTypeMerger      DealType = "merger"
	DealTypeCarveOut    DealType = "carve_out"
	DealTypeDivestiture DealType = "divestiture"
	DealTypeInvestment  DealType = "investment"
)

// ValidDealTypes lists the deal types accepted by the schema CHECK constraint.
var ValidDealTypes = []DealType{
	DealTypeAcquisition,
	DealTypeMerger,
	DealTypeCarveOut,
	DealTypeDivestiture,
	DealTypeInvestment,
}

// IsValid reports whether t is one of the enumerated deal types.
func (t DealType) IsValid() bool {
	for _, v := range ValidDealTypes {
		if t == v {
			return true
		}
	}
	return false
}

// Deal is the top-level tenant-scoped entity owning documents, facts,
// findings, and analysis runs.
type Deal struct {
	ID        string     `json:"id"`
	TenantID  string     `json:"tenant_id"`
	Name      string     `json:"name"`
	DealType  DealType   `json:"deal_type"`
	Locked    bool       `json:"locked"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

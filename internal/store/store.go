package store

import (
	"context"
	"errors"

	"github.com/sells-group/diligence-cli/internal/model"
)

// ErrNotFound is returned when a requested row does not exist or is
// soft-deleted.
var ErrNotFound = errors.New("store: not found")

// FactFilter specifies criteria for listing facts. Soft-deleted rows are
// excluded unless IncludeDeleted is set.
type FactFilter struct {
	DealID         string       `json:"deal_id,omitempty"`
	RunID          string       `json:"run_id,omitempty"`
	Domain         string       `json:"domain,omitempty"`
	Entity         model.Entity `json:"entity,omitempty"`
	VerifiedOnly   bool         `json:"verified_only,omitempty"`
	IncludeDeleted bool         `json:"include_deleted,omitempty"`
	Limit          int          `json:"limit,omitempty"`
	Offset         int          `json:"offset,omitempty"`
}

// Store defines the persistence interface for the diligence pipeline.
type Store interface {
	// Deals
	CreateDeal(ctx context.Context, tenantID, name string, dealType model.DealType) (*model.Deal, error)
	GetDeal(ctx context.Context, dealID string) (*model.Deal, error)
	SetDealLocked(ctx context.Context, dealID string, locked bool) error
	SoftDeleteDeal(ctx context.Context, dealID string) error

	// Documents
	CreateDocument(ctx context.Context, doc model.Document) (*model.Document, error)
	GetDocument(ctx context.Context, docID string) (*model.Document, error)
	UpdateDocumentStatus(ctx context.Context, docID string, status model.DocumentStatus, failReason string, retryCount int) error
	ListDocuments(ctx context.Context, dealID string, status model.DocumentStatus) ([]model.Document, error)

	// Facts
	UpsertFact(ctx context.Context, fact *model.Fact) error
	UpsertFacts(ctx context.Context, facts []model.Fact) error
	GetFact(ctx context.Context, factID string) (*model.Fact, error)
	ListFacts(ctx context.Context, filter FactFilter) ([]model.Fact, error)
	FindSimilarFact(ctx context.Context, dealID, domain string, entity model.Entity, item string, minSimilarity float64) (*model.Fact, error)
	SetFactVerified(ctx context.Context, factID string, verified bool) error
	SoftDeleteFact(ctx context.Context, factID string) error

	// Gaps
	UpsertGap(ctx context.Context, gap *model.Gap) error

	// Findings
	UpsertFinding(ctx context.Context, finding *model.Finding) error
	ListFindings(ctx context.Context, dealID, runID string) ([]model.Finding, error)
	SoftDeleteFinding(ctx context.Context, findingID string) error

	// Analysis runs
	CreateRun(ctx context.Context, dealID string, documentsTotal int) (*model.AnalysisRun, error)
	GetRun(ctx context.Context, runID string) (*model.AnalysisRun, error)
	UpdateRunProgress(ctx context.Context, runID string, progress float64, counts model.RunCounts) error
	CompleteRun(ctx context.Context, runID string, status model.RunStatus, errMsg string) error
	LatestCompletedRun(ctx context.Context, dealID string) (*model.AnalysisRun, error)

	// Pending changes
	SavePendingChange(ctx context.Context, pc *model.PendingChange) error
	ListPendingChanges(ctx context.Context, dealID string, tier int) ([]model.PendingChange, error)
	ResolvePendingChange(ctx context.Context, id, resolution string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/diligence-cli/internal/match"
	"github.com/sells-group/diligence-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Unlike the
// Postgres backend, fact upserts use get-or-create: SELECT the row, then
// UPDATE or INSERT. SQLite serializes writers, so the two statements are
// not racy in practice for this single-writer pipeline.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sdb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// An in-memory database exists per connection; keep the pool at one.
	if strings.Contains(dsn, ":memory:") {
		sdb.SetMaxOpenConns(1)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := sdb.Exec(pragma); err != nil {
			sdb.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: sdb}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS tenants (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS deals (
	id         TEXT PRIMARY KEY,
	tenant_id  TEXT NOT NULL,
	name       TEXT NOT NULL,
	deal_type  TEXT NOT NULL CHECK (deal_type IN ('acquisition', 'merger', 'carve_out', 'divestiture', 'investment')),
	locked     INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	deleted_at DATETIME
);

CREATE TABLE IF NOT EXISTS documents (
	id           TEXT PRIMARY KEY,
	deal_id      TEXT NOT NULL REFERENCES deals(id),
	filename     TEXT NOT NULL,
	content_type TEXT NOT NULL DEFAULT '',
	size_bytes   INTEGER NOT NULL DEFAULT 0,
	path         TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'pending',
	fail_reason  TEXT NOT NULL DEFAULT '',
	retry_count  INTEGER NOT NULL DEFAULT 0,
	uploaded_at  DATETIME NOT NULL,
	processed_at DATETIME
);

CREATE TABLE IF NOT EXISTS facts (
	id             TEXT PRIMARY KEY,
	deal_id        TEXT NOT NULL REFERENCES deals(id),
	document_id    TEXT,
	run_id         TEXT,
	domain         TEXT NOT NULL,
	category       TEXT NOT NULL DEFAULT 'general',
	entity         TEXT NOT NULL DEFAULT 'unknown',
	item           TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'unknown',
	details        TEXT,
	evidence_quote TEXT,
	evidence_page  INTEGER,
	confidence     REAL NOT NULL DEFAULT 0,
	verified       INTEGER NOT NULL DEFAULT 0,
	created_at     DATETIME NOT NULL,
	updated_at     DATETIME NOT NULL,
	deleted_at     DATETIME
);

CREATE TABLE IF NOT EXISTS gaps (
	id          TEXT PRIMARY KEY,
	deal_id     TEXT NOT NULL REFERENCES deals(id),
	run_id      TEXT,
	domain      TEXT NOT NULL,
	category    TEXT NOT NULL DEFAULT 'general',
	description TEXT NOT NULL,
	severity    TEXT NOT NULL DEFAULT 'medium',
	created_at  DATETIME NOT NULL,
	deleted_at  DATETIME
);

CREATE TABLE IF NOT EXISTS findings (
	id            TEXT PRIMARY KEY,
	deal_id       TEXT NOT NULL REFERENCES deals(id),
	run_id        TEXT,
	finding_type  TEXT NOT NULL,
	title         TEXT NOT NULL,
	description   TEXT NOT NULL DEFAULT '',
	severity      TEXT,
	phase         TEXT,
	cost_low_usd  REAL,
	cost_high_usd REAL,
	created_at    DATETIME NOT NULL,
	updated_at    DATETIME NOT NULL,
	deleted_at    DATETIME
);

CREATE TABLE IF NOT EXISTS fact_finding_links (
	fact_id    TEXT NOT NULL REFERENCES facts(id),
	finding_id TEXT NOT NULL REFERENCES findings(id),
	PRIMARY KEY (fact_id, finding_id)
);

CREATE TABLE IF NOT EXISTS analysis_runs (
	id           TEXT PRIMARY KEY,
	deal_id      TEXT NOT NULL REFERENCES deals(id),
	status       TEXT NOT NULL DEFAULT 'pending',
	progress     REAL NOT NULL DEFAULT 0,
	counts       TEXT NOT NULL DEFAULT '{}',
	error        TEXT NOT NULL DEFAULT '',
	started_at   DATETIME NOT NULL,
	completed_at DATETIME
);

CREATE TABLE IF NOT EXISTS pending_changes (
	id               TEXT PRIMARY KEY,
	deal_id          TEXT NOT NULL REFERENCES deals(id),
	run_id           TEXT,
	document_id      TEXT,
	candidate        TEXT NOT NULL,
	tier             INTEGER NOT NULL,
	change_category  TEXT NOT NULL,
	reasons          TEXT NOT NULL DEFAULT '[]',
	risk_score       REAL NOT NULL DEFAULT 0,
	existing_fact_id TEXT,
	resolved         INTEGER NOT NULL DEFAULT 0,
	resolution       TEXT NOT NULL DEFAULT '',
	created_at       DATETIME NOT NULL,
	resolved_at      DATETIME
);

CREATE TABLE IF NOT EXISTS audit_log (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_type TEXT NOT NULL,
	entity_id   TEXT NOT NULL,
	action      TEXT NOT NULL,
	detail      TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_documents_deal_status ON documents(deal_id, status);
CREATE INDEX IF NOT EXISTS idx_facts_deal_domain_entity ON facts(deal_id, domain, entity);
CREATE INDEX IF NOT EXISTS idx_facts_run ON facts(run_id);
CREATE INDEX IF NOT EXISTS idx_findings_deal ON findings(deal_id);
CREATE INDEX IF NOT EXISTS idx_runs_deal_status ON analysis_runs(deal_id, status);
CREATE INDEX IF NOT EXISTS idx_pending_deal_tier ON pending_changes(deal_id, tier);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "sqlite: rows affected for %s %s", entity, id)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) audit(ctx context.Context, entityType, entityID, action, detail string) {
	_, _ = s.db.ExecContext(ctx,
		`INSERT INTO audit_log (entity_type, entity_id, action, detail) VALUES (?, ?, ?, ?)`,
		entityType, entityID, action, detail,
	)
}

// ---- Deals ----

func (s *SQLiteStore) CreateDeal(ctx context.Context, tenantID, name string, dealType model.DealType) (*model.Deal, error) {
	if !dealType.IsValid() {
		return nil, eris.Errorf("sqlite: invalid deal type %q", dealType)
	}
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deals (id, tenant_id, name, deal_type, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, tenantID, name, string(dealType), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert deal")
	}
	return &model.Deal{ID: id, TenantID: tenantID, Name: name, DealType: dealType, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *SQLiteStore) GetDeal(ctx context.Context, dealID string) (*model.Deal, error) {
	var d model.Deal
	var dealType string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, name, deal_type, locked, created_at, updated_at FROM deals WHERE id = ? AND deleted_at IS NULL`,
		dealID,
	).Scan(&d.ID, &d.TenantID, &d.Name, &dealType, &d.Locked, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get deal %s", dealID)
	}
	d.DealType = model.DealType(dealType)
	return &d, nil
}

func (s *SQLiteStore) SetDealLocked(ctx context.Context, dealID string, locked bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE deals SET locked = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		locked, time.Now().UTC(), dealID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set deal locked %s", dealID)
	}
	if err := checkRowsAffected(res, "deal", dealID); err != nil {
		return err
	}
	action := "unlock"
	if locked {
		action = "lock"
	}
	s.audit(ctx, "deal", dealID, action, "")
	return nil
}

func (s *SQLiteStore) SoftDeleteDeal(ctx context.Context, dealID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE deals SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		time.Now().UTC(), dealID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: soft delete deal %s", dealID)
	}
	if err := checkRowsAffected(res, "deal", dealID); err != nil {
		return err
	}
	s.audit(ctx, "deal", dealID, "soft_delete", "")
	return nil
}

// ---- Documents ----

func (s *SQLiteStore) CreateDocument(ctx context.Context, doc model.Document) (*model.Document, error) {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.Status == "" {
		doc.Status = model.DocumentStatusPending
	}
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, deal_id, filename, content_type, size_bytes, path, status, retry_count, uploaded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.DealID, doc.Filename, doc.ContentType, doc.SizeBytes, doc.Path, string(doc.Status), doc.RetryCount, doc.UploadedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert document")
	}
	return &doc, nil
}

func (s *SQLiteStore) GetDocument(ctx context.Context, docID string) (*model.Document, error) {
	var d model.Document
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, deal_id, filename, content_type, size_bytes, path, status, fail_reason, retry_count, uploaded_at, processed_at FROM documents WHERE id = ?`,
		docID,
	).Scan(&d.ID, &d.DealID, &d.Filename, &d.ContentType, &d.SizeBytes, &d.Path, &status, &d.FailReason, &d.RetryCount, &d.UploadedAt, &d.ProcessedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get document %s", docID)
	}
	d.Status = model.DocumentStatus(status)
	return &d, nil
}

func (s *SQLiteStore) UpdateDocumentStatus(ctx context.Context, docID string, status model.DocumentStatus, failReason string, retryCount int) error {
	var processedAt any
	if status == model.DocumentStatusCompleted || status == model.DocumentStatusFailed {
		processedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, fail_reason = ?, retry_count = ?, processed_at = ? WHERE id = ?`,
		string(status), failReason, retryCount, processedAt, docID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update document status %s", docID)
	}
	return checkRowsAffected(res, "document", docID)
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, dealID string, status model.DocumentStatus) ([]model.Document, error) {
	query := `SELECT id, deal_id, filename, content_type, size_bytes, path, status, fail_reason, retry_count, uploaded_at, processed_at FROM documents WHERE deal_id = ?`
	args := []any{dealID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY uploaded_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list documents")
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		var d model.Document
		var st string
		if err := rows.Scan(&d.ID, &d.DealID, &d.Filename, &d.ContentType, &d.SizeBytes, &d.Path, &st, &d.FailReason, &d.RetryCount, &d.UploadedAt, &d.ProcessedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan document")
		}
		d.Status = model.DocumentStatus(st)
		docs = append(docs, d)
	}
	return docs, eris.Wrap(rows.Err(), "sqlite: list documents rows")
}

// ---- Facts ----

// UpsertFact uses get-or-create: UPDATE first, INSERT if nothing matched.
func (s *SQLiteStore) UpsertFact(ctx context.Context, fact *model.Fact) error {
	now := time.Now().UTC()
	if fact.CreatedAt.IsZero() {
		fact.CreatedAt = now
	}
	fact.UpdatedAt = now
	fact.Confidence = model.ClampConfidence(fact.Confidence)

	var details any
	if fact.Details != nil {
		b, err := json.Marshal(fact.Details)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal fact details")
		}
		details = string(b)
	}
	var quote, page any
	if fact.Evidence != nil {
		quote = fact.Evidence.Quote
		page = fact.Evidence.Page
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE facts SET document_id = ?, run_id = ?, domain = ?, category = ?, entity = ?, item = ?, status = ?, details = ?, evidence_quote = ?, evidence_page = ?, confidence = ?, verified = ?, updated_at = ? WHERE id = ?`,
		fact.DocumentID, fact.RunID, fact.Domain, fact.Category, string(fact.Entity), fact.Item, string(fact.Status),
		details, quote, page, fact.Confidence, fact.Verified, fact.UpdatedAt, fact.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update fact %s", fact.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: upsert fact rows affected")
	}
	if n > 0 {
		return nil
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO facts (id, deal_id, document_id, run_id, domain, category, entity, item, status, details, evidence_quote, evidence_page, confidence, verified, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fact.ID, fact.DealID, fact.DocumentID, fact.RunID, fact.Domain, fact.Category, string(fact.Entity),
		fact.Item, string(fact.Status), details, quote, page, fact.Confidence, fact.Verified, fact.CreatedAt, fact.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert fact %s", fact.ID)
}

func (s *SQLiteStore) UpsertFacts(ctx context.Context, facts []model.Fact) error {
	for i := range facts {
		if err := s.UpsertFact(ctx, &facts[i]); err != nil {
			return err
		}
	}
	return nil
}

const sqliteFactColumns = `id, deal_id, document_id, run_id, domain, category, entity, item, status, details, evidence_quote, evidence_page, confidence, verified, created_at, updated_at, deleted_at`

type sqliteRowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteFact(row sqliteRowScanner) (*model.Fact, error) {
	var f model.Fact
	var entity, status string
	var details, quote sql.NullString
	var page sql.NullInt64
	var docID, runID sql.NullString
	err := row.Scan(&f.ID, &f.DealID, &docID, &runID, &f.Domain, &f.Category, &entity,
		&f.Item, &status, &details, &quote, &page, &f.Confidence, &f.Verified,
		&f.CreatedAt, &f.UpdatedAt, &f.DeletedAt)
	if err != nil {
		return nil, err
	}
	f.DocumentID = docID.String
	f.RunID = runID.String
	f.Entity = model.Entity(entity)
	f.Status = model.FactStatus(status)
	if details.Valid && details.String != "" {
		if err := json.Unmarshal([]byte(details.String), &f.Details); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal fact details")
		}
	}
	if quote.Valid {
		f.Evidence = &model.Evidence{Quote: quote.String, Page: int(page.Int64)}
	}
	return &f, nil
}

func (s *SQLiteStore) GetFact(ctx context.Context, factID string) (*model.Fact, error) {
	f, err := scanSQLiteFact(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteFactColumns+` FROM facts WHERE id = ? AND deleted_at IS NULL`, factID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get fact %s", factID)
	}
	return f, nil
}

func (s *SQLiteStore) ListFacts(ctx context.Context, filter FactFilter) ([]model.Fact, error) {
	query := `SELECT ` + sqliteFactColumns + ` FROM facts WHERE 1=1`
	var args []any
	if filter.DealID != "" {
		query += ` AND deal_id = ?`
		args = append(args, filter.DealID)
	}
	if filter.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, filter.RunID)
	}
	if filter.Domain != "" {
		query += ` AND domain = ?`
		args = append(args, filter.Domain)
	}
	if filter.Entity != "" {
		query += ` AND entity = ?`
		args = append(args, string(filter.Entity))
	}
	if filter.VerifiedOnly {
		query += ` AND verified`
	}
	if !filter.IncludeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	query += ` ORDER BY domain, category, item`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list facts")
	}
	defer rows.Close()

	var facts []model.Fact
	for rows.Next() {
		f, err := scanSQLiteFact(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan fact")
		}
		facts = append(facts, *f)
	}
	return facts, eris.Wrap(rows.Err(), "sqlite: list facts rows")
}

func (s *SQLiteStore) FindSimilarFact(ctx context.Context, dealID, domain string, entity model.Entity, item string, minSimilarity float64) (*model.Fact, error) {
	facts, err := s.ListFacts(ctx, FactFilter{DealID: dealID, Domain: domain, Entity: entity})
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find similar fact")
	}
	var best *model.Fact
	bestScore := minSimilarity
	for i := range facts {
		score := match.Similarity(item, facts[i].Item)
		if score >= bestScore {
			best = &facts[i]
			bestScore = score
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best, nil
}

func (s *SQLiteStore) SetFactVerified(ctx context.Context, factID string, verified bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE facts SET verified = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		verified, time.Now().UTC(), factID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set fact verified %s", factID)
	}
	if err := checkRowsAffected(res, "fact", factID); err != nil {
		return err
	}
	action := "unverify"
	if verified {
		action = "verify"
	}
	s.audit(ctx, "fact", factID, action, "")
	return nil
}

func (s *SQLiteStore) SoftDeleteFact(ctx context.Context, factID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE facts SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		time.Now().UTC(), factID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: soft delete fact %s", factID)
	}
	if err := checkRowsAffected(res, "fact", factID); err != nil {
		return err
	}
	s.audit(ctx, "fact", factID, "soft_delete", "")
	return nil
}

// ---- Gaps ----

func (s *SQLiteStore) UpsertGap(ctx context.Context, gap *model.Gap) error {
	if gap.ID == "" {
		gap.ID = uuid.New().String()
	}
	if gap.CreatedAt.IsZero() {
		gap.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE gaps SET run_id = ?, description = ?, severity = ? WHERE id = ?`,
		gap.RunID, gap.Description, gap.Severity, gap.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update gap %s", gap.ID)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO gaps (id, deal_id, run_id, domain, category, description, severity, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		gap.ID, gap.DealID, gap.RunID, gap.Domain, gap.Category, gap.Description, gap.Severity, gap.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert gap %s", gap.ID)
}

// ---- Findings ----

func (s *SQLiteStore) UpsertFinding(ctx context.Context, finding *model.Finding) error {
	if finding.ID == "" {
		finding.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if finding.CreatedAt.IsZero() {
		finding.CreatedAt = now
	}
	finding.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: upsert finding: begin tx")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE findings SET run_id = ?, finding_type = ?, title = ?, description = ?, severity = ?, phase = ?, cost_low_usd = ?, cost_high_usd = ?, updated_at = ? WHERE id = ?`,
		finding.RunID, string(finding.FindingType), finding.Title, finding.Description,
		string(finding.Severity), finding.Phase, finding.CostLowUSD, finding.CostHighUSD, finding.UpdatedAt, finding.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update finding %s", finding.ID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO findings (id, deal_id, run_id, finding_type, title, description, severity, phase, cost_low_usd, cost_high_usd, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			finding.ID, finding.DealID, finding.RunID, string(finding.FindingType), finding.Title,
			finding.Description, string(finding.Severity), finding.Phase,
			finding.CostLowUSD, finding.CostHighUSD, finding.CreatedAt, finding.UpdatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert finding %s", finding.ID)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM fact_finding_links WHERE finding_id = ?`, finding.ID); err != nil {
		return eris.Wrapf(err, "sqlite: clear fact links for finding %s", finding.ID)
	}
	for _, factID := range finding.FactIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO fact_finding_links (fact_id, finding_id) VALUES (?, ?)`,
			factID, finding.ID,
		); err != nil {
			return eris.Wrapf(err, "sqlite: link fact %s to finding %s", factID, finding.ID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: upsert finding: commit")
}

func (s *SQLiteStore) ListFindings(ctx context.Context, dealID, runID string) ([]model.Finding, error) {
	query := `SELECT id, deal_id, run_id, finding_type, title, description, severity, phase, cost_low_usd, cost_high_usd, created_at, updated_at FROM findings WHERE deal_id = ? AND deleted_at IS NULL`
	args := []any{dealID}
	if runID != "" {
		query += ` AND run_id = ?`
		args = append(args, runID)
	}
	query += ` ORDER BY finding_type, severity, title`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list findings")
	}
	defer rows.Close()

	var findings []model.Finding
	for rows.Next() {
		var f model.Finding
		var ftype string
		var runIDCol, severity, phase sql.NullString
		var costLow, costHigh sql.NullFloat64
		if err := rows.Scan(&f.ID, &f.DealID, &runIDCol, &ftype, &f.Title, &f.Description, &severity, &phase, &costLow, &costHigh, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan finding")
		}
		f.RunID = runIDCol.String
		f.FindingType = model.FindingType(ftype)
		f.Severity = model.Severity(severity.String)
		f.Phase = phase.String
		f.CostLowUSD = costLow.Float64
		f.CostHighUSD = costHigh.Float64
		findings = append(findings, f)
	}
	return findings, eris.Wrap(rows.Err(), "sqlite: list findings rows")
}

func (s *SQLiteStore) SoftDeleteFinding(ctx context.Context, findingID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE findings SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		time.Now().UTC(), findingID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: soft delete finding %s", findingID)
	}
	if err := checkRowsAffected(res, "finding", findingID); err != nil {
		return err
	}
	s.audit(ctx, "finding", findingID, "soft_delete", "")
	return nil
}

// ---- Analysis runs ----

func (s *SQLiteStore) CreateRun(ctx context.Context, dealID string, documentsTotal int) (*model.AnalysisRun, error) {
	run := &model.AnalysisRun{
		ID:        uuid.New().String(),
		DealID:    dealID,
		Status:    model.RunStatusRunning,
		Counts:    model.RunCounts{DocumentsTotal: documentsTotal},
		StartedAt: time.Now().UTC(),
	}
	counts, err := json.Marshal(run.Counts)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal run counts")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO analysis_runs (id, deal_id, status, progress, counts, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.DealID, string(run.Status), run.Progress, string(counts), run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return run, nil
}

func scanSQLiteRun(row sqliteRowScanner) (*model.AnalysisRun, error) {
	var r model.AnalysisRun
	var status, counts string
	err := row.Scan(&r.ID, &r.DealID, &status, &r.Progress, &counts, &r.Error, &r.StartedAt, &r.CompletedAt)
	if err != nil {
		return nil, err
	}
	r.Status = model.RunStatus(status)
	if counts != "" {
		if err := json.Unmarshal([]byte(counts), &r.Counts); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal run counts")
		}
	}
	return &r, nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.AnalysisRun, error) {
	r, err := scanSQLiteRun(s.db.QueryRowContext(ctx,
		`SELECT id, deal_id, status, progress, counts, error, started_at, completed_at FROM analysis_runs WHERE id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return r, nil
}

func (s *SQLiteStore) UpdateRunProgress(ctx context.Context, runID string, progress float64, counts model.RunCounts) error {
	countsJSON, err := json.Marshal(counts)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run counts")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE analysis_runs SET progress = ?, counts = ? WHERE id = ?`,
		progress, string(countsJSON), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run progress %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, status model.RunStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE analysis_runs SET status = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(status), errMsg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) LatestCompletedRun(ctx context.Context, dealID string) (*model.AnalysisRun, error) {
	r, err := scanSQLiteRun(s.db.QueryRowContext(ctx,
		`SELECT id, deal_id, status, progress, counts, error, started_at, completed_at
		 FROM analysis_runs WHERE deal_id = ? AND status = 'completed'
		 ORDER BY completed_at DESC LIMIT 1`, dealID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: latest completed run for deal %s", dealID)
	}
	return r, nil
}

// ---- Pending changes ----

func (s *SQLiteStore) SavePendingChange(ctx context.Context, pc *model.PendingChange) error {
	if pc.ID == "" {
		pc.ID = uuid.New().String()
	}
	if pc.CreatedAt.IsZero() {
		pc.CreatedAt = time.Now().UTC()
	}
	candidate, err := json.Marshal(pc.Candidate)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal pending candidate")
	}
	reasons, err := json.Marshal(pc.Reasons)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal pending reasons")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_changes SET candidate = ?, tier = ?, change_category = ?, reasons = ?, risk_score = ?, existing_fact_id = ? WHERE id = ?`,
		string(candidate), pc.Tier, pc.ChangeCategory, string(reasons), pc.RiskScore, pc.ExistingFactID, pc.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update pending change %s", pc.ID)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pending_changes (id, deal_id, run_id, document_id, candidate, tier, change_category, reasons, risk_score, existing_fact_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pc.ID, pc.DealID, pc.RunID, pc.DocumentID, string(candidate), pc.Tier, pc.ChangeCategory, string(reasons), pc.RiskScore, pc.ExistingFactID, pc.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert pending change %s", pc.ID)
}

func (s *SQLiteStore) ListPendingChanges(ctx context.Context, dealID string, tier int) ([]model.PendingChange, error) {
	query := `SELECT id, deal_id, run_id, document_id, candidate, tier, change_category, reasons, risk_score, existing_fact_id, resolved, resolution, created_at, resolved_at
		FROM pending_changes WHERE deal_id = ? AND NOT resolved`
	args := []any{dealID}
	if tier > 0 {
		query += ` AND tier = ?`
		args = append(args, tier)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list pending changes")
	}
	defer rows.Close()

	var out []model.PendingChange
	for rows.Next() {
		var pc model.PendingChange
		var candidate, reasons string
		var runID, docID, existingID sql.NullString
		if err := rows.Scan(&pc.ID, &pc.DealID, &runID, &docID, &candidate, &pc.Tier, &pc.ChangeCategory, &reasons, &pc.RiskScore, &existingID, &pc.Resolved, &pc.Resolution, &pc.CreatedAt, &pc.ResolvedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan pending change")
		}
		pc.RunID = runID.String
		pc.DocumentID = docID.String
		pc.ExistingFactID = existingID.String
		if err := json.Unmarshal([]byte(candidate), &pc.Candidate); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal pending candidate")
		}
		if err := json.Unmarshal([]byte(reasons), &pc.Reasons); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal pending reasons")
		}
		out = append(out, pc)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list pending changes rows")
}

func (s *SQLiteStore) ResolvePendingChange(ctx context.Context, id, resolution string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_changes SET resolved = 1, resolution = ?, resolved_at = ? WHERE id = ? AND NOT resolved`,
		resolution, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: resolve pending change %s", id)
	}
	if err := checkRowsAffected(res, "pending_change", id); err != nil {
		return err
	}
	s.audit(ctx, "pending_change", id, "resolve", resolution)
	return nil
}

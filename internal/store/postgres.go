package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/diligence-cli/internal/config"
	"github.com/sells-group/diligence-cli/internal/db"
	"github.com/sells-group/diligence-cli/internal/match"
	"github.com/sells-group/diligence-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hottest store operations. The fact upsert runs
// once per written fact, so it matters most.
var preparedStatements = map[string]string{
	"upsert_fact": `INSERT INTO facts (id, deal_id, document_id, run_id, domain, category, entity, item, status, details, evidence_quote, evidence_page, confidence, verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			document_id = EXCLUDED.document_id,
			run_id = EXCLUDED.run_id,
			domain = EXCLUDED.domain,
			category = EXCLUDED.category,
			entity = EXCLUDED.entity,
			item = EXCLUDED.item,
			status = EXCLUDED.status,
			details = EXCLUDED.details,
			evidence_quote = EXCLUDED.evidence_quote,
			evidence_page = EXCLUDED.evidence_page,
			confidence = EXCLUDED.confidence,
			verified = EXCLUDED.verified,
			updated_at = EXCLUDED.updated_at`,
	"get_fact":            `SELECT id, deal_id, document_id, run_id, domain, category, entity, item, status, details, evidence_quote, evidence_page, confidence, verified, created_at, updated_at, deleted_at FROM facts WHERE id = $1 AND deleted_at IS NULL`,
	"update_run_progress": `UPDATE analysis_runs SET progress = $1, counts = $2 WHERE id = $3`,
	"get_run":             `SELECT id, deal_id, status, progress, counts, error, started_at, completed_at FROM analysis_runs WHERE id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *config.PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need
// direct query access (e.g., bulk upserts from the writer's batch path).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS tenants (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS deals (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	tenant_id  TEXT NOT NULL,
	name       TEXT NOT NULL,
	deal_type  TEXT NOT NULL CHECK (deal_type IN ('acquisition', 'merger', 'carve_out', 'divestiture', 'investment')),
	locked     BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS documents (
	id           TEXT PRIMARY KEY,
	deal_id      TEXT NOT NULL REFERENCES deals(id),
	filename     TEXT NOT NULL,
	content_type TEXT NOT NULL DEFAULT '',
	size_bytes   BIGINT NOT NULL DEFAULT 0,
	path         TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'pending',
	fail_reason  TEXT NOT NULL DEFAULT '',
	retry_count  INT NOT NULL DEFAULT 0,
	uploaded_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	processed_at TIMESTAMPTZ
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
	details        JSONB,
	evidence_quote TEXT,
	evidence_page  INT,
	confidence     DOUBLE PRECISION NOT NULL DEFAULT 0,
	verified       BOOLEAN NOT NULL DEFAULT false,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted_at     TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS gaps (
	id          TEXT PRIMARY KEY,
	deal_id     TEXT NOT NULL REFERENCES deals(id),
	run_id      TEXT,
	domain      TEXT NOT NULL,
	category    TEXT NOT NULL DEFAULT 'general',
	description TEXT NOT NULL,
	severity    TEXT NOT NULL DEFAULT 'medium',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted_at  TIMESTAMPTZ
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
	cost_low_usd  DOUBLE PRECISION,
	cost_high_usd DOUBLE PRECISION,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted_at    TIMESTAMPTZ
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
	progress     DOUBLE PRECISION NOT NULL DEFAULT 0,
	counts       JSONB NOT NULL DEFAULT '{}',
	error        TEXT NOT NULL DEFAULT '',
	started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS pending_changes (
	id               TEXT PRIMARY KEY,
	deal_id          TEXT NOT NULL REFERENCES deals(id),
	run_id           TEXT,
	document_id      TEXT,
	candidate        JSONB NOT NULL,
	tier             INT NOT NULL,
	change_category  TEXT NOT NULL,
	reasons          JSONB NOT NULL DEFAULT '[]',
	risk_score       DOUBLE PRECISION NOT NULL DEFAULT 0,
	existing_fact_id TEXT,
	resolved         BOOLEAN NOT NULL DEFAULT false,
	resolution       TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	resolved_at      TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS audit_log (
	id          BIGSERIAL PRIMARY KEY,
	entity_type TEXT NOT NULL,
	entity_id   TEXT NOT NULL,
	action      TEXT NOT NULL,
	detail      TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_documents_deal_status ON documents(deal_id, status);
CREATE INDEX IF NOT EXISTS idx_facts_deal ON facts(deal_id) WHERE deleted_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_facts_deal_domain_entity ON facts(deal_id, domain, entity) WHERE deleted_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_facts_run ON facts(run_id) WHERE deleted_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_findings_deal ON findings(deal_id) WHERE deleted_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_runs_deal_status ON analysis_runs(deal_id, status);
CREATE INDEX IF NOT EXISTS idx_pending_deal_tier ON pending_changes(deal_id, tier) WHERE NOT resolved;
CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_log(entity_type, entity_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) audit(ctx context.Context, entityType, entityID, action, detail string) {
	// Audit failures never fail the calling operation.
	_, _ = s.pool.Exec(ctx,
		`INSERT INTO audit_log (entity_type, entity_id, action, detail) VALUES ($1, $2, $3, $4)`,
		entityType, entityID, action, detail,
	)
}

// ---- Deals ----

func (s *PostgresStore) CreateDeal(ctx context.Context, tenantID, name string, dealType model.DealType) (*model.Deal, error) {
	if !dealType.IsValid() {
		return nil, eris.Errorf("postgres: invalid deal type %q", dealType)
	}
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO deals (id, tenant_id, name, deal_type, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, tenantID, name, string(dealType), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert deal")
	}

	return &model.Deal{
		ID:        id,
		TenantID:  tenantID,
		Name:      name,
		DealType:  dealType,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) GetDeal(ctx context.Context, dealID string) (*model.Deal, error) {
	var d model.Deal
	var dealType string
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, name, deal_type, locked, created_at, updated_at FROM deals WHERE id = $1 AND deleted_at IS NULL`,
		dealID,
	).Scan(&d.ID, &d.TenantID, &d.Name, &dealType, &d.Locked, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get deal %s", dealID)
	}
	d.DealType = model.DealType(dealType)
	return &d, nil
}

func (s *PostgresStore) SetDealLocked(ctx context.Context, dealID string, locked bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE deals SET locked = $1, updated_at = now() WHERE id = $2 AND deleted_at IS NULL`,
		locked, dealID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set deal locked %s", dealID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	action := "unlock"
	if locked {
		action = "lock"
	}
	s.audit(ctx, "deal", dealID, action, "")
	return nil
}

func (s *PostgresStore) SoftDeleteDeal(ctx context.Context, dealID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE deals SET deleted_at = now() WHERE id = $1 AND deleted_at IS NULL`,
		dealID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: soft delete deal %s", dealID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	s.audit(ctx, "deal", dealID, "soft_delete", "")
	return nil
}

// ---- Documents ----

func (s *PostgresStore) CreateDocument(ctx context.Context, doc model.Document) (*model.Document, error) {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.Status == "" {
		doc.Status = model.DocumentStatusPending
	}
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO documents (id, deal_id, filename, content_type, size_bytes, path, status, retry_count, uploaded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		doc.ID, doc.DealID, doc.Filename, doc.ContentType, doc.SizeBytes, doc.Path, string(doc.Status), doc.RetryCount, doc.UploadedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert document")
	}
	return &doc, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, docID string) (*model.Document, error) {
	var d model.Document
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT id, deal_id, filename, content_type, size_bytes, path, status, fail_reason, retry_count, uploaded_at, processed_at FROM documents WHERE id = $1`,
		docID,
	).Scan(&d.ID, &d.DealID, &d.Filename, &d.ContentType, &d.SizeBytes, &d.Path, &status, &d.FailReason, &d.RetryCount, &d.UploadedAt, &d.ProcessedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get document %s", docID)
	}
	d.Status = model.DocumentStatus(status)
	return &d, nil
}

func (s *PostgresStore) UpdateDocumentStatus(ctx context.Context, docID string, status model.DocumentStatus, failReason string, retryCount int) error {
	var processedAt any
	if status == model.DocumentStatusCompleted || status == model.DocumentStatusFailed {
		processedAt = time.Now().UTC()
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET status = $1, fail_reason = $2, retry_count = $3, processed_at = $4 WHERE id = $5`,
		string(status), failReason, retryCount, processedAt, docID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update document status %s", docID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, dealID string, status model.DocumentStatus) ([]model.Document, error) {
	query := `SELECT id, deal_id, filename, content_type, size_bytes, path, status, fail_reason, retry_count, uploaded_at, processed_at FROM documents WHERE deal_id = $1`
	args := []any{dealID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, string(status))
	}
	query += ` ORDER BY uploaded_at`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list documents")
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		var d model.Document
		var st string
		if err := rows.Scan(&d.ID, &d.DealID, &d.Filename, &d.ContentType, &d.SizeBytes, &d.Path, &st, &d.FailReason, &d.RetryCount, &d.UploadedAt, &d.ProcessedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan document")
		}
		d.Status = model.DocumentStatus(st)
		docs = append(docs, d)
	}
	return docs, eris.Wrap(rows.Err(), "postgres: list documents rows")
}

// ---- Facts ----

func factUpsertArgs(f *model.Fact) ([]any, error) {
	var details []byte
	if f.Details != nil {
		var err error
		details, err = json.Marshal(f.Details)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: marshal fact details")
		}
	}
	var quote any
	var page any
	if f.Evidence != nil {
		quote = f.Evidence.Quote
		page = f.Evidence.Page
	}
	return []any{
		f.ID, f.DealID, f.DocumentID, f.RunID, f.Domain, f.Category, string(f.Entity),
		f.Item, string(f.Status), details, quote, page,
		model.ClampConfidence(f.Confidence), f.Verified, f.CreatedAt, f.UpdatedAt,
	}, nil
}

func (s *PostgresStore) UpsertFact(ctx context.Context, fact *model.Fact) error {
	now := time.Now().UTC()
	if fact.CreatedAt.IsZero() {
		fact.CreatedAt = now
	}
	fact.UpdatedAt = now

	args, err := factUpsertArgs(fact)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, preparedStatements["upsert_fact"], args...)
	return eris.Wrapf(err, "postgres: upsert fact %s", fact.ID)
}

// UpsertFacts batches many facts into a single temp-table bulk upsert.
func (s *PostgresStore) UpsertFacts(ctx context.Context, facts []model.Fact) error {
	if len(facts) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([][]any, 0, len(facts))
	for i := range facts {
		if facts[i].CreatedAt.IsZero() {
			facts[i].CreatedAt = now
		}
		facts[i].UpdatedAt = now
		args, err := factUpsertArgs(&facts[i])
		if err != nil {
			return err
		}
		rows = append(rows, args)
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table: "facts",
		Columns: []string{
			"id", "deal_id", "document_id", "run_id", "domain", "category", "entity",
			"item", "status", "details", "evidence_quote", "evidence_page",
			"confidence", "verified", "created_at", "updated_at",
		},
		ConflictKeys: []string{"id"},
	}, rows)
	return eris.Wrap(err, "postgres: bulk upsert facts")
}

func scanFact(row pgx.Row) (*model.Fact, error) {
	var f model.Fact
	var entity, status string
	var details []byte
	var quote *string
	var page *int
	err := row.Scan(&f.ID, &f.DealID, &f.DocumentID, &f.RunID, &f.Domain, &f.Category, &entity,
		&f.Item, &status, &details, &quote, &page, &f.Confidence, &f.Verified,
		&f.CreatedAt, &f.UpdatedAt, &f.DeletedAt)
	if err != nil {
		return nil, err
	}
	f.Entity = model.Entity(entity)
	f.Status = model.FactStatus(status)
	if len(details) > 0 {
		if err := json.Unmarshal(details, &f.Details); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal fact details")
		}
	}
	if quote != nil {
		f.Evidence = &model.Evidence{Quote: *quote}
		if page != nil {
			f.Evidence.Page = *page
		}
	}
	return &f, nil
}

func (s *PostgresStore) GetFact(ctx context.Context, factID string) (*model.Fact, error) {
	f, err := scanFact(s.pool.QueryRow(ctx, preparedStatements["get_fact"], factID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get fact %s", factID)
	}
	return f, nil
}

const factSelectColumns = `id, deal_id, document_id, run_id, domain, category, entity, item, status, details, evidence_quote, evidence_page, confidence, verified, created_at, updated_at, deleted_at`

func (s *PostgresStore) ListFacts(ctx context.Context, filter FactFilter) ([]model.Fact, error) {
	query := `SELECT ` + factSelectColumns + ` FROM facts WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.DealID != "" {
		query += ` AND deal_id = ` + arg(filter.DealID)
	}
	if filter.RunID != "" {
		query += ` AND run_id = ` + arg(filter.RunID)
	}
	if filter.Domain != "" {
		query += ` AND domain = ` + arg(filter.Domain)
	}
	if filter.Entity != "" {
		query += ` AND entity = ` + arg(string(filter.Entity))
	}
	if filter.VerifiedOnly {
		query += ` AND verified`
	}
	if !filter.IncludeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	query += ` ORDER BY domain, category, item`
	if filter.Limit > 0 {
		query += ` LIMIT ` + arg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list facts")
	}
	defer rows.Close()

	var facts []model.Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan fact")
		}
		facts = append(facts, *f)
	}
	return facts, eris.Wrap(rows.Err(), "postgres: list facts rows")
}

// FindSimilarFact returns the existing fact for the same deal, domain, and
// entity whose item text best matches item, if the match clears
// minSimilarity. Similarity is scored in Go over the candidate set rather
// than in SQL; the per-domain candidate sets stay small.
func (s *PostgresStore) FindSimilarFact(ctx context.Context, dealID, domain string, entity model.Entity, item string, minSimilarity float64) (*model.Fact, error) {
	facts, err := s.ListFacts(ctx, FactFilter{DealID: dealID, Domain: domain, Entity: entity})
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find similar fact")
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

func (s *PostgresStore) SetFactVerified(ctx context.Context, factID string, verified bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE facts SET verified = $1, updated_at = now() WHERE id = $2 AND deleted_at IS NULL`,
		verified, factID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set fact verified %s", factID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	action := "unverify"
	if verified {
		action = "verify"
	}
	s.audit(ctx, "fact", factID, action, "")
	return nil
}

func (s *PostgresStore) SoftDeleteFact(ctx context.Context, factID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE facts SET deleted_at = now() WHERE id = $1 AND deleted_at IS NULL`,
		factID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: soft delete fact %s", factID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	s.audit(ctx, "fact", factID, "soft_delete", "")
	return nil
}

// ---- Gaps ----

func (s *PostgresStore) UpsertGap(ctx context.Context, gap *model.Gap) error {
	if gap.ID == "" {
		gap.ID = uuid.New().String()
	}
	if gap.CreatedAt.IsZero() {
		gap.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO gaps (id, deal_id, run_id, domain, category, description, severity, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
			run_id = EXCLUDED.run_id,
			description = EXCLUDED.description,
			severity = EXCLUDED.severity`,
		gap.ID, gap.DealID, gap.RunID, gap.Domain, gap.Category, gap.Description, gap.Severity, gap.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: upsert gap %s", gap.ID)
}

// ---- Findings ----

func (s *PostgresStore) UpsertFinding(ctx context.Context, finding *model.Finding) error {
	if finding.ID == "" {
		finding.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if finding.CreatedAt.IsZero() {
		finding.CreatedAt = now
	}
	finding.UpdatedAt = now

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: upsert finding: begin tx")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO findings (id, deal_id, run_id, finding_type, title, description, severity, phase, cost_low_usd, cost_high_usd, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (id) DO UPDATE SET
			run_id = EXCLUDED.run_id,
			finding_type = EXCLUDED.finding_type,
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			severity = EXCLUDED.severity,
			phase = EXCLUDED.phase,
			cost_low_usd = EXCLUDED.cost_low_usd,
			cost_high_usd = EXCLUDED.cost_high_usd,
			updated_at = EXCLUDED.updated_at`,
		finding.ID, finding.DealID, finding.RunID, string(finding.FindingType), finding.Title,
		finding.Description, string(finding.Severity), finding.Phase,
		finding.CostLowUSD, finding.CostHighUSD, finding.CreatedAt, finding.UpdatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: upsert finding %s", finding.ID)
	}

	// Replace fact links so the junction table mirrors the finding's
	// current supporting facts.
	if _, err := tx.Exec(ctx, `DELETE FROM fact_finding_links WHERE finding_id = $1`, finding.ID); err != nil {
		return eris.Wrapf(err, "postgres: clear fact links for finding %s", finding.ID)
	}
	for _, factID := range finding.FactIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO fact_finding_links (fact_id, finding_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			factID, finding.ID,
		); err != nil {
			return eris.Wrapf(err, "postgres: link fact %s to finding %s", factID, finding.ID)
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: upsert finding: commit")
}

func (s *PostgresStore) ListFindings(ctx context.Context, dealID, runID string) ([]model.Finding, error) {
	query := `SELECT id, deal_id, run_id, finding_type, title, description, severity, phase, cost_low_usd, cost_high_usd, created_at, updated_at FROM findings WHERE deal_id = $1 AND deleted_at IS NULL`
	args := []any{dealID}
	if runID != "" {
		query += ` AND run_id = $2`
		args = append(args, runID)
	}
	query += ` ORDER BY finding_type, severity, title`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list findings")
	}
	defer rows.Close()

	var findings []model.Finding
	for rows.Next() {
		var f model.Finding
		var ftype string
		var severity, phase *string
		var costLow, costHigh *float64
		if err := rows.Scan(&f.ID, &f.DealID, &f.RunID, &ftype, &f.Title, &f.Description, &severity, &phase, &costLow, &costHigh, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan finding")
		}
		f.FindingType = model.FindingType(ftype)
		if severity != nil {
			f.Severity = model.Severity(*severity)
		}
		if phase != nil {
			f.Phase = *phase
		}
		if costLow != nil {
			f.CostLowUSD = *costLow
		}
		if costHigh != nil {
			f.CostHighUSD = *costHigh
		}
		findings = append(findings, f)
	}
	return findings, eris.Wrap(rows.Err(), "postgres: list findings rows")
}

func (s *PostgresStore) SoftDeleteFinding(ctx context.Context, findingID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE findings SET deleted_at = now() WHERE id = $1 AND deleted_at IS NULL`,
		findingID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: soft delete finding %s", findingID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	s.audit(ctx, "finding", findingID, "soft_delete", "")
	return nil
}

// ---- Analysis runs ----

func (s *PostgresStore) CreateRun(ctx context.Context, dealID string, documentsTotal int) (*model.AnalysisRun, error) {
	run := &model.AnalysisRun{
		ID:        uuid.New().String(),
		DealID:    dealID,
		Status:    model.RunStatusRunning,
		Counts:    model.RunCounts{DocumentsTotal: documentsTotal},
		StartedAt: time.Now().UTC(),
	}
	counts, err := json.Marshal(run.Counts)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal run counts")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO analysis_runs (id, deal_id, status, progress, counts, started_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, run.DealID, string(run.Status), run.Progress, counts, run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return run, nil
}

func scanRun(row pgx.Row) (*model.AnalysisRun, error) {
	var r model.AnalysisRun
	var status string
	var counts []byte
	err := row.Scan(&r.ID, &r.DealID, &status, &r.Progress, &counts, &r.Error, &r.StartedAt, &r.CompletedAt)
	if err != nil {
		return nil, err
	}
	r.Status = model.RunStatus(status)
	if len(counts) > 0 {
		if err := json.Unmarshal(counts, &r.Counts); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal run counts")
		}
	}
	return &r, nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.AnalysisRun, error) {
	r, err := scanRun(s.pool.QueryRow(ctx, preparedStatements["get_run"], runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) UpdateRunProgress(ctx context.Context, runID string, progress float64, counts model.RunCounts) error {
	countsJSON, err := json.Marshal(counts)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run counts")
	}
	tag, err := s.pool.Exec(ctx, preparedStatements["update_run_progress"], progress, countsJSON, runID)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run progress %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, status model.RunStatus, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE analysis_runs SET status = $1, error = $2, completed_at = now() WHERE id = $3`,
		string(status), errMsg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) LatestCompletedRun(ctx context.Context, dealID string) (*model.AnalysisRun, error) {
	r, err := scanRun(s.pool.QueryRow(ctx,
		`SELECT id, deal_id, status, progress, counts, error, started_at, completed_at
		 FROM analysis_runs WHERE deal_id = $1 AND status = 'completed'
		 ORDER BY completed_at DESC LIMIT 1`,
		dealID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: latest completed run for deal %s", dealID)
	}
	return r, nil
}

// ---- Pending changes ----

func (s *PostgresStore) SavePendingChange(ctx context.Context, pc *model.PendingChange) error {
	if pc.ID == "" {
		pc.ID = uuid.New().String()
	}
	if pc.CreatedAt.IsZero() {
		pc.CreatedAt = time.Now().UTC()
	}
	candidate, err := json.Marshal(pc.Candidate)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal pending candidate")
	}
	reasons, err := json.Marshal(pc.Reasons)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal pending reasons")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO pending_changes (id, deal_id, run_id, document_id, candidate, tier, change_category, reasons, risk_score, existing_fact_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO UPDATE SET
			candidate = EXCLUDED.candidate,
			tier = EXCLUDED.tier,
			change_category = EXCLUDED.change_category,
			reasons = EXCLUDED.reasons,
			risk_score = EXCLUDED.risk_score,
			existing_fact_id = EXCLUDED.existing_fact_id`,
		pc.ID, pc.DealID, pc.RunID, pc.DocumentID, candidate, pc.Tier, pc.ChangeCategory, reasons, pc.RiskScore, pc.ExistingFactID, pc.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: save pending change %s", pc.ID)
}

func (s *PostgresStore) ListPendingChanges(ctx context.Context, dealID string, tier int) ([]model.PendingChange, error) {
	query := `SELECT id, deal_id, run_id, document_id, candidate, tier, change_category, reasons, risk_score, existing_fact_id, resolved, resolution, created_at, resolved_at
		FROM pending_changes WHERE deal_id = $1 AND NOT resolved`
	args := []any{dealID}
	if tier > 0 {
		query += ` AND tier = $2`
		args = append(args, tier)
	}
	query += ` ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list pending changes")
	}
	defer rows.Close()

	var out []model.PendingChange
	for rows.Next() {
		var pc model.PendingChange
		var candidate, reasons []byte
		if err := rows.Scan(&pc.ID, &pc.DealID, &pc.RunID, &pc.DocumentID, &candidate, &pc.Tier, &pc.ChangeCategory, &reasons, &pc.RiskScore, &pc.ExistingFactID, &pc.Resolved, &pc.Resolution, &pc.CreatedAt, &pc.ResolvedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan pending change")
		}
		if err := json.Unmarshal(candidate, &pc.Candidate); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal pending candidate")
		}
		if err := json.Unmarshal(reasons, &pc.Reasons); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal pending reasons")
		}
		out = append(out, pc)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list pending changes rows")
}

func (s *PostgresStore) ResolvePendingChange(ctx context.Context, id, resolution string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pending_changes SET resolved = true, resolution = $1, resolved_at = now() WHERE id = $2 AND NOT resolved`,
		resolution, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: resolve pending change %s", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	s.audit(ctx, "pending_change", id, "resolve", resolution)
	return nil
}

package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/diligence-cli/internal/model"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return &PostgresStore{pool: mock}, mock
}

var factColumns = []string{
	"id", "deal_id", "document_id", "run_id", "domain", "category", "entity",
	"item", "status", "details", "evidence_quote", "evidence_page",
	"confidence", "verified", "created_at", "updated_at", "deleted_at",
}

func TestPostgresDeals(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("get deal", func(t *testing.T) {
		t.Parallel()
		st, mock := newMockStore(t)

		now := time.Now().UTC()
		mock.ExpectQuery(`SELECT id, tenant_id, name, deal_type, locked, created_at, updated_at FROM deals`).
			WithArgs("deal-1").
			WillReturnRows(pgxmock.NewRows([]string{"id", "tenant_id", "name", "deal_type", "locked", "created_at", "updated_at"}).
				AddRow("deal-1", "tenant-1", "Project Atlas", "acquisition", false, now, now))

		deal, err := st.GetDeal(ctx, "deal-1")
		require.NoError(t, err)
		assert.Equal(t, "Project Atlas", deal.Name)
		assert.Equal(t, model.DealTypeAcquisition, deal.DealType)
		assert.False(t, deal.Locked)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("get deal not found", func(t *testing.T) {
		t.Parallel()
		st, mock := newMockStore(t)

		mock.ExpectQuery(`SELECT id, tenant_id, name, deal_type`).
			WithArgs("missing").
			WillReturnError(pgx.ErrNoRows)

		_, err := st.GetDeal(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("create deal rejects invalid type", func(t *testing.T) {
		t.Parallel()
		st, mock := newMockStore(t)

		_, err := st.CreateDeal(ctx, "tenant-1", "Bad Deal", model.DealType("hostile_takeover"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid deal type")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("create deal", func(t *testing.T) {
		t.Parallel()
		st, mock := newMockStore(t)

		mock.ExpectExec(`INSERT INTO deals`).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		deal, err := st.CreateDeal(ctx, "tenant-1", "Project Beacon", model.DealTypeCarveOut)
		require.NoError(t, err)
		assert.NotEmpty(t, deal.ID)
		assert.Equal(t, model.DealTypeCarveOut, deal.DealType)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lock deal writes audit entry", func(t *testing.T) {
		t.Parallel()
		st, mock := newMockStore(t)

		mock.ExpectExec(`UPDATE deals SET locked`).
			WithArgs(true, "deal-1").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectExec(`INSERT INTO audit_log`).
			WithArgs("deal", "deal-1", "lock", "").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, st.SetDealLocked(ctx, "deal-1", true))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lock unknown deal", func(t *testing.T) {
		t.Parallel()
		st, mock := newMockStore(t)

		mock.ExpectExec(`UPDATE deals SET locked`).
			WithArgs(true, "missing").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		assert.ErrorIs(t, st.SetDealLocked(ctx, "missing", true), ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresFacts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("upsert sets timestamps", func(t *testing.T) {
		t.Parallel()
		st, mock := newMockStore(t)

		mock.ExpectExec(`INSERT INTO facts`).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		fact := &model.Fact{
			ID:     "fact-1",
			DealID: "deal-1",
			Domain: "infrastructure",
			Item:   "VMware vSphere 7.0.3",
			Status: model.FactStatusActive,
		}
		require.NoError(t, st.UpsertFact(ctx, fact))
		assert.False(t, fact.CreatedAt.IsZero())
		assert.False(t, fact.UpdatedAt.IsZero())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("get fact reconstructs details and evidence", func(t *testing.T) {
		t.Parallel()
		st, mock := newMockStore(t)

		now := time.Now().UTC()
		quote := "45 physical servers in the primary data center"
		page := 3
		mock.ExpectQuery(`FROM facts WHERE id`).
			WithArgs("fact-1").
			WillReturnRows(pgxmock.NewRows(factColumns).AddRow(
				"fact-1", "deal-1", "doc-1", "run-1", "infrastructure", "servers", "target",
				"45 physical servers", "active", []byte(`{"count":45}`), &quote, &page,
				0.92, true, now, now, nil,
			))

		fact, err := st.GetFact(ctx, "fact-1")
		require.NoError(t, err)
		assert.Equal(t, "45 physical servers", fact.Item)
		assert.Equal(t, model.FactStatusActive, fact.Status)
		assert.Equal(t, float64(45), fact.Details["count"])
		require.NotNil(t, fact.Evidence)
		assert.Equal(t, quote, fact.Evidence.Quote)
		assert.Equal(t, 3, fact.Evidence.Page)
		assert.True(t, fact.Verified)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("get fact not found", func(t *testing.T) {
		t.Parallel()
		st, mock := newMockStore(t)

		mock.ExpectQuery(`FROM facts WHERE id`).
			WithArgs("missing").
			WillReturnError(pgx.ErrNoRows)

		_, err := st.GetFact(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("list facts applies filters in order", func(t *testing.T) {
		t.Parallel()
		st, mock := newMockStore(t)

		now := time.Now().UTC()
		mock.ExpectQuery(`FROM facts WHERE 1=1 AND deal_id = \$1 AND domain = \$2 AND deleted_at IS NULL ORDER BY domain, category, item LIMIT \$3`).
			WithArgs("deal-1", "security", 10).
			WillReturnRows(pgxmock.NewRows(factColumns).AddRow(
				"fact-1", "deal-1", "doc-1", "run-1", "security", "sso", "target",
				"Okta SSO", "active", []byte(nil), (*string)(nil), (*int)(nil),
				0.8, false, now, now, nil,
			))

		facts, err := st.ListFacts(ctx, FactFilter{DealID: "deal-1", Domain: "security", Limit: 10})
		require.NoError(t, err)
		require.Len(t, facts, 1)
		assert.Equal(t, "Okta SSO", facts[0].Item)
		assert.Nil(t, facts[0].Evidence)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("find similar fact picks best candidate", func(t *testing.T) {
		t.Parallel()
		st, mock := newMockStore(t)

		now := time.Now().UTC()
		mock.ExpectQuery(`FROM facts WHERE 1=1`).
			WillReturnRows(pgxmock.NewRows(factColumns).
				AddRow("fact-1", "deal-1", "", "", "infrastructure", "virtualization", "target",
					"VMware vSphere 7", "active", []byte(nil), (*string)(nil), (*int)(nil),
					0.9, false, now, now, nil).
				AddRow("fact-2", "deal-1", "", "", "infrastructure", "cloud", "target",
					"AWS EC2 fleet", "active", []byte(nil), (*string)(nil), (*int)(nil),
					0.9, false, now, now, nil))

		found, err := st.FindSimilarFact(ctx, "deal-1", "infrastructure", model.EntityTarget, "VMware vSphere 8", 0.5)
		require.NoError(t, err)
		assert.Equal(t, "fact-1", found.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("find similar fact below threshold", func(t *testing.T) {
		t.Parallel()
		st, mock := newMockStore(t)

		now := time.Now().UTC()
		mock.ExpectQuery(`FROM facts WHERE 1=1`).
			WillReturnRows(pgxmock.NewRows(factColumns).
				AddRow("fact-1", "deal-1", "", "", "infrastructure", "cloud", "target",
					"AWS EC2 fleet", "active", []byte(nil), (*string)(nil), (*int)(nil),
					0.9, false, now, now, nil))

		_, err := st.FindSimilarFact(ctx, "deal-1", "infrastructure", model.EntityTarget, "Okta SSO rollout", 0.6)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("verify unknown fact", func(t *testing.T) {
		t.Parallel()
		st, mock := newMockStore(t)

		mock.ExpectExec(`UPDATE facts SET verified`).
			WithArgs(true, "missing").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		assert.ErrorIs(t, st.SetFactVerified(ctx, "missing", true), ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresRuns(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("get run unmarshals counts", func(t *testing.T) {
		t.Parallel()
		st, mock := newMockStore(t)

		now := time.Now().UTC()
		mock.ExpectQuery(`FROM analysis_runs WHERE id`).
			WithArgs("run-1").
			WillReturnRows(pgxmock.NewRows([]string{"id", "deal_id", "status", "progress", "counts", "error", "started_at", "completed_at"}).
				AddRow("run-1", "deal-1", "running", 0.5, []byte(`{"documents_total":4,"documents_processed":2}`), "", now, nil))

		run, err := st.GetRun(ctx, "run-1")
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusRunning, run.Status)
		assert.InDelta(t, 0.5, run.Progress, 0.001)
		assert.Equal(t, 4, run.Counts.DocumentsTotal)
		assert.Equal(t, 2, run.Counts.DocumentsProcessed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("update progress on unknown run", func(t *testing.T) {
		t.Parallel()
		st, mock := newMockStore(t)

		mock.ExpectExec(`UPDATE analysis_runs SET progress`).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := st.UpdateRunProgress(ctx, "missing", 0.3, model.RunCounts{})
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("complete run", func(t *testing.T) {
		t.Parallel()
		st, mock := newMockStore(t)

		mock.ExpectExec(`UPDATE analysis_runs SET status`).
			WithArgs("completed", "", "run-1").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, st.CompleteRun(ctx, "run-1", model.RunStatusCompleted, ""))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresPendingChanges(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("resolve writes audit entry", func(t *testing.T) {
		t.Parallel()
		st, mock := newMockStore(t)

		mock.ExpectExec(`UPDATE pending_changes SET resolved`).
			WithArgs("applied", "pc-1").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectExec(`INSERT INTO audit_log`).
			WithArgs("pending_change", "pc-1", "resolve", "applied").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, st.ResolvePendingChange(ctx, "pc-1", "applied"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("resolve already resolved", func(t *testing.T) {
		t.Parallel()
		st, mock := newMockStore(t)

		mock.ExpectExec(`UPDATE pending_changes SET resolved`).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		assert.ErrorIs(t, st.ResolvePendingChange(ctx, "pc-1", "rejected"), ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

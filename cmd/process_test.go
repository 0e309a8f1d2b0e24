package main

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/diligence-cli/internal/model"
	"github.com/sells-group/diligence-cli/internal/store"
)

func TestRegisterDocument(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	deal, err := env.Store.CreateDeal(ctx, "tenant-1", "Project North", model.DealTypeAcquisition)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "inventory.txt")
	require.NoError(t, os.WriteFile(path, []byte("The data center runs 45 physical servers."), 0o644))

	doc, err := registerDocument(ctx, env.Store, deal.ID, path, "text/plain")
	require.NoError(t, err)

	assert.Equal(t, "inventory.txt", doc.Filename)
	assert.Equal(t, model.DocumentStatusPending, doc.Status)
	assert.Equal(t, int64(41), doc.SizeBytes)
	assert.Equal(t, path, doc.Path)
}

func TestRegisterDocument_MissingFile(t *testing.T) {
	env := newTestEnv(t)

	_, err := registerDocument(context.Background(), env.Store, "deal-1", filepath.Join(t.TempDir(), "gone.pdf"), "")
	assert.Error(t, err)
}

func TestSaveUpload(t *testing.T) {
	body, contentType := multipartUpload(t, "files", "../../etc/report.txt", "Quarterly IT report.")

	req := httptest.NewRequest("POST", "/upload", body)
	req.Header.Set("Content-Type", contentType)
	require.NoError(t, req.ParseMultipartForm(1<<20))

	files := req.MultipartForm.File["files"]
	require.Len(t, files, 1)

	dir := t.TempDir()
	dest, err := saveUpload(files[0], dir, "deal-a")
	require.NoError(t, err)

	// Path components of the client-supplied filename are stripped, and the
	// file lands in the deal's own subdirectory.
	assert.Equal(t, filepath.Join(dir, "deal-a", "report.txt"), dest)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "Quarterly IT report.", string(got))
}

func TestSaveUploadSeparatesDeals(t *testing.T) {
	dir := t.TempDir()

	save := func(dealID, contents string) string {
		t.Helper()
		body, contentType := multipartUpload(t, "files", "report.txt", contents)
		req := httptest.NewRequest("POST", "/upload", body)
		req.Header.Set("Content-Type", contentType)
		require.NoError(t, req.ParseMultipartForm(1<<20))
		dest, err := saveUpload(req.MultipartForm.File["files"][0], dir, dealID)
		require.NoError(t, err)
		return dest
	}

	destA := save("deal-a", "Report for deal A.")
	destB := save("deal-b", "Report for deal B.")
	require.NotEqual(t, destA, destB)

	gotA, err := os.ReadFile(destA)
	require.NoError(t, err)
	gotB, err := os.ReadFile(destB)
	require.NoError(t, err)
	assert.Equal(t, "Report for deal A.", string(gotA))
	assert.Equal(t, "Report for deal B.", string(gotB))
}

func TestProcessEndToEnd_SQLite(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	deal, err := env.Store.CreateDeal(ctx, "tenant-1", "Project North", model.DealTypeAcquisition)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "infrastructure.txt")
	text := "Infrastructure Overview\n\n" +
		"The primary data center runs 45 physical servers and 320 virtual machines on VMware vSphere 7.0.3.\n" +
		"The team plans to migrate all workloads to AWS by Q3 2025.\n"
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))

	_, err = registerDocument(ctx, env.Store, deal.ID, path, "")
	require.NoError(t, err)

	env.Processor.Start(ctx)
	run, err := env.Processor.StartRun(ctx, deal.ID, model.PriorityNormal)
	require.NoError(t, err)
	env.Processor.Stop()

	final, err := env.Store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, final.Status)
	assert.Equal(t, 1, final.Counts.DocumentsProcessed)
	assert.Equal(t, 1.0, final.Progress)

	docs, err := env.Store.ListDocuments(ctx, deal.ID, model.DocumentStatusCompleted)
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	facts, err := env.Store.ListFacts(ctx, store.FactFilter{DealID: deal.ID})
	require.NoError(t, err)
	pending, err := env.Store.ListPendingChanges(ctx, deal.ID, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, len(facts)+len(pending), "expected extracted candidates as facts or pending changes")
}

package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartar/server/internal/screenstore"
)

func newScreenFixture(t *testing.T, jobs ...*screenstore.Job) (*ScreenService, *screenstore.Store) {
	t.Helper()
	store, err := screenstore.NewStore(filepath.Join(t.TempDir(), "screen.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	for _, j := range jobs {
		j.Status = screenstore.JobStatusQueued
		j.CreatedAt = time.Now()
		require.NoError(t, store.CreateJob(j))
	}
	svc := NewScreenService(ScreenServiceConfig{Store: newFixtureStore(t), Workers: 2})
	return svc, store
}

func TestExecuteScreenJob_AllGenes(t *testing.T) {
	svc, store := newScreenFixture(t, &screenstore.Job{
		ID: "j1", Tumor: "SKCM", Params: screenstore.JobParams{Tumor: "SKCM"},
	})
	require.NoError(t, svc.ExecuteScreenJob(context.Background(), store, "j1"))

	results, total, err := store.QueryResults("j1", "gene", 0, 10)
	require.NoError(t, err)
	// MSLN has only metastatic samples and is left out.
	require.Equal(t, 2, total)
	assert.Equal(t, "EGFR", results[0].Gene)
	assert.Equal(t, "FGFR1", results[1].Gene)

	fgfr1 := results[1]
	assert.Equal(t, 3, fgfr1.NPrimary)
	assert.Equal(t, 3, fgfr1.NControl)
	assert.InDelta(t, 1.5, fgfr1.MedianPrimary, 1e-12)
	assert.InDelta(t, 0.5, fgfr1.MedianControl, 1e-12)
	assert.Equal(t, "p<0.05", fgfr1.Significance)
	assert.GreaterOrEqual(t, fgfr1.FDR, fgfr1.PValue)

	job, err := store.GetJob("j1")
	require.NoError(t, err)
	assert.Equal(t, "saving_results", job.Progress.Phase)
}

func TestExecuteScreenJob_GeneSubset(t *testing.T) {
	svc, store := newScreenFixture(t, &screenstore.Job{
		ID: "j2", Tumor: "CHOL", Params: screenstore.JobParams{Tumor: "CHOL", Genes: []string{"fgfr1"}, Method: "exact"},
	})
	require.NoError(t, svc.ExecuteScreenJob(context.Background(), store, "j2"))

	results, total, err := store.QueryResults("j2", "", 0, 10)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, "FGFR1", results[0].Gene)
	// Exact test for 3 vs 3 fully separated samples.
	assert.InDelta(t, 0.1, results[0].PValue, 1e-9)
	assert.Equal(t, "not significant", results[0].Significance)
}

func TestExecuteScreenJob_Failures(t *testing.T) {
	svc, store := newScreenFixture(t,
		&screenstore.Job{ID: "missing-tumor", Tumor: "LUAD", Params: screenstore.JobParams{Tumor: "LUAD"}},
		&screenstore.Job{ID: "bad-method", Tumor: "SKCM", Params: screenstore.JobParams{Tumor: "SKCM", Method: "bootstrap"}},
		&screenstore.Job{ID: "nothing-testable", Tumor: "SKCM", Params: screenstore.JobParams{Tumor: "SKCM", Genes: []string{"MSLN", "NOPE1"}}},
	)
	ctx := context.Background()
	assert.Error(t, svc.ExecuteScreenJob(ctx, store, "missing-tumor"))
	assert.Error(t, svc.ExecuteScreenJob(ctx, store, "bad-method"))
	assert.Error(t, svc.ExecuteScreenJob(ctx, store, "nothing-testable"))
	assert.Error(t, svc.ExecuteScreenJob(ctx, store, "no-such-job"))
}

func TestExecuteScreenJob_Cancelled(t *testing.T) {
	svc, store := newScreenFixture(t, &screenstore.Job{ID: "j3", Tumor: "SKCM", Params: screenstore.JobParams{Tumor: "SKCM"}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, svc.ExecuteScreenJob(ctx, store, "j3"), context.Canceled)
}

func TestSortResults(t *testing.T) {
	results := []*screenstore.GeneResult{
		{Gene: "ZNF1", Log2FC: 1, FDR: 0.02},
		{Gene: "EGFR", Log2FC: 2, FDR: 0.5},
		{Gene: "ACTB", Log2FC: -1, FDR: 0.02},
		{Gene: "FGFR1", Log2FC: -3, FDR: 0.02},
		{Gene: "MSLN", Log2FC: 1, FDR: 0.02},
	}
	sortResults(results)

	genes := make([]string, len(results))
	for i, r := range results {
		genes[i] = r.Gene
	}
	assert.Equal(t, []string{"FGFR1", "ACTB", "MSLN", "ZNF1", "EGFR"}, genes)
}

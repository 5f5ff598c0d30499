package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/cartar/server/internal/compare"
	"github.com/cartar/server/internal/exprstore"
	"github.com/cartar/server/internal/screenstore"
)

// progressEvery is how many genes pass between progress writes.
const progressEvery = 50

// ScreenServiceConfig contains screen service configuration.
type ScreenServiceConfig struct {
	Store   exprstore.Store
	Options compare.Options
	// Workers bounds the genes compared concurrently.
	Workers int
}

// ScreenService compares primary tumor against control for many genes of one tumor.
type ScreenService struct {
	store   exprstore.Store
	opts    compare.Options
	workers int
}

// NewScreenService creates a new screen service.
func NewScreenService(cfg ScreenServiceConfig) *ScreenService {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	return &ScreenService{store: cfg.Store, opts: cfg.Options, workers: workers}
}

// ExecuteScreenJob runs the screen for a job (called by JobManager worker).
func (s *ScreenService) ExecuteScreenJob(ctx context.Context, store *screenstore.Store, jobID string) error {
	job, err := store.GetJob(jobID)
	if err != nil {
		return fmt.Errorf("failed to get job: %w", err)
	}
	if job == nil {
		return fmt.Errorf("job not found: %s", jobID)
	}

	opts := s.opts
	if job.Params.Method != "" {
		m, err := compare.ParseMethod(job.Params.Method)
		if err != nil {
			return err
		}
		opts.Method = m
	}

	// Phase 1: gene list
	store.UpdateJobProgress(jobID, "loading_genes", 0, 0)
	genes := job.Params.Genes
	if len(genes) == 0 {
		genes, err = s.store.Genes(ctx, "", 0)
		if err != nil {
			return fmt.Errorf("failed to list genes: %w", err)
		}
	}
	if len(genes) == 0 {
		return fmt.Errorf("no genes to screen")
	}

	// Phase 2: per-gene comparisons
	store.UpdateJobProgress(jobID, "comparing", 0, len(genes))

	var (
		mu      sync.Mutex
		done    int
		results []*screenstore.GeneResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, gene := range genes {
		g.Go(func() error {
			r, err := s.screenGene(gctx, gene, job.Tumor, opts)
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			if r != nil {
				results = append(results, r)
			}
			done++
			if done%progressEvery == 0 {
				store.UpdateJobProgress(jobID, "comparing", done, len(genes))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if len(results) == 0 {
		return fmt.Errorf("no gene has both primary and control samples in %s", job.Tumor)
	}

	// Phase 3: FDR correction
	store.UpdateJobProgress(jobID, "computing_fdr", len(genes), len(genes))
	pvals := make([]float64, len(results))
	for i, r := range results {
		pvals[i] = r.PValue
	}
	for i, q := range compare.BenjaminiHochberg(pvals) {
		results[i].FDR = q
	}

	sortResults(results)

	// Phase 4: write results
	store.UpdateJobProgress(jobID, "saving_results", 0, len(results))
	if err := store.InsertResults(jobID, results); err != nil {
		return fmt.Errorf("failed to save results: %w", err)
	}

	log.WithFields(log.Fields{
		"job":    jobID,
		"tumor":  job.Tumor,
		"genes":  len(genes),
		"tested": len(results),
	}).Info("[Screen] job finished")
	return nil
}

// screenGene compares Primary against Control for one gene. Genes without data in the tumor,
// or without enough samples, yield nil.
func (s *ScreenService) screenGene(ctx context.Context, gene, tumor string, opts compare.Options) (*screenstore.GeneResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	values, err := s.store.Values(ctx, gene, tumor)
	switch {
	case errors.Is(err, exprstore.ErrGeneNotFound), errors.Is(err, exprstore.ErrNotMembrane):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("load %s: %w", gene, err)
	}

	order := []string{exprstore.GroupPrimary, exprstore.GroupControl}
	c, err := compare.ComparePairs(compare.Groups(values), order, compare.ScaleTPM, opts)
	if err != nil {
		return nil, err
	}
	if len(c.Pairs) == 0 {
		return nil, nil
	}

	p := c.Pairs[0]
	return &screenstore.GeneResult{
		Gene:          exprstore.NormalizeGene(gene),
		MedianPrimary: p.Median1,
		MedianControl: p.Median2,
		NPrimary:      p.N1,
		NControl:      p.N2,
		Log2FC:        p.Log2FC,
		PValue:        p.PValue,
		Significance:  string(p.Tier),
	}, nil
}

// sortResults orders by FDR, then by |log2FC| descending, then by gene.
func sortResults(results []*screenstore.GeneResult) {
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.FDR != b.FDR {
			return a.FDR < b.FDR
		}
		if fa, fb := math.Abs(a.Log2FC), math.Abs(b.Log2FC); fa != fb {
			return fa > fb
		}
		return a.Gene < b.Gene
	})
}

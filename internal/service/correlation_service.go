package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/cartar/server/internal/cache"
	"github.com/cartar/server/internal/compare"
	"github.com/cartar/server/internal/exprstore"
	"github.com/cartar/server/internal/render"
	"github.com/cartar/server/internal/table"
	"github.com/cartar/server/pkg/colormap"
)

// CorrelationServiceConfig contains correlation service configuration.
type CorrelationServiceConfig struct {
	Store    exprstore.Store
	Cache    *cache.Manager // optional
	Renderer *render.Renderer
}

// CorrelationService relates the expression of two genes across the samples of a tumor.
type CorrelationService struct {
	store    exprstore.Store
	cache    *cache.Manager
	renderer *render.Renderer
}

// NewCorrelationService creates a new correlation service.
func NewCorrelationService(cfg CorrelationServiceConfig) *CorrelationService {
	return &CorrelationService{store: cfg.Store, cache: cfg.Cache, renderer: cfg.Renderer}
}

// CorrelationRequest names the two genes; Gene1 goes on the y axis.
type CorrelationRequest struct {
	Gene1 string
	Gene2 string
	Tumor string
	Scale compare.Scale
}

// CorrelationGroup holds the paired samples of one group. X is Gene2, Y is Gene1.
type CorrelationGroup struct {
	Group string    `json:"group"`
	X     []float64 `json:"x"`
	Y     []float64 `json:"y"`
}

// CorrelationResult is the outcome of Correlate. Coefficients are nil when undefined.
type CorrelationResult struct {
	Gene1    string             `json:"gene1"`
	Gene2    string             `json:"gene2"`
	Tumor    string             `json:"tumor"`
	Scale    compare.Scale      `json:"scale"`
	Title    string             `json:"title"`
	XLabel   string             `json:"x_label"`
	YLabel   string             `json:"y_label"`
	Groups   []CorrelationGroup `json:"groups"`
	N        int                `json:"n"`
	Pearson  *float64           `json:"pearson"`
	Spearman *float64           `json:"spearman"`
}

// groupRank orders groups on the plot; unknown groups follow in lexical order.
var groupRank = map[string]int{
	exprstore.GroupPrimary:    0,
	exprstore.GroupMetastatic: 1,
	exprstore.GroupControl:    2,
}

func (req CorrelationRequest) normalize() (CorrelationRequest, error) {
	if !req.Scale.Valid() {
		return req, compare.ErrInvalidScale
	}
	req.Gene1 = exprstore.NormalizeGene(req.Gene1)
	req.Gene2 = exprstore.NormalizeGene(req.Gene2)
	req.Tumor = exprstore.NormalizeTumor(req.Tumor)
	if req.Tumor == "" {
		return req, ErrTumorRequired
	}
	return req, nil
}

// Correlate pairs the samples of the two genes by group and sample position and computes
// Pearson and Spearman coefficients over all pairs.
func (s *CorrelationService) Correlate(ctx context.Context, req CorrelationRequest) (*CorrelationResult, error) {
	req, err := req.normalize()
	if err != nil {
		return nil, err
	}

	v1, err := s.store.Values(ctx, req.Gene1, req.Tumor)
	if err != nil {
		return nil, err
	}
	v2, err := s.store.Values(ctx, req.Gene2, req.Tumor)
	if err != nil {
		return nil, err
	}

	var labels []string
	for g := range v1 {
		if _, ok := v2[g]; ok {
			labels = append(labels, g)
		}
	}
	sort.Slice(labels, func(i, j int) bool {
		ri, oki := groupRank[labels[i]]
		rj, okj := groupRank[labels[j]]
		switch {
		case oki && okj:
			return ri < rj
		case oki != okj:
			return oki
		}
		return labels[i] < labels[j]
	})

	res := &CorrelationResult{
		Gene1:  req.Gene1,
		Gene2:  req.Gene2,
		Tumor:  req.Tumor,
		Scale:  req.Scale,
		Title:  fmt.Sprintf("%s and %s expression correlation in %s samples", req.Gene1, req.Gene2, req.Tumor),
		XLabel: fmt.Sprintf("%s expression in %s", req.Gene2, req.Scale),
		YLabel: fmt.Sprintf("%s expression in %s", req.Gene1, req.Scale),
		Groups: []CorrelationGroup{},
	}

	var xs, ys []float64
	for _, g := range labels {
		y, x := v1[g], v2[g]
		n := min(len(x), len(y))
		if n == 0 {
			continue
		}
		x, y = x[:n], y[:n]
		if req.Scale == compare.ScaleLog2TPM {
			x, y = compare.Log2p1(x), compare.Log2p1(y)
		}
		res.Groups = append(res.Groups, CorrelationGroup{Group: g, X: x, Y: y})
		xs = append(xs, x...)
		ys = append(ys, y...)
	}
	if len(xs) == 0 {
		return nil, fmt.Errorf("%w: %s and %s in %s", ErrNoPairedSamples, req.Gene1, req.Gene2, req.Tumor)
	}

	res.N = len(xs)
	res.Pearson = coefficient(xs, ys)
	res.Spearman = coefficient(ranks(xs), ranks(ys))
	return res, nil
}

// Rows flattens the groups into one table row per sample, labelled with its group.
func (r *CorrelationResult) Rows() []*table.CorrelationRow {
	rows := make([]*table.CorrelationRow, 0, r.N)
	for _, g := range r.Groups {
		for i := range g.X {
			rows = append(rows, &table.CorrelationRow{Sample: g.Group, Gene1: g.Y[i], Gene2: g.X[i]})
		}
	}
	return rows
}

// CorrelateJSON returns the encoded correlation, served from the query cache when possible.
func (s *CorrelationService) CorrelateJSON(ctx context.Context, req CorrelationRequest) ([]byte, error) {
	req, err := req.normalize()
	if err != nil {
		return nil, err
	}
	key := cache.CorrelationKey(req.Gene1, req.Gene2, req.Tumor, req.Scale.String())
	if s.cache != nil {
		if data, ok := s.cache.GetQuery(key); ok {
			return data, nil
		}
	}

	res, err := s.Correlate(ctx, req)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("encode correlation: %w", err)
	}
	if s.cache != nil {
		s.cache.SetQuery(key, data)
	}
	return data, nil
}

// Plot renders the correlation scatter plot.
func (s *CorrelationService) Plot(ctx context.Context, req CorrelationRequest) ([]byte, error) {
	req, err := req.normalize()
	if err != nil {
		return nil, err
	}
	key := "plot:" + cache.CorrelationKey(req.Gene1, req.Gene2, req.Tumor, req.Scale.String())
	if s.cache != nil {
		if data, ok := s.cache.GetPlot(key); ok {
			return data, nil
		}
	}

	res, err := s.Correlate(ctx, req)
	if err != nil {
		return nil, err
	}
	plot := render.ScatterPlot{Title: res.Title, XLabel: res.XLabel, YLabel: res.YLabel}
	for i, g := range res.Groups {
		plot.Series = append(plot.Series, render.ScatterSeries{
			Label: g.Group,
			Color: colormap.GroupColor(g.Group, i),
			X:     g.X,
			Y:     g.Y,
		})
	}
	data, err := s.renderer.RenderScatter(plot)
	if err != nil {
		return nil, fmt.Errorf("render correlation: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.SetPlot(key, data); err != nil {
			log.Printf("[Correlation] plot cache set failed for %s: %v", key, err)
		}
	}
	return data, nil
}

func coefficient(x, y []float64) *float64 {
	if len(x) < 2 {
		return nil
	}
	r := stat.Correlation(x, y, nil)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return nil
	}
	return &r
}

// ranks returns 1-based ranks with ties sharing their average rank.
func ranks(values []float64) []float64 {
	idx := make([]int, len(values))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return values[idx[a]] < values[idx[b]] })

	out := make([]float64, len(values))
	for i := 0; i < len(idx); {
		j := i + 1
		for j < len(idx) && values[idx[j]] == values[idx[i]] {
			j++
		}
		avg := float64(i+j+1) / 2
		for k := i; k < j; k++ {
			out[idx[k]] = avg
		}
		i = j
	}
	return out
}

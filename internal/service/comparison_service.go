// Package service provides the business logic behind the CARTAR endpoints.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/cartar/server/internal/cache"
	"github.com/cartar/server/internal/compare"
	"github.com/cartar/server/internal/exprstore"
	"github.com/cartar/server/internal/render"
	"github.com/cartar/server/internal/table"
)

// ComparisonServiceConfig contains comparison service configuration.
type ComparisonServiceConfig struct {
	Store    exprstore.Store
	Presets  *PresetRegistry
	Cache    *cache.Manager // optional
	Renderer *render.Renderer
	Options  compare.Options
}

// ComparisonService runs preset group comparisons for one gene.
type ComparisonService struct {
	store    exprstore.Store
	presets  *PresetRegistry
	cache    *cache.Manager
	renderer *render.Renderer
	opts     compare.Options
}

// NewComparisonService creates a new comparison service.
func NewComparisonService(cfg ComparisonServiceConfig) *ComparisonService {
	presets := cfg.Presets
	if presets == nil {
		presets = NewPresetRegistry(DefaultPresets()...)
	}
	return &ComparisonService{
		store:    cfg.Store,
		presets:  presets,
		cache:    cfg.Cache,
		renderer: cfg.Renderer,
		opts:     cfg.Options,
	}
}

// Presets returns the preset registry.
func (s *ComparisonService) Presets() *PresetRegistry {
	return s.presets
}

// ComparisonRequest selects a preset, gene, tumor and display scale.
type ComparisonRequest struct {
	Preset string
	Gene   string
	// Tumor is ignored by presets bound to a fixed tumor.
	Tumor string
	Scale compare.Scale
}

// Axis holds the data y limits and the top of the plot once brackets are drawn.
type Axis struct {
	Bottom  float64 `json:"bottom"`
	Top     float64 `json:"top"`
	Ceiling float64 `json:"ceiling"`
}

// ComparisonResult is everything a comparison page shows.
type ComparisonResult struct {
	Preset     string              `json:"preset"`
	Gene       string              `json:"gene"`
	Tumor      string              `json:"tumor"`
	TumorName  string              `json:"tumor_name,omitempty"`
	Title      string              `json:"title"`
	XLabel     string              `json:"x_label"`
	YLabel     string              `json:"y_label"`
	Groups     []string            `json:"groups"`
	Values     [][]float64         `json:"values"`
	Comparison *compare.Comparison `json:"comparison"`
	Brackets   []compare.Bracket   `json:"brackets"`
	Axis       Axis                `json:"axis"`
	Table      []table.Row         `json:"table"`
	Notes      []string            `json:"notes,omitempty"`
}

func (s *ComparisonService) resolve(req ComparisonRequest) (Preset, string, string, error) {
	preset, err := s.presets.Get(req.Preset)
	if err != nil {
		return Preset{}, "", "", err
	}
	if !req.Scale.Valid() {
		return Preset{}, "", "", compare.ErrInvalidScale
	}
	tumor := preset.Tumor
	if tumor == "" {
		tumor = exprstore.NormalizeTumor(req.Tumor)
		if tumor == "" {
			return Preset{}, "", "", ErrTumorRequired
		}
	}
	return preset, exprstore.NormalizeGene(req.Gene), tumor, nil
}

// Compare loads the gene's values for the preset groups and compares every pair.
func (s *ComparisonService) Compare(ctx context.Context, req ComparisonRequest) (*ComparisonResult, error) {
	preset, gene, tumor, err := s.resolve(req)
	if err != nil {
		return nil, err
	}

	raw, err := s.store.Values(ctx, gene, tumor)
	if err != nil {
		return nil, err
	}

	groups := make(compare.Groups, len(preset.Order))
	values := make([][]float64, len(preset.Order))
	for i, label := range preset.Order {
		v, ok := raw[label]
		if !ok {
			continue
		}
		if req.Scale == compare.ScaleLog2TPM {
			v = compare.Log2p1(v)
		}
		groups[label] = v
		values[i] = v
	}

	c, err := compare.ComparePairs(groups, preset.Order, req.Scale, s.opts)
	if err != nil {
		return nil, err
	}
	if len(c.Pairs) == 0 && len(c.Skipped) > 0 {
		reasons := make([]string, len(c.Skipped))
		for i := range c.Skipped {
			reasons[i] = c.Skipped[i].Error()
		}
		return nil, fmt.Errorf("%w: %s", ErrNoComparablePairs, strings.Join(reasons, "; "))
	}

	bottom, top := valueRange(values)
	bottom, top = render.Pad(bottom, top)
	brackets := compare.LayoutBrackets(c.Significant(), bottom, top)

	res := &ComparisonResult{
		Preset:     preset.Name,
		Gene:       gene,
		Tumor:      tumor,
		TumorName:  exprstore.TumorNames[tumor],
		Title:      preset.title(gene, tumor),
		XLabel:     preset.XLabel,
		YLabel:     fmt.Sprintf("%s expression in %s", gene, req.Scale),
		Groups:     preset.Order,
		Values:     values,
		Comparison: c,
		Brackets:   brackets,
		Axis:       Axis{Bottom: bottom, Top: top, Ceiling: compare.Ceiling(brackets, bottom, top)},
		Table:      table.FromComparison(c),
	}

	ann, err := s.store.Annotation(ctx, gene)
	switch {
	case err == nil && ann.HPAPlasmaMembrane:
		res.Notes = append(res.Notes, fmt.Sprintf("%s has been experimentally reported to be located in the plasma membrane by the Human Protein Atlas.", gene))
	case err != nil && !errors.Is(err, exprstore.ErrGeneNotFound):
		log.Printf("[Compare] annotation lookup for %s failed: %v", gene, err)
	}

	return res, nil
}

// CompareJSON returns the encoded comparison, served from the query cache when possible.
func (s *ComparisonService) CompareJSON(ctx context.Context, req ComparisonRequest) ([]byte, error) {
	preset, gene, tumor, err := s.resolve(req)
	if err != nil {
		return nil, err
	}
	key := cache.ComparisonKey(preset.Name, gene, tumor, req.Scale.String())
	if s.cache != nil {
		if data, ok := s.cache.GetQuery(key); ok {
			return data, nil
		}
	}

	res, err := s.Compare(ctx, req)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("encode comparison: %w", err)
	}
	if s.cache != nil {
		s.cache.SetQuery(key, data)
	}
	return data, nil
}

// Plot renders the comparison as a PNG of the given kind.
func (s *ComparisonService) Plot(ctx context.Context, req ComparisonRequest, kind render.PlotKind) ([]byte, error) {
	preset, gene, tumor, err := s.resolve(req)
	if err != nil {
		return nil, err
	}
	key := cache.PlotKey(preset.Name, gene, tumor, req.Scale.String(), string(kind))
	if s.cache != nil {
		if data, ok := s.cache.GetPlot(key); ok {
			return data, nil
		}
	}

	res, err := s.Compare(ctx, req)
	if err != nil {
		return nil, err
	}
	data, err := s.renderer.RenderCategory(render.CategoryPlot{
		Title:    res.Title,
		XLabel:   res.XLabel,
		YLabel:   res.YLabel,
		Groups:   res.Groups,
		Values:   res.Values,
		Bottom:   res.Axis.Bottom,
		Top:      res.Axis.Top,
		Brackets: res.Brackets,
	}, kind)
	if err != nil {
		return nil, fmt.Errorf("render comparison: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.SetPlot(key, data); err != nil {
			log.Printf("[Compare] plot cache set failed for %s: %v", key, err)
		}
	}
	return data, nil
}

// Table returns the results table rows of the comparison.
func (s *ComparisonService) Table(ctx context.Context, req ComparisonRequest) ([]table.Row, error) {
	res, err := s.Compare(ctx, req)
	if err != nil {
		return nil, err
	}
	return res.Table, nil
}

// valueRange returns the smallest and largest value over all groups, or 0, 0 when there are none.
func valueRange(groups [][]float64) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, g := range groups {
		for _, v := range g {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	if math.IsInf(lo, 1) {
		return 0, 0
	}
	return lo, hi
}

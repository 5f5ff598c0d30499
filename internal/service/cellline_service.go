package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/cartar/server/internal/cache"
	"github.com/cartar/server/internal/compare"
	"github.com/cartar/server/internal/exprstore"
	"github.com/cartar/server/internal/render"
)

// Direction selects cell lines above or below the threshold.
type Direction string

const (
	DirectionOver  Direction = "over"
	DirectionUnder Direction = "under"
)

// ParseDirection accepts over/under and the longer overexpression/underexpression forms.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "over", "overexpression", "":
		return DirectionOver, nil
	case "under", "underexpression":
		return DirectionUnder, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDirection, s)
}

// CellLineServiceConfig contains cell line service configuration.
type CellLineServiceConfig struct {
	Store    exprstore.Store
	Cache    *cache.Manager // optional
	Renderer *render.Renderer
}

// CellLineService selects CCLE cell lines by expression of a gene.
type CellLineService struct {
	store    exprstore.Store
	cache    *cache.Manager
	renderer *render.Renderer
}

// NewCellLineService creates a new cell line service.
func NewCellLineService(cfg CellLineServiceConfig) *CellLineService {
	return &CellLineService{store: cfg.Store, cache: cfg.Cache, renderer: cfg.Renderer}
}

// CellLineRequest is a threshold query. Threshold is in Scale units and must not be negative.
type CellLineRequest struct {
	Gene      string
	Lineages  []string
	Direction Direction
	Threshold float64
	Scale     compare.Scale
}

// CellLineResult lists the matching cell lines by descending expression, in the requested scale.
type CellLineResult struct {
	Gene      string                    `json:"gene"`
	Direction Direction                 `json:"direction"`
	Threshold float64                   `json:"threshold"`
	Scale     compare.Scale             `json:"scale"`
	Title     string                    `json:"title"`
	YLabel    string                    `json:"y_label"`
	CellLines []exprstore.CellLineValue `json:"cell_lines"`
	Notes     []string                  `json:"notes,omitempty"`
}

func (req CellLineRequest) normalize() (CellLineRequest, error) {
	if !req.Scale.Valid() {
		return req, compare.ErrInvalidScale
	}
	if req.Threshold < 0 || math.IsNaN(req.Threshold) || math.IsInf(req.Threshold, 0) {
		return req, fmt.Errorf("%w: must be a non-negative number", ErrInvalidThreshold)
	}
	if req.Direction != DirectionOver && req.Direction != DirectionUnder {
		return req, fmt.Errorf("%w: %q", ErrInvalidDirection, req.Direction)
	}
	req.Gene = exprstore.NormalizeGene(req.Gene)
	return req, nil
}

// Select returns the cell lines of the given lineages whose expression is at or above (over)
// or at or below (under) the threshold. Values are stored as log2(TPM+1); TPM thresholds are
// converted before matching and matched values converted back.
func (s *CellLineService) Select(ctx context.Context, req CellLineRequest) (*CellLineResult, error) {
	req, err := req.normalize()
	if err != nil {
		return nil, err
	}

	lines, err := s.store.CellLines(ctx, req.Gene, req.Lineages)
	if err != nil {
		return nil, err
	}

	threshold := req.Threshold
	if req.Scale == compare.ScaleTPM {
		threshold = math.Log2(threshold + 1)
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	matched := []exprstore.CellLineValue{}
	for _, cl := range lines {
		lo, hi = math.Min(lo, cl.Value), math.Max(hi, cl.Value)
		if (req.Direction == DirectionOver && cl.Value >= threshold) ||
			(req.Direction == DirectionUnder && cl.Value <= threshold) {
			matched = append(matched, cl)
		}
	}
	if len(matched) == 0 {
		e := &NoCellLinesError{Gene: req.Gene}
		if len(lines) > 0 {
			e.Min, e.Max = fromLog(lo, req.Scale), fromLog(hi, req.Scale)
		}
		return nil, e
	}

	for i := range matched {
		matched[i].Value = fromLog(matched[i].Value, req.Scale)
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].Value > matched[j].Value })

	res := &CellLineResult{
		Gene:      req.Gene,
		Direction: req.Direction,
		Threshold: req.Threshold,
		Scale:     req.Scale,
		Title:     fmt.Sprintf("%s expression comparison between desired cell lines", req.Gene),
		YLabel:    fmt.Sprintf("%s expression in %s", req.Gene, req.Scale),
		CellLines: matched,
	}
	if ann, err := s.store.Annotation(ctx, req.Gene); err == nil && ann.HPAPlasmaMembrane {
		res.Notes = append(res.Notes, fmt.Sprintf("%s has been experimentally reported to be located in the plasma membrane by the Human Protein Atlas.", req.Gene))
	}
	return res, nil
}

// SelectJSON returns the encoded selection, served from the query cache when possible.
func (s *CellLineService) SelectJSON(ctx context.Context, req CellLineRequest) ([]byte, error) {
	req, err := req.normalize()
	if err != nil {
		return nil, err
	}
	key := cache.CellLineKey(req.Gene, string(req.Direction), req.Threshold, req.Scale.String(), req.Lineages)
	if s.cache != nil {
		if data, ok := s.cache.GetQuery(key); ok {
			return data, nil
		}
	}

	res, err := s.Select(ctx, req)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("encode cell lines: %w", err)
	}
	if s.cache != nil {
		s.cache.SetQuery(key, data)
	}
	return data, nil
}

// Plot renders the selection as a bar chart colored by lineage.
func (s *CellLineService) Plot(ctx context.Context, req CellLineRequest) ([]byte, error) {
	req, err := req.normalize()
	if err != nil {
		return nil, err
	}
	key := "plot:" + cache.CellLineKey(req.Gene, string(req.Direction), req.Threshold, req.Scale.String(), req.Lineages)
	if s.cache != nil {
		if data, ok := s.cache.GetPlot(key); ok {
			return data, nil
		}
	}

	res, err := s.Select(ctx, req)
	if err != nil {
		return nil, err
	}
	plot := render.BarPlot{Title: res.Title, XLabel: "Cell lines", YLabel: res.YLabel}
	for _, cl := range res.CellLines {
		plot.Bars = append(plot.Bars, render.Bar{Label: cl.Name, Category: cl.Lineage, Value: cl.Value})
	}
	data, err := s.renderer.RenderBars(plot)
	if err != nil {
		return nil, fmt.Errorf("render cell lines: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.SetPlot(key, data); err != nil {
			log.Printf("[CellLines] plot cache set failed for %s: %v", key, err)
		}
	}
	return data, nil
}

// fromLog converts a stored log2(TPM+1) value to the requested scale.
func fromLog(v float64, scale compare.Scale) float64 {
	if scale == compare.ScaleTPM {
		return math.Exp2(v) - 1
	}
	return v
}

package api

import (
	"github.com/cartar/server/internal/exprstore"
	"github.com/cartar/server/internal/service"
)

// TumorInfo describes a tumor cohort for the API response.
type TumorInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Services holds everything the handlers call into.
type Services struct {
	Store       exprstore.Store
	Comparison  *service.ComparisonService
	Correlation *service.CorrelationService
	CellLines   *service.CellLineService
	title       string
}

// NewServices bundles the services for the router.
func NewServices(store exprstore.Store, cmp *service.ComparisonService, corr *service.CorrelationService, cells *service.CellLineService, title string) *Services {
	return &Services{
		Store:       store,
		Comparison:  cmp,
		Correlation: corr,
		CellLines:   cells,
		title:       title,
	}
}

// Title returns the configured site title.
func (s *Services) Title() string {
	if s.title != "" {
		return s.title
	}
	return "CARTAR"
}

// tumorInfos expands tumor codes to display names; codes without one use the code.
func tumorInfos(ids []string) []TumorInfo {
	infos := make([]TumorInfo, 0, len(ids))
	for _, id := range ids {
		name := exprstore.TumorNames[id]
		if name == "" {
			name = id
		}
		infos = append(infos, TumorInfo{ID: id, Name: name})
	}
	return infos
}

package service

import (
	"fmt"
	"sort"

	"github.com/cartar/server/internal/exprstore"
)

// Preset is a named comparison page: which tumor it is bound to and which groups it compares.
type Preset struct {
	Name string `json:"name"`
	// Tumor fixes the cohort; empty means the request supplies it.
	Tumor  string   `json:"tumor,omitempty"`
	Order  []string `json:"groups"`
	Title  string   `json:"title"`
	XLabel string   `json:"x_label"`
}

var (
	// PresetMetastatic compares SKCM metastatic, primary and control samples.
	PresetMetastatic = Preset{
		Name:   "metastatic",
		Tumor:  "SKCM",
		Order:  []string{exprstore.GroupMetastatic, exprstore.GroupPrimary, exprstore.GroupControl},
		Title:  "%s expression comparison between SKCM conditions",
		XLabel: "SKCM group",
	}
	// PresetTumor compares primary tumor against control for any tumor.
	PresetTumor = Preset{
		Name:   "tumor",
		Order:  []string{exprstore.GroupPrimary, exprstore.GroupControl},
		Title:  "%s expression in %s vs control",
		XLabel: "Sample type",
	}
)

// DefaultPresets returns the built-in presets.
func DefaultPresets() []Preset {
	return []Preset{PresetMetastatic, PresetTumor}
}

// PresetRegistry resolves presets by name.
type PresetRegistry struct {
	presets map[string]Preset
}

// NewPresetRegistry creates a registry holding the given presets.
func NewPresetRegistry(presets ...Preset) *PresetRegistry {
	r := &PresetRegistry{presets: make(map[string]Preset, len(presets))}
	for _, p := range presets {
		r.presets[p.Name] = p
	}
	return r
}

// Get returns the named preset.
func (r *PresetRegistry) Get(name string) (Preset, error) {
	p, ok := r.presets[name]
	if !ok {
		return Preset{}, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	return p, nil
}

// List returns all presets sorted by name.
func (r *PresetRegistry) List() []Preset {
	out := make([]Preset, 0, len(r.presets))
	for _, p := range r.presets {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// title formats the preset title for a gene and tumor.
func (p Preset) title(gene, tumor string) string {
	if p.Tumor != "" {
		return fmt.Sprintf(p.Title, gene)
	}
	return fmt.Sprintf(p.Title, gene, tumor)
}

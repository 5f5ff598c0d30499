// Package colormap provides color schemes for expression plots.
package colormap

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

// Colormap maps category indices to colors.
type Colormap interface {
	AtIndex(i int) color.Color
}

// CategoricalColormap provides distinct colors for categories.
type CategoricalColormap struct {
	colors []color.RGBA
}

// AtIndex returns color at index (wraps around).
func (c CategoricalColormap) AtIndex(i int) color.Color {
	if i < 0 {
		i = -i
	}
	return c.colors[i%len(c.colors)]
}

// Len is the number of distinct colors.
func (c CategoricalColormap) Len() int {
	return len(c.colors)
}

// Named colors used for sample groups.
var (
	LightSeaGreen = color.RGBA{32, 178, 170, 255}
	Tan           = color.RGBA{210, 180, 140, 255}
	Grey          = color.RGBA{128, 128, 128, 255}
	Black         = color.RGBA{0, 0, 0, 255}
	White         = color.RGBA{255, 255, 255, 255}
)

// groupColors fixes the colors of the standard sample groups.
var groupColors = map[string]color.RGBA{
	"Primary":    LightSeaGreen,
	"Control":    Tan,
	"Metastatic": Grey,
}

// GroupColor returns the color of a sample group. Groups without a fixed color take the
// categorical color of their position.
func GroupColor(group string, index int) color.Color {
	if c, ok := groupColors[group]; ok {
		return c
	}
	return Categorical.AtIndex(index)
}

// Categorical colormap with 20 distinct colors
var Categorical = CategoricalColormap{
	colors: []color.RGBA{
		{31, 119, 180, 255},  // Blue
		{255, 127, 14, 255},  // Orange
		{44, 160, 44, 255},   // Green
		{214, 39, 40, 255},   // Red
		{148, 103, 189, 255}, // Purple
		{140, 86, 75, 255},   // Brown
		{227, 119, 194, 255}, // Pink
		{127, 127, 127, 255}, // Gray
		{188, 189, 34, 255},  // Olive
		{23, 190, 207, 255},  // Cyan
		{174, 199, 232, 255}, // Light blue
		{255, 187, 120, 255}, // Light orange
		{152, 223, 138, 255}, // Light green
		{255, 152, 150, 255}, // Light red
		{197, 176, 213, 255}, // Light purple
		{196, 156, 148, 255}, // Light brown
		{247, 182, 210, 255}, // Light pink
		{199, 199, 199, 255}, // Light gray
		{219, 219, 141, 255}, // Light olive
		{158, 218, 229, 255}, // Light cyan
	},
}

// Lineage is the 24-color palette for cell line lineages.
var Lineage = mustHexPalette(
	"#CC6262", "#72CC62", "#6A76FC", "#FED4C4", "#FE00CE", "#0DF9FF",
	"#F6F926", "#FF9616", "#479B55", "#EEA6FB", "#DC587D", "#D626FF",
	"#6E899C", "#00B5F7", "#B68E00", "#C9FBE5", "#FF0092", "#22FFA7",
	"#E3EE9E", "#86CE00", "#BC7196", "#7E7DCD", "#FC6955", "#E48F72",
)

// ParseHex parses "#RRGGBB".
func ParseHex(s string) (color.RGBA, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid hex color %q", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid hex color %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}

func mustHexPalette(hex ...string) CategoricalColormap {
	colors := make([]color.RGBA, len(hex))
	for i, h := range hex {
		c, err := ParseHex(h)
		if err != nil {
			panic(err)
		}
		colors[i] = c
	}
	return CategoricalColormap{colors: colors}
}

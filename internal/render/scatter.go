package render

import (
	"image/color"
	"math"

	"github.com/cartar/server/pkg/colormap"
)

// ScatterSeries is one colored point set.
type ScatterSeries struct {
	Label string
	Color color.Color
	X     []float64
	Y     []float64
}

// ScatterPlot is a two-gene correlation plot.
type ScatterPlot struct {
	Title  string
	XLabel string
	YLabel string
	Series []ScatterSeries
}

// RenderScatter draws the series with a legend in the top right corner.
func (r *Renderer) RenderScatter(p ScatterPlot) ([]byte, error) {
	dc := r.acquire()

	xMin, xMax := math.Inf(1), math.Inf(-1)
	yMin, yMax := math.Inf(1), math.Inf(-1)
	for _, s := range p.Series {
		for i := range s.X {
			if i >= len(s.Y) {
				break
			}
			xMin, xMax = math.Min(xMin, s.X[i]), math.Max(xMax, s.X[i])
			yMin, yMax = math.Min(yMin, s.Y[i]), math.Max(yMax, s.Y[i])
		}
	}
	if math.IsInf(xMin, 1) {
		xMin, xMax, yMin, yMax = 0, 1, 0, 1
	}
	xMin, xMax = Pad(xMin, xMax)
	yMin, yMax = Pad(yMin, yMax)
	f := r.newFrame(xMin, xMax, yMin, yMax)

	for _, s := range p.Series {
		dc.SetColor(s.Color)
		for i := range s.X {
			if i >= len(s.Y) {
				break
			}
			dc.DrawCircle(f.px(s.X[i]), f.py(s.Y[i]), dotRadius)
			dc.Fill()
		}
	}

	drawAxes(dc, f, yMax, p.Title, p.XLabel, p.YLabel)

	dc.SetColor(colormap.Black)
	for _, t := range niceTicks(xMin, xMax, 6) {
		x := f.px(t)
		dc.DrawLine(x, f.bottom(), x, f.bottom()+4)
		dc.Stroke()
		dc.DrawStringAnchored(formatTick(t), x, f.bottom()+8, 0.5, 1)
	}

	lx, ly := f.right()-110, f.top+10
	for i, s := range p.Series {
		y := ly + float64(i)*16
		dc.SetColor(s.Color)
		dc.DrawCircle(lx, y, 4)
		dc.Fill()
		dc.SetColor(colormap.Black)
		dc.DrawStringAnchored(s.Label, lx+10, y, 0, 0.5)
	}

	return r.encodeContext(dc)
}

// Bar is one bar of a bar plot.
type Bar struct {
	Label    string
	Category string
	Value    float64
}

// BarPlot draws bars in the given order, colored by category.
type BarPlot struct {
	Title  string
	XLabel string
	YLabel string
	Bars   []Bar
}

// RenderBars draws the bars with a category legend; categories take lineage palette colors in
// order of first appearance.
func (r *Renderer) RenderBars(p BarPlot) ([]byte, error) {
	dc := r.acquire()

	top := 0.0
	for _, b := range p.Bars {
		top = math.Max(top, b.Value)
	}
	if top == 0 {
		top = 1
	}
	_, ceil := Pad(0, top)
	f := r.newFrame(-0.5, float64(len(p.Bars))-0.5, 0, ceil)

	categories := map[string]int{}
	var order []string
	labels := make([]string, len(p.Bars))
	for i, b := range p.Bars {
		idx, ok := categories[b.Category]
		if !ok {
			idx = len(order)
			categories[b.Category] = idx
			order = append(order, b.Category)
		}
		labels[i] = b.Label

		left, right := f.px(float64(i)-0.4), f.px(float64(i)+0.4)
		dc.SetColor(colormap.Lineage.AtIndex(idx))
		dc.DrawRectangle(left, f.py(b.Value), right-left, f.py(0)-f.py(b.Value))
		dc.Fill()
	}

	drawAxes(dc, f, ceil, p.Title, p.XLabel, p.YLabel)
	if len(p.Bars) <= 60 {
		drawCategoryLabels(dc, f, labels)
	}

	lx, ly := f.right()-150, f.top+10
	for i, c := range order {
		y := ly + float64(i)*16
		dc.SetColor(colormap.Lineage.AtIndex(i))
		dc.DrawRectangle(lx, y-5, 10, 10)
		dc.Fill()
		dc.SetColor(colormap.Black)
		dc.DrawStringAnchored(c, lx+14, y, 0, 0.5)
	}

	return r.encodeContext(dc)
}

// Pad widens [lo, hi] by 5% of its span on both sides, the default autoscale margin of
// common plotting tools. A zero span is widened by 0.5 each way.
func Pad(lo, hi float64) (float64, float64) {
	span := hi - lo
	if span <= 0 {
		return lo - 0.5, hi + 0.5
	}
	return lo - 0.05*span, hi + 0.05*span
}

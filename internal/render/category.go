package render

import (
	"image/color"
	"math"
	"math/rand"
	"sort"

	"github.com/fogleman/gg"
	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"

	"github.com/cartar/server/internal/compare"
	"github.com/cartar/server/pkg/colormap"
)

// CategoryPlot describes one value distribution per group plus significance brackets.
type CategoryPlot struct {
	Title  string
	XLabel string
	YLabel string
	Groups []string
	// Values holds the display-scale values of each group, aligned with Groups.
	Values [][]float64
	// Bottom and Top are the data axis limits the bracket layout was computed for.
	Bottom   float64
	Top      float64
	Brackets []compare.Bracket
}

const (
	boxWidth     = 0.6 // in category units
	violinWidth  = 0.8
	violinPoints = 100
	dotRadius    = 2.5
)

// RenderCategory draws a box, violin or dot plot with bracket overlay.
func (r *Renderer) RenderCategory(p CategoryPlot, kind PlotKind) ([]byte, error) {
	dc := r.acquire()

	ceiling := compare.Ceiling(p.Brackets, p.Bottom, p.Top)
	f := r.newFrame(-0.5, float64(len(p.Groups))-0.5, p.Bottom, ceiling)

	for i, group := range p.Groups {
		var values []float64
		if i < len(p.Values) {
			values = p.Values[i]
		}
		if len(values) == 0 {
			continue
		}
		fill := colormap.GroupColor(group, i)
		switch kind {
		case PlotViolin:
			drawViolin(dc, f, float64(i), values, fill)
		case PlotDot:
			drawDots(dc, f, i, values, fill)
		default:
			drawBox(dc, f, float64(i), values, fill)
		}
	}

	drawBrackets(dc, f, p.Brackets)
	drawAxes(dc, f, p.Top, p.Title, p.XLabel, p.YLabel)
	drawCategoryLabels(dc, f, p.Groups)

	return r.encodeContext(dc)
}

// boxStats returns quartiles and whisker ends (1.5 IQR, clipped to the data).
func boxStats(values []float64) (q1, q2, q3, lo, hi float64) {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		v := sorted[0]
		return v, v, v, v, v
	}

	q1 = stat.Quantile(0.25, stat.LinInterp, sorted, nil)
	q3 = stat.Quantile(0.75, stat.LinInterp, sorted, nil)
	q2, _ = stats.Median(sorted)

	iqr := q3 - q1
	lo, hi = q1, q3
	for _, v := range sorted {
		if v >= q1-1.5*iqr {
			lo = v
			break
		}
	}
	for i := len(sorted) - 1; i >= 0; i-- {
		if sorted[i] <= q3+1.5*iqr {
			hi = sorted[i]
			break
		}
	}
	return q1, q2, q3, lo, hi
}

func drawBox(dc *gg.Context, f frame, x float64, values []float64, fill color.Color) {
	q1, q2, q3, lo, hi := boxStats(values)

	left, right := f.px(x-boxWidth/2), f.px(x+boxWidth/2)
	cx := f.px(x)

	dc.SetColor(fill)
	dc.DrawRectangle(left, f.py(q3), right-left, f.py(q1)-f.py(q3))
	dc.Fill()

	dc.SetColor(colormap.Black)
	dc.SetLineWidth(1)
	dc.DrawRectangle(left, f.py(q3), right-left, f.py(q1)-f.py(q3))
	dc.Stroke()
	dc.DrawLine(left, f.py(q2), right, f.py(q2))
	dc.DrawLine(cx, f.py(q3), cx, f.py(hi))
	dc.DrawLine(cx, f.py(q1), cx, f.py(lo))
	capHalf := (right - left) / 4
	dc.DrawLine(cx-capHalf, f.py(hi), cx+capHalf, f.py(hi))
	dc.DrawLine(cx-capHalf, f.py(lo), cx+capHalf, f.py(lo))
	dc.Stroke()
}

// density evaluates a Gaussian kernel density estimate (Scott's bandwidth) on an even grid
// spanning the data.
func density(values []float64, points int) (ys, ds []float64) {
	lo, hi := values[0], values[0]
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	n := float64(len(values))
	bw := 1.06 * stat.StdDev(values, nil) * math.Pow(n, -0.2)
	if bw <= 0 || math.IsNaN(bw) {
		bw = math.Max((hi-lo)/10, 1e-3)
	}

	ys = make([]float64, points)
	ds = make([]float64, points)
	for i := range ys {
		y := lo
		if points > 1 {
			y = lo + (hi-lo)*float64(i)/float64(points-1)
		}
		sum := 0.0
		for _, v := range values {
			z := (y - v) / bw
			sum += math.Exp(-0.5 * z * z)
		}
		ys[i] = y
		ds[i] = sum / (n * bw * math.Sqrt(2*math.Pi))
	}
	return ys, ds
}

// drawViolin draws a width-normalised density outline with quartile lines.
func drawViolin(dc *gg.Context, f frame, x float64, values []float64, fill color.Color) {
	ys, ds := density(values, violinPoints)
	maxD := 0.0
	for _, d := range ds {
		maxD = math.Max(maxD, d)
	}
	if maxD == 0 {
		maxD = 1
	}
	half := violinWidth / 2

	dc.NewSubPath()
	for i := range ys {
		dc.LineTo(f.px(x+half*ds[i]/maxD), f.py(ys[i]))
	}
	for i := len(ys) - 1; i >= 0; i-- {
		dc.LineTo(f.px(x-half*ds[i]/maxD), f.py(ys[i]))
	}
	dc.ClosePath()
	dc.SetColor(fill)
	dc.FillPreserve()
	dc.SetColor(colormap.Black)
	dc.SetLineWidth(1)
	dc.Stroke()

	q1, q2, q3, _, _ := boxStats(values)
	for _, q := range []float64{q1, q2, q3} {
		w := half * densityAt(ys, ds, q) / maxD
		if q == q2 {
			dc.SetDash()
		} else {
			dc.SetDash(4, 3)
		}
		dc.DrawLine(f.px(x-w), f.py(q), f.px(x+w), f.py(q))
		dc.Stroke()
	}
	dc.SetDash()
}

func densityAt(ys, ds []float64, y float64) float64 {
	i := sort.SearchFloat64s(ys, y)
	switch {
	case i <= 0:
		return ds[0]
	case i >= len(ys):
		return ds[len(ds)-1]
	}
	t := (y - ys[i-1]) / (ys[i] - ys[i-1])
	return ds[i-1] + t*(ds[i]-ds[i-1])
}

// drawDots draws jittered points and a median line spanning half the category width.
func drawDots(dc *gg.Context, f frame, index int, values []float64, fill color.Color) {
	rng := rand.New(rand.NewSource(int64(index) + 1))
	x := float64(index)

	dc.SetColor(fill)
	for _, v := range values {
		jitter := (rng.Float64() - 0.5) * 0.4
		dc.DrawCircle(f.px(x+jitter), f.py(v), dotRadius)
		dc.Fill()
	}

	median, err := stats.Median(values)
	if err != nil {
		return
	}
	dc.SetColor(colormap.Black)
	dc.SetLineWidth(1.5)
	dc.DrawLine(f.px(x-0.25), f.py(median), f.px(x+0.25), f.py(median))
	dc.Stroke()
	dc.SetLineWidth(1)
}

// drawBrackets draws each bracket as a tick-bar-tick line with its symbol above.
func drawBrackets(dc *gg.Context, f frame, brackets []compare.Bracket) {
	dc.SetColor(colormap.Black)
	dc.SetLineWidth(1)
	for _, b := range brackets {
		x1, x2 := f.px(float64(b.X1)), f.px(float64(b.X2))
		yBar, yTick := f.py(b.Height), f.py(b.Tick)
		dc.MoveTo(x1, yTick)
		dc.LineTo(x1, yBar)
		dc.LineTo(x2, yBar)
		dc.LineTo(x2, yTick)
		dc.Stroke()
		dc.DrawStringAnchored(b.Symbol, f.px(b.SymbolX), f.py(b.SymbolY), 0.5, 1)
	}
}

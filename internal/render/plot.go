// Package render draws expression plots as PNG using fogleman/gg.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"
	"image/png"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/fogleman/gg"

	"github.com/cartar/server/pkg/colormap"
)

// Config contains renderer configuration.
type Config struct {
	Width  int
	Height int
}

// Plot margins in pixels.
const (
	marginLeft   = 70.0
	marginRight  = 20.0
	marginTop    = 50.0
	marginBottom = 90.0
)

// Renderer renders plots to PNG. It is safe for concurrent use.
type Renderer struct {
	config      Config
	contextPool sync.Pool
	bufferPool  sync.Pool
}

// NewRenderer creates a new plot renderer.
func NewRenderer(cfg Config) *Renderer {
	if cfg.Width <= 0 {
		cfg.Width = 800
	}
	if cfg.Height <= 0 {
		cfg.Height = 600
	}
	return &Renderer{
		config: cfg,
		contextPool: sync.Pool{
			New: func() interface{} {
				return gg.NewContext(cfg.Width, cfg.Height)
			},
		},
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 64*1024))
			},
		},
	}
}

// Size returns the image dimensions.
func (r *Renderer) Size() (int, int) {
	return r.config.Width, r.config.Height
}

func (r *Renderer) acquire() *gg.Context {
	dc := r.contextPool.Get().(*gg.Context)
	dc.Identity()
	dc.SetColor(color.White)
	dc.Clear()
	dc.SetLineWidth(1)
	dc.SetDash()
	return dc
}

func (r *Renderer) encodeContext(dc *gg.Context) ([]byte, error) {
	defer r.contextPool.Put(dc)

	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, dc.Image()); err != nil {
		return nil, err
	}

	// Copy buffer contents (buffer will be reused)
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

// frame maps data coordinates into the plot area.
type frame struct {
	left, top, width, height float64
	xMin, xMax               float64
	yMin, yMax               float64
}

func (r *Renderer) newFrame(xMin, xMax, yMin, yMax float64) frame {
	if yMax <= yMin {
		yMax = yMin + 1
	}
	if xMax <= xMin {
		xMax = xMin + 1
	}
	return frame{
		left:   marginLeft,
		top:    marginTop,
		width:  float64(r.config.Width) - marginLeft - marginRight,
		height: float64(r.config.Height) - marginTop - marginBottom,
		xMin:   xMin,
		xMax:   xMax,
		yMin:   yMin,
		yMax:   yMax,
	}
}

func (f frame) px(x float64) float64 {
	return f.left + (x-f.xMin)/(f.xMax-f.xMin)*f.width
}

func (f frame) py(y float64) float64 {
	return f.top + (1-(y-f.yMin)/(f.yMax-f.yMin))*f.height
}

func (f frame) bottom() float64 {
	return f.top + f.height
}

func (f frame) right() float64 {
	return f.left + f.width
}

// drawAxes draws the plot box, y ticks up to yTickMax and the labels.
func drawAxes(dc *gg.Context, f frame, yTickMax float64, title, xLabel, yLabel string) {
	dc.SetColor(colormap.Black)
	dc.SetLineWidth(1)
	dc.DrawLine(f.left, f.top, f.left, f.bottom())
	dc.DrawLine(f.left, f.bottom(), f.right(), f.bottom())
	dc.Stroke()

	for _, t := range niceTicks(f.yMin, yTickMax, 6) {
		y := f.py(t)
		dc.DrawLine(f.left-4, y, f.left, y)
		dc.Stroke()
		dc.DrawStringAnchored(formatTick(t), f.left-6, y, 1, 0.5)
	}

	if title != "" {
		dc.DrawStringAnchored(title, float64(dc.Width())/2, marginTop/2, 0.5, 0.5)
	}
	if xLabel != "" {
		dc.DrawStringAnchored(xLabel, f.left+f.width/2, float64(dc.Height())-12, 0.5, 0.5)
	}
	if yLabel != "" {
		dc.Push()
		dc.RotateAbout(gg.Radians(-90), 14, f.top+f.height/2)
		dc.DrawStringAnchored(yLabel, 14, f.top+f.height/2, 0.5, 0.5)
		dc.Pop()
	}
}

// drawCategoryLabels writes rotated labels under category positions 0..n-1.
func drawCategoryLabels(dc *gg.Context, f frame, labels []string) {
	dc.SetColor(colormap.Black)
	for i, label := range labels {
		x := f.px(float64(i))
		y := f.bottom() + 8
		dc.DrawLine(x, f.bottom(), x, f.bottom()+4)
		dc.Stroke()
		dc.Push()
		dc.RotateAbout(gg.Radians(-45), x, y)
		dc.DrawStringAnchored(label, x, y, 1, 0.5)
		dc.Pop()
	}
}

// niceTicks returns about n evenly spaced round values covering [lo, hi].
func niceTicks(lo, hi float64, n int) []float64 {
	if n < 2 || math.IsNaN(lo) || math.IsNaN(hi) || hi <= lo {
		return []float64{lo}
	}
	raw := (hi - lo) / float64(n-1)
	mag := math.Pow(10, math.Floor(math.Log10(raw)))
	step := mag
	for _, m := range []float64{1, 2, 2.5, 5, 10} {
		if raw <= m*mag {
			step = m * mag
			break
		}
	}

	var ticks []float64
	for t := math.Ceil(lo/step) * step; t <= hi+step*1e-9; t += step {
		// Avoid -0 and accumulated float noise in labels.
		ticks = append(ticks, math.Round(t/step)*step+0)
	}
	return ticks
}

func formatTick(v float64) string {
	s := strconv.FormatFloat(v, 'f', 2, 64)
	s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	if s == "-0" {
		s = "0"
	}
	return s
}

// ErrInvalidPlot is returned for an unknown plot kind.
var ErrInvalidPlot = errors.New("unknown plot type")

// PlotKind selects how groups are drawn.
type PlotKind string

const (
	PlotBox    PlotKind = "box"
	PlotViolin PlotKind = "violin"
	PlotDot    PlotKind = "dot"
)

// ParsePlotKind accepts box/boxplot, violin/violin plot and dot/dot plot/strip.
func ParsePlotKind(s string) (PlotKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "box", "boxplot":
		return PlotBox, nil
	case "violin", "violin plot", "violinplot":
		return PlotViolin, nil
	case "dot", "dot plot", "dotplot", "strip":
		return PlotDot, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPlot, s)
}

package compare

// Bracket geometry, as fractions of the y range.
const (
	bracketStep    = 0.07
	bracketTick    = 0.02
	symbolLift     = 0.0001
	bumpedPosition = 2
)

// Bracket is a significance annotation spanning two group positions.
type Bracket struct {
	Group1  string  `json:"group1"`
	Group2  string  `json:"group2"`
	X1      int     `json:"x1"`
	X2      int     `json:"x2"`
	Level   int     `json:"level"`
	Height  float64 `json:"height"`
	Tick    float64 `json:"tick"`
	SymbolX float64 `json:"symbol_x"`
	SymbolY float64 `json:"symbol_y"`
	Symbol  string  `json:"symbol"`
	Tier    Tier    `json:"significance"`
	PValue  float64 `json:"p_value"`
}

// LayoutBrackets assigns stacking levels and heights to the significant pairs, given in
// discovery order, for a plot whose y axis spans bottom..top. Pairs are placed in reverse
// discovery order; the k-th placed bracket sits at level count-k, one higher for k == 2.
// A bracket that would overlap the interior of an already placed bracket on the same
// level is raised until it is clear.
func LayoutBrackets(significant []PairResult, bottom, top float64) []Bracket {
	var pairs []PairResult
	for _, p := range significant {
		if p.Significant() {
			pairs = append(pairs, p)
		}
	}
	for i, j := 0, len(pairs)-1; i < j; i, j = i+1, j-1 {
		pairs[i], pairs[j] = pairs[j], pairs[i]
	}

	yRange := top - bottom
	count := len(pairs)
	brackets := make([]Bracket, 0, count)
	for k, p := range pairs {
		level := count - k
		if k == bumpedPosition {
			level++
		}
		x1, x2 := p.Index1, p.Index2
		if x1 > x2 {
			x1, x2 = x2, x1
		}
		for collides(brackets, x1, x2, level) {
			level++
		}

		height := top + yRange*bracketStep*float64(level)
		brackets = append(brackets, Bracket{
			Group1:  p.Group1,
			Group2:  p.Group2,
			X1:      x1,
			X2:      x2,
			Level:   level,
			Height:  height,
			Tick:    height - yRange*bracketTick,
			SymbolX: float64(x1+x2) * 0.5,
			SymbolY: height + yRange*symbolLift,
			Symbol:  p.Tier.Symbol(),
			Tier:    p.Tier,
			PValue:  p.PValue,
		})
	}
	return brackets
}

func collides(placed []Bracket, x1, x2, level int) bool {
	for _, b := range placed {
		if b.Level != level {
			continue
		}
		lo, hi := b.X1, b.X2
		if x1 > lo {
			lo = x1
		}
		if x2 < hi {
			hi = x2
		}
		if lo < hi {
			return true
		}
	}
	return false
}

// Ceiling is the y value that leaves room for the highest bracket and its symbol.
func Ceiling(brackets []Bracket, bottom, top float64) float64 {
	ceil := top
	for _, b := range brackets {
		if h := b.Height + (top-bottom)*bracketStep; h > ceil {
			ceil = h
		}
	}
	return ceil
}

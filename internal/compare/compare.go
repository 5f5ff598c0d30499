// Package compare runs pairwise rank-sum comparisons between expression groups and lays out
// the significance brackets drawn above a categorical plot.
package compare

import (
	"sort"

	"github.com/montanaflynn/stats"
)

// Alpha is the significance threshold for brackets.
const Alpha = 0.05

// Groups maps a group label to its expression values.
type Groups map[string][]float64

// Labels returns the group labels in lexical order.
func (g Groups) Labels() []string {
	labels := make([]string, 0, len(g))
	for label := range g {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// Tier is a significance class derived from a p-value.
type Tier string

const (
	TierP001           Tier = "p<0.001"
	TierP01            Tier = "p<0.01"
	TierP05            Tier = "p<0.05"
	TierNotSignificant Tier = "not significant"
)

// TierOf classifies p with exclusive upper bounds.
func TierOf(p float64) Tier {
	switch {
	case p < 0.001:
		return TierP001
	case p < 0.01:
		return TierP01
	case p < Alpha:
		return TierP05
	}
	return TierNotSignificant
}

// Symbol is the star annotation drawn above a bracket.
func (t Tier) Symbol() string {
	switch t {
	case TierP001:
		return "***"
	case TierP01:
		return "**"
	case TierP05:
		return "*"
	}
	return ""
}

// Options tune a comparison. The zero value is usable.
type Options struct {
	Method     Method
	Continuity bool
	// MinGroupSize is the smallest group the test accepts; values below 1 mean 1.
	MinGroupSize int
}

// PairResult is the outcome for one pair of groups.
type PairResult struct {
	Group1    string  `json:"group1"`
	Group2    string  `json:"group2"`
	Index1    int     `json:"index1"`
	Index2    int     `json:"index2"`
	Median1   float64 `json:"median1"`
	Median2   float64 `json:"median2"`
	N1        int     `json:"n1"`
	N2        int     `json:"n2"`
	Log2FC    float64 `json:"log2_fold_change"`
	U         float64 `json:"u_statistic"`
	PValue    float64 `json:"p_value"`
	PAdjusted float64 `json:"p_adjusted"`
	Tier      Tier    `json:"significance"`
	// Higher is the order index of the group with the larger display-scale median. For even
	// sized TPM groups it can disagree with the sign of Log2FC, which uses log2(v+1) medians.
	Higher int `json:"higher"`
}

// Significant reports whether the pair gets a bracket.
func (p PairResult) Significant() bool {
	return p.PValue < Alpha
}

// Comparison is the result of ComparePairs.
type Comparison struct {
	Order   []string     `json:"order"`
	Scale   Scale        `json:"scale"`
	Method  Method       `json:"method"`
	Pairs   []PairResult `json:"pairs"`
	Skipped []PairError  `json:"skipped"`
}

// Significant returns the significant pairs in discovery order.
func (c *Comparison) Significant() []PairResult {
	var out []PairResult
	for _, p := range c.Pairs {
		if p.Significant() {
			out = append(out, p)
		}
	}
	return out
}

type groupState struct {
	values []float64
	fc     []float64
	median float64
	fcMed  float64
	err    error
}

// ComparePairs tests every unordered pair of groups named in order. Pairs are discovered
// with i running from the last index down to 0 and j from i+1 up; that order is kept in
// the result. An empty order compares all groups in lexical order. Pairs whose groups are
// missing or too small are reported in Skipped instead of Pairs.
func ComparePairs(groups Groups, order []string, scale Scale, opts Options) (*Comparison, error) {
	if !scale.Valid() {
		return nil, ErrInvalidScale
	}
	if len(order) == 0 {
		order = groups.Labels()
	}
	order = dedupe(order)

	minSize := opts.MinGroupSize
	if minSize < 1 {
		minSize = 1
	}

	states := make([]groupState, len(order))
	for i, label := range order {
		values, ok := groups[label]
		switch {
		case !ok:
			states[i].err = ErrUnknownGroup
		case len(values) < minSize:
			states[i].err = ErrInsufficientData
		default:
			fc := scale.foldChangeValues(values)
			states[i] = groupState{
				values: values,
				fc:     fc,
				median: median(values),
				fcMed:  median(fc),
			}
		}
	}

	type pair struct{ i, j int }
	var pairs []pair
	c := &Comparison{
		Order:   order,
		Scale:   scale,
		Pairs:   []PairResult{},
		Skipped: []PairError{},
	}
	for i := len(order) - 1; i >= 0; i-- {
		for j := i + 1; j < len(order); j++ {
			if err := states[i].err; err != nil {
				c.Skipped = append(c.Skipped, PairError{Group1: order[i], Group2: order[j], Err: err})
				continue
			}
			if err := states[j].err; err != nil {
				c.Skipped = append(c.Skipped, PairError{Group1: order[i], Group2: order[j], Err: err})
				continue
			}
			pairs = append(pairs, pair{i, j})
		}
	}

	method := opts.Method
	if method == MethodAuto {
		method = MethodExact
		for _, p := range pairs {
			a, b := states[p.i].values, states[p.j].values
			if (len(a) > 8 && len(b) > 8) || hasTies(a, b) {
				method = MethodAsymptotic
				break
			}
		}
	}
	if method == MethodExact {
		// One infeasible pair moves the whole invocation to the normal approximation.
		for _, p := range pairs {
			if !exactFeasible(len(states[p.i].values), len(states[p.j].values)) {
				method = MethodAsymptotic
				break
			}
		}
	}
	c.Method = method

	for _, p := range pairs {
		g1, g2 := states[p.i], states[p.j]
		rs := mannWhitney(g1.values, g2.values, method, opts.Continuity)
		higher := p.j
		if g1.median > g2.median {
			higher = p.i
		}
		c.Pairs = append(c.Pairs, PairResult{
			Group1:  order[p.i],
			Group2:  order[p.j],
			Index1:  p.i,
			Index2:  p.j,
			Median1: g1.median,
			Median2: g2.median,
			N1:      len(g1.values),
			N2:      len(g2.values),
			Log2FC:  g1.fcMed - g2.fcMed,
			U:       rs.U,
			PValue:  rs.P,
			Tier:    TierOf(rs.P),
			Higher:  higher,
		})
	}

	pvals := make([]float64, len(c.Pairs))
	for i, p := range c.Pairs {
		pvals[i] = p.PValue
	}
	for i, adj := range BenjaminiHochberg(pvals) {
		c.Pairs[i].PAdjusted = adj
	}

	return c, nil
}

func median(values []float64) float64 {
	m, err := stats.Median(values)
	if err != nil {
		return 0
	}
	return m
}

func dedupe(labels []string) []string {
	seen := make(map[string]bool, len(labels))
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}

package compare

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat/distuv"
)

// Method selects how the Mann-Whitney p-value is computed.
type Method int

const (
	// MethodAsymptotic uses the tie-corrected normal approximation.
	MethodAsymptotic Method = iota
	// MethodExact enumerates the null distribution of U.
	MethodExact
	// MethodAuto picks exact when every pair is small and tie free, asymptotic otherwise.
	MethodAuto
)

// exactCellLimit bounds the work of the exact distribution (min(n1,n2) * n1 * n2).
const exactCellLimit = 50_000_000

// ParseMethod maps a config value to a Method.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "asymptotic", "normal":
		return MethodAsymptotic, nil
	case "exact":
		return MethodExact, nil
	case "auto":
		return MethodAuto, nil
	}
	return 0, fmt.Errorf("unknown rank-sum method %q", s)
}

func (m Method) String() string {
	switch m {
	case MethodAsymptotic:
		return "asymptotic"
	case MethodExact:
		return "exact"
	case MethodAuto:
		return "auto"
	}
	return fmt.Sprintf("Method(%d)", int(m))
}

// MarshalText implements encoding.TextMarshaler.
func (m Method) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// rankSum is the outcome of one two-sided Mann-Whitney U test.
type rankSum struct {
	U float64 // max(U1, U2)
	P float64
}

// mannWhitney runs a two-sided Mann-Whitney U test on a and b.
// Both samples must be non-empty; callers check exactFeasible before asking for MethodExact.
func mannWhitney(a, b []float64, method Method, continuity bool) rankSum {
	n1 := len(a)
	n2 := len(b)

	type entry struct {
		val   float64
		group int
	}
	combined := make([]entry, 0, n1+n2)
	for _, v := range a {
		combined = append(combined, entry{val: v, group: 1})
	}
	for _, v := range b {
		combined = append(combined, entry{val: v, group: 2})
	}
	sort.SliceStable(combined, func(i, j int) bool {
		return combined[i].val < combined[j].val
	})

	N := len(combined)
	R1 := 0.0
	tieSum := 0.0
	i := 0
	for i < N {
		j := i
		for j < N && combined[j].val == combined[i].val {
			j++
		}
		avgRank := float64(i+j+1) / 2.0
		for k := i; k < j; k++ {
			if combined[k].group == 1 {
				R1 += avgRank
			}
		}
		t := float64(j - i)
		if t > 1 {
			tieSum += t*t*t - t
		}
		i = j
	}

	n1f := float64(n1)
	n2f := float64(n2)
	U1 := R1 - n1f*(n1f+1)/2
	U2 := n1f*n2f - U1
	U := math.Max(U1, U2)

	if method == MethodExact {
		return rankSum{U: U, P: exactPValue(U, n1, n2)}
	}

	muU := n1f * n2f / 2
	Nf := float64(N)
	sigmaU := math.Sqrt(n1f * n2f / 12 * ((Nf + 1) - tieSum/(Nf*(Nf-1))))
	if N < 2 || sigmaU < 1e-10 || math.IsNaN(sigmaU) {
		return rankSum{U: U, P: 1.0}
	}

	num := U - muU
	if continuity {
		num -= 0.5
	}
	z := num / sigmaU
	p := 2 * distuv.UnitNormal.Survival(z)
	return rankSum{U: U, P: clampProb(p)}
}

func exactFeasible(n1, n2 int) bool {
	m := n1
	if n2 < m {
		m = n2
	}
	return float64(m)*float64(n1)*float64(n2) <= exactCellLimit
}

// exactPValue returns 2*P(U >= u) under the null, u being the larger of U1 and U2.
func exactPValue(u float64, n1, n2 int) float64 {
	counts := uDistribution(n1, n2)
	k := int(math.Ceil(u - 1e-9))
	if k < 0 {
		k = 0
	}
	total := 0.0
	upper := 0.0
	for x, c := range counts {
		total += c
		if x >= k {
			upper += c
		}
	}
	if total == 0 {
		return 1.0
	}
	return clampProb(2 * upper / total)
}

// uDistribution returns the number of rank arrangements producing each value of U for
// sample sizes m and n. The counts are the coefficients of the Gaussian binomial
// [m+n choose m]_q, built one factor (1-q^(n+k))/(1-q^k) at a time.
func uDistribution(m, n int) []float64 {
	if m > n {
		m, n = n, m
	}
	size := m*n + 1
	c := make([]float64, size+m)
	c[0] = 1
	for k := 1; k <= m; k++ {
		a := n + k
		top := (k-1)*n + a
		for i := top; i >= a; i-- {
			c[i] -= c[i-a]
		}
		for i := k; i <= top; i++ {
			c[i] += c[i-k]
		}
	}
	return c[:size]
}

// hasTies reports whether any value occurs more than once across a and b.
func hasTies(a, b []float64) bool {
	seen := make(map[float64]struct{}, len(a)+len(b))
	for _, vals := range [][]float64{a, b} {
		for _, v := range vals {
			if _, ok := seen[v]; ok {
				return true
			}
			seen[v] = struct{}{}
		}
	}
	return false
}

func clampProb(p float64) float64 {
	if math.IsNaN(p) {
		return 1.0
	}
	if p > 1 {
		return 1
	}
	if p < 0 {
		return 0
	}
	return p
}

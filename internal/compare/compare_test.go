package compare

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skcmGroups() Groups {
	return Groups{
		"Metastatic": {10, 12, 11},
		"Primary":    {1, 2, 1.5},
		"Control":    {0.5, 0.4, 0.6},
	}
}

var skcmOrder = []string{"Metastatic", "Primary", "Control"}

func TestComparePairs_MetastaticExample(t *testing.T) {
	c, err := ComparePairs(skcmGroups(), skcmOrder, ScaleTPM, Options{})
	require.NoError(t, err)
	require.Len(t, c.Pairs, 3)
	assert.Empty(t, c.Skipped)
	assert.Equal(t, MethodAsymptotic, c.Method)

	// Discovery order: i from the last index down, j upwards.
	assert.Equal(t, "Primary", c.Pairs[0].Group1)
	assert.Equal(t, "Control", c.Pairs[0].Group2)
	assert.Equal(t, "Metastatic", c.Pairs[1].Group1)
	assert.Equal(t, "Primary", c.Pairs[1].Group2)
	assert.Equal(t, "Metastatic", c.Pairs[2].Group1)
	assert.Equal(t, "Control", c.Pairs[2].Group2)

	for _, p := range c.Pairs[1:] {
		assert.Less(t, p.PValue, 0.05, "%s vs %s", p.Group1, p.Group2)
		assert.Greater(t, p.Log2FC, 0.0)
		assert.Equal(t, 0, p.Higher)
		assert.Equal(t, TierP05, p.Tier)
	}

	pc := c.Pairs[0]
	assert.Greater(t, pc.PValue, 0.0)
	assert.LessOrEqual(t, pc.PValue, 1.0)

	mp := c.Pairs[1]
	assert.Equal(t, 11.0, mp.Median1)
	assert.Equal(t, 1.5, mp.Median2)
	assert.Equal(t, 3, mp.N1)
	assert.Equal(t, 3, mp.N2)
	assert.InDelta(t, math.Log2(12)-math.Log2(2.5), mp.Log2FC, 1e-12)
	assert.InDelta(t, 9.0, mp.U, 1e-12)
}

func TestComparePairs_PairCount(t *testing.T) {
	for n := 0; n <= 6; n++ {
		t.Run(fmt.Sprintf("groups=%d", n), func(t *testing.T) {
			groups := Groups{}
			var order []string
			for g := 0; g < n; g++ {
				label := fmt.Sprintf("G%d", g)
				order = append(order, label)
				groups[label] = []float64{float64(g), float64(g) + 0.5, float64(g*g) + 0.25, 3}
			}

			c, err := ComparePairs(groups, order, ScaleLog2TPM, Options{})
			require.NoError(t, err)
			assert.Len(t, c.Pairs, n*(n-1)/2)

			seen := map[[2]string]bool{}
			for _, p := range c.Pairs {
				assert.NotEqual(t, p.Group1, p.Group2)
				key := [2]string{p.Group1, p.Group2}
				if p.Group1 > p.Group2 {
					key = [2]string{p.Group2, p.Group1}
				}
				assert.False(t, seen[key], "duplicate pair %v", key)
				seen[key] = true
				assert.Less(t, p.Index1, p.Index2)
			}
		})
	}
}

func TestComparePairs_Antisymmetry(t *testing.T) {
	groups := Groups{
		"A": {3.2, 8.1, 0, 14.5, 6.6},
		"B": {1.1, 0.3, 2.4, 0.9},
	}
	ab, err := ComparePairs(groups, []string{"A", "B"}, ScaleTPM, Options{})
	require.NoError(t, err)
	ba, err := ComparePairs(groups, []string{"B", "A"}, ScaleTPM, Options{})
	require.NoError(t, err)

	require.Len(t, ab.Pairs, 1)
	require.Len(t, ba.Pairs, 1)
	assert.InDelta(t, ab.Pairs[0].Log2FC, -ba.Pairs[0].Log2FC, 1e-12)
	assert.InDelta(t, ab.Pairs[0].PValue, ba.Pairs[0].PValue, 1e-12)
	assert.Equal(t, ab.Pairs[0].Median1, ba.Pairs[0].Median2)
}

func TestComparePairs_FoldChangeSignFollowsMedian(t *testing.T) {
	groups := Groups{
		"low":  {0.2, 1.0, 0.7},
		"high": {5, 9, 7},
	}
	c, err := ComparePairs(groups, []string{"low", "high"}, ScaleTPM, Options{})
	require.NoError(t, err)
	p := c.Pairs[0]
	assert.Less(t, p.Log2FC, 0.0)
	assert.Equal(t, 1, p.Higher)
}

func TestComparePairs_Log2ScaleNotTransformedTwice(t *testing.T) {
	groups := Groups{
		"A": {1, 2, 3},
		"B": {0, 1, 2},
	}
	c, err := ComparePairs(groups, []string{"A", "B"}, ScaleLog2TPM, Options{})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, c.Pairs[0].Log2FC, 1e-12)

	c, err = ComparePairs(groups, []string{"A", "B"}, ScaleTPM, Options{})
	require.NoError(t, err)
	assert.InDelta(t, math.Log2(3)-math.Log2(2), c.Pairs[0].Log2FC, 1e-12)
	assert.Equal(t, 2.0, c.Pairs[0].Median1, "medians stay in the display scale")
}

func TestComparePairs_SingleGroup(t *testing.T) {
	c, err := ComparePairs(Groups{"Primary": {1, 2, 3}}, []string{"Primary"}, ScaleTPM, Options{})
	require.NoError(t, err)
	assert.Empty(t, c.Pairs)
	assert.Empty(t, c.Skipped)
	assert.Empty(t, LayoutBrackets(c.Significant(), 0, 1))

	c, err = ComparePairs(Groups{}, nil, ScaleTPM, Options{})
	require.NoError(t, err)
	assert.Empty(t, c.Pairs)
}

func TestComparePairs_ErrorConditions(t *testing.T) {
	groups := Groups{
		"Primary": {1, 2, 3, 4},
		"Control": {},
		"Normal":  {0.1, 0.2},
	}
	c, err := ComparePairs(groups, []string{"Metastatic", "Primary", "Control", "Normal"}, ScaleTPM, Options{})
	require.NoError(t, err)

	require.Len(t, c.Pairs, 1)
	assert.Equal(t, "Primary", c.Pairs[0].Group1)
	assert.Equal(t, "Normal", c.Pairs[0].Group2)

	require.Len(t, c.Skipped, 5)
	var unknown, insufficient int
	for _, s := range c.Skipped {
		var pe *PairError
		require.True(t, errors.As(&s, &pe))
		switch {
		case errors.Is(&s, ErrUnknownGroup):
			unknown++
			assert.Equal(t, "Metastatic", s.Group1)
		case errors.Is(&s, ErrInsufficientData):
			insufficient++
		default:
			t.Fatalf("unexpected skip reason: %v", s.Err)
		}
	}
	assert.Equal(t, 3, unknown)
	assert.Equal(t, 2, insufficient)
}

func TestComparePairs_MinGroupSize(t *testing.T) {
	groups := Groups{"A": {1}, "B": {2, 3, 4}}

	c, err := ComparePairs(groups, []string{"A", "B"}, ScaleTPM, Options{})
	require.NoError(t, err)
	assert.Len(t, c.Pairs, 1)

	c, err = ComparePairs(groups, []string{"A", "B"}, ScaleTPM, Options{MinGroupSize: 2})
	require.NoError(t, err)
	assert.Empty(t, c.Pairs)
	require.Len(t, c.Skipped, 1)
	assert.ErrorIs(t, c.Skipped[0].Err, ErrInsufficientData)
}

func TestComparePairs_InvalidScale(t *testing.T) {
	for _, s := range []Scale{0, 3, -1} {
		_, err := ComparePairs(skcmGroups(), skcmOrder, s, Options{})
		assert.ErrorIs(t, err, ErrInvalidScale)
	}
}

func TestComparePairs_Idempotent(t *testing.T) {
	groups := skcmGroups()
	first, err := ComparePairs(groups, skcmOrder, ScaleTPM, Options{})
	require.NoError(t, err)
	second, err := ComparePairs(groups, skcmOrder, ScaleTPM, Options{})
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, skcmGroups(), groups, "input must not be mutated")
}

func TestComparePairs_DefaultOrderAndDuplicates(t *testing.T) {
	groups := Groups{"b": {1, 2}, "a": {3, 4}}
	c, err := ComparePairs(groups, nil, ScaleTPM, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, c.Order)

	c, err = ComparePairs(groups, []string{"a", "b", "a"}, ScaleTPM, Options{})
	require.NoError(t, err)
	assert.Len(t, c.Pairs, 1)
}

func TestComparePairs_AutoMethod(t *testing.T) {
	c, err := ComparePairs(skcmGroups(), skcmOrder, ScaleTPM, Options{Method: MethodAuto})
	require.NoError(t, err)
	assert.Equal(t, MethodExact, c.Method)
	for _, p := range c.Pairs {
		assert.InDelta(t, 0.1, p.PValue, 1e-12)
		assert.Equal(t, TierNotSignificant, p.Tier)
	}

	tied := Groups{"A": {1, 1, 2}, "B": {2, 3, 4}}
	c, err = ComparePairs(tied, []string{"A", "B"}, ScaleTPM, Options{Method: MethodAuto})
	require.NoError(t, err)
	assert.Equal(t, MethodAsymptotic, c.Method)
}

func TestComparePairs_ExactFallsBackForWholeInvocation(t *testing.T) {
	seq := func(n int, offset, step float64) []float64 {
		out := make([]float64, n)
		for i := range out {
			out[i] = offset + step*float64(i)
		}
		return out
	}
	groups := Groups{
		"Metastatic": seq(400, 1000, 1),
		"Primary":    seq(4, 0.25, 0.5),
		"Control":    seq(400, 0.1, 0.01),
	}
	require.True(t, exactFeasible(4, 400))
	require.False(t, exactFeasible(400, 400))

	c, err := ComparePairs(groups, skcmOrder, ScaleTPM, Options{Method: MethodExact})
	require.NoError(t, err)
	require.Len(t, c.Pairs, 3)
	assert.Equal(t, MethodAsymptotic, c.Method)
	for _, p := range c.Pairs {
		want := mannWhitney(groups[p.Group1], groups[p.Group2], MethodAsymptotic, false)
		assert.Equal(t, want.P, p.PValue, "%s vs %s", p.Group1, p.Group2)
	}

	// Small groups keep the exact test.
	c, err = ComparePairs(skcmGroups(), skcmOrder, ScaleTPM, Options{Method: MethodExact})
	require.NoError(t, err)
	assert.Equal(t, MethodExact, c.Method)
	for _, p := range c.Pairs {
		assert.InDelta(t, 0.1, p.PValue, 1e-12)
	}
}

func TestComparePairs_HigherUsesDisplayMedian(t *testing.T) {
	c, err := ComparePairs(Groups{"A": {0, 30}, "B": {10, 10}}, []string{"A", "B"}, ScaleTPM, Options{})
	require.NoError(t, err)
	require.Len(t, c.Pairs, 1)
	p := c.Pairs[0]
	assert.Equal(t, 15.0, p.Median1)
	assert.Equal(t, 10.0, p.Median2)
	assert.Equal(t, 0, p.Higher)
	assert.InDelta(t, (math.Log2(31))/2-math.Log2(11), p.Log2FC, 1e-12)
	assert.Less(t, p.Log2FC, 0.0)
}

func TestComparePairs_AdjustedPValues(t *testing.T) {
	c, err := ComparePairs(skcmGroups(), skcmOrder, ScaleTPM, Options{})
	require.NoError(t, err)
	for _, p := range c.Pairs {
		assert.GreaterOrEqual(t, p.PAdjusted, p.PValue)
		assert.LessOrEqual(t, p.PAdjusted, 1.0)
	}
}

func TestTierOf(t *testing.T) {
	tests := []struct {
		p    float64
		want Tier
	}{
		{0, TierP001},
		{0.000999, TierP001},
		{0.001, TierP01},
		{0.0099, TierP01},
		{0.01, TierP05},
		{0.0499, TierP05},
		{0.05, TierNotSignificant},
		{0.7, TierNotSignificant},
		{math.NaN(), TierNotSignificant},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TierOf(tt.p), "p=%v", tt.p)
	}

	// Monotonic: a smaller p never lands in a weaker tier.
	rank := map[Tier]int{TierP001: 0, TierP01: 1, TierP05: 2, TierNotSignificant: 3}
	prev := 0
	for p := 0.0; p <= 0.1; p += 0.0005 {
		r := rank[TierOf(p)]
		assert.GreaterOrEqual(t, r, prev)
		prev = r
	}

	assert.Equal(t, "***", TierP001.Symbol())
	assert.Equal(t, "**", TierP01.Symbol())
	assert.Equal(t, "*", TierP05.Symbol())
	assert.Equal(t, "", TierNotSignificant.Symbol())
}

func TestParseScale(t *testing.T) {
	s, err := ParseScale("TPM")
	require.NoError(t, err)
	assert.Equal(t, ScaleTPM, s)

	s, err = ParseScale(" log2(TPM+1) ")
	require.NoError(t, err)
	assert.Equal(t, ScaleLog2TPM, s)

	_, err = ParseScale("zscore")
	assert.ErrorIs(t, err, ErrInvalidScale)

	b, err := ScaleLog2TPM.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "log2(TPM+1)", string(b))
}

func TestBenjaminiHochberg(t *testing.T) {
	got := BenjaminiHochberg([]float64{0.01, 0.04, 0.03})
	require.Len(t, got, 3)
	assert.InDelta(t, 0.03, got[0], 1e-12)
	assert.InDelta(t, 0.04, got[1], 1e-12)
	assert.InDelta(t, 0.04, got[2], 1e-12)
	assert.Nil(t, BenjaminiHochberg(nil))
}

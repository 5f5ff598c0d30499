package compare

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayoutBrackets_ThreeGroups(t *testing.T) {
	c, err := ComparePairs(skcmGroups(), skcmOrder, ScaleTPM, Options{})
	require.NoError(t, err)

	brackets := LayoutBrackets(c.Significant(), 0, 10)
	require.Len(t, brackets, 3)

	// Reverse discovery order: M-C, M-P, P-C.
	assert.Equal(t, [2]int{0, 2}, [2]int{brackets[0].X1, brackets[0].X2})
	assert.Equal(t, [2]int{0, 1}, [2]int{brackets[1].X1, brackets[1].X2})
	assert.Equal(t, [2]int{1, 2}, [2]int{brackets[2].X1, brackets[2].X2})

	assert.Equal(t, 3, brackets[0].Level)
	assert.Equal(t, 2, brackets[1].Level)
	// Third placed bracket gets the formula's level plus one.
	assert.Equal(t, 3-2+1, brackets[2].Level)

	assert.InDelta(t, 10+10*0.07*3, brackets[0].Height, 1e-9)
	assert.InDelta(t, brackets[0].Height-10*0.02, brackets[0].Tick, 1e-9)
	assert.InDelta(t, 1.0, brackets[0].SymbolX, 1e-12)
	assert.InDelta(t, 0.5, brackets[1].SymbolX, 1e-12)
	assert.Greater(t, brackets[0].SymbolY, brackets[0].Height)
	assert.Equal(t, "*", brackets[0].Symbol)
}

func TestLayoutBrackets_TwoPairs(t *testing.T) {
	pairs := []PairResult{
		{Group1: "B", Group2: "C", Index1: 1, Index2: 2, PValue: 0.0001, Tier: TierP001},
		{Group1: "A", Group2: "B", Index1: 0, Index2: 1, PValue: 0.004, Tier: TierP01},
	}
	brackets := LayoutBrackets(pairs, 2, 6)
	require.Len(t, brackets, 2)
	assert.Equal(t, 2, brackets[0].Level)
	assert.Equal(t, "A", brackets[0].Group1)
	assert.Equal(t, "**", brackets[0].Symbol)
	assert.Equal(t, 1, brackets[1].Level)
	assert.Equal(t, "***", brackets[1].Symbol)
	assert.InDelta(t, 6+4*0.07, brackets[1].Height, 1e-9)
}

func TestLayoutBrackets_SkipsNonSignificant(t *testing.T) {
	pairs := []PairResult{
		{Index1: 0, Index2: 1, PValue: 0.05, Tier: TierNotSignificant},
		{Index1: 0, Index2: 2, PValue: 0.2, Tier: TierNotSignificant},
		{Index1: 1, Index2: 2, PValue: 0.03, Tier: TierP05},
	}
	brackets := LayoutBrackets(pairs, 0, 1)
	require.Len(t, brackets, 1)
	assert.Equal(t, 1, brackets[0].Level)
	assert.Empty(t, LayoutBrackets(nil, 0, 1))
}

func TestLayoutBrackets_NoOverlapOnSameLevel(t *testing.T) {
	for n := 2; n <= 7; n++ {
		t.Run(fmt.Sprintf("groups=%d", n), func(t *testing.T) {
			var pairs []PairResult
			for i := n - 1; i >= 0; i-- {
				for j := i + 1; j < n; j++ {
					pairs = append(pairs, PairResult{Index1: i, Index2: j, PValue: 0.001, Tier: TierP01})
				}
			}
			brackets := LayoutBrackets(pairs, 0, 100)
			require.Len(t, brackets, len(pairs))
			for a := range brackets {
				for b := a + 1; b < len(brackets); b++ {
					if brackets[a].Level != brackets[b].Level {
						continue
					}
					lo := max(brackets[a].X1, brackets[b].X1)
					hi := min(brackets[a].X2, brackets[b].X2)
					assert.GreaterOrEqual(t, lo, hi, "brackets %d and %d overlap on level %d", a, b, brackets[a].Level)
				}
			}
		})
	}
}

func TestCeiling(t *testing.T) {
	assert.Equal(t, 5.0, Ceiling(nil, 0, 5))
	brackets := []Bracket{{Height: 6}, {Height: 7}}
	assert.InDelta(t, 7+5*0.07, Ceiling(brackets, 0, 5), 1e-12)
}

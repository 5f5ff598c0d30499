package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCellLineKey(t *testing.T) {
	base := "cells:FGFR1:over:2.5:TPM"

	t.Run("noLineages", func(t *testing.T) {
		assert.Equal(t, base, CellLineKey("FGFR1", "over", 2.5, "TPM", nil))
		assert.Equal(t, base, CellLineKey("FGFR1", "over", 2.5, "TPM", []string{}))
	})

	t.Run("sortedLineages", func(t *testing.T) {
		in := []string{"Skin", "Bowel"}
		key1 := CellLineKey("FGFR1", "over", 2.5, "TPM", in)
		key2 := CellLineKey("FGFR1", "over", 2.5, "TPM", []string{"Bowel", "Skin"})
		assert.Equal(t, key1, key2)
		assert.NotEqual(t, base, key1)
		assert.Equal(t, []string{"Skin", "Bowel"}, in, "input must not be reordered")
	})
}

func TestKeysDistinguishInputs(t *testing.T) {
	assert.NotEqual(t, ComparisonKey("tumor", "FGFR1", "BRCA", "TPM"), ComparisonKey("tumor", "FGFR1", "BRCA", "log2(TPM+1)"))
	assert.NotEqual(t, PlotKey("tumor", "FGFR1", "BRCA", "TPM", "box"), PlotKey("tumor", "FGFR1", "BRCA", "TPM", "violin"))
	assert.NotEqual(t, CorrelationKey("A", "B", "BRCA", "TPM"), CorrelationKey("B", "A", "BRCA", "TPM"))
}

func TestManager(t *testing.T) {
	m, err := NewManager(Config{PlotCacheSizeMB: 8, PlotTTL: time.Minute, QueryCacheSize: 2})
	require.NoError(t, err)
	defer m.Close()

	_, ok := m.GetPlot("p")
	assert.False(t, ok)
	require.NoError(t, m.SetPlot("p", []byte("png")))
	got, ok := m.GetPlot("p")
	require.True(t, ok)
	assert.Equal(t, []byte("png"), got)

	m.SetQuery("a", []byte("1"))
	m.SetQuery("b", []byte("2"))
	m.SetQuery("c", []byte("3"))
	_, ok = m.GetQuery("a")
	assert.False(t, ok, "oldest entry evicted")
	got, ok = m.GetQuery("c")
	require.True(t, ok)
	assert.Equal(t, []byte("3"), got)

	stats := m.Stats()
	assert.Equal(t, 2, stats["query_cache_len"])
}

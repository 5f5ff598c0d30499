package exprstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const expressionCSV = `gene,tumor,group,value
FGFR1,SKCM,Metastatic,10
FGFR1,SKCM,Metastatic,12
FGFR1,SKCM,Primary,1
FGFR1,SKCM,Normal,0.5
FGFR1,SKCM,Primary,2
FGFR1,GTEX:Skin,Skin,0.4
FGFR1,GTEX:Skin,Skin,0.6
FGFR1,CHOL,Primary,3
FGFR1,CHOL,Normal,1
c1orf112,SKCM,Primary,4
c1orf112,SKCM,Normal,2
`

const annotationCSV = `gene,membrane,hpa_plasma_membrane
FGFR1,true,true
C1ORF112,true,false
ALB,false,false
`

const cellLinesCSV = `ModelID,CellLineName,CatalogNumber,OncotreeLineage,OncotreePrimaryDisease,OncotreeSubtype,OncotreeCode
ACH-000001,NIHOVCAR3,HTB-71,Ovary/Fallopian Tube,Ovarian Epithelial Tumor,High-Grade Serous Ovarian Cancer,HGSOC
ACH-000002,HL-60,CCL-240,Myeloid,Acute Myeloid Leukemia,Acute Myeloid Leukemia,AML
ACH-000003,CACO2,HTB-37,Bowel,Colorectal Adenocarcinoma,Colon Adenocarcinoma,COAD
`

const cellLineExpressionCSV = `gene,model_id,value
FGFR1,ACH-000001,3.5
FGFR1,ACH-000002,0.1
FGFR1,ACH-000003,2.25
`

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "expr.db"), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	n, err := s.ImportExpression(ctx, strings.NewReader(expressionCSV))
	require.NoError(t, err)
	require.Equal(t, 11, n)
	_, err = s.ImportAnnotations(ctx, strings.NewReader(annotationCSV))
	require.NoError(t, err)
	_, err = s.ImportCellLines(ctx, strings.NewReader(cellLinesCSV))
	require.NoError(t, err)
	_, err = s.ImportCellLineExpression(ctx, strings.NewReader(cellLineExpressionCSV))
	require.NoError(t, err)
	return s
}

func TestNormalizeGene(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{" fgfr1 ", "FGFR1"},
		{"c1orf112", "C1orf112"},
		{"C1ORF112", "C1orf112"},
		{"morf4l1", "MORF4L1"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeGene(tt.in), "NormalizeGene(%q)", tt.in)
	}
}

func TestValues_GroupsAndGTExControl(t *testing.T) {
	s := newTestStore(t)

	groups, err := s.Values(context.Background(), "fgfr1", "skcm")
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 12}, groups[GroupMetastatic])
	assert.Equal(t, []float64{1, 2}, groups[GroupPrimary])
	// Adjacent normal first, then the mapped GTEx tissue.
	assert.Equal(t, []float64{0.5, 0.4, 0.6}, groups[GroupControl])
	assert.NotContains(t, groups, "Normal")
	assert.NotContains(t, groups, "Skin")

	// CHOL has no GTEx tissue.
	groups, err = s.Values(context.Background(), "FGFR1", "CHOL")
	require.NoError(t, err)
	assert.Equal(t, []float64{1}, groups[GroupControl])
}

func TestValues_ORFSymbol(t *testing.T) {
	s := newTestStore(t)

	groups, err := s.Values(context.Background(), "C1ORF112", "SKCM")
	require.NoError(t, err)
	assert.Equal(t, []float64{4}, groups[GroupPrimary])
	assert.Equal(t, []float64{2}, groups[GroupControl])
}

func TestValues_Errors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Values(ctx, "NOPE1", "SKCM")
	assert.True(t, errors.Is(err, ErrGeneNotFound), "got %v", err)

	_, err = s.Values(ctx, "ALB", "SKCM")
	assert.True(t, errors.Is(err, ErrNotMembrane), "got %v", err)

	_, err = s.Values(ctx, "FGFR1", "XXXX")
	assert.True(t, errors.Is(err, ErrTumorNotFound), "got %v", err)

	_, err = s.Values(ctx, "FGFR1", "GTEX:Skin")
	assert.True(t, errors.Is(err, ErrTumorNotFound), "got %v", err)

	_, err = s.Values(ctx, "C1orf112", "CHOL")
	assert.True(t, errors.Is(err, ErrGeneNotFound), "got %v", err)
}

func TestGenesAndTumors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tumors, err := s.Tumors(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"CHOL", "SKCM"}, tumors)

	genes, err := s.Genes(ctx, "", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"C1orf112", "FGFR1"}, genes)

	genes, err = s.Genes(ctx, "fg", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"FGFR1"}, genes)

	genes, err = s.Genes(ctx, "%", 10)
	require.NoError(t, err)
	assert.Empty(t, genes)

	ok, err := s.HasGene(ctx, "c1orf112")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAnnotation(t *testing.T) {
	s := newTestStore(t)

	ann, err := s.Annotation(context.Background(), "fgfr1")
	require.NoError(t, err)
	assert.True(t, ann.Membrane)
	assert.True(t, ann.HPAPlasmaMembrane)

	_, err = s.Annotation(context.Background(), "NOPE1")
	assert.True(t, errors.Is(err, ErrGeneNotFound))
}

func TestCellLines(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	all, err := s.CellLines(ctx, "FGFR1", nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "NIHOVCAR3", all[0].Name)
	assert.Equal(t, 3.5, all[0].Value)

	some, err := s.CellLines(ctx, "FGFR1", []string{"Bowel", "Myeloid"})
	require.NoError(t, err)
	require.Len(t, some, 2)
	assert.Equal(t, "HL-60", some[0].Name)
	assert.Equal(t, "Bowel", some[1].Lineage)

	none, err := s.CellLines(ctx, "FGFR1", []string{"Eye"})
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = s.CellLines(ctx, "C1orf112", nil)
	assert.True(t, errors.Is(err, ErrGeneNotFound))
}

func TestImportExpression_ReplacesGeneTumor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.ImportExpression(ctx, strings.NewReader("gene,tumor,group,value\nFGFR1,SKCM,Primary,7\n"))
	require.NoError(t, err)

	groups, err := s.Values(ctx, "FGFR1", "SKCM")
	require.NoError(t, err)
	assert.Equal(t, []float64{7}, groups[GroupPrimary])
	assert.NotContains(t, groups, GroupMetastatic)
	// GTEx samples live under their own key and survive.
	assert.Equal(t, []float64{0.4, 0.6}, groups[GroupControl])
}

func TestImportExpression_RejectsBadRows(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "expr.db"), Options{})
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	_, err = s.ImportExpression(ctx, strings.NewReader("gene,tumor,group,value\nFGFR1,SKCM,Primary,-1\n"))
	assert.Error(t, err)
	_, err = s.ImportExpression(ctx, strings.NewReader("gene,tumor,group,value\n,SKCM,Primary,1\n"))
	assert.Error(t, err)

	tumors, err := s.Tumors(ctx)
	require.NoError(t, err)
	assert.Empty(t, tumors)
}

func TestOpenImportFile_Zstd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "expression.csv.zst")
	f, err := os.Create(path)
	require.NoError(t, err)
	enc, err := zstd.NewWriter(f)
	require.NoError(t, err)
	_, err = enc.Write([]byte(expressionCSV))
	require.NoError(t, err)
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())

	r, err := OpenImportFile(path)
	require.NoError(t, err)
	defer r.Close()

	s, err := OpenSQLite(filepath.Join(t.TempDir(), "expr.db"), Options{GTExTissues: map[string]string{"skcm": "Skin"}})
	require.NoError(t, err)
	defer s.Close()

	n, err := s.ImportExpression(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, 11, n)

	groups, err := s.Values(context.Background(), "FGFR1", "SKCM")
	require.NoError(t, err)
	assert.Len(t, groups[GroupControl], 3)
}

func TestOpen_Backends(t *testing.T) {
	s, err := Open("sqlite", filepath.Join(t.TempDir(), "a.db"), Options{})
	require.NoError(t, err)
	s.Close()

	_, err = Open("oracle", "x", Options{})
	assert.Error(t, err)
}

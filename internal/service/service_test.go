package service

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cartar/server/internal/exprstore"
	"github.com/cartar/server/internal/render"
)

const fixtureExpression = `gene,tumor,group,value
FGFR1,SKCM,Metastatic,10
FGFR1,SKCM,Metastatic,12
FGFR1,SKCM,Metastatic,11
FGFR1,SKCM,Primary,1
FGFR1,SKCM,Primary,2
FGFR1,SKCM,Primary,1.5
FGFR1,SKCM,Normal,0.5
FGFR1,GTEX:Skin,Skin,0.4
FGFR1,GTEX:Skin,Skin,0.6
EGFR,SKCM,Metastatic,20
EGFR,SKCM,Metastatic,24
EGFR,SKCM,Metastatic,22
EGFR,SKCM,Primary,2
EGFR,SKCM,Primary,4
EGFR,SKCM,Primary,3
EGFR,SKCM,Normal,1
EGFR,GTEX:Skin,Skin,0.8
EGFR,GTEX:Skin,Skin,1.2
FGFR1,CHOL,Primary,3
FGFR1,CHOL,Primary,4
FGFR1,CHOL,Primary,5
FGFR1,CHOL,Normal,1
FGFR1,CHOL,Normal,1.5
FGFR1,CHOL,Normal,0.5
EGFR,CHOL,Primary,2
EGFR,CHOL,Normal,2
MSLN,SKCM,Metastatic,5
`

const fixtureAnnotations = `gene,membrane,hpa_plasma_membrane
FGFR1,true,true
EGFR,true,false
ALB,false,false
`

const fixtureCellLines = `ModelID,CellLineName,CatalogNumber,OncotreeLineage,OncotreePrimaryDisease,OncotreeSubtype,OncotreeCode
ACH-000001,NIHOVCAR3,HTB-71,Ovary/Fallopian Tube,Ovarian Epithelial Tumor,High-Grade Serous Ovarian Cancer,HGSOC
ACH-000002,HL-60,CCL-240,Myeloid,Acute Myeloid Leukemia,Acute Myeloid Leukemia,AML
ACH-000003,CACO2,HTB-37,Bowel,Colorectal Adenocarcinoma,Colon Adenocarcinoma,COAD
`

const fixtureCellLineExpression = `gene,model_id,value
FGFR1,ACH-000001,3.5
FGFR1,ACH-000002,0.1
FGFR1,ACH-000003,2.25
`

func newFixtureStore(t *testing.T) *exprstore.SQLStore {
	t.Helper()
	s, err := exprstore.OpenSQLite(filepath.Join(t.TempDir(), "expr.db"), exprstore.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	_, err = s.ImportExpression(ctx, strings.NewReader(fixtureExpression))
	require.NoError(t, err)
	_, err = s.ImportAnnotations(ctx, strings.NewReader(fixtureAnnotations))
	require.NoError(t, err)
	_, err = s.ImportCellLines(ctx, strings.NewReader(fixtureCellLines))
	require.NoError(t, err)
	_, err = s.ImportCellLineExpression(ctx, strings.NewReader(fixtureCellLineExpression))
	require.NoError(t, err)
	return s
}

func newTestRenderer() *render.Renderer {
	return render.NewRenderer(render.Config{Width: 400, Height: 300})
}

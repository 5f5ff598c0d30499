// Package exprstore provides read access to precomputed expression values: TCGA tumor samples,
// GTEx control tissue and CCLE cell lines, keyed by gene symbol.
package exprstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrGeneNotFound  = errors.New("gene symbol not found")
	ErrNotMembrane   = errors.New("protein is not located at the membrane")
	ErrTumorNotFound = errors.New("tumor not found")
	// ErrUnsupported indicates this binary was built without DuckDB support.
	ErrUnsupported = errors.New("duckdb support is not enabled in this build (build server with: go build -tags duckdb)")
)

// Sample group labels as served to callers.
const (
	GroupPrimary    = "Primary"
	GroupMetastatic = "Metastatic"
	GroupControl    = "Control"
	groupNormal     = "Normal"
)

// gtexPrefix marks tumor keys that hold GTEx tissue samples.
const gtexPrefix = "GTEX:"

// Store is the read contract used by the services.
type Store interface {
	// Values returns TPM values per group in sample order. Adjacent-normal samples are reported
	// as Control and, when the tumor has a mapped GTEx tissue, GTEx samples are appended to it.
	Values(ctx context.Context, gene, tumor string) (map[string][]float64, error)
	Genes(ctx context.Context, prefix string, limit int) ([]string, error)
	Tumors(ctx context.Context) ([]string, error)
	HasGene(ctx context.Context, gene string) (bool, error)
	Annotation(ctx context.Context, gene string) (*Annotation, error)
	// CellLines returns log2(TPM+1) values for the gene in every cell line of the given
	// lineages, or in all cell lines when lineages is empty.
	CellLines(ctx context.Context, gene string, lineages []string) ([]CellLineValue, error)
	Close() error
}

// Annotation carries per-gene localisation flags.
type Annotation struct {
	Gene              string `db:"gene" json:"gene"`
	Membrane          bool   `db:"membrane" json:"membrane"`
	HPAPlasmaMembrane bool   `db:"hpa_plasma_membrane" json:"hpa_plasma_membrane"`
}

// CellLine is CCLE model metadata.
type CellLine struct {
	ModelID        string `db:"model_id" json:"model_id" csv:"ModelID"`
	Name           string `db:"name" json:"cell_line" csv:"CellLineName"`
	CatalogNumber  string `db:"catalog_number" json:"catalog_number" csv:"CatalogNumber"`
	Lineage        string `db:"lineage" json:"lineage" csv:"OncotreeLineage"`
	PrimaryDisease string `db:"primary_disease" json:"primary_disease" csv:"OncotreePrimaryDisease"`
	Subtype        string `db:"subtype" json:"subtype" csv:"OncotreeSubtype"`
	Code           string `db:"code" json:"code" csv:"OncotreeCode"`
}

// CellLineValue is one cell line with its expression of a gene in log2(TPM+1).
type CellLineValue struct {
	CellLine
	Value float64 `db:"value" json:"value"`
}

// Options configure a store.
type Options struct {
	// GTExTissues maps a TCGA tumor code to the GTEx tissue used as extra control samples.
	GTExTissues map[string]string
}

// Open opens a store for the named backend ("sqlite" or "duckdb").
func Open(backend, path string, opts Options) (Store, error) {
	var (
		s   *SQLStore
		err error
	)
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", "sqlite":
		s, err = OpenSQLite(path, opts)
	case "duckdb":
		s, err = OpenDuckDB(path, opts)
	default:
		return nil, fmt.Errorf("unknown data backend %q", backend)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NormalizeGene trims and upper-cases a gene symbol, then restores the lower-case "orf" of
// open reading frame symbols (C1ORF112 -> C1orf112). Symbols containing MORF are left as is.
func NormalizeGene(gene string) string {
	g := strings.ToUpper(strings.TrimSpace(gene))
	if !strings.Contains(g, "MORF") {
		g = strings.ReplaceAll(g, "ORF", "orf")
	}
	return g
}

// NormalizeTumor upper-cases a tumor code.
func NormalizeTumor(tumor string) string {
	return strings.ToUpper(strings.TrimSpace(tumor))
}

func normalizeGroup(group string) string {
	if group == groupNormal {
		return GroupControl
	}
	return group
}

// GTExTissueKey is the tumor key under which samples of a GTEx tissue are stored.
func GTExTissueKey(tissue string) string {
	return gtexPrefix + tissue
}

// DefaultGTExTissues is the TCGA tumor to GTEx tissue correspondence.
func DefaultGTExTissues() map[string]string {
	return map[string]string{
		"ACC": "Adrenal Gland", "BLCA": "Bladder", "BRCA": "Breast", "CESC": "Cervix Uteri",
		"COAD": "Colon", "DLBC": "Blood", "ESCA": "Esophagus", "GBM": "Brain",
		"KICH": "Kidney", "KIRC": "Kidney", "KIRP": "Kidney", "LAML": "Bone Marrow",
		"LGG": "Brain", "LIHC": "Liver", "LUAD": "Lung", "LUSC": "Lung",
		"OV": "Ovary", "PAAD": "Pancreas", "PRAD": "Prostate", "READ": "Colon",
		"SKCM": "Skin", "STAD": "Stomach", "TGCT": "Testis", "THCA": "Thyroid",
		"THYM": "Blood", "UCEC": "Uterus", "UCS": "Uterus",
	}
}

// TumorNames expands TCGA tumor abbreviations.
var TumorNames = map[string]string{
	"ACC":  "Adrenocortical carcinoma",
	"BLCA": "Bladder Urothelial Carcinoma",
	"BRCA": "Breast invasive carcinoma",
	"CESC": "Cervical squamous cell carcinoma and endocervical adenocarcinoma",
	"CHOL": "Cholangio carcinoma",
	"COAD": "Colon adenocarcinoma",
	"DLBC": "Lymphoid Neoplasm Diffuse Large B-cell Lymphoma",
	"ESCA": "Esophageal carcinoma",
	"GBM":  "Glioblastoma multiforme",
	"HNSC": "Head and Neck squamous cell carcinoma",
	"KICH": "Kidney Chromophobe",
	"KIRC": "Kidney renal clear cell carcinoma",
	"KIRP": "Kidney renal papillary cell carcinoma",
	"LAML": "Acute Myeloid Leukemia",
	"LGG":  "Brain Lower Grade Glioma",
	"LIHC": "Liver hepatocellular carcinoma",
	"LUAD": "Lung adenocarcinoma",
	"LUSC": "Lung squamous cell carcinoma",
	"OV":   "Ovarian serous cystadenocarcinoma",
	"PAAD": "Pancreatic adenocarcinoma",
	"PCPG": "Pheochromocytoma and Paraganglioma",
	"PRAD": "Prostate adenocarcinoma",
	"READ": "Rectum adenocarcinoma",
	"SARC": "Sarcoma",
	"SKCM": "Skin Cutaneous Melanoma",
	"STAD": "Stomach adenocarcinoma",
	"TGCT": "Testicular Germ Cell Tumors",
	"THCA": "Thyroid carcinoma",
	"THYM": "Thymoma",
	"UCEC": "Uterine Corpus Endometrial Carcinoma",
	"UCS":  "Uterine Carcinosarcoma",
}

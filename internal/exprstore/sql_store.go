package exprstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS expression (
	gene TEXT NOT NULL,
	tumor TEXT NOT NULL,
	grp TEXT NOT NULL,
	sample_idx INTEGER NOT NULL,
	value DOUBLE NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_expression_gene_tumor ON expression(gene, tumor);
CREATE INDEX IF NOT EXISTS idx_expression_tumor ON expression(tumor);

CREATE TABLE IF NOT EXISTS gene_annotation (
	gene TEXT PRIMARY KEY,
	membrane BOOLEAN NOT NULL,
	hpa_plasma_membrane BOOLEAN NOT NULL
);

CREATE TABLE IF NOT EXISTS cell_lines (
	model_id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	catalog_number TEXT NOT NULL,
	lineage TEXT NOT NULL,
	primary_disease TEXT NOT NULL,
	subtype TEXT NOT NULL,
	code TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS cell_line_expression (
	gene TEXT NOT NULL,
	model_id TEXT NOT NULL,
	value DOUBLE NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cell_line_expression_gene ON cell_line_expression(gene);
`

// SQLStore serves expression data from a SQL database. The same queries run on SQLite and DuckDB.
type SQLStore struct {
	db      *sqlx.DB
	tissues map[string]string
	mu      sync.Mutex // serialises imports
}

// OpenSQLite opens (creating if needed) a SQLite expression database.
func OpenSQLite(path string, opts Options) (*SQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for sqlite: %w", err)
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	return newSQLStore(db, opts)
}

func newSQLStore(db *sqlx.DB, opts Options) (*SQLStore, error) {
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	tissues := opts.GTExTissues
	if tissues == nil {
		tissues = DefaultGTExTissues()
	}
	normalized := make(map[string]string, len(tissues))
	for tumor, tissue := range tissues {
		normalized[NormalizeTumor(tumor)] = tissue
	}
	return &SQLStore{db: db, tissues: normalized}, nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

type sampleRow struct {
	Group string  `db:"grp"`
	Index int     `db:"sample_idx"`
	Value float64 `db:"value"`
}

func (s *SQLStore) Values(ctx context.Context, gene, tumor string) (map[string][]float64, error) {
	gene = NormalizeGene(gene)
	tumor = NormalizeTumor(tumor)

	if err := s.checkGene(ctx, gene); err != nil {
		return nil, err
	}
	if err := s.checkTumor(ctx, tumor); err != nil {
		return nil, err
	}

	var rows []sampleRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT grp, sample_idx, value FROM expression
		WHERE gene = ? AND tumor = ?
		ORDER BY grp, sample_idx
	`, gene, tumor)
	if err != nil {
		return nil, fmt.Errorf("query expression: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s has no samples in %s", ErrGeneNotFound, gene, tumor)
	}

	groups := make(map[string][]float64)
	for _, r := range rows {
		g := normalizeGroup(r.Group)
		groups[g] = append(groups[g], r.Value)
	}

	if tissue, ok := s.tissues[tumor]; ok {
		var control []float64
		err := s.db.SelectContext(ctx, &control, `
			SELECT value FROM expression
			WHERE gene = ? AND tumor = ?
			ORDER BY grp, sample_idx
		`, gene, GTExTissueKey(tissue))
		if err != nil {
			return nil, fmt.Errorf("query gtex %s: %w", tissue, err)
		}
		if len(control) > 0 {
			groups[GroupControl] = append(groups[GroupControl], control...)
		}
	}

	return groups, nil
}

func (s *SQLStore) checkGene(ctx context.Context, gene string) error {
	ok, err := s.HasGene(ctx, gene)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	ann, err := s.Annotation(ctx, gene)
	if err == nil && !ann.Membrane {
		return fmt.Errorf("%w: %s", ErrNotMembrane, gene)
	}
	return fmt.Errorf("%w: %s", ErrGeneNotFound, gene)
}

func (s *SQLStore) checkTumor(ctx context.Context, tumor string) error {
	if tumor == "" || strings.HasPrefix(tumor, gtexPrefix) {
		return fmt.Errorf("%w: %q", ErrTumorNotFound, tumor)
	}
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM (SELECT 1 FROM expression WHERE tumor = ? LIMIT 1) t
	`, tumor)
	if err != nil {
		return fmt.Errorf("query tumor: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrTumorNotFound, tumor)
	}
	return nil
}

func (s *SQLStore) HasGene(ctx context.Context, gene string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM (SELECT 1 FROM expression WHERE gene = ? LIMIT 1) t
	`, NormalizeGene(gene))
	if err != nil {
		return false, fmt.Errorf("query gene: %w", err)
	}
	return n > 0, nil
}

// Genes lists gene symbols starting with prefix in lexical order. limit <= 0 means no limit.
func (s *SQLStore) Genes(ctx context.Context, prefix string, limit int) ([]string, error) {
	query := `SELECT DISTINCT gene FROM expression WHERE gene LIKE ? ESCAPE '\' ORDER BY gene`
	args := []interface{}{escapeLike(NormalizeGene(prefix)) + "%"}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	genes := []string{}
	if err := s.db.SelectContext(ctx, &genes, query, args...); err != nil {
		return nil, fmt.Errorf("query genes: %w", err)
	}
	return genes, nil
}

// Tumors lists TCGA tumor codes present in the store.
func (s *SQLStore) Tumors(ctx context.Context) ([]string, error) {
	tumors := []string{}
	err := s.db.SelectContext(ctx, &tumors, `
		SELECT DISTINCT tumor FROM expression
		WHERE tumor NOT LIKE 'GTEX:%'
		ORDER BY tumor
	`)
	if err != nil {
		return nil, fmt.Errorf("query tumors: %w", err)
	}
	return tumors, nil
}

func (s *SQLStore) Annotation(ctx context.Context, gene string) (*Annotation, error) {
	gene = NormalizeGene(gene)
	var anns []Annotation
	err := s.db.SelectContext(ctx, &anns, `
		SELECT gene, membrane, hpa_plasma_membrane FROM gene_annotation WHERE gene = ?
	`, gene)
	if err != nil {
		return nil, fmt.Errorf("query annotation: %w", err)
	}
	if len(anns) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrGeneNotFound, gene)
	}
	return &anns[0], nil
}

func (s *SQLStore) CellLines(ctx context.Context, gene string, lineages []string) ([]CellLineValue, error) {
	gene = NormalizeGene(gene)

	query := `
		SELECT c.model_id, c.name, c.catalog_number, c.lineage, c.primary_disease, c.subtype, c.code, e.value
		FROM cell_line_expression e
		JOIN cell_lines c ON c.model_id = e.model_id
		WHERE e.gene = ?`
	args := []interface{}{gene}
	if len(lineages) > 0 {
		q, inArgs, err := sqlx.In(` AND c.lineage IN (?)`, lineages)
		if err != nil {
			return nil, err
		}
		query += q
		args = append(args, inArgs...)
	}
	query += ` ORDER BY c.model_id`

	values := []CellLineValue{}
	if err := s.db.SelectContext(ctx, &values, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("query cell lines: %w", err)
	}
	if len(values) == 0 {
		var n int
		err := s.db.GetContext(ctx, &n, `
			SELECT COUNT(*) FROM (SELECT 1 FROM cell_line_expression WHERE gene = ? LIMIT 1) t
		`, gene)
		if err != nil {
			return nil, fmt.Errorf("query cell line gene: %w", err)
		}
		if n == 0 {
			return nil, fmt.Errorf("%w: %s has no cell line data", ErrGeneNotFound, gene)
		}
	}
	return values, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

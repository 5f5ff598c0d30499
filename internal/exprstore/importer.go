package exprstore

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/klauspost/compress/zstd"
	log "github.com/sirupsen/logrus"
)

type expressionRecord struct {
	Gene  string  `csv:"gene"`
	Tumor string  `csv:"tumor"`
	Group string  `csv:"group"`
	Value float64 `csv:"value"`
}

type annotationRecord struct {
	Gene              string `csv:"gene"`
	Membrane          bool   `csv:"membrane"`
	HPAPlasmaMembrane bool   `csv:"hpa_plasma_membrane"`
}

type cellLineExpressionRecord struct {
	Gene    string  `csv:"gene"`
	ModelID string  `csv:"model_id"`
	Value   float64 `csv:"value"`
}

// OpenImportFile opens a CSV file for import, transparently decoding ".zst" files.
func OpenImportFile(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".zst") {
		return f, nil
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("zstd %s: %w", path, err)
	}
	return &zstdFile{Decoder: dec, f: f}, nil
}

type zstdFile struct {
	*zstd.Decoder
	f *os.File
}

func (z *zstdFile) Close() error {
	z.Decoder.Close()
	return z.f.Close()
}

// streamCSV decodes records one at a time and hands them to fn. The first error from fn
// stops processing; remaining records are drained.
func streamCSV[T any](r io.Reader, fn func(*T) error) error {
	ch := make(chan *T)
	errc := make(chan error, 1)
	go func() {
		errc <- gocsv.UnmarshalToChan(r, ch)
	}()

	var firstErr error
	for rec := range ch {
		if firstErr != nil {
			continue
		}
		firstErr = fn(rec)
	}
	if err := <-errc; err != nil {
		return fmt.Errorf("parse csv: %w", err)
	}
	return firstErr
}

func importTumorKey(tumor string) string {
	t := strings.TrimSpace(tumor)
	if len(t) >= len(gtexPrefix) && strings.EqualFold(t[:len(gtexPrefix)], gtexPrefix) {
		return GTExTissueKey(strings.TrimSpace(t[len(gtexPrefix):]))
	}
	return NormalizeTumor(t)
}

// ImportExpression loads a long-format CSV with columns gene,tumor,group,value. Samples get
// their index from their position within (gene, tumor, group); a (gene, tumor) present in the
// file replaces what the store held for it. GTEx rows use tumor "GTEX:<tissue>".
func (s *SQLStore) ImportExpression(ctx context.Context, r io.Reader) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	del, err := tx.PreparexContext(ctx, `DELETE FROM expression WHERE gene = ? AND tumor = ?`)
	if err != nil {
		return 0, err
	}
	defer del.Close()
	ins, err := tx.PreparexContext(ctx, `
		INSERT INTO expression (gene, tumor, grp, sample_idx, value)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, err
	}
	defer ins.Close()

	cleared := make(map[[2]string]bool)
	next := make(map[[3]string]int)
	n := 0
	err = streamCSV(r, func(rec *expressionRecord) error {
		gene := NormalizeGene(rec.Gene)
		tumor := importTumorKey(rec.Tumor)
		group := strings.TrimSpace(rec.Group)
		if gene == "" || tumor == "" || group == "" {
			return fmt.Errorf("row %d: gene, tumor and group are required", n+1)
		}
		if math.IsNaN(rec.Value) || rec.Value < 0 {
			return fmt.Errorf("row %d: invalid TPM value %v for %s", n+1, rec.Value, gene)
		}

		key := [2]string{gene, tumor}
		if !cleared[key] {
			if _, err := del.ExecContext(ctx, gene, tumor); err != nil {
				return err
			}
			cleared[key] = true
		}
		idxKey := [3]string{gene, tumor, group}
		if _, err := ins.ExecContext(ctx, gene, tumor, group, next[idxKey], rec.Value); err != nil {
			return err
		}
		next[idxKey]++
		n++
		return nil
	})
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	log.Printf("[Import] Loaded %d expression values (%d gene/tumor pairs)", n, len(cleared))
	return n, nil
}

// ImportAnnotations loads gene,membrane,hpa_plasma_membrane rows.
func (s *SQLStore) ImportAnnotations(ctx context.Context, r io.Reader) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	ins, err := tx.PreparexContext(ctx, `
		INSERT OR REPLACE INTO gene_annotation (gene, membrane, hpa_plasma_membrane)
		VALUES (?, ?, ?)
	`)
	if err != nil {
		return 0, err
	}
	defer ins.Close()

	n := 0
	err = streamCSV(r, func(rec *annotationRecord) error {
		gene := NormalizeGene(rec.Gene)
		if gene == "" {
			return fmt.Errorf("row %d: empty gene", n+1)
		}
		if _, err := ins.ExecContext(ctx, gene, rec.Membrane, rec.HPAPlasmaMembrane); err != nil {
			return err
		}
		n++
		return nil
	})
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	log.Printf("[Import] Loaded %d gene annotations", n)
	return n, nil
}

// ImportCellLines loads CCLE model metadata (ModelID, CellLineName, CatalogNumber,
// OncotreeLineage, OncotreePrimaryDisease, OncotreeSubtype, OncotreeCode).
func (s *SQLStore) ImportCellLines(ctx context.Context, r io.Reader) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	ins, err := tx.PreparexContext(ctx, `
		INSERT OR REPLACE INTO cell_lines (model_id, name, catalog_number, lineage, primary_disease, subtype, code)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, err
	}
	defer ins.Close()

	n := 0
	err = streamCSV(r, func(rec *CellLine) error {
		if strings.TrimSpace(rec.ModelID) == "" {
			return fmt.Errorf("row %d: empty ModelID", n+1)
		}
		_, err := ins.ExecContext(ctx,
			strings.TrimSpace(rec.ModelID), rec.Name, rec.CatalogNumber,
			rec.Lineage, rec.PrimaryDisease, rec.Subtype, rec.Code,
		)
		if err != nil {
			return err
		}
		n++
		return nil
	})
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	log.Printf("[Import] Loaded %d cell lines", n)
	return n, nil
}

// ImportCellLineExpression loads gene,model_id,value rows with values in log2(TPM+1).
func (s *SQLStore) ImportCellLineExpression(ctx context.Context, r io.Reader) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	del, err := tx.PreparexContext(ctx, `DELETE FROM cell_line_expression WHERE gene = ? AND model_id = ?`)
	if err != nil {
		return 0, err
	}
	defer del.Close()
	ins, err := tx.PreparexContext(ctx, `
		INSERT INTO cell_line_expression (gene, model_id, value) VALUES (?, ?, ?)
	`)
	if err != nil {
		return 0, err
	}
	defer ins.Close()

	n := 0
	err = streamCSV(r, func(rec *cellLineExpressionRecord) error {
		gene := NormalizeGene(rec.Gene)
		model := strings.TrimSpace(rec.ModelID)
		if gene == "" || model == "" {
			return fmt.Errorf("row %d: gene and model_id are required", n+1)
		}
		if math.IsNaN(rec.Value) {
			return fmt.Errorf("row %d: invalid value for %s", n+1, gene)
		}
		if _, err := del.ExecContext(ctx, gene, model); err != nil {
			return err
		}
		if _, err := ins.ExecContext(ctx, gene, model, rec.Value); err != nil {
			return err
		}
		n++
		return nil
	})
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	log.Printf("[Import] Loaded %d cell line expression values", n)
	return n, nil
}

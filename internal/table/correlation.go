package table

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/gocarina/gocsv"
)

// CorrelationRow is one sample of a two-gene correlation. The header names the genes, so the
// struct tags only fix the column order.
type CorrelationRow struct {
	Sample string  `csv:"Sample"`
	Gene1  float64 `csv:"gene1"`
	Gene2  float64 `csv:"gene2"`
}

// WriteCorrelationCSV writes "Sample, <gene1> expression, <gene2> expression" and one line
// per sample.
func WriteCorrelationCSV(w io.Writer, gene1, gene2 string, rows []*CorrelationRow) error {
	out := gocsv.NewSafeCSVWriter(csv.NewWriter(w))
	if err := out.Write([]string{"Sample", gene1 + " expression", gene2 + " expression"}); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	if len(rows) == 0 {
		out.Flush()
		return out.Error()
	}
	if err := gocsv.MarshalCSVWithoutHeaders(&rows, out); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}

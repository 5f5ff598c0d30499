// Package table turns comparison results into the exported results table.
package table

import (
	"fmt"
	"io"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/xuri/excelize/v2"

	"github.com/cartar/server/internal/compare"
)

// SheetName is the worksheet written by WriteXLSX.
const SheetName = "Comparisons"

const pairSeparator = " vs "

// Header lists the exported columns in order.
var Header = []string{
	"Groups compared",
	"Median group 1",
	"Group 1 n",
	"Median group 2",
	"Group 2 n",
	"log2(Fold Change)",
	"Significance",
	"p-value",
}

// Row is one line of the results table.
type Row struct {
	GroupsCompared string  `csv:"Groups compared" json:"groups_compared"`
	Median1        float64 `csv:"Median group 1" json:"median_group_1"`
	N1             int     `csv:"Group 1 n" json:"group_1_n"`
	Median2        float64 `csv:"Median group 2" json:"median_group_2"`
	N2             int     `csv:"Group 2 n" json:"group_2_n"`
	Log2FC         float64 `csv:"log2(Fold Change)" json:"log2_fold_change"`
	Significance   string  `csv:"Significance" json:"significance"`
	PValue         float64 `csv:"p-value" json:"p_value"`
}

// Groups splits GroupsCompared back into the two labels.
func (r Row) Groups() (string, string, error) {
	g1, g2, ok := strings.Cut(r.GroupsCompared, pairSeparator)
	if !ok {
		return "", "", fmt.Errorf("malformed groups column %q", r.GroupsCompared)
	}
	return g1, g2, nil
}

// FromComparison builds one row per computed pair, in discovery order.
func FromComparison(c *compare.Comparison) []Row {
	if c == nil {
		return nil
	}
	rows := make([]Row, 0, len(c.Pairs))
	for _, p := range c.Pairs {
		rows = append(rows, Row{
			GroupsCompared: p.Group1 + pairSeparator + p.Group2,
			Median1:        p.Median1,
			N1:             p.N1,
			Median2:        p.Median2,
			N2:             p.N2,
			Log2FC:         p.Log2FC,
			Significance:   string(p.Tier),
			PValue:         p.PValue,
		})
	}
	return rows
}

// WriteCSV writes rows with a header line.
func WriteCSV(w io.Writer, rows []Row) error {
	ptrs := make([]*Row, len(rows))
	for i := range rows {
		ptrs[i] = &rows[i]
	}
	if err := gocsv.Marshal(&ptrs, w); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}

// ReadCSV parses a table written by WriteCSV.
func ReadCSV(r io.Reader) ([]Row, error) {
	var ptrs []*Row
	if err := gocsv.Unmarshal(r, &ptrs); err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	rows := make([]Row, len(ptrs))
	for i, p := range ptrs {
		rows[i] = *p
	}
	return rows, nil
}

// WriteXLSX writes rows as a single-sheet workbook.
func WriteXLSX(w io.Writer, rows []Row) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return err
	}

	header := make([]interface{}, len(Header))
	for i, h := range Header {
		header[i] = h
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return err
	}

	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := []interface{}{
			r.GroupsCompared, r.Median1, r.N1, r.Median2, r.N2, r.Log2FC, r.Significance, r.PValue,
		}
		if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
			return err
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}

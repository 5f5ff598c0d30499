package table

import (
	"fmt"
	"io"

	"github.com/gocarina/gocsv"

	"github.com/cartar/server/internal/exprstore"
)

// CellLineRow is one line of the cell line selection table.
type CellLineRow struct {
	CellLine       string  `csv:"Cell line"`
	Expression     float64 `csv:"Expression"`
	CatalogNumber  string  `csv:"Catalog Number"`
	Lineage        string  `csv:"Lineage"`
	PrimaryDisease string  `csv:"Primary Disease"`
	Subtype        string  `csv:"Subtype"`
	Code           string  `csv:"Code"`
}

// WriteCellLinesCSV writes the selected cell lines in the given order.
func WriteCellLinesCSV(w io.Writer, lines []exprstore.CellLineValue) error {
	rows := make([]*CellLineRow, len(lines))
	for i, cl := range lines {
		rows[i] = &CellLineRow{
			CellLine:       cl.Name,
			Expression:     cl.Value,
			CatalogNumber:  cl.CatalogNumber,
			Lineage:        cl.Lineage,
			PrimaryDisease: cl.PrimaryDisease,
			Subtype:        cl.Subtype,
			Code:           cl.Code,
		}
	}
	if err := gocsv.Marshal(&rows, w); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}

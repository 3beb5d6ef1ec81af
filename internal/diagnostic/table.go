package diagnostic

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
)

// Table is the result of one analysis: a labelled numeric grid. Index holds
// the row labels (link ids or statistic names), Columns the column names.
type Table struct {
	IndexName string
	Index     []string
	Columns   []string
	Data      [][]float64 // len(Index) rows x len(Columns) columns

	// Long marks tables that should render as a longtable in LaTeX
	// (per-link tables can span many pages).
	Long bool
}

// Cell formats one value. Non-finite values render by name so CSV
// consumers see them explicitly rather than as empty cells.
func (t *Table) Cell(row, col int) string {
	v := t.Data[row][col]
	if math.IsNaN(v) {
		return "NaN"
	}
	if math.IsInf(v, 0) {
		if v > 0 {
			return "Inf"
		}
		return "-Inf"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// WriteCSV writes the table with the index as the first column.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)

	header := append([]string{t.IndexName}, t.Columns...)
	cw.Write(header)

	for i, label := range t.Index {
		rec := make([]string, 0, len(t.Columns)+1)
		rec = append(rec, label)
		for j := range t.Columns {
			rec = append(rec, t.Cell(i, j))
		}
		cw.Write(rec)
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

package ingest

import "fmt"

// Preview is the bounded human-readable view of the raw table region,
// returned regardless of whether extraction found any rows.
type Preview struct {
	Headers   []string   `json:"headers"`
	Rows      [][]string `json:"rows"`
	TotalRows int        `json:"total_rows"`
	TotalCols int        `json:"total_cols"`
	Sheet     string     `json:"sheet,omitempty"`
	HeaderRow *int       `json:"header_row,omitempty"`
	StartRow  *int       `json:"start_row,omitempty"`
}

// BuildPreview caps the region at maxRows x maxCols. A nil header produces
// synthetic "Колонка N" captions sized to the widest row.
func BuildPreview(cells [][]string, header []string, maxRows, maxCols int) *Preview {
	totalCols := 0
	for _, row := range cells {
		if len(row) > totalCols {
			totalCols = len(row)
		}
	}

	var headers []string
	if header != nil {
		for j, v := range header {
			if j >= maxCols {
				break
			}
			headers = append(headers, NormCell(v))
		}
	}
	if len(headers) == 0 {
		n := totalCols
		if n > maxCols {
			n = maxCols
		}
		for j := 0; j < n; j++ {
			headers = append(headers, fmt.Sprintf("Колонка %d", j+1))
		}
	}

	limit := len(cells)
	if limit > maxRows {
		limit = maxRows
	}
	rows := make([][]string, 0, limit)
	for i := 0; i < limit; i++ {
		out := make([]string, 0, maxCols)
		for j, v := range cells[i] {
			if j >= maxCols {
				break
			}
			out = append(out, NormCell(v))
		}
		rows = append(rows, out)
	}

	return &Preview{
		Headers:   headers,
		Rows:      rows,
		TotalRows: len(cells),
		TotalCols: totalCols,
	}
}

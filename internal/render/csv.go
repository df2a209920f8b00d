package render

import (
	"bytes"
	"encoding/csv"
)

func renderCSV(table Table) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := make([]string, 0, len(table.Columns))
	for _, column := range table.Columns {
		header = append(header, column.Header)
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	if err := w.WriteAll(table.Rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

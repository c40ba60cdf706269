package ingest

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Table is the raw tabular content of an uploaded file: one header row and
// the data rows beneath it, all values as strings.
type Table struct {
	Headers []string
	Rows    [][]string
}

// ReadFile parses an uploaded spreadsheet by extension. CSV, XLSX and XLS
// are supported; anything else is rejected.
func ReadFile(fileName string, data []byte) (*Table, error) {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".csv":
		return readCSV(data)
	case ".xlsx", ".xls":
		return readExcel(data)
	default:
		return nil, fmt.Errorf("unsupported file type: %s", filepath.Ext(fileName))
	}
}

func readCSV(data []byte) (*Table, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("invalid CSV: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("file must contain a header row")
	}

	headers := make([]string, len(records[0]))
	for i, h := range records[0] {
		headers[i] = strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF"))
	}
	if allEmpty(headers) {
		return nil, fmt.Errorf("file must contain a header row")
	}

	return &Table{Headers: headers, Rows: records[1:]}, nil
}

func readExcel(data []byte) (*Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("invalid workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("reading sheet %q: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("file must contain a header row")
	}

	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = strings.TrimSpace(h)
	}
	if allEmpty(headers) {
		return nil, fmt.Errorf("file must contain a header row")
	}

	return &Table{Headers: headers, Rows: rows[1:]}, nil
}

func allEmpty(values []string) bool {
	for _, v := range values {
		if v != "" {
			return false
		}
	}
	return true
}

// Cell returns the value at the given column index for a row, tolerating
// short rows (Excel omits trailing empty cells).
func (t *Table) Cell(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[col])
}

// ColumnIndex returns the position of a header, or -1
func (t *Table) ColumnIndex(header string) int {
	for i, h := range t.Headers {
		if h == header {
			return i
		}
	}
	return -1
}

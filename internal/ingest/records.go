package ingest

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/savegress/hl7bridge/internal/mapping"
	"github.com/savegress/hl7bridge/pkg/models"
)

// excelEpoch is day zero of the 1900 date system. Serial 1 is 1900-01-01;
// the off-by-two absorbs Excel's phantom 1900 leap day.
var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// dateLayouts are tried in order; the first parse wins
var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"02/01/2006",
	"20060102",
	"01-02-2006",
	"02-01-2006",
	"2006/01/02",
	time.RFC3339,
}

// BuildRecords converts table rows into patient records using a column
// mapping. Each record gets a fresh UUID and, when the source has no MRN
// column or the cell is empty, a synthesized MRN derived from the row
// ordinal. Fully empty rows are skipped without consuming an index.
func BuildRecords(table *Table, colMapping *models.ColumnMapping) []*models.PatientRecord {
	fieldCol := make(map[string]int)
	for col, field := range colMapping.Mapping {
		if idx := table.ColumnIndex(col); idx >= 0 {
			fieldCol[field] = idx
		}
	}

	cell := func(row []string, field string) string {
		idx, ok := fieldCol[field]
		if !ok {
			return ""
		}
		return table.Cell(row, idx)
	}

	var records []*models.PatientRecord
	for _, row := range table.Rows {
		if allEmpty(row) {
			continue
		}

		index := len(records)
		mrn := cell(row, mapping.FieldMRN)
		if mrn == "" {
			mrn = fmt.Sprintf("MRN%06d", index+1)
		}

		records = append(records, &models.PatientRecord{
			Index:       index,
			UUID:        uuid.New().String(),
			FirstName:   cell(row, mapping.FieldFirstName),
			LastName:    cell(row, mapping.FieldLastName),
			DateOfBirth: NormalizeDate(cell(row, mapping.FieldDateOfBirth)),
			Gender:      NormalizeGender(cell(row, mapping.FieldGender)),
			MRN:         mrn,
			Phone:       cell(row, mapping.FieldPhone),
			Email:       cell(row, mapping.FieldEmail),
			Address:     cell(row, mapping.FieldAddress),
			City:        cell(row, mapping.FieldCity),
			State:       cell(row, mapping.FieldState),
			Zip:         cell(row, mapping.FieldZip),
		})
	}

	return records
}

// NormalizeDate converts a raw date cell to YYYY-MM-DD. Excel serial
// numbers, slash and dash delimited dates, compact YYYYMMDD and RFC3339
// timestamps are accepted. An unparseable value yields an empty string
// rather than a fabricated date.
func NormalizeDate(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}

	if serial, err := strconv.ParseFloat(s, 64); err == nil {
		// A bare four-digit number reading as a calendar year is more
		// likely a year than a spreadsheet serial; neither gives a full
		// date, so it stays empty
		if serial >= 1900 && serial <= 2200 && serial == float64(int(serial)) {
			return ""
		}
		if serial >= 1 && serial < 200000 {
			return excelEpoch.AddDate(0, 0, int(serial)).Format("2006-01-02")
		}
		return ""
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02")
		}
	}

	return ""
}

// NormalizeGender maps common gender spellings to Male, Female, Other or
// Unknown. Unrecognized values pass through unchanged so validation can
// flag them with the original text.
func NormalizeGender(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return ""
	case "m", "male", "man":
		return "Male"
	case "f", "female", "woman":
		return "Female"
	case "o", "other", "non-binary", "nb":
		return "Other"
	case "u", "unknown":
		return "Unknown"
	default:
		return strings.TrimSpace(raw)
	}
}

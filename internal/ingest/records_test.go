package ingest

import (
	"strings"
	"testing"

	"github.com/savegress/hl7bridge/internal/mapping"
	"github.com/savegress/hl7bridge/pkg/models"
)

func patientMapping() *models.ColumnMapping {
	return &models.ColumnMapping{
		Mapping: map[string]string{
			"First Name": mapping.FieldFirstName,
			"Last Name":  mapping.FieldLastName,
			"DOB":        mapping.FieldDateOfBirth,
			"Sex":        mapping.FieldGender,
			"MRN":        mapping.FieldMRN,
		},
	}
}

func TestBuildRecords(t *testing.T) {
	table := &Table{
		Headers: []string{"First Name", "Last Name", "DOB", "Sex", "MRN"},
		Rows: [][]string{
			{"John", "Doe", "1985-03-15", "M", "12345"},
			{"Jane", "Smith", "07/22/1990", "female", ""},
		},
	}

	records := BuildRecords(table, patientMapping())
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	john := records[0]
	if john.Index != 0 || john.FirstName != "John" || john.LastName != "Doe" {
		t.Errorf("unexpected first record %+v", john)
	}
	if john.DateOfBirth != "1985-03-15" {
		t.Errorf("expected 1985-03-15, got %q", john.DateOfBirth)
	}
	if john.Gender != "Male" {
		t.Errorf("expected Male, got %q", john.Gender)
	}
	if john.MRN != "12345" {
		t.Errorf("source MRN should be kept, got %q", john.MRN)
	}
	if john.UUID == "" {
		t.Error("record UUID should be assigned")
	}

	jane := records[1]
	if jane.DateOfBirth != "1990-07-22" {
		t.Errorf("slash date not normalized, got %q", jane.DateOfBirth)
	}
	if jane.Gender != "Female" {
		t.Errorf("expected Female, got %q", jane.Gender)
	}
	if jane.MRN != "MRN000002" {
		t.Errorf("expected synthesized MRN000002, got %q", jane.MRN)
	}
	if jane.UUID == john.UUID {
		t.Error("records must get distinct UUIDs")
	}
}

func TestBuildRecords_SkipsEmptyRows(t *testing.T) {
	table := &Table{
		Headers: []string{"First Name", "Last Name", "DOB", "Sex", "MRN"},
		Rows: [][]string{
			{"John", "Doe", "1985-03-15", "M", ""},
			{"", "", "", "", ""},
			{"Jane", "Smith", "1990-07-22", "F", ""},
		},
	}

	records := BuildRecords(table, patientMapping())
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[1].Index != 1 {
		t.Errorf("index should be contiguous, got %d", records[1].Index)
	}
	if records[1].MRN != "MRN000002" {
		t.Errorf("synthesized MRN should follow record ordinal, got %q", records[1].MRN)
	}
}

func TestBuildRecords_UnmappedColumnsIgnored(t *testing.T) {
	table := &Table{
		Headers: []string{"First Name", "Favorite Color"},
		Rows:    [][]string{{"John", "blue"}},
	}
	colMapping := &models.ColumnMapping{
		Mapping:  map[string]string{"First Name": mapping.FieldFirstName},
		Unmapped: []string{"Favorite Color"},
	}

	records := BuildRecords(table, colMapping)
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].FirstName != "John" {
		t.Errorf("mapped column not applied, got %+v", records[0])
	}
}

func TestNormalizeDate(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"1985-03-15", "1985-03-15"},
		{"03/15/1985", "1985-03-15"},
		{"15/03/1985", "1985-03-15"},
		{"19850315", "1985-03-15"},
		{"03-15-1985", "1985-03-15"},
		{"1985/03/15", "1985-03-15"},
		{"31121", "1985-03-15"}, // Excel serial
		{"1985", ""},            // bare year, not a serial
		{"not a date", ""},
		{"", ""},
		{"  1990-07-22  ", "1990-07-22"},
	}
	for _, tt := range tests {
		if got := NormalizeDate(tt.in); got != tt.want {
			t.Errorf("NormalizeDate(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeDate_ExcelSerialEpoch(t *testing.T) {
	// Serial 1 is 1900-01-01 in the 1900 date system
	if got := NormalizeDate("1"); got != "1899-12-31" {
		t.Errorf("serial 1: got %q", got)
	}
	if got := NormalizeDate("2"); got != "1900-01-01" {
		t.Errorf("serial 2: got %q", got)
	}
}

func TestNormalizeGender(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"M", "Male"},
		{"male", "Male"},
		{"Man", "Male"},
		{"f", "Female"},
		{"WOMAN", "Female"},
		{"other", "Other"},
		{"nb", "Other"},
		{"u", "Unknown"},
		{"Unknown", "Unknown"},
		{"", ""},
		{"martian", "martian"},
	}
	for _, tt := range tests {
		if got := NormalizeGender(tt.in); got != tt.want {
			t.Errorf("NormalizeGender(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeDate_AmbiguousSlashOrder(t *testing.T) {
	// MM/DD is tried before DD/MM, so an ambiguous date resolves US-style
	if got := NormalizeDate("01/02/1985"); got != "1985-01-02" {
		t.Errorf("ambiguous date should resolve MM/DD first, got %q", got)
	}
	if !strings.HasPrefix(NormalizeDate("25/12/1985"), "1985-12-25") {
		t.Errorf("unambiguous DD/MM should parse, got %q", NormalizeDate("25/12/1985"))
	}
}

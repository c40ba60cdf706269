package ingest

import (
	"bytes"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestReadFile_CSV(t *testing.T) {
	data := []byte("First Name,Last Name,DOB\nJohn,Doe,1985-03-15\nJane,Smith,1990-07-22\n")

	table, err := ReadFile("patients.csv", data)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if len(table.Headers) != 3 || table.Headers[0] != "First Name" {
		t.Errorf("unexpected headers %v", table.Headers)
	}
	if len(table.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(table.Rows))
	}
	if table.Rows[1][0] != "Jane" {
		t.Errorf("unexpected cell %q", table.Rows[1][0])
	}
}

func TestReadFile_CSVWithBOM(t *testing.T) {
	data := []byte("\uFEFFFirst Name,Last Name\nJohn,Doe\n")

	table, err := ReadFile("patients.csv", data)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if table.Headers[0] != "First Name" {
		t.Errorf("BOM not stripped from first header: %q", table.Headers[0])
	}
}

func TestReadFile_CSVRaggedRows(t *testing.T) {
	data := []byte("First Name,Last Name,City\nJohn,Doe\nJane,Smith,Springfield,extra\n")

	table, err := ReadFile("patients.csv", data)
	if err != nil {
		t.Fatalf("ragged rows should be tolerated: %v", err)
	}
	if got := table.Cell(table.Rows[0], 2); got != "" {
		t.Errorf("short row cell should be empty, got %q", got)
	}
	if got := table.Cell(table.Rows[1], 2); got != "Springfield" {
		t.Errorf("expected Springfield, got %q", got)
	}
}

func TestReadFile_Excel(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	f.SetSheetRow(sheet, "A1", &[]string{"First Name", "Last Name", "DOB"})
	f.SetSheetRow(sheet, "A2", &[]string{"John", "Doe", "1985-03-15"})

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("writing workbook: %v", err)
	}

	table, err := ReadFile("patients.xlsx", buf.Bytes())
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if len(table.Headers) != 3 || table.Headers[2] != "DOB" {
		t.Errorf("unexpected headers %v", table.Headers)
	}
	if len(table.Rows) != 1 || table.Rows[0][0] != "John" {
		t.Errorf("unexpected rows %v", table.Rows)
	}
}

func TestReadFile_UnsupportedExtension(t *testing.T) {
	if _, err := ReadFile("patients.pdf", []byte("x")); err == nil {
		t.Error("expected error for unsupported extension")
	}
}

func TestReadFile_EmptyCSV(t *testing.T) {
	if _, err := ReadFile("patients.csv", []byte("")); err == nil {
		t.Error("expected error for empty file")
	}
	if _, err := ReadFile("patients.csv", []byte(",,\n")); err == nil {
		t.Error("expected error for blank header row")
	}
}

func TestTable_ColumnIndex(t *testing.T) {
	table := &Table{Headers: []string{"A", "B", "C"}}
	if idx := table.ColumnIndex("B"); idx != 1 {
		t.Errorf("expected 1, got %d", idx)
	}
	if idx := table.ColumnIndex("Z"); idx != -1 {
		t.Errorf("expected -1, got %d", idx)
	}
}

func TestReadFile_CSVQuotedFields(t *testing.T) {
	data := []byte("Name,Address\n\"Doe, John\",\"12 Main St, Apt 4\"\n")

	table, err := ReadFile("patients.csv", data)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !strings.Contains(table.Rows[0][1], "Apt 4") {
		t.Errorf("quoted field mangled: %q", table.Rows[0][1])
	}
}

package mapping

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/savegress/hl7bridge/internal/config"
)

func fuzzyMapper() *Mapper {
	return NewMapper(&config.MappingConfig{Mode: config.MappingModeFuzzy}, zap.NewNop())
}

func TestMapper_ExactAliases(t *testing.T) {
	m := fuzzyMapper()

	columns := []string{"First Name", "Last Name", "DOB", "Sex", "MRN", "Zip Code"}
	res := m.Map(context.Background(), columns)

	want := map[string]string{
		"First Name": FieldFirstName,
		"Last Name":  FieldLastName,
		"DOB":        FieldDateOfBirth,
		"Sex":        FieldGender,
		"MRN":        FieldMRN,
		"Zip Code":   FieldZip,
	}
	if !reflect.DeepEqual(res.Mapping, want) {
		t.Errorf("mapping mismatch:\n got %v\nwant %v", res.Mapping, want)
	}
	for col, conf := range res.Confidence {
		if conf != 1.0 {
			t.Errorf("%s: exact match should have confidence 1.0, got %v", col, conf)
		}
	}
	if len(res.Unmapped) != 0 {
		t.Errorf("expected no unmapped columns, got %v", res.Unmapped)
	}
}

func TestMapper_KeywordFuzzy(t *testing.T) {
	m := fuzzyMapper()

	res := m.Map(context.Background(), []string{
		"Patient Given",
		"Patient Family Name Info",
		"Birth Data",
	})

	if res.Mapping["Patient Given"] != FieldFirstName {
		t.Errorf("Patient Given: got %q", res.Mapping["Patient Given"])
	}
	if res.Mapping["Patient Family Name Info"] != FieldLastName {
		t.Errorf("Patient Family Name Info: got %q", res.Mapping["Patient Family Name Info"])
	}
	if res.Mapping["Birth Data"] != FieldDateOfBirth {
		t.Errorf("Birth Data: got %q", res.Mapping["Birth Data"])
	}
	for col, conf := range res.Confidence {
		if conf != 0.8 {
			t.Errorf("%s: keyword match should have confidence 0.8, got %v", col, conf)
		}
	}
}

func TestMapper_EmailBeforeAddress(t *testing.T) {
	m := fuzzyMapper()

	res := m.Map(context.Background(), []string{"Email Address", "Home Street"})
	if res.Mapping["Email Address"] != FieldEmail {
		t.Errorf("Email Address must map to email, got %q", res.Mapping["Email Address"])
	}
	if res.Mapping["Home Street"] != FieldAddress {
		t.Errorf("Home Street must map to address, got %q", res.Mapping["Home Street"])
	}
}

func TestMapper_BareNameHeuristic(t *testing.T) {
	m := fuzzyMapper()

	res := m.Map(context.Background(), []string{"Name"})
	if res.Mapping["Name"] != FieldFirstName {
		t.Errorf("bare name column should map to firstName, got %q", res.Mapping["Name"])
	}
	if res.Confidence["Name"] != 0.5 {
		t.Errorf("heuristic confidence should be 0.5, got %v", res.Confidence["Name"])
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "ambiguous") {
		t.Errorf("expected ambiguity warning, got %v", res.Warnings)
	}
}

func TestMapper_UnmappedNeverGuessed(t *testing.T) {
	m := fuzzyMapper()

	res := m.Map(context.Background(), []string{"First Name", "Favorite Color", "xyzzy"})
	if len(res.Unmapped) != 2 {
		t.Fatalf("expected 2 unmapped columns, got %v", res.Unmapped)
	}
	for _, col := range []string{"Favorite Color", "xyzzy"} {
		if _, ok := res.Mapping[col]; ok {
			t.Errorf("%s should not be mapped", col)
		}
	}
}

func TestMapper_Idempotent(t *testing.T) {
	m := fuzzyMapper()
	columns := []string{"First Name", "Last Name", "DOB", "Sex", "Email Address", "Name", "mystery"}

	first := m.Map(context.Background(), columns)
	second := m.Map(context.Background(), columns)

	if !reflect.DeepEqual(first.Mapping, second.Mapping) {
		t.Errorf("mapping not idempotent:\n %v\n %v", first.Mapping, second.Mapping)
	}
	if !reflect.DeepEqual(first.Confidence, second.Confidence) {
		t.Errorf("confidence not idempotent")
	}
}

func TestMapper_NoDoubleClaim(t *testing.T) {
	m := fuzzyMapper()

	// Both normalize toward first name; only one may claim it
	res := m.Map(context.Background(), []string{"First Name", "fname"})

	claimed := 0
	for _, field := range res.Mapping {
		if field == FieldFirstName {
			claimed++
		}
	}
	if claimed != 1 {
		t.Errorf("firstName claimed %d times, want 1", claimed)
	}
}

func TestNormalizeColumn(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"First Name", "first_name"},
		{"  DOB  ", "dob"},
		{"E-Mail", "e_mail"},
		{"Patient's ZIP!", "patient_s_zip"},
		{"already_normal", "already_normal"},
	}
	for _, tt := range tests {
		if got := normalizeColumn(tt.in); got != tt.want {
			t.Errorf("normalizeColumn(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMapper_ClassifierResolvesColumns(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req classifyRequest
		json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(classifyResponse{
			Assignments: []columnAssignment{
				{Column: "Pt Identifier", Field: FieldMRN, Confidence: 0.92},
			},
		})
	}))
	defer srv.Close()

	m := NewMapper(&config.MappingConfig{
		Mode:              config.MappingModeClassifier,
		ClassifierURL:     srv.URL,
		ClassifierTimeout: 2 * time.Second,
	}, zap.NewNop())

	res := m.Map(context.Background(), []string{"Pt Identifier", "First Name"})
	if res.Mapping["Pt Identifier"] != FieldMRN {
		t.Errorf("classifier assignment not applied: %v", res.Mapping)
	}
	if res.Confidence["Pt Identifier"] != 0.92 {
		t.Errorf("classifier confidence not preserved: %v", res.Confidence)
	}
	// Local chain still resolves what the classifier left alone
	if res.Mapping["First Name"] != FieldFirstName {
		t.Errorf("local fallback did not run for remaining column: %v", res.Mapping)
	}
}

func TestMapper_ClassifierDuplicateFieldDropped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(classifyResponse{
			Assignments: []columnAssignment{
				{Column: "Pt Identifier", Field: FieldMRN, Confidence: 0.9},
				{Column: "Chart Number", Field: FieldMRN, Confidence: 0.85},
			},
		})
	}))
	defer srv.Close()

	m := NewMapper(&config.MappingConfig{
		Mode:              config.MappingModeClassifier,
		ClassifierURL:     srv.URL,
		ClassifierTimeout: 2 * time.Second,
	}, zap.NewNop())

	res := m.Map(context.Background(), []string{"Pt Identifier", "Chart Number"})

	if res.Mapping["Pt Identifier"] != FieldMRN {
		t.Errorf("first assignment should win: %v", res.Mapping)
	}
	if res.Mapping["Chart Number"] == FieldMRN {
		t.Errorf("mrn claimed twice: %v", res.Mapping)
	}
	claimed := 0
	for _, field := range res.Mapping {
		if field == FieldMRN {
			claimed++
		}
	}
	if claimed != 1 {
		t.Errorf("mrn claimed %d times, want 1", claimed)
	}

	found := false
	for _, w := range res.Warnings {
		if strings.Contains(w, "already claimed") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a duplicate-claim warning, got %v", res.Warnings)
	}
}

func TestMapper_ClassifierErrorFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := NewMapper(&config.MappingConfig{
		Mode:              config.MappingModeClassifier,
		ClassifierURL:     srv.URL,
		ClassifierTimeout: 2 * time.Second,
	}, zap.NewNop())

	res := m.Map(context.Background(), []string{"First Name", "Last Name"})
	if res.Mapping["First Name"] != FieldFirstName || res.Mapping["Last Name"] != FieldLastName {
		t.Errorf("fuzzy fallback did not resolve columns: %v", res.Mapping)
	}
}

func TestClassifier_RejectsBadAssignments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(classifyResponse{
			Assignments: []columnAssignment{
				{Column: "ghost", Field: FieldMRN, Confidence: 0.9},
				{Column: "Col A", Field: "notAField", Confidence: 0.9},
				{Column: "Col B", Field: FieldCity, Confidence: 1.5},
			},
		})
	}))
	defer srv.Close()

	c := NewClassifier(srv.URL, 2*time.Second, zap.NewNop())
	res, err := c.Map(context.Background(), []string{"Col A", "Col B"})
	if err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	if len(res.Mapping) != 0 {
		t.Errorf("bad assignments should all be dropped, got %v", res.Mapping)
	}
	if len(res.Warnings) != 2 {
		t.Errorf("expected 2 warnings for bad field and bad confidence, got %v", res.Warnings)
	}
}

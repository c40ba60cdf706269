package hl7v2

import (
	"strings"
	"testing"
)

func TestTierValidator_Valid(t *testing.T) {
	v := NewTierValidator()

	res := v.Validate(sampleADT)
	if !res.IsValid {
		t.Fatalf("expected valid, missing: %v", res.MissingFields)
	}
	if len(res.MissingFields) != 0 {
		t.Errorf("expected no missing fields, got %v", res.MissingFields)
	}
	if res.Message != "Validation passed" {
		t.Errorf("unexpected message %q", res.Message)
	}
}

func TestTierValidator_MissingCriticalFields(t *testing.T) {
	v := NewTierValidator()

	// PID with empty name (PID-5) and DOB (PID-7)
	text := "MSH|^~\\&|HL7BRIDGE|SAVEGRESS|OpenEMR|OpenEMR|20250601123045||ADT^A04|CTRL123|P|2.5\r" +
		"PID|1||MRN000001|||||M"

	res := v.Validate(text)
	if res.IsValid {
		t.Fatal("expected invalid")
	}
	want := map[string]bool{"PID-5": true, "PID-7": true}
	if len(res.MissingFields) != 2 {
		t.Fatalf("expected 2 missing fields, got %v", res.MissingFields)
	}
	for _, f := range res.MissingFields {
		if !want[f] {
			t.Errorf("unexpected missing field %s", f)
		}
	}
}

func TestTierValidator_OnlyPresentSegmentsChecked(t *testing.T) {
	v := NewTierValidator()

	// No ORC/OBR/OBX: their critical fields must not be reported missing
	res := v.Validate(sampleADT)
	for _, f := range res.MissingFields {
		if strings.HasPrefix(f, "OBR") || strings.HasPrefix(f, "OBX") || strings.HasPrefix(f, "ORC") {
			t.Errorf("absent segment reported missing field %s", f)
		}
	}
}

func TestTierValidator_StructuralFailure(t *testing.T) {
	v := NewTierValidator()

	res := v.Validate("PID|1||MRN000001")
	if res.IsValid {
		t.Fatal("expected invalid for non-MSH message")
	}
	if !strings.HasPrefix(res.Message, "Invalid HL7 structure") {
		t.Errorf("unexpected message %q", res.Message)
	}
}

func TestTierValidator_WhitespaceFieldIsMissing(t *testing.T) {
	v := NewTierValidator()

	text := "MSH|^~\\&|HL7BRIDGE|SAVEGRESS|OpenEMR|OpenEMR|20250601123045||ADT^A04|CTRL123|P|2.5\r" +
		"PID|1||MRN000001||   ||19850315|M"

	res := v.Validate(text)
	if res.IsValid {
		t.Fatal("whitespace-only critical field should count as missing")
	}
	if len(res.MissingFields) != 1 || res.MissingFields[0] != "PID-5" {
		t.Errorf("expected [PID-5], got %v", res.MissingFields)
	}
}

func TestTierValidator_MSHMessageType(t *testing.T) {
	v := NewTierValidator()

	text := "MSH|^~\\&|HL7BRIDGE|SAVEGRESS|OpenEMR|OpenEMR|20250601123045|||CTRL123|P|2.5"

	res := v.Validate(text)
	if res.IsValid {
		t.Fatal("empty MSH-9 should fail validation")
	}
	found := false
	for _, f := range res.MissingFields {
		if f == "MSH-9" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected MSH-9 in missing fields, got %v", res.MissingFields)
	}
}

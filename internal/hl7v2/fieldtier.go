package hl7v2

import (
	"fmt"
	"strings"
)

// TierResult is the outcome of critical-field validation
type TierResult struct {
	IsValid       bool     `json:"is_valid"`
	MissingFields []string `json:"missing_fields"`
	Message       string   `json:"message"`
}

// TierValidator re-parses a generated message and checks that every critical
// field is populated. System and contextual fields are never inspected; a
// segment is only checked when it is actually present in the message.
type TierValidator struct{}

// NewTierValidator creates a new field-tier validator
func NewTierValidator() *TierValidator {
	return &TierValidator{}
}

// Validate parses the message text and checks critical fields per segment.
// A structural parse failure is itself a validation failure; no partial
// validation is attempted. An index beyond the populated fields counts as
// missing, the same as an empty value.
func (v *TierValidator) Validate(messageText string) *TierResult {
	msg, err := Parse(messageText)
	if err != nil {
		return &TierResult{
			IsValid:       false,
			MissingFields: []string{},
			Message:       fmt.Sprintf("Invalid HL7 structure: %v", err),
		}
	}

	var missing []string
	for _, seg := range msg.Segments {
		indexes, ok := CriticalFields[seg.Name]
		if !ok {
			continue
		}
		for _, idx := range indexes {
			if strings.TrimSpace(seg.Field(idx)) == "" {
				missing = append(missing, fmt.Sprintf("%s-%d", seg.Name, idx))
			}
		}
	}

	if len(missing) > 0 {
		return &TierResult{
			IsValid:       false,
			MissingFields: missing,
			Message:       "Missing critical fields",
		}
	}

	return &TierResult{
		IsValid:       true,
		MissingFields: []string{},
		Message:       "Validation passed",
	}
}

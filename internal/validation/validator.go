package validation

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/savegress/hl7bridge/pkg/models"
)

var (
	isoDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	zipPattern     = regexp.MustCompile(`^\d{5}(-\d{4})?$`)
	digitPattern   = regexp.MustCompile(`\d`)
)

// knownGenders are the accepted gender values, compared case-insensitively
var knownGenders = map[string]bool{
	"m": true, "f": true,
	"male": true, "female": true,
	"other": true,
	"u": true, "unknown": true,
}

// requiredFields name the demographic fields a record must carry to be
// eligible for message generation.
var requiredFields = []struct {
	name  string
	value func(*models.PatientRecord) string
}{
	{"firstName", func(r *models.PatientRecord) string { return r.FirstName }},
	{"lastName", func(r *models.PatientRecord) string { return r.LastName }},
	{"dateOfBirth", func(r *models.PatientRecord) string { return r.DateOfBirth }},
	{"gender", func(r *models.PatientRecord) string { return r.Gender }},
	{"mrn", func(r *models.PatientRecord) string { return r.MRN }},
}

// Validator checks patient records for structural completeness and format.
// A missing required field makes the record invalid; format findings only
// downgrade it to warning.
type Validator struct {
	logger *zap.Logger
}

// NewValidator creates a new patient record validator
func NewValidator(logger *zap.Logger) *Validator {
	return &Validator{logger: logger}
}

// Validate sets the record's validation status and messages and returns the
// per-field findings. The record itself is the only thing mutated.
func (v *Validator) Validate(record *models.PatientRecord) []models.ValidationError {
	var findings []models.ValidationError

	for _, f := range requiredFields {
		if strings.TrimSpace(f.value(record)) == "" {
			findings = append(findings, models.ValidationError{
				Row:      record.Index,
				Field:    f.name,
				Message:  "Missing required field",
				Severity: models.SeverityError,
			})
		}
	}

	findings = append(findings, v.formatFindings(record)...)

	status := models.ValidationValid
	var messages []string
	for _, f := range findings {
		messages = append(messages, fmt.Sprintf("%s: %s", f.Field, f.Message))
		switch f.Severity {
		case models.SeverityError:
			status = models.ValidationInvalid
		case models.SeverityWarning:
			if status != models.ValidationInvalid {
				status = models.ValidationWarning
			}
		}
	}

	record.ValidationStatus = status
	record.ValidationMessages = messages

	if status != models.ValidationValid {
		v.logger.Debug("record validation finding",
			zap.Int("index", record.Index),
			zap.String("status", string(status)),
			zap.Strings("messages", messages))
	}

	return findings
}

// formatFindings runs the secondary format checks. These warn but never
// invalidate on their own.
func (v *Validator) formatFindings(record *models.PatientRecord) []models.ValidationError {
	var findings []models.ValidationError

	if record.DateOfBirth != "" && !isoDatePattern.MatchString(record.DateOfBirth) {
		findings = append(findings, models.ValidationError{
			Row:      record.Index,
			Field:    "dateOfBirth",
			Message:  "Date must be in YYYY-MM-DD format",
			Value:    record.DateOfBirth,
			Severity: models.SeverityWarning,
		})
	}

	if record.Gender != "" && !knownGenders[strings.ToLower(strings.TrimSpace(record.Gender))] {
		findings = append(findings, models.ValidationError{
			Row:      record.Index,
			Field:    "gender",
			Message:  "Unrecognized gender value",
			Value:    record.Gender,
			Severity: models.SeverityWarning,
		})
	}

	if record.Phone != "" {
		digits := len(digitPattern.FindAllString(record.Phone, -1))
		if digits < 10 || digits > 15 {
			findings = append(findings, models.ValidationError{
				Row:      record.Index,
				Field:    "phone",
				Message:  "Phone number must contain 10 to 15 digits",
				Value:    record.Phone,
				Severity: models.SeverityWarning,
			})
		}
	}

	if record.Zip != "" && !zipPattern.MatchString(record.Zip) {
		findings = append(findings, models.ValidationError{
			Row:      record.Index,
			Field:    "zip",
			Message:  "ZIP code must be 5 digits or ZIP+4",
			Value:    record.Zip,
			Severity: models.SeverityWarning,
		})
	}

	return findings
}

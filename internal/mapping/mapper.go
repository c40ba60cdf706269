package mapping

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/savegress/hl7bridge/internal/config"
	"github.com/savegress/hl7bridge/pkg/models"
)

// Canonical patient field names produced by the mapper
const (
	FieldFirstName   = "firstName"
	FieldLastName    = "lastName"
	FieldDateOfBirth = "dateOfBirth"
	FieldGender      = "gender"
	FieldMRN         = "mrn"
	FieldPhone       = "phone"
	FieldEmail       = "email"
	FieldAddress     = "address"
	FieldCity        = "city"
	FieldState       = "state"
	FieldZip         = "zip"
)

// fieldPriority fixes the order fields are tried during keyword matching so
// ambiguous columns map deterministically. Email comes before address so a
// column like "email address" never lands on address.
var fieldPriority = []string{
	FieldMRN,
	FieldFirstName,
	FieldLastName,
	FieldDateOfBirth,
	FieldGender,
	FieldPhone,
	FieldEmail,
	FieldAddress,
	FieldCity,
	FieldState,
	FieldZip,
}

// fieldAliases maps each canonical field to the normalized column names that
// resolve to it exactly.
var fieldAliases = map[string][]string{
	FieldMRN: {
		"mrn", "medical_record_number", "patient_mrn", "patient_id",
		"patientid", "id",
	},
	FieldFirstName: {
		"first_name", "firstname", "fname", "given_name",
		"patient_first_name",
	},
	FieldLastName: {
		"last_name", "lastname", "lname", "family_name", "surname",
		"patient_last_name",
	},
	FieldDateOfBirth: {
		"date_of_birth", "dob", "birth_date", "birthdate",
	},
	FieldGender: {
		"gender", "sex",
	},
	FieldPhone: {
		"phone", "phone_number", "telephone", "mobile", "contact",
	},
	FieldEmail: {
		"email", "email_address", "e_mail",
	},
	FieldAddress: {
		"address", "street", "street_address", "address_1", "address1", "addr1",
	},
	FieldCity: {
		"city", "town",
	},
	FieldState: {
		"state", "province", "region",
	},
	FieldZip: {
		"zip", "zip_code", "zipcode", "postal_code", "postalcode",
	},
}

// fieldKeywords drives the fuzzy stage: tokens of a normalized column name
// are matched against these, first by equality, then by substring containment
// for keywords of at least three characters.
var fieldKeywords = map[string][]string{
	FieldMRN:         {"mrn", "medical"},
	FieldFirstName:   {"first", "fname", "given"},
	FieldLastName:    {"last", "lname", "family", "surname"},
	FieldDateOfBirth: {"dob", "birth"},
	FieldGender:      {"gender", "sex"},
	FieldPhone:       {"phone", "telephone", "mobile"},
	FieldEmail:       {"email", "mail"},
	FieldAddress:     {"address", "street", "addr"},
	FieldCity:        {"city", "town"},
	FieldState:       {"state", "province"},
	FieldZip:         {"zip", "postal"},
}

// stopWords are dropped from column tokens before keyword matching
var stopWords = map[string]bool{
	"patient": true,
	"record":  true,
	"the":     true,
	"info":    true,
	"data":    true,
}

// Confidence assigned per strategy stage
const (
	confidenceExact     = 1.0
	confidenceKeyword   = 0.8
	confidenceHeuristic = 0.5
)

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// Strategy maps a list of source column names to canonical fields. The
// remote classifier and the local fuzzy chain both implement it.
type Strategy interface {
	Map(ctx context.Context, columns []string) (*models.ColumnMapping, error)
}

// Mapper resolves arbitrary spreadsheet column names to canonical patient
// fields through an ordered strategy chain. The chain per column is: exact
// alias lookup, keyword fuzzy match, bare-name heuristic. In classifier mode
// a remote classifier runs first and the local chain fills in whatever it
// leaves unresolved.
type Mapper struct {
	classifier  Strategy
	defaultMode config.MappingMode
	logger      *zap.Logger
}

// NewMapper creates a mapper with the configured default mode. The remote
// classifier is only available when a URL is configured.
func NewMapper(cfg *config.MappingConfig, logger *zap.Logger) *Mapper {
	m := &Mapper{defaultMode: cfg.Mode, logger: logger}
	if cfg.ClassifierURL != "" {
		m.classifier = NewClassifier(cfg.ClassifierURL, cfg.ClassifierTimeout, logger)
	}
	return m
}

// Map resolves every column with the configured default mode
func (m *Mapper) Map(ctx context.Context, columns []string) *models.ColumnMapping {
	return m.MapWithMode(ctx, columns, m.defaultMode)
}

// MapWithMode resolves every column or reports it as unmapped. The same
// column list and mode always yield the same mapping and confidences.
// Unresolved columns are never guessed.
func (m *Mapper) MapWithMode(ctx context.Context, columns []string, mode config.MappingMode) *models.ColumnMapping {
	result := &models.ColumnMapping{
		Mapping:    make(map[string]string),
		Columns:    append([]string(nil), columns...),
		Confidence: make(map[string]float64),
	}

	taken := make(map[string]bool)

	if mode == config.MappingModeClassifier && m.classifier != nil {
		remote, err := m.classifier.Map(ctx, columns)
		if err != nil {
			m.logger.Warn("column classifier unavailable, using local matching",
				zap.Error(err))
		} else {
			result.Warnings = append(result.Warnings, remote.Warnings...)
			// Merge in column order so a duplicate field assignment is
			// dropped deterministically; the loser falls through to the
			// local chain like any unresolved column.
			for _, col := range columns {
				field, ok := remote.Mapping[col]
				if !ok {
					continue
				}
				if taken[field] {
					result.Warnings = append(result.Warnings,
						fmt.Sprintf("classifier mapped column %q to already claimed field %q; ignored", col, field))
					continue
				}
				result.Mapping[col] = field
				result.Confidence[col] = remote.Confidence[col]
				taken[field] = true
			}
		}
	}

	for _, col := range columns {
		if _, ok := result.Mapping[col]; ok {
			continue
		}
		field, confidence, warning := m.resolveLocal(col, taken)
		if field == "" {
			result.Unmapped = append(result.Unmapped, col)
			continue
		}
		result.Mapping[col] = field
		result.Confidence[col] = confidence
		taken[field] = true
		if warning != "" {
			result.Warnings = append(result.Warnings, warning)
		}
	}

	m.logger.Info("column mapping built",
		zap.Int("columns", len(columns)),
		zap.Int("mapped", len(result.Mapping)),
		zap.Int("unmapped", len(result.Unmapped)))

	return result
}

// resolveLocal runs the local strategy chain for one column. Fields already
// claimed by another column are skipped so two source columns never collapse
// onto the same canonical field.
func (m *Mapper) resolveLocal(column string, taken map[string]bool) (field string, confidence float64, warning string) {
	normalized := normalizeColumn(column)

	// Stage 1: exact alias lookup
	for _, f := range fieldPriority {
		if taken[f] {
			continue
		}
		for _, alias := range fieldAliases[f] {
			if normalized == alias {
				return f, confidenceExact, ""
			}
		}
	}

	// Stage 2: keyword fuzzy match over tokens
	tokens := columnTokens(normalized)
	for _, f := range fieldPriority {
		if taken[f] {
			continue
		}
		if matchesKeywords(tokens, fieldKeywords[f]) {
			return f, confidenceKeyword, ""
		}
	}

	// Stage 3: a bare "name" column is ambiguous; map to first name with a
	// warning rather than guessing silently
	if normalized == "name" && !taken[FieldFirstName] {
		return FieldFirstName, confidenceHeuristic,
			"column \"" + column + "\" is ambiguous; mapped to firstName"
	}

	return "", 0, ""
}

// matchesKeywords checks tokens against a keyword list, first by equality,
// then by substring containment for keywords of at least three characters.
func matchesKeywords(tokens []string, keywords []string) bool {
	for _, kw := range keywords {
		for _, tok := range tokens {
			if tok == kw {
				return true
			}
		}
	}
	for _, kw := range keywords {
		if len(kw) < 3 {
			continue
		}
		for _, tok := range tokens {
			if strings.Contains(tok, kw) {
				return true
			}
		}
	}
	return false
}

// normalizeColumn lowercases, strips punctuation and collapses whitespace
// into single underscores.
func normalizeColumn(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = nonAlnum.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}

// columnTokens splits a normalized name into tokens, dropping stop words
func columnTokens(normalized string) []string {
	parts := strings.Split(normalized, "_")
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" || stopWords[p] {
			continue
		}
		tokens = append(tokens, p)
	}
	return tokens
}

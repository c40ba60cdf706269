package mapping

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/savegress/hl7bridge/pkg/models"
)

// classifyRequest is the payload sent to the remote column classifier
type classifyRequest struct {
	Columns []string `json:"columns"`
}

// classifyResponse is the classifier's answer: one assignment per resolved
// column plus anything it could not place.
type classifyResponse struct {
	Assignments []columnAssignment `json:"assignments"`
	Unmapped    []string           `json:"unmapped"`
	Warnings    []string           `json:"warnings"`
}

type columnAssignment struct {
	Column     string  `json:"column"`
	Field      string  `json:"field"`
	Confidence float64 `json:"confidence"`
}

// Classifier maps columns by calling a remote semantic classifier service.
// The call is stateless and idempotent, retried at most once; any error is
// returned to the caller, which falls back to local matching.
type Classifier struct {
	client *resty.Client
	logger *zap.Logger
}

// NewClassifier creates a classifier client for the given service URL
func NewClassifier(url string, timeout time.Duration, logger *zap.Logger) *Classifier {
	client := resty.New().
		SetBaseURL(url).
		SetTimeout(timeout).
		SetRetryCount(1).
		SetRetryWaitTime(500 * time.Millisecond)

	return &Classifier{
		client: client,
		logger: logger,
	}
}

// Map submits the full column list and converts the response into a
// ColumnMapping. Assignments for columns that were never submitted, for
// unknown fields, or with out-of-range confidence are dropped with a warning
// rather than trusted.
func (c *Classifier) Map(ctx context.Context, columns []string) (*models.ColumnMapping, error) {
	var parsed classifyResponse

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(&classifyRequest{Columns: columns}).
		SetResult(&parsed).
		Post("/classify")
	if err != nil {
		return nil, fmt.Errorf("classifier request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("classifier returned %s", resp.Status())
	}

	submitted := make(map[string]bool, len(columns))
	for _, col := range columns {
		submitted[col] = true
	}

	result := &models.ColumnMapping{
		Mapping:    make(map[string]string),
		Columns:    append([]string(nil), columns...),
		Confidence: make(map[string]float64),
		Unmapped:   parsed.Unmapped,
		Warnings:   parsed.Warnings,
	}

	for _, a := range parsed.Assignments {
		if !submitted[a.Column] {
			c.logger.Warn("classifier returned unknown column", zap.String("column", a.Column))
			continue
		}
		if !knownField(a.Field) {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("classifier assigned unknown field %q to column %q", a.Field, a.Column))
			continue
		}
		if a.Confidence < 0 || a.Confidence > 1 {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("classifier confidence out of range for column %q", a.Column))
			continue
		}
		result.Mapping[a.Column] = a.Field
		result.Confidence[a.Column] = a.Confidence
	}

	return result, nil
}

func knownField(field string) bool {
	for _, f := range fieldPriority {
		if f == field {
			return true
		}
	}
	return false
}

package models

import (
	"time"
)

// ValidationStatus represents the outcome of validating a patient record
type ValidationStatus string

const (
	ValidationValid   ValidationStatus = "valid"
	ValidationInvalid ValidationStatus = "invalid"
	ValidationWarning ValidationStatus = "warning"
)

// Severity represents the severity of a validation finding
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// PatientRecord represents one patient parsed from an uploaded row.
// Index and UUID are assigned at parse time and never change; the UUID
// travels inside the generated HL7 message so a downstream ACK can be
// correlated back to the source row even when MRNs collide.
type PatientRecord struct {
	Index              int              `json:"index"`
	UUID               string           `json:"uuid"`
	FirstName          string           `json:"first_name"`
	LastName           string           `json:"last_name"`
	DateOfBirth        string           `json:"date_of_birth"` // YYYY-MM-DD or empty
	Gender             string           `json:"gender"`        // Male|Female|Other|Unknown
	MRN                string           `json:"mrn"`
	Phone              string           `json:"phone,omitempty"`
	Email              string           `json:"email,omitempty"`
	Address            string           `json:"address,omitempty"`
	City               string           `json:"city,omitempty"`
	State              string           `json:"state,omitempty"`
	Zip                string           `json:"zip,omitempty"`
	ValidationStatus   ValidationStatus `json:"validation_status"`
	ValidationMessages []string         `json:"validation_messages"`
}

// FullName returns "First Last" for display purposes
func (p *PatientRecord) FullName() string {
	switch {
	case p.FirstName != "" && p.LastName != "":
		return p.FirstName + " " + p.LastName
	case p.FirstName != "":
		return p.FirstName
	default:
		return p.LastName
	}
}

// ValidationError describes a single per-row validation finding
type ValidationError struct {
	Row      int      `json:"row"`
	Field    string   `json:"field"`
	Message  string   `json:"message"`
	Value    string   `json:"value,omitempty"`
	Severity Severity `json:"severity"`
}

// ColumnMapping is the result of mapping source column names to canonical
// patient fields. Built once per upload; immutable afterwards.
type ColumnMapping struct {
	Mapping    map[string]string  `json:"mapping"`    // source column -> canonical field
	Columns    []string           `json:"columns"`    // source columns in original order
	Confidence map[string]float64 `json:"confidence"` // source column -> [0,1]
	Unmapped   []string           `json:"unmapped"`
	Warnings   []string           `json:"warnings"`
}

// HL7Message represents a generated HL7 v2.x message and its transport outcome
type HL7Message struct {
	TriggerEvent     string     `json:"trigger_event"` // e.g. ADT-A04
	Content          string     `json:"content"`
	MessageControlID string     `json:"message_control_id"`
	SentAt           *time.Time `json:"sent_at,omitempty"`
	AckStatus        string     `json:"ack_status,omitempty"`
	AckText          string     `json:"ack_text,omitempty"`
}

// LabResult represents a lab observation used to build ORU^R01 messages
type LabResult struct {
	PatientMRN     string `json:"patient_mrn"`
	PlacerOrderNum string `json:"placer_order_num"`
	FillerOrderNum string `json:"filler_order_num"`
	TestCode       string `json:"test_code"`
	TestName       string `json:"test_name"`
	ValueType      string `json:"value_type"` // NM, ST, TX
	ResultValue    string `json:"result_value"`
	Units          string `json:"units,omitempty"`
	ReferenceRange string `json:"reference_range,omitempty"`
	ResultStatus   string `json:"result_status,omitempty"` // F=Final, P=Preliminary
	ObservedAt     time.Time `json:"observed_at"`
}

// SessionStatus represents the lifecycle state of an upload session.
// Transitions are monotonic forward; an expired session is never revived.
type SessionStatus string

const (
	SessionPending    SessionStatus = "pending"
	SessionProcessing SessionStatus = "processing"
	SessionCompleted  SessionStatus = "completed"
	SessionFailed     SessionStatus = "failed"
	SessionExpired    SessionStatus = "expired"
)

// UploadSession holds the parsed and validated contents of one upload
type UploadSession struct {
	SessionID        string            `json:"session_id"`
	FileName         string            `json:"file_name"`
	TriggerEvent     string            `json:"trigger_event"`
	TotalRecords     int               `json:"total_records"`
	Records          []*PatientRecord  `json:"records"`
	ValidationErrors []ValidationError `json:"validation_errors"`
	ColumnMapping    *ColumnMapping    `json:"column_mapping"`
	Status           SessionStatus     `json:"status"`
	CreatedAt        time.Time         `json:"created_at"`
	ExpiresAt        time.Time         `json:"expires_at"`
}

// ValidCount returns how many records passed validation
func (s *UploadSession) ValidCount() int {
	n := 0
	for _, r := range s.Records {
		if r.ValidationStatus != ValidationInvalid {
			n++
		}
	}
	return n
}

// RecordOutcome captures the processing result for one record in a job
type RecordOutcome struct {
	Index       int    `json:"index"`
	UUID        string `json:"uuid"`
	PatientName string `json:"patient_name"`
	MRN         string `json:"mrn"`
	Status      string `json:"status"` // success | validation_failed | error
	HL7Message  string `json:"hl7_message,omitempty"`
	ControlID   string `json:"control_id,omitempty"`
	Missing     []string `json:"missing_fields,omitempty"`
	Error       string `json:"error,omitempty"`
	MirthSent   *bool  `json:"mirth_sent,omitempty"`
	MirthAck    string `json:"mirth_ack,omitempty"`
}

// JobStatus represents the lifecycle state of a processing job
type JobStatus string

const (
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// JobProgress is a point-in-time snapshot of a running job, safe to hand to
// concurrent pollers while the worker keeps appending outcomes.
type JobProgress struct {
	JobID            string    `json:"job_id"`
	SessionID        string    `json:"session_id"`
	Status           JobStatus `json:"status"`
	CurrentStep      int       `json:"current_step"`
	TotalSteps       int       `json:"total_steps"`
	StepStatus       string    `json:"step_status"`
	TotalPatients    int       `json:"total_patients"`
	Generated        int       `json:"generated_count"`
	Succeeded        int       `json:"succeeded"`
	Failed           int       `json:"failed"`
	MirthSuccessful  int       `json:"mirth_successful"`
	MirthFailed      int       `json:"mirth_failed"`
	Error            string    `json:"error,omitempty"`
}

// OperationStatus is the terminal classification of a job
type OperationStatus string

const (
	OperationSuccess        OperationStatus = "success"
	OperationPartialSuccess OperationStatus = "partial_success"
	OperationFailed         OperationStatus = "failed"
)

// OperationResult is the terminal summary handed back to callers. Errors is
// capped; counts always reflect the full run.
type OperationResult struct {
	Status           OperationStatus `json:"status"`
	Message          string          `json:"message"`
	RecordsAffected  int             `json:"records_affected"`
	RecordsSucceeded int             `json:"records_succeeded"`
	RecordsFailed    int             `json:"records_failed"`
	MirthSuccessful  int             `json:"mirth_successful"`
	MirthFailed      int             `json:"mirth_failed"`
	Errors           []string        `json:"errors,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
}

// AggregateStats tracks process-wide totals across all jobs
type AggregateStats struct {
	SessionsCreated   int `json:"sessions_created"`
	SessionsExpired   int `json:"sessions_expired"`
	JobsStarted       int `json:"jobs_started"`
	JobsCompleted     int `json:"jobs_completed"`
	JobsFailed        int `json:"jobs_failed"`
	RecordsProcessed  int `json:"records_processed"`
	MessagesGenerated int `json:"messages_generated"`
	SendsSuccessful   int `json:"sends_successful"`
	SendsFailed       int `json:"sends_failed"`
}

package hl7v2

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/savegress/hl7bridge/pkg/models"
)

// Builder constructs HL7 v2.5 messages field by field. System fields are
// always auto-populated and contextual fields get inferred defaults, so the
// caller only supplies critical patient data.
type Builder struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewBuilder creates a new message builder
func NewBuilder(logger *zap.Logger) *Builder {
	return &Builder{
		logger: logger,
		now:    time.Now,
	}
}

// BuildADT builds an ADT message for the given trigger event (accepted in
// "ADT-A04", "ADT^A04" or bare "A04" form). The record's UUID is embedded in
// a ZID segment immediately after PID for downstream correlation.
func (b *Builder) BuildADT(record *models.PatientRecord, triggerEvent string) (*models.HL7Message, error) {
	event, err := normalizeTrigger(triggerEvent)
	if err != nil {
		return nil, err
	}

	now := b.now()
	ts := now.Format("20060102150405")
	controlID := newControlID()

	msh := strings.Join([]string{
		"MSH", "^~\\&",
		SendingApplication, SendingFacility,
		ReceivingApplication, ReceivingFacility,
		ts, "",
		"ADT" + ComponentSeparator + event,
		controlID, ProcessingID, VersionID,
	}, FieldSeparator)

	evn := strings.Join([]string{"EVN", event, ts}, FieldSeparator)

	pid := strings.Join([]string{
		"PID", "1", "",
		record.MRN, "",
		patientName(record), "",
		compactDate(record.DateOfBirth),
		sexCode(record.Gender),
		"", "",
		patientAddress(record),
		"", record.Phone,
	}, FieldSeparator)

	zid := strings.Join([]string{ZSegmentCorrelation, "1", record.UUID}, FieldSeparator)

	class, ok := PatientClassForTrigger[event]
	if !ok {
		class = "O"
	}
	pv1 := strings.Join([]string{"PV1", "1", class}, FieldSeparator)

	content := strings.Join([]string{msh, evn, pid, zid, pv1}, SegmentTerminator)

	b.logger.Debug("built ADT message",
		zap.String("trigger_event", event),
		zap.String("control_id", controlID),
		zap.String("record_uuid", record.UUID))

	return &models.HL7Message{
		TriggerEvent:     "ADT-" + event,
		Content:          content,
		MessageControlID: controlID,
	}, nil
}

// BuildORU builds an ORU^R01 unsolicited observation result message
func (b *Builder) BuildORU(result *models.LabResult) (*models.HL7Message, error) {
	if result.PatientMRN == "" {
		return nil, fmt.Errorf("lab result requires a patient MRN")
	}

	now := b.now()
	ts := now.Format("20060102150405")
	controlID := newControlID()

	observed := result.ObservedAt
	if observed.IsZero() {
		observed = now
	}
	obsTS := observed.Format("20060102150405")

	serviceID := result.TestCode
	if result.TestName != "" {
		serviceID = result.TestCode + ComponentSeparator + result.TestName
	}

	valueType := result.ValueType
	if valueType == "" {
		valueType = "NM"
	}
	status := result.ResultStatus
	if status == "" {
		status = "F"
	}

	msh := strings.Join([]string{
		"MSH", "^~\\&",
		SendingApplication, SendingFacility,
		ReceivingApplication, ReceivingFacility,
		ts, "",
		"ORU" + ComponentSeparator + "R01",
		controlID, ProcessingID, VersionID,
	}, FieldSeparator)

	pid := strings.Join([]string{"PID", "1", "", result.PatientMRN}, FieldSeparator)

	orc := strings.Join([]string{
		"ORC", "RE", result.PlacerOrderNum, result.FillerOrderNum,
	}, FieldSeparator)

	obr := strings.Join([]string{
		"OBR", "1", result.PlacerOrderNum, result.FillerOrderNum,
		serviceID, "", obsTS, obsTS,
	}, FieldSeparator)

	obx := strings.Join([]string{
		"OBX", "1", valueType, serviceID, "",
		result.ResultValue, result.Units, result.ReferenceRange,
		"", "", "", status,
	}, FieldSeparator)

	content := strings.Join([]string{msh, pid, orc, obr, obx}, SegmentTerminator)

	b.logger.Debug("built ORU message",
		zap.String("control_id", controlID),
		zap.String("patient_mrn", result.PatientMRN))

	return &models.HL7Message{
		TriggerEvent:     "ORU-R01",
		Content:          content,
		MessageControlID: controlID,
	}, nil
}

// newControlID generates a message control id. Uniqueness per call is a
// correctness requirement, so it is derived from a fresh UUID rather than a
// timestamp.
func newControlID() string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	return strings.ToUpper(id[:20])
}

// normalizeTrigger extracts the bare event code from "ADT-A04", "ADT^A04",
// "ADT A04" or "A04".
func normalizeTrigger(trigger string) (string, error) {
	t := strings.ToUpper(strings.TrimSpace(trigger))
	for _, sep := range []string{"-", "^", " "} {
		if idx := strings.LastIndex(t, sep); idx >= 0 {
			t = t[idx+1:]
		}
	}
	if len(t) != 3 || t[0] != 'A' {
		return "", fmt.Errorf("unsupported trigger event: %q", trigger)
	}
	return t, nil
}

// patientName yields PID-5 as family^given. A half-empty name would be
// structurally non-empty yet useless downstream, so it stays blank and
// tier validation reports PID-5 as missing.
func patientName(record *models.PatientRecord) string {
	if record.LastName == "" || record.FirstName == "" {
		return ""
	}
	return record.LastName + ComponentSeparator + record.FirstName
}

// compactDate converts YYYY-MM-DD to the HL7 YYYYMMDD form
func compactDate(iso string) string {
	return strings.ReplaceAll(iso, "-", "")
}

// sexCode maps a normalized gender to the PID-8 administrative sex code
func sexCode(gender string) string {
	switch {
	case strings.HasPrefix(strings.ToUpper(gender), "M"):
		return "M"
	case strings.HasPrefix(strings.ToUpper(gender), "F"):
		return "F"
	case gender == "":
		return "U"
	default:
		return "U"
	}
}

func patientAddress(record *models.PatientRecord) string {
	if record.Address == "" && record.City == "" && record.State == "" && record.Zip == "" {
		return ""
	}
	return strings.Join([]string{
		record.Address, "", record.City, record.State, record.Zip,
	}, ComponentSeparator)
}

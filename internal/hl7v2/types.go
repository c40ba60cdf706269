package hl7v2

// Default HL7 v2.x delimiters
const (
	FieldSeparator     = "|"
	ComponentSeparator = "^"
	RepetitionSep      = "~"
	EscapeCharacter    = "\\"
	SubcomponentSep    = "&"
	SegmentTerminator  = "\r"
)

// Sending system identifiers stamped into every MSH segment
const (
	SendingApplication   = "HL7BRIDGE"
	SendingFacility      = "SAVEGRESS"
	ReceivingApplication = "OpenEMR"
	ReceivingFacility    = "OpenEMR"
	ProcessingID         = "P"
	VersionID            = "2.5"
)

// ZSegmentCorrelation is the custom segment carrying the record UUID so a
// downstream ACK or audit can be tied back to the exact source row.
const ZSegmentCorrelation = "ZID"

// FieldTier classifies HL7 fields by who is responsible for them
type FieldTier string

const (
	// TierSystem fields are auto-populated and never validated
	TierSystem FieldTier = "system"
	// TierContextual fields get smart defaults and are not validated
	TierContextual FieldTier = "contextual"
	// TierCritical fields must be non-empty or validation fails
	TierCritical FieldTier = "critical"
)

// SystemFields are auto-populated by the builder: processing id, version,
// event timestamp.
var SystemFields = map[string][]int{
	"MSH": {11, 12},
	"EVN": {2},
}

// ContextualFields get inferred defaults (patient class, order control,
// result statuses).
var ContextualFields = map[string][]int{
	"PV1": {2},
	"ORC": {1},
	"OBR": {25},
	"OBX": {11},
}

// CriticalFields must be present in any segment that appears in a message.
// Only segments actually present are checked.
var CriticalFields = map[string][]int{
	"MSH": {9},
	"PID": {3, 5, 7, 8},
	"ORC": {2, 3},
	"OBR": {1, 2, 3, 4, 7},
	"OBX": {2, 3, 5},
}

// PatientClassForTrigger maps ADT trigger events to PV1-2 patient class.
// Inpatient events carry I; everything else defaults to outpatient.
var PatientClassForTrigger = map[string]string{
	"A01": "I", "A02": "I", "A03": "I",
	"A04": "O", "A05": "P",
	"A08": "I", "A11": "I", "A13": "I",
}

// SupportedTriggerEvents lists the ADT trigger events the builder accepts,
// with human-readable descriptions for the reference endpoint.
var SupportedTriggerEvents = map[string]string{
	"ADT-A01": "Admit/Register Patient (Inpatient)",
	"ADT-A02": "Transfer Patient (Inpatient)",
	"ADT-A03": "Discharge Patient (Inpatient)",
	"ADT-A04": "Register Outpatient",
	"ADT-A05": "Pre-Admit Patient",
	"ADT-A08": "Update Patient Information",
	"ADT-A11": "Cancel Admit",
	"ADT-A13": "Cancel Discharge",
}

// Segment is one parsed HL7 segment. Fields holds the split field values;
// Field(n) resolves HL7 numbering including the MSH-1 quirk (the field
// separator itself counts as MSH-1).
type Segment struct {
	Name   string
	Fields []string
}

// Field returns the value of HL7 field n for this segment, or "" when the
// index is beyond the populated fields.
func (s *Segment) Field(n int) string {
	if n < 1 {
		return ""
	}
	idx := n
	if s.Name == "MSH" {
		if n == 1 {
			return FieldSeparator
		}
		idx = n - 1
	}
	if idx >= len(s.Fields) {
		return ""
	}
	return s.Fields[idx]
}

// Message is a structurally parsed HL7 v2.x message
type Message struct {
	Segments []*Segment
}

// Segment returns the first segment with the given name, or nil
func (m *Message) Segment(name string) *Segment {
	for _, s := range m.Segments {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// ControlID returns MSH-10 of the parsed message
func (m *Message) ControlID() string {
	if msh := m.Segment("MSH"); msh != nil {
		return msh.Field(10)
	}
	return ""
}

// CorrelationUUID returns the record UUID carried in the ZID segment, or ""
func (m *Message) CorrelationUUID() string {
	if zid := m.Segment(ZSegmentCorrelation); zid != nil {
		return zid.Field(2)
	}
	return ""
}

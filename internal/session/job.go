package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/savegress/hl7bridge/pkg/models"
)

// Job step numbers recorded in progress snapshots
const (
	stepStarting   = 1
	stepGenerating = 2
	stepSending    = 3
	stepFinalizing = 4
	totalSteps     = 4
)

// job is the mutable state of one confirmed processing run. The worker
// goroutine is the only writer; progress pollers take read snapshots under
// the lock while the run continues.
type job struct {
	mu sync.Mutex

	id             string
	sessionID      string
	triggerEvent   string
	sendDownstream bool

	status      models.JobStatus
	currentStep int
	stepStatus  string

	totalPatients   int
	generated       int
	succeeded       int
	failed          int
	mirthSuccessful int
	mirthFailed     int

	outcomes    []models.RecordOutcome
	errText     string
	result      *models.OperationResult
	completedAt time.Time
}

func (j *job) setStep(step int, status string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.currentStep = step
	j.stepStatus = status
}

func (j *job) addOutcome(o models.RecordOutcome) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.outcomes = append(j.outcomes, o)
	if o.Status == "success" {
		j.generated++
		j.succeeded++
	} else {
		j.failed++
	}
}

func (j *job) recordSend(index int, res sendOutcome) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := range j.outcomes {
		if j.outcomes[i].Index == index {
			sent := res.accepted
			j.outcomes[i].MirthSent = &sent
			j.outcomes[i].MirthAck = res.detail
			break
		}
	}
	if res.accepted {
		j.mirthSuccessful++
	} else {
		j.mirthFailed++
	}
}

type sendOutcome struct {
	accepted bool
	detail   string
}

// snapshot returns a point-in-time copy safe to hand to concurrent readers
func (j *job) snapshot() *models.JobProgress {
	j.mu.Lock()
	defer j.mu.Unlock()
	return &models.JobProgress{
		JobID:           j.id,
		SessionID:       j.sessionID,
		Status:          j.status,
		CurrentStep:     j.currentStep,
		TotalSteps:      totalSteps,
		StepStatus:      j.stepStatus,
		TotalPatients:   j.totalPatients,
		Generated:       j.generated,
		Succeeded:       j.succeeded,
		Failed:          j.failed,
		MirthSuccessful: j.mirthSuccessful,
		MirthFailed:     j.mirthFailed,
		Error:           j.errText,
	}
}

func (j *job) results() ([]models.RecordOutcome, *models.OperationResult) {
	j.mu.Lock()
	defer j.mu.Unlock()
	outcomes := make([]models.RecordOutcome, len(j.outcomes))
	copy(outcomes, j.outcomes)
	var result *models.OperationResult
	if j.result != nil {
		r := *j.result
		result = &r
	}
	return outcomes, result
}

// run executes the job to completion. Records are processed strictly in
// selection order with a fixed delay between each, then sends happen in a
// second pass over the successful generations. Per-record and per-send
// failures are recorded and never abort the run; only an unhandled fault
// marks the job failed.
func (m *Manager) run(ctx context.Context, j *job, records []*models.PatientRecord) {
	defer func() {
		if r := recover(); r != nil {
			m.failJob(j, fmt.Sprintf("unhandled fault: %v", r))
		}
	}()

	j.setStep(stepStarting, "Starting processing")

	j.setStep(stepGenerating, fmt.Sprintf("Generating HL7 messages for %d patients", len(records)))
	for i, rec := range records {
		j.addOutcome(m.generateOne(rec, j.triggerEvent))
		if i < len(records)-1 {
			m.pacer.Wait(ctx, m.messageDelay)
		}
	}

	if j.sendDownstream {
		j.setStep(stepSending, "Transmitting messages")
		m.transmit(ctx, j)
	} else {
		j.setStep(stepSending, "Transmission skipped")
	}

	j.setStep(stepFinalizing, "Finalizing")
	m.completeJob(j)
}

// generateOne builds and tier-validates the message for a single record
func (m *Manager) generateOne(rec *models.PatientRecord, trigger string) models.RecordOutcome {
	outcome := models.RecordOutcome{
		Index:       rec.Index,
		UUID:        rec.UUID,
		PatientName: rec.FullName(),
		MRN:         rec.MRN,
	}

	msg, err := m.builder.BuildADT(rec, trigger)
	if err != nil {
		outcome.Status = "error"
		outcome.Error = err.Error()
		return outcome
	}

	tier := m.tier.Validate(msg.Content)
	if !tier.IsValid {
		outcome.Status = "validation_failed"
		outcome.Missing = tier.MissingFields
		outcome.Error = tier.Message
		outcome.HL7Message = msg.Content
		outcome.ControlID = msg.MessageControlID
		return outcome
	}

	outcome.Status = "success"
	outcome.HL7Message = msg.Content
	outcome.ControlID = msg.MessageControlID
	return outcome
}

// transmit sends every successfully generated message, pacing between sends
func (m *Manager) transmit(ctx context.Context, j *job) {
	j.mu.Lock()
	pending := make([]models.RecordOutcome, 0, len(j.outcomes))
	for _, o := range j.outcomes {
		if o.Status == "success" {
			pending = append(pending, o)
		}
	}
	j.mu.Unlock()

	for i, o := range pending {
		res := m.sender.Send(ctx, o.HL7Message)
		if res.Accepted {
			j.recordSend(o.Index, sendOutcome{accepted: true, detail: res.AckText})
		} else {
			detail := res.Reason
			if res.AckText != "" {
				detail = res.AckText
			}
			j.recordSend(o.Index, sendOutcome{accepted: false, detail: detail})
			m.logger.Warn("downstream send failed",
				zap.String("job_id", j.id),
				zap.Int("record_index", o.Index),
				zap.String("failure", string(res.Failure)),
				zap.String("reason", res.Reason))
		}
		if i < len(pending)-1 {
			m.pacer.Wait(ctx, m.sendDelay)
		}
	}
}

// completeJob folds the run into a terminal result and the aggregate stats
func (m *Manager) completeJob(j *job) {
	now := m.now()

	j.mu.Lock()
	j.status = models.JobCompleted
	j.completedAt = now
	j.currentStep = stepFinalizing
	j.stepStatus = "Completed"

	status := models.OperationSuccess
	switch {
	case j.succeeded == 0 && j.failed > 0:
		status = models.OperationFailed
	case j.failed > 0:
		status = models.OperationPartialSuccess
	}

	var errs []string
	for _, o := range j.outcomes {
		if o.Error != "" && len(errs) < m.maxErrors {
			errs = append(errs, fmt.Sprintf("row %d (%s): %s", o.Index, o.PatientName, o.Error))
		}
	}

	completed := j.completedAt
	j.result = &models.OperationResult{
		Status:           status,
		Message:          fmt.Sprintf("Processed %d patients: %d succeeded, %d failed", j.totalPatients, j.succeeded, j.failed),
		RecordsAffected:  j.totalPatients,
		RecordsSucceeded: j.succeeded,
		RecordsFailed:    j.failed,
		MirthSuccessful:  j.mirthSuccessful,
		MirthFailed:      j.mirthFailed,
		Errors:           errs,
		CompletedAt:      &completed,
	}

	generated := j.generated
	processed := j.totalPatients
	succeeded := j.succeeded
	failed := j.failed
	sendsOK := j.mirthSuccessful
	sendsFail := j.mirthFailed
	j.mu.Unlock()

	m.mu.Lock()
	m.stats.JobsCompleted++
	m.stats.RecordsProcessed += processed
	m.stats.MessagesGenerated += generated
	m.stats.SendsSuccessful += sendsOK
	m.stats.SendsFailed += sendsFail
	if sess, ok := m.sessions[j.sessionID]; ok && sess.Status == models.SessionProcessing {
		sess.Status = models.SessionCompleted
	}
	m.mu.Unlock()

	m.logger.Info("job completed",
		zap.String("job_id", j.id),
		zap.String("status", string(status)),
		zap.Int("succeeded", succeeded),
		zap.Int("failed", failed))
}

// failJob marks the job failed after an unhandled fault
func (m *Manager) failJob(j *job, reason string) {
	now := m.now()

	j.mu.Lock()
	j.status = models.JobFailed
	j.errText = reason
	j.stepStatus = "Failed"
	j.completedAt = now
	completed := now
	j.result = &models.OperationResult{
		Status:           models.OperationFailed,
		Message:          reason,
		RecordsAffected:  j.totalPatients,
		RecordsSucceeded: j.succeeded,
		RecordsFailed:    j.failed,
		MirthSuccessful:  j.mirthSuccessful,
		MirthFailed:      j.mirthFailed,
		Errors:           []string{reason},
		CompletedAt:      &completed,
	}
	j.mu.Unlock()

	m.mu.Lock()
	m.stats.JobsFailed++
	if sess, ok := m.sessions[j.sessionID]; ok && sess.Status == models.SessionProcessing {
		sess.Status = models.SessionFailed
	}
	m.mu.Unlock()

	m.logger.Error("job failed", zap.String("job_id", j.id), zap.String("reason", reason))
}

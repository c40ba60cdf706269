package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/savegress/hl7bridge/internal/config"
	"github.com/savegress/hl7bridge/internal/hl7v2"
	"github.com/savegress/hl7bridge/internal/ingest"
	"github.com/savegress/hl7bridge/internal/mapping"
	"github.com/savegress/hl7bridge/internal/validation"
	"github.com/savegress/hl7bridge/pkg/models"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
	ErrJobNotFound     = errors.New("job not found")
	ErrNoRecords       = errors.New("no records selected")
)

// Manager owns the upload sessions and processing jobs. Sessions and jobs
// are keyed independently: sweeping an expired session never cancels a job
// it already spawned.
type Manager struct {
	mapper    *mapping.Mapper
	validator *validation.Validator
	builder   *hl7v2.Builder
	tier      *hl7v2.TierValidator
	sender    hl7v2.Sender
	pacer     Pacer
	logger    *zap.Logger

	sessionTTL   time.Duration
	previewSize  int
	maxErrors    int
	messageDelay time.Duration
	sendDelay    time.Duration
	sweepEvery   time.Duration

	mu       sync.RWMutex
	sessions map[string]*models.UploadSession
	jobs     map[string]*job
	stats    models.AggregateStats

	now func() time.Time
}

// NewManager creates a session manager wired to the given downstream sender
func NewManager(cfg *config.Config, sender hl7v2.Sender, logger *zap.Logger) *Manager {
	return &Manager{
		mapper:       mapping.NewMapper(&cfg.Mapping, logger),
		validator:    validation.NewValidator(logger),
		builder:      hl7v2.NewBuilder(logger),
		tier:         hl7v2.NewTierValidator(),
		sender:       sender,
		pacer:        NewPacer(),
		logger:       logger,
		sessionTTL:   cfg.Upload.SessionTTL,
		previewSize:  cfg.Upload.PreviewSize,
		maxErrors:    cfg.Upload.MaxErrors,
		messageDelay: cfg.Pacing.MessageDelay,
		sendDelay:    cfg.Pacing.SendDelay,
		sweepEvery:   cfg.Upload.SweepInterval,
		sessions:     make(map[string]*models.UploadSession),
		jobs:         make(map[string]*job),
		now:          time.Now,
	}
}

// SetPacer replaces the wall-clock pacer. Intended for tests.
func (m *Manager) SetPacer(p Pacer) {
	m.pacer = p
}

// UploadResult is what an upload call returns: the stored session plus a
// bounded preview slice for display.
type UploadResult struct {
	Session *models.UploadSession
	Preview []*models.PatientRecord
}

// Upload parses a spreadsheet, maps its columns, validates every row and
// stores a pending session. Rows that fail validation stay in the session;
// partial data is an expected outcome, not an error. An empty mappingMode
// uses the configured default.
func (m *Manager) Upload(ctx context.Context, fileName string, data []byte, triggerEvent string, mappingMode config.MappingMode) (*UploadResult, error) {
	table, err := ingest.ReadFile(fileName, data)
	if err != nil {
		return nil, err
	}

	var colMapping *models.ColumnMapping
	if mappingMode == "" {
		colMapping = m.mapper.Map(ctx, table.Headers)
	} else {
		colMapping = m.mapper.MapWithMode(ctx, table.Headers, mappingMode)
	}
	records := ingest.BuildRecords(table, colMapping)

	var validationErrors []models.ValidationError
	for _, rec := range records {
		validationErrors = append(validationErrors, m.validator.Validate(rec)...)
	}

	now := m.now()
	sess := &models.UploadSession{
		SessionID:        uuid.New().String(),
		FileName:         fileName,
		TriggerEvent:     triggerEvent,
		TotalRecords:     len(records),
		Records:          records,
		ValidationErrors: validationErrors,
		ColumnMapping:    colMapping,
		Status:           models.SessionPending,
		CreatedAt:        now,
		ExpiresAt:        now.Add(m.sessionTTL),
	}

	m.mu.Lock()
	m.sessions[sess.SessionID] = sess
	m.stats.SessionsCreated++
	snap := *sess
	m.mu.Unlock()

	preview := records
	if len(preview) > m.previewSize {
		preview = preview[:m.previewSize]
	}

	m.logger.Info("upload session created",
		zap.String("session_id", sess.SessionID),
		zap.String("file_name", fileName),
		zap.Int("total_records", len(records)),
		zap.Int("valid_records", sess.ValidCount()))

	return &UploadResult{Session: &snap, Preview: preview}, nil
}

// ConfirmResult identifies the job spawned by a confirm call
type ConfirmResult struct {
	JobID         string
	SessionID     string
	TotalSelected int
}

// Confirm starts one processing job over the selected records. An empty
// selection means every record in the session. Confirming the same session
// again is allowed and spawns a new, independent job over the same stored
// records; callers that must not double-send are expected to confirm once.
func (m *Manager) Confirm(ctx context.Context, sessionID string, selected []int, sendDownstream bool) (*ConfirmResult, error) {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	if m.now().After(sess.ExpiresAt) {
		sess.Status = models.SessionExpired
		delete(m.sessions, sessionID)
		m.stats.SessionsExpired++
		m.mu.Unlock()
		return nil, ErrSessionExpired
	}

	records, err := selectRecords(sess.Records, selected)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}

	// Status moves forward only: re-confirming a session that already
	// finished spawns a fresh job without reviving the terminal status.
	if sess.Status == models.SessionPending {
		sess.Status = models.SessionProcessing
	}

	j := &job{
		id:             uuid.New().String(),
		sessionID:      sessionID,
		triggerEvent:   sess.TriggerEvent,
		sendDownstream: sendDownstream,
		status:         models.JobProcessing,
		totalPatients:  len(records),
	}
	m.jobs[j.id] = j
	m.stats.JobsStarted++
	m.mu.Unlock()

	m.logger.Info("processing job started",
		zap.String("job_id", j.id),
		zap.String("session_id", sessionID),
		zap.Int("selected", len(records)),
		zap.Bool("send_downstream", sendDownstream))

	go m.run(ctx, j, records)

	return &ConfirmResult{
		JobID:         j.id,
		SessionID:     sessionID,
		TotalSelected: len(records),
	}, nil
}

// selectRecords resolves a selection of record indexes against the session.
// Indexes out of range are an error; an empty selection selects everything.
func selectRecords(records []*models.PatientRecord, selected []int) ([]*models.PatientRecord, error) {
	if len(selected) == 0 {
		if len(records) == 0 {
			return nil, ErrNoRecords
		}
		return records, nil
	}

	byIndex := make(map[int]*models.PatientRecord, len(records))
	for _, r := range records {
		byIndex[r.Index] = r
	}

	out := make([]*models.PatientRecord, 0, len(selected))
	for _, idx := range selected {
		rec, ok := byIndex[idx]
		if !ok {
			return nil, fmt.Errorf("selected index %d not in session", idx)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Session returns a point-in-time copy of a stored session. The worker
// mutates session status under the lock while jobs run, so callers get a
// snapshot they can read and encode freely. Records, validation errors and
// the column mapping are immutable after upload and are shared.
func (m *Manager) Session(sessionID string) (*models.UploadSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	snap := *sess
	return &snap, nil
}

// Progress returns a point-in-time snapshot of a job
func (m *Manager) Progress(jobID string) (*models.JobProgress, error) {
	m.mu.RLock()
	j, ok := m.jobs[jobID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrJobNotFound
	}
	return j.snapshot(), nil
}

// Results returns the per-record outcomes and, once the job is terminal,
// the operation result. Before completion the result is nil.
func (m *Manager) Results(jobID string) ([]models.RecordOutcome, *models.OperationResult, error) {
	m.mu.RLock()
	j, ok := m.jobs[jobID]
	m.mu.RUnlock()
	if !ok {
		return nil, nil, ErrJobNotFound
	}
	outcomes, result := j.results()
	return outcomes, result, nil
}

// Stats returns a copy of the process-wide aggregate statistics
func (m *Manager) Stats() models.AggregateStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// ActiveSessions returns how many sessions are currently stored
func (m *Manager) ActiveSessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Start runs the expiry sweeper until the context is cancelled
func (m *Manager) Start(ctx context.Context) {
	ticker := time.NewTicker(m.sweepEvery)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sweep()
			}
		}
	}()
}

// Sweep removes every session past its expiry. Jobs spawned from a swept
// session keep running; they are keyed separately.
func (m *Manager) Sweep() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, sess := range m.sessions {
		if now.After(sess.ExpiresAt) {
			sess.Status = models.SessionExpired
			delete(m.sessions, id)
			m.stats.SessionsExpired++
			removed++
		}
	}

	if removed > 0 {
		m.logger.Info("expired sessions swept", zap.Int("removed", removed))
	}
	return removed
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/savegress/hl7bridge/internal/config"
	"github.com/savegress/hl7bridge/internal/hl7v2"
	"github.com/savegress/hl7bridge/internal/session"
	"github.com/savegress/hl7bridge/pkg/models"
)

// maxUploadBytes caps the accepted spreadsheet size
const maxUploadBytes = 20 << 20

// Downstream is the MLLP side of the API: sending ad hoc messages and
// probing reachability for the detailed health endpoint.
type Downstream interface {
	hl7v2.Sender
	Ping(ctx context.Context) error
}

// Handlers contains all HTTP handlers
type Handlers struct {
	config     *config.Config
	manager    *session.Manager
	downstream Downstream
	tier       *hl7v2.TierValidator
	logger     *zap.Logger
}

// NewHandlers creates new handlers
func NewHandlers(cfg *config.Config, manager *session.Manager, downstream Downstream, logger *zap.Logger) *Handlers {
	return &Handlers{
		config:     cfg,
		manager:    manager,
		downstream: downstream,
		tier:       hl7v2.NewTierValidator(),
		logger:     logger,
	}
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "hl7bridge",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// DetailedHealth reports service health plus downstream MLLP reachability
func (h *Handlers) DetailedHealth(w http.ResponseWriter, r *http.Request) {
	downstream := "reachable"
	if err := h.downstream.Ping(r.Context()); err != nil {
		downstream = "unreachable: " + err.Error()
	}

	respond(w, http.StatusOK, map[string]interface{}{
		"status":          "healthy",
		"service":         "hl7bridge",
		"time":            time.Now().UTC().Format(time.RFC3339),
		"mllp_downstream": downstream,
		"mllp_address":    fmt.Sprintf("%s:%d", h.config.MLLP.Host, h.config.MLLP.Port),
		"active_sessions": h.manager.ActiveSessions(),
	})
}

// uploadResponse is the payload returned after a successful upload
type uploadResponse struct {
	SessionID        string                   `json:"session_id"`
	FileName         string                   `json:"file_name"`
	TriggerEvent     string                   `json:"trigger_event"`
	TotalRecords     int                      `json:"total_records"`
	ValidRecords     int                      `json:"valid_records"`
	InvalidRecords   int                      `json:"invalid_records"`
	Patients         []*models.PatientRecord  `json:"patients"`
	Preview          []*models.PatientRecord  `json:"preview"`
	ValidationErrors []models.ValidationError `json:"validation_errors"`
	ColumnMapping    *models.ColumnMapping    `json:"column_mapping"`
	ExpiresAt        time.Time                `json:"expires_at"`
}

// Upload accepts a multipart spreadsheet upload and creates a pending session
func (h *Handlers) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Missing file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Could not read uploaded file")
		return
	}
	if len(data) > maxUploadBytes {
		respondError(w, http.StatusRequestEntityTooLarge, "File too large")
		return
	}

	trigger := r.FormValue("trigger_event")
	if trigger == "" {
		trigger = "ADT-A04"
	}

	mode := config.MappingMode(r.FormValue("mapping_mode"))
	switch mode {
	case "", config.MappingModeFuzzy, config.MappingModeClassifier:
	default:
		respondError(w, http.StatusBadRequest, "Unknown mapping_mode")
		return
	}

	result, err := h.manager.Upload(r.Context(), header.Filename, data, trigger, mode)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess := result.Session
	valid := sess.ValidCount()
	respond(w, http.StatusOK, &uploadResponse{
		SessionID:        sess.SessionID,
		FileName:         sess.FileName,
		TriggerEvent:     sess.TriggerEvent,
		TotalRecords:     sess.TotalRecords,
		ValidRecords:     valid,
		InvalidRecords:   sess.TotalRecords - valid,
		Patients:         sess.Records,
		Preview:          result.Preview,
		ValidationErrors: sess.ValidationErrors,
		ColumnMapping:    sess.ColumnMapping,
		ExpiresAt:        sess.ExpiresAt,
	})
}

// confirmRequest starts processing for a previously uploaded session
type confirmRequest struct {
	SessionID       string `json:"session_id"`
	SelectedIndices []int  `json:"selected_indices"`
	SendToMirth     bool   `json:"send_to_mirth"`
}

// Confirm spawns a processing job over the selected records of a session
func (h *Handlers) Confirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.SessionID == "" {
		respondError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	// The job must outlive this request
	result, err := h.manager.Confirm(context.Background(), req.SessionID, req.SelectedIndices, req.SendToMirth)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrSessionNotFound):
			respondError(w, http.StatusNotFound, "Session not found")
		case errors.Is(err, session.ErrSessionExpired):
			respondError(w, http.StatusGone, "Session expired")
		default:
			respondError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	respond(w, http.StatusAccepted, map[string]interface{}{
		"job_id":         result.JobID,
		"session_id":     result.SessionID,
		"status":         "processing",
		"total_selected": result.TotalSelected,
		"stream_url":     "/api/v1/jobs/" + result.JobID + "/stream",
	})
}

// JobProgress returns a point-in-time progress snapshot
func (h *Handlers) JobProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := h.manager.Progress(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "Job not found")
		return
	}
	respond(w, http.StatusOK, progress)
}

// JobStream streams progress snapshots as server-sent events until the job
// leaves the processing state.
func (h *Handlers) JobStream(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	if _, err := h.manager.Progress(jobID); err != nil {
		respondError(w, http.StatusNotFound, "Job not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	interval := h.config.Pacing.PollInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		progress, err := h.manager.Progress(jobID)
		if err != nil {
			return
		}

		if err := writeEvent(w, progress); err != nil {
			return
		}
		flusher.Flush()

		if progress.Status != models.JobProcessing {
			if _, result, err := h.manager.Results(jobID); err == nil && result != nil {
				writeEvent(w, result)
				flusher.Flush()
			}
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func writeEvent(w io.Writer, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

// JobResults returns the full per-record outcome list and terminal summary
func (h *Handlers) JobResults(w http.ResponseWriter, r *http.Request) {
	outcomes, result, err := h.manager.Results(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "Job not found")
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{
		"records": outcomes,
		"result":  result,
	})
}

// GetSession returns a stored upload session
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.manager.Session(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "Session not found")
		return
	}
	respond(w, http.StatusOK, sess)
}

// validateRequest carries a raw HL7 message for ad hoc validation
type validateRequest struct {
	Message string `json:"message"`
}

// ValidateMessage runs critical-field validation over a raw HL7 message
func (h *Handlers) ValidateMessage(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Message == "" {
		respondError(w, http.StatusBadRequest, "message is required")
		return
	}
	respond(w, http.StatusOK, h.tier.Validate(req.Message))
}

// SendMessage transmits a raw HL7 message to the downstream listener
func (h *Handlers) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Message == "" {
		respondError(w, http.StatusBadRequest, "message is required")
		return
	}

	result := h.downstream.Send(r.Context(), req.Message)
	status := http.StatusOK
	if !result.Accepted {
		status = http.StatusBadGateway
	}
	respond(w, status, result)
}

// TriggerEvents lists the supported ADT trigger events
func (h *Handlers) TriggerEvents(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]interface{}{
		"trigger_events": hl7v2.SupportedTriggerEvents,
	})
}

// Stats returns process-wide aggregate statistics
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, h.manager.Stats())
}

func respond(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respond(w, status, map[string]string{"error": message})
}

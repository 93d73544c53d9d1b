package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/JonMunkholm/snapimport/internal/core"
	"github.com/JonMunkholm/snapimport/internal/logging"
	"github.com/JonMunkholm/snapimport/internal/progress"
)

var errBadID = errors.New("invalid import id")

// JobResponse is the status view of a job. Storage credentials are never
// included.
type JobResponse struct {
	ID           uuid.UUID         `json:"id"`
	State        core.State        `json:"state"`
	StartedAt    *time.Time        `json:"startedAt,omitempty"`
	ErrorMessage string            `json:"errorMessage,omitempty"`
	Error        *core.UserMessage `json:"error,omitempty"`
	Config       core.ImportConfig `json:"config"`
	Files        []core.FileRef    `json:"files"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

// FileResponse is the status view of a FileUnit.
type FileResponse struct {
	ID           uuid.UUID         `json:"id"`
	FileName     string            `json:"fileName"`
	State        core.State        `json:"state"`
	Progress     progress.Counts   `json:"progress"`
	Failures     []string          `json:"failures,omitempty"`
	ErrorMessage string            `json:"errorMessage,omitempty"`
	Error        *core.UserMessage `json:"error,omitempty"`
	HeartbeatAt  *time.Time        `json:"heartbeatAt,omitempty"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

// userError maps the message of a failed job or file. Messages on
// successful records are informational and stay unmapped.
func userError(state core.State, message string) *core.UserMessage {
	if state != core.StateFailed || message == "" {
		return nil
	}
	m := core.MapMessage(message)
	return &m
}

func toJobResponse(job *core.Job) JobResponse {
	files := job.Files
	if files == nil {
		files = []core.FileRef{}
	}
	return JobResponse{
		ID:           job.ID,
		State:        job.State,
		StartedAt:    job.StartedAt,
		ErrorMessage: job.ErrorMessage,
		Error:        userError(job.State, job.ErrorMessage),
		Config:       job.Config.Redacted(),
		Files:        files,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
	}
}

func toFileResponse(f core.FileUnit) FileResponse {
	return FileResponse{
		ID:           f.ID,
		FileName:     f.FileName,
		State:        f.State,
		Progress:     f.Progress,
		Failures:     f.Failures,
		ErrorMessage: f.ErrorMessage,
		Error:        userError(f.State, f.ErrorMessage),
		HeartbeatAt:  f.HeartbeatAt,
		UpdatedAt:    f.UpdatedAt,
	}
}

// handleSchedule accepts a configuration bag and schedules a job.
func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodySize)

	var bag map[string]any
	if err := json.NewDecoder(r.Body).Decode(&bag); err != nil {
		respondError(w, r, fmt.Errorf("%w: %w", core.ErrInvalidConfig, err), http.StatusBadRequest)
		return
	}

	id, err := s.imports.Schedule(r.Context(), bag)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}

	logging.WithFields(r.Context(), "job_id", id).Info("import accepted")
	w.Header().Set("Location", "/api/imports/"+id.String())
	writeJSON(w, r, http.StatusAccepted, map[string]string{"id": id.String()})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, fmt.Errorf("%w: %w", errBadID, err), http.StatusBadRequest)
		return
	}

	job, err := s.imports.GetJob(r.Context(), id)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, r, http.StatusOK, toJobResponse(job))
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, fmt.Errorf("%w: %w", errBadID, err), http.StatusBadRequest)
		return
	}

	files, err := s.imports.ListFiles(r.Context(), id)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}

	out := make([]FileResponse, len(files))
	for i, f := range files {
		out[i] = toFileResponse(f)
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"files": out})
}

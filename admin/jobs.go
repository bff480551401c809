package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	sharesync "github.com/steveoberholzer/ShareSync"
	"github.com/steveoberholzer/ShareSync/job"
	"github.com/steveoberholzer/ShareSync/message"
	"github.com/steveoberholzer/ShareSync/producer"
)

// createJobRequest is the JSON body for POST /api/jobs.
type createJobRequest struct {
	Kind        message.Kind `json:"kind"`
	FileName    string       `json:"file_name"`
	RequestedBy string       `json:"requested_by"`
	Environment string       `json:"environment"`
	SiteURL     string       `json:"site_url"`
	Priority    job.Priority `json:"priority"`
	Records     []jobRecord  `json:"records"`
}

// jobRecord mirrors producer.Record with JSON tags. Exactly one payload
// field must be set per record.
type jobRecord struct {
	FolderCreate    *message.FolderCreate    `json:"folder_create,omitempty"`
	PermissionSync  *message.PermissionSync  `json:"permission_sync,omitempty"`
	PermissionReset *message.PermissionReset `json:"permission_reset,omitempty"`
	FolderValidate  *message.FolderValidate  `json:"folder_validate,omitempty"`
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	opts := job.ListOpts{
		Status: job.Status(r.URL.Query().Get("status")),
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", 50),
	}
	jobs, err := s.store.ListJobs(r.Context(), opts)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	if len(req.Records) == 0 {
		s.respondError(w, http.StatusBadRequest, errors.New("job needs at least one record"))
		return
	}
	records := make([]producer.Record, len(req.Records))
	for i, rec := range req.Records {
		records[i] = producer.Record{
			FolderCreate:    rec.FolderCreate,
			PermissionSync:  rec.PermissionSync,
			PermissionReset: rec.PermissionReset,
			FolderValidate:  rec.FolderValidate,
		}
	}
	j, err := s.producer.CreateJob(r.Context(), producer.CreateRequest{
		Kind:        req.Kind,
		FileName:    req.FileName,
		RequestedBy: req.RequestedBy,
		Environment: req.Environment,
		SiteURL:     req.SiteURL,
		Priority:    req.Priority,
		Records:     records,
	})
	if err != nil {
		if errors.Is(err, sharesync.ErrUnknownKind) || errors.Is(err, sharesync.ErrMalformedEnvelope) {
			s.respondError(w, http.StatusBadRequest, err)
			return
		}
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, j)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := s.pathUUID(w, r, "jobID")
	if !ok {
		return
	}
	j, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, j)
}

func (s *Server) handleListJobItems(w http.ResponseWriter, r *http.Request) {
	jobID, ok := s.pathUUID(w, r, "jobID")
	if !ok {
		return
	}
	if _, err := s.store.GetJob(r.Context(), jobID); err != nil {
		s.respondStoreError(w, err)
		return
	}
	items, err := s.store.ListItems(r.Context(), jobID, job.ItemListOpts{
		Status: job.ItemStatus(r.URL.Query().Get("status")),
	})
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleListJobLogs(w http.ResponseWriter, r *http.Request) {
	jobID, ok := s.pathUUID(w, r, "jobID")
	if !ok {
		return
	}
	entries, err := s.store.ListLogs(r.Context(), jobID, queryInt(r, "limit", 200))
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"logs": entries})
}

func (s *Server) handlePauseJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := s.pathUUID(w, r, "jobID")
	if !ok {
		return
	}
	j, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	if j.Status.Terminal() {
		s.respondError(w, http.StatusConflict, fmt.Errorf("job %s is %s and cannot be paused", jobID, j.Status))
		return
	}
	if err := s.store.SetJobStatus(r.Context(), jobID, job.StatusPaused, ""); err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.logger.Info("job paused", "job_id", jobID.String())
	s.respondJSON(w, http.StatusOK, map[string]string{"status": string(job.StatusPaused)})
}

func (s *Server) handleResumeJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := s.pathUUID(w, r, "jobID")
	if !ok {
		return
	}
	j, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	if j.Status != job.StatusPaused {
		s.respondError(w, http.StatusConflict, fmt.Errorf("job %s is %s, not paused", jobID, j.Status))
		return
	}
	if err := s.store.SetJobStatus(r.Context(), jobID, job.StatusProcessing, ""); err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.logger.Info("job resumed", "job_id", jobID.String())
	s.respondJSON(w, http.StatusOK, map[string]string{"status": string(job.StatusProcessing)})
}

func (s *Server) handleSetPriority(w http.ResponseWriter, r *http.Request) {
	jobID, ok := s.pathUUID(w, r, "jobID")
	if !ok {
		return
	}
	var body struct {
		Priority job.Priority `json:"priority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	switch body.Priority {
	case job.PriorityLow, job.PriorityMedium, job.PriorityHigh:
	default:
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("unknown priority %q", body.Priority))
		return
	}
	if err := s.store.SetJobPriority(r.Context(), jobID, body.Priority); err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.logger.Info("job priority updated",
		"job_id", jobID.String(),
		"priority", string(body.Priority))
	s.respondJSON(w, http.StatusOK, map[string]string{"priority": string(body.Priority)})
}

func (s *Server) pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("invalid %s: %w", name, err))
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

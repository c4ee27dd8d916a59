package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/dvloznov/ledger-sync/internal/api/middleware"
	"github.com/dvloznov/ledger-sync/internal/jobs"
	"github.com/dvloznov/ledger-sync/internal/logger"
	"github.com/dvloznov/ledger-sync/internal/syncer"
)

// Response bodies for the sync endpoints.
const (
	StatusRunning      = "Webhook server is running"
	StatusSyncComplete = "full sync complete"
)

const maxJobBody = 4 << 10

// FullSyncer runs a full sync. *syncer.Engine satisfies it.
type FullSyncer interface {
	FullSync(ctx context.Context, trigger string) (syncer.RunSummary, error)
}

// SyncHandler serves GET /sync.
type SyncHandler struct {
	engine FullSyncer
}

// NewSyncHandler creates a new sync handler.
func NewSyncHandler(engine FullSyncer) *SyncHandler {
	return &SyncHandler{engine: engine}
}

// Sync runs a full sync inline and answers once it finishes. Per-account
// failures do not fail the request; they are in the audit rows and logs.
func (h *SyncHandler) Sync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	summary, err := h.engine.FullSync(ctx, syncer.TriggerHTTP)
	if err != nil {
		log.Error().Err(err).Msg("Full sync failed")
		middleware.WriteStatus(w, http.StatusInternalServerError, "error")
		return
	}

	log.Info().
		Str("run_id", summary.RunID).
		Int("accounts_failed", summary.AccountsFailed).
		Bool("shared", summary.Shared).
		Msg("Full sync requested over HTTP")
	middleware.WriteStatus(w, http.StatusOK, StatusSyncComplete)
}

// Status handles GET /status.
func Status(w http.ResponseWriter, _ *http.Request) {
	middleware.WriteStatus(w, http.StatusOK, StatusRunning)
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store     jobs.JobStore
	publisher jobs.Publisher
}

// NewJobsHandler creates a new jobs handler. A nil publisher disables
// POST /jobs.
func NewJobsHandler(store jobs.JobStore, publisher jobs.Publisher) *JobsHandler {
	return &JobsHandler{
		store:     store,
		publisher: publisher,
	}
}

// GetJob handles GET /jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := mux.Vars(r)["id"]

	job, err := h.store.GetJob(ctx, jobID)
	if errors.Is(err, jobs.ErrJobNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Parse query parameters
	query := r.URL.Query()
	filter := jobs.JobFilter{
		Trigger: query.Get("trigger"),
		Status:  jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(ctx, filter)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}

// CreateJobRequest is the body of POST /jobs. An empty body queues a full sync.
type CreateJobRequest struct {
	Type jobs.JobType `json:"type"`
}

// CreateJob handles POST /jobs: it queues the requested job and returns at once.
func (h *JobsHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	if h.publisher == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "Job queue disabled")
		return
	}
	ctx := r.Context()

	var req CreateJobRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJobBody)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	switch req.Type {
	case "":
		req.Type = jobs.JobTypeFullSync
	case jobs.JobTypeFullSync, jobs.JobTypeRefreshDirectory:
	default:
		middleware.WriteError(w, http.StatusBadRequest, fmt.Sprintf("Unknown job type %q", req.Type))
		return
	}

	job := &jobs.SyncJob{Type: req.Type, Trigger: syncer.TriggerHTTP}
	if err := h.publisher.PublishSync(ctx, job); err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Msg("Failed to queue sync job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to queue job")
		return
	}

	middleware.WriteJSON(w, http.StatusAccepted, job)
}

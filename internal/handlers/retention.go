package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/jobtrace/jobtrace-api/internal/apperr"
	"github.com/jobtrace/jobtrace-api/internal/authz"
	"github.com/jobtrace/jobtrace-api/internal/retention"
	"github.com/jobtrace/jobtrace-api/internal/retry"
)

// RetentionHandler serves archival, cleanup and retry endpoints.
type RetentionHandler struct {
	retention *retention.Service
	retry     *retry.Orchestrator
	logger    zerolog.Logger
}

func NewRetentionHandler(ret *retention.Service, orchestrator *retry.Orchestrator, logger zerolog.Logger) *RetentionHandler {
	return &RetentionHandler{
		retention: ret,
		retry:     orchestrator,
		logger:    logger.With().Str("component", "retention_handler").Logger(),
	}
}

func (h *RetentionHandler) BulkArchive(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ExecutionIDs []string `json:"execution_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, apperr.NewValidation("body", "invalid request payload"))
		return
	}
	userID, _ := authz.UserIDFromRequest(r)
	outcomes, err := h.retention.BulkArchive(r.Context(), payload.ExecutionIDs, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"outcomes": outcomes})
}

func (h *RetentionHandler) ArchiveOld(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		OlderThanDays int     `json:"older_than_days"`
		JobID         *string `json:"job_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, apperr.NewValidation("body", "invalid request payload"))
		return
	}
	userID, _ := authz.UserIDFromRequest(r)
	archived, err := h.retention.ArchiveOld(r.Context(), payload.OlderThanDays, payload.JobID, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"archived": archived})
}

func (h *RetentionHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		OlderThanDays int `json:"older_than_days"`
	}
	decodeOptional(r, &payload)
	deleted, err := h.retention.CleanupArchived(r.Context(), payload.OlderThanDays)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

func (h *RetentionHandler) Partitions(w http.ResponseWriter, r *http.Request) {
	partitions, err := h.retention.Partitions(r.Context(), intParam(r, "limit", "", 90))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, partitions)
}

func (h *RetentionHandler) PendingCleanup(w http.ResponseWriter, r *http.Request) {
	preview, err := h.retention.PendingCleanup(r.Context(), intParam(r, "older_than_days", "days", 0))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (h *RetentionHandler) RetryFailed(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		DaysBack int `json:"days_back"`
	}
	decodeOptional(r, &payload)
	userID, _ := authz.UserIDFromRequest(r)
	result, err := h.retry.RetryFailed(r.Context(), mux.Vars(r)["jobID"], payload.DaysBack, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

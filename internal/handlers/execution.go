package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/jobtrace/jobtrace-api/internal/apperr"
	"github.com/jobtrace/jobtrace-api/internal/authz"
	"github.com/jobtrace/jobtrace-api/internal/lifecycle"
	"github.com/jobtrace/jobtrace-api/internal/models"
	"github.com/jobtrace/jobtrace-api/internal/query"
	"github.com/jobtrace/jobtrace-api/internal/repository"
)

// ExecutionHandler serves the execution lifecycle and query surface.
type ExecutionHandler struct {
	lifecycle *lifecycle.Service
	queries   *query.Service
	logger    zerolog.Logger
}

func NewExecutionHandler(lc *lifecycle.Service, queries *query.Service, logger zerolog.Logger) *ExecutionHandler {
	return &ExecutionHandler{
		lifecycle: lc,
		queries:   queries,
		logger:    logger.With().Str("component", "execution_handler").Logger(),
	}
}

func (h *ExecutionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in lifecycle.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, apperr.NewValidation("body", "invalid request payload"))
		return
	}
	if in.TriggeredByUserID == "" {
		if uid, ok := authz.UserIDFromRequest(r); ok {
			in.TriggeredByUserID = uid
		}
	}
	exec, err := h.lifecycle.Create(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, exec)
}

func (h *ExecutionHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	exec, err := h.queries.GetByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (h *ExecutionHandler) GetByTraceID(w http.ResponseWriter, r *http.Request) {
	exec, err := h.queries.GetByTraceID(r.Context(), mux.Vars(r)["traceID"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

// Search handles the generic multi-field filter, taken from query params
// with AND semantics.
func (h *ExecutionHandler) Search(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	page, pageErr := h.queries.Search(r.Context(), filter, listOptions(r))
	if pageErr != nil {
		writeError(w, pageErr)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *ExecutionHandler) ListByJob(w http.ResponseWriter, r *http.Request) {
	page, err := h.queries.ListByJob(r.Context(), mux.Vars(r)["jobID"], listOptions(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *ExecutionHandler) ListByStatus(w http.ResponseWriter, r *http.Request) {
	status := models.ExecutionStatus(mux.Vars(r)["status"])
	if !models.IsValidStatus(status) {
		writeError(w, apperr.NewValidation("execution_status", "unknown status"))
		return
	}
	page, err := h.queries.ListByStatus(r.Context(), status, listOptions(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *ExecutionHandler) ListByDateRange(w http.ResponseWriter, r *http.Request) {
	start, _, err := parseTime(r.URL.Query().Get("startDate"))
	if err != nil {
		writeError(w, apperr.NewValidation("startDate", "expected RFC3339 or YYYY-MM-DD"))
		return
	}
	end, endDateOnly, err := parseTime(r.URL.Query().Get("endDate"))
	if err != nil {
		writeError(w, apperr.NewValidation("endDate", "expected RFC3339 or YYYY-MM-DD"))
		return
	}
	// The range is inclusive; a bare end date means the whole of that day.
	// An explicit timestamp, midnight included, is taken as given.
	if endDateOnly {
		end = end.Add(24*time.Hour - time.Second)
	}
	page, pageErr := h.queries.ListByDateRange(r.Context(), start, end, listOptions(r))
	if pageErr != nil {
		writeError(w, pageErr)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *ExecutionHandler) ListByCorrelationID(w http.ResponseWriter, r *http.Request) {
	page, err := h.queries.ListByCorrelationID(r.Context(), mux.Vars(r)["correlationID"], listOptions(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *ExecutionHandler) ListFailed(w http.ResponseWriter, r *http.Request) {
	var jobID *string
	if j := r.URL.Query().Get("job_id"); j != "" {
		jobID = &j
	}
	page, err := h.queries.ListFailed(r.Context(), intParam(r, "days", "daysBack", 7), jobID, listOptions(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *ExecutionHandler) ListSLABreached(w http.ResponseWriter, r *http.Request) {
	page, err := h.queries.ListSLABreached(r.Context(), intParam(r, "days", "daysBack", 7), listOptions(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *ExecutionHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	page, err := h.queries.ListActive(r.Context(), listOptions(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *ExecutionHandler) ListQueued(w http.ResponseWriter, r *http.Request) {
	page, err := h.queries.ListQueued(r.Context(), listOptions(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *ExecutionHandler) ListLongRunning(w http.ResponseWriter, r *http.Request) {
	page, err := h.queries.ListLongRunning(r.Context(), listOptions(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *ExecutionHandler) Start(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ServerInstance *string `json:"server_instance"`
		WorkerNodeID   *string `json:"worker_node_id"`
	}
	decodeOptional(r, &payload)
	exec, err := h.lifecycle.MarkStarted(r.Context(), mux.Vars(r)["id"], payload.ServerInstance, payload.WorkerNodeID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (h *ExecutionHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ExecutionStatus *models.ExecutionStatus `json:"execution_status"`
		lifecycle.CompleteInput
	}
	decodeOptional(r, &payload)
	if payload.ExecutionStatus != nil && *payload.ExecutionStatus != models.StatusSuccess {
		writeError(w, apperr.NewValidation("execution_status", "complete only accepts success"))
		return
	}
	exec, err := h.lifecycle.MarkCompleted(r.Context(), mux.Vars(r)["id"], payload.CompleteInput)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (h *ExecutionHandler) Fail(w http.ResponseWriter, r *http.Request) {
	var in lifecycle.FailInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, apperr.NewValidation("body", "invalid request payload"))
		return
	}
	exec, err := h.lifecycle.MarkFailed(r.Context(), mux.Vars(r)["id"], in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (h *ExecutionHandler) Abort(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Reason *string `json:"reason"`
	}
	decodeOptional(r, &payload)
	exec, err := h.lifecycle.MarkAborted(r.Context(), mux.Vars(r)["id"], payload.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (h *ExecutionHandler) Timeout(w http.ResponseWriter, r *http.Request) {
	exec, err := h.lifecycle.MarkTimeout(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (h *ExecutionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	exec, err := h.lifecycle.MarkCancelled(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (h *ExecutionHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ExecutionStatus models.ExecutionStatus `json:"execution_status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, apperr.NewValidation("body", "invalid request payload"))
		return
	}
	exec, err := h.lifecycle.UpdateStatus(r.Context(), mux.Vars(r)["id"], payload.ExecutionStatus)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (h *ExecutionHandler) Update(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ErrorMessage     *string         `json:"error_message"`
		ErrorCode        *string         `json:"error_code"`
		ErrorStepID      *string         `json:"error_step_id"`
		ErrorDetails     json.RawMessage `json:"error_details"`
		ExecutionContext json.RawMessage `json:"execution_context"`
		TraceID          *string         `json:"trace_id"`
		CorrelationID    *string         `json:"correlation_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, apperr.NewValidation("body", "invalid request payload"))
		return
	}
	exec, err := h.lifecycle.Update(r.Context(), mux.Vars(r)["id"], repository.MetadataUpdate{
		ErrorMessage:     payload.ErrorMessage,
		ErrorCode:        payload.ErrorCode,
		ErrorStepID:      payload.ErrorStepID,
		ErrorDetails:     payload.ErrorDetails,
		ExecutionContext: payload.ExecutionContext,
		TraceID:          payload.TraceID,
		CorrelationID:    payload.CorrelationID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (h *ExecutionHandler) RecordMetrics(w http.ResponseWriter, r *http.Request) {
	var metrics models.ExecutionMetrics
	if err := json.NewDecoder(r.Body).Decode(&metrics); err != nil {
		writeError(w, apperr.NewValidation("body", "invalid request payload"))
		return
	}
	exec, err := h.lifecycle.RecordMetrics(r.Context(), mux.Vars(r)["id"], metrics)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (h *ExecutionHandler) TimeoutStatus(w http.ResponseWriter, r *http.Request) {
	state, err := h.lifecycle.TimeoutStatus(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *ExecutionHandler) Archive(w http.ResponseWriter, r *http.Request) {
	exec, err := h.lifecycle.Archive(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

// decodeOptional tolerates an empty body; all fields stay at their zero
// values in that case.
func decodeOptional(r *http.Request, dest interface{}) {
	if r.Body == nil {
		return
	}
	_ = json.NewDecoder(r.Body).Decode(dest)
}

// parseTime accepts an RFC3339 timestamp or a bare date, and reports which
// form it saw so callers can treat date-only values as whole days.
func parseTime(raw string) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, false, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	return t, true, err
}

func filterFromQuery(r *http.Request) (models.ExecutionFilter, error) {
	q := r.URL.Query()
	filter := models.ExecutionFilter{}

	if v := q.Get("job_id"); v != "" {
		filter.JobID = &v
	}
	if v := q.Get("execution_status"); v != "" {
		status := models.ExecutionStatus(v)
		if !models.IsValidStatus(status) {
			return filter, apperr.NewValidation("execution_status", "unknown status")
		}
		filter.ExecutionStatus = &status
	}
	if v := q.Get("started_at_min"); v != "" {
		t, _, err := parseTime(v)
		if err != nil {
			return filter, apperr.NewValidation("started_at_min", "expected RFC3339 or YYYY-MM-DD")
		}
		filter.StartedAtMin = &t
	}
	if v := q.Get("started_at_max"); v != "" {
		t, _, err := parseTime(v)
		if err != nil {
			return filter, apperr.NewValidation("started_at_max", "expected RFC3339 or YYYY-MM-DD")
		}
		filter.StartedAtMax = &t
	}
	if v := q.Get("triggered_by"); v != "" {
		trigger := models.TriggerType(v)
		if !models.IsValidTrigger(trigger) {
			return filter, apperr.NewValidation("triggered_by", "unknown trigger type")
		}
		filter.TriggeredBy = &trigger
	}
	if v := q.Get("server_instance"); v != "" {
		filter.ServerInstance = &v
	}
	if v := q.Get("worker_node_id"); v != "" {
		filter.WorkerNodeID = &v
	}
	if v := q.Get("sla_breached"); v != "" {
		b := v == "true"
		filter.SLABreached = &b
	}
	if v := q.Get("archived"); v != "" {
		b := v == "true"
		filter.Archived = &b
	}
	return filter, nil
}

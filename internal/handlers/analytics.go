package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/jobtrace/jobtrace-api/internal/analytics"
	"github.com/jobtrace/jobtrace-api/internal/repository"
)

// AnalyticsHandler serves the read-only aggregation endpoints. Every route
// accepts job_id and days query params to scope the window.
type AnalyticsHandler struct {
	service *analytics.Service
	logger  zerolog.Logger
}

func NewAnalyticsHandler(service *analytics.Service, logger zerolog.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{
		service: service,
		logger:  logger.With().Str("component", "analytics_handler").Logger(),
	}
}

func window(r *http.Request) analytics.Window {
	w := analytics.Window{
		DaysBack:  intParam(r, "days", "daysBack", 0),
		SkipCache: skipCache(r),
	}
	if j := r.URL.Query().Get("job_id"); j != "" {
		w.JobID = &j
	}
	return w
}

func (h *AnalyticsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context(), window(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *AnalyticsHandler) SuccessRate(w http.ResponseWriter, r *http.Request) {
	rate, err := h.service.SuccessRate(r.Context(), window(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]*float64{"success_rate": rate})
}

func (h *AnalyticsHandler) Durations(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Durations(r.Context(), window(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *AnalyticsHandler) SLACompliance(w http.ResponseWriter, r *http.Request) {
	compliance, err := h.service.SLACompliance(r.Context(), window(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, compliance)
}

func (h *AnalyticsHandler) Trend(w http.ResponseWriter, r *http.Request) {
	points, err := h.service.Trend(r.Context(), window(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

func (h *AnalyticsHandler) breakdown(dimension repository.BreakdownDimension) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		buckets, err := h.service.Breakdown(r.Context(), window(r), dimension)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, buckets)
	}
}

func (h *AnalyticsHandler) ByHour(w http.ResponseWriter, r *http.Request) {
	h.breakdown(repository.BreakdownByHour)(w, r)
}

func (h *AnalyticsHandler) ByTrigger(w http.ResponseWriter, r *http.Request) {
	h.breakdown(repository.BreakdownByTrigger)(w, r)
}

func (h *AnalyticsHandler) ByWorker(w http.ResponseWriter, r *http.Request) {
	h.breakdown(repository.BreakdownByWorker)(w, r)
}

func (h *AnalyticsHandler) ByServer(w http.ResponseWriter, r *http.Request) {
	h.breakdown(repository.BreakdownByServer)(w, r)
}

func (h *AnalyticsHandler) Errors(w http.ResponseWriter, r *http.Request) {
	analysis, err := h.service.ErrorAnalysis(r.Context(), window(r), intParam(r, "limit", "", 10))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

func (h *AnalyticsHandler) FailurePatterns(w http.ResponseWriter, r *http.Request) {
	patterns, err := h.service.FailurePatterns(r.Context(), window(r), intParam(r, "limit", "", 20))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, patterns)
}

func (h *AnalyticsHandler) Slowest(w http.ResponseWriter, r *http.Request) {
	executions, err := h.service.Slowest(r.Context(), window(r), intParam(r, "limit", "", 10))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, executions)
}

func (h *AnalyticsHandler) Outliers(w http.ResponseWriter, r *http.Request) {
	outliers, err := h.service.Outliers(r.Context(), window(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outliers)
}

func (h *AnalyticsHandler) Anomalies(w http.ResponseWriter, r *http.Request) {
	anomalies, err := h.service.Anomalies(r.Context(), window(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, anomalies)
}

func (h *AnalyticsHandler) ResourceIssues(w http.ResponseWriter, r *http.Request) {
	issues, err := h.service.ResourceIssues(r.Context(), window(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issues)
}

func (h *AnalyticsHandler) Health(w http.ResponseWriter, r *http.Request) {
	score, err := h.service.HealthScore(r.Context(), window(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, score)
}

func (h *AnalyticsHandler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.PerformanceSummary(r.Context(), window(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *AnalyticsHandler) Forecast(w http.ResponseWriter, r *http.Request) {
	forecast, err := h.service.CompletionForecast(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, forecast)
}

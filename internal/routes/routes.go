package routes

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/jobtrace/jobtrace-api/internal/authz"
	"github.com/jobtrace/jobtrace-api/internal/handlers"
)

// NewRouter wires every endpoint. Literal execution subpaths are registered
// before the /{id} patterns so mux matches them first.
func NewRouter(
	execution *handlers.ExecutionHandler,
	analytics *handlers.AnalyticsHandler,
	retention *handlers.RetentionHandler,
	health *handlers.HealthHandler,
	jwtSecret []byte,
) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", health.Check).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(authz.Authenticate(jwtSecret))

	// Execution queries.
	exec := api.PathPrefix("/executions").Subrouter()
	exec.HandleFunc("", execution.Search).Methods(http.MethodGet)
	exec.HandleFunc("/date-range", execution.ListByDateRange).Methods(http.MethodGet)
	exec.HandleFunc("/active", execution.ListActive).Methods(http.MethodGet)
	exec.HandleFunc("/queued", execution.ListQueued).Methods(http.MethodGet)
	exec.HandleFunc("/long-running", execution.ListLongRunning).Methods(http.MethodGet)
	exec.HandleFunc("/failed", execution.ListFailed).Methods(http.MethodGet)
	exec.HandleFunc("/sla-breached", execution.ListSLABreached).Methods(http.MethodGet)
	exec.HandleFunc("/trace/{traceID}", execution.GetByTraceID).Methods(http.MethodGet)
	exec.HandleFunc("/status/{status}", execution.ListByStatus).Methods(http.MethodGet)
	exec.HandleFunc("/correlation/{correlationID}", execution.ListByCorrelationID).Methods(http.MethodGet)
	exec.HandleFunc("/{id}", execution.GetByID).Methods(http.MethodGet)
	exec.HandleFunc("/{id}/timeout-status", execution.TimeoutStatus).Methods(http.MethodGet)

	// Execution mutations require an authenticated caller.
	mutate := api.PathPrefix("/executions").Subrouter()
	mutate.Use(authz.RequireUser)
	mutate.HandleFunc("", execution.Create).Methods(http.MethodPost)
	mutate.HandleFunc("/bulk-archive", retention.BulkArchive).Methods(http.MethodPost)
	mutate.HandleFunc("/archive-old", retention.ArchiveOld).Methods(http.MethodPost)
	mutate.HandleFunc("/cleanup", retention.Cleanup).Methods(http.MethodPost)
	mutate.HandleFunc("/{id}", execution.Update).Methods(http.MethodPatch)
	mutate.HandleFunc("/{id}/status", execution.UpdateStatus).Methods(http.MethodPatch)
	mutate.HandleFunc("/{id}/start", execution.Start).Methods(http.MethodPost)
	mutate.HandleFunc("/{id}/complete", execution.Complete).Methods(http.MethodPost)
	mutate.HandleFunc("/{id}/fail", execution.Fail).Methods(http.MethodPost)
	mutate.HandleFunc("/{id}/abort", execution.Abort).Methods(http.MethodPost)
	mutate.HandleFunc("/{id}/timeout", execution.Timeout).Methods(http.MethodPost)
	mutate.HandleFunc("/{id}/cancel", execution.Cancel).Methods(http.MethodPost)
	mutate.HandleFunc("/{id}/metrics", execution.RecordMetrics).Methods(http.MethodPost)
	mutate.HandleFunc("/{id}/archive", execution.Archive).Methods(http.MethodPost)

	// Per-job views.
	jobs := api.PathPrefix("/jobs").Subrouter()
	jobs.HandleFunc("/{jobID}/executions", execution.ListByJob).Methods(http.MethodGet)

	jobMutate := api.PathPrefix("/jobs").Subrouter()
	jobMutate.Use(authz.RequireUser)
	jobMutate.HandleFunc("/{jobID}/retry-failed", retention.RetryFailed).Methods(http.MethodPost)

	// Aggregation reports.
	reports := api.PathPrefix("/analytics/executions").Subrouter()
	reports.HandleFunc("/stats", analytics.Stats).Methods(http.MethodGet)
	reports.HandleFunc("/success-rate", analytics.SuccessRate).Methods(http.MethodGet)
	reports.HandleFunc("/durations", analytics.Durations).Methods(http.MethodGet)
	reports.HandleFunc("/sla-compliance", analytics.SLACompliance).Methods(http.MethodGet)
	reports.HandleFunc("/trend", analytics.Trend).Methods(http.MethodGet)
	reports.HandleFunc("/by-hour", analytics.ByHour).Methods(http.MethodGet)
	reports.HandleFunc("/by-trigger", analytics.ByTrigger).Methods(http.MethodGet)
	reports.HandleFunc("/by-worker", analytics.ByWorker).Methods(http.MethodGet)
	reports.HandleFunc("/by-server", analytics.ByServer).Methods(http.MethodGet)
	reports.HandleFunc("/errors", analytics.Errors).Methods(http.MethodGet)
	reports.HandleFunc("/failure-patterns", analytics.FailurePatterns).Methods(http.MethodGet)
	reports.HandleFunc("/slowest", analytics.Slowest).Methods(http.MethodGet)
	reports.HandleFunc("/outliers", analytics.Outliers).Methods(http.MethodGet)
	reports.HandleFunc("/anomalies", analytics.Anomalies).Methods(http.MethodGet)
	reports.HandleFunc("/resource-issues", analytics.ResourceIssues).Methods(http.MethodGet)
	reports.HandleFunc("/health", analytics.Health).Methods(http.MethodGet)
	reports.HandleFunc("/summary", analytics.Summary).Methods(http.MethodGet)
	reports.HandleFunc("/forecast/{id}", analytics.Forecast).Methods(http.MethodGet)

	// Partition and cleanup reports.
	partitions := api.PathPrefix("/retention").Subrouter()
	partitions.HandleFunc("/partitions", retention.Partitions).Methods(http.MethodGet)
	partitions.HandleFunc("/pending-cleanup", retention.PendingCleanup).Methods(http.MethodGet)

	return router
}

package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/jobtrace/jobtrace-api/internal/apperr"
	"github.com/jobtrace/jobtrace-api/internal/models"
)

// CreateExecutionParams is the input for inserting a new pending execution.
type CreateExecutionParams struct {
	JobID             string
	TriggeredBy       models.TriggerType
	TriggeredByUserID *string
	ServerInstance    *string
	WorkerNodeID      *string
	TraceID           *string
	CorrelationID     *string
	ExecutionContext  json.RawMessage
}

// TransitionParams drives one compare-and-set status change. From lists the
// statuses the row must currently be in; the update only applies when the
// guard matches, so two racing transitions cannot both land.
type TransitionParams struct {
	ID   string
	From []models.ExecutionStatus
	To   models.ExecutionStatus

	// Start-side fields.
	SetStartedAt   bool
	ServerInstance *string
	WorkerNodeID   *string

	// Terminal-side fields. DurationSeconds overrides the wall-clock
	// difference when supplied; SLASeconds, when present, recomputes
	// sla_breached against the resulting duration.
	Terminal        bool
	DurationSeconds *float64
	SLASeconds      *float64
	ErrorMessage    *string
	ErrorCode       *string
	ErrorStepID     *string
	ErrorDetails    json.RawMessage
}

// MetadataUpdate is the escape hatch for correcting non-status fields.
type MetadataUpdate struct {
	ErrorMessage     *string
	ErrorCode        *string
	ErrorStepID      *string
	ErrorDetails     json.RawMessage
	ExecutionContext json.RawMessage
	TraceID          *string
	CorrelationID    *string
}

// SearchQuery is a paginated multi-field lookup with AND semantics.
type SearchQuery struct {
	Filter        models.ExecutionFilter
	CorrelationID *string
	Limit         int
	Offset        int
}

// AnalyticsScope bounds an aggregation to a job and/or time window. The
// window applies to started_at, falling back to created_at for rows that
// never started.
type AnalyticsScope struct {
	JobID *string
	Since *time.Time
	Until *time.Time
}

// ExecutionRepository is the durable store for job executions. Implemented
// over Postgres; split across execution_repository.go (mutations),
// execution_query.go (lookups), execution_analytics.go (aggregates) and
// execution_retention.go (archive/cleanup).
type ExecutionRepository interface {
	Create(ctx context.Context, params CreateExecutionParams) (models.JobExecution, error)
	GetByID(ctx context.Context, id string) (models.JobExecution, error)
	Transition(ctx context.Context, params TransitionParams) (models.JobExecution, error)
	MergeMetrics(ctx context.Context, id string, metrics models.ExecutionMetrics, requireActive bool) (models.JobExecution, error)
	UpdateMetadata(ctx context.Context, id string, update MetadataUpdate) (models.JobExecution, error)
	Archive(ctx context.Context, id string) (models.JobExecution, bool, error)

	GetByTraceID(ctx context.Context, traceID string) (models.JobExecution, error)
	Search(ctx context.Context, q SearchQuery) ([]models.JobExecution, int, error)
	ListLongRunning(ctx context.Context, runningFor time.Duration, limit, offset int) ([]models.JobExecution, int, error)

	CountByStatus(ctx context.Context, scope AnalyticsScope) (models.ExecutionStats, error)
	DurationSamples(ctx context.Context, scope AnalyticsScope, limit int) ([]float64, error)
	TrendSeries(ctx context.Context, scope AnalyticsScope, days int) ([]models.TrendPoint, error)
	Breakdown(ctx context.Context, scope AnalyticsScope, dimension BreakdownDimension) ([]models.BreakdownBucket, error)
	TopErrorCodes(ctx context.Context, scope AnalyticsScope, limit int) ([]models.ErrorCodeGroup, error)
	StepFailures(ctx context.Context, scope AnalyticsScope) ([]models.StepFailureCount, error)
	FailurePatterns(ctx context.Context, scope AnalyticsScope, limit int) ([]models.FailurePattern, error)
	SLACounts(ctx context.Context, scope AnalyticsScope) (models.SLACompliance, error)
	Slowest(ctx context.Context, scope AnalyticsScope, limit int) ([]models.JobExecution, error)
	TerminalWithDuration(ctx context.Context, scope AnalyticsScope, limit int) ([]models.JobExecution, error)
	JobDurationHistory(ctx context.Context, jobID string, limit int) ([]float64, error)

	ArchiveOlderThan(ctx context.Context, cutoff time.Time, jobID *string, batchSize int) (int64, error)
	DeleteArchivedBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
	Partitions(ctx context.Context, limit int) ([]models.PartitionInfo, error)
	CleanupPreview(ctx context.Context, cutoff time.Time) (models.CleanupPreview, error)
	ListFailedSince(ctx context.Context, jobID *string, since time.Time, limit int) ([]models.JobExecution, error)
}

type executionRepository struct {
	db *sql.DB
}

// NewExecutionRepository wraps a Postgres handle in the repository.
func NewExecutionRepository(db *sql.DB) ExecutionRepository {
	return &executionRepository{db: db}
}

// executionColumns is the canonical column list; every scan goes through
// scanExecution so the two stay aligned.
const executionColumns = `
	id, job_id, execution_status,
	started_at, completed_at, duration_seconds, execution_date,
	triggered_by, triggered_by_user_id,
	server_instance, worker_node_id, trace_id, correlation_id,
	error_message, error_code, error_step_id, error_details,
	peak_memory_mb, peak_cpu_percent,
	rows_read, rows_processed, rows_inserted, rows_updated, rows_deleted,
	data_quality_score, steps_total, steps_completed, steps_failed,
	sla_breached, execution_context,
	archived, archived_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanExecution(row rowScanner) (models.JobExecution, error) {
	var e models.JobExecution
	var errorDetails, executionContext []byte
	err := row.Scan(
		&e.ID, &e.JobID, &e.ExecutionStatus,
		&e.StartedAt, &e.CompletedAt, &e.DurationSeconds, &e.ExecutionDate,
		&e.TriggeredBy, &e.TriggeredByUserID,
		&e.ServerInstance, &e.WorkerNodeID, &e.TraceID, &e.CorrelationID,
		&e.ErrorMessage, &e.ErrorCode, &e.ErrorStepID, &errorDetails,
		&e.Metrics.PeakMemoryMB, &e.Metrics.PeakCPUPercent,
		&e.Metrics.RowsRead, &e.Metrics.RowsProcessed, &e.Metrics.RowsInserted,
		&e.Metrics.RowsUpdated, &e.Metrics.RowsDeleted,
		&e.Metrics.DataQualityScore, &e.Metrics.StepsTotal, &e.Metrics.StepsCompleted, &e.Metrics.StepsFailed,
		&e.SLABreached, &executionContext,
		&e.Archived, &e.ArchivedAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return e, err
	}
	if len(errorDetails) > 0 {
		e.ErrorDetails = json.RawMessage(errorDetails)
	}
	if len(executionContext) > 0 {
		e.ExecutionContext = json.RawMessage(executionContext)
	}
	return e, nil
}

func collectExecutions(rows *sql.Rows) ([]models.JobExecution, error) {
	defer rows.Close()
	executions := []models.JobExecution{}
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		executions = append(executions, e)
	}
	return executions, rows.Err()
}

func nullableJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func (r *executionRepository) Create(ctx context.Context, params CreateExecutionParams) (models.JobExecution, error) {
	query := `
		INSERT INTO job_executions (
			job_id, execution_status, triggered_by, triggered_by_user_id,
			server_instance, worker_node_id, trace_id, correlation_id, execution_context
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + executionColumns
	row := r.db.QueryRowContext(ctx, query,
		params.JobID,
		models.StatusPending,
		params.TriggeredBy,
		params.TriggeredByUserID,
		params.ServerInstance,
		params.WorkerNodeID,
		params.TraceID,
		params.CorrelationID,
		nullableJSON(params.ExecutionContext),
	)
	exec, err := scanExecution(row)
	if err != nil {
		return exec, errors.Wrap(err, "insert job execution")
	}
	return exec, nil
}

func (r *executionRepository) GetByID(ctx context.Context, id string) (models.JobExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM job_executions WHERE id = $1`
	exec, err := scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return exec, apperr.NewNotFound("execution", id)
		}
		return exec, errors.Wrap(err, "get execution")
	}
	return exec, nil
}

// Transition applies a guarded status change. When zero rows match, the
// current row is re-read to distinguish a missing execution, an illegal
// transition, and a lost race.
func (r *executionRepository) Transition(ctx context.Context, params TransitionParams) (models.JobExecution, error) {
	from := make([]string, 0, len(params.From))
	for _, s := range params.From {
		from = append(from, string(s))
	}

	query := `
		UPDATE job_executions SET
			execution_status = $2,
			updated_at       = now(),
			started_at       = CASE WHEN $3 THEN now() ELSE started_at END,
			server_instance  = COALESCE($4, server_instance),
			worker_node_id   = COALESCE($5, worker_node_id),
			completed_at     = CASE WHEN $6 THEN COALESCE(started_at + make_interval(secs => $7::float8), now()) ELSE completed_at END,
			duration_seconds = CASE WHEN $6 THEN COALESCE($7::float8, EXTRACT(EPOCH FROM (now() - started_at))) ELSE duration_seconds END,
			sla_breached     = CASE
				WHEN $6 AND $8::float8 IS NOT NULL
				THEN COALESCE($7::float8, EXTRACT(EPOCH FROM (now() - started_at))) > $8::float8
				ELSE sla_breached END,
			error_message    = COALESCE($9, error_message),
			error_code       = COALESCE($10, error_code),
			error_step_id    = COALESCE($11, error_step_id),
			error_details    = COALESCE($12, error_details)
		WHERE id = $1 AND execution_status = ANY($13)
		RETURNING ` + executionColumns
	row := r.db.QueryRowContext(ctx, query,
		params.ID,
		params.To,
		params.SetStartedAt,
		params.ServerInstance,
		params.WorkerNodeID,
		params.Terminal,
		params.DurationSeconds,
		params.SLASeconds,
		params.ErrorMessage,
		params.ErrorCode,
		params.ErrorStepID,
		nullableJSON(params.ErrorDetails),
		pq.Array(from),
	)
	exec, err := scanExecution(row)
	if err == nil {
		return exec, nil
	}
	if err != sql.ErrNoRows {
		return exec, errors.Wrap(err, "transition execution")
	}

	// Guard did not match: classify against the row as it is now. The store
	// is untouched in every branch.
	current, getErr := r.GetByID(ctx, params.ID)
	if getErr != nil {
		return exec, getErr
	}
	if current.ExecutionStatus.CanTransition(params.To) {
		return exec, &apperr.ConflictError{ExecutionID: params.ID, Requested: params.To}
	}
	return exec, &apperr.InvalidTransitionError{
		ExecutionID: params.ID,
		Current:     current.ExecutionStatus,
		Requested:   params.To,
	}
}

// MergeMetrics folds reported metrics into the row. GREATEST keeps every
// field monotonically non-decreasing, so concurrent and out-of-order reports
// are safe. With requireActive the merge is rejected on terminal rows.
func (r *executionRepository) MergeMetrics(ctx context.Context, id string, m models.ExecutionMetrics, requireActive bool) (models.JobExecution, error) {
	query := `
		UPDATE job_executions SET
			peak_memory_mb     = GREATEST(peak_memory_mb, $2),
			peak_cpu_percent   = GREATEST(peak_cpu_percent, $3),
			rows_read          = GREATEST(rows_read, $4),
			rows_processed     = GREATEST(rows_processed, $5),
			rows_inserted      = GREATEST(rows_inserted, $6),
			rows_updated       = GREATEST(rows_updated, $7),
			rows_deleted       = GREATEST(rows_deleted, $8),
			data_quality_score = GREATEST(data_quality_score, $9),
			steps_total        = GREATEST(steps_total, $10),
			steps_completed    = GREATEST(steps_completed, $11),
			steps_failed       = GREATEST(steps_failed, $12),
			updated_at         = now()
		WHERE id = $1
		  AND ($13 = FALSE OR execution_status IN ('pending', 'queued', 'running'))
		RETURNING ` + executionColumns
	row := r.db.QueryRowContext(ctx, query, id,
		m.PeakMemoryMB, m.PeakCPUPercent,
		m.RowsRead, m.RowsProcessed, m.RowsInserted, m.RowsUpdated, m.RowsDeleted,
		m.DataQualityScore, m.StepsTotal, m.StepsCompleted, m.StepsFailed,
		requireActive,
	)
	exec, err := scanExecution(row)
	if err == nil {
		return exec, nil
	}
	if err != sql.ErrNoRows {
		return exec, errors.Wrap(err, "merge execution metrics")
	}

	current, getErr := r.GetByID(ctx, id)
	if getErr != nil {
		return exec, getErr
	}
	return exec, &apperr.InvalidTransitionError{
		ExecutionID: id,
		Current:     current.ExecutionStatus,
		Requested:   current.ExecutionStatus,
	}
}

func (r *executionRepository) UpdateMetadata(ctx context.Context, id string, update MetadataUpdate) (models.JobExecution, error) {
	query := `
		UPDATE job_executions SET
			error_message     = COALESCE($2, error_message),
			error_code        = COALESCE($3, error_code),
			error_step_id     = COALESCE($4, error_step_id),
			error_details     = COALESCE($5, error_details),
			execution_context = COALESCE($6, execution_context),
			trace_id          = COALESCE($7, trace_id),
			correlation_id    = COALESCE($8, correlation_id),
			updated_at        = now()
		WHERE id = $1
		RETURNING ` + executionColumns
	row := r.db.QueryRowContext(ctx, query, id,
		update.ErrorMessage, update.ErrorCode, update.ErrorStepID,
		nullableJSON(update.ErrorDetails), nullableJSON(update.ExecutionContext),
		update.TraceID, update.CorrelationID,
	)
	exec, err := scanExecution(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return exec, apperr.NewNotFound("execution", id)
		}
		return exec, errors.Wrap(err, "update execution metadata")
	}
	return exec, nil
}

// Archive sets the one-way archive flag. Already-archived rows are returned
// unchanged so repeated calls observe the original archived_at; the bool
// reports whether this call did the archiving.
func (r *executionRepository) Archive(ctx context.Context, id string) (models.JobExecution, bool, error) {
	query := `
		UPDATE job_executions
		SET archived = TRUE, archived_at = now(), updated_at = now()
		WHERE id = $1 AND archived = FALSE
		RETURNING ` + executionColumns
	exec, err := scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err == nil {
		return exec, true, nil
	}
	if err != sql.ErrNoRows {
		return exec, false, errors.Wrap(err, "archive execution")
	}
	exec, err = r.GetByID(ctx, id)
	return exec, false, err
}

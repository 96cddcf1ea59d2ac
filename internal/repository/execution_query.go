package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/jobtrace/jobtrace-api/internal/apperr"
	"github.com/jobtrace/jobtrace-api/internal/models"
)

// listOrder keeps pagination stable: most recently started first, rows that
// never started last, ties broken by id.
const listOrder = ` ORDER BY started_at DESC NULLS LAST, id ASC`

func (r *executionRepository) GetByTraceID(ctx context.Context, traceID string) (models.JobExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM job_executions WHERE trace_id = $1`
	exec, err := scanExecution(r.db.QueryRowContext(ctx, query, traceID))
	if err != nil {
		if err == sql.ErrNoRows {
			return exec, apperr.NewNotFound("execution with trace id", traceID)
		}
		return exec, errors.Wrap(err, "get execution by trace id")
	}
	return exec, nil
}

// buildSearchWhere turns the filter into an AND-combined WHERE clause.
func buildSearchWhere(q SearchQuery) (string, []interface{}) {
	clauses := []string{}
	args := []interface{}{}

	add := func(clause string, value interface{}) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	f := q.Filter
	if f.JobID != nil {
		add("job_id = $%d", *f.JobID)
	}
	if f.ExecutionStatus != nil {
		add("execution_status = $%d", *f.ExecutionStatus)
	}
	if f.StartedAtMin != nil {
		add("started_at >= $%d", *f.StartedAtMin)
	}
	if f.StartedAtMax != nil {
		add("started_at <= $%d", *f.StartedAtMax)
	}
	if f.TriggeredBy != nil {
		add("triggered_by = $%d", *f.TriggeredBy)
	}
	if f.ServerInstance != nil {
		add("server_instance = $%d", *f.ServerInstance)
	}
	if f.WorkerNodeID != nil {
		add("worker_node_id = $%d", *f.WorkerNodeID)
	}
	if f.SLABreached != nil {
		add("sla_breached = $%d", *f.SLABreached)
	}
	if f.Archived != nil {
		add("archived = $%d", *f.Archived)
	}
	if q.CorrelationID != nil {
		add("correlation_id = $%d", *q.CorrelationID)
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (r *executionRepository) Search(ctx context.Context, q SearchQuery) ([]models.JobExecution, int, error) {
	where, args := buildSearchWhere(q)

	var total int
	countQuery := `SELECT COUNT(*) FROM job_executions` + where
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count executions")
	}

	query := `SELECT ` + executionColumns + ` FROM job_executions` + where + listOrder +
		fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	rows, err := r.db.QueryContext(ctx, query, append(args, q.Limit, q.Offset)...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list executions")
	}
	executions, err := collectExecutions(rows)
	if err != nil {
		return nil, 0, errors.Wrap(err, "scan executions")
	}
	return executions, total, nil
}

func (r *executionRepository) ListLongRunning(ctx context.Context, runningFor time.Duration, limit, offset int) ([]models.JobExecution, int, error) {
	where := ` WHERE execution_status = 'running' AND started_at <= now() - make_interval(secs => $1::float8)`

	var total int
	countQuery := `SELECT COUNT(*) FROM job_executions` + where
	if err := r.db.QueryRowContext(ctx, countQuery, runningFor.Seconds()).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count long running executions")
	}

	query := `SELECT ` + executionColumns + ` FROM job_executions` + where + listOrder + ` LIMIT $2 OFFSET $3`
	rows, err := r.db.QueryContext(ctx, query, runningFor.Seconds(), limit, offset)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list long running executions")
	}
	executions, err := collectExecutions(rows)
	if err != nil {
		return nil, 0, errors.Wrap(err, "scan long running executions")
	}
	return executions, total, nil
}

func (r *executionRepository) ListFailedSince(ctx context.Context, jobID *string, since time.Time, limit int) ([]models.JobExecution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM job_executions
		WHERE execution_status = 'failure'
		  AND archived = FALSE
		  AND COALESCE(started_at, created_at) >= $1
		  AND ($2::text IS NULL OR job_id = $2)` + listOrder + `
		LIMIT $3`
	rows, err := r.db.QueryContext(ctx, query, since, jobID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list failed executions")
	}
	executions, err := collectExecutions(rows)
	if err != nil {
		return nil, errors.Wrap(err, "scan failed executions")
	}
	return executions, nil
}

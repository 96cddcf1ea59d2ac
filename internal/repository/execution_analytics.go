package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/jobtrace/jobtrace-api/internal/models"
)

// BreakdownDimension selects the grouping column for distribution reports.
type BreakdownDimension string

const (
	BreakdownByHour    BreakdownDimension = "hour"
	BreakdownByTrigger BreakdownDimension = "trigger"
	BreakdownByWorker  BreakdownDimension = "worker"
	BreakdownByServer  BreakdownDimension = "server"
)

// scopeClauses renders the analytics scope as WHERE fragments. Windowing
// uses started_at with a created_at fallback so pending rows are counted in
// the window they were created.
func scopeClauses(scope AnalyticsScope, args *[]interface{}) []string {
	clauses := []string{}
	if scope.JobID != nil {
		*args = append(*args, *scope.JobID)
		clauses = append(clauses, fmt.Sprintf("job_id = $%d", len(*args)))
	}
	if scope.Since != nil {
		*args = append(*args, *scope.Since)
		clauses = append(clauses, fmt.Sprintf("COALESCE(started_at, created_at) >= $%d", len(*args)))
	}
	if scope.Until != nil {
		*args = append(*args, *scope.Until)
		clauses = append(clauses, fmt.Sprintf("COALESCE(started_at, created_at) <= $%d", len(*args)))
	}
	return clauses
}

func whereOf(clauses []string) string {
	if len(clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(clauses, " AND ")
}

func (r *executionRepository) CountByStatus(ctx context.Context, scope AnalyticsScope) (models.ExecutionStats, error) {
	args := []interface{}{}
	where := whereOf(scopeClauses(scope, &args))
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM((execution_status = 'success')::int), 0),
			COALESCE(SUM((execution_status = 'failure')::int), 0),
			COALESCE(SUM((execution_status = 'running')::int), 0),
			COALESCE(SUM((execution_status = 'queued')::int), 0),
			COALESCE(SUM((execution_status = 'pending')::int), 0),
			COALESCE(SUM((execution_status = 'aborted')::int), 0),
			COALESCE(SUM((execution_status = 'timeout')::int), 0),
			COALESCE(SUM((execution_status = 'cancelled')::int), 0)
		FROM job_executions` + where
	var stats models.ExecutionStats
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.Total, &stats.Success, &stats.Failure, &stats.Running,
		&stats.Queued, &stats.Pending, &stats.Aborted, &stats.Timeout, &stats.Cancelled,
	)
	if err != nil {
		return stats, errors.Wrap(err, "count executions by status")
	}
	if denom := stats.Success + stats.Failure; denom > 0 {
		rate := float64(stats.Success) / float64(denom)
		stats.SuccessRate = &rate
	}
	return stats, nil
}

func (r *executionRepository) DurationSamples(ctx context.Context, scope AnalyticsScope, limit int) ([]float64, error) {
	args := []interface{}{}
	clauses := append(scopeClauses(scope, &args), "duration_seconds IS NOT NULL")
	args = append(args, limit)
	query := `
		SELECT duration_seconds FROM job_executions` + whereOf(clauses) + `
		ORDER BY started_at DESC NULLS LAST, id ASC
		LIMIT $` + fmt.Sprint(len(args))
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "duration samples")
	}
	defer rows.Close()
	samples := []float64{}
	for rows.Next() {
		var d float64
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		samples = append(samples, d)
	}
	return samples, rows.Err()
}

// TrendSeries returns one point per calendar day over the last N days,
// including zero-count days, joined on execution_date.
func (r *executionRepository) TrendSeries(ctx context.Context, scope AnalyticsScope, days int) ([]models.TrendPoint, error) {
	jobClause := ""
	args := []interface{}{days}
	if scope.JobID != nil {
		args = append(args, *scope.JobID)
		jobClause = " AND je.job_id = $2"
	}
	query := `
		WITH days AS (
			SELECT generate_series(
				(current_date - ($1 - 1) * INTERVAL '1 day'),
				current_date,
				'1 day'::INTERVAL
			)::date AS day
		)
		SELECT
			days.day,
			COALESCE(COUNT(je.id), 0),
			COALESCE(SUM((je.execution_status = 'success')::int), 0),
			COALESCE(SUM((je.execution_status = 'failure')::int), 0),
			AVG(je.duration_seconds)
		FROM days
		LEFT JOIN job_executions je
			ON je.execution_date = days.day` + jobClause + `
		GROUP BY days.day
		ORDER BY days.day`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "trend series")
	}
	defer rows.Close()
	points := []models.TrendPoint{}
	for rows.Next() {
		var p models.TrendPoint
		if err := rows.Scan(&p.Day, &p.Total, &p.Success, &p.Failure, &p.MeanDuration); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

func (r *executionRepository) Breakdown(ctx context.Context, scope AnalyticsScope, dimension BreakdownDimension) ([]models.BreakdownBucket, error) {
	var keyExpr string
	switch dimension {
	case BreakdownByHour:
		keyExpr = "EXTRACT(HOUR FROM started_at)::text"
	case BreakdownByTrigger:
		keyExpr = "triggered_by::text"
	case BreakdownByWorker:
		keyExpr = "worker_node_id"
	case BreakdownByServer:
		keyExpr = "server_instance"
	default:
		return nil, errors.Errorf("unknown breakdown dimension %q", dimension)
	}

	args := []interface{}{}
	clauses := append(scopeClauses(scope, &args), keyExpr+" IS NOT NULL")
	query := `
		SELECT ` + keyExpr + ` AS bucket,
			COUNT(*),
			COALESCE(SUM((execution_status = 'success')::int), 0),
			COALESCE(SUM((execution_status = 'failure')::int), 0)
		FROM job_executions` + whereOf(clauses) + `
		GROUP BY bucket
		ORDER BY bucket`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "breakdown by %s", dimension)
	}
	defer rows.Close()
	buckets := []models.BreakdownBucket{}
	for rows.Next() {
		var b models.BreakdownBucket
		if err := rows.Scan(&b.Key, &b.Total, &b.Success, &b.Failure); err != nil {
			return nil, err
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

func (r *executionRepository) TopErrorCodes(ctx context.Context, scope AnalyticsScope, limit int) ([]models.ErrorCodeGroup, error) {
	args := []interface{}{}
	clauses := append(scopeClauses(scope, &args),
		"execution_status = 'failure'", "error_code IS NOT NULL")
	args = append(args, limit)
	query := `
		SELECT error_code, COUNT(*), MIN(error_message), ARRAY_AGG(DISTINCT job_id)
		FROM job_executions` + whereOf(clauses) + `
		GROUP BY error_code
		ORDER BY COUNT(*) DESC, error_code ASC
		LIMIT $` + fmt.Sprint(len(args))
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "top error codes")
	}
	defer rows.Close()
	groups := []models.ErrorCodeGroup{}
	for rows.Next() {
		var g models.ErrorCodeGroup
		if err := rows.Scan(&g.ErrorCode, &g.Count, &g.SampleMessage, pq.Array(&g.AffectedJobIDs)); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (r *executionRepository) StepFailures(ctx context.Context, scope AnalyticsScope) ([]models.StepFailureCount, error) {
	args := []interface{}{}
	clauses := append(scopeClauses(scope, &args),
		"execution_status = 'failure'", "error_step_id IS NOT NULL")
	query := `
		SELECT error_step_id, COUNT(*)
		FROM job_executions` + whereOf(clauses) + `
		GROUP BY error_step_id
		ORDER BY COUNT(*) DESC, error_step_id ASC`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "step failures")
	}
	defer rows.Close()
	counts := []models.StepFailureCount{}
	for rows.Next() {
		var c models.StepFailureCount
		if err := rows.Scan(&c.StepID, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// FailurePatterns clusters failures on error_code plus error_step_id.
func (r *executionRepository) FailurePatterns(ctx context.Context, scope AnalyticsScope, limit int) ([]models.FailurePattern, error) {
	args := []interface{}{}
	clauses := append(scopeClauses(scope, &args), "execution_status = 'failure'")
	args = append(args, limit)
	query := `
		SELECT
			COALESCE(error_code, '') || '/' || COALESCE(error_step_id, '') AS pattern,
			MIN(error_code), MIN(error_step_id),
			COUNT(*), MIN(error_message), ARRAY_AGG(DISTINCT job_id)
		FROM job_executions` + whereOf(clauses) + `
		GROUP BY pattern
		ORDER BY COUNT(*) DESC, pattern ASC
		LIMIT $` + fmt.Sprint(len(args))
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failure patterns")
	}
	defer rows.Close()
	patterns := []models.FailurePattern{}
	for rows.Next() {
		var p models.FailurePattern
		if err := rows.Scan(&p.Pattern, &p.ErrorCode, &p.ErrorStepID, &p.Count, &p.SampleMessage, pq.Array(&p.JobIDs)); err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

func (r *executionRepository) SLACounts(ctx context.Context, scope AnalyticsScope) (models.SLACompliance, error) {
	args := []interface{}{}
	where := whereOf(scopeClauses(scope, &args))
	query := `
		SELECT
			COALESCE(SUM((sla_breached IS NOT NULL)::int), 0),
			COALESCE(SUM((sla_breached IS TRUE)::int), 0)
		FROM job_executions` + where
	var sla models.SLACompliance
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&sla.Evaluated, &sla.Breached); err != nil {
		return sla, errors.Wrap(err, "sla counts")
	}
	if sla.Evaluated > 0 {
		rate := float64(sla.Breached) / float64(sla.Evaluated)
		sla.BreachRate = &rate
	}
	return sla, nil
}

func (r *executionRepository) Slowest(ctx context.Context, scope AnalyticsScope, limit int) ([]models.JobExecution, error) {
	args := []interface{}{}
	clauses := append(scopeClauses(scope, &args), "duration_seconds IS NOT NULL")
	args = append(args, limit)
	query := `
		SELECT ` + executionColumns + `
		FROM job_executions` + whereOf(clauses) + `
		ORDER BY duration_seconds DESC, id ASC
		LIMIT $` + fmt.Sprint(len(args))
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "slowest executions")
	}
	return collectExecutions(rows)
}

// TerminalWithDuration feeds the outlier, anomaly and resource reports with
// completed rows, newest first.
func (r *executionRepository) TerminalWithDuration(ctx context.Context, scope AnalyticsScope, limit int) ([]models.JobExecution, error) {
	args := []interface{}{}
	clauses := append(scopeClauses(scope, &args), "duration_seconds IS NOT NULL")
	args = append(args, limit)
	query := `
		SELECT ` + executionColumns + `
		FROM job_executions` + whereOf(clauses) + listOrder + `
		LIMIT $` + fmt.Sprint(len(args))
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "terminal executions with duration")
	}
	return collectExecutions(rows)
}

// JobDurationHistory returns recent successful durations for one job, used
// by the completion forecast.
func (r *executionRepository) JobDurationHistory(ctx context.Context, jobID string, limit int) ([]float64, error) {
	query := `
		SELECT duration_seconds
		FROM job_executions
		WHERE job_id = $1 AND execution_status = 'success' AND duration_seconds IS NOT NULL
		ORDER BY completed_at DESC
		LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, jobID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "job duration history")
	}
	defer rows.Close()
	history := []float64{}
	for rows.Next() {
		var d float64
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		history = append(history, d)
	}
	return history, rows.Err()
}

package repository

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/jobtrace/jobtrace-api/internal/models"
)

// ArchiveOlderThan archives one batch of terminal executions completed
// before the cutoff. Callers loop until zero rows are affected, so a retried
// call simply resumes where the previous one stopped.
func (r *executionRepository) ArchiveOlderThan(ctx context.Context, cutoff time.Time, jobID *string, batchSize int) (int64, error) {
	query := `
		WITH batch AS (
			SELECT id FROM job_executions
			WHERE archived = FALSE
			  AND execution_status IN ('success', 'failure', 'aborted', 'timeout', 'cancelled')
			  AND completed_at < $1
			  AND ($2::text IS NULL OR job_id = $2)
			LIMIT $3
		)
		UPDATE job_executions je
		SET archived = TRUE, archived_at = now(), updated_at = now()
		FROM batch
		WHERE je.id = batch.id`
	res, err := r.db.ExecContext(ctx, query, cutoff, jobID, batchSize)
	if err != nil {
		return 0, errors.Wrap(err, "archive old executions")
	}
	return res.RowsAffected()
}

// DeleteArchivedBefore permanently deletes one batch of archived executions
// whose run ended before the cutoff. The archived guard means no live row is
// ever deleted, regardless of age. Each batch is a single DELETE, so a batch
// either lands fully or not at all.
func (r *executionRepository) DeleteArchivedBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	query := `
		DELETE FROM job_executions
		WHERE id IN (
			SELECT id FROM job_executions
			WHERE archived = TRUE
			  AND COALESCE(completed_at, created_at) < $1
			LIMIT $2
		)`
	res, err := r.db.ExecContext(ctx, query, cutoff, batchSize)
	if err != nil {
		return 0, errors.Wrap(err, "delete archived executions")
	}
	return res.RowsAffected()
}

// Partitions reports the logical execution_date partitions, newest first.
func (r *executionRepository) Partitions(ctx context.Context, limit int) ([]models.PartitionInfo, error) {
	query := `
		SELECT
			execution_date,
			COUNT(*),
			COALESCE(SUM(archived::int), 0),
			COALESCE(SUM(pg_column_size(je.*)), 0)
		FROM job_executions je
		GROUP BY execution_date
		ORDER BY execution_date DESC
		LIMIT $1`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list partitions")
	}
	defer rows.Close()
	partitions := []models.PartitionInfo{}
	for rows.Next() {
		var p models.PartitionInfo
		if err := rows.Scan(&p.Day, &p.RowCount, &p.ArchivedCount, &p.SizeBytes); err != nil {
			return nil, err
		}
		partitions = append(partitions, p)
	}
	return partitions, rows.Err()
}

// CleanupPreview reports what DeleteArchivedBefore would remove, without
// touching anything.
func (r *executionRepository) CleanupPreview(ctx context.Context, cutoff time.Time) (models.CleanupPreview, error) {
	query := `
		SELECT COUNT(*), MIN(execution_date), MAX(execution_date)
		FROM job_executions
		WHERE archived = TRUE
		  AND COALESCE(completed_at, created_at) < $1`
	var preview models.CleanupPreview
	err := r.db.QueryRowContext(ctx, query, cutoff).Scan(&preview.Eligible, &preview.OldestDay, &preview.NewestDay)
	if err != nil {
		return preview, errors.Wrap(err, "cleanup preview")
	}
	return preview, nil
}

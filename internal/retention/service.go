package retention

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/jobtrace/jobtrace-api/internal/apperr"
	"github.com/jobtrace/jobtrace-api/internal/config"
	"github.com/jobtrace/jobtrace-api/internal/models"
	"github.com/jobtrace/jobtrace-api/internal/repository"
)

// Service owns archival and cleanup. Bulk operations work in bounded
// batches and are safe to re-invoke after a timed-out call: each pass simply
// continues from whatever the previous one left behind.
type Service struct {
	repo   repository.ExecutionRepository
	cfg    config.RetentionConfig
	logger zerolog.Logger
}

func NewService(repo repository.ExecutionRepository, cfg config.RetentionConfig, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		cfg:    cfg,
		logger: logger.With().Str("component", "retention").Logger(),
	}
}

// BulkArchive archives each id independently and reports a per-id outcome.
// Missing and already-archived ids are recorded, not raised, so one bad id
// never fails the batch.
func (s *Service) BulkArchive(ctx context.Context, ids []string, userID string) ([]models.BulkOutcome, error) {
	if len(ids) == 0 {
		return []models.BulkOutcome{}, apperr.NewValidation("execution_ids", "at least one id is required")
	}
	outcomes := make([]models.BulkOutcome, 0, len(ids))
	for _, id := range ids {
		_, changed, err := s.repo.Archive(ctx, id)
		switch {
		case err == nil && changed:
			outcomes = append(outcomes, models.BulkOutcome{ID: id, Status: "archived"})
		case err == nil:
			outcomes = append(outcomes, models.BulkOutcome{ID: id, Status: "already_archived"})
		case apperr.IsNotFound(err):
			outcomes = append(outcomes, models.BulkOutcome{ID: id, Status: "not_found"})
		default:
			outcomes = append(outcomes, models.BulkOutcome{ID: id, Status: "error", Error: err.Error()})
		}
	}
	s.logger.Info().Str("user_id", userID).Int("requested", len(ids)).Msg("bulk archive finished")
	return outcomes, nil
}

// ArchiveOld archives all terminal executions completed before the cutoff,
// optionally scoped to one job, looping in batches until none remain.
func (s *Service) ArchiveOld(ctx context.Context, olderThanDays int, jobID *string, userID string) (int64, error) {
	if olderThanDays <= 0 {
		return 0, apperr.NewValidation("older_than_days", "must be positive")
	}
	cutoff := time.Now().AddDate(0, 0, -olderThanDays)
	var total int64
	for {
		archived, err := s.repo.ArchiveOlderThan(ctx, cutoff, jobID, s.cfg.BatchSize)
		if err != nil {
			return total, err
		}
		total += archived
		if archived < int64(s.cfg.BatchSize) {
			break
		}
	}
	s.logger.Info().
		Str("user_id", userID).
		Int("older_than_days", olderThanDays).
		Int64("archived", total).
		Msg("archived old executions")
	return total, nil
}

// CleanupArchived permanently deletes archived executions past the cutoff.
// The only destructive operation in the core; non-archived rows are never
// touched regardless of age.
func (s *Service) CleanupArchived(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays <= 0 {
		olderThanDays = s.cfg.CleanupDays
	}
	cutoff := time.Now().AddDate(0, 0, -olderThanDays)
	var total int64
	for {
		deleted, err := s.repo.DeleteArchivedBefore(ctx, cutoff, s.cfg.BatchSize)
		if err != nil {
			return total, err
		}
		total += deleted
		if deleted < int64(s.cfg.BatchSize) {
			break
		}
	}
	s.logger.Info().
		Int("older_than_days", olderThanDays).
		Int64("deleted", total).
		Msg("cleaned up archived executions")
	return total, nil
}

// Partitions reports the logical execution_date partitions.
func (s *Service) Partitions(ctx context.Context, limit int) ([]models.PartitionInfo, error) {
	if limit <= 0 {
		limit = 90
	}
	return s.repo.Partitions(ctx, limit)
}

// PendingCleanup reports what CleanupArchived would delete, without deleting.
func (s *Service) PendingCleanup(ctx context.Context, olderThanDays int) (models.CleanupPreview, error) {
	if olderThanDays <= 0 {
		olderThanDays = s.cfg.CleanupDays
	}
	preview, err := s.repo.CleanupPreview(ctx, time.Now().AddDate(0, 0, -olderThanDays))
	if err != nil {
		return preview, err
	}
	preview.CutoffDays = olderThanDays
	return preview, nil
}

package query

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jobtrace/jobtrace-api/internal/cache"
	"github.com/jobtrace/jobtrace-api/internal/config"
	"github.com/jobtrace/jobtrace-api/internal/lifecycle"
	"github.com/jobtrace/jobtrace-api/internal/models"
	"github.com/jobtrace/jobtrace-api/internal/repository"
)

// Options controls pagination and cache behavior for one list call.
type Options struct {
	Limit     int
	Offset    int
	SkipCache bool
}

// Service is the read-only query and filter engine. Every list returns the
// standard {data, pagination} envelope, ordered most recently started first
// with id as the tie-break so pages are stable.
type Service struct {
	repo   repository.ExecutionRepository
	cache  cache.Cache
	policy lifecycle.JobPolicy
	cfg    config.QueryConfig
	logger zerolog.Logger
}

func NewService(repo repository.ExecutionRepository, c cache.Cache, policy lifecycle.JobPolicy, cfg config.QueryConfig, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		cache:  c,
		policy: policy,
		cfg:    cfg,
		logger: logger.With().Str("component", "query").Logger(),
	}
}

func (s *Service) clamp(opts Options) Options {
	if opts.Limit <= 0 {
		opts.Limit = s.cfg.DefaultLimit
	}
	if opts.Limit > s.cfg.MaxLimit {
		opts.Limit = s.cfg.MaxLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	return opts
}

// GetByID reads one execution, with the running-row SLA decoration applied.
func (s *Service) GetByID(ctx context.Context, id string) (models.JobExecution, error) {
	exec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return exec, err
	}
	lifecycle.DecorateSLA(&exec, s.policy, time.Now())
	return exec, nil
}

// GetByTraceID resolves the unique trace id to exactly one execution.
func (s *Service) GetByTraceID(ctx context.Context, traceID string) (models.JobExecution, error) {
	exec, err := s.repo.GetByTraceID(ctx, traceID)
	if err != nil {
		return exec, err
	}
	lifecycle.DecorateSLA(&exec, s.policy, time.Now())
	return exec, nil
}

// Search is the generic multi-field lookup; all other list operations are
// specializations of it.
func (s *Service) Search(ctx context.Context, filter models.ExecutionFilter, opts Options) (models.ExecutionPage, error) {
	return s.page(ctx, repository.SearchQuery{Filter: filter}, opts)
}

func (s *Service) ListByJob(ctx context.Context, jobID string, opts Options) (models.ExecutionPage, error) {
	return s.Search(ctx, models.ExecutionFilter{JobID: &jobID}, opts)
}

func (s *Service) ListByStatus(ctx context.Context, status models.ExecutionStatus, opts Options) (models.ExecutionPage, error) {
	return s.Search(ctx, models.ExecutionFilter{ExecutionStatus: &status}, opts)
}

// ListByDateRange lists executions started within [start, end], inclusive.
func (s *Service) ListByDateRange(ctx context.Context, start, end time.Time, opts Options) (models.ExecutionPage, error) {
	return s.Search(ctx, models.ExecutionFilter{StartedAtMin: &start, StartedAtMax: &end}, opts)
}

// ListByCorrelationID lists the zero-to-many executions sharing one
// correlation id.
func (s *Service) ListByCorrelationID(ctx context.Context, correlationID string, opts Options) (models.ExecutionPage, error) {
	return s.page(ctx, repository.SearchQuery{CorrelationID: &correlationID}, opts)
}

// ListFailed lists failures from the last daysBack days, optionally scoped
// to one job.
func (s *Service) ListFailed(ctx context.Context, daysBack int, jobID *string, opts Options) (models.ExecutionPage, error) {
	since := daysAgo(daysBack)
	status := models.StatusFailure
	return s.Search(ctx, models.ExecutionFilter{
		ExecutionStatus: &status,
		StartedAtMin:    &since,
		JobID:           jobID,
	}, opts)
}

// runningSnapshotLimit bounds how many running rows one SLA sweep evaluates.
const runningSnapshotLimit = 1000

// ListSLABreached lists SLA-breaching executions from the last daysBack days.
// The persisted flag only exists on terminal rows, so running executions are
// evaluated against the job policy here and listed first: a breach in flight
// is the one a caller wants to see before it completes.
func (s *Service) ListSLABreached(ctx context.Context, daysBack int, opts Options) (models.ExecutionPage, error) {
	opts = s.clamp(opts)
	since := daysAgo(daysBack)

	key := s.cacheKey("sla_breached", daysBack, opts.Limit, opts.Offset)
	if !opts.SkipCache {
		var cached models.ExecutionPage
		if s.cache.Get(ctx, key, &cached) {
			return cached, nil
		}
	}

	running, err := s.runningBreached(ctx, since)
	if err != nil {
		return models.ExecutionPage{}, err
	}

	data := []models.JobExecution{}
	if opts.Offset < len(running) {
		end := opts.Offset + opts.Limit
		if end > len(running) {
			end = len(running)
		}
		data = append(data, running[opts.Offset:end]...)
	}

	breached := true
	flaggedOffset := opts.Offset - len(running)
	if flaggedOffset < 0 {
		flaggedOffset = 0
	}
	flagged, flaggedTotal, err := s.repo.Search(ctx, repository.SearchQuery{
		Filter: models.ExecutionFilter{SLABreached: &breached, StartedAtMin: &since},
		Limit:  opts.Limit - len(data),
		Offset: flaggedOffset,
	})
	if err != nil {
		return models.ExecutionPage{}, err
	}
	data = append(data, flagged...)

	total := len(running) + flaggedTotal
	page := models.ExecutionPage{
		Data: data,
		Pagination: models.Pagination{
			Limit:   opts.Limit,
			Offset:  opts.Offset,
			Total:   total,
			HasMore: opts.Offset+len(data) < total,
		},
	}
	s.cache.Set(ctx, key, page)
	return page, nil
}

// runningBreached snapshots running executions in the window and keeps those
// whose elapsed time already exceeds the job's SLA. The snapshot is bounded;
// running rows are limited by worker capacity, not by table size.
func (s *Service) runningBreached(ctx context.Context, since time.Time) ([]models.JobExecution, error) {
	status := models.StatusRunning
	rows, _, err := s.repo.Search(ctx, repository.SearchQuery{
		Filter: models.ExecutionFilter{ExecutionStatus: &status, StartedAtMin: &since},
		Limit:  runningSnapshotLimit,
	})
	if err != nil {
		return nil, err
	}
	now := time.Now()
	breached := []models.JobExecution{}
	for i := range rows {
		lifecycle.DecorateSLA(&rows[i], s.policy, now)
		if rows[i].SLABreached != nil && *rows[i].SLABreached {
			breached = append(breached, rows[i])
		}
	}
	return breached, nil
}

// ListActive lists executions currently in running; a live snapshot under
// the usual polling contract.
func (s *Service) ListActive(ctx context.Context, opts Options) (models.ExecutionPage, error) {
	return s.ListByStatus(ctx, models.StatusRunning, opts)
}

func (s *Service) ListQueued(ctx context.Context, opts Options) (models.ExecutionPage, error) {
	return s.ListByStatus(ctx, models.StatusQueued, opts)
}

// ListLongRunning lists running executions whose elapsed time passed the
// configured threshold (default 60 minutes).
func (s *Service) ListLongRunning(ctx context.Context, opts Options) (models.ExecutionPage, error) {
	opts = s.clamp(opts)
	threshold := time.Duration(s.cfg.LongRunningMinutes) * time.Minute

	key := s.cacheKey("long_running", threshold, opts.Limit, opts.Offset)
	if !opts.SkipCache {
		var cached models.ExecutionPage
		if s.cache.Get(ctx, key, &cached) {
			return cached, nil
		}
	}

	executions, total, err := s.repo.ListLongRunning(ctx, threshold, opts.Limit, opts.Offset)
	if err != nil {
		return models.ExecutionPage{}, err
	}
	page := s.envelope(executions, total, opts)
	s.cache.Set(ctx, key, page)
	return page, nil
}

func (s *Service) page(ctx context.Context, q repository.SearchQuery, opts Options) (models.ExecutionPage, error) {
	opts = s.clamp(opts)
	q.Limit = opts.Limit
	q.Offset = opts.Offset

	key := s.cacheKey("search", q)
	if !opts.SkipCache {
		var cached models.ExecutionPage
		if s.cache.Get(ctx, key, &cached) {
			return cached, nil
		}
	}

	executions, total, err := s.repo.Search(ctx, q)
	if err != nil {
		return models.ExecutionPage{}, err
	}
	page := s.envelope(executions, total, opts)
	s.cache.Set(ctx, key, page)
	return page, nil
}

func (s *Service) envelope(executions []models.JobExecution, total int, opts Options) models.ExecutionPage {
	now := time.Now()
	for i := range executions {
		lifecycle.DecorateSLA(&executions[i], s.policy, now)
	}
	return models.ExecutionPage{
		Data: executions,
		Pagination: models.Pagination{
			Limit:   opts.Limit,
			Offset:  opts.Offset,
			Total:   total,
			HasMore: opts.Offset+len(executions) < total,
		},
	}
}

func (s *Service) cacheKey(kind string, parts ...interface{}) string {
	encoded, err := json.Marshal(parts)
	if err != nil {
		return fmt.Sprintf("executions:%s:%v", kind, parts)
	}
	return fmt.Sprintf("executions:%s:%s", kind, encoded)
}

func daysAgo(days int) time.Time {
	if days <= 0 {
		days = 7
	}
	return time.Now().AddDate(0, 0, -days)
}

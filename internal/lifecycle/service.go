package lifecycle

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/jobtrace/jobtrace-api/internal/apperr"
	"github.com/jobtrace/jobtrace-api/internal/models"
	"github.com/jobtrace/jobtrace-api/internal/notification"
	"github.com/jobtrace/jobtrace-api/internal/repository"
)

const abortedDefaultMessage = "aborted"

// CreateInput is the request to record a new execution. JobID and the
// triggering principal are mandatory; everything else is optional.
type CreateInput struct {
	JobID             string             `json:"job_id"`
	TriggeredBy       models.TriggerType `json:"triggered_by"`
	TriggeredByUserID string             `json:"triggered_by_user_id"`
	ServerInstance    *string            `json:"server_instance"`
	WorkerNodeID      *string            `json:"worker_node_id"`
	TraceID           *string            `json:"trace_id"`
	CorrelationID     *string            `json:"correlation_id"`
	ExecutionContext  json.RawMessage    `json:"execution_context"`
}

// CompleteInput carries the terminal data for a successful run.
type CompleteInput struct {
	DurationSeconds *float64                 `json:"duration_seconds"`
	Metrics         *models.ExecutionMetrics `json:"metrics"`
}

// FailInput carries the failure diagnostics for a failed run.
type FailInput struct {
	ErrorMessage string          `json:"error_message"`
	ErrorCode    *string         `json:"error_code"`
	ErrorStepID  *string         `json:"error_step_id"`
	ErrorDetails json.RawMessage `json:"error_details"`
}

// Service is the state machine and mutation service: every status change,
// metric merge and archive flows through here, guarded by the transition
// table in models.
type Service struct {
	repo     repository.ExecutionRepository
	policy   JobPolicy
	notifier notification.Notifier
	logger   zerolog.Logger
}

func NewService(repo repository.ExecutionRepository, policy JobPolicy, notifier notification.Notifier, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		policy:   policy,
		notifier: notifier,
		logger:   logger.With().Str("component", "lifecycle").Logger(),
	}
}

// Create records a new execution in pending. It does not start the job.
func (s *Service) Create(ctx context.Context, in CreateInput) (models.JobExecution, error) {
	if in.JobID == "" {
		return models.JobExecution{}, apperr.NewValidation("job_id", "required")
	}
	if in.TriggeredByUserID == "" {
		return models.JobExecution{}, apperr.NewValidation("triggered_by_user_id", "required")
	}
	if in.TriggeredBy == "" {
		in.TriggeredBy = models.TriggerManual
	}
	if !models.IsValidTrigger(in.TriggeredBy) {
		return models.JobExecution{}, apperr.NewValidation("triggered_by", "unknown trigger type")
	}

	exec, err := s.repo.Create(ctx, repository.CreateExecutionParams{
		JobID:             in.JobID,
		TriggeredBy:       in.TriggeredBy,
		TriggeredByUserID: &in.TriggeredByUserID,
		ServerInstance:    in.ServerInstance,
		WorkerNodeID:      in.WorkerNodeID,
		TraceID:           in.TraceID,
		CorrelationID:     in.CorrelationID,
		ExecutionContext:  in.ExecutionContext,
	})
	if err != nil {
		return exec, err
	}
	s.logger.Info().Str("execution_id", exec.ID).Str("job_id", exec.JobID).Msg("execution created")
	return exec, nil
}

// MarkStarted moves a pending or queued execution into running and stamps
// started_at. A repeat call fails with InvalidTransitionError.
func (s *Service) MarkStarted(ctx context.Context, id string, serverInstance, workerNodeID *string) (models.JobExecution, error) {
	exec, err := s.repo.Transition(ctx, repository.TransitionParams{
		ID:             id,
		From:           []models.ExecutionStatus{models.StatusPending, models.StatusQueued},
		To:             models.StatusRunning,
		SetStartedAt:   true,
		ServerInstance: serverInstance,
		WorkerNodeID:   workerNodeID,
	})
	if err != nil {
		return exec, err
	}
	s.notifier.ExecutionStarted(ctx, exec)
	return exec, nil
}

// MarkQueued moves a pending execution into queued.
func (s *Service) MarkQueued(ctx context.Context, id string) (models.JobExecution, error) {
	return s.repo.Transition(ctx, repository.TransitionParams{
		ID:   id,
		From: []models.ExecutionStatus{models.StatusPending},
		To:   models.StatusQueued,
	})
}

// MarkCompleted finishes a running execution as success, computing the
// duration from the wall clock unless one is supplied, merging any final
// metrics and recomputing the SLA flag.
func (s *Service) MarkCompleted(ctx context.Context, id string, in CompleteInput) (models.JobExecution, error) {
	if in.DurationSeconds != nil && *in.DurationSeconds < 0 {
		return models.JobExecution{}, apperr.NewValidation("duration_seconds", "must be non-negative")
	}
	exec, err := s.terminate(ctx, repository.TransitionParams{
		ID:              id,
		From:            []models.ExecutionStatus{models.StatusRunning},
		To:              models.StatusSuccess,
		DurationSeconds: in.DurationSeconds,
	})
	if err != nil {
		return exec, err
	}
	if in.Metrics != nil && !in.Metrics.IsEmpty() {
		// Final metrics ride along with completion, so the terminal guard
		// does not apply to this merge.
		exec, err = s.repo.MergeMetrics(ctx, id, *in.Metrics, false)
		if err != nil {
			return exec, err
		}
	}
	s.notifier.ExecutionFinished(ctx, exec)
	return exec, nil
}

// MarkFailed finishes a running execution as failure with diagnostics.
func (s *Service) MarkFailed(ctx context.Context, id string, in FailInput) (models.JobExecution, error) {
	if in.ErrorMessage == "" {
		return models.JobExecution{}, apperr.NewValidation("error_message", "required")
	}
	exec, err := s.terminate(ctx, repository.TransitionParams{
		ID:           id,
		From:         []models.ExecutionStatus{models.StatusRunning},
		To:           models.StatusFailure,
		ErrorMessage: &in.ErrorMessage,
		ErrorCode:    in.ErrorCode,
		ErrorStepID:  in.ErrorStepID,
		ErrorDetails: in.ErrorDetails,
	})
	if err != nil {
		return exec, err
	}
	s.notifier.ExecutionFinished(ctx, exec)
	return exec, nil
}

// MarkAborted terminates a running or queued execution as aborted.
func (s *Service) MarkAborted(ctx context.Context, id string, reason *string) (models.JobExecution, error) {
	message := abortedDefaultMessage
	if reason != nil && *reason != "" {
		message = *reason
	}
	exec, err := s.terminate(ctx, repository.TransitionParams{
		ID:           id,
		From:         []models.ExecutionStatus{models.StatusRunning, models.StatusQueued},
		To:           models.StatusAborted,
		ErrorMessage: &message,
	})
	if err != nil {
		return exec, err
	}
	s.notifier.ExecutionFinished(ctx, exec)
	return exec, nil
}

// MarkTimeout terminates a running execution as timed out. Normally driven
// by the timeout predicate, not called by users directly.
func (s *Service) MarkTimeout(ctx context.Context, id string) (models.JobExecution, error) {
	message := "execution timed out"
	exec, err := s.terminate(ctx, repository.TransitionParams{
		ID:           id,
		From:         []models.ExecutionStatus{models.StatusRunning},
		To:           models.StatusTimeout,
		ErrorMessage: &message,
	})
	if err != nil {
		return exec, err
	}
	s.notifier.ExecutionFinished(ctx, exec)
	return exec, nil
}

// MarkCancelled cancels an execution that has not started running.
func (s *Service) MarkCancelled(ctx context.Context, id string) (models.JobExecution, error) {
	return s.terminate(ctx, repository.TransitionParams{
		ID:   id,
		From: []models.ExecutionStatus{models.StatusPending, models.StatusQueued},
		To:   models.StatusCancelled,
	})
}

func (s *Service) terminate(ctx context.Context, params repository.TransitionParams) (models.JobExecution, error) {
	params.Terminal = true
	// The SLA threshold is external, per-job configuration; without one the
	// breach flag stays unset.
	current, err := s.repo.GetByID(ctx, params.ID)
	if err != nil {
		return models.JobExecution{}, err
	}
	params.SLASeconds = s.policy.SLASeconds(current.JobID)
	return s.repo.Transition(ctx, params)
}

// RecordMetrics merges a partial progress report. Legal any time before a
// terminal state; each field only ever grows.
func (s *Service) RecordMetrics(ctx context.Context, id string, metrics models.ExecutionMetrics) (models.JobExecution, error) {
	if metrics.IsEmpty() {
		return models.JobExecution{}, apperr.NewValidation("metrics", "at least one metric field is required")
	}
	return s.repo.MergeMetrics(ctx, id, metrics, true)
}

// UpdateStatus is the generic transition entry point. The target must be a
// legal successor of the current status; the transition table is never
// bypassed.
func (s *Service) UpdateStatus(ctx context.Context, id string, target models.ExecutionStatus) (models.JobExecution, error) {
	if !models.IsValidStatus(target) {
		return models.JobExecution{}, apperr.NewValidation("execution_status", "unknown status")
	}
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return models.JobExecution{}, err
	}
	if !current.ExecutionStatus.CanTransition(target) {
		return models.JobExecution{}, &apperr.InvalidTransitionError{
			ExecutionID: id,
			Current:     current.ExecutionStatus,
			Requested:   target,
		}
	}

	switch target {
	case models.StatusRunning:
		return s.MarkStarted(ctx, id, nil, nil)
	case models.StatusSuccess:
		return s.MarkCompleted(ctx, id, CompleteInput{})
	case models.StatusFailure:
		return s.MarkFailed(ctx, id, FailInput{ErrorMessage: "marked failed"})
	case models.StatusAborted:
		return s.MarkAborted(ctx, id, nil)
	case models.StatusTimeout:
		return s.MarkTimeout(ctx, id)
	case models.StatusCancelled:
		return s.MarkCancelled(ctx, id)
	case models.StatusQueued:
		return s.MarkQueued(ctx, id)
	default:
		return models.JobExecution{}, apperr.NewValidation("execution_status", "unsupported target status")
	}
}

// Update corrects metadata fields without touching the status.
func (s *Service) Update(ctx context.Context, id string, update repository.MetadataUpdate) (models.JobExecution, error) {
	return s.repo.UpdateMetadata(ctx, id, update)
}

// Archive flips the one-way archive flag. Idempotent: archiving an archived
// execution returns it unchanged.
func (s *Service) Archive(ctx context.Context, id string) (models.JobExecution, error) {
	exec, _, err := s.repo.Archive(ctx, id)
	return exec, err
}

// TimeoutStatus evaluates the timeout predicate for one execution on read.
func (s *Service) TimeoutStatus(ctx context.Context, id string) (TimeoutState, error) {
	exec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return TimeoutState{}, err
	}
	return EvaluateTimeout(exec, s.policy, time.Now()), nil
}

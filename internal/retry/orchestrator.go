package retry

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	tc "go.temporal.io/sdk/client"

	"github.com/jobtrace/jobtrace-api/internal/apperr"
	"github.com/jobtrace/jobtrace-api/internal/models"
	"github.com/jobtrace/jobtrace-api/internal/notification"
	"github.com/jobtrace/jobtrace-api/internal/repository"
	"github.com/jobtrace/jobtrace-api/internal/temporal"
)

// retryBatchLimit bounds how many failed executions one call will trigger.
const retryBatchLimit = 500

// WorkflowStarter is the slice of the Temporal client the orchestrator
// needs; narrowed for testability.
type WorkflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options tc.StartWorkflowOptions, workflow interface{}, args ...interface{}) (tc.WorkflowRun, error)
}

// Result reports what one RetryFailed call did.
type Result struct {
	JobID     string               `json:"job_id"`
	Matched   int                  `json:"matched"`
	Triggered int                  `json:"triggered"`
	Outcomes  []models.BulkOutcome `json:"outcomes"`
}

// Orchestrator finds failed executions and signals the external scheduler to
// re-run them. It mutates nothing: the failed rows stay exactly as they are,
// and the scheduler creates fresh execution records through the normal
// create path with triggered_by=retry.
type Orchestrator struct {
	repo     repository.ExecutionRepository
	client   WorkflowStarter
	notifier notification.Notifier
	logger   zerolog.Logger
}

func NewOrchestrator(repo repository.ExecutionRepository, client WorkflowStarter, notifier notification.Notifier, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		repo:     repo,
		client:   client,
		notifier: notifier,
		logger:   logger.With().Str("component", "retry").Logger(),
	}
}

// RetryFailed triggers re-execution for the job's failures within the
// window. Per-item trigger failures are collected rather than aborting the
// batch; an unreachable scheduler is a DependencyError.
func (o *Orchestrator) RetryFailed(ctx context.Context, jobID string, daysBack int, userID string) (Result, error) {
	if jobID == "" {
		return Result{}, apperr.NewValidation("job_id", "required")
	}
	if userID == "" {
		return Result{}, apperr.NewValidation("user_id", "required")
	}
	if daysBack <= 0 {
		daysBack = 7
	}
	if o.client == nil {
		return Result{}, &apperr.DependencyError{
			Dependency: "scheduler",
			Err:        errors.New("temporal client not configured"),
		}
	}

	since := time.Now().AddDate(0, 0, -daysBack)
	failed, err := o.repo.ListFailedSince(ctx, &jobID, since, retryBatchLimit)
	if err != nil {
		return Result{}, err
	}

	result := Result{JobID: jobID, Matched: len(failed), Outcomes: make([]models.BulkOutcome, 0, len(failed))}
	for _, exec := range failed {
		options := tc.StartWorkflowOptions{
			ID:        temporal.RetryWorkflowIDPrefix + uuid.NewString(),
			TaskQueue: temporal.TaskQueueName,
		}
		startCtx, cancel := context.WithTimeout(ctx, temporal.DefaultStartTimeout)
		_, startErr := o.client.ExecuteWorkflow(startCtx, options, temporal.RetryWorkflowName, temporal.RetryParams{
			JobID:             exec.JobID,
			SourceExecutionID: exec.ID,
			TriggeredBy:       string(models.TriggerRetry),
			RequestedByUserID: userID,
		})
		cancel()
		if startErr != nil {
			o.logger.Error().Err(startErr).Str("execution_id", exec.ID).Msg("retry trigger failed")
			result.Outcomes = append(result.Outcomes, models.BulkOutcome{
				ID:     exec.ID,
				Status: "error",
				Error:  (&apperr.DependencyError{Dependency: "scheduler", Err: startErr}).Error(),
			})
			continue
		}
		result.Triggered++
		result.Outcomes = append(result.Outcomes, models.BulkOutcome{ID: exec.ID, Status: "retried"})
		o.notifier.RetryRequested(ctx, exec.JobID, exec.ID, userID)
	}

	o.logger.Info().
		Str("job_id", jobID).
		Int("matched", result.Matched).
		Int("triggered", result.Triggered).
		Msg("retry batch finished")
	return result, nil
}

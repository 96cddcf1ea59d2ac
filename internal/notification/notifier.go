package notification

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/jobtrace/jobtrace-api/internal/models"
)

// Notifier is the outbound port for execution lifecycle events. Delivery
// (email, push, UI feeds) belongs to an external subsystem; this core only
// emits. Implementations must not block the mutation path.
type Notifier interface {
	ExecutionStarted(ctx context.Context, exec models.JobExecution)
	ExecutionFinished(ctx context.Context, exec models.JobExecution)
	RetryRequested(ctx context.Context, jobID, executionID, userID string)
}

// LogNotifier is the in-repo implementation: it writes lifecycle events to
// the structured log and nothing else.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "notifier").Logger()}
}

func (n *LogNotifier) ExecutionStarted(ctx context.Context, exec models.JobExecution) {
	n.logger.Info().
		Str("execution_id", exec.ID).
		Str("job_id", exec.JobID).
		Msg("execution started")
}

func (n *LogNotifier) ExecutionFinished(ctx context.Context, exec models.JobExecution) {
	evt := n.logger.Info()
	if exec.ExecutionStatus == models.StatusFailure || exec.ExecutionStatus == models.StatusTimeout {
		evt = n.logger.Warn()
	}
	evt.
		Str("execution_id", exec.ID).
		Str("job_id", exec.JobID).
		Str("status", string(exec.ExecutionStatus)).
		Msg("execution finished")
}

func (n *LogNotifier) RetryRequested(ctx context.Context, jobID, executionID, userID string) {
	n.logger.Info().
		Str("job_id", jobID).
		Str("execution_id", executionID).
		Str("user_id", userID).
		Msg("retry requested")
}

package retry

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "go.temporal.io/sdk/client"

	"github.com/jobtrace/jobtrace-api/internal/apperr"
	"github.com/jobtrace/jobtrace-api/internal/models"
	"github.com/jobtrace/jobtrace-api/internal/repository"
	"github.com/jobtrace/jobtrace-api/internal/temporal"
)

type fakeRepo struct {
	repository.ExecutionRepository

	failed []models.JobExecution
}

func (f *fakeRepo) ListFailedSince(_ context.Context, jobID *string, since time.Time, limit int) ([]models.JobExecution, error) {
	return f.failed, nil
}

type startedWorkflow struct {
	options  tc.StartWorkflowOptions
	workflow interface{}
	args     []interface{}
}

type fakeStarter struct {
	started []startedWorkflow
	failOn  map[string]error
}

func (f *fakeStarter) ExecuteWorkflow(_ context.Context, options tc.StartWorkflowOptions, workflow interface{}, args ...interface{}) (tc.WorkflowRun, error) {
	if len(args) == 1 {
		if params, ok := args[0].(temporal.RetryParams); ok {
			if err, failing := f.failOn[params.SourceExecutionID]; failing {
				return nil, err
			}
		}
	}
	f.started = append(f.started, startedWorkflow{options: options, workflow: workflow, args: args})
	return nil, nil
}

type recordingNotifier struct {
	retries int
}

func (*recordingNotifier) ExecutionStarted(context.Context, models.JobExecution)  {}
func (*recordingNotifier) ExecutionFinished(context.Context, models.JobExecution) {}
func (n *recordingNotifier) RetryRequested(context.Context, string, string, string) {
	n.retries++
}

func failedExec(id string) models.JobExecution {
	return models.JobExecution{ID: id, JobID: "daily-report", ExecutionStatus: models.StatusFailure}
}

func TestRetryFailedValidation(t *testing.T) {
	o := NewOrchestrator(&fakeRepo{}, &fakeStarter{}, &recordingNotifier{}, zerolog.Nop())

	_, err := o.RetryFailed(context.Background(), "", 7, "user-1")
	assert.True(t, apperr.IsValidation(err))

	_, err = o.RetryFailed(context.Background(), "daily-report", 7, "")
	assert.True(t, apperr.IsValidation(err))
}

func TestRetryFailedWithoutScheduler(t *testing.T) {
	o := NewOrchestrator(&fakeRepo{}, nil, &recordingNotifier{}, zerolog.Nop())

	_, err := o.RetryFailed(context.Background(), "daily-report", 7, "user-1")
	assert.True(t, apperr.IsDependency(err))
}

func TestRetryFailedTriggersWorkflowPerFailure(t *testing.T) {
	repo := &fakeRepo{failed: []models.JobExecution{failedExec("ex-1"), failedExec("ex-2")}}
	starter := &fakeStarter{}
	notifier := &recordingNotifier{}
	o := NewOrchestrator(repo, starter, notifier, zerolog.Nop())

	result, err := o.RetryFailed(context.Background(), "daily-report", 7, "user-1")
	require.NoError(t, err)

	assert.Equal(t, 2, result.Matched)
	assert.Equal(t, 2, result.Triggered)
	require.Len(t, starter.started, 2)
	assert.Equal(t, 2, notifier.retries)

	first := starter.started[0]
	assert.Equal(t, temporal.TaskQueueName, first.options.TaskQueue)
	assert.True(t, strings.HasPrefix(first.options.ID, temporal.RetryWorkflowIDPrefix))
	assert.Equal(t, temporal.RetryWorkflowName, first.workflow)

	require.Len(t, first.args, 1)
	params, ok := first.args[0].(temporal.RetryParams)
	require.True(t, ok)
	assert.Equal(t, "daily-report", params.JobID)
	assert.Equal(t, "ex-1", params.SourceExecutionID)
	assert.Equal(t, string(models.TriggerRetry), params.TriggeredBy)
	assert.Equal(t, "user-1", params.RequestedByUserID)
}

func TestRetryFailedCollectsPerItemErrors(t *testing.T) {
	repo := &fakeRepo{failed: []models.JobExecution{failedExec("ex-1"), failedExec("ex-2"), failedExec("ex-3")}}
	starter := &fakeStarter{failOn: map[string]error{"ex-2": errors.New("namespace not found")}}
	o := NewOrchestrator(repo, starter, &recordingNotifier{}, zerolog.Nop())

	result, err := o.RetryFailed(context.Background(), "daily-report", 7, "user-1")
	require.NoError(t, err)

	assert.Equal(t, 3, result.Matched)
	assert.Equal(t, 2, result.Triggered)
	require.Len(t, result.Outcomes, 3)
	assert.Equal(t, "retried", result.Outcomes[0].Status)
	assert.Equal(t, "error", result.Outcomes[1].Status)
	assert.Contains(t, result.Outcomes[1].Error, "scheduler")
	assert.Equal(t, "retried", result.Outcomes[2].Status)
}

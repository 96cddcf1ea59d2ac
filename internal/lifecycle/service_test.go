package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobtrace/jobtrace-api/internal/apperr"
	"github.com/jobtrace/jobtrace-api/internal/models"
	"github.com/jobtrace/jobtrace-api/internal/repository"
)

// fakeRepo overrides only the methods a test exercises; anything else panics
// through the embedded nil interface.
type fakeRepo struct {
	repository.ExecutionRepository

	createFn       func(ctx context.Context, params repository.CreateExecutionParams) (models.JobExecution, error)
	getByIDFn      func(ctx context.Context, id string) (models.JobExecution, error)
	transitionFn   func(ctx context.Context, params repository.TransitionParams) (models.JobExecution, error)
	mergeMetricsFn func(ctx context.Context, id string, metrics models.ExecutionMetrics, requireActive bool) (models.JobExecution, error)
	archiveFn      func(ctx context.Context, id string) (models.JobExecution, bool, error)
}

func (f *fakeRepo) Create(ctx context.Context, params repository.CreateExecutionParams) (models.JobExecution, error) {
	return f.createFn(ctx, params)
}

func (f *fakeRepo) GetByID(ctx context.Context, id string) (models.JobExecution, error) {
	return f.getByIDFn(ctx, id)
}

func (f *fakeRepo) Transition(ctx context.Context, params repository.TransitionParams) (models.JobExecution, error) {
	return f.transitionFn(ctx, params)
}

func (f *fakeRepo) MergeMetrics(ctx context.Context, id string, metrics models.ExecutionMetrics, requireActive bool) (models.JobExecution, error) {
	return f.mergeMetricsFn(ctx, id, metrics, requireActive)
}

func (f *fakeRepo) Archive(ctx context.Context, id string) (models.JobExecution, bool, error) {
	return f.archiveFn(ctx, id)
}

type fixedPolicy struct {
	sla     *float64
	timeout *float64
}

func (p fixedPolicy) SLASeconds(string) *float64     { return p.sla }
func (p fixedPolicy) TimeoutSeconds(string) *float64 { return p.timeout }

type noopNotifier struct{}

func (noopNotifier) ExecutionStarted(context.Context, models.JobExecution)  {}
func (noopNotifier) ExecutionFinished(context.Context, models.JobExecution) {}
func (noopNotifier) RetryRequested(context.Context, string, string, string) {}

func newService(repo repository.ExecutionRepository, policy JobPolicy) *Service {
	return NewService(repo, policy, noopNotifier{}, zerolog.Nop())
}

func TestCreateValidation(t *testing.T) {
	svc := newService(&fakeRepo{}, fixedPolicy{})

	_, err := svc.Create(context.Background(), CreateInput{TriggeredByUserID: "user-1"})
	assert.True(t, apperr.IsValidation(err))

	_, err = svc.Create(context.Background(), CreateInput{JobID: "daily-report"})
	assert.True(t, apperr.IsValidation(err))

	_, err = svc.Create(context.Background(), CreateInput{
		JobID:             "daily-report",
		TriggeredByUserID: "user-1",
		TriggeredBy:       models.TriggerType("cron"),
	})
	assert.True(t, apperr.IsValidation(err))
}

func TestCreateDefaultsToManualTrigger(t *testing.T) {
	var captured repository.CreateExecutionParams
	repo := &fakeRepo{
		createFn: func(_ context.Context, params repository.CreateExecutionParams) (models.JobExecution, error) {
			captured = params
			return models.JobExecution{ID: "ex-1", JobID: params.JobID, ExecutionStatus: models.StatusPending}, nil
		},
	}
	svc := newService(repo, fixedPolicy{})

	exec, err := svc.Create(context.Background(), CreateInput{JobID: "daily-report", TriggeredByUserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, exec.ExecutionStatus)
	assert.Equal(t, models.TriggerManual, captured.TriggeredBy)
	require.NotNil(t, captured.TriggeredByUserID)
	assert.Equal(t, "user-1", *captured.TriggeredByUserID)
}

func TestMarkStartedGuardsAndStamps(t *testing.T) {
	var captured repository.TransitionParams
	repo := &fakeRepo{
		transitionFn: func(_ context.Context, params repository.TransitionParams) (models.JobExecution, error) {
			captured = params
			return models.JobExecution{ID: params.ID, ExecutionStatus: params.To}, nil
		},
	}
	svc := newService(repo, fixedPolicy{})

	server := "srv-1"
	exec, err := svc.MarkStarted(context.Background(), "ex-1", &server, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, exec.ExecutionStatus)
	assert.ElementsMatch(t, []models.ExecutionStatus{models.StatusPending, models.StatusQueued}, captured.From)
	assert.True(t, captured.SetStartedAt)
	assert.False(t, captured.Terminal)
}

func TestMarkCompletedRejectsNegativeDuration(t *testing.T) {
	svc := newService(&fakeRepo{}, fixedPolicy{})

	negative := -1.0
	_, err := svc.MarkCompleted(context.Background(), "ex-1", CompleteInput{DurationSeconds: &negative})
	assert.True(t, apperr.IsValidation(err))
}

func TestMarkCompletedCarriesSLAFromPolicy(t *testing.T) {
	var captured repository.TransitionParams
	repo := &fakeRepo{
		getByIDFn: func(_ context.Context, id string) (models.JobExecution, error) {
			return models.JobExecution{ID: id, JobID: "daily-report", ExecutionStatus: models.StatusRunning}, nil
		},
		transitionFn: func(_ context.Context, params repository.TransitionParams) (models.JobExecution, error) {
			captured = params
			return models.JobExecution{ID: params.ID, ExecutionStatus: params.To}, nil
		},
	}
	sla := 300.0
	svc := newService(repo, fixedPolicy{sla: &sla})

	exec, err := svc.MarkCompleted(context.Background(), "ex-1", CompleteInput{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, exec.ExecutionStatus)
	assert.True(t, captured.Terminal)
	require.NotNil(t, captured.SLASeconds)
	assert.Equal(t, sla, *captured.SLASeconds)
}

func TestMarkCompletedMergesFinalMetrics(t *testing.T) {
	merged := false
	repo := &fakeRepo{
		getByIDFn: func(_ context.Context, id string) (models.JobExecution, error) {
			return models.JobExecution{ID: id, JobID: "daily-report", ExecutionStatus: models.StatusRunning}, nil
		},
		transitionFn: func(_ context.Context, params repository.TransitionParams) (models.JobExecution, error) {
			return models.JobExecution{ID: params.ID, ExecutionStatus: params.To}, nil
		},
		mergeMetricsFn: func(_ context.Context, id string, _ models.ExecutionMetrics, requireActive bool) (models.JobExecution, error) {
			merged = true
			// The row is already terminal at this point; the merge must not
			// demand an active row.
			assert.False(t, requireActive)
			return models.JobExecution{ID: id, ExecutionStatus: models.StatusSuccess}, nil
		},
	}
	svc := newService(repo, fixedPolicy{})

	rows := int64(100)
	_, err := svc.MarkCompleted(context.Background(), "ex-1", CompleteInput{
		Metrics: &models.ExecutionMetrics{RowsProcessed: &rows},
	})
	require.NoError(t, err)
	assert.True(t, merged)
}

func TestMarkFailedRequiresMessage(t *testing.T) {
	svc := newService(&fakeRepo{}, fixedPolicy{})

	_, err := svc.MarkFailed(context.Background(), "ex-1", FailInput{})
	assert.True(t, apperr.IsValidation(err))
}

func TestRecordMetricsRequiresData(t *testing.T) {
	svc := newService(&fakeRepo{}, fixedPolicy{})

	_, err := svc.RecordMetrics(context.Background(), "ex-1", models.ExecutionMetrics{})
	assert.True(t, apperr.IsValidation(err))
}

func TestRecordMetricsRequiresActiveRow(t *testing.T) {
	repo := &fakeRepo{
		mergeMetricsFn: func(_ context.Context, id string, _ models.ExecutionMetrics, requireActive bool) (models.JobExecution, error) {
			assert.True(t, requireActive)
			return models.JobExecution{ID: id}, nil
		},
	}
	svc := newService(repo, fixedPolicy{})

	mem := 256.0
	_, err := svc.RecordMetrics(context.Background(), "ex-1", models.ExecutionMetrics{PeakMemoryMB: &mem})
	require.NoError(t, err)
}

func TestUpdateStatusRejectsIllegalTarget(t *testing.T) {
	repo := &fakeRepo{
		getByIDFn: func(_ context.Context, id string) (models.JobExecution, error) {
			return models.JobExecution{ID: id, ExecutionStatus: models.StatusSuccess}, nil
		},
	}
	svc := newService(repo, fixedPolicy{})

	_, err := svc.UpdateStatus(context.Background(), "ex-1", models.StatusRunning)
	assert.True(t, apperr.IsInvalidTransition(err))

	_, err = svc.UpdateStatus(context.Background(), "ex-1", models.ExecutionStatus("paused"))
	assert.True(t, apperr.IsValidation(err))
}

func TestTimeoutStatusEvaluatesOnRead(t *testing.T) {
	started := time.Now().Add(-10 * time.Minute)
	repo := &fakeRepo{
		getByIDFn: func(_ context.Context, id string) (models.JobExecution, error) {
			return models.JobExecution{
				ID:              id,
				JobID:           "daily-report",
				ExecutionStatus: models.StatusRunning,
				StartedAt:       &started,
			}, nil
		},
	}
	timeout := 300.0
	svc := newService(repo, fixedPolicy{timeout: &timeout})

	state, err := svc.TimeoutStatus(context.Background(), "ex-1")
	require.NoError(t, err)
	assert.True(t, state.IsTimedOut)
	assert.Greater(t, state.ElapsedSeconds, timeout)
}

func TestEvaluateTimeoutWithoutConfiguredTimeout(t *testing.T) {
	started := time.Now().Add(-24 * time.Hour)
	exec := models.JobExecution{
		ID:              "ex-1",
		ExecutionStatus: models.StatusRunning,
		StartedAt:       &started,
	}

	state := EvaluateTimeout(exec, fixedPolicy{}, time.Now())
	assert.False(t, state.IsTimedOut)
	assert.Nil(t, state.TimeoutSeconds)
}

func TestDecorateSLAOnlyTouchesRunningRows(t *testing.T) {
	sla := 60.0
	policy := fixedPolicy{sla: &sla}
	started := time.Now().Add(-5 * time.Minute)

	running := models.JobExecution{ExecutionStatus: models.StatusRunning, StartedAt: &started}
	DecorateSLA(&running, policy, time.Now())
	require.NotNil(t, running.SLABreached)
	assert.True(t, *running.SLABreached)

	terminal := models.JobExecution{ExecutionStatus: models.StatusSuccess, StartedAt: &started}
	DecorateSLA(&terminal, policy, time.Now())
	assert.Nil(t, terminal.SLABreached)
}

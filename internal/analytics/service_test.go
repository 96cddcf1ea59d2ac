package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobtrace/jobtrace-api/internal/cache"
	"github.com/jobtrace/jobtrace-api/internal/config"
	"github.com/jobtrace/jobtrace-api/internal/models"
	"github.com/jobtrace/jobtrace-api/internal/repository"
)

type fakeRepo struct {
	repository.ExecutionRepository

	stats         models.ExecutionStats
	statsCalls    int
	terminal      []models.JobExecution
	history       []float64
	getByIDFn     func(ctx context.Context, id string) (models.JobExecution, error)
	slaCompliance models.SLACompliance
	samples       []float64
}

func (f *fakeRepo) CountByStatus(context.Context, repository.AnalyticsScope) (models.ExecutionStats, error) {
	f.statsCalls++
	return f.stats, nil
}

func (f *fakeRepo) TerminalWithDuration(context.Context, repository.AnalyticsScope, int) ([]models.JobExecution, error) {
	return f.terminal, nil
}

func (f *fakeRepo) JobDurationHistory(context.Context, string, int) ([]float64, error) {
	return f.history, nil
}

func (f *fakeRepo) GetByID(ctx context.Context, id string) (models.JobExecution, error) {
	return f.getByIDFn(ctx, id)
}

func (f *fakeRepo) SLACounts(context.Context, repository.AnalyticsScope) (models.SLACompliance, error) {
	return f.slaCompliance, nil
}

func (f *fakeRepo) DurationSamples(context.Context, repository.AnalyticsScope, int) ([]float64, error) {
	return f.samples, nil
}

var testConfig = config.AnalyticsConfig{
	OutlierZScore:   3.0,
	AnomalyZScore:   2.5,
	MemoryIssueMB:   4096,
	CPUIssuePercent: 95,
}

func newTestService(repo repository.ExecutionRepository) *Service {
	return NewService(repo, cache.NoopCache{}, testConfig, zerolog.Nop())
}

func terminalExec(id string, duration float64) models.JobExecution {
	return models.JobExecution{
		ID:              id,
		JobID:           "daily-report",
		ExecutionStatus: models.StatusSuccess,
		DurationSeconds: &duration,
	}
}

func TestStatsPassesThroughSuccessRate(t *testing.T) {
	rate := 0.8
	repo := &fakeRepo{stats: models.ExecutionStats{Total: 10, Success: 8, Failure: 2, SuccessRate: &rate}}
	svc := newTestService(repo)

	stats, err := svc.Stats(context.Background(), Window{})
	require.NoError(t, err)
	require.NotNil(t, stats.SuccessRate)
	assert.Equal(t, 0.8, *stats.SuccessRate)
}

func TestDurationsOverEmptyWindow(t *testing.T) {
	svc := newTestService(&fakeRepo{})

	stats, err := svc.Durations(context.Background(), Window{})
	require.NoError(t, err)
	assert.Zero(t, stats.Count)
	assert.Nil(t, stats.Mean)
	assert.Nil(t, stats.P95)
}

func TestOutliersFlagOnlyExtremeDurations(t *testing.T) {
	executions := []models.JobExecution{}
	for i := 0; i < 20; i++ {
		executions = append(executions, terminalExec("ex-normal", 100))
	}
	executions = append(executions, terminalExec("ex-slow", 5000))
	repo := &fakeRepo{terminal: executions}
	svc := newTestService(repo)

	outliers, err := svc.Outliers(context.Background(), Window{})
	require.NoError(t, err)
	require.Len(t, outliers, 1)
	assert.Equal(t, "ex-slow", outliers[0].Execution.ID)
	assert.GreaterOrEqual(t, outliers[0].ZScore, testConfig.OutlierZScore)
}

func TestOutliersFlagAbnormallyFastRuns(t *testing.T) {
	executions := []models.JobExecution{}
	for i := 0; i < 20; i++ {
		executions = append(executions, terminalExec("ex-normal", 1000))
	}
	executions = append(executions, terminalExec("ex-fast", 0))
	repo := &fakeRepo{terminal: executions}
	svc := newTestService(repo)

	outliers, err := svc.Outliers(context.Background(), Window{})
	require.NoError(t, err)
	require.Len(t, outliers, 1)
	assert.Equal(t, "ex-fast", outliers[0].Execution.ID)
	assert.Negative(t, outliers[0].ZScore)
}

func TestAnomaliesIncludeFastDurations(t *testing.T) {
	executions := []models.JobExecution{}
	for i := 0; i < 20; i++ {
		executions = append(executions, terminalExec("ex-normal", 1000))
	}
	executions = append(executions, terminalExec("ex-fast", 0))
	repo := &fakeRepo{terminal: executions}
	svc := newTestService(repo)

	anomalies, err := svc.Anomalies(context.Background(), Window{})
	require.NoError(t, err)
	require.Len(t, anomalies, 1)
	assert.Equal(t, "ex-fast", anomalies[0].Execution.ID)
	assert.Equal(t, "duration", anomalies[0].Kind)
	assert.Negative(t, anomalies[0].ZScore)
}

func TestResourceIssuesUseAbsoluteThresholds(t *testing.T) {
	highMem := 8192.0
	okMem := 512.0
	highCPU := 99.0
	execHigh := terminalExec("ex-high", 100)
	execHigh.Metrics.PeakMemoryMB = &highMem
	execHigh.Metrics.PeakCPUPercent = &highCPU
	execOK := terminalExec("ex-ok", 100)
	execOK.Metrics.PeakMemoryMB = &okMem

	repo := &fakeRepo{terminal: []models.JobExecution{execHigh, execOK}}
	svc := newTestService(repo)

	issues, err := svc.ResourceIssues(context.Background(), Window{})
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "ex-high", issues[0].Execution.ID)
	assert.Len(t, issues[0].Reasons, 2)
}

func TestHealthScoreWithoutData(t *testing.T) {
	svc := newTestService(&fakeRepo{})

	score, err := svc.HealthScore(context.Background(), Window{})
	require.NoError(t, err)
	assert.Nil(t, score.Score)
	require.Len(t, score.Factors, 3)
	for _, factor := range score.Factors {
		assert.Nil(t, factor.Score)
	}
}

func TestHealthScoreCombinesFactors(t *testing.T) {
	rate := 1.0
	breachRate := 0.0
	repo := &fakeRepo{
		stats:         models.ExecutionStats{Total: 10, Success: 10, SuccessRate: &rate},
		slaCompliance: models.SLACompliance{Evaluated: 10, Breached: 0, BreachRate: &breachRate},
		samples:       []float64{100, 100, 100, 100},
		terminal: []models.JobExecution{
			terminalExec("a", 100), terminalExec("b", 100),
			terminalExec("c", 100), terminalExec("d", 100),
		},
	}
	svc := newTestService(repo)

	score, err := svc.HealthScore(context.Background(), Window{})
	require.NoError(t, err)
	require.NotNil(t, score.Score)
	assert.InDelta(t, 100, *score.Score, 0.0001)
}

func TestCompletionForecastForRunningExecution(t *testing.T) {
	started := time.Now().Add(-50 * time.Second)
	repo := &fakeRepo{
		getByIDFn: func(_ context.Context, id string) (models.JobExecution, error) {
			return models.JobExecution{
				ID:              id,
				JobID:           "daily-report",
				ExecutionStatus: models.StatusRunning,
				StartedAt:       &started,
			}, nil
		},
		history: []float64{100, 100, 100, 100, 200},
	}
	svc := newTestService(repo)

	forecast, err := svc.CompletionForecast(context.Background(), "ex-1")
	require.NoError(t, err)
	assert.Equal(t, 5, forecast.HistoricalSampleSize)
	require.NotNil(t, forecast.ExpectedDurationSeconds)
	assert.InDelta(t, 100, *forecast.ExpectedDurationSeconds, 0.0001)
	require.NotNil(t, forecast.EstimatedCompletionAt)
	require.NotNil(t, forecast.PercentComplete)
	assert.InDelta(t, 50, *forecast.PercentComplete, 5)
	assert.False(t, forecast.OverrunningP95)
}

func TestCompletionForecastForTerminalExecution(t *testing.T) {
	repo := &fakeRepo{
		getByIDFn: func(_ context.Context, id string) (models.JobExecution, error) {
			return models.JobExecution{ID: id, JobID: "daily-report", ExecutionStatus: models.StatusSuccess}, nil
		},
	}
	svc := newTestService(repo)

	forecast, err := svc.CompletionForecast(context.Background(), "ex-1")
	require.NoError(t, err)
	assert.Nil(t, forecast.ExpectedDurationSeconds)
	assert.Nil(t, forecast.EstimatedCompletionAt)
	assert.Zero(t, forecast.HistoricalSampleSize)
}

func TestCompletionForecastWithoutHistory(t *testing.T) {
	started := time.Now().Add(-10 * time.Second)
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
	svc := newTestService(repo)

	forecast, err := svc.CompletionForecast(context.Background(), "ex-1")
	require.NoError(t, err)
	assert.Greater(t, forecast.ElapsedSeconds, 0.0)
	assert.Nil(t, forecast.ExpectedDurationSeconds)
	assert.Nil(t, forecast.PercentComplete)
}

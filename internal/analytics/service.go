package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/jobtrace/jobtrace-api/internal/cache"
	"github.com/jobtrace/jobtrace-api/internal/config"
	"github.com/jobtrace/jobtrace-api/internal/models"
	"github.com/jobtrace/jobtrace-api/internal/repository"
)

// sampleLimit bounds how many rows the Go-side computations pull per report,
// so aggregation memory stays flat regardless of table size.
const sampleLimit = 5000

// Window scopes a report to a job and/or a trailing number of days.
type Window struct {
	JobID     *string
	DaysBack  int
	SkipCache bool
}

func (w Window) scope() repository.AnalyticsScope {
	scope := repository.AnalyticsScope{JobID: w.JobID}
	if w.DaysBack > 0 {
		since := time.Now().AddDate(0, 0, -w.DaysBack)
		scope.Since = &since
	}
	return scope
}

// ErrorAnalysis bundles the failure-side reports.
type ErrorAnalysis struct {
	TopErrorCodes []models.ErrorCodeGroup   `json:"top_error_codes"`
	StepFailures  []models.StepFailureCount `json:"step_failures"`
}

// Service is the read-only aggregation engine. It derives everything from
// the execution store and never mutates it; empty windows produce zero/null
// bearing structures, never errors.
type Service struct {
	repo   repository.ExecutionRepository
	cache  cache.Cache
	cfg    config.AnalyticsConfig
	logger zerolog.Logger
}

func NewService(repo repository.ExecutionRepository, c cache.Cache, cfg config.AnalyticsConfig, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		cache:  c,
		cfg:    cfg,
		logger: logger.With().Str("component", "analytics").Logger(),
	}
}

func (s *Service) cacheKey(kind string, parts ...interface{}) string {
	encoded, _ := json.Marshal(parts)
	return fmt.Sprintf("analytics:%s:%s", kind, encoded)
}

// Stats returns windowed counts and the success rate (nil over an empty
// success+failure denominator).
func (s *Service) Stats(ctx context.Context, w Window) (models.ExecutionStats, error) {
	key := s.cacheKey("stats", w.JobID, w.DaysBack)
	if !w.SkipCache {
		var cached models.ExecutionStats
		if s.cache.Get(ctx, key, &cached) {
			return cached, nil
		}
	}
	stats, err := s.repo.CountByStatus(ctx, w.scope())
	if err != nil {
		return stats, err
	}
	s.cache.Set(ctx, key, stats)
	return stats, nil
}

// SuccessRate exposes just the rate from Stats.
func (s *Service) SuccessRate(ctx context.Context, w Window) (*float64, error) {
	stats, err := s.Stats(ctx, w)
	if err != nil {
		return nil, err
	}
	return stats.SuccessRate, nil
}

// Durations summarizes duration_seconds over terminal executions.
func (s *Service) Durations(ctx context.Context, w Window) (models.DurationStats, error) {
	samples, err := s.repo.DurationSamples(ctx, w.scope(), sampleLimit)
	if err != nil {
		return models.DurationStats{}, err
	}
	stats := models.DurationStats{
		Count:  len(samples),
		Mean:   Mean(samples),
		Median: Percentile(samples, 50),
		P95:    Percentile(samples, 95),
		P99:    Percentile(samples, 99),
		Min:    Percentile(samples, 0),
		Max:    Percentile(samples, 100),
	}
	return stats, nil
}

// SLACompliance reports breach counts and rate over the window.
func (s *Service) SLACompliance(ctx context.Context, w Window) (models.SLACompliance, error) {
	return s.repo.SLACounts(ctx, w.scope())
}

// Trend returns one point per calendar day for the trailing window,
// zero-count days included.
func (s *Service) Trend(ctx context.Context, w Window) ([]models.TrendPoint, error) {
	days := w.DaysBack
	if days <= 0 {
		days = 30
	}
	key := s.cacheKey("trend", w.JobID, days)
	if !w.SkipCache {
		var cached []models.TrendPoint
		if s.cache.Get(ctx, key, &cached) {
			return cached, nil
		}
	}
	points, err := s.repo.TrendSeries(ctx, w.scope(), days)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, key, points)
	return points, nil
}

// Breakdown returns the distribution over one dimension with
// total/success/failure subtotals per bucket.
func (s *Service) Breakdown(ctx context.Context, w Window, dimension repository.BreakdownDimension) ([]models.BreakdownBucket, error) {
	return s.repo.Breakdown(ctx, w.scope(), dimension)
}

// ErrorAnalysis reports top error codes and per-step failure counts.
func (s *Service) ErrorAnalysis(ctx context.Context, w Window, limit int) (ErrorAnalysis, error) {
	if limit <= 0 {
		limit = 10
	}
	codes, err := s.repo.TopErrorCodes(ctx, w.scope(), limit)
	if err != nil {
		return ErrorAnalysis{}, err
	}
	steps, err := s.repo.StepFailures(ctx, w.scope())
	if err != nil {
		return ErrorAnalysis{}, err
	}
	return ErrorAnalysis{TopErrorCodes: codes, StepFailures: steps}, nil
}

// FailurePatterns clusters failures by error code and failing step.
func (s *Service) FailurePatterns(ctx context.Context, w Window, limit int) ([]models.FailurePattern, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.repo.FailurePatterns(ctx, w.scope(), limit)
}

// Slowest lists the slowest terminal executions in the window.
func (s *Service) Slowest(ctx context.Context, w Window, limit int) ([]models.JobExecution, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.repo.Slowest(ctx, w.scope(), limit)
}

// Outliers flags executions whose duration deviates from the window mean by
// more than the configured z-score, in either direction; a suspiciously fast
// run is as notable as a slow one. ZScore keeps its sign so callers can tell
// which tail a run fell on.
func (s *Service) Outliers(ctx context.Context, w Window) ([]models.DurationOutlier, error) {
	executions, err := s.repo.TerminalWithDuration(ctx, w.scope(), sampleLimit)
	if err != nil {
		return nil, err
	}
	samples := durations(executions)
	outliers := []models.DurationOutlier{}
	for _, exec := range executions {
		z := ZScore(*exec.DurationSeconds, samples)
		if math.Abs(z) >= s.cfg.OutlierZScore {
			outliers = append(outliers, models.DurationOutlier{
				Execution:       exec,
				DurationSeconds: *exec.DurationSeconds,
				ZScore:          z,
			})
		}
	}
	return outliers, nil
}

// Anomalies flags executions whose duration or resource usage deviates
// beyond the configured threshold.
func (s *Service) Anomalies(ctx context.Context, w Window) ([]models.Anomaly, error) {
	executions, err := s.repo.TerminalWithDuration(ctx, w.scope(), sampleLimit)
	if err != nil {
		return nil, err
	}
	durationSamples := durations(executions)
	memorySamples := []float64{}
	cpuSamples := []float64{}
	for _, exec := range executions {
		if exec.Metrics.PeakMemoryMB != nil {
			memorySamples = append(memorySamples, *exec.Metrics.PeakMemoryMB)
		}
		if exec.Metrics.PeakCPUPercent != nil {
			cpuSamples = append(cpuSamples, *exec.Metrics.PeakCPUPercent)
		}
	}

	anomalies := []models.Anomaly{}
	for _, exec := range executions {
		if z := ZScore(*exec.DurationSeconds, durationSamples); math.Abs(z) >= s.cfg.AnomalyZScore {
			anomalies = append(anomalies, models.Anomaly{Execution: exec, Kind: "duration", Value: *exec.DurationSeconds, ZScore: z})
		}
		if exec.Metrics.PeakMemoryMB != nil {
			if z := ZScore(*exec.Metrics.PeakMemoryMB, memorySamples); math.Abs(z) >= s.cfg.AnomalyZScore {
				anomalies = append(anomalies, models.Anomaly{Execution: exec, Kind: "memory", Value: *exec.Metrics.PeakMemoryMB, ZScore: z})
			}
		}
		if exec.Metrics.PeakCPUPercent != nil {
			if z := ZScore(*exec.Metrics.PeakCPUPercent, cpuSamples); math.Abs(z) >= s.cfg.AnomalyZScore {
				anomalies = append(anomalies, models.Anomaly{Execution: exec, Kind: "cpu", Value: *exec.Metrics.PeakCPUPercent, ZScore: z})
			}
		}
	}
	return anomalies, nil
}

// ResourceIssues lists executions whose recorded peaks crossed the
// configured absolute thresholds.
func (s *Service) ResourceIssues(ctx context.Context, w Window) ([]models.ResourceIssue, error) {
	executions, err := s.repo.TerminalWithDuration(ctx, w.scope(), sampleLimit)
	if err != nil {
		return nil, err
	}
	issues := []models.ResourceIssue{}
	for _, exec := range executions {
		reasons := []string{}
		if exec.Metrics.PeakMemoryMB != nil && *exec.Metrics.PeakMemoryMB > s.cfg.MemoryIssueMB {
			reasons = append(reasons, fmt.Sprintf("peak memory %.0fMB above %.0fMB", *exec.Metrics.PeakMemoryMB, s.cfg.MemoryIssueMB))
		}
		if exec.Metrics.PeakCPUPercent != nil && *exec.Metrics.PeakCPUPercent > s.cfg.CPUIssuePercent {
			reasons = append(reasons, fmt.Sprintf("peak cpu %.0f%% above %.0f%%", *exec.Metrics.PeakCPUPercent, s.cfg.CPUIssuePercent))
		}
		if len(reasons) == 0 {
			continue
		}
		issues = append(issues, models.ResourceIssue{
			Execution:      exec,
			PeakMemoryMB:   exec.Metrics.PeakMemoryMB,
			PeakCPUPercent: exec.Metrics.PeakCPUPercent,
			Reasons:        reasons,
		})
	}
	return issues, nil
}

// HealthScore composes a bounded 0-100 score from success rate, SLA
// compliance and outlier frequency, each factor independently exposed.
func (s *Service) HealthScore(ctx context.Context, w Window) (models.HealthScore, error) {
	stats, err := s.Stats(ctx, w)
	if err != nil {
		return models.HealthScore{}, err
	}
	sla, err := s.SLACompliance(ctx, w)
	if err != nil {
		return models.HealthScore{}, err
	}
	outliers, err := s.Outliers(ctx, w)
	if err != nil {
		return models.HealthScore{}, err
	}
	durations, err := s.Durations(ctx, w)
	if err != nil {
		return models.HealthScore{}, err
	}

	var successScore, slaScore, outlierScore *float64
	if stats.SuccessRate != nil {
		v := *stats.SuccessRate * 100
		successScore = &v
	}
	if sla.BreachRate != nil {
		v := (1 - *sla.BreachRate) * 100
		slaScore = &v
	}
	if durations.Count > 0 {
		v := Clamp((1-float64(len(outliers))/float64(durations.Count))*100, 0, 100)
		outlierScore = &v
	}

	factors := []models.HealthFactor{
		{Name: "success_rate", Score: successScore, Weight: 0.5},
		{Name: "sla_compliance", Score: slaScore, Weight: 0.3},
		{Name: "outlier_frequency", Score: outlierScore, Weight: 0.2},
	}
	return models.HealthScore{
		Score:   WeightedScore([]*float64{successScore, slaScore, outlierScore}, []float64{0.5, 0.3, 0.2}),
		Factors: factors,
	}, nil
}

// PerformanceSummary bundles the headline numbers for one window.
func (s *Service) PerformanceSummary(ctx context.Context, w Window) (models.PerformanceSummary, error) {
	key := s.cacheKey("summary", w.JobID, w.DaysBack)
	if !w.SkipCache {
		var cached models.PerformanceSummary
		if s.cache.Get(ctx, key, &cached) {
			return cached, nil
		}
	}

	stats, err := s.Stats(ctx, w)
	if err != nil {
		return models.PerformanceSummary{}, err
	}
	durations, err := s.Durations(ctx, w)
	if err != nil {
		return models.PerformanceSummary{}, err
	}
	sla, err := s.SLACompliance(ctx, w)
	if err != nil {
		return models.PerformanceSummary{}, err
	}
	outliers, err := s.Outliers(ctx, w)
	if err != nil {
		return models.PerformanceSummary{}, err
	}

	summary := models.PerformanceSummary{
		Stats:        stats,
		Durations:    durations,
		SLA:          sla,
		OutlierCount: len(outliers),
		WindowDays:   w.DaysBack,
		JobID:        w.JobID,
	}
	s.cache.Set(ctx, key, summary)
	return summary, nil
}

// CompletionForecast estimates when a running execution will finish from
// the job's historical duration distribution.
func (s *Service) CompletionForecast(ctx context.Context, executionID string) (models.CompletionForecast, error) {
	exec, err := s.repo.GetByID(ctx, executionID)
	if err != nil {
		return models.CompletionForecast{}, err
	}
	forecast := models.CompletionForecast{
		ExecutionID: exec.ID,
		JobID:       exec.JobID,
	}
	if exec.ExecutionStatus != models.StatusRunning || exec.StartedAt == nil {
		return forecast, nil
	}
	forecast.ElapsedSeconds = exec.ElapsedSeconds(time.Now())

	history, err := s.repo.JobDurationHistory(ctx, exec.JobID, 100)
	if err != nil {
		return forecast, err
	}
	forecast.HistoricalSampleSize = len(history)
	if len(history) == 0 {
		return forecast, nil
	}

	forecast.ExpectedDurationSeconds = Percentile(history, 50)
	forecast.P95DurationSeconds = Percentile(history, 95)
	eta := exec.StartedAt.Add(time.Duration(*forecast.ExpectedDurationSeconds * float64(time.Second)))
	forecast.EstimatedCompletionAt = &eta
	if *forecast.ExpectedDurationSeconds > 0 {
		pct := Clamp(forecast.ElapsedSeconds / *forecast.ExpectedDurationSeconds*100, 0, 100)
		forecast.PercentComplete = &pct
	}
	forecast.OverrunningP95 = forecast.P95DurationSeconds != nil && forecast.ElapsedSeconds > *forecast.P95DurationSeconds
	return forecast, nil
}

func durations(executions []models.JobExecution) []float64 {
	samples := make([]float64, 0, len(executions))
	for _, exec := range executions {
		if exec.DurationSeconds != nil {
			samples = append(samples, *exec.DurationSeconds)
		}
	}
	return samples
}

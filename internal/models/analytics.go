package models

import "time"

// ExecutionStats is the windowed count/rate summary.
type ExecutionStats struct {
	Total       int      `json:"total"`
	Success     int      `json:"success"`
	Failure     int      `json:"failure"`
	Running     int      `json:"running"`
	Queued      int      `json:"queued"`
	Pending     int      `json:"pending"`
	Aborted     int      `json:"aborted"`
	Timeout     int      `json:"timeout"`
	Cancelled   int      `json:"cancelled"`
	SuccessRate *float64 `json:"success_rate"` // success/(success+failure); nil when that denominator is zero
}

// DurationStats summarizes duration_seconds over terminal executions.
type DurationStats struct {
	Count  int      `json:"count"`
	Mean   *float64 `json:"mean"`
	Median *float64 `json:"median"`
	P95    *float64 `json:"p95"`
	P99    *float64 `json:"p99"`
	Min    *float64 `json:"min"`
	Max    *float64 `json:"max"`
}

// SLACompliance reports breach counts over a window.
type SLACompliance struct {
	Evaluated  int      `json:"evaluated"`
	Breached   int      `json:"breached"`
	BreachRate *float64 `json:"breach_rate"` // nil when nothing was evaluated
}

// TrendPoint is one calendar day in a trend series. Days with no executions
// are present with zero counts and a nil mean duration.
type TrendPoint struct {
	Day          time.Time `json:"day"`
	Total        int       `json:"total"`
	Success      int       `json:"success"`
	Failure      int       `json:"failure"`
	MeanDuration *float64  `json:"mean_duration"`
}

// BreakdownBucket is one group in a distribution breakdown (hour of day,
// trigger type, worker node, server instance).
type BreakdownBucket struct {
	Key     string `json:"key"`
	Total   int    `json:"total"`
	Success int    `json:"success"`
	Failure int    `json:"failure"`
}

// ErrorCodeGroup is one entry of the top-error-codes report.
type ErrorCodeGroup struct {
	ErrorCode      string   `json:"error_code"`
	Count          int      `json:"count"`
	SampleMessage  *string  `json:"sample_message"`
	AffectedJobIDs []string `json:"affected_job_ids"`
}

// StepFailureCount counts failures attributed to one step.
type StepFailureCount struct {
	StepID string `json:"step_id"`
	Count  int    `json:"count"`
}

// FailurePattern groups failures by the error_code/step clustering key.
type FailurePattern struct {
	Pattern       string   `json:"pattern"`
	ErrorCode     *string  `json:"error_code"`
	ErrorStepID   *string  `json:"error_step_id"`
	Count         int      `json:"count"`
	SampleMessage *string  `json:"sample_message"`
	JobIDs        []string `json:"job_ids"`
}

// DurationOutlier is an execution whose duration deviates from the window
// mean by more than the configured number of standard deviations.
type DurationOutlier struct {
	Execution       JobExecution `json:"execution"`
	DurationSeconds float64      `json:"duration_seconds"`
	ZScore          float64      `json:"z_score"`
}

// HealthFactor is one independently exposed component of the health score.
type HealthFactor struct {
	Name   string   `json:"name"`
	Score  *float64 `json:"score"` // 0-100, nil when the factor had no data
	Weight float64  `json:"weight"`
}

// HealthScore is the bounded 0-100 composite score.
type HealthScore struct {
	Score   *float64       `json:"score"` // nil when no factor had data
	Factors []HealthFactor `json:"factors"`
}

// Anomaly flags an execution whose duration or resource usage deviates
// beyond the configured threshold.
type Anomaly struct {
	Execution JobExecution `json:"execution"`
	Kind      string       `json:"kind"` // "duration", "memory", "cpu"
	Value     float64      `json:"value"`
	ZScore    float64      `json:"z_score"`
}

// CompletionForecast estimates when an in-flight execution will finish,
// based on the historical duration distribution for the same job.
type CompletionForecast struct {
	ExecutionID             string     `json:"execution_id"`
	JobID                   string     `json:"job_id"`
	ElapsedSeconds          float64    `json:"elapsed_seconds"`
	ExpectedDurationSeconds *float64   `json:"expected_duration_seconds"` // nil without history
	EstimatedCompletionAt   *time.Time `json:"estimated_completion_at"`
	PercentComplete         *float64   `json:"percent_complete"` // capped at 100
	HistoricalSampleSize    int        `json:"historical_sample_size"`
	P95DurationSeconds      *float64   `json:"p95_duration_seconds"`
	OverrunningP95          bool       `json:"overrunning_p95"`
}

// ResourceIssue flags an execution with outsized resource usage.
type ResourceIssue struct {
	Execution      JobExecution `json:"execution"`
	PeakMemoryMB   *float64     `json:"peak_memory_mb"`
	PeakCPUPercent *float64     `json:"peak_cpu_percent"`
	Reasons        []string     `json:"reasons"`
}

// PerformanceSummary bundles the headline analytics for one window.
type PerformanceSummary struct {
	Stats        ExecutionStats `json:"stats"`
	Durations    DurationStats  `json:"durations"`
	SLA          SLACompliance  `json:"sla"`
	OutlierCount int            `json:"outlier_count"`
	WindowDays   int            `json:"window_days"`
	JobID        *string        `json:"job_id"`
}

// PartitionInfo describes one logical execution_date partition.
type PartitionInfo struct {
	Day           time.Time `json:"day"`
	RowCount      int       `json:"row_count"`
	ArchivedCount int       `json:"archived_count"`
	SizeBytes     int64     `json:"size_bytes"`
}

// CleanupPreview reports what CleanupArchived would delete, without deleting.
type CleanupPreview struct {
	Eligible   int        `json:"eligible"`
	OldestDay  *time.Time `json:"oldest_day"`
	NewestDay  *time.Time `json:"newest_day"`
	CutoffDays int        `json:"cutoff_days"`
}

// BulkOutcome is the per-item result of a bulk operation.
type BulkOutcome struct {
	ID     string `json:"id"`
	Status string `json:"status"` // "archived", "already_archived", "not_found", "retried", "error"
	Error  string `json:"error,omitempty"`
}

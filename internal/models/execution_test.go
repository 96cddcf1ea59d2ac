package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from    ExecutionStatus
		to      ExecutionStatus
		allowed bool
	}{
		{StatusPending, StatusQueued, true},
		{StatusPending, StatusRunning, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusSuccess, false},
		{StatusQueued, StatusRunning, true},
		{StatusQueued, StatusAborted, true},
		{StatusQueued, StatusCancelled, true},
		{StatusQueued, StatusFailure, false},
		{StatusRunning, StatusSuccess, true},
		{StatusRunning, StatusFailure, true},
		{StatusRunning, StatusAborted, true},
		{StatusRunning, StatusTimeout, true},
		{StatusRunning, StatusCancelled, false},
		{StatusRunning, StatusPending, false},
		{StatusSuccess, StatusRunning, false},
		{StatusFailure, StatusRunning, false},
		{StatusCancelled, StatusQueued, false},
		{StatusTimeout, StatusRunning, false},
	}
	for _, tc := range cases {
		assert.Equalf(t, tc.allowed, tc.from.CanTransition(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTerminalStatusesHaveNoSuccessors(t *testing.T) {
	for _, status := range TerminalStatuses() {
		assert.True(t, status.IsTerminal())
		assert.Empty(t, status.LegalSuccessors())
	}
}

func TestIsValidStatus(t *testing.T) {
	assert.True(t, IsValidStatus(StatusRunning))
	assert.False(t, IsValidStatus(ExecutionStatus("paused")))
	assert.False(t, IsValidStatus(ExecutionStatus("")))
}

func TestIsValidTrigger(t *testing.T) {
	assert.True(t, IsValidTrigger(TriggerScheduler))
	assert.True(t, IsValidTrigger(TriggerRetry))
	assert.False(t, IsValidTrigger(TriggerType("cron")))
}

func floatPtr(v float64) *float64 { return &v }
func int64Ptr(v int64) *int64     { return &v }
func intPtr(v int) *int           { return &v }

func TestMetricsMergeKeepsMaximums(t *testing.T) {
	m := ExecutionMetrics{
		PeakMemoryMB: floatPtr(512),
		RowsRead:     int64Ptr(1000),
	}
	m.Merge(ExecutionMetrics{
		PeakMemoryMB: floatPtr(256), // lower, must not regress
		RowsRead:     int64Ptr(2000),
		StepsTotal:   intPtr(5),
	})

	require.NotNil(t, m.PeakMemoryMB)
	assert.Equal(t, 512.0, *m.PeakMemoryMB)
	assert.Equal(t, int64(2000), *m.RowsRead)
	assert.Equal(t, 5, *m.StepsTotal)
}

func TestMetricsMergeIsCommutative(t *testing.T) {
	a := ExecutionMetrics{PeakCPUPercent: floatPtr(80), RowsProcessed: int64Ptr(10)}
	b := ExecutionMetrics{PeakCPUPercent: floatPtr(60), RowsProcessed: int64Ptr(50)}

	left := a
	left.Merge(b)
	right := b
	right.Merge(a)

	assert.Equal(t, *left.PeakCPUPercent, *right.PeakCPUPercent)
	assert.Equal(t, *left.RowsProcessed, *right.RowsProcessed)
}

func TestMetricsIsEmpty(t *testing.T) {
	assert.True(t, ExecutionMetrics{}.IsEmpty())
	assert.False(t, ExecutionMetrics{RowsDeleted: int64Ptr(0)}.IsEmpty())
}

func TestElapsedSeconds(t *testing.T) {
	now := time.Now()
	started := now.Add(-90 * time.Second)
	completed := now.Add(-30 * time.Second)

	assert.Zero(t, JobExecution{}.ElapsedSeconds(now))
	assert.InDelta(t, 90, JobExecution{StartedAt: &started}.ElapsedSeconds(now), 0.01)
	assert.InDelta(t, 60, JobExecution{StartedAt: &started, CompletedAt: &completed}.ElapsedSeconds(now), 0.01)
}

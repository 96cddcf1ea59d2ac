package models

import (
	"encoding/json"
	"time"
)

// ExecutionStatus is the sealed set of lifecycle states for a job execution.
type ExecutionStatus string

const (
	StatusPending   ExecutionStatus = "pending"
	StatusQueued    ExecutionStatus = "queued"
	StatusRunning   ExecutionStatus = "running"
	StatusSuccess   ExecutionStatus = "success"
	StatusFailure   ExecutionStatus = "failure"
	StatusAborted   ExecutionStatus = "aborted"
	StatusTimeout   ExecutionStatus = "timeout"
	StatusCancelled ExecutionStatus = "cancelled"
)

// transitions maps each status to the set of statuses it may legally move to.
// Terminal statuses have no successors; the archive flag is orthogonal and
// not part of this table.
var transitions = map[ExecutionStatus][]ExecutionStatus{
	StatusPending:   {StatusQueued, StatusRunning, StatusCancelled},
	StatusQueued:    {StatusRunning, StatusCancelled, StatusAborted},
	StatusRunning:   {StatusSuccess, StatusFailure, StatusAborted, StatusTimeout},
	StatusSuccess:   {},
	StatusFailure:   {},
	StatusAborted:   {},
	StatusTimeout:   {},
	StatusCancelled: {},
}

// IsValidStatus reports whether s is one of the eight known statuses.
func IsValidStatus(s ExecutionStatus) bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether no further status transition is legal from s.
func (s ExecutionStatus) IsTerminal() bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// CanTransition reports whether moving from s to target is legal.
func (s ExecutionStatus) CanTransition(target ExecutionStatus) bool {
	for _, next := range transitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// LegalSuccessors returns the statuses reachable from s in one transition.
func (s ExecutionStatus) LegalSuccessors() []ExecutionStatus {
	return append([]ExecutionStatus(nil), transitions[s]...)
}

// TerminalStatuses lists every status with no legal successor.
func TerminalStatuses() []ExecutionStatus {
	return []ExecutionStatus{StatusSuccess, StatusFailure, StatusAborted, StatusTimeout, StatusCancelled}
}

// TriggerType identifies what caused an execution to be created.
type TriggerType string

const (
	TriggerScheduler  TriggerType = "scheduler"
	TriggerManual     TriggerType = "manual"
	TriggerAPI        TriggerType = "api"
	TriggerWebhook    TriggerType = "webhook"
	TriggerEvent      TriggerType = "event"
	TriggerRetry      TriggerType = "retry"
	TriggerDependency TriggerType = "dependency"
	TriggerSystem     TriggerType = "system"
)

var triggerTypes = map[TriggerType]struct{}{
	TriggerScheduler: {}, TriggerManual: {}, TriggerAPI: {}, TriggerWebhook: {},
	TriggerEvent: {}, TriggerRetry: {}, TriggerDependency: {}, TriggerSystem: {},
}

// IsValidTrigger reports whether t is one of the known trigger types.
func IsValidTrigger(t TriggerType) bool {
	_, ok := triggerTypes[t]
	return ok
}

// ExecutionMetrics holds the optional resource and progress counters reported
// while an execution runs. All fields are cumulative totals; merges take the
// maximum of old and new so repeated or out-of-order reports never decrease
// a recorded value.
type ExecutionMetrics struct {
	PeakMemoryMB     *float64 `json:"peak_memory_mb" db:"peak_memory_mb"`
	PeakCPUPercent   *float64 `json:"peak_cpu_percent" db:"peak_cpu_percent"`
	RowsRead         *int64   `json:"rows_read" db:"rows_read"`
	RowsProcessed    *int64   `json:"rows_processed" db:"rows_processed"`
	RowsInserted     *int64   `json:"rows_inserted" db:"rows_inserted"`
	RowsUpdated      *int64   `json:"rows_updated" db:"rows_updated"`
	RowsDeleted      *int64   `json:"rows_deleted" db:"rows_deleted"`
	DataQualityScore *float64 `json:"data_quality_score" db:"data_quality_score"`
	StepsTotal       *int     `json:"steps_total" db:"steps_total"`
	StepsCompleted   *int     `json:"steps_completed" db:"steps_completed"`
	StepsFailed      *int     `json:"steps_failed" db:"steps_failed"`
}

// Merge folds incoming metric values into m, keeping the larger of the two
// for every field that is present on both sides. The merge is commutative,
// so concurrent progress reports may land in any order.
func (m *ExecutionMetrics) Merge(in ExecutionMetrics) {
	m.PeakMemoryMB = maxFloat(m.PeakMemoryMB, in.PeakMemoryMB)
	m.PeakCPUPercent = maxFloat(m.PeakCPUPercent, in.PeakCPUPercent)
	m.RowsRead = maxInt64(m.RowsRead, in.RowsRead)
	m.RowsProcessed = maxInt64(m.RowsProcessed, in.RowsProcessed)
	m.RowsInserted = maxInt64(m.RowsInserted, in.RowsInserted)
	m.RowsUpdated = maxInt64(m.RowsUpdated, in.RowsUpdated)
	m.RowsDeleted = maxInt64(m.RowsDeleted, in.RowsDeleted)
	m.DataQualityScore = maxFloat(m.DataQualityScore, in.DataQualityScore)
	m.StepsTotal = maxInt(m.StepsTotal, in.StepsTotal)
	m.StepsCompleted = maxInt(m.StepsCompleted, in.StepsCompleted)
	m.StepsFailed = maxInt(m.StepsFailed, in.StepsFailed)
}

// IsEmpty reports whether no metric field carries a value.
func (m ExecutionMetrics) IsEmpty() bool {
	return m.PeakMemoryMB == nil && m.PeakCPUPercent == nil &&
		m.RowsRead == nil && m.RowsProcessed == nil && m.RowsInserted == nil &&
		m.RowsUpdated == nil && m.RowsDeleted == nil && m.DataQualityScore == nil &&
		m.StepsTotal == nil && m.StepsCompleted == nil && m.StepsFailed == nil
}

func maxFloat(a, b *float64) *float64 {
	if a == nil {
		return b
	}
	if b == nil || *a >= *b {
		return a
	}
	return b
}

func maxInt64(a, b *int64) *int64 {
	if a == nil {
		return b
	}
	if b == nil || *a >= *b {
		return a
	}
	return b
}

func maxInt(a, b *int) *int {
	if a == nil {
		return b
	}
	if b == nil || *a >= *b {
		return a
	}
	return b
}

// JobExecution is one concrete run of a job, tracked from creation through a
// terminal status and eventual archival. Domain fields freeze once the status
// is terminal; only the archive flag and already-recorded metrics may change
// afterwards.
type JobExecution struct {
	ID              string          `json:"id" db:"id"`
	JobID           string          `json:"job_id" db:"job_id"`
	ExecutionStatus ExecutionStatus `json:"execution_status" db:"execution_status"`

	StartedAt       *time.Time `json:"started_at" db:"started_at"`
	CompletedAt     *time.Time `json:"completed_at" db:"completed_at"`
	DurationSeconds *float64   `json:"duration_seconds" db:"duration_seconds"`
	ExecutionDate   time.Time  `json:"execution_date" db:"execution_date"`

	TriggeredBy       TriggerType `json:"triggered_by" db:"triggered_by"`
	TriggeredByUserID *string     `json:"triggered_by_user_id" db:"triggered_by_user_id"`

	ServerInstance *string `json:"server_instance" db:"server_instance"`
	WorkerNodeID   *string `json:"worker_node_id" db:"worker_node_id"`
	TraceID        *string `json:"trace_id" db:"trace_id"`
	CorrelationID  *string `json:"correlation_id" db:"correlation_id"`

	ErrorMessage *string         `json:"error_message" db:"error_message"`
	ErrorCode    *string         `json:"error_code" db:"error_code"`
	ErrorStepID  *string         `json:"error_step_id" db:"error_step_id"`
	ErrorDetails json.RawMessage `json:"error_details" db:"error_details"`

	Metrics ExecutionMetrics `json:"metrics"`

	SLABreached      *bool           `json:"sla_breached" db:"sla_breached"`
	ExecutionContext json.RawMessage `json:"execution_context" db:"execution_context"`

	Archived   bool       `json:"archived" db:"archived"`
	ArchivedAt *time.Time `json:"archived_at" db:"archived_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ElapsedSeconds returns how long the execution has been (or was) underway.
// Zero when the execution has not started.
func (e JobExecution) ElapsedSeconds(now time.Time) float64 {
	if e.StartedAt == nil {
		return 0
	}
	if e.CompletedAt != nil {
		return e.CompletedAt.Sub(*e.StartedAt).Seconds()
	}
	return now.Sub(*e.StartedAt).Seconds()
}

// ExecutionFilter is the multi-field search input; all set fields are
// combined with AND semantics.
type ExecutionFilter struct {
	JobID           *string          `json:"job_id"`
	ExecutionStatus *ExecutionStatus `json:"execution_status"`
	StartedAtMin    *time.Time       `json:"started_at_min"`
	StartedAtMax    *time.Time       `json:"started_at_max"`
	TriggeredBy     *TriggerType     `json:"triggered_by"`
	ServerInstance  *string          `json:"server_instance"`
	WorkerNodeID    *string          `json:"worker_node_id"`
	SLABreached     *bool            `json:"sla_breached"`
	Archived        *bool            `json:"archived"`
}

// Pagination describes the window of a list response.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	Total   int  `json:"total"`
	HasMore bool `json:"hasMore"`
}

// ExecutionPage is the standard list envelope.
type ExecutionPage struct {
	Data       []JobExecution `json:"data"`
	Pagination Pagination     `json:"pagination"`
}

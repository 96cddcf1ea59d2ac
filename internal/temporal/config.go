package temporal

import "time"

// TaskQueueName is the task queue the external scheduler's workers listen
// on. This service never hosts a worker for it; it only enqueues.
const TaskQueueName = "JOBTRACE_SCHEDULER"

// RetryWorkflowName is the scheduler-side workflow that re-runs a job. The
// workflow creates the fresh execution record through the normal create
// path; the original failed record is never touched.
const RetryWorkflowName = "RunJobWorkflow"

// RetryWorkflowIDPrefix namespaces the workflow ids this service starts.
const RetryWorkflowIDPrefix = "jobtrace-retry-"

// DefaultStartTimeout bounds how long a retry trigger may wait on the
// scheduler before it is reported as a dependency failure.
const DefaultStartTimeout = 10 * time.Second

// RetryParams is the input handed to the scheduler's retry workflow.
type RetryParams struct {
	JobID             string `json:"job_id"`
	SourceExecutionID string `json:"source_execution_id"`
	TriggeredBy       string `json:"triggered_by"`
	RequestedByUserID string `json:"requested_by_user_id"`
}

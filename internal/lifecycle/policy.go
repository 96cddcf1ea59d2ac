package lifecycle

import (
	"time"

	"github.com/jobtrace/jobtrace-api/internal/config"
	"github.com/jobtrace/jobtrace-api/internal/models"
)

// JobPolicy supplies the externally configured SLA and timeout for a job.
// Either value may be absent: without an SLA the execution is never marked
// breached, and without a timeout it is never reported as timed out.
type JobPolicy interface {
	SLASeconds(jobID string) *float64
	TimeoutSeconds(jobID string) *float64
}

// ConfigPolicy reads per-job policies from the loaded configuration.
type ConfigPolicy struct {
	cfg *config.Config
}

func NewConfigPolicy(cfg *config.Config) *ConfigPolicy {
	return &ConfigPolicy{cfg: cfg}
}

func (p *ConfigPolicy) SLASeconds(jobID string) *float64 {
	return p.cfg.PolicyFor(jobID).SLASeconds
}

func (p *ConfigPolicy) TimeoutSeconds(jobID string) *float64 {
	return p.cfg.PolicyFor(jobID).TimeoutSeconds
}

// TimeoutState is the result of the read-side timeout predicate.
type TimeoutState struct {
	ExecutionID    string   `json:"execution_id"`
	IsTimedOut     bool     `json:"is_timed_out"`
	ElapsedSeconds float64  `json:"elapsed_seconds"`
	TimeoutSeconds *float64 `json:"timeout_seconds"`
}

// EvaluateTimeout applies the timeout predicate to one execution: a running
// execution is timed out once its elapsed time exceeds the job's configured
// timeout. Evaluated on read; no background daemon owns this.
func EvaluateTimeout(exec models.JobExecution, policy JobPolicy, now time.Time) TimeoutState {
	state := TimeoutState{
		ExecutionID:    exec.ID,
		TimeoutSeconds: policy.TimeoutSeconds(exec.JobID),
	}
	if exec.ExecutionStatus != models.StatusRunning || exec.StartedAt == nil {
		return state
	}
	state.ElapsedSeconds = exec.ElapsedSeconds(now)
	if state.TimeoutSeconds != nil && state.ElapsedSeconds > *state.TimeoutSeconds {
		state.IsTimedOut = true
	}
	return state
}

// DecorateSLA fills sla_breached for a still-running execution whose elapsed
// time already exceeds the job's SLA. Terminal rows keep their persisted
// value.
func DecorateSLA(exec *models.JobExecution, policy JobPolicy, now time.Time) {
	if exec.ExecutionStatus != models.StatusRunning || exec.StartedAt == nil {
		return
	}
	sla := policy.SLASeconds(exec.JobID)
	if sla == nil {
		return
	}
	breached := exec.ElapsedSeconds(now) > *sla
	exec.SLABreached = &breached
}

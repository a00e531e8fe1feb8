package models

import (
	"encoding/json"
	"time"
)

// JobStatus defines the status of a scheduled job.
type JobStatus string

const (
	JobStatusScheduled JobStatus = "SCHEDULED"
	JobStatusExecuted  JobStatus = "EXECUTED"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusCancelled JobStatus = "CANCELLED"
)

// Terminal reports whether s is a terminal job status.
func (s JobStatus) Terminal() bool {
	return s == JobStatusExecuted || s == JobStatusFailed || s == JobStatusCancelled
}

// JobType names the handler a scheduled job is dispatched to.
type JobType string

const (
	JobTypeTurnWarning           JobType = "turn-warning"
	JobTypeTurnClaimTimeout      JobType = "turn-claim-timeout"
	JobTypeTurnSubmissionWarning JobType = "turn-submission-warning"
	JobTypeTurnTimeout           JobType = "turn-timeout"
	JobTypeSeasonOpenTimeout     JobType = "season-open-timeout"
	JobTypeStaleGameSweep        JobType = "stale-game-sweep"
)

// ScheduledJob is a durable one-shot timer. JobID is globally unique and
// derived from the domain key so callers can cancel deterministically.
type ScheduledJob struct {
	JobID         string          `json:"job_id"`
	FireAt        time.Time       `json:"fire_at"`
	JobType       JobType         `json:"job_type"`
	Payload       json.RawMessage `json:"payload"`
	Status        JobStatus       `json:"status"`
	ExecutedAt    *time.Time      `json:"executed_at,omitempty"`
	FailureReason *string         `json:"failure_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

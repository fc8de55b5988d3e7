package model

import "time"

// JobStatus is the state of an enrichment job. Transitions:
//
//	queued → running → succeeded | failed | timed_out | cancelled
//
// A failed or timed_out attempt collapses back to queued (behind a backoff
// gate) while retries remain, so those states are only observable on a
// terminal job: once attempts exhaust MaxRetries the job rests under the
// failure kind of its last attempt and is surfaced in run status. Cancelling
// a run retires its queued jobs as cancelled; running jobs drain naturally.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusTimedOut  JobStatus = "timed_out"
	JobStatusCancelled JobStatus = "cancelled"
)

// EnrichmentJob is a mutable state-machine instance owned exclusively by the
// job queue. One job exists per (run, company) pair; enqueue is idempotent.
type EnrichmentJob struct {
	ID           string     `json:"id"`
	RunID        string     `json:"run_id"`
	CompanyID    string     `json:"company_id"`
	Status       JobStatus  `json:"status"`
	AttemptCount int        `json:"attempt_count"`
	Terminal     bool       `json:"terminal"` // retries exhausted or succeeded
	Error        string     `json:"error,omitempty"`
	NotBefore    time.Time  `json:"not_before,omitempty"` // backoff gate for re-queued jobs
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

package model

import "time"

// RunStatus represents the lifecycle state of a sourcing run.
type RunStatus string

const (
	RunStatusScoring   RunStatus = "scoring"   // Stage-1 in progress
	RunStatusEnriching RunStatus = "enriching" // Stage-2 jobs dispatched
	RunStatusComplete  RunStatus = "complete"
	RunStatusCancelled RunStatus = "cancelled"
	RunStatusFailed    RunStatus = "failed"
)

// Run is one end-to-end execution of the two-stage pipeline. Every entity it
// produces is scoped by the run ID so re-scoring never corrupts history.
type Run struct {
	ID         string       `json:"id"`
	Universe   string       `json:"universe"` // universe filter label
	Weights    ScoreWeights `json:"weights"`  // snapshot taken at start_run
	Mode       ScoreMode    `json:"mode"`
	TargetSize int          `json:"target_size"`
	Status     RunStatus    `json:"status"`
	Error      string       `json:"error,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// Terminal reports whether the run can no longer change state.
func (r *Run) Terminal() bool {
	switch r.Status {
	case RunStatusComplete, RunStatusCancelled, RunStatusFailed:
		return true
	}
	return false
}

// RunStatusReport is the pollable aggregate view of a run. Building it reads
// job state only, never the in-flight operations, so callers may poll at any
// frequency.
type RunStatusReport struct {
	RunID     string       `json:"run_id"`
	Status    RunStatus    `json:"status"`
	Queued    int          `json:"queued"`
	Running   int          `json:"running"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Cancelled int          `json:"cancelled,omitempty"`
	Failures  []JobFailure `json:"failures,omitempty"`
}

// JobFailure describes one company's terminal enrichment failure with enough
// context to retry it individually.
type JobFailure struct {
	CompanyID string    `json:"company_id"`
	Source    string    `json:"source,omitempty"`
	Kind      JobStatus `json:"kind,omitempty"` // failed or timed_out, from the last attempt
	Error     string    `json:"error"`
}

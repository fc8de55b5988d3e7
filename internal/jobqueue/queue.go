// Package jobqueue owns the enrichment job state machine and the worker
// pool that drains it. Jobs are keyed (run, company); enqueue is idempotent
// and status reads never touch in-flight work.
package jobqueue

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/sourcing-cli/internal/model"
)

// Config controls retry and backoff behavior.
type Config struct {
	// MaxRetries is the number of re-queues allowed after the first
	// attempt. A job failing MaxRetries+1 times becomes terminal failed.
	MaxRetries int

	// BackoffBase is the delay before the first retry; each subsequent
	// retry doubles it, capped at BackoffMax.
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// DefaultConfig returns queue settings suitable for external-API enrichment.
func DefaultConfig() Config {
	return Config{
		MaxRetries:  3,
		BackoffBase: 500 * time.Millisecond,
		BackoffMax:  30 * time.Second,
	}
}

type jobKey struct {
	runID     string
	companyID string
}

// runCounts keeps per-run tallies so Status is O(1) in the number of jobs.
type runCounts struct {
	queued    int
	running   int
	succeeded int
	failed    int
	cancelled int
	failures  []model.JobFailure
}

// Queue is an in-memory job table plus FIFO dispatch order. All state is
// guarded by one mutex; workers never hold it across an enrichment call.
type Queue struct {
	mu        sync.Mutex
	cfg       Config
	jobs      map[jobKey]*model.EnrichmentJob
	order     []jobKey // FIFO among dispatchable jobs
	counts    map[string]*runCounts
	cancelled map[string]bool
	now       func() time.Time // injectable for tests
}

// New creates an empty queue.
func New(cfg Config) *Queue {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 30 * time.Second
	}
	return &Queue{
		cfg:       cfg,
		jobs:      make(map[jobKey]*model.EnrichmentJob),
		counts:    make(map[string]*runCounts),
		cancelled: make(map[string]bool),
		now:       time.Now,
	}
}

// WithNow sets a fixed clock for testing.
func (q *Queue) WithNow(fn func() time.Time) *Queue {
	q.now = fn
	return q
}

// Enqueue adds a job for (runID, companyID). Re-enqueueing an existing
// queued, running, or succeeded job is a no-op, never a duplicate. Enqueue
// for a cancelled run is refused.
func (q *Queue) Enqueue(runID, companyID string) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cancelled[runID] {
		return "", false
	}

	key := jobKey{runID: runID, companyID: companyID}
	if existing, ok := q.jobs[key]; ok {
		return existing.ID, false
	}

	job := &model.EnrichmentJob{
		ID:        uuid.NewString(),
		RunID:     runID,
		CompanyID: companyID,
		Status:    model.JobStatusQueued,
		CreatedAt: q.now().UTC(),
	}
	q.jobs[key] = job
	q.order = append(q.order, key)
	q.runCounts(runID).queued++
	return job.ID, true
}

// Next claims the oldest dispatchable job: queued, past its backoff gate,
// and not belonging to a cancelled run. Returns a copy, or false when
// nothing is ready.
func (q *Queue) Next() (model.EnrichmentJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	for i, key := range q.order {
		job := q.jobs[key]
		if job == nil || job.Status != model.JobStatusQueued {
			continue
		}
		if q.cancelled[key.runID] {
			continue
		}
		if !job.NotBefore.IsZero() && now.Before(job.NotBefore) {
			continue
		}

		job.Status = model.JobStatusRunning
		job.AttemptCount++
		q.order = append(q.order[:i], q.order[i+1:]...)
		counts := q.runCounts(key.runID)
		counts.queued--
		counts.running++
		return *job, true
	}
	return model.EnrichmentJob{}, false
}

// Complete transitions a running job to succeeded. The caller must persist
// the job's artifacts before calling so pollers never observe a succeeded
// job without its artifacts.
func (q *Queue) Complete(runID, companyID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := jobKey{runID: runID, companyID: companyID}
	job, ok := q.jobs[key]
	if !ok || job.Status != model.JobStatusRunning {
		return
	}

	now := q.now().UTC()
	job.Status = model.JobStatusSucceeded
	job.Terminal = true
	job.Error = ""
	job.CompletedAt = &now

	counts := q.runCounts(runID)
	counts.running--
	counts.succeeded++
}

// Fail records a failed or timed-out attempt. While retries remain, the job
// transitions back to queued behind an exponential backoff gate; once
// exhausted it becomes terminal failed exactly once and is surfaced in the
// run's failure list.
func (q *Queue) Fail(runID, companyID string, kind model.JobStatus, errMsg string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := jobKey{runID: runID, companyID: companyID}
	job, ok := q.jobs[key]
	if !ok || job.Status != model.JobStatusRunning {
		return
	}

	job.Error = errMsg
	counts := q.runCounts(runID)
	counts.running--

	if job.AttemptCount >= q.cfg.MaxRetries+1 {
		now := q.now().UTC()
		if kind != model.JobStatusTimedOut {
			kind = model.JobStatusFailed
		}
		job.Status = kind
		job.Terminal = true
		job.CompletedAt = &now
		counts.failed++
		counts.failures = append(counts.failures, model.JobFailure{
			CompanyID: companyID,
			Kind:      kind,
			Error:     errMsg,
		})
		zap.L().Warn("job retries exhausted",
			zap.String("run_id", runID),
			zap.String("company_id", companyID),
			zap.Int("attempts", job.AttemptCount),
			zap.String("error", errMsg),
		)
		return
	}

	zap.L().Debug("job re-queued",
		zap.String("run_id", runID),
		zap.String("company_id", companyID),
		zap.String("failure", string(kind)),
		zap.Int("attempt", job.AttemptCount),
	)
	job.Status = model.JobStatusQueued
	job.NotBefore = q.now().Add(q.backoff(job.AttemptCount))
	q.order = append(q.order, key)
	counts.queued++
}

// backoff returns the delay before retry n (1-based attempt count).
func (q *Queue) backoff(attempt int) time.Duration {
	d := float64(q.cfg.BackoffBase) * math.Pow(2, float64(attempt-1))
	if d > float64(q.cfg.BackoffMax) {
		d = float64(q.cfg.BackoffMax)
	}
	return time.Duration(d)
}

// CancelRun stops dispatching jobs for a run. Queued jobs are retired as
// terminal cancelled so the run drains once in-flight jobs finish; running
// jobs complete naturally.
func (q *Queue) CancelRun(runID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cancelled[runID] {
		return
	}
	q.cancelled[runID] = true

	now := q.now().UTC()
	counts := q.runCounts(runID)
	for key, job := range q.jobs {
		if key.runID != runID || job.Status != model.JobStatusQueued {
			continue
		}
		completed := now
		job.Status = model.JobStatusCancelled
		job.Terminal = true
		job.CompletedAt = &completed
		counts.queued--
		counts.cancelled++
	}
}

// Cancelled reports whether a run has been cancelled.
func (q *Queue) Cancelled(runID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cancelled[runID]
}

// RequeueFailed resets a terminal-failed job so a single company can be
// retried without rerunning the whole pipeline.
func (q *Queue) RequeueFailed(runID, companyID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cancelled[runID] {
		return false
	}

	key := jobKey{runID: runID, companyID: companyID}
	job, ok := q.jobs[key]
	if !ok || !job.Terminal {
		return false
	}
	if job.Status != model.JobStatusFailed && job.Status != model.JobStatusTimedOut {
		return false
	}

	job.Status = model.JobStatusQueued
	job.Terminal = false
	job.AttemptCount = 0
	job.NotBefore = time.Time{}
	job.CompletedAt = nil
	q.order = append(q.order, key)

	counts := q.runCounts(runID)
	counts.failed--
	counts.queued++
	for i, f := range counts.failures {
		if f.CompanyID == companyID {
			counts.failures = append(counts.failures[:i], counts.failures[i+1:]...)
			break
		}
	}
	return true
}

// Job returns a copy of the job for (runID, companyID).
func (q *Queue) Job(runID, companyID string) (model.EnrichmentJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobKey{runID: runID, companyID: companyID}]
	if !ok {
		return model.EnrichmentJob{}, false
	}
	return *job, true
}

// Status snapshots the run's job tallies from maintained counters; it never
// blocks on in-flight enrichment, so it is safe to poll at any frequency.
func (q *Queue) Status(runID string) model.RunStatusReport {
	q.mu.Lock()
	defer q.mu.Unlock()

	report := model.RunStatusReport{RunID: runID}
	counts, ok := q.counts[runID]
	if !ok {
		return report
	}
	report.Queued = counts.queued
	report.Running = counts.running
	report.Succeeded = counts.succeeded
	report.Failed = counts.failed
	report.Cancelled = counts.cancelled
	report.Failures = append(report.Failures, counts.failures...)
	return report
}

// Drained reports whether a run has no queued or running jobs left.
func (q *Queue) Drained(runID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	counts, ok := q.counts[runID]
	if !ok {
		return true
	}
	return counts.queued == 0 && counts.running == 0
}

func (q *Queue) runCounts(runID string) *runCounts {
	counts, ok := q.counts[runID]
	if !ok {
		counts = &runCounts{}
		q.counts[runID] = counts
	}
	return counts
}

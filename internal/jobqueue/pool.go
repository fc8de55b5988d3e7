package jobqueue

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/sourcing-cli/internal/model"
)

// Handler executes one enrichment job. It must persist all artifacts before
// returning nil so the succeeded transition is never visible without them.
type Handler func(ctx context.Context, job model.EnrichmentJob) error

// pollInterval is how often idle workers re-check the queue for jobs that
// cleared their backoff gate.
const pollInterval = 50 * time.Millisecond

// Pool drains the queue with bounded global concurrency. Per-source limits
// are enforced further down by SourceLimits, since sources have independent
// rate budgets.
type Pool struct {
	queue      *Queue
	handler    Handler
	workers    int
	jobTimeout time.Duration
}

// NewPool creates a worker pool over the queue.
func NewPool(queue *Queue, handler Handler, workers int, jobTimeout time.Duration) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if jobTimeout <= 0 {
		jobTimeout = 2 * time.Minute
	}
	return &Pool{
		queue:      queue,
		handler:    handler,
		workers:    workers,
		jobTimeout: jobTimeout,
	}
}

// Run executes jobs until ctx is cancelled. Blocking call; start it once in
// its own goroutine at process startup.
func (p *Pool) Run(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "jobqueue.pool"))
	log.Info("worker pool starting", zap.Int("workers", p.workers))

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			return p.worker(gctx)
		})
	}

	err := g.Wait()
	if err != nil && !eris.Is(err, context.Canceled) {
		return eris.Wrap(err, "jobqueue: pool")
	}
	log.Info("worker pool stopped")
	return nil
}

// worker claims and executes jobs one at a time.
func (p *Pool) worker(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		job, ok := p.queue.Next()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				continue
			}
		}

		p.execute(ctx, job)
	}
}

// execute runs the handler under the job timeout and records the outcome.
func (p *Pool) execute(ctx context.Context, job model.EnrichmentJob) {
	jobCtx, cancel := context.WithTimeout(ctx, p.jobTimeout)
	err := p.handler(jobCtx, job)
	timedOut := jobCtx.Err() == context.DeadlineExceeded
	cancel()

	switch {
	case err == nil:
		p.queue.Complete(job.RunID, job.CompanyID)
	case timedOut:
		p.queue.Fail(job.RunID, job.CompanyID, model.JobStatusTimedOut, "job timeout exceeded")
	default:
		p.queue.Fail(job.RunID, job.CompanyID, model.JobStatusFailed, err.Error())
	}
}

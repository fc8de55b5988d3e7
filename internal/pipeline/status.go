package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sourcing-cli/internal/model"
	"github.com/sells-group/sourcing-cli/internal/resilience"
)

// Status reports the run's aggregate job state. It reads only the run record
// and the queue's counters, never in-flight work, so polling is always cheap.
func (p *Pipeline) Status(ctx context.Context, runID string) (*model.RunStatusReport, error) {
	run, err := p.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	report := p.queue.Status(runID)
	report.Status = run.Status
	return &report, nil
}

// CancelRun stops dispatching the run's remaining jobs. In-flight jobs drain
// naturally; their artifacts are kept.
func (p *Pipeline) CancelRun(ctx context.Context, runID string) error {
	run, err := p.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Terminal() {
		return eris.Errorf("pipeline: run %s is already %s", runID, run.Status)
	}

	p.queue.CancelRun(runID)
	p.setStatus(ctx, run, model.RunStatusCancelled, "")
	zap.L().Info("run cancelled", zap.String("run_id", runID))
	return nil
}

// RetryCompany re-queues a single terminally failed company without
// re-running the rest of the pipeline.
func (p *Pipeline) RetryCompany(ctx context.Context, runID, companyID string) error {
	run, err := p.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status == model.RunStatusCancelled {
		return eris.Errorf("pipeline: run %s is cancelled", runID)
	}

	if p.queue.RequeueFailed(runID, companyID) {
		if run.Status == model.RunStatusComplete {
			p.setStatus(ctx, run, model.RunStatusEnriching, "")
		}
		return nil
	}

	// Not in memory: the failure predates a restart. Rebuild from the DLQ.
	entries, err := p.store.DequeueDLQ(ctx, resilience.DLQFilter{RunID: runID})
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.CompanyID != companyID {
			continue
		}
		if _, ok := p.queue.Enqueue(runID, companyID); !ok {
			return eris.Errorf("pipeline: company %s already has an active job", companyID)
		}
		if err := p.store.RemoveDLQ(ctx, e.ID); err != nil {
			return err
		}
		if run.Status == model.RunStatusComplete {
			p.setStatus(ctx, run, model.RunStatusEnriching, "")
		}
		return nil
	}
	return eris.Errorf("pipeline: no failed job for company %s in run %s", companyID, runID)
}

// watchInterval is how often Watch polls for run completion.
const watchInterval = 250 * time.Millisecond

// Watch blocks until the run's jobs drain, then finalizes the run: terminal
// failures are persisted to the dead letter queue and the run is marked
// complete. Cancelled runs are left cancelled.
func (p *Pipeline) Watch(ctx context.Context, runID string) error {
	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	for !p.queue.Drained(runID) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	run, err := p.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}

	report := p.queue.Status(runID)
	now := time.Now().UTC()
	for _, f := range report.Failures {
		entry := resilience.DLQEntry{
			RunID:        runID,
			CompanyID:    f.CompanyID,
			Error:        f.Error,
			ErrorType:    "transient",
			FailedSource: f.Source,
			RetryCount:   0,
			MaxRetries:   p.cfg.Queue.MaxRetries,
			NextRetryAt:  now,
			CreatedAt:    now,
			LastFailedAt: now,
		}
		if err := p.store.EnqueueDLQ(ctx, entry); err != nil {
			zap.L().Warn("failed to persist job failure",
				zap.String("run_id", runID),
				zap.String("company_id", f.CompanyID),
				zap.Error(err),
			)
		}
	}

	if run.Status == model.RunStatusEnriching {
		p.setStatus(ctx, run, model.RunStatusComplete, "")
	}

	zap.L().Info("run finished",
		zap.String("run_id", runID),
		zap.String("status", string(run.Status)),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
	)
	return nil
}

package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/sourcing-cli/internal/jobqueue"
	"github.com/sells-group/sourcing-cli/internal/model"
	"github.com/sells-group/sourcing-cli/internal/resilience"
)

// Handler returns the worker-pool handler that executes one enrichment job.
// Artifacts are persisted before the handler returns, so a succeeded job is
// never observable without them.
func (p *Pipeline) Handler() jobqueue.Handler {
	return func(ctx context.Context, job model.EnrichmentJob) error {
		company, err := p.companyContext(ctx, job.RunID, job.CompanyID)
		if err != nil {
			return err
		}

		result, err := p.orch.Enrich(ctx, job.RunID, company)
		if err != nil {
			return err
		}

		if len(result.Artifacts) > 0 {
			if err := p.store.AppendArtifacts(ctx, result.Artifacts); err != nil {
				// Persistence failures are worth retrying; the artifact
				// table is append-only so a replay cannot corrupt it.
				return resilience.NewTransientError(err, 0)
			}
		}

		zap.L().Debug("company enriched",
			zap.String("run_id", job.RunID),
			zap.String("company_id", job.CompanyID),
			zap.Int("artifacts", len(result.Artifacts)),
			zap.Float64("confidence", result.Confidence),
		)
		return nil
	}
}

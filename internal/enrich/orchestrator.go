package enrich

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/sourcing-cli/internal/model"
	"github.com/sells-group/sourcing-cli/internal/resilience"
)

// SourceLimiter gates adapter calls per external source. The worker pool
// provides the implementation; the orchestrator only waits on it.
type SourceLimiter interface {
	Wait(ctx context.Context, source string) error
}

// noLimit is used when no limiter is configured.
type noLimit struct{}

func (noLimit) Wait(context.Context, string) error { return nil }

// Orchestrator fans a company out to every registered adapter in parallel
// and gathers the results, tolerating partial failure. A per-source circuit
// breaker short-circuits adapters whose upstream keeps failing.
type Orchestrator struct {
	reg      *Registry
	limiter  SourceLimiter
	breakers *resilience.ServiceBreakers
	now      func() time.Time // injectable for tests
}

// NewOrchestrator creates an Orchestrator over the given registry. limiter
// and breakers may be nil.
func NewOrchestrator(reg *Registry, limiter SourceLimiter, breakers *resilience.ServiceBreakers) *Orchestrator {
	if limiter == nil {
		limiter = noLimit{}
	}
	if breakers == nil {
		breakers = resilience.NewServiceBreakers(resilience.DefaultCircuitBreakerConfig())
	}
	return &Orchestrator{reg: reg, limiter: limiter, breakers: breakers, now: time.Now}
}

// WithNow sets a fixed clock for testing.
func (o *Orchestrator) WithNow(fn func() time.Time) *Orchestrator {
	o.now = fn
	return o
}

// Enrich gathers artifacts for one company from all registered adapters.
//
// Failure semantics:
//   - Some adapters succeed: the company still produces artifacts, with the
//     set confidence reduced proportionally to the missing sources.
//   - All adapters fail permanently (no data for this company): a valid
//     succeeded result with an empty artifact set and confidence 0.
//   - Zero successes with at least one transient failure (timeout, rate
//     limit): a transient error, so the job layer can retry the company.
func (o *Orchestrator) Enrich(ctx context.Context, runID string, company model.CompanyContext) (*model.EnrichmentResult, error) {
	adapters := o.reg.All()
	result := &model.EnrichmentResult{
		CompanyID: company.CompanyID,
		RunID:     runID,
		Sources:   len(adapters),
	}
	if len(adapters) == 0 {
		return result, nil
	}

	log := zap.L().With(
		zap.String("run_id", runID),
		zap.String("company_id", company.CompanyID),
	)

	var mu sync.Mutex
	var artifacts []model.EnrichmentArtifact
	var transientFailure error

	g, gctx := errgroup.WithContext(ctx)
	for _, a := range adapters {
		g.Go(func() error {
			if err := o.limiter.Wait(gctx, a.Name()); err != nil {
				return err // context cancelled while waiting
			}

			callCtx, cancel := context.WithTimeout(gctx, a.Timeout())
			artifact, err := resilience.ExecuteVal(callCtx, o.breakers.Get(a.Name()),
				func(ctx context.Context) (*model.EnrichmentArtifact, error) {
					return a.Fetch(ctx, company)
				})
			cancel()

			if err != nil {
				// The adapter's own deadline and an open breaker are both
				// worth retrying later.
				transient := resilience.IsTransient(err) ||
					errors.Is(err, resilience.ErrCircuitOpen) ||
					callCtx.Err() == context.DeadlineExceeded
				log.Warn("adapter fetch failed",
					zap.String("source", a.Name()),
					zap.Bool("transient", transient),
					zap.Error(err),
				)
				if transient {
					mu.Lock()
					transientFailure = eris.Wrapf(err, "enrich: %s", a.Name())
					mu.Unlock()
				}
				return nil // partial failure never aborts the gather
			}
			if artifact == nil {
				return nil // source legitimately had nothing
			}

			artifact.CompanyID = company.CompanyID
			artifact.RunID = runID
			artifact.SourceName = a.Name()
			artifact.FetchedAt = o.now().UTC()

			mu.Lock()
			artifacts = append(artifacts, *artifact)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "enrich: gather")
	}

	result.Artifacts = artifacts
	result.Succeeded = len(artifacts)
	result.Confidence = setConfidence(artifacts, len(adapters))

	if result.Succeeded == 0 && transientFailure != nil {
		// Nothing gathered and at least one source should be retried.
		return nil, resilience.NewTransientError(transientFailure, 0)
	}

	log.Debug("enrichment gathered",
		zap.Int("sources", result.Sources),
		zap.Int("succeeded", result.Succeeded),
		zap.Float64("confidence", result.Confidence),
	)
	return result, nil
}

// setConfidence is the mean confidence of gathered artifacts scaled by the
// fraction of sources that produced one. Empty set scores 0.
func setConfidence(artifacts []model.EnrichmentArtifact, attempted int) float64 {
	if len(artifacts) == 0 || attempted == 0 {
		return 0
	}
	sum := 0.0
	for _, a := range artifacts {
		sum += a.Confidence
	}
	mean := sum / float64(len(artifacts))
	return mean * float64(len(artifacts)) / float64(attempted)
}

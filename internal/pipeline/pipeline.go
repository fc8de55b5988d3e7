// Package pipeline coordinates the two stages of a sourcing run: synchronous
// scoring and shortlisting, then asynchronous enrichment through the job
// queue, and finally on-demand composite ranking.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sourcing-cli/internal/config"
	"github.com/sells-group/sourcing-cli/internal/enrich"
	"github.com/sells-group/sourcing-cli/internal/features"
	"github.com/sells-group/sourcing-cli/internal/jobqueue"
	"github.com/sells-group/sourcing-cli/internal/model"
	"github.com/sells-group/sourcing-cli/internal/scorer"
	"github.com/sells-group/sourcing-cli/internal/shortlist"
	"github.com/sells-group/sourcing-cli/internal/store"
)

// Pipeline owns the run lifecycle end to end.
type Pipeline struct {
	cfg      *config.Config
	store    store.Store
	features features.Reader
	scorer   *scorer.Scorer
	queue    *jobqueue.Queue
	orch     *enrich.Orchestrator

	// contexts caches the company facts enrichment needs, keyed by run then
	// company. Rebuilt from the feature reader after a restart.
	mu       sync.Mutex
	contexts map[string]map[string]model.CompanyContext
}

// New creates a Pipeline with all dependencies.
func New(
	cfg *config.Config,
	st store.Store,
	reader features.Reader,
	sc *scorer.Scorer,
	queue *jobqueue.Queue,
	orch *enrich.Orchestrator,
) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		store:    st,
		features: reader,
		scorer:   sc,
		queue:    queue,
		orch:     orch,
		contexts: make(map[string]map[string]model.CompanyContext),
	}
}

// StartRunRequest carries the operator's parameters for a new run.
type StartRunRequest struct {
	Universe   string                   `json:"universe"`
	Weights    model.ScoreWeights       `json:"weights"`
	Mode       model.ScoreMode          `json:"mode"`
	TargetSize int                      `json:"target_size"`
	Exclusions shortlist.ExclusionRules `json:"exclusions"`
}

// StartRun validates the request, runs Stage-1 synchronously, persists the
// shortlist, and enqueues one enrichment job per shortlisted company. The run
// returns as soon as Stage-2 is dispatched; enrichment completes in the
// background.
func (p *Pipeline) StartRun(ctx context.Context, req StartRunRequest) (*model.Run, error) {
	// Everything rejectable is rejected before the run record exists.
	if err := req.Weights.Validate(); err != nil {
		return nil, err
	}
	if req.Mode != model.ScoreModeAbsolute && req.Mode != model.ScoreModePercentile {
		return nil, eris.Errorf("pipeline: unknown score mode %q", req.Mode)
	}
	if req.TargetSize <= 0 {
		return nil, eris.Errorf("pipeline: target size must be positive, got %d", req.TargetSize)
	}

	now := time.Now().UTC()
	run := &model.Run{
		ID:         uuid.New().String(),
		Universe:   req.Universe,
		Weights:    req.Weights.Normalize(),
		Mode:       req.Mode,
		TargetSize: req.TargetSize,
		Status:     model.RunStatusScoring,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := p.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	log := zap.L().With(zap.String("run_id", run.ID), zap.String("universe", run.Universe))
	log.Info("run started",
		zap.String("mode", string(run.Mode)),
		zap.Int("target_size", run.TargetSize),
	)

	universe, err := p.features.Universe(ctx, features.Filter{Universe: req.Universe})
	if err != nil {
		p.setStatus(ctx, run, model.RunStatusFailed, err.Error())
		return nil, err
	}

	scored := p.scorer.Score(universe, run.Weights, run.Mode)
	sl := shortlist.Build(run.ID, scored, run.TargetSize, req.Exclusions)
	if err := p.store.SaveShortlist(ctx, sl); err != nil {
		p.setStatus(ctx, run, model.RunStatusFailed, err.Error())
		return nil, err
	}

	// An empty universe is a valid degenerate run: complete, nothing to enrich.
	if len(sl.Entries) == 0 {
		log.Warn("shortlist is empty, nothing to enrich")
		p.setStatus(ctx, run, model.RunStatusComplete, "")
		return run, nil
	}

	p.cacheContexts(run.ID, universe)
	for _, entry := range sl.Entries {
		p.queue.Enqueue(run.ID, entry.CompanyID)
	}
	p.setStatus(ctx, run, model.RunStatusEnriching, "")

	log.Info("enrichment dispatched",
		zap.Int("jobs", len(sl.Entries)),
		zap.Bool("under_target", sl.UnderTarget),
	)
	return run, nil
}

// setStatus persists a status transition, logging rather than failing when
// the write itself errors.
func (p *Pipeline) setStatus(ctx context.Context, run *model.Run, status model.RunStatus, errMsg string) {
	run.Status = status
	run.Error = errMsg
	if err := p.store.UpdateRunStatus(ctx, run.ID, status, errMsg); err != nil {
		zap.L().Warn("failed to update run status",
			zap.String("run_id", run.ID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}

func (p *Pipeline) cacheContexts(runID string, universe []model.CompanyFeatureVector) {
	m := make(map[string]model.CompanyContext, len(universe))
	for _, v := range universe {
		m[v.CompanyID] = v.Context()
	}
	p.mu.Lock()
	p.contexts[runID] = m
	p.mu.Unlock()
}

// companyContext resolves the facts for one company, falling back to the
// feature reader when the in-memory cache was lost to a restart.
func (p *Pipeline) companyContext(ctx context.Context, runID, companyID string) (model.CompanyContext, error) {
	p.mu.Lock()
	m, ok := p.contexts[runID]
	p.mu.Unlock()
	if ok {
		if c, ok := m[companyID]; ok {
			return c, nil
		}
	}

	run, err := p.store.GetRun(ctx, runID)
	if err != nil {
		return model.CompanyContext{}, err
	}
	universe, err := p.features.Universe(ctx, features.Filter{Universe: run.Universe})
	if err != nil {
		return model.CompanyContext{}, err
	}
	p.cacheContexts(runID, universe)

	for _, v := range universe {
		if v.CompanyID == companyID {
			return v.Context(), nil
		}
	}
	return model.CompanyContext{}, eris.Errorf("pipeline: company %s not in universe %s", companyID, run.Universe)
}

package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sourcing-cli/internal/cost"
	"github.com/sells-group/sourcing-cli/internal/enrich"
	"github.com/sells-group/sourcing-cli/internal/features"
	"github.com/sells-group/sourcing-cli/internal/jobqueue"
	"github.com/sells-group/sourcing-cli/internal/pipeline"
	"github.com/sells-group/sourcing-cli/internal/resilience"
	"github.com/sells-group/sourcing-cli/internal/scorer"
	"github.com/sells-group/sourcing-cli/internal/store"
	anthropicpkg "github.com/sells-group/sourcing-cli/pkg/anthropic"
	"github.com/sells-group/sourcing-cli/pkg/techdetect"
	"github.com/sells-group/sourcing-cli/pkg/websearch"
)

// universeCSV optionally points the feature reader at a local CSV snapshot
// instead of the company_features table.
var universeCSV string

// pipelineEnv bundles everything a command needs to execute runs.
type pipelineEnv struct {
	Store    store.Store
	Queue    *jobqueue.Queue
	Pool     *jobqueue.Pool
	Pipeline *pipeline.Pipeline
}

func (e *pipelineEnv) Close() {
	_ = e.Store.Close()
}

func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	reader, err := initFeatures(ctx, st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	// Enrichment sources are optional individually; a run with no adapters
	// still completes, it just gathers nothing.
	adapterTimeout := time.Duration(cfg.Enrich.AdapterTimeoutSecs) * time.Second
	reg := enrich.NewRegistry()
	if cfg.WebSearch.Key != "" {
		searchClient := websearch.NewClient(cfg.WebSearch.Key, websearch.WithBaseURL(cfg.WebSearch.BaseURL))
		reg.Register(enrich.NewSearchAdapter(searchClient, adapterTimeout))
	} else {
		zap.L().Debug("SOURCING_WEBSEARCH_KEY not set, web search adapter disabled")
	}
	if cfg.TechStack.Key != "" {
		techClient := techdetect.NewClient(cfg.TechStack.Key, techdetect.WithBaseURL(cfg.TechStack.BaseURL))
		reg.Register(enrich.NewTechStackAdapter(techClient, adapterTimeout))
	} else {
		zap.L().Debug("SOURCING_TECHSTACK_KEY not set, tech stack adapter disabled")
	}
	if cfg.Anthropic.Key != "" {
		aiClient := anthropicpkg.NewClient(cfg.Anthropic.Key)
		costs := cost.NewCalculator(cost.DefaultRates())
		reg.Register(enrich.NewUpliftAdapter(aiClient, cfg.Anthropic.Model, cfg.Anthropic.MaxTokens, adapterTimeout, costs))
		reg.Register(enrich.NewClassifierAdapter(aiClient, cfg.Anthropic.Model, cfg.Anthropic.MaxTokens, adapterTimeout, costs))
	} else {
		zap.L().Debug("SOURCING_ANTHROPIC_KEY not set, uplift and classifier adapters disabled")
	}
	zap.L().Info("enrichment adapters registered", zap.Strings("sources", reg.Names()))

	limits := jobqueue.NewSourceLimits(cfg.Queue.SourceRatePerSec, 0)
	breakers := resilience.NewServiceBreakers(
		resilience.FromCircuitConfig(cfg.Enrich.BreakerFailures, cfg.Enrich.BreakerResetSecs))
	orch := enrich.NewOrchestrator(reg, limits, breakers)

	queue := jobqueue.New(jobqueue.Config{
		MaxRetries:  cfg.Queue.MaxRetries,
		BackoffBase: time.Duration(cfg.Queue.BackoffBaseMS) * time.Millisecond,
		BackoffMax:  time.Duration(cfg.Queue.BackoffMaxSecs) * time.Second,
	})

	p := pipeline.New(cfg, st, reader, scorer.New(scorerCurves()), queue, orch)

	pool := jobqueue.NewPool(queue, p.Handler(), cfg.Queue.Workers,
		time.Duration(cfg.Queue.JobTimeoutSecs)*time.Second)

	return &pipelineEnv{
		Store:    st,
		Queue:    queue,
		Pool:     pool,
		Pipeline: p,
	}, nil
}

// initFeatures picks the universe source: an explicit CSV snapshot, or the
// company_features table when the store is Postgres.
func initFeatures(ctx context.Context, st store.Store) (features.Reader, error) {
	if universeCSV != "" {
		return features.NewCSVReader(universeCSV), nil
	}

	ps, ok := st.(*store.PostgresStore)
	if !ok {
		return nil, eris.New("sqlite store has no feature table; pass --universe-csv")
	}
	reader := features.NewPostgresReader(ps.Pool())
	if err := reader.Migrate(ctx); err != nil {
		return nil, err
	}
	return reader, nil
}

// scorerCurves applies the configured revenue band over the defaults.
func scorerCurves() scorer.Curves {
	curves := scorer.DefaultCurves()
	if cfg.Scoring.RevenueSweetLow > 0 {
		curves.RevenueSweetLow = cfg.Scoring.RevenueSweetLow
	}
	if cfg.Scoring.RevenueSweetHigh > 0 {
		curves.RevenueSweetHigh = cfg.Scoring.RevenueSweetHigh
	}
	if cfg.Scoring.RevenueTaperSpan > 0 {
		curves.RevenueTaperSpan = cfg.Scoring.RevenueTaperSpan
	}
	if cfg.Scoring.ContributionFloor > 0 {
		curves.Floor = cfg.Scoring.ContributionFloor
	}
	return curves
}

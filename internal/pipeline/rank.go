package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sourcing-cli/internal/model"
	"github.com/sells-group/sourcing-cli/internal/ranker"
	"github.com/sells-group/sourcing-cli/internal/store"
)

// Rank computes, persists, and returns the run's composite ranking. With
// allowPartial the ranking covers whatever enrichment finished so far;
// otherwise cancelled runs are refused.
func (p *Pipeline) Rank(ctx context.Context, runID string, allowPartial bool) ([]model.CompositeRanking, error) {
	run, err := p.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	sl, err := p.store.GetShortlist(ctx, runID)
	if err != nil {
		return nil, err
	}
	artifacts, err := p.store.ListArtifacts(ctx, runID)
	if err != nil {
		return nil, err
	}
	overrideRows, err := p.store.ListOverrides(ctx, runID)
	if err != nil {
		return nil, err
	}

	overrides := make(map[string]ranker.Override, len(overrideRows))
	for id, row := range overrideRows {
		overrides[id] = ranker.Override{CompanyID: row.CompanyID, Delta: row.Delta, Pinned: row.Pinned}
	}

	strategicFit := make(map[string]float64)
	for id, companyArtifacts := range artifacts {
		if fit, ok := ranker.FitFromClassification(companyArtifacts); ok {
			strategicFit[id] = fit
		}
	}

	rankings, err := ranker.Rank(ranker.Input{
		Run:          run,
		Stage1:       sl.Entries,
		Artifacts:    artifacts,
		StrategicFit: strategicFit,
		Overrides:    overrides,
		Blend: model.BlendWeights{
			Financial:    p.cfg.Ranker.FinancialWeight,
			Uplift:       p.cfg.Ranker.UpliftWeight,
			StrategicFit: p.cfg.Ranker.StrategicFitWeight,
		},
		AllowPartial: allowPartial,
	}, time.Now())
	if err != nil {
		return nil, err
	}

	if err := p.store.SaveRankings(ctx, runID, rankings); err != nil {
		return nil, err
	}
	return rankings, nil
}

// OverrideRequest is one operator adjustment to a ranked company.
type OverrideRequest struct {
	CompanyID string  `json:"company_id"`
	Delta     float64 `json:"delta"`
	Pin       *bool   `json:"pin,omitempty"` // nil leaves the pinned flag unchanged
	Author    string  `json:"author"`
	Note      string  `json:"note,omitempty"`
}

// SetOverride records a manual score adjustment and appends exactly one
// decision log entry for it. The underlying computed scores are untouched;
// the delta applies at rank time.
func (p *Pipeline) SetOverride(ctx context.Context, runID string, req OverrideRequest) error {
	if req.Delta < model.MinOverrideDelta || req.Delta > model.MaxOverrideDelta {
		return eris.Errorf("pipeline: override delta %.2f outside [%.0f, %.0f]",
			req.Delta, model.MinOverrideDelta, model.MaxOverrideDelta)
	}
	if req.Author == "" {
		return eris.New("pipeline: override author is required")
	}

	if _, err := p.store.GetRun(ctx, runID); err != nil {
		return err
	}
	sl, err := p.store.GetShortlist(ctx, runID)
	if err != nil {
		return err
	}
	found := false
	for _, e := range sl.Entries {
		if e.CompanyID == req.CompanyID {
			found = true
			break
		}
	}
	if !found {
		return eris.Errorf("pipeline: company %s is not on the shortlist for run %s", req.CompanyID, runID)
	}

	existing, err := p.store.ListOverrides(ctx, runID)
	if err != nil {
		return err
	}
	prev := existing[req.CompanyID]

	pinned := prev.Pinned
	if req.Pin != nil {
		pinned = *req.Pin
	}

	now := time.Now().UTC()
	if err := p.store.SaveOverride(ctx, runID, store.OverrideRow{
		CompanyID: req.CompanyID,
		Delta:     req.Delta,
		Pinned:    pinned,
		UpdatedAt: now,
	}); err != nil {
		return err
	}

	action := model.DecisionActionOverride
	if req.Pin != nil && *req.Pin != prev.Pinned {
		action = model.DecisionActionPin
		if !*req.Pin {
			action = model.DecisionActionUnpin
		}
	}

	return p.store.AppendDecision(ctx, model.DecisionLogEntry{
		RunID:     runID,
		CompanyID: req.CompanyID,
		Author:    req.Author,
		Action:    action,
		Delta:     req.Delta,
		Note:      req.Note,
		Timestamp: now,
	})
}

// Decisions returns the run's append-only audit trail, oldest first.
func (p *Pipeline) Decisions(ctx context.Context, runID string) ([]model.DecisionLogEntry, error) {
	return p.store.ListDecisions(ctx, runID)
}

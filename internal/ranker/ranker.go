// Package ranker merges Stage-1 financial scores, enrichment-derived uplift,
// strategic fit, and manual overrides into the final composite ranking.
package ranker

import (
	"encoding/json"
	"math"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sourcing-cli/internal/model"
)

// neutralScore is used when a signal is absent: missing artifacts or an
// unset strategic fit never null-propagate into the composite.
const neutralScore = 50.0

// Override is an operator adjustment applied at rank time. The delta is
// additive and clamped to the documented bounds; the underlying computed
// scores are never mutated, which keeps re-ranking reproducible.
type Override struct {
	CompanyID string  `json:"company_id"`
	Delta     float64 `json:"delta"`
	Pinned    bool    `json:"pinned"`
}

// Input carries everything the ranker needs for one run.
type Input struct {
	Run          *model.Run
	Stage1       []model.ShortlistEntry                  // included shortlist entries
	Artifacts    map[string][]model.EnrichmentArtifact   // company_id → artifacts
	StrategicFit map[string]float64                      // company_id → 0-100, optional
	Overrides    map[string]Override                     // company_id → override
	Blend        model.BlendWeights
	AllowPartial bool // rank a cancelled/unfinished run anyway
}

// ErrRunCancelled is returned when ranking a cancelled run without
// AllowPartial.
var ErrRunCancelled = eris.New("ranker: run is cancelled; pass allow-partial to rank anyway")

// Rank produces one CompositeRanking per shortlisted company, ordered by
// composite score. Identical inputs produce identical output.
func Rank(in Input, now time.Time) ([]model.CompositeRanking, error) {
	if in.Run == nil {
		return nil, eris.New("ranker: nil run")
	}
	if in.Run.Status == model.RunStatusCancelled && !in.AllowPartial {
		return nil, ErrRunCancelled
	}
	if err := in.Blend.Validate(); err != nil {
		return nil, err
	}

	rankings := make([]model.CompositeRanking, 0, len(in.Stage1))
	for _, entry := range in.Stage1 {
		if !entry.Included {
			continue
		}

		uplift := upliftScore(in.Artifacts[entry.CompanyID])

		strategic := neutralScore
		if v, ok := in.StrategicFit[entry.CompanyID]; ok {
			strategic = clamp(v, 0, 100)
		}

		var delta float64
		var pinned bool
		if ov, ok := in.Overrides[entry.CompanyID]; ok {
			delta = clamp(ov.Delta, model.MinOverrideDelta, model.MaxOverrideDelta)
			pinned = ov.Pinned
		}

		composite := entry.FinancialScore*in.Blend.Financial +
			uplift*in.Blend.Uplift +
			strategic*in.Blend.StrategicFit +
			delta

		rankings = append(rankings, model.CompositeRanking{
			RunID:               in.Run.ID,
			CompanyID:           entry.CompanyID,
			FinancialScore:      entry.FinancialScore,
			UpliftScore:         round2(uplift),
			StrategicFitScore:   strategic,
			ManualOverrideDelta: delta,
			CompositeScore:      round2(composite),
			Pinned:              pinned,
			ComputedAt:          now.UTC(),
		})
	}

	sortRankings(rankings)

	zap.L().Info("composite ranking computed",
		zap.String("run_id", in.Run.ID),
		zap.Int("companies", len(rankings)),
		zap.Bool("partial", in.AllowPartial),
	)
	return rankings, nil
}

// TopK truncates to the k highest composite scores. Pinned companies are
// exempt from the truncation and always appear, in score order.
func TopK(rankings []model.CompositeRanking, k int) []model.CompositeRanking {
	if k <= 0 || len(rankings) <= k {
		out := make([]model.CompositeRanking, len(rankings))
		copy(out, rankings)
		sortRankings(out)
		return out
	}

	sorted := make([]model.CompositeRanking, len(rankings))
	copy(sorted, rankings)
	sortRankings(sorted)

	out := make([]model.CompositeRanking, 0, k)
	kept := 0
	for _, r := range sorted {
		if kept < k {
			out = append(out, r)
			kept++
			continue
		}
		if r.Pinned {
			out = append(out, r)
		}
	}
	return out
}

// upliftScore derives the 0-100 uplift signal from gathered artifacts. With
// no artifacts the score is the documented neutral midpoint. Otherwise the
// mean artifact confidence sets the base and any LLM impact_range scales it.
func upliftScore(artifacts []model.EnrichmentArtifact) float64 {
	if len(artifacts) == 0 {
		return neutralScore
	}

	sum := 0.0
	impactMul := 1.0
	for _, a := range artifacts {
		sum += a.Confidence
		if a.ArtifactType != model.ArtifactTypeUplift {
			continue
		}
		var analysis model.UpliftAnalysis
		if err := json.Unmarshal(a.Payload, &analysis); err != nil {
			continue // malformed payload degrades to confidence-only
		}
		switch analysis.ImpactRange {
		case "high":
			impactMul = 1.2
		case "medium":
			impactMul = 1.0
		case "low":
			impactMul = 0.8
		}
	}

	base := sum / float64(len(artifacts)) * 100
	return clamp(base*impactMul, 0, 100)
}

// fitTagAdjustments maps classification tags to strategic-fit deltas off the
// neutral midpoint. Recurring revenue and fragmented markets are what the
// sourcing book buys into; asset-heavy operations are what it avoids.
var fitTagAdjustments = map[string]float64{
	"recurring-revenue": 15,
	"fragmented-market": 10,
	"owner-operated":    5,
	"asset-heavy":       -10,
}

// FitFromClassification derives the 0-100 strategic-fit signal from the most
// recent classification artifact. Low-confidence classifications pull the
// signal back toward the neutral midpoint. Returns false when no usable
// classification exists.
func FitFromClassification(artifacts []model.EnrichmentArtifact) (float64, bool) {
	for i := len(artifacts) - 1; i >= 0; i-- {
		a := artifacts[i]
		if a.ArtifactType != model.ArtifactTypeClassified {
			continue
		}
		var c model.CompanyClassification
		if err := json.Unmarshal(a.Payload, &c); err != nil {
			continue // malformed payload, try the previous classification
		}

		fit := neutralScore
		for _, tag := range c.Tags {
			fit += fitTagAdjustments[tag]
		}
		fit = neutralScore + (fit-neutralScore)*clamp(c.Confidence, 0, 1)
		return clamp(fit, 0, 100), true
	}
	return 0, false
}

// sortRankings orders by composite DESC, then financial DESC, then company
// ID ASC so ties are always resolved deterministically.
func sortRankings(rankings []model.CompositeRanking) {
	sort.Slice(rankings, func(i, j int) bool {
		a, b := rankings[i], rankings[j]
		if a.CompositeScore != b.CompositeScore {
			return a.CompositeScore > b.CompositeScore
		}
		if a.FinancialScore != b.FinancialScore {
			return a.FinancialScore > b.FinancialScore
		}
		return a.CompanyID < b.CompanyID
	})
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

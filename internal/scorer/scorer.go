// Package scorer implements Stage-1 financial scoring for acquisition
// target sourcing: a weighted composite over bounded contribution curves,
// or over in-universe percentile ranks.
package scorer

import (
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/sells-group/sourcing-cli/internal/model"
)

// componentOrder fixes the summation order so repeated scoring of the same
// inputs is bit-identical.
var componentOrder = []string{"revenue", "margin", "growth", "leverage", "headcount"}

// neutralComponent is the contribution used when a single component value is
// missing but the vector still passes the minimum data gate.
const neutralComponent = 0.5

// Curves holds the absolute-mode contribution curve parameters. Each curve
// is a continuous function of the raw value so near-identical companies stay
// distinguishable for tie-breaking.
type Curves struct {
	// Revenue sweet spot band; values in the band score 1.0 and taper
	// linearly to Floor outside it.
	RevenueSweetLow  float64
	RevenueSweetHigh float64
	// RevenueTaperSpan is the distance above the band over which the score
	// decays from 1.0 back to Floor.
	RevenueTaperSpan float64

	// Margin ramp endpoints (EBITDA margin as a fraction).
	MarginLow  float64
	MarginHigh float64

	// Growth ramp endpoints (revenue CAGR, percent).
	GrowthLow  float64
	GrowthHigh float64

	// Leverage ramp endpoints (net debt / EBITDA); lower is better.
	LeverageLow  float64
	LeverageHigh float64

	// Headcount sweet spot band with taper span, like revenue.
	HeadcountSweetLow  float64
	HeadcountSweetHigh float64
	HeadcountTaperSpan float64

	// Floor is the minimum contribution for any present value. Never negative.
	Floor float64
}

// DefaultCurves returns curve parameters tuned for mid-market targets.
func DefaultCurves() Curves {
	return Curves{
		RevenueSweetLow:    10_000_000,
		RevenueSweetHigh:   100_000_000,
		RevenueTaperSpan:   150_000_000,
		MarginLow:          0,
		MarginHigh:         0.30,
		GrowthLow:          -10,
		GrowthHigh:         25,
		LeverageLow:        1.0,
		LeverageHigh:       6.0,
		HeadcountSweetLow:  50,
		HeadcountSweetHigh: 1000,
		HeadcountTaperSpan: 4000,
		Floor:              0.1,
	}
}

// Scorer computes Stage-1 financial scores.
type Scorer struct {
	curves Curves
}

// New creates a Scorer with the given curve parameters.
func New(curves Curves) *Scorer {
	return &Scorer{curves: curves}
}

// Score computes the weighted composite financial score for every company in
// the universe. Weights are re-normalized to sum to 1. The result is
// deterministic for identical inputs: no randomness, no time dependence.
//
// Percentile ranks are computed against the full universe, including
// companies a later exclusion pass will drop, so shortlist composition stays
// stable when exclusion rules change.
func (s *Scorer) Score(universe []model.CompanyFeatureVector, weights model.ScoreWeights, mode model.ScoreMode) []model.ScoredCompany {
	w := weights.Normalize()

	var ranks *percentileRanks
	if mode == model.ScoreModePercentile {
		ranks = computePercentiles(universe)
	}

	scored := make([]model.ScoredCompany, 0, len(universe))
	insufficient := 0
	for _, v := range universe {
		quality := v.Quality()
		if quality == model.DataQualityInsufficient {
			scored = append(scored, model.ScoredCompany{
				Vector:         v,
				FinancialScore: 0,
				DataQuality:    quality,
			})
			insufficient++
			continue
		}

		components := s.componentScores(v, mode, ranks)
		total := 0.0
		weightByName := map[string]float64{
			"revenue":   w.Revenue,
			"margin":    w.Margin,
			"growth":    w.Growth,
			"leverage":  w.Leverage,
			"headcount": w.Headcount,
		}
		for _, name := range componentOrder {
			total += weightByName[name] * components[name]
		}

		scored = append(scored, model.ScoredCompany{
			Vector:          v,
			FinancialScore:  round2(total * 100),
			ComponentScores: components,
			DataQuality:     quality,
		})
	}

	zap.L().Debug("stage-1 scoring complete",
		zap.Int("universe", len(universe)),
		zap.Int("insufficient", insufficient),
		zap.String("mode", string(mode)),
	)
	return scored
}

// componentScores maps each feature through its contribution curve or
// percentile rank. Missing individual components contribute the neutral
// value rather than zeroing the company out.
func (s *Scorer) componentScores(v model.CompanyFeatureVector, mode model.ScoreMode, ranks *percentileRanks) map[string]float64 {
	if mode == model.ScoreModePercentile {
		var hc *float64
		if v.Headcount != nil {
			f := float64(*v.Headcount)
			hc = &f
		}
		return map[string]float64{
			"revenue":   ranks.rank("revenue", v.Revenue),
			"margin":    ranks.rank("margin", v.EBITDAMargin),
			"growth":    ranks.rank("growth", v.RevenueCAGR),
			"leverage":  ranks.rankInverted("leverage", v.Leverage),
			"headcount": ranks.rank("headcount", hc),
		}
	}

	c := s.curves
	components := map[string]float64{
		"revenue":   neutralComponent,
		"margin":    neutralComponent,
		"growth":    neutralComponent,
		"leverage":  neutralComponent,
		"headcount": neutralComponent,
	}
	if v.Revenue != nil {
		components["revenue"] = sweetSpot(*v.Revenue, c.RevenueSweetLow, c.RevenueSweetHigh, c.RevenueTaperSpan, c.Floor)
	}
	if v.EBITDAMargin != nil {
		components["margin"] = ramp(*v.EBITDAMargin, c.MarginLow, c.MarginHigh, c.Floor)
	}
	if v.RevenueCAGR != nil {
		components["growth"] = ramp(*v.RevenueCAGR, c.GrowthLow, c.GrowthHigh, c.Floor)
	}
	if v.Leverage != nil {
		components["leverage"] = rampDown(*v.Leverage, c.LeverageLow, c.LeverageHigh, c.Floor)
	}
	if v.Headcount != nil {
		components["headcount"] = sweetSpot(float64(*v.Headcount), c.HeadcountSweetLow, c.HeadcountSweetHigh, c.HeadcountTaperSpan, c.Floor)
	}
	return components
}

// sweetSpot scores 1.0 inside [low, high], tapering linearly to floor at 0
// below the band and at high+span above it. Continuous everywhere.
func sweetSpot(v, low, high, span, floor float64) float64 {
	switch {
	case v <= 0:
		return floor
	case v < low:
		return floor + (1-floor)*(v/low)
	case v <= high:
		return 1.0
	case span <= 0:
		return floor
	case v < high+span:
		return 1.0 - (1-floor)*((v-high)/span)
	default:
		return floor
	}
}

// ramp scores floor at or below low, 1.0 at or above high, linear between.
func ramp(v, low, high, floor float64) float64 {
	if high <= low {
		return floor
	}
	switch {
	case v <= low:
		return floor
	case v >= high:
		return 1.0
	default:
		return floor + (1-floor)*((v-low)/(high-low))
	}
}

// rampDown is the mirror of ramp for metrics where lower is better.
func rampDown(v, low, high, floor float64) float64 {
	if high <= low {
		return floor
	}
	switch {
	case v <= low:
		return 1.0
	case v >= high:
		return floor
	default:
		return 1.0 - (1-floor)*((v-low)/(high-low))
	}
}

// percentileRanks holds sorted per-component value sets for the universe.
type percentileRanks struct {
	sorted map[string][]float64
}

// computePercentiles collects the present values for each component across
// the full universe and sorts them once.
func computePercentiles(universe []model.CompanyFeatureVector) *percentileRanks {
	collect := map[string][]float64{
		"revenue":   {},
		"margin":    {},
		"growth":    {},
		"leverage":  {},
		"headcount": {},
	}
	for _, v := range universe {
		if v.Revenue != nil {
			collect["revenue"] = append(collect["revenue"], *v.Revenue)
		}
		if v.EBITDAMargin != nil {
			collect["margin"] = append(collect["margin"], *v.EBITDAMargin)
		}
		if v.RevenueCAGR != nil {
			collect["growth"] = append(collect["growth"], *v.RevenueCAGR)
		}
		if v.Leverage != nil {
			collect["leverage"] = append(collect["leverage"], *v.Leverage)
		}
		if v.Headcount != nil {
			collect["headcount"] = append(collect["headcount"], float64(*v.Headcount))
		}
	}
	for _, vals := range collect {
		sort.Float64s(vals)
	}
	return &percentileRanks{sorted: collect}
}

// rank returns the mid-rank percentile of v within the component's universe
// values: (count below + half the ties) / n. Missing values rank neutral.
func (p *percentileRanks) rank(component string, v *float64) float64 {
	if v == nil {
		return neutralComponent
	}
	vals := p.sorted[component]
	n := len(vals)
	if n == 0 {
		return neutralComponent
	}
	lo := sort.SearchFloat64s(vals, *v)
	hi := sort.Search(n, func(i int) bool { return vals[i] > *v })
	return (float64(lo) + float64(hi-lo)/2) / float64(n)
}

// rankInverted ranks metrics where lower raw values are better.
func (p *percentileRanks) rankInverted(component string, v *float64) float64 {
	if v == nil {
		return neutralComponent
	}
	r := p.rank(component, v)
	return 1 - r
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

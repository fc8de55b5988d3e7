package model

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// ScoreMode selects how Stage-1 component scores are derived.
type ScoreMode string

const (
	// ScoreModeAbsolute maps each raw value through a bounded contribution curve.
	ScoreModeAbsolute ScoreMode = "absolute"
	// ScoreModePercentile replaces each component with its percentile rank
	// within the run's universe before weighting.
	ScoreModePercentile ScoreMode = "percentile"
)

// ScoreWeights is a named set of Stage-1 component weights. Weights must be
// non-negative and are normalized to sum to 1 before use. Weights are
// snapshotted per run so later edits never touch a prior run's scores.
type ScoreWeights struct {
	Name      string  `json:"name" yaml:"name"`
	Revenue   float64 `json:"revenue" yaml:"revenue"`
	Margin    float64 `json:"margin" yaml:"margin"`
	Growth    float64 `json:"growth" yaml:"growth"`
	Leverage  float64 `json:"leverage" yaml:"leverage"`
	Headcount float64 `json:"headcount" yaml:"headcount"`
}

// Sum returns the raw weight total.
func (w ScoreWeights) Sum() float64 {
	return w.Revenue + w.Margin + w.Growth + w.Leverage + w.Headcount
}

// Validate rejects negative weights and zero totals. Called synchronously at
// start_run so a bad profile never creates a run.
func (w ScoreWeights) Validate() error {
	var errs []string
	components := []struct {
		name  string
		value float64
	}{
		{"revenue", w.Revenue},
		{"margin", w.Margin},
		{"growth", w.Growth},
		{"leverage", w.Leverage},
		{"headcount", w.Headcount},
	}
	for _, c := range components {
		if c.value < 0 {
			errs = append(errs, fmt.Sprintf("%s must be >= 0", c.name))
		}
	}
	if w.Sum() <= 0 {
		errs = append(errs, "weight sum must be > 0")
	}
	if len(errs) > 0 {
		return eris.Errorf("weights: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Normalize scales the weights to sum to 1. Normalizing twice is idempotent.
// A zero-sum vector is returned unchanged; Validate catches it upstream.
func (w ScoreWeights) Normalize() ScoreWeights {
	sum := w.Sum()
	if sum <= 0 {
		return w
	}
	return ScoreWeights{
		Name:      w.Name,
		Revenue:   w.Revenue / sum,
		Margin:    w.Margin / sum,
		Growth:    w.Growth / sum,
		Leverage:  w.Leverage / sum,
		Headcount: w.Headcount / sum,
	}
}

// BlendWeights are the Stage-2 composite blend coefficients. They must sum
// to 1; the manual override delta is additive on top of the blend.
type BlendWeights struct {
	Financial    float64 `json:"financial" yaml:"financial"`
	Uplift       float64 `json:"uplift" yaml:"uplift"`
	StrategicFit float64 `json:"strategic_fit" yaml:"strategic_fit"`
}

// Validate checks blend coefficients are non-negative and sum to 1 within
// floating-point tolerance.
func (b BlendWeights) Validate() error {
	if b.Financial < 0 || b.Uplift < 0 || b.StrategicFit < 0 {
		return eris.New("blend: weights must be >= 0")
	}
	sum := b.Financial + b.Uplift + b.StrategicFit
	if sum < 0.999 || sum > 1.001 {
		return eris.Errorf("blend: weights must sum to 1, got %.4f", sum)
	}
	return nil
}

// DefaultBlendWeights returns the standard composite blend.
func DefaultBlendWeights() BlendWeights {
	return BlendWeights{Financial: 0.5, Uplift: 0.3, StrategicFit: 0.2}
}

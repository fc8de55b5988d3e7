// Package shortlist ranks Stage-1 scored companies and truncates them into
// a bounded shortlist that advances to enrichment.
package shortlist

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/sourcing-cli/internal/model"
)

// ExclusionRules are evaluated before ranking so excluded companies never
// occupy a shortlist slot, even when they would have scored well.
type ExclusionRules struct {
	// IndustryBlocklist excludes companies whose industry matches
	// (case-insensitive) any listed value.
	IndustryBlocklist []string

	// MinRevenue excludes companies with known revenue below the floor.
	// Zero disables the check. Companies with unknown revenue pass; the
	// data-quality gate handles truly empty vectors.
	MinRevenue float64
}

const (
	reasonInsufficientData = "insufficient_data"
	reasonIndustryBlocked  = "industry_blocklist"
	reasonBelowMinRevenue  = "below_min_revenue"
)

// Build ranks the scored universe and truncates it to targetSize. The target
// is soft: if fewer companies pass the data-quality gate and exclusion rules,
// the shortlist returns all that pass with UnderTarget set rather than
// padding with low-quality rows.
//
// Sort order is fully deterministic: financial score DESC, revenue DESC,
// company ID ASC. Ties are never left unresolved.
func Build(runID string, scored []model.ScoredCompany, targetSize int, rules ExclusionRules) *model.Shortlist {
	blocked := make(map[string]bool, len(rules.IndustryBlocklist))
	for _, ind := range rules.IndustryBlocklist {
		blocked[strings.ToLower(ind)] = true
	}

	var eligible []model.ScoredCompany
	var excluded []model.ShortlistEntry
	for _, sc := range scored {
		if reason := exclude(sc, rules, blocked); reason != "" {
			excluded = append(excluded, model.ShortlistEntry{
				RunID:           runID,
				CompanyID:       sc.Vector.CompanyID,
				FinancialScore:  sc.FinancialScore,
				Included:        false,
				ExclusionReason: reason,
			})
			continue
		}
		eligible = append(eligible, sc)
	}

	sort.Slice(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.FinancialScore != b.FinancialScore {
			return a.FinancialScore > b.FinancialScore
		}
		ar, br := revenueOf(a), revenueOf(b)
		if ar != br {
			return ar > br
		}
		return a.Vector.CompanyID < b.Vector.CompanyID
	})

	underTarget := len(eligible) < targetSize
	if !underTarget {
		eligible = eligible[:targetSize]
	}

	entries := make([]model.ShortlistEntry, len(eligible))
	for i, sc := range eligible {
		entries[i] = model.ShortlistEntry{
			RunID:          runID,
			CompanyID:      sc.Vector.CompanyID,
			FinancialScore: sc.FinancialScore,
			Rank:           i + 1,
			Included:       true,
		}
	}

	zap.L().Info("shortlist built",
		zap.String("run_id", runID),
		zap.Int("included", len(entries)),
		zap.Int("excluded", len(excluded)),
		zap.Bool("under_target", underTarget),
	)

	return &model.Shortlist{
		RunID:       runID,
		Entries:     entries,
		Excluded:    excluded,
		TargetSize:  targetSize,
		UnderTarget: underTarget,
	}
}

// exclude returns the exclusion reason for a scored company, or "" if it is
// eligible. The minimum data-quality gate runs first.
func exclude(sc model.ScoredCompany, rules ExclusionRules, blocked map[string]bool) string {
	if sc.DataQuality == model.DataQualityInsufficient {
		return reasonInsufficientData
	}
	if len(blocked) > 0 && blocked[strings.ToLower(sc.Vector.Industry)] {
		return reasonIndustryBlocked
	}
	if rules.MinRevenue > 0 && sc.Vector.Revenue != nil && *sc.Vector.Revenue < rules.MinRevenue {
		return reasonBelowMinRevenue
	}
	return ""
}

func revenueOf(sc model.ScoredCompany) float64 {
	if sc.Vector.Revenue == nil {
		return 0
	}
	return *sc.Vector.Revenue
}

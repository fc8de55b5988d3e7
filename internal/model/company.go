package model

// DataQuality flags how complete a company's feature vector is.
type DataQuality string

const (
	DataQualityComplete     DataQuality = "complete"
	DataQualityPartial      DataQuality = "partial"
	DataQualityInsufficient DataQuality = "insufficient"
)

// CompanyFeatureVector is an immutable snapshot of a company's normalized
// financial facts for one run. New runs produce new vectors; a vector is
// never mutated after Stage-1 scoring.
type CompanyFeatureVector struct {
	CompanyID    string   `json:"company_id"`
	Name         string   `json:"name"`
	Industry     string   `json:"industry,omitempty"`
	Website      string   `json:"website,omitempty"`
	Universe     string   `json:"universe,omitempty"` // label of the snapshot the vector came from
	Revenue      *float64 `json:"revenue,omitempty"`       // annual revenue, USD
	EBITDAMargin *float64 `json:"ebitda_margin,omitempty"` // fraction, e.g. 0.18
	RevenueCAGR  *float64 `json:"revenue_cagr,omitempty"`  // N-year CAGR, percent
	Leverage     *float64 `json:"leverage,omitempty"`      // net debt / EBITDA
	Headcount    *int     `json:"headcount,omitempty"`
}

// Quality classifies the vector's completeness. A vector missing both
// revenue and EBITDA margin is insufficient and scores zero.
func (v CompanyFeatureVector) Quality() DataQuality {
	if v.Revenue == nil && v.EBITDAMargin == nil {
		return DataQualityInsufficient
	}
	if v.Revenue != nil && v.EBITDAMargin != nil && v.RevenueCAGR != nil && v.Leverage != nil && v.Headcount != nil {
		return DataQualityComplete
	}
	return DataQualityPartial
}

// ScoredCompany pairs a feature vector with its Stage-1 financial score.
type ScoredCompany struct {
	Vector          CompanyFeatureVector `json:"vector"`
	FinancialScore  float64              `json:"financial_score"` // 0-100
	ComponentScores map[string]float64   `json:"component_scores,omitempty"`
	DataQuality     DataQuality          `json:"data_quality"`
}

// CompanyContext is the slice of company data handed to enrichment adapters.
type CompanyContext struct {
	CompanyID string   `json:"company_id"`
	Name      string   `json:"name"`
	Industry  string   `json:"industry,omitempty"`
	Website   string   `json:"website,omitempty"`
	Revenue   *float64 `json:"revenue,omitempty"`
	Headcount *int     `json:"headcount,omitempty"`
}

// Context derives the adapter-facing context from a feature vector.
func (v CompanyFeatureVector) Context() CompanyContext {
	return CompanyContext{
		CompanyID: v.CompanyID,
		Name:      v.Name,
		Industry:  v.Industry,
		Website:   v.Website,
		Revenue:   v.Revenue,
		Headcount: v.Headcount,
	}
}

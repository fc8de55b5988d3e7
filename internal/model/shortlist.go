package model

// ShortlistEntry is one ranked row of a run's shortlist. Entries are
// immutable once the run completes; later runs supersede, never edit.
type ShortlistEntry struct {
	RunID           string  `json:"run_id"`
	CompanyID       string  `json:"company_id"`
	FinancialScore  float64 `json:"financial_score"`
	Rank            int     `json:"rank"` // 1-based; 0 for excluded entries
	Included        bool    `json:"included"`
	ExclusionReason string  `json:"exclusion_reason,omitempty"`
}

// Shortlist is the bounded ranked subset of the universe advancing to
// enrichment, plus the excluded remainder for auditability.
type Shortlist struct {
	RunID       string           `json:"run_id"`
	Entries     []ShortlistEntry `json:"entries"`  // included, rank order
	Excluded    []ShortlistEntry `json:"excluded"` // Included=false with reason
	TargetSize  int              `json:"target_size"`
	UnderTarget bool             `json:"under_target"` // fewer passed the gate than requested
}

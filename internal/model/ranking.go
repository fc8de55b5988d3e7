package model

import "time"

// OverrideDelta bounds for manual adjustments. The delta is additive, never
// multiplicative, and every change is logged.
const (
	MinOverrideDelta = -50.0
	MaxOverrideDelta = 50.0
)

// CompositeRanking is one company's final blended score for a run. Only the
// manual override delta and the pinned flag mutate after creation, and each
// such mutation appends a DecisionLogEntry.
type CompositeRanking struct {
	RunID               string    `json:"run_id"`
	CompanyID           string    `json:"company_id"`
	FinancialScore      float64   `json:"financial_score"`
	UpliftScore         float64   `json:"uplift_score"`
	StrategicFitScore   float64   `json:"strategic_fit_score"`
	ManualOverrideDelta float64   `json:"manual_override_delta"`
	CompositeScore      float64   `json:"composite_score"`
	Pinned              bool      `json:"pinned"`
	ComputedAt          time.Time `json:"computed_at"`
}

// DecisionAction is the kind of operator decision being audited.
type DecisionAction string

const (
	DecisionActionSelect   DecisionAction = "select"
	DecisionActionReject   DecisionAction = "reject"
	DecisionActionOverride DecisionAction = "override"
	DecisionActionPin      DecisionAction = "pin"
	DecisionActionUnpin    DecisionAction = "unpin"
)

// DecisionLogEntry is one append-only audit record tied to a ranking run.
// Entries are never deleted or edited.
type DecisionLogEntry struct {
	RunID     string         `json:"run_id"`
	CompanyID string         `json:"company_id"`
	Author    string         `json:"author"`
	Action    DecisionAction `json:"action"`
	Delta     float64        `json:"delta"`
	Note      string         `json:"note,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

package model

import (
	"encoding/json"
	"time"
)

// ArtifactType classifies what an enrichment source returned.
type ArtifactType string

const (
	ArtifactTypeSearch     ArtifactType = "search_results"
	ArtifactTypeTechStack  ArtifactType = "tech_stack"
	ArtifactTypeClassified ArtifactType = "classification"
	ArtifactTypeUplift     ArtifactType = "uplift_analysis"
)

// EnrichmentArtifact is one unit of external data gathered about a company
// from one source. Artifacts are append-only: history is preserved across
// attempts and runs, never overwritten.
type EnrichmentArtifact struct {
	CompanyID    string          `json:"company_id"`
	RunID        string          `json:"run_id"`
	SourceName   string          `json:"source_name"`
	ArtifactType ArtifactType    `json:"artifact_type"`
	Payload      json.RawMessage `json:"payload"`
	Confidence   float64         `json:"confidence"` // 0-1
	FetchedAt    time.Time       `json:"fetched_at"`
}

// EnrichmentResult is the gathered artifact set for one company with an
// overall confidence reduced proportionally to missing sources. Zero
// successful adapters is a valid terminal state: empty set, confidence 0.
type EnrichmentResult struct {
	CompanyID  string               `json:"company_id"`
	RunID      string               `json:"run_id"`
	Artifacts  []EnrichmentArtifact `json:"artifacts"`
	Confidence float64              `json:"confidence"` // 0-1
	Sources    int                  `json:"sources"`    // adapters attempted
	Succeeded  int                  `json:"succeeded"`  // adapters that produced an artifact
}

// CompanyClassification is the fixed schema expected from the LLM
// classification call: the vertical and business model the ranker's
// strategic-fit heuristics key off.
type CompanyClassification struct {
	Vertical      string   `json:"vertical"`
	BusinessModel string   `json:"business_model"` // e.g. "recurring services", "project-based"
	Tags          []string `json:"tags,omitempty"`
	Confidence    float64  `json:"confidence"`
}

// UpliftAnalysis is the fixed schema expected from the LLM collaborator.
// Non-conforming responses are treated as adapter failures upstream.
type UpliftAnalysis struct {
	UpliftLevers []string `json:"uplift_levers"`
	ImpactRange  string   `json:"impact_range"` // "low" | "medium" | "high"
	Confidence   float64  `json:"confidence"`
}

// Package enrich fans out shortlisted companies to external data adapters
// and gathers the resulting artifacts with partial-failure tolerance.
package enrich

import (
	"context"
	"time"

	"github.com/sells-group/sourcing-cli/internal/model"
)

// Adapter is the capability interface every enrichment source implements.
// New sources are added by registering an implementation; the orchestrator
// never branches on source names.
type Adapter interface {
	// Name identifies the source in artifacts, rate limits, and logs.
	Name() string

	// Fetch gathers one artifact for the company. Implementations must
	// honor ctx cancellation; the orchestrator applies Timeout() on top.
	Fetch(ctx context.Context, company model.CompanyContext) (*model.EnrichmentArtifact, error)

	// Timeout is the per-call deadline for this source.
	Timeout() time.Duration
}

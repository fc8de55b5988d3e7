package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sells-group/sourcing-cli/internal/model"
	"github.com/sells-group/sourcing-cli/internal/resilience"
)

// IsNotFound reports whether err means the queried row does not exist,
// regardless of which backend produced it.
func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows)
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status   model.RunStatus `json:"status,omitempty"`
	Universe string          `json:"universe,omitempty"`
	Limit    int             `json:"limit,omitempty"`
	Offset   int             `json:"offset,omitempty"`
}

// OverrideRow is the persisted manual adjustment for one company in one run.
// Setting it is an upsert; the audit trail lives in the decision log, not here.
type OverrideRow struct {
	CompanyID string    `json:"company_id"`
	Delta     float64   `json:"delta"`
	Pinned    bool      `json:"pinned"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store defines the persistence interface for the sourcing pipeline.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run *model.Run) error
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus, errMsg string) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Shortlist
	SaveShortlist(ctx context.Context, sl *model.Shortlist) error
	GetShortlist(ctx context.Context, runID string) (*model.Shortlist, error)

	// Enrichment artifacts (append-only)
	AppendArtifacts(ctx context.Context, artifacts []model.EnrichmentArtifact) error
	ListArtifacts(ctx context.Context, runID string) (map[string][]model.EnrichmentArtifact, error)

	// Composite rankings (replaced wholesale on each rank)
	SaveRankings(ctx context.Context, runID string, rankings []model.CompositeRanking) error
	GetRankings(ctx context.Context, runID string) ([]model.CompositeRanking, error)

	// Manual overrides
	SaveOverride(ctx context.Context, runID string, ov OverrideRow) error
	ListOverrides(ctx context.Context, runID string) (map[string]OverrideRow, error)

	// Decision log (append-only)
	AppendDecision(ctx context.Context, entry model.DecisionLogEntry) error
	ListDecisions(ctx context.Context, runID string) ([]model.DecisionLogEntry, error)

	// Dead letter queue
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
	DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	RemoveDLQ(ctx context.Context, id string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

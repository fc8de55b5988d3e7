package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sourcing-cli/internal/model"
	"github.com/sells-group/sourcing-cli/internal/resilience"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "sourcing.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func testWeights() model.ScoreWeights {
	return model.ScoreWeights{Name: "balanced", Revenue: 2, Margin: 1, Growth: 1, Leverage: 1, Headcount: 1}
}

func newRun(id string, createdAt time.Time) *model.Run {
	return &model.Run{
		ID:         id,
		Universe:   "us-industrial",
		Weights:    testWeights(),
		Mode:       model.ScoreModePercentile,
		TargetSize: 100,
		Status:     model.RunStatusScoring,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
}

func TestSQLite_RunLifecycle(t *testing.T) {
	t.Parallel()

	s := newTestSQLite(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.CreateRun(ctx, newRun("run-1", created)))

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.ID)
	assert.Equal(t, "us-industrial", got.Universe)
	assert.Equal(t, model.ScoreModePercentile, got.Mode)
	assert.Equal(t, 100, got.TargetSize)
	assert.Equal(t, model.RunStatusScoring, got.Status)
	assert.Equal(t, testWeights(), got.Weights)
	assert.WithinDuration(t, created, got.CreatedAt, time.Second)

	require.NoError(t, s.UpdateRunStatus(ctx, "run-1", model.RunStatusFailed, "enrichment exhausted retries"))
	got, err = s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, got.Status)
	assert.Equal(t, "enrichment exhausted retries", got.Error)

	err = s.UpdateRunStatus(ctx, "absent", model.RunStatusComplete, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")

	_, err = s.GetRun(ctx, "absent")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestSQLite_ListRuns(t *testing.T) {
	t.Parallel()

	s := newTestSQLite(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	older := newRun("run-old", base)
	newer := newRun("run-new", base.Add(time.Hour))
	other := newRun("run-eu", base.Add(2*time.Hour))
	other.Universe = "eu-services"
	other.Status = model.RunStatusComplete
	require.NoError(t, s.CreateRun(ctx, older))
	require.NoError(t, s.CreateRun(ctx, newer))
	require.NoError(t, s.CreateRun(ctx, other))

	all, err := s.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	// Newest first.
	assert.Equal(t, "run-eu", all[0].ID)
	assert.Equal(t, "run-new", all[1].ID)
	assert.Equal(t, "run-old", all[2].ID)

	byStatus, err := s.ListRuns(ctx, RunFilter{Status: model.RunStatusComplete})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, "run-eu", byStatus[0].ID)

	byUniverse, err := s.ListRuns(ctx, RunFilter{Universe: "us-industrial"})
	require.NoError(t, err)
	assert.Len(t, byUniverse, 2)

	paged, err := s.ListRuns(ctx, RunFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, "run-new", paged[0].ID)
}

func TestSQLite_ShortlistRoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.CreateRun(ctx, newRun("run-1", time.Now().UTC())))

	sl := &model.Shortlist{
		RunID: "run-1",
		Entries: []model.ShortlistEntry{
			{RunID: "run-1", CompanyID: "c-1", FinancialScore: 91.5, Rank: 1, Included: true},
			{RunID: "run-1", CompanyID: "c-2", FinancialScore: 84.0, Rank: 2, Included: true},
		},
		Excluded: []model.ShortlistEntry{
			{RunID: "run-1", CompanyID: "c-9", FinancialScore: 0, Included: false, ExclusionReason: "insufficient_data"},
		},
	}
	require.NoError(t, s.SaveShortlist(ctx, sl))

	got, err := s.GetShortlist(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got.Entries, 2)
	require.Len(t, got.Excluded, 1)
	assert.Equal(t, "c-1", got.Entries[0].CompanyID)
	assert.Equal(t, 91.5, got.Entries[0].FinancialScore)
	assert.Equal(t, "insufficient_data", got.Excluded[0].ExclusionReason)

	// Saving again replaces the shortlist wholesale.
	sl.Entries = sl.Entries[:1]
	sl.Excluded = nil
	require.NoError(t, s.SaveShortlist(ctx, sl))

	got, err = s.GetShortlist(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, got.Entries, 1)
	assert.Empty(t, got.Excluded)
}

func TestSQLite_Artifacts(t *testing.T) {
	t.Parallel()

	s := newTestSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.CreateRun(ctx, newRun("run-1", time.Now().UTC())))

	fetched := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	first := []model.EnrichmentArtifact{
		{RunID: "run-1", CompanyID: "c-1", SourceName: "websearch", ArtifactType: model.ArtifactTypeSearch, Payload: json.RawMessage(`[{"title":"x"}]`), Confidence: 0.5, FetchedAt: fetched},
		{RunID: "run-1", CompanyID: "c-2", SourceName: "techstack", ArtifactType: model.ArtifactTypeTechStack, Payload: json.RawMessage(`{"domain":"b.example.com"}`), Confidence: 0.8, FetchedAt: fetched},
	}
	require.NoError(t, s.AppendArtifacts(ctx, first))

	// Append-only: a second batch for the same company accumulates.
	second := []model.EnrichmentArtifact{
		{RunID: "run-1", CompanyID: "c-1", SourceName: "uplift", ArtifactType: model.ArtifactTypeUplift, Payload: json.RawMessage(`{"impact_range":"high"}`), Confidence: 0.7, FetchedAt: fetched.Add(time.Minute)},
	}
	require.NoError(t, s.AppendArtifacts(ctx, second))

	got, err := s.ListArtifacts(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Len(t, got["c-1"], 2)
	require.Len(t, got["c-2"], 1)

	// Oldest first within a company.
	assert.Equal(t, "websearch", got["c-1"][0].SourceName)
	assert.Equal(t, "uplift", got["c-1"][1].SourceName)
	assert.JSONEq(t, `[{"title":"x"}]`, string(got["c-1"][0].Payload))
	assert.InDelta(t, 0.8, got["c-2"][0].Confidence, 0.0001)
}

func TestSQLite_Rankings(t *testing.T) {
	t.Parallel()

	s := newTestSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.CreateRun(ctx, newRun("run-1", time.Now().UTC())))

	computed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rankings := []model.CompositeRanking{
		{RunID: "run-1", CompanyID: "c-2", FinancialScore: 70, UpliftScore: 60, StrategicFitScore: 50, CompositeScore: 64, ComputedAt: computed},
		{RunID: "run-1", CompanyID: "c-1", FinancialScore: 80, UpliftScore: 60, StrategicFitScore: 50, CompositeScore: 64, ComputedAt: computed},
		{RunID: "run-1", CompanyID: "c-3", FinancialScore: 90, UpliftScore: 90, StrategicFitScore: 90, CompositeScore: 90, Pinned: true, ComputedAt: computed},
	}
	require.NoError(t, s.SaveRankings(ctx, "run-1", rankings))

	got, err := s.GetRankings(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 3)

	// Composite desc, then financial desc.
	assert.Equal(t, "c-3", got[0].CompanyID)
	assert.True(t, got[0].Pinned)
	assert.Equal(t, "c-1", got[1].CompanyID)
	assert.Equal(t, "c-2", got[2].CompanyID)

	// Re-ranking replaces the previous set.
	require.NoError(t, s.SaveRankings(ctx, "run-1", rankings[:1]))
	got, err = s.GetRankings(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSQLite_Overrides(t *testing.T) {
	t.Parallel()

	s := newTestSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.CreateRun(ctx, newRun("run-1", time.Now().UTC())))

	updated := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveOverride(ctx, "run-1", OverrideRow{CompanyID: "c-1", Delta: 10, UpdatedAt: updated}))
	require.NoError(t, s.SaveOverride(ctx, "run-1", OverrideRow{CompanyID: "c-2", Pinned: true, UpdatedAt: updated}))

	// Upsert: a second save for the same company replaces the row.
	require.NoError(t, s.SaveOverride(ctx, "run-1", OverrideRow{CompanyID: "c-1", Delta: -5, UpdatedAt: updated.Add(time.Minute)}))

	got, err := s.ListOverrides(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, -5.0, got["c-1"].Delta)
	assert.False(t, got["c-1"].Pinned)
	assert.True(t, got["c-2"].Pinned)
}

func TestSQLite_DecisionLogIsAppendOnly(t *testing.T) {
	t.Parallel()

	s := newTestSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.CreateRun(ctx, newRun("run-1", time.Now().UTC())))

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.AppendDecision(ctx, model.DecisionLogEntry{
		RunID: "run-1", CompanyID: "c-1", Author: "analyst-a",
		Action: model.DecisionActionOverride, Delta: 10, Note: "strong pipeline", Timestamp: base,
	}))
	// Later reversal of the same company is a new entry, not an update.
	require.NoError(t, s.AppendDecision(ctx, model.DecisionLogEntry{
		RunID: "run-1", CompanyID: "c-1", Author: "analyst-b",
		Action: model.DecisionActionOverride, Delta: 0, Note: "reverted", Timestamp: base.Add(time.Hour),
	}))

	got, err := s.ListDecisions(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Chronological order.
	assert.Equal(t, "analyst-a", got[0].Author)
	assert.Equal(t, 10.0, got[0].Delta)
	assert.Equal(t, "analyst-b", got[1].Author)
	assert.Equal(t, model.DecisionActionOverride, got[1].Action)
}

func TestSQLite_DLQ(t *testing.T) {
	t.Parallel()

	s := newTestSQLite(t)
	ctx := context.Background()
	now := time.Now().UTC()

	due := resilience.DLQEntry{
		ID: "dlq-1", RunID: "run-1", CompanyID: "c-1",
		Error: "websearch: status 503", ErrorType: "transient", FailedSource: "websearch",
		RetryCount: 1, MaxRetries: 3,
		NextRetryAt: now.Add(-time.Minute), CreatedAt: now.Add(-time.Hour), LastFailedAt: now.Add(-time.Minute),
	}
	notYet := due
	notYet.ID = "dlq-2"
	notYet.CompanyID = "c-2"
	notYet.NextRetryAt = now.Add(time.Hour)
	exhausted := due
	exhausted.ID = "dlq-3"
	exhausted.CompanyID = "c-3"
	exhausted.RetryCount = 3

	require.NoError(t, s.EnqueueDLQ(ctx, due))
	require.NoError(t, s.EnqueueDLQ(ctx, notYet))
	require.NoError(t, s.EnqueueDLQ(ctx, exhausted))

	// Only entries past their gate with retry budget left come back.
	got, err := s.DequeueDLQ(ctx, resilience.DLQFilter{RunID: "run-1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "dlq-1", got[0].ID)
	assert.Equal(t, "websearch", got[0].FailedSource)

	// Re-enqueueing the same ID updates in place.
	due.RetryCount = 2
	require.NoError(t, s.EnqueueDLQ(ctx, due))
	got, err = s.DequeueDLQ(ctx, resilience.DLQFilter{RunID: "run-1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].RetryCount)

	require.NoError(t, s.RemoveDLQ(ctx, "dlq-1"))
	got, err = s.DequeueDLQ(ctx, resilience.DLQFilter{RunID: "run-1"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

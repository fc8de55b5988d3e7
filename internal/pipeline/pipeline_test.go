package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sourcing-cli/internal/config"
	"github.com/sells-group/sourcing-cli/internal/features"
	"github.com/sells-group/sourcing-cli/internal/jobqueue"
	"github.com/sells-group/sourcing-cli/internal/model"
	"github.com/sells-group/sourcing-cli/internal/ranker"
	"github.com/sells-group/sourcing-cli/internal/resilience"
	"github.com/sells-group/sourcing-cli/internal/scorer"
	"github.com/sells-group/sourcing-cli/internal/store"
)

// fakeStore is an in-memory store.Store for exercising pipeline control flow.
type fakeStore struct {
	mu         sync.Mutex
	runs       map[string]*model.Run
	shortlists map[string]*model.Shortlist
	artifacts  map[string][]model.EnrichmentArtifact
	rankings   map[string][]model.CompositeRanking
	overrides  map[string]map[string]store.OverrideRow
	decisions  map[string][]model.DecisionLogEntry
	dlq        map[string]resilience.DLQEntry

	saveShortlistErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		runs:       make(map[string]*model.Run),
		shortlists: make(map[string]*model.Shortlist),
		artifacts:  make(map[string][]model.EnrichmentArtifact),
		rankings:   make(map[string][]model.CompositeRanking),
		overrides:  make(map[string]map[string]store.OverrideRow),
		decisions:  make(map[string][]model.DecisionLogEntry),
		dlq:        make(map[string]resilience.DLQEntry),
	}
}

func (f *fakeStore) CreateRun(_ context.Context, run *model.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *run
	f.runs[run.ID] = &cp
	return nil
}

func (f *fakeStore) UpdateRunStatus(_ context.Context, runID string, status model.RunStatus, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[runID]
	if !ok {
		return sql.ErrNoRows
	}
	r.Status = status
	r.Error = errMsg
	return nil
}

func (f *fakeStore) GetRun(_ context.Context, runID string) (*model.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[runID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *r
	return &cp, nil
}

func (f *fakeStore) ListRuns(_ context.Context, _ store.RunFilter) ([]model.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Run
	for _, r := range f.runs {
		out = append(out, *r)
	}
	return out, nil
}

func (f *fakeStore) SaveShortlist(_ context.Context, sl *model.Shortlist) error {
	if f.saveShortlistErr != nil {
		return f.saveShortlistErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shortlists[sl.RunID] = sl
	return nil
}

func (f *fakeStore) GetShortlist(_ context.Context, runID string) (*model.Shortlist, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sl, ok := f.shortlists[runID]; ok {
		return sl, nil
	}
	return &model.Shortlist{RunID: runID}, nil
}

func (f *fakeStore) AppendArtifacts(_ context.Context, artifacts []model.EnrichmentArtifact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range artifacts {
		f.artifacts[a.RunID] = append(f.artifacts[a.RunID], a)
	}
	return nil
}

func (f *fakeStore) ListArtifacts(_ context.Context, runID string) (map[string][]model.EnrichmentArtifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string][]model.EnrichmentArtifact)
	for _, a := range f.artifacts[runID] {
		out[a.CompanyID] = append(out[a.CompanyID], a)
	}
	return out, nil
}

func (f *fakeStore) SaveRankings(_ context.Context, runID string, rankings []model.CompositeRanking) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rankings[runID] = rankings
	return nil
}

func (f *fakeStore) GetRankings(_ context.Context, runID string) ([]model.CompositeRanking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rankings[runID], nil
}

func (f *fakeStore) SaveOverride(_ context.Context, runID string, ov store.OverrideRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.overrides[runID] == nil {
		f.overrides[runID] = make(map[string]store.OverrideRow)
	}
	f.overrides[runID][ov.CompanyID] = ov
	return nil
}

func (f *fakeStore) ListOverrides(_ context.Context, runID string) (map[string]store.OverrideRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]store.OverrideRow, len(f.overrides[runID]))
	for k, v := range f.overrides[runID] {
		out[k] = v
	}
	return out, nil
}

func (f *fakeStore) AppendDecision(_ context.Context, entry model.DecisionLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decisions[entry.RunID] = append(f.decisions[entry.RunID], entry)
	return nil
}

func (f *fakeStore) ListDecisions(_ context.Context, runID string) ([]model.DecisionLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.decisions[runID], nil
}

func (f *fakeStore) EnqueueDLQ(_ context.Context, entry resilience.DLQEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if entry.ID == "" {
		entry.ID = entry.RunID + "/" + entry.CompanyID
	}
	f.dlq[entry.ID] = entry
	return nil
}

func (f *fakeStore) DequeueDLQ(_ context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []resilience.DLQEntry
	for _, e := range f.dlq {
		if filter.RunID != "" && e.RunID != filter.RunID {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeStore) RemoveDLQ(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.dlq, id)
	return nil
}

func (f *fakeStore) Migrate(context.Context) error { return nil }
func (f *fakeStore) Close() error                  { return nil }

// fakeReader serves a fixed universe.
type fakeReader struct {
	vectors []model.CompanyFeatureVector
	err     error
}

func (f *fakeReader) Universe(_ context.Context, filter features.Filter) ([]model.CompanyFeatureVector, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vectors, nil
}

func testVectors() []model.CompanyFeatureVector {
	mk := func(id, name string, revenue, margin, growth, leverage float64, headcount int) model.CompanyFeatureVector {
		return model.CompanyFeatureVector{
			CompanyID: id, Name: name, Industry: "manufacturing", Universe: "us-industrial",
			Revenue: &revenue, EBITDAMargin: &margin, RevenueCAGR: &growth,
			Leverage: &leverage, Headcount: &headcount,
		}
	}
	return []model.CompanyFeatureVector{
		mk("c-1", "Acme Inc", 50_000_000, 0.25, 15, 1.5, 300),
		mk("c-2", "Beta Corp", 30_000_000, 0.18, 10, 2.5, 200),
		mk("c-3", "Gamma LLC", 12_000_000, 0.10, 5, 4.0, 90),
	}
}

func testPipeline(t *testing.T, reader features.Reader) (*Pipeline, *fakeStore, *jobqueue.Queue) {
	t.Helper()
	cfg := &config.Config{
		Queue: config.QueueConfig{MaxRetries: 3},
		Ranker: config.RankerConfig{
			FinancialWeight:    0.5,
			UpliftWeight:       0.3,
			StrategicFitWeight: 0.2,
		},
	}
	fs := newFakeStore()
	queue := jobqueue.New(jobqueue.Config{MaxRetries: 0, BackoffBase: time.Millisecond, BackoffMax: time.Millisecond})
	p := New(cfg, fs, reader, scorer.New(scorer.DefaultCurves()), queue, nil)
	return p, fs, queue
}

func validRequest() StartRunRequest {
	return StartRunRequest{
		Universe:   "us-industrial",
		Weights:    model.ScoreWeights{Revenue: 2, Margin: 1, Growth: 1, Leverage: 1, Headcount: 1},
		Mode:       model.ScoreModePercentile,
		TargetSize: 2,
	}
}

func TestStartRun_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*StartRunRequest)
		wantErr string
	}{
		{
			name:    "negative weight",
			mutate:  func(r *StartRunRequest) { r.Weights.Margin = -1 },
			wantErr: "must be >= 0",
		},
		{
			name:    "unknown mode",
			mutate:  func(r *StartRunRequest) { r.Mode = "median" },
			wantErr: "unknown score mode",
		},
		{
			name:    "zero target size",
			mutate:  func(r *StartRunRequest) { r.TargetSize = 0 },
			wantErr: "target size must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, fs, _ := testPipeline(t, &fakeReader{vectors: testVectors()})

			req := validRequest()
			tt.mutate(&req)
			_, err := p.StartRun(context.Background(), req)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)

			// Nothing rejectable leaves a run record behind.
			assert.Empty(t, fs.runs)
		})
	}
}

func TestStartRun_DispatchesEnrichment(t *testing.T) {
	t.Parallel()

	p, fs, queue := testPipeline(t, &fakeReader{vectors: testVectors()})

	run, err := p.StartRun(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusEnriching, run.Status)

	// The snapshotted weights are normalized.
	assert.InDelta(t, 1.0, run.Weights.Sum(), 0.0001)

	sl := fs.shortlists[run.ID]
	require.NotNil(t, sl)
	require.Len(t, sl.Entries, 2)

	report := queue.Status(run.ID)
	assert.Equal(t, 2, report.Queued)

	stored := fs.runs[run.ID]
	require.NotNil(t, stored)
	assert.Equal(t, model.RunStatusEnriching, stored.Status)
}

func TestStartRun_EmptyUniverseCompletesImmediately(t *testing.T) {
	t.Parallel()

	p, fs, queue := testPipeline(t, &fakeReader{})

	run, err := p.StartRun(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	assert.Equal(t, model.RunStatusComplete, fs.runs[run.ID].Status)
	assert.True(t, queue.Drained(run.ID))
}

func TestStartRun_ReaderFailureMarksRunFailed(t *testing.T) {
	t.Parallel()

	p, fs, _ := testPipeline(t, &fakeReader{err: sql.ErrConnDone})

	_, err := p.StartRun(context.Background(), validRequest())
	require.Error(t, err)

	require.Len(t, fs.runs, 1)
	for _, r := range fs.runs {
		assert.Equal(t, model.RunStatusFailed, r.Status)
		assert.NotEmpty(t, r.Error)
	}
}

func seedRankableRun(t *testing.T, fs *fakeStore, status model.RunStatus) string {
	t.Helper()
	const runID = "run-1"
	require.NoError(t, fs.CreateRun(context.Background(), &model.Run{
		ID: runID, Universe: "us-industrial", Status: status,
		Weights: model.ScoreWeights{Revenue: 1}, Mode: model.ScoreModePercentile, TargetSize: 10,
	}))
	require.NoError(t, fs.SaveShortlist(context.Background(), &model.Shortlist{
		RunID: runID,
		Entries: []model.ShortlistEntry{
			{RunID: runID, CompanyID: "c-1", FinancialScore: 80, Rank: 1, Included: true},
			{RunID: runID, CompanyID: "c-2", FinancialScore: 70, Rank: 2, Included: true},
		},
	}))
	return runID
}

func TestRank_PersistsComposite(t *testing.T) {
	t.Parallel()

	p, fs, _ := testPipeline(t, &fakeReader{vectors: testVectors()})
	runID := seedRankableRun(t, fs, model.RunStatusComplete)

	payload, err := json.Marshal(model.UpliftAnalysis{ImpactRange: "medium", Confidence: 0.6})
	require.NoError(t, err)
	require.NoError(t, fs.AppendArtifacts(context.Background(), []model.EnrichmentArtifact{
		{RunID: runID, CompanyID: "c-1", ArtifactType: model.ArtifactTypeUplift, Payload: payload, Confidence: 0.6},
	}))
	require.NoError(t, fs.SaveOverride(context.Background(), runID, store.OverrideRow{
		CompanyID: "c-2", Delta: 20, Pinned: true,
	}))

	rankings, err := p.Rank(context.Background(), runID, false)
	require.NoError(t, err)
	require.Len(t, rankings, 2)
	assert.Equal(t, rankings, fs.rankings[runID])

	byID := make(map[string]model.CompositeRanking, 2)
	for _, r := range rankings {
		byID[r.CompanyID] = r
	}
	// c-1: 80*0.5 + 60*0.3 + 50*0.2 = 68
	assert.InDelta(t, 68.0, byID["c-1"].CompositeScore, 0.01)
	// c-2: 70*0.5 + 50*0.3 + 50*0.2 + 20 = 80
	assert.InDelta(t, 80.0, byID["c-2"].CompositeScore, 0.01)
	assert.True(t, byID["c-2"].Pinned)
	assert.Equal(t, 20.0, byID["c-2"].ManualOverrideDelta)
}

func TestRank_CancelledRunNeedsAllowPartial(t *testing.T) {
	t.Parallel()

	p, fs, _ := testPipeline(t, &fakeReader{vectors: testVectors()})
	runID := seedRankableRun(t, fs, model.RunStatusCancelled)

	_, err := p.Rank(context.Background(), runID, false)
	require.ErrorIs(t, err, ranker.ErrRunCancelled)

	rankings, err := p.Rank(context.Background(), runID, true)
	require.NoError(t, err)
	assert.Len(t, rankings, 2)
}

func TestSetOverride_Validation(t *testing.T) {
	t.Parallel()

	p, fs, _ := testPipeline(t, &fakeReader{vectors: testVectors()})
	runID := seedRankableRun(t, fs, model.RunStatusComplete)

	err := p.SetOverride(context.Background(), runID, OverrideRequest{CompanyID: "c-1", Delta: 200, Author: "analyst-a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside")

	err = p.SetOverride(context.Background(), runID, OverrideRequest{CompanyID: "c-1", Delta: 10})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "author is required")

	err = p.SetOverride(context.Background(), runID, OverrideRequest{CompanyID: "c-99", Delta: 10, Author: "analyst-a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not on the shortlist")

	assert.Empty(t, fs.decisions[runID])
}

func TestSetOverride_AppendsOneDecisionPerChange(t *testing.T) {
	t.Parallel()

	p, fs, _ := testPipeline(t, &fakeReader{vectors: testVectors()})
	runID := seedRankableRun(t, fs, model.RunStatusComplete)
	ctx := context.Background()

	require.NoError(t, p.SetOverride(ctx, runID, OverrideRequest{
		CompanyID: "c-1", Delta: 10, Author: "analyst-a", Note: "strong pipeline",
	}))

	pin := true
	require.NoError(t, p.SetOverride(ctx, runID, OverrideRequest{
		CompanyID: "c-1", Delta: 10, Pin: &pin, Author: "analyst-b",
	}))

	unpin := false
	require.NoError(t, p.SetOverride(ctx, runID, OverrideRequest{
		CompanyID: "c-1", Delta: 10, Pin: &unpin, Author: "analyst-b",
	}))

	decisions, err := p.Decisions(ctx, runID)
	require.NoError(t, err)
	require.Len(t, decisions, 3)
	assert.Equal(t, model.DecisionActionOverride, decisions[0].Action)
	assert.Equal(t, "strong pipeline", decisions[0].Note)
	assert.Equal(t, model.DecisionActionPin, decisions[1].Action)
	assert.Equal(t, model.DecisionActionUnpin, decisions[2].Action)

	ov := fs.overrides[runID]["c-1"]
	assert.Equal(t, 10.0, ov.Delta)
	assert.False(t, ov.Pinned)
}

func TestStatus(t *testing.T) {
	t.Parallel()

	p, _, _ := testPipeline(t, &fakeReader{vectors: testVectors()})

	run, err := p.StartRun(context.Background(), validRequest())
	require.NoError(t, err)

	report, err := p.Status(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusEnriching, report.Status)
	assert.Equal(t, 2, report.Queued)

	_, err = p.Status(context.Background(), "absent")
	assert.Error(t, err)
}

func TestCancelRun(t *testing.T) {
	t.Parallel()

	p, fs, queue := testPipeline(t, &fakeReader{vectors: testVectors()})

	run, err := p.StartRun(context.Background(), validRequest())
	require.NoError(t, err)

	require.NoError(t, p.CancelRun(context.Background(), run.ID))
	assert.Equal(t, model.RunStatusCancelled, fs.runs[run.ID].Status)
	assert.True(t, queue.Cancelled(run.ID))

	// Terminal runs cannot be cancelled again.
	err = p.CancelRun(context.Background(), run.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already")
}

func TestWatch_ReturnsAfterCancel(t *testing.T) {
	t.Parallel()

	p, fs, queue := testPipeline(t, &fakeReader{vectors: testVectors()})

	// No workers ever claim the queued jobs.
	run, err := p.StartRun(context.Background(), validRequest())
	require.NoError(t, err)
	require.NoError(t, p.CancelRun(context.Background(), run.ID))

	// Cancelling retires the queued jobs, so Watch drains without a worker
	// pool instead of polling until its context expires.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Watch(ctx, run.ID))
	require.NoError(t, ctx.Err())

	assert.True(t, queue.Drained(run.ID))
	assert.Equal(t, model.RunStatusCancelled, fs.runs[run.ID].Status)
	report := queue.Status(run.ID)
	assert.Equal(t, 0, report.Queued)
	assert.Equal(t, 2, report.Cancelled)
}

func TestRetryCompany_FallsBackToDLQ(t *testing.T) {
	t.Parallel()

	p, fs, queue := testPipeline(t, &fakeReader{vectors: testVectors()})
	runID := seedRankableRun(t, fs, model.RunStatusComplete)
	ctx := context.Background()

	// The in-memory queue has no record of the failure: it predates a restart.
	require.NoError(t, fs.EnqueueDLQ(ctx, resilience.DLQEntry{
		ID: "dlq-1", RunID: runID, CompanyID: "c-1",
		Error: "websearch: status 503", ErrorType: "transient",
		NextRetryAt: time.Now().UTC(),
	}))

	require.NoError(t, p.RetryCompany(ctx, runID, "c-1"))

	_, ok := queue.Job(runID, "c-1")
	assert.True(t, ok)
	assert.Empty(t, fs.dlq)
	assert.Equal(t, model.RunStatusEnriching, fs.runs[runID].Status)

	err := p.RetryCompany(ctx, runID, "c-99")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no failed job")
}

func TestWatch_PersistsTerminalFailures(t *testing.T) {
	t.Parallel()

	p, fs, queue := testPipeline(t, &fakeReader{vectors: testVectors()})
	runID := seedRankableRun(t, fs, model.RunStatusEnriching)

	// Drive one job to terminal failure by hand; MaxRetries is 0 in tests.
	queue.Enqueue(runID, "c-1")
	job, ok := queue.Next()
	require.True(t, ok)
	queue.Fail(job.RunID, job.CompanyID, model.JobStatusFailed, "techstack: status 500")

	require.NoError(t, p.Watch(context.Background(), runID))

	assert.Equal(t, model.RunStatusComplete, fs.runs[runID].Status)
	require.Len(t, fs.dlq, 1)
	for _, e := range fs.dlq {
		assert.Equal(t, "c-1", e.CompanyID)
		assert.Equal(t, "techstack: status 500", e.Error)
		assert.Equal(t, 3, e.MaxRetries)
	}
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/sourcing-cli/internal/model"
	"github.com/sells-group/sourcing-cli/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite. It serves local
// single-operator workflows where running Postgres is overkill.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	universe    TEXT NOT NULL DEFAULT '',
	weights     TEXT NOT NULL,
	mode        TEXT NOT NULL,
	target_size INTEGER NOT NULL,
	status      TEXT NOT NULL DEFAULT 'scoring',
	error       TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS shortlist_entries (
	run_id           TEXT NOT NULL REFERENCES runs(id),
	company_id       TEXT NOT NULL,
	financial_score  REAL NOT NULL,
	rank             INTEGER NOT NULL,
	included         INTEGER NOT NULL,
	exclusion_reason TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, company_id)
);

CREATE TABLE IF NOT EXISTS enrichment_artifacts (
	id            TEXT PRIMARY KEY,
	run_id        TEXT NOT NULL REFERENCES runs(id),
	company_id    TEXT NOT NULL,
	source_name   TEXT NOT NULL,
	artifact_type TEXT NOT NULL,
	payload       TEXT NOT NULL,
	confidence    REAL NOT NULL,
	fetched_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS composite_rankings (
	run_id                TEXT NOT NULL REFERENCES runs(id),
	company_id            TEXT NOT NULL,
	financial_score       REAL NOT NULL,
	uplift_score          REAL NOT NULL,
	strategic_fit_score   REAL NOT NULL,
	manual_override_delta REAL NOT NULL,
	composite_score       REAL NOT NULL,
	pinned                INTEGER NOT NULL DEFAULT 0,
	computed_at           DATETIME NOT NULL,
	PRIMARY KEY (run_id, company_id)
);

CREATE TABLE IF NOT EXISTS overrides (
	run_id     TEXT NOT NULL REFERENCES runs(id),
	company_id TEXT NOT NULL,
	delta      REAL NOT NULL,
	pinned     INTEGER NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (run_id, company_id)
);

CREATE TABLE IF NOT EXISTS decision_log (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	company_id TEXT NOT NULL,
	author     TEXT NOT NULL,
	action     TEXT NOT NULL,
	delta      REAL NOT NULL DEFAULT 0,
	note       TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY,
	run_id         TEXT NOT NULL,
	company_id     TEXT NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'transient',
	failed_source  TEXT,
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	next_retry_at  DATETIME NOT NULL,
	created_at     DATETIME NOT NULL,
	last_failed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_shortlist_run_id ON shortlist_entries(run_id);
CREATE INDEX IF NOT EXISTS idx_artifacts_run_company ON enrichment_artifacts(run_id, company_id);
CREATE INDEX IF NOT EXISTS idx_rankings_run_score ON composite_rankings(run_id, composite_score DESC);
CREATE INDEX IF NOT EXISTS idx_decision_log_run_id ON decision_log(run_id);
CREATE INDEX IF NOT EXISTS idx_dlq_run_id ON dead_letter_queue(run_id);
CREATE INDEX IF NOT EXISTS idx_dlq_next_retry ON dead_letter_queue(next_retry_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func checkRowsAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "sqlite: rows affected for %s %s", kind, id)
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", kind, id)
	}
	return nil
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.Run) error {
	weightsJSON, err := json.Marshal(run.Weights)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal weights")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, universe, weights, mode, target_size, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Universe, string(weightsJSON), string(run.Mode), run.TargetSize, string(run.Status), run.CreatedAt, run.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: insert run")
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), errMsg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var r model.Run
	var weightsJSON string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, universe, weights, mode, target_size, status, error, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	).Scan(&r.ID, &r.Universe, &weightsJSON, &r.Mode, &r.TargetSize, &r.Status, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}

	if err := json.Unmarshal([]byte(weightsJSON), &r.Weights); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal weights")
	}
	return &r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, universe, weights, mode, target_size, status, error, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Universe != "" {
		query += ` AND universe = ?`
		args = append(args, filter.Universe)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var weightsJSON string
		if err := rows.Scan(&r.ID, &r.Universe, &weightsJSON, &r.Mode, &r.TargetSize, &r.Status, &r.Error, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		if err := json.Unmarshal([]byte(weightsJSON), &r.Weights); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal weights")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// SaveShortlist replaces the run's shortlist wholesale inside one transaction.
func (s *SQLiteStore) SaveShortlist(ctx context.Context, sl *model.Shortlist) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin shortlist tx")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM shortlist_entries WHERE run_id = ?`, sl.RunID,
	); err != nil {
		return eris.Wrapf(err, "sqlite: clear shortlist %s", sl.RunID)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO shortlist_entries (run_id, company_id, financial_score, rank, included, exclusion_reason) VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare shortlist insert")
	}
	defer stmt.Close()

	insert := func(e model.ShortlistEntry) error {
		_, err := stmt.ExecContext(ctx, e.RunID, e.CompanyID, e.FinancialScore, e.Rank, e.Included, e.ExclusionReason)
		return err
	}
	for _, e := range sl.Entries {
		if err := insert(e); err != nil {
			return eris.Wrapf(err, "sqlite: insert shortlist entry %s", e.CompanyID)
		}
	}
	for _, e := range sl.Excluded {
		if err := insert(e); err != nil {
			return eris.Wrapf(err, "sqlite: insert shortlist entry %s", e.CompanyID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit shortlist")
}

func (s *SQLiteStore) GetShortlist(ctx context.Context, runID string) (*model.Shortlist, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, company_id, financial_score, rank, included, exclusion_reason
		 FROM shortlist_entries WHERE run_id = ?
		 ORDER BY included DESC, rank ASC, company_id ASC`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get shortlist %s", runID)
	}
	defer rows.Close()

	sl := &model.Shortlist{RunID: runID}
	for rows.Next() {
		var e model.ShortlistEntry
		if err := rows.Scan(&e.RunID, &e.CompanyID, &e.FinancialScore, &e.Rank, &e.Included, &e.ExclusionReason); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan shortlist entry")
		}
		if e.Included {
			sl.Entries = append(sl.Entries, e)
		} else {
			sl.Excluded = append(sl.Excluded, e)
		}
	}
	return sl, eris.Wrap(rows.Err(), "sqlite: get shortlist iterate")
}

func (s *SQLiteStore) AppendArtifacts(ctx context.Context, artifacts []model.EnrichmentArtifact) error {
	for _, a := range artifacts {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO enrichment_artifacts (id, run_id, company_id, source_name, artifact_type, payload, confidence, fetched_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), a.RunID, a.CompanyID, a.SourceName, string(a.ArtifactType), string(a.Payload), a.Confidence, a.FetchedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: append artifact %s/%s", a.RunID, a.CompanyID)
		}
	}
	return nil
}

func (s *SQLiteStore) ListArtifacts(ctx context.Context, runID string) (map[string][]model.EnrichmentArtifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, company_id, source_name, artifact_type, payload, confidence, fetched_at
		 FROM enrichment_artifacts WHERE run_id = ?
		 ORDER BY fetched_at ASC`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list artifacts %s", runID)
	}
	defer rows.Close()

	out := make(map[string][]model.EnrichmentArtifact)
	for rows.Next() {
		var a model.EnrichmentArtifact
		var payload string
		if err := rows.Scan(&a.RunID, &a.CompanyID, &a.SourceName, &a.ArtifactType, &payload, &a.Confidence, &a.FetchedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan artifact")
		}
		a.Payload = []byte(payload)
		out[a.CompanyID] = append(out[a.CompanyID], a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list artifacts iterate")
}

func (s *SQLiteStore) SaveRankings(ctx context.Context, runID string, rankings []model.CompositeRanking) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin rankings tx")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM composite_rankings WHERE run_id = ?`, runID,
	); err != nil {
		return eris.Wrapf(err, "sqlite: clear rankings %s", runID)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO composite_rankings (run_id, company_id, financial_score, uplift_score, strategic_fit_score, manual_override_delta, composite_score, pinned, computed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare ranking insert")
	}
	defer stmt.Close()

	for _, r := range rankings {
		if _, err := stmt.ExecContext(ctx, r.RunID, r.CompanyID, r.FinancialScore, r.UpliftScore, r.StrategicFitScore, r.ManualOverrideDelta, r.CompositeScore, r.Pinned, r.ComputedAt); err != nil {
			return eris.Wrapf(err, "sqlite: insert ranking %s", r.CompanyID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit rankings")
}

func (s *SQLiteStore) GetRankings(ctx context.Context, runID string) ([]model.CompositeRanking, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, company_id, financial_score, uplift_score, strategic_fit_score, manual_override_delta, composite_score, pinned, computed_at
		 FROM composite_rankings WHERE run_id = ?
		 ORDER BY composite_score DESC, financial_score DESC, company_id ASC`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get rankings %s", runID)
	}
	defer rows.Close()

	var out []model.CompositeRanking
	for rows.Next() {
		var r model.CompositeRanking
		if err := rows.Scan(&r.RunID, &r.CompanyID, &r.FinancialScore, &r.UpliftScore, &r.StrategicFitScore, &r.ManualOverrideDelta, &r.CompositeScore, &r.Pinned, &r.ComputedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan ranking")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: get rankings iterate")
}

func (s *SQLiteStore) SaveOverride(ctx context.Context, runID string, ov OverrideRow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO overrides (run_id, company_id, delta, pinned, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (run_id, company_id) DO UPDATE SET delta = excluded.delta, pinned = excluded.pinned, updated_at = excluded.updated_at`,
		runID, ov.CompanyID, ov.Delta, ov.Pinned, ov.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: save override %s/%s", runID, ov.CompanyID)
}

func (s *SQLiteStore) ListOverrides(ctx context.Context, runID string) (map[string]OverrideRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT company_id, delta, pinned, updated_at FROM overrides WHERE run_id = ?`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list overrides %s", runID)
	}
	defer rows.Close()

	out := make(map[string]OverrideRow)
	for rows.Next() {
		var ov OverrideRow
		if err := rows.Scan(&ov.CompanyID, &ov.Delta, &ov.Pinned, &ov.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan override")
		}
		out[ov.CompanyID] = ov
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list overrides iterate")
}

func (s *SQLiteStore) AppendDecision(ctx context.Context, entry model.DecisionLogEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO decision_log (id, run_id, company_id, author, action, delta, note, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), entry.RunID, entry.CompanyID, entry.Author, string(entry.Action), entry.Delta, entry.Note, entry.Timestamp,
	)
	return eris.Wrapf(err, "sqlite: append decision %s/%s", entry.RunID, entry.CompanyID)
}

func (s *SQLiteStore) ListDecisions(ctx context.Context, runID string) ([]model.DecisionLogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, company_id, author, action, delta, note, created_at
		 FROM decision_log WHERE run_id = ?
		 ORDER BY created_at ASC`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list decisions %s", runID)
	}
	defer rows.Close()

	var out []model.DecisionLogEntry
	for rows.Next() {
		var e model.DecisionLogEntry
		if err := rows.Scan(&e.RunID, &e.CompanyID, &e.Author, &e.Action, &e.Delta, &e.Note, &e.Timestamp); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan decision")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list decisions iterate")
}

// Dead letter queue methods

func (s *SQLiteStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dead_letter_queue
		 (id, run_id, company_id, error, error_type, failed_source, retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   error = excluded.error, error_type = excluded.error_type, failed_source = excluded.failed_source,
		   retry_count = excluded.retry_count, next_retry_at = excluded.next_retry_at, last_failed_at = excluded.last_failed_at`,
		entry.ID, entry.RunID, entry.CompanyID, entry.Error, entry.ErrorType,
		entry.FailedSource, entry.RetryCount, entry.MaxRetries,
		entry.NextRetryAt, entry.CreatedAt, entry.LastFailedAt,
	)
	return eris.Wrap(err, "sqlite: enqueue dlq")
}

func (s *SQLiteStore) DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, run_id, company_id, error, error_type, failed_source, retry_count, max_retries, next_retry_at, created_at, last_failed_at
	          FROM dead_letter_queue
	          WHERE next_retry_at <= ? AND retry_count < max_retries`
	args := []any{time.Now().UTC()}

	if filter.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, filter.RunID)
	}
	if filter.ErrorType != "" {
		query += ` AND error_type = ?`
		args = append(args, filter.ErrorType)
	}

	query += ` ORDER BY next_retry_at ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT %d`, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: dequeue dlq")
	}
	defer rows.Close()

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		var failedSource sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &e.CompanyID, &e.Error, &e.ErrorType,
			&failedSource, &e.RetryCount, &e.MaxRetries,
			&e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dlq entry")
		}
		e.FailedSource = failedSource.String
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: dequeue dlq iterate")
}

func (s *SQLiteStore) RemoveDLQ(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dead_letter_queue WHERE id = ?`, id)
	return eris.Wrap(err, "sqlite: remove dlq")
}

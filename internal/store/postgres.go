package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/sourcing-cli/internal/db"
	"github.com/sells-group/sourcing-cli/internal/model"
	"github.com/sells-group/sourcing-cli/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_run":        `INSERT INTO runs (id, universe, weights, mode, target_size, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
	"update_run_status": `UPDATE runs SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
	"get_run":           `SELECT id, universe, weights, mode, target_size, status, error, created_at, updated_at FROM runs WHERE id = $1`,
	"insert_artifact":   `INSERT INTO enrichment_artifacts (id, run_id, company_id, source_name, artifact_type, payload, confidence, fetched_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
	"insert_decision":   `INSERT INTO decision_log (id, run_id, company_id, author, action, delta, note, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
	"upsert_override":   `INSERT INTO overrides (run_id, company_id, delta, pinned, updated_at) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (run_id, company_id) DO UPDATE SET delta = $3, pinned = $4, updated_at = $5`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for use by subsystems that need
// direct query access (e.g., the feature reader).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	universe    TEXT NOT NULL DEFAULT '',
	weights     JSONB NOT NULL,
	mode        TEXT NOT NULL,
	target_size INTEGER NOT NULL,
	status      TEXT NOT NULL DEFAULT 'scoring',
	error       TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS shortlist_entries (
	run_id           TEXT NOT NULL REFERENCES runs(id),
	company_id       TEXT NOT NULL,
	financial_score  DOUBLE PRECISION NOT NULL,
	rank             INTEGER NOT NULL,
	included         BOOLEAN NOT NULL,
	exclusion_reason TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, company_id)
);

CREATE TABLE IF NOT EXISTS enrichment_artifacts (
	id            TEXT PRIMARY KEY,
	run_id        TEXT NOT NULL REFERENCES runs(id),
	company_id    TEXT NOT NULL,
	source_name   TEXT NOT NULL,
	artifact_type TEXT NOT NULL,
	payload       JSONB NOT NULL,
	confidence    DOUBLE PRECISION NOT NULL,
	fetched_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS composite_rankings (
	run_id                TEXT NOT NULL REFERENCES runs(id),
	company_id            TEXT NOT NULL,
	financial_score       DOUBLE PRECISION NOT NULL,
	uplift_score          DOUBLE PRECISION NOT NULL,
	strategic_fit_score   DOUBLE PRECISION NOT NULL,
	manual_override_delta DOUBLE PRECISION NOT NULL,
	composite_score       DOUBLE PRECISION NOT NULL,
	pinned                BOOLEAN NOT NULL DEFAULT false,
	computed_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, company_id)
);

CREATE TABLE IF NOT EXISTS overrides (
	run_id     TEXT NOT NULL REFERENCES runs(id),
	company_id TEXT NOT NULL,
	delta      DOUBLE PRECISION NOT NULL,
	pinned     BOOLEAN NOT NULL DEFAULT false,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, company_id)
);

CREATE TABLE IF NOT EXISTS decision_log (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	company_id TEXT NOT NULL,
	author     TEXT NOT NULL,
	action     TEXT NOT NULL,
	delta      DOUBLE PRECISION NOT NULL DEFAULT 0,
	note       TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
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
	next_retry_at  TIMESTAMPTZ NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_failed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_shortlist_run_id ON shortlist_entries(run_id);
CREATE INDEX IF NOT EXISTS idx_artifacts_run_company ON enrichment_artifacts(run_id, company_id);
CREATE INDEX IF NOT EXISTS idx_rankings_run_score ON composite_rankings(run_id, composite_score DESC);
CREATE INDEX IF NOT EXISTS idx_decision_log_run_id ON decision_log(run_id);
CREATE INDEX IF NOT EXISTS idx_dlq_run_id ON dead_letter_queue(run_id);
CREATE INDEX IF NOT EXISTS idx_dlq_next_retry ON dead_letter_queue(next_retry_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, run *model.Run) error {
	weightsJSON, err := json.Marshal(run.Weights)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal weights")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, universe, weights, mode, target_size, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		run.ID, run.Universe, weightsJSON, string(run.Mode), run.TargetSize, string(run.Status), run.CreatedAt, run.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: insert run")
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
		string(status), errMsg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var r model.Run
	var weightsJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, universe, weights, mode, target_size, status, error, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &r.Universe, &weightsJSON, &r.Mode, &r.TargetSize, &r.Status, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}

	if err := json.Unmarshal(weightsJSON, &r.Weights); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal weights")
	}
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, universe, weights, mode, target_size, status, error, created_at, updated_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Universe != "" {
		query += fmt.Sprintf(` AND universe = $%d`, argIdx)
		args = append(args, filter.Universe)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var weightsJSON []byte
		if err := rows.Scan(&r.ID, &r.Universe, &weightsJSON, &r.Mode, &r.TargetSize, &r.Status, &r.Error, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if err := json.Unmarshal(weightsJSON, &r.Weights); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal weights")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// SaveShortlist replaces the run's shortlist wholesale. The delete and the
// COPY reload run in one transaction so a failed reload never leaves the run
// without a shortlist.
func (s *PostgresStore) SaveShortlist(ctx context.Context, sl *model.Shortlist) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrapf(err, "postgres: begin shortlist save %s", sl.RunID)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM shortlist_entries WHERE run_id = $1`, sl.RunID,
	); err != nil {
		return eris.Wrapf(err, "postgres: clear shortlist %s", sl.RunID)
	}

	columns := []string{"run_id", "company_id", "financial_score", "rank", "included", "exclusion_reason"}
	rows := make([][]any, 0, len(sl.Entries)+len(sl.Excluded))
	for _, e := range sl.Entries {
		rows = append(rows, []any{e.RunID, e.CompanyID, e.FinancialScore, e.Rank, e.Included, e.ExclusionReason})
	}
	for _, e := range sl.Excluded {
		rows = append(rows, []any{e.RunID, e.CompanyID, e.FinancialScore, e.Rank, e.Included, e.ExclusionReason})
	}

	if _, err := db.CopyFrom(ctx, tx, "shortlist_entries", columns, rows); err != nil {
		return eris.Wrapf(err, "postgres: save shortlist %s", sl.RunID)
	}
	return eris.Wrapf(tx.Commit(ctx), "postgres: commit shortlist %s", sl.RunID)
}

func (s *PostgresStore) GetShortlist(ctx context.Context, runID string) (*model.Shortlist, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT run_id, company_id, financial_score, rank, included, exclusion_reason
		 FROM shortlist_entries WHERE run_id = $1
		 ORDER BY included DESC, rank ASC, company_id ASC`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get shortlist %s", runID)
	}
	defer rows.Close()

	sl := &model.Shortlist{RunID: runID}
	for rows.Next() {
		var e model.ShortlistEntry
		if err := rows.Scan(&e.RunID, &e.CompanyID, &e.FinancialScore, &e.Rank, &e.Included, &e.ExclusionReason); err != nil {
			return nil, eris.Wrap(err, "postgres: scan shortlist entry")
		}
		if e.Included {
			sl.Entries = append(sl.Entries, e)
		} else {
			sl.Excluded = append(sl.Excluded, e)
		}
	}
	return sl, eris.Wrap(rows.Err(), "postgres: get shortlist iterate")
}

func (s *PostgresStore) AppendArtifacts(ctx context.Context, artifacts []model.EnrichmentArtifact) error {
	for _, a := range artifacts {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO enrichment_artifacts (id, run_id, company_id, source_name, artifact_type, payload, confidence, fetched_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			uuid.New().String(), a.RunID, a.CompanyID, a.SourceName, string(a.ArtifactType), []byte(a.Payload), a.Confidence, a.FetchedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: append artifact %s/%s", a.RunID, a.CompanyID)
		}
	}
	return nil
}

func (s *PostgresStore) ListArtifacts(ctx context.Context, runID string) (map[string][]model.EnrichmentArtifact, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT run_id, company_id, source_name, artifact_type, payload, confidence, fetched_at
		 FROM enrichment_artifacts WHERE run_id = $1
		 ORDER BY fetched_at ASC`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list artifacts %s", runID)
	}
	defer rows.Close()

	out := make(map[string][]model.EnrichmentArtifact)
	for rows.Next() {
		var a model.EnrichmentArtifact
		var payload []byte
		if err := rows.Scan(&a.RunID, &a.CompanyID, &a.SourceName, &a.ArtifactType, &payload, &a.Confidence, &a.FetchedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan artifact")
		}
		a.Payload = payload
		out[a.CompanyID] = append(out[a.CompanyID], a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list artifacts iterate")
}

// SaveRankings replaces the run's composite ranking atomically, so readers
// never observe a half-written ranking between the delete and the reload.
func (s *PostgresStore) SaveRankings(ctx context.Context, runID string, rankings []model.CompositeRanking) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrapf(err, "postgres: begin rankings save %s", runID)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM composite_rankings WHERE run_id = $1`, runID,
	); err != nil {
		return eris.Wrapf(err, "postgres: clear rankings %s", runID)
	}

	columns := []string{"run_id", "company_id", "financial_score", "uplift_score", "strategic_fit_score", "manual_override_delta", "composite_score", "pinned", "computed_at"}
	rows := make([][]any, 0, len(rankings))
	for _, r := range rankings {
		rows = append(rows, []any{r.RunID, r.CompanyID, r.FinancialScore, r.UpliftScore, r.StrategicFitScore, r.ManualOverrideDelta, r.CompositeScore, r.Pinned, r.ComputedAt})
	}

	if _, err := db.CopyFrom(ctx, tx, "composite_rankings", columns, rows); err != nil {
		return eris.Wrapf(err, "postgres: save rankings %s", runID)
	}
	return eris.Wrapf(tx.Commit(ctx), "postgres: commit rankings %s", runID)
}

func (s *PostgresStore) GetRankings(ctx context.Context, runID string) ([]model.CompositeRanking, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT run_id, company_id, financial_score, uplift_score, strategic_fit_score, manual_override_delta, composite_score, pinned, computed_at
		 FROM composite_rankings WHERE run_id = $1
		 ORDER BY composite_score DESC, financial_score DESC, company_id ASC`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get rankings %s", runID)
	}
	defer rows.Close()

	var out []model.CompositeRanking
	for rows.Next() {
		var r model.CompositeRanking
		if err := rows.Scan(&r.RunID, &r.CompanyID, &r.FinancialScore, &r.UpliftScore, &r.StrategicFitScore, &r.ManualOverrideDelta, &r.CompositeScore, &r.Pinned, &r.ComputedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan ranking")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: get rankings iterate")
}

func (s *PostgresStore) SaveOverride(ctx context.Context, runID string, ov OverrideRow) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO overrides (run_id, company_id, delta, pinned, updated_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (run_id, company_id) DO UPDATE SET delta = $3, pinned = $4, updated_at = $5`,
		runID, ov.CompanyID, ov.Delta, ov.Pinned, ov.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: save override %s/%s", runID, ov.CompanyID)
}

func (s *PostgresStore) ListOverrides(ctx context.Context, runID string) (map[string]OverrideRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT company_id, delta, pinned, updated_at FROM overrides WHERE run_id = $1`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list overrides %s", runID)
	}
	defer rows.Close()

	out := make(map[string]OverrideRow)
	for rows.Next() {
		var ov OverrideRow
		if err := rows.Scan(&ov.CompanyID, &ov.Delta, &ov.Pinned, &ov.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan override")
		}
		out[ov.CompanyID] = ov
	}
	return out, eris.Wrap(rows.Err(), "postgres: list overrides iterate")
}

func (s *PostgresStore) AppendDecision(ctx context.Context, entry model.DecisionLogEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO decision_log (id, run_id, company_id, author, action, delta, note, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuid.New().String(), entry.RunID, entry.CompanyID, entry.Author, string(entry.Action), entry.Delta, entry.Note, entry.Timestamp,
	)
	return eris.Wrapf(err, "postgres: append decision %s/%s", entry.RunID, entry.CompanyID)
}

func (s *PostgresStore) ListDecisions(ctx context.Context, runID string) ([]model.DecisionLogEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT run_id, company_id, author, action, delta, note, created_at
		 FROM decision_log WHERE run_id = $1
		 ORDER BY created_at ASC`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list decisions %s", runID)
	}
	defer rows.Close()

	var out []model.DecisionLogEntry
	for rows.Next() {
		var e model.DecisionLogEntry
		if err := rows.Scan(&e.RunID, &e.CompanyID, &e.Author, &e.Action, &e.Delta, &e.Note, &e.Timestamp); err != nil {
			return nil, eris.Wrap(err, "postgres: scan decision")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list decisions iterate")
}

// Dead letter queue methods

func (s *PostgresStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO dead_letter_queue
		 (id, run_id, company_id, error, error_type, failed_source, retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO UPDATE SET
		   error = $4, error_type = $5, failed_source = $6, retry_count = $7,
		   next_retry_at = $9, last_failed_at = $11`,
		entry.ID, entry.RunID, entry.CompanyID, entry.Error, entry.ErrorType,
		entry.FailedSource, entry.RetryCount, entry.MaxRetries,
		entry.NextRetryAt, entry.CreatedAt, entry.LastFailedAt,
	)
	return eris.Wrap(err, "postgres: enqueue dlq")
}

func (s *PostgresStore) DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, run_id, company_id, error, error_type, failed_source, retry_count, max_retries, next_retry_at, created_at, last_failed_at
	          FROM dead_letter_queue
	          WHERE next_retry_at <= now() AND retry_count < max_retries`
	args := []any{}
	argIdx := 1

	if filter.RunID != "" {
		query += fmt.Sprintf(` AND run_id = $%d`, argIdx)
		args = append(args, filter.RunID)
		argIdx++
	}
	if filter.ErrorType != "" {
		query += fmt.Sprintf(` AND error_type = $%d`, argIdx)
		args = append(args, filter.ErrorType)
		argIdx++
	}

	query += ` ORDER BY next_retry_at ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: dequeue dlq")
	}
	defer rows.Close()

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		var failedSource *string
		if err := rows.Scan(&e.ID, &e.RunID, &e.CompanyID, &e.Error, &e.ErrorType,
			&failedSource, &e.RetryCount, &e.MaxRetries,
			&e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dlq entry")
		}
		if failedSource != nil {
			e.FailedSource = *failedSource
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: dequeue dlq iterate")
}

func (s *PostgresStore) RemoveDLQ(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM dead_letter_queue WHERE id = $1`, id)
	return eris.Wrap(err, "postgres: remove dlq")
}

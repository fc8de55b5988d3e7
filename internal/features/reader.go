// Package features reads the pre-existing company feature vectors that feed
// Stage-1 scoring. Feature collection itself happens upstream; this package
// only queries and loads the snapshot table.
package features

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sourcing-cli/internal/db"
	"github.com/sells-group/sourcing-cli/internal/model"
)

// Filter narrows the universe read for a run.
type Filter struct {
	Universe   string   // universe label; empty means everything
	Industries []string // restrict to these industries
	MinRevenue float64  // drop companies below this revenue at read time
	MaxRevenue float64
	Limit      uint64
}

// Reader loads company feature vectors for scoring.
type Reader interface {
	Universe(ctx context.Context, filter Filter) ([]model.CompanyFeatureVector, error)
}

// PostgresReader reads feature vectors from the company_features table.
type PostgresReader struct {
	pool db.Pool
}

// NewPostgresReader creates a PostgresReader over the given pool.
func NewPostgresReader(pool db.Pool) *PostgresReader {
	return &PostgresReader{pool: pool}
}

// featuresMigration creates the snapshot table the ingest command loads into.
const featuresMigration = `
CREATE TABLE IF NOT EXISTS company_features (
	company_id    TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	industry      TEXT NOT NULL DEFAULT '',
	website       TEXT NOT NULL DEFAULT '',
	universe      TEXT NOT NULL DEFAULT '',
	revenue       DOUBLE PRECISION,
	ebitda_margin DOUBLE PRECISION,
	revenue_cagr  DOUBLE PRECISION,
	leverage      DOUBLE PRECISION,
	headcount     INTEGER
);

CREATE INDEX IF NOT EXISTS idx_company_features_universe ON company_features(universe);
CREATE INDEX IF NOT EXISTS idx_company_features_industry ON company_features(industry);
`

// Migrate creates the company_features table.
func (r *PostgresReader) Migrate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, featuresMigration)
	return eris.Wrap(err, "features: migrate")
}

// Universe returns the feature vectors matching the filter, ordered by
// company ID so downstream scoring sees a stable input order.
func (r *PostgresReader) Universe(ctx context.Context, filter Filter) ([]model.CompanyFeatureVector, error) {
	builder := sq.Select(
		"company_id", "name", "industry", "website", "universe",
		"revenue", "ebitda_margin", "revenue_cagr", "leverage", "headcount",
	).
		From("company_features").
		PlaceholderFormat(sq.Dollar).
		OrderBy("company_id ASC")

	if filter.Universe != "" {
		builder = builder.Where(sq.Eq{"universe": filter.Universe})
	}
	if len(filter.Industries) > 0 {
		builder = builder.Where(sq.Eq{"industry": filter.Industries})
	}
	if filter.MinRevenue > 0 {
		builder = builder.Where(sq.GtOrEq{"revenue": filter.MinRevenue})
	}
	if filter.MaxRevenue > 0 {
		builder = builder.Where(sq.LtOrEq{"revenue": filter.MaxRevenue})
	}
	if filter.Limit > 0 {
		builder = builder.Limit(filter.Limit)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "features: build universe query")
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "features: query universe")
	}
	defer rows.Close()

	var out []model.CompanyFeatureVector
	for rows.Next() {
		var v model.CompanyFeatureVector
		if err := rows.Scan(&v.CompanyID, &v.Name, &v.Industry, &v.Website, &v.Universe,
			&v.Revenue, &v.EBITDAMargin, &v.RevenueCAGR, &v.Leverage, &v.Headcount); err != nil {
			return nil, eris.Wrap(err, "features: scan company")
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "features: iterate universe")
	}

	zap.L().Debug("universe loaded",
		zap.String("universe", filter.Universe),
		zap.Int("companies", len(out)),
	)
	return out, nil
}

package features

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sourcing-cli/internal/db"
)

// ingestColumns is the expected CSV header and the upsert column order.
var ingestColumns = []string{
	"company_id", "name", "industry", "website", "universe",
	"revenue", "ebitda_margin", "revenue_cagr", "leverage", "headcount",
}

// Ingest loads a feature-vector CSV into company_features, upserting on
// company_id. The header must match ingestColumns exactly; numeric fields may
// be empty, which loads as NULL.
func Ingest(ctx context.Context, pool *pgxpool.Pool, r io.Reader) (int64, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(ingestColumns)

	header, err := cr.Read()
	if err != nil {
		return 0, eris.Wrap(err, "features: read csv header")
	}
	for i, col := range ingestColumns {
		if header[i] != col {
			return 0, eris.Errorf("features: csv column %d is %q, want %q", i, header[i], col)
		}
	}

	var rows [][]any
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, eris.Wrap(err, "features: read csv record")
		}

		row := []any{record[0], record[1], record[2], record[3], record[4]}
		for _, field := range record[5:9] {
			v, err := nullFloat(field)
			if err != nil {
				return 0, eris.Wrapf(err, "features: company %s", record[0])
			}
			row = append(row, v)
		}
		hc, err := nullInt(record[9])
		if err != nil {
			return 0, eris.Wrapf(err, "features: company %s", record[0])
		}
		row = append(row, hc)
		rows = append(rows, row)
	}

	n, err := db.BulkUpsert(ctx, pool, db.UpsertConfig{
		Table:        "company_features",
		Columns:      ingestColumns,
		ConflictKeys: []string{"company_id"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "features: ingest")
	}

	zap.L().Info("feature vectors ingested", zap.Int64("companies", n))
	return n, nil
}

func nullFloat(s string) (any, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, eris.Wrapf(err, "parse %q", s)
	}
	return v, nil
}

func nullInt(s string) (any, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil, eris.Wrapf(err, "parse %q", s)
	}
	return v, nil
}

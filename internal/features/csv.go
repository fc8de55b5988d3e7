package features

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sourcing-cli/internal/model"
)

// CSVReader reads feature vectors from a local CSV snapshot with the same
// layout the ingest command loads. It backs local SQLite workflows where no
// Postgres feature table exists.
type CSVReader struct {
	Path string
}

// NewCSVReader creates a CSVReader for the given file.
func NewCSVReader(path string) *CSVReader {
	return &CSVReader{Path: path}
}

// Universe parses the file and applies the filter in memory.
func (r *CSVReader) Universe(ctx context.Context, filter Filter) ([]model.CompanyFeatureVector, error) {
	f, err := os.Open(r.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "features: open %s", r.Path)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = len(ingestColumns)

	header, err := cr.Read()
	if err != nil {
		return nil, eris.Wrap(err, "features: read csv header")
	}
	for i, col := range ingestColumns {
		if header[i] != col {
			return nil, eris.Errorf("features: csv column %d is %q, want %q", i, header[i], col)
		}
	}

	industries := make(map[string]bool, len(filter.Industries))
	for _, ind := range filter.Industries {
		industries[strings.ToLower(ind)] = true
	}

	var out []model.CompanyFeatureVector
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "features: read csv record")
		}

		v, err := parseVector(record)
		if err != nil {
			return nil, err
		}

		if filter.Universe != "" && v.Universe != filter.Universe {
			continue
		}
		if len(industries) > 0 && !industries[strings.ToLower(v.Industry)] {
			continue
		}
		if filter.MinRevenue > 0 && (v.Revenue == nil || *v.Revenue < filter.MinRevenue) {
			continue
		}
		if filter.MaxRevenue > 0 && v.Revenue != nil && *v.Revenue > filter.MaxRevenue {
			continue
		}

		out = append(out, v)
		if filter.Limit > 0 && uint64(len(out)) >= filter.Limit {
			break
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CompanyID < out[j].CompanyID })
	return out, nil
}

// parseVector converts one CSV record into a feature vector. Empty numeric
// fields stay nil, matching NULLs in the database-backed reader.
func parseVector(record []string) (model.CompanyFeatureVector, error) {
	v := model.CompanyFeatureVector{
		CompanyID: record[0],
		Name:      record[1],
		Industry:  record[2],
		Website:   record[3],
		Universe:  record[4],
	}

	floats := []**float64{&v.Revenue, &v.EBITDAMargin, &v.RevenueCAGR, &v.Leverage}
	for i, dst := range floats {
		field := record[5+i]
		if field == "" {
			continue
		}
		parsed, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return v, eris.Wrapf(err, "features: company %s: parse %q", v.CompanyID, field)
		}
		*dst = &parsed
	}

	if record[9] != "" {
		hc, err := strconv.Atoi(record[9])
		if err != nil {
			return v, eris.Wrapf(err, "features: company %s: parse %q", v.CompanyID, record[9])
		}
		v.Headcount = &hc
	}
	return v, nil
}

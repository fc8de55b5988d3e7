package main

import (
	"context"
	"io"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/sourcing-cli/internal/features"
	"github.com/sells-group/sourcing-cli/internal/fetcher"
	"github.com/sells-group/sourcing-cli/internal/store"
)

var ingestFile string

// openFeed opens the feature-vector CSV, downloading it first when the
// path is an http(s) or ftp URL.
func openFeed(ctx context.Context, path string) (io.ReadCloser, error) {
	if fetcher.IsRemote(path) {
		f, err := fetcher.ForURL(path)
		if err != nil {
			return nil, err
		}
		return f.Download(ctx, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open %s", path)
	}
	return f, nil
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load a feature-vector CSV into the company_features table",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		ps, ok := st.(*store.PostgresStore)
		if !ok {
			return eris.New("ingest requires the postgres store; sqlite workflows read CSVs directly via --universe-csv")
		}

		pool, ok := ps.Pool().(*pgxpool.Pool)
		if !ok {
			return eris.New("ingest requires a live database pool")
		}

		reader := features.NewPostgresReader(ps.Pool())
		if err := reader.Migrate(ctx); err != nil {
			return err
		}

		f, err := openFeed(ctx, ingestFile)
		if err != nil {
			return err
		}
		defer f.Close()

		n, err := features.Ingest(ctx, pool, f)
		if err != nil {
			return err
		}

		zap.L().Info("ingest complete",
			zap.String("file", ingestFile),
			zap.Int64("companies", n),
		)
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestFile, "csv", "", "feature-vector CSV: local path or http(s)/ftp URL (required)")
	_ = ingestCmd.MarkFlagRequired("csv")
	rootCmd.AddCommand(ingestCmd)
}

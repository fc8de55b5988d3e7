package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export <run-id>",
	Short: "Export a run's composite ranking to XLSX",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Pipeline.ExportXLSX(ctx, args[0], exportOut); err != nil {
			return eris.Wrap(err, "export ranking")
		}

		zap.L().Info("ranking exported",
			zap.String("run_id", args[0]),
			zap.String("file", exportOut),
		)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "ranking.xlsx", "output file path")
	exportCmd.Flags().StringVar(&universeCSV, "universe-csv", "", "read the universe from a CSV snapshot instead of the feature table")
	rootCmd.AddCommand(exportCmd)
}

package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/sourcing-cli/internal/ranker"
)

var (
	rankPartial bool
	rankTop     int
)

var rankCmd = &cobra.Command{
	Use:   "rank <run-id>",
	Short: "Compute the composite ranking for a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		rankings, err := env.Pipeline.Rank(ctx, args[0], rankPartial)
		if err != nil {
			return eris.Wrap(err, "rank run")
		}

		top := rankTop
		if top == 0 {
			top = cfg.Ranker.TopK
		}
		rankings = ranker.TopK(rankings, top)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rankings)
	},
}

func init() {
	rankCmd.Flags().BoolVar(&rankPartial, "partial", false, "rank with whatever enrichment finished so far")
	rankCmd.Flags().IntVar(&rankTop, "top", 0, "keep only the top N companies (default from config; 0 keeps all)")
	rootCmd.AddCommand(rankCmd)
}

package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/sourcing-cli/internal/pipeline"
)

var (
	overrideDelta  float64
	overridePin    bool
	overrideUnpin  bool
	overrideAuthor string
	overrideNote   string
)

var overrideCmd = &cobra.Command{
	Use:   "override <run-id> <company-id>",
	Short: "Adjust a ranked company's score manually",
	Long:  "Applies an additive delta to a company's composite score and/or pins it into the shortlist. Every change lands in the run's decision log.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if overridePin && overrideUnpin {
			return eris.New("--pin and --unpin are mutually exclusive")
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		req := pipeline.OverrideRequest{
			CompanyID: args[1],
			Delta:     overrideDelta,
			Author:    overrideAuthor,
			Note:      overrideNote,
		}
		if overridePin {
			pin := true
			req.Pin = &pin
		}
		if overrideUnpin {
			pin := false
			req.Pin = &pin
		}

		return env.Pipeline.SetOverride(ctx, args[0], req)
	},
}

func init() {
	overrideCmd.Flags().Float64Var(&overrideDelta, "delta", 0, "additive score adjustment, -50 to +50")
	overrideCmd.Flags().BoolVar(&overridePin, "pin", false, "pin the company so top-N truncation never drops it")
	overrideCmd.Flags().BoolVar(&overrideUnpin, "unpin", false, "remove an existing pin")
	overrideCmd.Flags().StringVar(&overrideAuthor, "author", "", "who is making the change (required)")
	overrideCmd.Flags().StringVar(&overrideNote, "note", "", "rationale for the audit trail")
	_ = overrideCmd.MarkFlagRequired("author")
	rootCmd.AddCommand(overrideCmd)
}

package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/sourcing-cli/internal/model"
	"github.com/sells-group/sourcing-cli/internal/pipeline"
	"github.com/sells-group/sourcing-cli/internal/scorer"
	"github.com/sells-group/sourcing-cli/internal/shortlist"
)

var (
	runUniverse    string
	runProfilePath string
	runMode        string
	runTargetSize  int
	runWeights     []float64
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a sourcing run end to end",
	Long:  "Scores the universe, builds the shortlist, enriches every shortlisted company, and waits for enrichment to drain before reporting.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		req, err := buildRunRequest()
		if err != nil {
			return err
		}

		// Workers run for the lifetime of this command.
		poolCtx, stopPool := context.WithCancel(ctx)
		defer stopPool()
		go func() {
			if err := env.Pool.Run(poolCtx); err != nil {
				zap.L().Error("worker pool exited", zap.Error(err))
			}
		}()

		run, err := env.Pipeline.StartRun(ctx, *req)
		if err != nil {
			return eris.Wrap(err, "start run")
		}

		if err := env.Pipeline.Watch(ctx, run.ID); err != nil {
			return eris.Wrap(err, "watch run")
		}

		report, err := env.Pipeline.Status(ctx, run.ID)
		if err != nil {
			return eris.Wrap(err, "run status")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

// buildRunRequest merges the scoring profile file with flag overrides.
func buildRunRequest() (*pipeline.StartRunRequest, error) {
	req := pipeline.StartRunRequest{
		Universe:   runUniverse,
		Mode:       model.ScoreMode(cfg.Scoring.Mode),
		TargetSize: cfg.Scoring.TargetSize,
	}

	profilePath := runProfilePath
	if profilePath == "" {
		profilePath = cfg.Scoring.ProfilePath
	}
	if profilePath != "" {
		profile, err := scorer.LoadProfile(profilePath)
		if err != nil {
			return nil, err
		}
		req.Weights = profile.Weights
		req.Mode = profile.Mode
		req.TargetSize = profile.TargetSize
		req.Exclusions = shortlist.ExclusionRules{
			IndustryBlocklist: profile.Exclusions.IndustryBlocklist,
			MinRevenue:        profile.Exclusions.MinRevenue,
		}
	}

	if len(runWeights) > 0 {
		if len(runWeights) != 5 {
			return nil, eris.Errorf("--weights needs 5 values (revenue,margin,growth,leverage,headcount), got %d", len(runWeights))
		}
		req.Weights = model.ScoreWeights{
			Revenue:   runWeights[0],
			Margin:    runWeights[1],
			Growth:    runWeights[2],
			Leverage:  runWeights[3],
			Headcount: runWeights[4],
		}
	}
	if runMode != "" {
		req.Mode = model.ScoreMode(runMode)
	}
	if runTargetSize > 0 {
		req.TargetSize = runTargetSize
	}

	return &req, nil
}

func init() {
	runCmd.Flags().StringVar(&runUniverse, "universe", "", "universe label to score")
	runCmd.Flags().StringVar(&runProfilePath, "profile", "", "scoring profile YAML (default from config)")
	runCmd.Flags().StringVar(&runMode, "mode", "", "score mode: absolute or percentile")
	runCmd.Flags().IntVar(&runTargetSize, "target-size", 0, "shortlist size (default from profile/config)")
	runCmd.Flags().Float64SliceVar(&runWeights, "weights", nil, "scoring weights: revenue,margin,growth,leverage,headcount")
	runCmd.Flags().StringVar(&universeCSV, "universe-csv", "", "read the universe from a CSV snapshot instead of the feature table")
	rootCmd.AddCommand(runCmd)
}

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sourcing-cli/internal/model"
)

// resetRunFlags gives each test a clean config and flag state, restoring the
// previous globals afterwards.
func resetRunFlags(t *testing.T) {
	t.Helper()

	prevCfg := cfg
	prevUniverse := runUniverse
	prevProfile := runProfilePath
	prevMode := runMode
	prevTarget := runTargetSize
	prevWeights := runWeights
	t.Cleanup(func() {
		cfg = prevCfg
		runUniverse = prevUniverse
		runProfilePath = prevProfile
		runMode = prevMode
		runTargetSize = prevTarget
		runWeights = prevWeights
	})

	cfg = testConfig()
	runUniverse = ""
	runProfilePath = ""
	runMode = ""
	runTargetSize = 0
	runWeights = nil
}

func writeProfile(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

func TestBuildRunRequest_ConfigDefaults(t *testing.T) {
	resetRunFlags(t)
	runUniverse = "us-industrial"

	req, err := buildRunRequest()
	require.NoError(t, err)

	assert.Equal(t, "us-industrial", req.Universe)
	assert.Equal(t, model.ScoreModePercentile, req.Mode)
	assert.Equal(t, 25, req.TargetSize)
	assert.Zero(t, req.Weights)
}

func TestBuildRunRequest_ProfileOverridesConfig(t *testing.T) {
	resetRunFlags(t)
	runProfilePath = writeProfile(t, `
name: lower-middle-market
weights:
  revenue: 2
  margin: 3
  growth: 1
  leverage: 1
  headcount: 1
mode: absolute
target_size: 40
exclusions:
  industry_blocklist:
    - tobacco
  min_revenue: 5000000
`)

	req, err := buildRunRequest()
	require.NoError(t, err)

	assert.Equal(t, model.ScoreModeAbsolute, req.Mode)
	assert.Equal(t, 40, req.TargetSize)
	assert.Equal(t, 2.0, req.Weights.Revenue)
	assert.Equal(t, 3.0, req.Weights.Margin)
	assert.Equal(t, []string{"tobacco"}, req.Exclusions.IndustryBlocklist)
	assert.Equal(t, 5_000_000.0, req.Exclusions.MinRevenue)
}

func TestBuildRunRequest_ProfileFromConfigPath(t *testing.T) {
	resetRunFlags(t)
	cfg.Scoring.ProfilePath = writeProfile(t, `
name: default-book
weights:
  revenue: 1
  margin: 1
  growth: 1
  leverage: 1
  headcount: 1
mode: percentile
target_size: 30
`)

	req, err := buildRunRequest()
	require.NoError(t, err)
	assert.Equal(t, 30, req.TargetSize)
	assert.Equal(t, 1.0, req.Weights.Headcount)
}

func TestBuildRunRequest_ProfileLoadError(t *testing.T) {
	resetRunFlags(t)
	runProfilePath = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := buildRunRequest()
	assert.Error(t, err)
}

func TestBuildRunRequest_WeightsFlagNeedsFiveValues(t *testing.T) {
	resetRunFlags(t)
	runWeights = []float64{1, 2, 3}

	_, err := buildRunRequest()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "needs 5 values")
}

func TestBuildRunRequest_FlagsOverrideProfile(t *testing.T) {
	resetRunFlags(t)
	runProfilePath = writeProfile(t, `
name: lower-middle-market
weights:
  revenue: 2
  margin: 3
  growth: 1
  leverage: 1
  headcount: 1
mode: absolute
target_size: 40
`)
	runWeights = []float64{5, 4, 3, 2, 1}
	runMode = "percentile"
	runTargetSize = 15

	req, err := buildRunRequest()
	require.NoError(t, err)

	assert.Equal(t, model.ScoreWeights{
		Revenue: 5, Margin: 4, Growth: 3, Leverage: 2, Headcount: 1,
	}, req.Weights)
	assert.Equal(t, model.ScoreModePercentile, req.Mode)
	assert.Equal(t, 15, req.TargetSize)
}

package scorer

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/sourcing-cli/internal/model"
)

// Profile is a named scoring configuration loadable from YAML. A profile is
// snapshotted into the run at start, so editing the file never changes a
// prior run's persisted scores.
type Profile struct {
	Name       string             `yaml:"name"`
	Weights    model.ScoreWeights `yaml:"weights"`
	Mode       model.ScoreMode    `yaml:"mode"`
	TargetSize int                `yaml:"target_size"`
	Exclusions ExclusionConfig    `yaml:"exclusions"`
}

// ExclusionConfig is the YAML shape of shortlist exclusion rules.
type ExclusionConfig struct {
	IndustryBlocklist []string `yaml:"industry_blocklist"`
	MinRevenue        float64  `yaml:"min_revenue"`
}

// LoadProfile reads and validates a scoring profile from a YAML file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "profile: read %s", path)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, eris.Wrapf(err, "profile: parse %s", path)
	}

	if p.Mode == "" {
		p.Mode = model.ScoreModePercentile
	}
	if p.Mode != model.ScoreModeAbsolute && p.Mode != model.ScoreModePercentile {
		return nil, eris.Errorf("profile: unknown mode %q", p.Mode)
	}
	if err := p.Weights.Validate(); err != nil {
		return nil, err
	}
	if p.TargetSize <= 0 {
		return nil, eris.Errorf("profile: target_size must be > 0, got %d", p.TargetSize)
	}

	return &p, nil
}

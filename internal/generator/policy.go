package generator

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Policy is the on-disk, YAML-formatted tuning for the generator pipeline.
// It overrides DefaultConfig's hardcoded turn/round/threshold budgets
// without requiring a rebuild.
type Policy struct {
	MaxLLMTurns        int     `yaml:"max_llm_turns"`
	MaxTestRounds       int     `yaml:"max_test_rounds"`
	DiscoveryThreshold  float64 `yaml:"discovery_threshold"`
}

// LoadPolicy reads a policy file at path and converts it to a Config. A
// missing file is not an error: LoadPolicy returns DefaultConfig().
func LoadPolicy(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return Config{}, fmt.Errorf("read generator policy %q: %w", path, err)
	}

	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Config{}, fmt.Errorf("parse generator policy %q: %w", path, err)
	}

	cfg := DefaultConfig()
	if p.MaxLLMTurns > 0 {
		cfg.MaxLLMTurns = p.MaxLLMTurns
	}
	if p.MaxTestRounds > 0 {
		cfg.MaxTestRounds = p.MaxTestRounds
	}
	if p.DiscoveryThreshold > 0 {
		cfg.DiscoveryThreshold = p.DiscoveryThreshold
	}
	return cfg, nil
}

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// BacktestCase is one expected outcome for a historical block.
type BacktestCase struct {
	Name          string `yaml:"name"`
	Chain         string `yaml:"chain"`
	Block         uint64 `yaml:"block"`
	Wallet        string `yaml:"wallet"`
	NativeDelta   string `yaml:"native_delta"`
	BuilderReward string `yaml:"builder_reward"`
	Records       *int   `yaml:"records"`
}

type casesFile struct {
	Cases []BacktestCase `yaml:"cases"`
}

// LoadCases reads backtest cases from a YAML file.
func LoadCases(path string) ([]BacktestCase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cases: %w", err)
	}
	var file casesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse cases: %w", err)
	}
	for i, c := range file.Cases {
		if c.Chain == "" || c.Block == 0 || c.Wallet == "" {
			return nil, fmt.Errorf("case %d: chain, block and wallet are required", i)
		}
		if c.Name == "" {
			file.Cases[i].Name = fmt.Sprintf("%s-%d-%s", c.Chain, c.Block, c.Wallet)
		}
	}
	return file.Cases, nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Job declares one (symbol, interval) signal source and its sizing intent.
// Quantity, when set, takes precedence over Percent.
type Job struct {
	Symbol     string `yaml:"symbol"`
	Interval   string `yaml:"interval"`
	Side       string `yaml:"side"`
	Quantity   string `yaml:"quantity"`
	Percent    string `yaml:"percent"`
	Leverage   int    `yaml:"leverage"`
	MarginMode string `yaml:"margin_mode"`
	Policy     string `yaml:"policy"`
}

type jobDefaults struct {
	Percent    string `yaml:"percent"`
	Leverage   int    `yaml:"leverage"`
	MarginMode string `yaml:"margin_mode"`
	Policy     string `yaml:"policy"`
}

type jobsFile struct {
	Defaults jobDefaults `yaml:"defaults"`
	Jobs     []Job       `yaml:"jobs"`
}

// LoadJobs parses the YAML jobs file and applies the file-level defaults to
// every job that leaves the field empty.
func LoadJobs(path string) ([]Job, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f jobsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse jobs file %s: %w", path, err)
	}
	if len(f.Jobs) == 0 {
		return nil, errors.New("jobs file declares no jobs")
	}
	seen := make(map[string]struct{}, len(f.Jobs))
	for i := range f.Jobs {
		j := &f.Jobs[i]
		j.Symbol = strings.ToUpper(strings.TrimSpace(j.Symbol))
		if j.Symbol == "" || strings.TrimSpace(j.Interval) == "" {
			return nil, fmt.Errorf("job %d: symbol and interval are required", i)
		}
		key := j.Symbol + "/" + j.Interval
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("duplicate job %s", key)
		}
		seen[key] = struct{}{}
		if j.Percent == "" && j.Quantity == "" {
			j.Percent = f.Defaults.Percent
		}
		if j.Leverage == 0 {
			j.Leverage = f.Defaults.Leverage
		}
		if j.MarginMode == "" {
			j.MarginMode = f.Defaults.MarginMode
		}
		if j.Policy == "" {
			j.Policy = f.Defaults.Policy
		}
		if j.MarginMode == "" {
			j.MarginMode = "ISOLATED"
		}
		if j.Policy == "" {
			j.Policy = "flexible"
		}
	}
	return f.Jobs, nil
}

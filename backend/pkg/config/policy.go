package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// StepPolicy is the file representation of one pipeline step's retry policy
type StepPolicy struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Backoff      string        `yaml:"backoff"`
	Timeout      time.Duration `yaml:"timeout"`
}

// PolicyFile holds per-step overrides keyed by step name (extract, validate, ...)
type PolicyFile struct {
	Steps map[string]StepPolicy `yaml:"steps"`
}

// LoadPolicyFile reads a YAML policy file. An empty path yields an empty file.
func LoadPolicyFile(path string) (*PolicyFile, error) {
	if path == "" {
		return &PolicyFile{Steps: map[string]StepPolicy{}}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	var pf PolicyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse policy file %s: %w", path, err)
	}
	if pf.Steps == nil {
		pf.Steps = map[string]StepPolicy{}
	}

	for name, p := range pf.Steps {
		if p.MaxAttempts < 0 {
			return nil, fmt.Errorf("policy %s: max_attempts must not be negative", name)
		}
		if p.Backoff != "" && p.Backoff != "constant" && p.Backoff != "exponential" {
			return nil, fmt.Errorf("policy %s: backoff must be constant or exponential", name)
		}
	}
	return &pf, nil
}

package scenario

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SuiteFile is the declarative scenario format: defaults plus an ordered
// step list. It replaces per-scenario driver scripts.
type SuiteFile struct {
	Version  int         `yaml:"version"`
	Suite    string      `yaml:"suite"`
	Defaults Defaults    `yaml:"defaults,omitempty"`
	Steps    []SuiteStep `yaml:"steps"`
}

// Defaults apply to every step that does not override them.
type Defaults struct {
	TimeoutMs int64 `yaml:"timeoutMs,omitempty"`
}

// SuiteStep is one declarative step.
type SuiteStep struct {
	Name        string            `yaml:"name,omitempty"`
	Method      string            `yaml:"method"`
	Params      map[string]any    `yaml:"params,omitempty"`
	ExpectError bool              `yaml:"expectError,omitempty"`
	TimeoutMs   int64             `yaml:"timeoutMs,omitempty"`
	Needs       []string          `yaml:"needs,omitempty"`
	Save        map[string]string `yaml:"save,omitempty"`
}

// LoadSuite reads and validates a suite file.
func LoadSuite(path string) (*SuiteFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read suite: %w", err)
	}

	return ParseSuite(data)
}

// ParseSuite decodes and validates suite YAML.
func ParseSuite(data []byte) (*SuiteFile, error) {
	var suite SuiteFile
	if err := yaml.Unmarshal(data, &suite); err != nil {
		return nil, fmt.Errorf("parse suite: %w", err)
	}

	if suite.Version != 1 {
		return nil, fmt.Errorf("unsupported suite version %d (expected 1)", suite.Version)
	}

	if suite.Suite == "" {
		return nil, fmt.Errorf("missing suite name")
	}

	if len(suite.Steps) == 0 {
		return nil, fmt.Errorf("suite %q has no steps", suite.Suite)
	}

	for i, step := range suite.Steps {
		if step.Method == "" {
			return nil, fmt.Errorf("suite %q: step %d has no method", suite.Suite, i+1)
		}
	}

	return &suite, nil
}

// Build converts the declarative steps into runnable ones.
func (s *SuiteFile) Build() []Step {
	defTimeout := time.Duration(s.Defaults.TimeoutMs) * time.Millisecond

	steps := make([]Step, 0, len(s.Steps))

	for _, ss := range s.Steps {
		timeout := time.Duration(ss.TimeoutMs) * time.Millisecond
		if timeout <= 0 {
			timeout = defTimeout
		}

		var params any
		if ss.Params != nil {
			params = ss.Params
		}

		steps = append(steps, Step{
			Name:        ss.Name,
			Method:      ss.Method,
			Params:      params,
			ExpectError: ss.ExpectError,
			Timeout:     timeout,
			Needs:       ss.Needs,
			Save:        ss.Save,
		})
	}

	return steps
}

package testscript

import (
	"fmt"

	"github.com/bytedance/sonic"
	"gopkg.in/yaml.v3"
)

// Outcome is the result of a single test or expectation.
type Outcome string

// Outcomes.
const (
	OutcomePassed Outcome = "passed"
	OutcomeFailed Outcome = "failed"
	OutcomeError  Outcome = "error"
)

// EnvVar is one key/value pair of an environment scope.
type EnvVar struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// Scope is an ordered list of environment variables.
type Scope []EnvVar

// UnmarshalYAML accepts either a list of {key, value} pairs or a mapping.
// Mapping order is preserved.
func (s *Scope) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var vars []EnvVar
		if err := node.Decode(&vars); err != nil {
			return err
		}
		*s = vars
		return nil
	case yaml.MappingNode:
		vars := make(Scope, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, val := node.Content[i], node.Content[i+1]
			if val.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: value of %q must be a scalar", val.Line, key.Value)
			}
			vars = append(vars, EnvVar{Key: key.Value, Value: val.Value})
		}
		*s = vars
		return nil
	default:
		if node.Tag == "!!null" {
			*s = nil
			return nil
		}
		return fmt.Errorf("line %d: environment scope must be a mapping or a list", node.Line)
	}
}

// Environment holds the two scopes a script can read and write.
type Environment struct {
	Global   Scope `json:"global" yaml:"global"`
	Selected Scope `json:"selected" yaml:"selected"`
}

// Clone returns a copy that shares no memory with e.
func (e Environment) Clone() Environment {
	return Environment{
		Global:   append(Scope(nil), e.Global...),
		Selected: append(Scope(nil), e.Selected...),
	}
}

// ParseEnvironment decodes a YAML or JSON environment document.
func ParseEnvironment(data []byte) (Environment, error) {
	var env Environment
	if err := yaml.Unmarshal(data, &env); err != nil {
		return Environment{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	return env, nil
}

// Header is a response header.
type Header struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Response is the captured HTTP response a script is run against.
type Response struct {
	Status       int      `json:"status"`
	StatusText   string   `json:"statusText,omitempty"`
	Headers      []Header `json:"headers"`
	Body         any      `json:"body"`
	ResponseTime float64  `json:"responseTime,omitempty"`
}

// ParseResponse decodes a captured response. A body given as text that holds
// JSON is decoded; any other text body is kept as-is.
func ParseResponse(data []byte) (Response, error) {
	var resp Response
	if err := sonic.Unmarshal(data, &resp); err != nil {
		return Response{}, fmt.Errorf("failed to parse response: %w", err)
	}
	if text, ok := resp.Body.(string); ok {
		var parsed any
		if err := sonic.UnmarshalString(text, &parsed); err == nil {
			resp.Body = parsed
		}
	}
	return resp, nil
}

// ExpectResult is the outcome of one matcher call.
type ExpectResult struct {
	Status  Outcome `json:"status"`
	Message string  `json:"message"`
}

// TestResult is one registered test. Nested tests are kept as children.
type TestResult struct {
	Name         string         `json:"name"`
	Outcome      Outcome        `json:"outcome"`
	Error        string         `json:"error,omitempty"`
	Expectations []ExpectResult `json:"expectations"`
	Children     []TestResult   `json:"children,omitempty"`
}

// RunResult is what a successful run returns. Expectations holds matcher
// calls made outside of any test.
type RunResult struct {
	Tests        []TestResult   `json:"tests"`
	Expectations []ExpectResult `json:"expectations,omitempty"`
	Envs         Environment    `json:"envs"`
}

// Passed reports whether every test and top-level expectation passed.
func (r RunResult) Passed() bool {
	for _, e := range r.Expectations {
		if e.Status != OutcomePassed {
			return false
		}
	}
	for _, t := range r.Tests {
		if t.Outcome != OutcomePassed {
			return false
		}
	}
	return true
}

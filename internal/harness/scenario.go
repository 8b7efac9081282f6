package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/mudbridge/internal/replica"
)

// Scenario is a scripted bridge session with assertions on its outcome.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// World is a CUE world directory, relative to the scenario file.
	// Empty selects the default world.
	World string `yaml:"world,omitempty"`

	// Component is the followed component. Defaults to Counter.
	Component string `yaml:"component,omitempty"`

	// Key selects the followed record of a keyed component.
	Key string `yaml:"key,omitempty"`

	// Field is the value field hooks and assertions read. Defaults to value.
	Field string `yaml:"field,omitempty"`

	// Policy is the hook error policy: continue (default) or halt.
	Policy string `yaml:"policy,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one scenario step. Exactly one field is set.
type Step struct {
	Initialize bool        `yaml:"initialize,omitempty"`
	Submit     *SubmitStep `yaml:"submit,omitempty"`
	Write      *WriteStep  `yaml:"write,omitempty"`
	Hook       string      `yaml:"hook,omitempty"`
	Flush      bool        `yaml:"flush,omitempty"`
}

// SubmitStep calls SubmitAction.
type SubmitStep struct {
	// Expect is the expected new value. Nil skips the check.
	Expect *int64 `yaml:"expect,omitempty"`

	// ExpectError is the expected error code, as host.ErrorCode reports it.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// WriteStep writes a record as an external writer would.
type WriteStep struct {
	// Component defaults to the scenario's component.
	Component string         `yaml:"component,omitempty"`
	Key       string         `yaml:"key,omitempty"`
	Value     map[string]any `yaml:"value"`
}

// Hook modes.
const (
	HookRecord = "record"
	HookFail   = "fail"
	HookPanic  = "panic"
	HookNop    = "nop"
)

// Assertion validates the scenario outcome.
type Assertion struct {
	// Type is one of hook_values, hook_count, error_count, final_value.
	Type string `yaml:"type"`

	// Values are the expected hook values (hook_values).
	Values []int64 `yaml:"values,omitempty"`

	// Count is the expected count (hook_count, error_count).
	Count int `yaml:"count,omitempty"`

	// Value is the expected final field value (final_value).
	Value *int64 `yaml:"value,omitempty"`
}

// Assertion type constants.
const (
	AssertHookValues = "hook_values"
	AssertHookCount  = "hook_count"
	AssertErrorCount = "error_count"
	AssertFinalValue = "final_value"
)

const (
	defaultComponent = "Counter"
	defaultField     = "value"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected. A relative World path is resolved against the file's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	s, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	if s.World != "" && !filepath.IsAbs(s.World) {
		s.World = filepath.Join(filepath.Dir(path), s.World)
	}
	return s, nil
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	applyDefaults(&scenario)
	return &scenario, nil
}

func applyDefaults(s *Scenario) {
	if s.Component == "" {
		s.Component = defaultComponent
	}
	if s.Field == "" {
		s.Field = defaultField
	}
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if len(s.Steps) == 0 {
		return errors.New("at least one step is required")
	}
	if _, err := replica.ParseErrorPolicy(s.Policy); err != nil {
		return err
	}

	initializes := 0
	for i := range s.Steps {
		if err := validateStep(&s.Steps[i], i); err != nil {
			return err
		}
		if s.Steps[i].Initialize {
			initializes++
		}
	}
	if initializes > 1 {
		return errors.New("at most one initialize step is allowed")
	}

	for i := range s.Assertions {
		if err := validateAssertion(&s.Assertions[i], i); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(st *Step, index int) error {
	set := 0
	if st.Initialize {
		set++
	}
	if st.Submit != nil {
		set++
	}
	if st.Write != nil {
		set++
		if len(st.Write.Value) == 0 {
			return fmt.Errorf("steps[%d]: write needs a value", index)
		}
	}
	if st.Hook != "" {
		set++
		switch st.Hook {
		case HookRecord, HookFail, HookPanic, HookNop:
		default:
			return fmt.Errorf("steps[%d]: unknown hook %q", index, st.Hook)
		}
	}
	if st.Flush {
		set++
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one of initialize, submit, write, hook, flush is required", index)
	}
	if st.Submit != nil && st.Submit.Expect != nil && st.Submit.ExpectError != "" {
		return fmt.Errorf("steps[%d]: submit cannot expect both a value and an error", index)
	}
	return nil
}

func validateAssertion(a *Assertion, index int) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertHookValues:
		if a.Values == nil {
			return fmt.Errorf("assertions[%d]: values is required for hook_values", index)
		}
	case AssertHookCount, AssertErrorCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertFinalValue:
		if a.Value == nil {
			return fmt.Errorf("assertions[%d]: value is required for final_value", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

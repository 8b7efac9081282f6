package harness

import (
	"fmt"
	"slices"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes the trace to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for i, ev := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] step %d %s", i+1, ev.Step, ev.Type)
		if ev.Value != nil {
			fmt.Fprintf(&buf, " value=%d", *ev.Value)
		}
		if ev.Code != "" {
			fmt.Fprintf(&buf, " code=%s", ev.Code)
		}
		if ev.Hook != "" {
			fmt.Fprintf(&buf, " hook=%s", ev.Hook)
		}
		buf.WriteByte('\n')
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion of s against result and returns
// the failure messages.
func EvaluateAssertions(result *Result, s *Scenario) []string {
	var errs []string
	for i, a := range s.Assertions {
		if err := evaluate(result, s, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return errs
}

func evaluate(result *Result, s *Scenario, a Assertion) error {
	switch a.Type {
	case AssertHookValues:
		return assertHookValues(result, a)
	case AssertHookCount:
		return assertCount(result, a, len(result.HookValues))
	case AssertErrorCount:
		return assertCount(result, a, result.HookErrors)
	case AssertFinalValue:
		return assertFinalValue(result, s, a)
	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
}

func assertHookValues(result *Result, a Assertion) error {
	if slices.Equal(result.HookValues, a.Values) {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprint(a.Values),
		Actual:   fmt.Sprint(result.HookValues),
		Trace:    result.Trace,
	}
}

func assertCount(result *Result, a Assertion, got int) error {
	if got == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("%d", a.Count),
		Actual:   fmt.Sprintf("%d", got),
		Trace:    result.Trace,
	}
}

func assertFinalValue(result *Result, s *Scenario, a Assertion) error {
	if result.Final == nil {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s.%s = %d", s.Component, s.Field, *a.Value),
			Actual:   "record never written",
			Trace:    result.Trace,
		}
	}
	got, ok := result.Final.Int(s.Field)
	if ok && got == *a.Value {
		return nil
	}
	actual := fmt.Sprintf("%d", got)
	if !ok {
		actual = fmt.Sprintf("no integer field %q", s.Field)
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("%s.%s = %d", s.Component, s.Field, *a.Value),
		Actual:   actual,
		Trace:    result.Trace,
	}
}

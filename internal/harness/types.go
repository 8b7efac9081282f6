package harness

import "github.com/roach88/mudbridge/internal/ir"

// Trace event types.
const (
	EventSubmit    = "submit"
	EventWrite     = "write"
	EventHook      = "hook"
	EventHookError = "hook_error"
	EventSwap      = "swap"
)

// TraceEvent is one entry of a scenario trace.
type TraceEvent struct {
	Type      string `json:"type"`
	Step      int    `json:"step"`
	Component string `json:"component,omitempty"`
	// Value is the field value: the submit result, the written value or the
	// value a hook saw.
	Value   *int64 `json:"value,omitempty"`
	Version int64  `json:"version,omitempty"`
	Block   int64  `json:"block,omitempty"`
	Tx      string `json:"tx,omitempty"`
	Code    string `json:"code,omitempty"`
	Hook    string `json:"hook,omitempty"`
}

// toObject renders the event for canonical JSON, omitting empty fields.
func (e TraceEvent) toObject() ir.Object {
	obj := ir.Object{
		"type": ir.String(e.Type),
		"step": ir.Int(e.Step),
	}
	if e.Component != "" {
		obj["component"] = ir.String(e.Component)
	}
	if e.Value != nil {
		obj["value"] = ir.Int(*e.Value)
	}
	if e.Version != 0 {
		obj["version"] = ir.Int(e.Version)
	}
	if e.Block != 0 {
		obj["block"] = ir.Int(e.Block)
	}
	if e.Tx != "" {
		obj["tx"] = ir.String(e.Tx)
	}
	if e.Code != "" {
		obj["code"] = ir.String(e.Code)
	}
	if e.Hook != "" {
		obj["hook"] = ir.String(e.Hook)
	}
	return obj
}

// Result is the outcome of a scenario.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace lists step events and the hook activity each step caused.
	Trace []TraceEvent `json:"trace"`

	// Errors contains failed expectations and assertions.
	Errors []string `json:"errors,omitempty"`

	// HookValues are the field values recording hooks observed, in order.
	HookValues []int64 `json:"hook_values"`

	// HookErrors counts reported hook failures.
	HookErrors int `json:"hook_errors"`

	// Final is the followed record's value after the last step, nil if the
	// record was never written.
	Final ir.Object `json:"final,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:       true,
		Trace:      []TraceEvent{},
		Errors:     []string{},
		HookValues: []int64{},
	}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func int64Ptr(v int64) *int64 {
	return &v
}

// Package harness runs bridge scenarios: scripted submissions, external
// writes and hook swaps against a real bridge over a fresh store, with
// assertions on what the host hook observed.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: increment_twice
//	description: "Two submissions reach the hook in order"
//	component: Counter     # optional, default Counter
//	field: value           # optional, default value
//	policy: continue       # optional, continue | halt
//	steps:
//	  - submit: {expect: 1}
//	  - hook: fail
//	  - write: {value: {value: 10}}
//	  - submit: {expect_error: NOT_INITIALIZED}
//	assertions:
//	  - type: hook_values
//	    values: [1, 2]
//	  - type: final_value
//	    value: 2
//
// Steps:
//
//   - initialize: true: initializes the bridge. Scenarios without an
//     initialize step are initialized before the first step.
//   - submit: calls SubmitAction, optionally checking the value or error code.
//   - write: writes a record directly, as an external writer would.
//   - hook: installs a host hook: record, fail, panic or nop.
//   - flush: waits until every pending update has been delivered.
//
// Every step flushes before the next one starts, so the trace is
// deterministic: each step's own event comes first, followed by the hook
// calls and hook errors it caused.
//
// # Assertion Types
//
//   - hook_values: the field values the hook saw, in order
//   - hook_count: how many updates reached a recording hook
//   - error_count: how many hook failures were reported
//   - final_value: the field's value in the replica after the last step
//
// # Deterministic Testing
//
// Blocks come from testutil.BlockClock and transaction ids from
// testutil.SequenceGenerator, so traces compare byte for byte against
// golden files (RunWithGolden).
package harness

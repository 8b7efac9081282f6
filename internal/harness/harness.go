package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/mudbridge/internal/bridge"
	"github.com/roach88/mudbridge/internal/host"
	"github.com/roach88/mudbridge/internal/ir"
	"github.com/roach88/mudbridge/internal/replica"
	"github.com/roach88/mudbridge/internal/setup"
	"github.com/roach88/mudbridge/internal/testutil"
)

// EventInitialize is traced for explicit initialize steps.
const EventInitialize = "initialize"

const (
	pollInterval = 5 * time.Millisecond
	settleWait   = 5 * time.Second
)

// errHookFailed is what the fail hook returns.
var errHookFailed = errors.New("scripted hook failure")

// collector gathers what the scripted hooks observe.
type collector struct {
	field string

	mu      sync.Mutex
	pending []TraceEvent
	values  []int64
}

// hook returns the scripted hook for mode. nop maps to nil, which the bridge
// replaces with its NopHook.
func (c *collector) hook(mode string) bridge.Hook {
	if mode == HookNop {
		return nil
	}
	return bridge.HookFunc(func(_ context.Context, u ir.Update) error {
		v, _ := u.Value.Int(c.field)
		c.mu.Lock()
		c.values = append(c.values, v)
		c.pending = append(c.pending, TraceEvent{
			Type:      EventHook,
			Component: u.Component,
			Value:     int64Ptr(v),
			Version:   u.Version,
			Block:     u.Block,
			Hook:      mode,
		})
		c.mu.Unlock()

		switch mode {
		case HookFail:
			return errHookFailed
		case HookPanic:
			panic(fmt.Sprintf("scripted hook panic at version %d", u.Version))
		}
		return nil
	})
}

func (c *collector) drain(step int) []TraceEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.pending
	c.pending = nil
	for i := range out {
		out[i].Step = step
	}
	return out
}

func (c *collector) observed() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int64{}, c.values...)
}

// runner executes one scenario.
type runner struct {
	scenario *Scenario
	boot     *setup.Bootstrapper
	bridge   *bridge.Bridge
	hooks    *collector
	result   *Result
}

// Run executes a scenario against a fresh in-memory network.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller context.
//
// Execution flow:
// 1. Bootstrap a network over an in-memory database with deterministic
// blocks and transaction ids
// 2. Initialize the bridge unless the scenario does so explicitly
// 3. Execute the steps, settling deliveries after each
// 4. Evaluate assertions
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	applyDefaults(scenario)
	policy, err := replica.ParseErrorPolicy(scenario.Policy)
	if err != nil {
		return nil, err
	}

	boot := setup.New(setup.Config{
		DBPath:       ":memory:",
		WorldDir:     scenario.World,
		PollInterval: pollInterval,
		Clock:        testutil.NewBlockClock(),
		IDs:          testutil.NewSequenceGenerator("tx"),
	})
	defer boot.Close()

	hooks := &collector{field: scenario.Field}
	b := bridge.New(boot,
		bridge.WithComponent(scenario.Component),
		bridge.WithErrorPolicy(policy),
		bridge.WithHook(hooks.hook(HookRecord)),
	)
	defer b.Close()

	r := &runner{
		scenario: scenario,
		boot:     boot,
		bridge:   b,
		hooks:    hooks,
		result:   NewResult(),
	}

	if !hasInitializeStep(scenario) {
		if err := b.Initialize(ctx); err != nil {
			return nil, fmt.Errorf("initialize: %w", err)
		}
	}

	for i, step := range scenario.Steps {
		if err := r.execute(ctx, i, step); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		if err := r.settle(ctx, i); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	r.result.HookValues = hooks.observed()
	if n := boot.Network(); n != nil {
		if rec, ok := n.Replica.Record(scenario.Component, scenario.Key); ok {
			r.result.Final = rec.Value.Clone()
		}
	}

	for _, msg := range EvaluateAssertions(r.result, scenario) {
		r.result.AddError(msg)
	}

	slog.Debug("scenario finished",
		"scenario", scenario.Name,
		"pass", r.result.Pass,
		"events", len(r.result.Trace),
	)
	return r.result, nil
}

func hasInitializeStep(s *Scenario) bool {
	for _, st := range s.Steps {
		if st.Initialize {
			return true
		}
	}
	return false
}

func (r *runner) execute(ctx context.Context, i int, step Step) error {
	switch {
	case step.Initialize:
		ev := TraceEvent{Type: EventInitialize, Step: i}
		if err := r.bridge.Initialize(ctx); err != nil {
			return err
		}
		r.result.Trace = append(r.result.Trace, ev)
	case step.Submit != nil:
		r.submit(ctx, i, step.Submit)
	case step.Write != nil:
		return r.write(ctx, i, step.Write)
	case step.Hook != "":
		r.bridge.SetHostHook(r.hooks.hook(step.Hook))
		r.result.Trace = append(r.result.Trace, TraceEvent{Type: EventSwap, Step: i, Hook: step.Hook})
	case step.Flush:
		// settle runs after every step.
	}
	return nil
}

func (r *runner) submit(ctx context.Context, i int, st *SubmitStep) {
	res, err := r.bridge.SubmitAction(ctx)
	if err != nil {
		code := host.ErrorCode(err)
		r.result.Trace = append(r.result.Trace, TraceEvent{Type: EventSubmit, Step: i, Code: code})
		switch {
		case st.ExpectError == "":
			r.result.AddError(fmt.Sprintf("steps[%d]: submit failed: %v", i, err))
		case st.ExpectError != code:
			r.result.AddError(fmt.Sprintf("steps[%d]: expected error %s, got %s", i, st.ExpectError, code))
		}
		return
	}

	ev := TraceEvent{Type: EventSubmit, Step: i, Block: res.Block, Tx: res.ID}
	n, isInt := res.Value.(ir.Int)
	if isInt {
		ev.Value = int64Ptr(int64(n))
	}
	r.result.Trace = append(r.result.Trace, ev)

	switch {
	case st.ExpectError != "":
		r.result.AddError(fmt.Sprintf("steps[%d]: expected error %s, submit succeeded", i, st.ExpectError))
	case st.Expect != nil && (!isInt || int64(n) != *st.Expect):
		r.result.AddError(fmt.Sprintf("steps[%d]: expected value %d, got %v", i, *st.Expect, res.Value))
	}
}

func (r *runner) write(ctx context.Context, i int, st *WriteStep) error {
	n := r.boot.Network()
	if n == nil {
		return errors.New("write before the network is up")
	}
	value, err := ir.ObjectFromGo(st.Value)
	if err != nil {
		return fmt.Errorf("write value: %w", err)
	}
	component := st.Component
	if component == "" {
		component = r.scenario.Component
	}

	upd, err := n.World.Set(ctx, component, st.Key, value)
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, settleWait)
	defer cancel()
	if err := n.Syncer.WaitFor(waitCtx, upd.Seq); err != nil {
		return fmt.Errorf("await sync: %w", err)
	}

	ev := TraceEvent{Type: EventWrite, Step: i, Component: component, Version: upd.Version, Block: upd.Block}
	if v, ok := upd.Value.Int(r.scenario.Field); ok {
		ev.Value = int64Ptr(v)
	}
	r.result.Trace = append(r.result.Trace, ev)
	return nil
}

// settle waits until every update produced so far has been delivered, then
// moves the hook calls and reported failures into the trace.
func (r *runner) settle(ctx context.Context, i int) error {
	sub := r.bridge.Subscription()
	if sub == nil {
		return nil
	}
	flushCtx, cancel := context.WithTimeout(ctx, settleWait)
	defer cancel()
	if err := sub.Flush(flushCtx); err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	r.result.Trace = append(r.result.Trace, r.hooks.drain(i)...)

	for {
		select {
		case err, ok := <-sub.Errors():
			if !ok {
				return nil
			}
			r.result.HookErrors++
			r.result.Trace = append(r.result.Trace, TraceEvent{Type: EventHookError, Step: i, Code: hookErrorCode(err)})
		default:
			return nil
		}
	}
}

func hookErrorCode(err error) string {
	if replica.IsHookPanic(err) {
		return "HOOK_PANIC"
	}
	return string(bridge.CodeHookFailed)
}

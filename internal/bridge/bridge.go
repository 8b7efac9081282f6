package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roach88/mudbridge/internal/ir"
	"github.com/roach88/mudbridge/internal/replica"
)

// DefaultComponent is the entity kind the bridge follows unless configured.
const DefaultComponent = "Counter"

// State is the bridge lifecycle state.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// ActionFunc submits the world's mutating action and returns its confirmed
// result.
type ActionFunc func(ctx context.Context) (ir.ActionResult, error)

// Components resolves a component name to its update stream.
type Components interface {
	UpdateStream(name string) (replica.Source, error)
}

// Setup is what a Bootstrapper produces.
type Setup struct {
	Components Components
	Action     ActionFunc
	// Network is passed to the Mounter untouched.
	Network any
	// Release, if set, undoes the setup. The bridge calls it when
	// Initialize fails after Setup has returned.
	Release func() error
}

// Bootstrapper performs network setup. The bridge calls it exactly once.
type Bootstrapper interface {
	Setup(ctx context.Context) (Setup, error)
}

// BootstrapFunc adapts a function to the Bootstrapper interface.
type BootstrapFunc func(ctx context.Context) (Setup, error)

// Setup calls f(ctx).
func (f BootstrapFunc) Setup(ctx context.Context) (Setup, error) {
	return f(ctx)
}

// Mounter attaches auxiliary tooling to the running network. Mount may block
// until ctx is cancelled.
type Mounter interface {
	Mount(ctx context.Context, network any) error
}

// MounterFunc adapts a function to the Mounter interface.
type MounterFunc func(ctx context.Context, network any) error

// Mount calls f(ctx, network).
func (f MounterFunc) Mount(ctx context.Context, network any) error {
	return f(ctx, network)
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithComponent sets the component whose updates are forwarded.
func WithComponent(name string) Option {
	return func(b *Bridge) {
		if name != "" {
			b.component = name
		}
	}
}

// WithHook installs the initial host hook.
func WithHook(h Hook) Option {
	return func(b *Bridge) {
		b.SetHostHook(h)
	}
}

// WithMounter sets the dev-tools mounter started by Initialize.
func WithMounter(m Mounter) Option {
	return func(b *Bridge) {
		b.mounter = m
	}
}

// WithErrorPolicy sets what the subscription does after a hook failure.
// The default is replica.ContinueOnError.
func WithErrorPolicy(p replica.ErrorPolicy) Option {
	return func(b *Bridge) {
		b.policy = p
	}
}

// Bridge connects one component's update stream to a host hook and exposes
// the world's action.
type Bridge struct {
	boot      Bootstrapper
	component string
	mounter   Mounter
	policy    replica.ErrorPolicy

	hook atomic.Pointer[hookBox]

	mu      sync.Mutex
	state   State
	action  ActionFunc
	sub     *replica.Subscription
	network any

	mountCancel context.CancelFunc
	mountDone   chan struct{}
}

// New creates an uninitialized bridge.
func New(boot Bootstrapper, opts ...Option) *Bridge {
	b := &Bridge{
		boot:      boot,
		component: DefaultComponent,
		policy:    replica.ContinueOnError,
	}
	b.hook.Store(&hookBox{hook: NopHook{}})
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Component returns the name of the followed component.
func (b *Bridge) Component() string {
	return b.component
}

// State returns the current lifecycle state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Subscription returns the active subscription, or nil before Ready.
func (b *Bridge) Subscription() *replica.Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sub
}

// Network returns the opaque network handle from bootstrap, or nil.
func (b *Bridge) Network() any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.network
}

// HookErrors returns the channel hook failures are reported on. It is nil
// before the bridge is ready.
func (b *Bridge) HookErrors() <-chan error {
	sub := b.Subscription()
	if sub == nil {
		return nil
	}
	return sub.Errors()
}

// Initialize bootstraps the network, subscribes to the component's updates
// and starts the mounter. It may be called once; later calls return an
// ALREADY_INITIALIZED error. A bootstrap failure leaves the bridge Failed.
func (b *Bridge) Initialize(ctx context.Context) error {
	b.mu.Lock()
	if b.state != StateUninitialized {
		state := b.state
		b.mu.Unlock()
		return &Error{Code: CodeAlreadyInitialized, Op: "initialize", Err: fmt.Errorf("bridge is %s", state)}
	}
	b.state = StateInitializing
	b.mu.Unlock()

	slog.Info("bridge initializing", "component", b.component)

	setup, err := b.boot.Setup(ctx)
	if err != nil {
		return b.failBootstrap(err)
	}
	if setup.Components == nil || setup.Action == nil {
		return b.failBootstrap(releaseSetup(setup, errors.New("setup returned no components or no action")))
	}

	src, err := setup.Components.UpdateStream(b.component)
	if err != nil {
		return b.failBootstrap(releaseSetup(setup, fmt.Errorf("resolve component: %w", err)))
	}
	sub, err := src.Subscribe(replica.ObserverFunc(b.onNotification),
		replica.WithErrorPolicy(b.policy),
		replica.WithName(b.component),
	)
	if err != nil {
		return b.failBootstrap(releaseSetup(setup, fmt.Errorf("subscribe: %w", err)))
	}

	b.mu.Lock()
	b.action = setup.Action
	b.sub = sub
	b.network = setup.Network
	b.state = StateReady
	if b.mounter != nil {
		b.startMount(ctx, setup.Network)
	}
	b.mu.Unlock()

	slog.Info("bridge ready", "component", b.component, "policy", b.policy.String())
	return nil
}

func (b *Bridge) failBootstrap(cause error) error {
	b.mu.Lock()
	b.state = StateFailed
	b.mu.Unlock()

	slog.Error("bridge bootstrap failed", "component", b.component, "error", cause)
	return &Error{Code: CodeBootstrapFailed, Op: "initialize", Err: cause}
}

// releaseSetup undoes a setup the bridge cannot use and returns cause,
// joined with any release error.
func releaseSetup(setup Setup, cause error) error {
	if setup.Release == nil {
		return cause
	}
	if err := setup.Release(); err != nil {
		return errors.Join(cause, fmt.Errorf("release setup: %w", err))
	}
	return cause
}

// startMount runs the mounter in the background. Callers hold b.mu.
func (b *Bridge) startMount(ctx context.Context, network any) {
	mountCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	b.mountCancel = cancel
	b.mountDone = done

	go func() {
		defer close(done)
		if err := b.mounter.Mount(mountCtx, network); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("dev tools mount failed", "error", err)
		}
	}()
}

// onNotification is the subscription observer: log the update, then hand it
// to whichever hook is current.
func (b *Bridge) onNotification(ctx context.Context, u ir.Update) error {
	slog.Info("component update",
		"component", u.Component,
		"key", u.Key,
		"version", u.Version,
		"block", u.Block,
		"seq", u.Seq,
		"value", u.Value,
	)

	hook := b.hook.Load().hook
	if err := hook.OnUpdate(ctx, u); err != nil {
		return &Error{Code: CodeHookFailed, Op: "deliver", Err: err}
	}
	return nil
}

// SubmitAction invokes the action obtained at bootstrap. Before the bridge
// is ready it returns a NOT_INITIALIZED error without invoking anything.
// Errors from the action itself are returned unchanged.
func (b *Bridge) SubmitAction(ctx context.Context) (ir.ActionResult, error) {
	b.mu.Lock()
	action := b.action
	b.mu.Unlock()

	if action == nil {
		return ir.ActionResult{}, &Error{Code: CodeNotInitialized, Op: "submit"}
	}

	res, err := action(ctx)
	if err != nil {
		slog.Warn("action failed", "error", err)
		return ir.ActionResult{}, err
	}

	slog.Info("action confirmed",
		"action", res.Action,
		"tx", res.ID,
		"block", res.Block,
		"value", res.Value,
	)
	return res, nil
}

// SetHostHook replaces the host hook. The new hook receives the next update
// delivered after the call; a nil hook restores NopHook.
func (b *Bridge) SetHostHook(h Hook) {
	if h == nil {
		h = NopHook{}
	}
	b.hook.Store(&hookBox{hook: h})
}

// Hook returns the current host hook.
func (b *Bridge) Hook() Hook {
	return b.hook.Load().hook
}

// Flush blocks until every update queued for the hook has been delivered.
// It returns nil before the bridge is ready.
func (b *Bridge) Flush(ctx context.Context) error {
	sub := b.Subscription()
	if sub == nil {
		return nil
	}
	return sub.Flush(ctx)
}

// Close stops delivery and the mounter, waiting for an in-flight hook call
// to return. Queued updates are discarded; call Flush first to deliver them.
// The bridge stays in its current state and the bootstrapped network is not
// closed. Close must not be called from the hook.
func (b *Bridge) Close() {
	b.mu.Lock()
	sub := b.sub
	cancel := b.mountCancel
	done := b.mountDone
	b.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
		<-sub.Done()
	}
	if cancel != nil {
		cancel()
		<-done
	}
}

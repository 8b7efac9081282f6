package bridge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mudbridge/internal/ir"
	"github.com/roach88/mudbridge/internal/replica"
)

// fakeComponents maps component names to plain streams.
type fakeComponents map[string]*replica.Stream

func (f fakeComponents) UpdateStream(name string) (replica.Source, error) {
	s, ok := f[name]
	if !ok {
		return nil, replica.ErrUnknownComponent
	}
	return s, nil
}

type fixture struct {
	stream  *replica.Stream
	calls    atomic.Int32
	boots    atomic.Int32
	released atomic.Int32
	action  ActionFunc
	network any
}

func newFixture() *fixture {
	f := &fixture{stream: replica.NewStream("Counter"), network: "net"}
	f.action = func(context.Context) (ir.ActionResult, error) {
		n := f.calls.Add(1)
		return ir.ActionResult{ID: "tx", Action: "increment", Value: ir.Int(int64(n))}, nil
	}
	return f
}

func (f *fixture) Setup(context.Context) (Setup, error) {
	f.boots.Add(1)
	return Setup{
		Components: fakeComponents{"Counter": f.stream},
		Action:     func(ctx context.Context) (ir.ActionResult, error) { return f.action(ctx) },
		Network:    f.network,
		Release:    func() error {
			f.released.Add(1)
			return nil
		},
	}, nil
}

// hookRecorder records values of the "value" field.
type hookRecorder struct {
	mu     sync.Mutex
	values []int64
}

func (r *hookRecorder) OnUpdate(_ context.Context, u ir.Update) error {
	v, _ := u.Value.Int("value")
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, v)
	return nil
}

func (r *hookRecorder) Values() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.values...)
}

func update(seq, value int64) ir.Update {
	return ir.Update{
		Component: "Counter",
		Key:       ir.SingletonKey,
		Value:     ir.Object{"value": ir.Int(value)},
		Version:   seq,
		Seq:       seq,
	}
}

func flushBridge(t *testing.T, b *Bridge) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.Subscription().Flush(ctx))
}

func readyBridge(t *testing.T, f *fixture, opts ...Option) *Bridge {
	t.Helper()
	b := New(f, opts...)
	require.NoError(t, b.Initialize(context.Background()))
	t.Cleanup(b.Close)
	return b
}

func TestNew_Defaults(t *testing.T) {
	b := New(newFixture())

	assert.Equal(t, StateUninitialized, b.State())
	assert.Equal(t, DefaultComponent, b.Component())
	assert.IsType(t, NopHook{}, b.Hook())
	assert.Nil(t, b.Subscription())
	assert.Nil(t, b.HookErrors())
}

func TestInitialize_Ready(t *testing.T) {
	f := newFixture()
	b := readyBridge(t, f)

	assert.Equal(t, StateReady, b.State())
	assert.Equal(t, 1, f.stream.SubscriberCount(), "exactly one subscription")
	assert.Equal(t, "net", b.Network())
	assert.NotNil(t, b.HookErrors())
}

func TestInitialize_SecondCallRejected(t *testing.T) {
	f := newFixture()
	b := readyBridge(t, f)

	err := b.Initialize(context.Background())
	require.Error(t, err)
	assert.True(t, IsAlreadyInitialized(err))
	assert.Equal(t, int32(1), f.boots.Load(), "bootstrap must run once")
	assert.Equal(t, 1, f.stream.SubscriberCount(), "no duplicate subscription")
}

func TestInitialize_BootstrapFailure(t *testing.T) {
	boom := errors.New("rpc unreachable")
	var boots atomic.Int32
	b := New(BootstrapFunc(func(context.Context) (Setup, error) {
		boots.Add(1)
		return Setup{}, boom
	}))

	err := b.Initialize(context.Background())
	require.Error(t, err)
	assert.True(t, IsBootstrapFailure(err))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateFailed, b.State())

	// No retry: a failed bridge stays failed.
	err = b.Initialize(context.Background())
	assert.True(t, IsAlreadyInitialized(err))
	assert.Equal(t, int32(1), boots.Load())

	_, err = b.SubmitAction(context.Background())
	assert.True(t, IsNotInitialized(err))
}

func TestInitialize_IncompleteSetup(t *testing.T) {
	b := New(BootstrapFunc(func(context.Context) (Setup, error) {
		return Setup{Components: fakeComponents{}}, nil
	}))

	err := b.Initialize(context.Background())
	assert.True(t, IsBootstrapFailure(err))
	assert.Equal(t, StateFailed, b.State())
}

func TestInitialize_UnknownComponent(t *testing.T) {
	f := newFixture()
	b := New(f, WithComponent("Health"))

	err := b.Initialize(context.Background())
	require.Error(t, err)
	assert.True(t, IsBootstrapFailure(err))
	assert.ErrorIs(t, err, replica.ErrUnknownComponent)
	assert.Equal(t, int32(1), f.released.Load())
}

func TestInitialize_ReleaseErrorJoined(t *testing.T) {
	releaseErr := errors.New("store busy")
	b := New(BootstrapFunc(func(context.Context) (Setup, error) {
		return Setup{
			Components: fakeComponents{},
			Action:     func(context.Context) (ir.ActionResult, error) { return ir.ActionResult{}, nil },
			Release:    func() error { return releaseErr },
		}, nil
	}))

	err := b.Initialize(context.Background())
	assert.True(t, IsBootstrapFailure(err))
	assert.ErrorIs(t, err, replica.ErrUnknownComponent)
	assert.ErrorIs(t, err, releaseErr)
}

func TestInitialize_ClosedStream(t *testing.T) {
	f := newFixture()
	f.stream.Close()
	b := New(f)

	err := b.Initialize(context.Background())
	assert.True(t, IsBootstrapFailure(err))
	assert.ErrorIs(t, err, replica.ErrStreamClosed)
	assert.Equal(t, int32(1), f.released.Load())
}

func TestSubmitAction_NotInitialized(t *testing.T) {
	f := newFixture()
	b := New(f)

	_, err := b.SubmitAction(context.Background())
	require.Error(t, err)
	assert.True(t, IsNotInitialized(err))
	assert.Equal(t, int32(0), f.calls.Load(), "invoker must not be called")
}

func TestSubmitAction_ReturnsResult(t *testing.T) {
	f := newFixture()
	b := readyBridge(t, f)

	res, err := b.SubmitAction(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ir.Int(1), res.Value)

	res, err = b.SubmitAction(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ir.Int(2), res.Value)
}

func TestSubmitAction_ErrorVerbatim(t *testing.T) {
	f := newFixture()
	reverted := errors.New("execution reverted")
	f.action = func(context.Context) (ir.ActionResult, error) {
		return ir.ActionResult{}, reverted
	}
	b := readyBridge(t, f)

	_, err := b.SubmitAction(context.Background())
	assert.Same(t, reverted, err)
}

func TestSubmitAction_DoesNotTouchHook(t *testing.T) {
	f := newFixture()
	var hookCalls atomic.Int32
	b := readyBridge(t, f, WithHook(HookFunc(func(context.Context, ir.Update) error {
		hookCalls.Add(1)
		return nil
	})))

	_, err := b.SubmitAction(context.Background())
	require.NoError(t, err)
	flushBridge(t, b)
	assert.Equal(t, int32(0), hookCalls.Load())
}

func TestDelivery_OrderedExactlyOnce(t *testing.T) {
	f := newFixture()
	rec := &hookRecorder{}
	b := readyBridge(t, f, WithHook(rec))

	for i := int64(1); i <= 100; i++ {
		f.stream.Emit(update(i, i))
	}
	flushBridge(t, b)

	values := rec.Values()
	require.Len(t, values, 100)
	for i, v := range values {
		assert.Equal(t, int64(i+1), v)
	}
}

func TestDelivery_DefaultHookIsNop(t *testing.T) {
	f := newFixture()
	b := readyBridge(t, f)

	f.stream.Emit(update(1, 1))
	flushBridge(t, b)

	assert.Equal(t, int64(1), b.Subscription().Delivered())
	assert.Empty(t, b.HookErrors())
}

func TestSetHostHook_AppliesToNextDelivery(t *testing.T) {
	f := newFixture()
	first := &hookRecorder{}
	second := &hookRecorder{}
	b := readyBridge(t, f, WithHook(first))

	f.stream.Emit(update(1, 1))
	flushBridge(t, b)

	b.SetHostHook(second)
	f.stream.Emit(update(2, 2))
	flushBridge(t, b)

	assert.Equal(t, []int64{1}, first.Values())
	assert.Equal(t, []int64{2}, second.Values())
}

func TestSetHostHook_FromInsideHook(t *testing.T) {
	f := newFixture()
	second := &hookRecorder{}
	var b *Bridge
	var firstCalls atomic.Int32
	b = readyBridge(t, f, WithHook(HookFunc(func(context.Context, ir.Update) error {
		firstCalls.Add(1)
		b.SetHostHook(second)
		return nil
	})))

	f.stream.Emit(update(1, 1))
	f.stream.Emit(update(2, 2))
	f.stream.Emit(update(3, 3))
	flushBridge(t, b)

	assert.Equal(t, int32(1), firstCalls.Load())
	assert.Equal(t, []int64{2, 3}, second.Values())
}

func TestSetHostHook_NilRestoresNop(t *testing.T) {
	b := New(newFixture(), WithHook(&hookRecorder{}))
	b.SetHostHook(nil)
	assert.IsType(t, NopHook{}, b.Hook())
}

func TestHookFailure_ReportedAndIsolated(t *testing.T) {
	f := newFixture()
	rec := &hookRecorder{}
	b := readyBridge(t, f, WithHook(HookFunc(func(ctx context.Context, u ir.Update) error {
		if u.Seq == 1 {
			return errors.New("host rejected update")
		}
		return rec.OnUpdate(ctx, u)
	})))

	f.stream.Emit(update(1, 1))
	f.stream.Emit(update(2, 2))
	flushBridge(t, b)

	select {
	case err := <-b.HookErrors():
		assert.True(t, IsHookFailure(err))
		assert.ErrorContains(t, err, "host rejected update")
	default:
		t.Fatal("hook failure was not reported")
	}
	assert.Equal(t, []int64{2}, rec.Values(), "delivery continues after a failure")
}

func TestHookPanic_ReportedAndIsolated(t *testing.T) {
	f := newFixture()
	rec := &hookRecorder{}
	b := readyBridge(t, f, WithHook(HookFunc(func(ctx context.Context, u ir.Update) error {
		if u.Seq == 1 {
			panic("engine crashed")
		}
		return rec.OnUpdate(ctx, u)
	})))

	f.stream.Emit(update(1, 1))
	f.stream.Emit(update(2, 2))
	flushBridge(t, b)

	err := <-b.HookErrors()
	assert.True(t, IsHookFailure(err))
	assert.Equal(t, []int64{2}, rec.Values())

	// Actions are unaffected by hook failures.
	res, err := b.SubmitAction(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ir.Int(1), res.Value)
}

func TestHookFailure_HaltPolicy(t *testing.T) {
	f := newFixture()
	var calls atomic.Int32
	b := readyBridge(t, f,
		WithErrorPolicy(replica.HaltOnError),
		WithHook(HookFunc(func(context.Context, ir.Update) error {
			calls.Add(1)
			return errors.New("fail")
		})),
	)

	f.stream.Emit(update(1, 1))
	f.stream.Emit(update(2, 2))
	flushBridge(t, b)

	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, b.Subscription().Halted())
}

func TestMount_ReceivesNetworkAndDoesNotBlock(t *testing.T) {
	f := newFixture()
	got := make(chan any, 1)
	b := readyBridge(t, f, WithMounter(MounterFunc(func(ctx context.Context, network any) error {
		got <- network
		<-ctx.Done()
		return ctx.Err()
	})))

	// Initialize returned while Mount is still blocked.
	assert.Equal(t, StateReady, b.State())
	select {
	case n := <-got:
		assert.Equal(t, "net", n)
	case <-time.After(5 * time.Second):
		t.Fatal("mounter was not started")
	}
}

func TestMount_FailureDoesNotAffectBridge(t *testing.T) {
	f := newFixture()
	mounted := make(chan struct{})
	b := readyBridge(t, f, WithMounter(MounterFunc(func(context.Context, any) error {
		close(mounted)
		return errors.New("port in use")
	})))

	<-mounted
	assert.Equal(t, StateReady, b.State())
	_, err := b.SubmitAction(context.Background())
	assert.NoError(t, err)
}

func TestClose_StopsDelivery(t *testing.T) {
	f := newFixture()
	rec := &hookRecorder{}
	b := New(f, WithHook(rec))
	require.NoError(t, b.Initialize(context.Background()))

	f.stream.Emit(update(1, 1))
	flushBridge(t, b)
	b.Close()
	b.Close()

	f.stream.Emit(update(2, 2))
	<-b.Subscription().Done()
	assert.Equal(t, []int64{1}, rec.Values())
	assert.Equal(t, 0, f.stream.SubscriberCount())
}

func TestClose_WaitsForInFlightHook(t *testing.T) {
	f := newFixture()
	entered := make(chan struct{})
	var returned atomic.Bool
	b := New(f, WithHook(HookFunc(func(context.Context, ir.Update) error {
		close(entered)
		time.Sleep(20 * time.Millisecond)
		returned.Store(true)
		return nil
	})))
	require.NoError(t, b.Initialize(context.Background()))

	f.stream.Emit(update(1, 1))
	<-entered
	b.Close()
	assert.True(t, returned.Load())
}

func TestFlush_DeliversQueuedUpdates(t *testing.T) {
	f := newFixture()
	rec := &hookRecorder{}
	b := readyBridge(t, f, WithHook(rec))

	for i := int64(1); i <= 20; i++ {
		f.stream.Emit(update(i, i))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.Flush(ctx))
	assert.Len(t, rec.Values(), 20)
}

func TestFlush_BeforeReady(t *testing.T) {
	b := New(newFixture())
	assert.NoError(t, b.Flush(context.Background()))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "State(9)", State(9).String())
}

func TestErrorFormat(t *testing.T) {
	err := &Error{Code: CodeNotInitialized, Op: "submit"}
	assert.Equal(t, "bridge submit: NOT_INITIALIZED", err.Error())

	wrapped := &Error{Code: CodeBootstrapFailed, Op: "initialize", Err: errors.New("boom")}
	assert.Equal(t, "bridge initialize: BOOTSTRAP_FAILED: boom", wrapped.Error())
	assert.False(t, IsHookFailure(wrapped))
}

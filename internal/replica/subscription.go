package replica

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/roach88/mudbridge/internal/ir"
)

const defaultErrorBuffer = 64

// SubscribeOption configures a Subscription.
type SubscribeOption func(*subscribeConfig)

type subscribeConfig struct {
	policy      ErrorPolicy
	errorBuffer int
	name        string
}

// WithErrorPolicy sets the failure policy. The default is ContinueOnError.
func WithErrorPolicy(p ErrorPolicy) SubscribeOption {
	return func(c *subscribeConfig) {
		c.policy = p
	}
}

// WithErrorBuffer sets the capacity of the Errors channel. Failures that do
// not fit are logged and dropped from the channel.
func WithErrorBuffer(n int) SubscribeOption {
	return func(c *subscribeConfig) {
		if n > 0 {
			c.errorBuffer = n
		}
	}
}

// WithName labels the subscription in logs.
func WithName(name string) SubscribeOption {
	return func(c *subscribeConfig) {
		c.name = name
	}
}

// Subscription delivers a stream's updates to one observer.
//
// Delivery happens on a single goroutine owned by the subscription: updates
// arrive in emit order and each observer call completes before the next
// starts.
type Subscription struct {
	stream *Stream
	obs    Observer
	cfg    subscribeConfig

	queue     *deliveryQueue
	errs      chan error
	delivered atomic.Int64
	failures  atomic.Int64
	halted    atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func newSubscription(stream *Stream, obs Observer, opts ...SubscribeOption) *Subscription {
	cfg := subscribeConfig{
		policy:      ContinueOnError,
		errorBuffer: defaultErrorBuffer,
		name:        stream.name,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Subscription{
		stream: stream,
		obs:    obs,
		cfg:    cfg,
		queue:  newDeliveryQueue(),
		errs:   make(chan error, cfg.errorBuffer),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Errors returns the channel observer failures are reported on. It is
// closed once the delivery goroutine exits.
func (s *Subscription) Errors() <-chan error {
	return s.errs
}

// Delivered returns how many updates the observer has been called with.
func (s *Subscription) Delivered() int64 {
	return s.delivered.Load()
}

// Failures returns how many deliveries failed.
func (s *Subscription) Failures() int64 {
	return s.failures.Load()
}

// Pending returns the number of queued, undelivered updates.
func (s *Subscription) Pending() int {
	return s.queue.Len()
}

// Halted reports whether HaltOnError stopped delivery.
func (s *Subscription) Halted() bool {
	return s.halted.Load()
}

// Policy returns the subscription's failure policy.
func (s *Subscription) Policy() ErrorPolicy {
	return s.cfg.policy
}

// Done is closed when the delivery goroutine has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Flush blocks until every update enqueued before the call has been
// delivered. Calling Flush from inside the observer blocks until ctx ends.
func (s *Subscription) Flush(ctx context.Context) error {
	barrier := make(chan struct{})
	if !s.queue.Enqueue(item{barrier: barrier}) {
		return ErrUnsubscribed
	}

	select {
	case <-barrier:
		if s.ctx.Err() != nil {
			return ErrUnsubscribed
		}
		return nil
	case <-s.done:
		return ErrUnsubscribed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unsubscribe stops delivery. Updates still queued are discarded and an
// observer call in progress runs to completion. Safe to call more than once
// and from inside the observer.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.stream.remove(s)
		s.cancel()
		s.queue.Close()
	})
}

func (s *Subscription) enqueue(u ir.Update) bool {
	return s.queue.Enqueue(item{update: u})
}

// run is the delivery loop. Only this goroutine calls the observer.
func (s *Subscription) run() {
	defer close(s.done)
	defer close(s.errs)
	defer s.queue.drain()

	slog.Debug("subscription started", "stream", s.cfg.name, "policy", s.cfg.policy.String())

	for {
		if s.ctx.Err() != nil {
			slog.Debug("subscription stopped", "stream", s.cfg.name, "delivered", s.delivered.Load())
			return
		}

		it, ok := s.queue.TryDequeue()
		if ok {
			s.handle(it)
			continue
		}

		select {
		case <-s.ctx.Done():
		case <-s.queue.Wait():
			// The signal channel is closed with the queue.
			if s.queue.Closed() && s.queue.Len() == 0 {
				return
			}
		}
	}
}

func (s *Subscription) handle(it item) {
	if it.barrier != nil {
		close(it.barrier)
		return
	}
	if s.halted.Load() {
		slog.Debug("update skipped: subscription halted",
			"stream", s.cfg.name,
			"seq", it.update.Seq,
		)
		return
	}

	err := s.deliver(it.update)
	s.delivered.Add(1)
	if err == nil {
		return
	}

	s.failures.Add(1)
	derr := &DeliveryError{Update: it.update, Err: err}
	slog.Error("observer failed",
		"stream", s.cfg.name,
		"component", it.update.Component,
		"key", it.update.Key,
		"version", it.update.Version,
		"seq", it.update.Seq,
		"error", err,
	)

	select {
	case s.errs <- derr:
	default:
		slog.Warn("observer failure not reported: error channel full",
			"stream", s.cfg.name,
			"seq", it.update.Seq,
		)
	}

	if s.cfg.policy == HaltOnError {
		s.halted.Store(true)
		slog.Warn("subscription halted after observer failure",
			"stream", s.cfg.name,
			"seq", it.update.Seq,
		)
	}
}

// deliver calls the observer, converting a panic into a HookPanicError.
func (s *Subscription) deliver(u ir.Update) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HookPanicError{Value: r, Seq: u.Seq, Stack: debug.Stack()}
		}
	}()

	if err := s.obs.Observe(s.ctx, u); err != nil {
		return fmt.Errorf("observe: %w", err)
	}
	return nil
}

package replica

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/mudbridge/internal/ir"
)

// Observer receives updates from a Subscription, one at a time.
type Observer interface {
	Observe(ctx context.Context, u ir.Update) error
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, u ir.Update) error

// Observe calls f(ctx, u).
func (f ObserverFunc) Observe(ctx context.Context, u ir.Update) error {
	return f(ctx, u)
}

// ErrorPolicy controls what a subscription does after its observer fails.
type ErrorPolicy int

const (
	// ContinueOnError reports the failure and keeps delivering.
	ContinueOnError ErrorPolicy = iota
	// HaltOnError reports the failure and stops delivering further updates.
	HaltOnError
)

func (p ErrorPolicy) String() string {
	switch p {
	case ContinueOnError:
		return "continue"
	case HaltOnError:
		return "halt"
	default:
		return fmt.Sprintf("ErrorPolicy(%d)", int(p))
	}
}

// ParseErrorPolicy parses "continue" or "halt".
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch s {
	case "", "continue":
		return ContinueOnError, nil
	case "halt":
		return HaltOnError, nil
	default:
		return 0, fmt.Errorf("unknown error policy %q (want continue or halt)", s)
	}
}

var (
	// ErrUnsubscribed is returned by operations on a stopped subscription.
	ErrUnsubscribed = errors.New("subscription stopped")

	// ErrStreamClosed is returned when subscribing to a closed stream.
	ErrStreamClosed = errors.New("stream closed")

	// ErrUnknownComponent is returned for components the world does not declare.
	ErrUnknownComponent = errors.New("unknown component")
)

// HookPanicError is reported when an observer panics during delivery.
type HookPanicError struct {
	Value any
	Seq   int64
	Stack []byte
}

func (e *HookPanicError) Error() string {
	return fmt.Sprintf("observer panicked at seq %d: %v", e.Seq, e.Value)
}

// IsHookPanic returns true if err is or wraps a *HookPanicError.
func IsHookPanic(err error) bool {
	var pe *HookPanicError
	return errors.As(err, &pe)
}

// DeliveryError wraps an observer failure with the update it failed on.
type DeliveryError struct {
	Update ir.Update
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %s v%d (seq %d): %v", e.Update.Identity(), e.Update.Version, e.Update.Seq, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

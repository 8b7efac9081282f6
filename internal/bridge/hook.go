package bridge

import (
	"context"

	"github.com/roach88/mudbridge/internal/ir"
)

// Hook is the host's single callback slot. OnUpdate is called once per
// update, never concurrently with itself, and must not block indefinitely.
type Hook interface {
	OnUpdate(ctx context.Context, u ir.Update) error
}

// HookFunc adapts a function to the Hook interface.
type HookFunc func(ctx context.Context, u ir.Update) error

// OnUpdate calls f(ctx, u).
func (f HookFunc) OnUpdate(ctx context.Context, u ir.Update) error {
	return f(ctx, u)
}

// NopHook ignores every update. It is the hook until the host installs one.
type NopHook struct{}

// OnUpdate does nothing.
func (NopHook) OnUpdate(context.Context, ir.Update) error {
	return nil
}

// hookBox lets an interface value live behind an atomic.Pointer.
type hookBox struct {
	hook Hook
}

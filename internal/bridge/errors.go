package bridge

import (
	"errors"
	"fmt"

	"github.com/roach88/mudbridge/internal/replica"
)

// Code categorizes bridge errors.
type Code string

const (
	// CodeBootstrapFailed indicates setup or subscription failed. The bridge
	// is left in StateFailed and does not retry.
	CodeBootstrapFailed Code = "BOOTSTRAP_FAILED"

	// CodeNotInitialized indicates SubmitAction was called before the bridge
	// became ready.
	CodeNotInitialized Code = "NOT_INITIALIZED"

	// CodeAlreadyInitialized indicates Initialize was called more than once.
	CodeAlreadyInitialized Code = "ALREADY_INITIALIZED"

	// CodeHookFailed indicates the host hook returned an error.
	CodeHookFailed Code = "HOOK_FAILED"
)

// Error is a bridge failure.
type Error struct {
	Code Code
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bridge %s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("bridge %s: %s", e.Op, e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func hasCode(err error, code Code) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Code == code
	}
	return false
}

// IsNotInitialized returns true if err is a NOT_INITIALIZED bridge error.
func IsNotInitialized(err error) bool {
	return hasCode(err, CodeNotInitialized)
}

// IsAlreadyInitialized returns true if err is an ALREADY_INITIALIZED bridge error.
func IsAlreadyInitialized(err error) bool {
	return hasCode(err, CodeAlreadyInitialized)
}

// IsBootstrapFailure returns true if err is a BOOTSTRAP_FAILED bridge error.
func IsBootstrapFailure(err error) bool {
	return hasCode(err, CodeBootstrapFailed)
}

// IsHookFailure returns true if err reports a failed host hook: an error it
// returned or a panic it raised.
func IsHookFailure(err error) bool {
	return hasCode(err, CodeHookFailed) || replica.IsHookPanic(err)
}

package world

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownAction is returned for actions the world does not declare.
	ErrUnknownAction = errors.New("unknown action")

	// ErrUnknownTable is returned when writing to an undeclared table.
	ErrUnknownTable = errors.New("unknown table")

	// ErrOutOfRange is returned when a write would overflow a field's type.
	ErrOutOfRange = errors.New("value out of range")

	// ErrInvalidValue is returned when a record value does not match its schema.
	ErrInvalidValue = errors.New("invalid value")
)

// TxError reports a transaction that reverted or could not be confirmed.
type TxError struct {
	ID     string
	Action string
	Block  int64
	Err    error
}

func (e *TxError) Error() string {
	return fmt.Sprintf("transaction %s (%s, block %d): %v", e.ID, e.Action, e.Block, e.Err)
}

func (e *TxError) Unwrap() error {
	return e.Err
}

// IsReverted returns true if err is a transaction rejected by its system,
// as opposed to a confirmation or storage failure.
func IsReverted(err error) bool {
	return errors.Is(err, ErrOutOfRange) || errors.Is(err, ErrInvalidValue)
}

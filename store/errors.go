package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an item doesn't exist, or a conditional
	// update/delete targeted an item that is gone.
	ErrNotFound = errors.New("denorm: item not found")

	// ErrAlreadyExists is returned when a conditional create finds the item present.
	ErrAlreadyExists = errors.New("denorm: item already exists")

	// ErrPreconditionFailed is returned when a write's condition does not hold.
	ErrPreconditionFailed = errors.New("denorm: precondition failed")

	// ErrInvalidDiscriminator is returned when an enum-like field carries an unrecognized value.
	ErrInvalidDiscriminator = errors.New("denorm: invalid discriminator value")

	// ErrTransactionConflict is returned when a transaction was cancelled for a reason
	// other than a failed condition (conflicting transaction, throttling).
	ErrTransactionConflict = errors.New("denorm: transaction conflict")

	// ErrInvalidTransaction is returned for empty, oversized or self-overlapping batches.
	ErrInvalidTransaction = errors.New("denorm: invalid transaction")

	// ErrInvalidCursor is returned when a pagination cursor cannot be decoded.
	ErrInvalidCursor = errors.New("denorm: invalid cursor")
)

// ReasonConditionalCheckFailed is the cancellation code of a failed directive condition.
const ReasonConditionalCheckFailed = "ConditionalCheckFailed"

// TransactionError reports which directive caused a transaction to be cancelled.
// Nothing in the batch was applied.
type TransactionError struct {
	// Index is the position of the failed directive in the batch.
	Index int

	// Label is the failed directive's label.
	Label string

	// Reason is the store's cancellation code.
	Reason string
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("denorm: transaction cancelled at directive %d (%s): %s", e.Index, e.Label, e.Reason)
}

// Unwrap maps the cancellation reason onto the package sentinels.
func (e *TransactionError) Unwrap() error {
	if e.Reason == ReasonConditionalCheckFailed {
		return ErrPreconditionFailed
	}
	return ErrTransactionConflict
}

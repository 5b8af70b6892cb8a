package verstore

import "errors"

// Errors returned by verstore. Most transaction failures are reported
// through TransactionResult rather than an error, since a failed
// prerequisite is an expected outcome, not an exceptional one.
var (
	// ErrResourceExhausted is returned when a blob cannot be grown any
	// further (the Behavior's AllocateZeroedPages refused a new blob, or
	// the blob's own 32-bit location space is full) and the transaction
	// that triggered the exhaustion could not be applied.
	ErrResourceExhausted = errors.New("verstore: resource exhausted")

	// ErrInvariantViolation names a failed internal consistency check. No
	// operation in this package returns it.
	ErrInvariantViolation = errors.New("verstore: invariant violation")

	// ErrClosed is returned by operations attempted after Storage.Close.
	ErrClosed = errors.New("verstore: storage is closed")

	// ErrInvalidInput is returned by NewStorage for malformed Options or a
	// nil Behavior.
	ErrInvalidInput = errors.New("verstore: invalid input")
)

// TransactionResult describes the outcome of applying a Transaction.
type TransactionResult int

const (
	// TransactionApplied means every prerequisite held and the
	// transaction's operations were applied, advancing the storage to a
	// new version.
	TransactionApplied TransactionResult = iota

	// TransactionAppliedWithNoEffect means the transaction validated but
	// every operation in it was a no-op against the current state (e.g.
	// deleting a subkey that is already absent); no new version was
	// created.
	TransactionAppliedWithNoEffect

	// TransactionFailedDueToInsufficientResources means the transaction
	// could not be applied because the blob ran out of space and
	// reallocation also failed (see ErrResourceExhausted).
	TransactionFailedDueToInsufficientResources

	// TransactionFailedPrerequisite means at least one Require* check in
	// the transaction did not hold against the storage's state at the time
	// ApplyTransaction ran, so nothing in the transaction was applied.
	TransactionFailedPrerequisite
)

func (r TransactionResult) String() string {
	switch r {
	case TransactionApplied:
		return "Applied"
	case TransactionAppliedWithNoEffect:
		return "AppliedWithNoEffect"
	case TransactionFailedDueToInsufficientResources:
		return "FailedDueToInsufficientResources"
	case TransactionFailedPrerequisite:
		return "FailedPrerequisite"
	default:
		return "Unknown"
	}
}

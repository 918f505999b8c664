package pool

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the pool's public API. Callers should branch
// on these with errors.Is rather than comparing error strings.
var (
	// ErrPoolClosed is returned by Borrow and AddObject once Close has run.
	ErrPoolClosed = errors.New("pool: closed")

	// ErrPoolExhausted is returned by Borrow when no instance is available
	// and the pool is configured not to block.
	ErrPoolExhausted = errors.New("pool: exhausted")

	// ErrBorrowTimeout is returned by Borrow when the wait deadline elapses
	// without an instance becoming available.
	ErrBorrowTimeout = errors.New("pool: borrow timed out")

	// ErrUnableToActivate wraps a factory.Activate failure on a freshly
	// created instance; the instance is destroyed and the create-counter
	// rolled back before this is returned.
	ErrUnableToActivate = errors.New("pool: unable to activate newly created object")

	// ErrUnableToValidate wraps a factory.Validate failure on a freshly
	// created instance.
	ErrUnableToValidate = errors.New("pool: unable to validate newly created object")

	// ErrNotOwned is returned by Return/Invalidate when the value is not
	// (or no longer) tracked by this pool: it was never handed out, or it
	// has already been invalidated or destroyed.
	ErrNotOwned = errors.New("pool: value not owned by this pool")

	// ErrNotAllocated is returned by Return when the matching wrapper is not
	// currently in the ALLOCATED state (double-return, or return of an
	// instance currently under maintenance).
	ErrNotAllocated = errors.New("pool: value is not currently allocated")

	// errValidationFailed and errStaleValidation are internal signals used
	// to unblock a borrower that preallocated an instance out from under
	// the evictor's idle-validation pass; they never escape the package.
	errValidationFailed = errors.New("pool: idle validation failed")
	errStaleValidation   = errors.New("pool: idle validation state changed unexpectedly")
)

// FactoryError wraps an error returned by one of the five factory
// operations, recording which operation failed so logs, the swallowed
// exception listener, and callers can discriminate failure sites.
type FactoryError struct {
	Op  string // "make", "destroy", "validate", "activate", or "passivate"
	Err error
}

func (e *FactoryError) Error() string {
	return fmt.Sprintf("pool: factory.%s failed: %v", e.Op, e.Err)
}

func (e *FactoryError) Unwrap() error { return e.Err }

func wrapFactoryErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &FactoryError{Op: op, Err: err}
}

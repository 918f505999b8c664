package pool

import "context"

// Factory is the user-supplied collaborator that creates, validates, and
// disposes of the values a Pool manages. All five methods must be safe for
// concurrent use; the pool guarantees that at most one Factory method is
// ever in flight for a given value at a time, but different values may be
// serviced concurrently by different goroutines.
//
// None of these methods are called while the pool holds a per-instance
// mutex, the idle deque's lock or the all-objects index lock: Make can be
// slow, and Destroy/Validate/Activate/Passivate may legitimately call back
// into the pool (e.g. to Return a different value) without risking
// deadlock. The evictor's sweep is the exception: it calls Make, Activate,
// Validate and Passivate while holding the pool's eviction lock, which
// only other evictor ticks take.
type Factory[T any] interface {
	// Make creates and returns a brand-new value. A non-nil error aborts
	// the borrow or maintenance operation that requested it; the pool's
	// create-counter reservation for the attempt is rolled back.
	Make(ctx context.Context) (T, error)

	// Destroy disposes of value permanently. The pool never reuses a value
	// after Destroy has been called on it. Errors are not propagated to
	// pool callers; they are reported through the swallowed-exception
	// listener, if one is configured.
	Destroy(ctx context.Context, value T) error

	// Validate reports whether value is still usable. It must not panic;
	// a false return marks value for destruction. The pool does not
	// recover panics from it.
	Validate(ctx context.Context, value T) bool

	// Activate prepares value for a borrower immediately before it is
	// handed out. A non-nil error causes value to be destroyed.
	Activate(ctx context.Context, value T) error

	// Passivate resets value immediately after a borrower returns it,
	// before it becomes eligible to be borrowed again. A non-nil error
	// causes value to be destroyed.
	Passivate(ctx context.Context, value T) error
}

// SwallowedExceptionListener receives errors that the pool deliberately
// does not propagate to a caller: destroy/passivate failures, and
// activation failures on instances being reused rather than freshly
// created. A false Validate result is not an error and is not reported.
type SwallowedExceptionListener func(err error)

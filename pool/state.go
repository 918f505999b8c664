package pool

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// objectState is the state of a single pooledObject. The full set mirrors
// the ten states a managed instance can occupy; the transitions are the
// pooledObject methods below.
type objectState int32

const (
	stateIdle objectState = iota
	stateAllocated
	stateEviction
	stateEvictionReturnToHead
	stateValidation
	stateValidationPreallocated
	stateValidationReturnToHead
	stateInvalid
	stateAbandoned
	stateReturning
)

func (s objectState) String() string {
	switch s {
	case stateIdle:
		return "IDLE"
	case stateAllocated:
		return "ALLOCATED"
	case stateEviction:
		return "EVICTION"
	case stateEvictionReturnToHead:
		return "EVICTION_RETURN_TO_HEAD"
	case stateValidation:
		return "VALIDATION"
	case stateValidationPreallocated:
		return "VALIDATION_PREALLOCATED"
	case stateValidationReturnToHead:
		return "VALIDATION_RETURN_TO_HEAD"
	case stateInvalid:
		return "INVALID"
	case stateAbandoned:
		return "ABANDONED"
	case stateReturning:
		return "RETURNING"
	default:
		return "UNKNOWN"
	}
}

// pooledObject is the per-instance wrapper: it carries the value the
// caller actually wants, the state machine guarding it, and the
// timestamps used by eviction and abandonment detection. prev/next are
// only ever touched by idleDeque under its own lock; they are not part of
// the state machine's invariants.
type pooledObject[T any] struct {
	id    uuid.UUID
	value T

	mu    sync.Mutex
	state objectState

	createTime     time.Time
	lastBorrowTime time.Time
	lastReturnTime time.Time
	lastUseTime    time.Time
	borrowedCount  uint64

	// deque linkage, guarded by the owning idleDeque's mutex, not mu.
	prev, next *pooledObject[T]
	inDeque    bool

	// validationDone exists only while state is one of the VALIDATION*
	// states; it lets a borrower that preallocated an in-flight
	// idle-validation (testOnBorrow racing the evictor's testWhileIdle)
	// learn the outcome without holding mu across the Factory.Validate
	// call. nil error means validation succeeded.
	validationDone chan error
}

func newPooledObject[T any](value T) *pooledObject[T] {
	now := time.Now()
	return &pooledObject[T]{
		id:             uuid.New(),
		value:          value,
		state:          stateIdle,
		createTime:     now,
		lastReturnTime: now,
		lastUseTime:    now,
	}
}

// allocate attempts to hand this instance to a borrower. It succeeds only
// from IDLE; an instance mid eviction-test is instead flipped to
// EVICTION_RETURN_TO_HEAD so the evictor puts it back in the right place,
// and the caller must retry against a different candidate.
func (p *pooledObject[T]) allocate() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case stateIdle:
		now := time.Now()
		p.state = stateAllocated
		p.lastBorrowTime = now
		p.lastUseTime = now
		p.borrowedCount++
		return true
	case stateEviction:
		p.state = stateEvictionReturnToHead
		return false
	case stateValidation:
		p.state = stateValidationReturnToHead
		return false
	default:
		return false
	}
}

// allocatePreallocated completes a borrow of an instance that was pulled
// out of idle-validation for testOnBorrow (VALIDATION_PREALLOCATED ->
// ALLOCATED). Called once Factory.Validate has succeeded.
func (p *pooledObject[T]) allocatePreallocated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != stateValidationPreallocated {
		return false
	}
	now := time.Now()
	p.state = stateAllocated
	p.lastBorrowTime = now
	p.lastUseTime = now
	p.borrowedCount++
	return true
}

// startEvictionTest marks this instance as under eviction testing. It
// only succeeds from IDLE.
func (p *pooledObject[T]) startEvictionTest() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != stateIdle {
		return false
	}
	p.state = stateEviction
	return true
}

// endEvictionTest concludes eviction testing. If a borrow raced with the
// test, the borrower has already taken the instance out of the deque and
// it must be pushed back to the head; otherwise it never left the deque
// and stays where it is.
//
// Returns true when the caller must re-insert at the head of deque.
func (p *pooledObject[T]) endEvictionTest() (returnToHead bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case stateEviction:
		p.state = stateIdle
		return false
	case stateEvictionReturnToHead:
		p.state = stateIdle
		return true
	default:
		// Destroyed or otherwise transitioned out from under the evictor;
		// nothing to do.
		return false
	}
}

// startIdleValidation moves an idle or eviction-tested instance into
// VALIDATION, used by the evictor's testWhileIdle pass. It installs the
// validationDone channel a racing testOnBorrow caller can wait on.
func (p *pooledObject[T]) startIdleValidation() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case stateIdle, stateEviction, stateEvictionReturnToHead:
		p.state = stateValidation
		p.validationDone = make(chan error, 1)
		return true
	default:
		return false
	}
}

// endIdleValidation concludes the evictor's validation pass for an
// instance nobody preallocated, mirroring endEvictionTest's
// head-of-deque signal.
func (p *pooledObject[T]) endIdleValidation(valid bool) (returnToHead bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case stateValidation:
		if valid {
			p.state = stateIdle
		} else {
			p.state = stateInvalid
		}
		p.validationDone = nil
		return false
	case stateValidationReturnToHead:
		if valid {
			p.state = stateIdle
		} else {
			p.state = stateInvalid
		}
		p.validationDone = nil
		return valid
	default:
		return false
	}
}

// preallocateDuringValidation pulls an instance out from under evictor
// validation for a borrower configured with testOnBorrow: the evictor's
// in-flight Factory.Validate call still decides the outcome, but
// ownership is reserved for this borrower. The returned channel receives
// the validation outcome (nil = success) exactly once.
func (p *pooledObject[T]) preallocateDuringValidation() (done chan error, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// validationDone is nil once the evictor has already reported its
	// outcome; the caller then falls back to allocate().
	if p.state != stateValidation || p.validationDone == nil {
		return nil, false
	}
	p.state = stateValidationPreallocated
	return p.validationDone, true
}

// finishPreallocatedValidation is called by the evictor once its
// Factory.Validate call for an instance that was pulled out from under it
// (VALIDATION_PREALLOCATED) returns. It completes the borrow on success or
// marks the instance INVALID on failure, and always wakes the waiting
// borrower exactly once.
func (p *pooledObject[T]) finishPreallocatedValidation(valid bool) {
	p.mu.Lock()
	done := p.validationDone
	p.validationDone = nil

	if p.state != stateValidationPreallocated {
		p.mu.Unlock()
		if done != nil {
			done <- errStaleValidation
		}
		return
	}

	if valid {
		now := time.Now()
		p.state = stateAllocated
		p.lastBorrowTime = now
		p.lastUseTime = now
		p.borrowedCount++
		p.mu.Unlock()
		if done != nil {
			done <- nil
		}
		return
	}

	p.state = stateInvalid
	p.mu.Unlock()
	if done != nil {
		done <- errValidationFailed
	}
}

// markReturning begins the return protocol; only valid from ALLOCATED.
func (p *pooledObject[T]) markReturning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != stateAllocated {
		return false
	}
	p.state = stateReturning
	return true
}

// deallocate completes the return protocol, making the instance eligible
// for idle storage again.
func (p *pooledObject[T]) deallocate() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != stateReturning {
		return false
	}
	p.state = stateIdle
	p.lastReturnTime = time.Now()
	return true
}

// markAbandoned transitions ALLOCATED -> ABANDONED if the instance has
// been idle (from the borrower's perspective) at least timeout. Returns
// true if the transition happened.
func (p *pooledObject[T]) markAbandoned(now time.Time, timeout time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != stateAllocated {
		return false
	}
	if now.Sub(p.lastUseTime) < timeout {
		return false
	}
	p.state = stateAbandoned
	return true
}

// markInvalid transitions the instance to INVALID unconditionally and
// reports the state it was in immediately beforehand, so the caller knows
// whether it needs to also unlink it from the idle deque.
func (p *pooledObject[T]) markInvalid() objectState {
	p.mu.Lock()
	defer p.mu.Unlock()

	prev := p.state
	p.state = stateInvalid
	return prev
}

func (p *pooledObject[T]) getState() objectState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *pooledObject[T]) idleMillis(now time.Time) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	last := p.lastReturnTime
	if p.state == stateAllocated {
		return 0
	}
	return now.Sub(last).Milliseconds()
}

func (p *pooledObject[T]) lastUse() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastUseTime
}

func (p *pooledObject[T]) markUsed() {
	p.mu.Lock()
	p.lastUseTime = time.Now()
	p.mu.Unlock()
}

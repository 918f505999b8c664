package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Pool is a generic, thread-safe object pool. T must be comparable: the
// pool uses the borrowed value itself as the key into its all-objects
// index. Pointer types (the common case for pooled resources) are
// comparable by identity, which is almost always what you want.
type Pool[T comparable] struct {
	factory Factory[T]
	config  *Config
	policy  EvictionPolicy

	allObjectsMu sync.RWMutex
	allObjects   map[T]*pooledObject[T]

	idle        *idleDeque[T]
	createCount atomic.Int64

	stats    *poolStats
	destroyQ *destroyQueue[T]

	evictMu sync.Mutex
	evictor evictorState[T]
	evictTask *timerTask

	abandonMu sync.Mutex

	swallowedMu       sync.RWMutex
	swallowedListener SwallowedExceptionListener

	closed    atomic.Bool
	closeOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a pool backed by factory and configured by cfg. A nil cfg
// uses every built-in default.
func New[T comparable](cfg *Config, factory Factory[T]) (*Pool[T], error) {
	if factory == nil {
		return nil, errors.New("pool: factory must not be nil")
	}
	if cfg == nil {
		cfg = newDefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &Pool[T]{
		factory:    factory,
		config:     cfg,
		policy:     DefaultEvictionPolicy{},
		allObjects: make(map[T]*pooledObject[T]),
		idle:       newIdleDeque[T](),
		stats:      newPoolStats(),
		ctx:        ctx,
		cancel:     cancel,
	}

	p.destroyQ = newDestroyQueue[T](64, p.runDestroy)

	if cfg.timeBetweenEvictionRuns > 0 {
		p.evictTask = sharedTimer.register(cfg.timeBetweenEvictionRuns, p.evictTick)
	}

	if p.config.minIdle > 0 {
		p.ensureIdle(p.config.minIdle, true)
	}

	return p, nil
}

func (p *Pool[T]) evictTick() {
	p.evictMu.Lock()
	defer p.evictMu.Unlock()

	if p.closed.Load() {
		return
	}
	p.runEvictionSweep()
}

// Borrow hands out an instance, creating one if capacity allows and none
// is idle. A zero timeout uses the configured MaxWait; otherwise a
// negative timeout waits forever and a positive one bounds the wait. ctx
// cancellation aborts a blocking wait early with ctx.Err().
func (p *Pool[T]) Borrow(ctx context.Context, timeout time.Duration) (T, error) {
	var zero T

	if p.closed.Load() {
		return zero, ErrPoolClosed
	}

	p.maybeRunAbandonmentOnBorrow()

	for {
		cand := p.idle.pollFront()
		created := false

		if cand == nil {
			var err error
			cand, err = p.create(ctx)
			if err != nil {
				return zero, err
			}
			if cand != nil {
				created = true
			}
		}

		if cand == nil {
			if !p.config.blockWhenExhausted {
				return zero, ErrPoolExhausted
			}

			waitTimeout := timeout
			if waitTimeout == 0 {
				waitTimeout = p.config.maxWait
			}

			var ok bool
			cand, ok = p.takeWithContext(ctx, waitTimeout)
			if !ok {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return zero, ctxErr
				}
				if p.closed.Load() {
					return zero, ErrPoolClosed
				}
				return zero, ErrBorrowTimeout
			}
		}

		value, err, retry := p.finishBorrow(ctx, cand, created)
		if retry {
			continue
		}
		if err != nil {
			return zero, err
		}
		p.stats.recordBorrow()
		return value, nil
	}
}

// takeWithContext blocks on the idle deque but also honors ctx
// cancellation, racing the two: if ctx can never be cancelled (its Done
// channel is nil) this degrades to a plain takeFirstWithTimeout.
func (p *Pool[T]) takeWithContext(ctx context.Context, timeout time.Duration) (*pooledObject[T], bool) {
	if ctx.Done() == nil {
		return p.idle.takeFirstWithTimeout(timeout)
	}

	type result struct {
		p  *pooledObject[T]
		ok bool
	}
	resCh := make(chan result, 1)
	go func() {
		cand, ok := p.idle.takeFirstWithTimeout(timeout)
		resCh <- result{cand, ok}
	}()

	select {
	case r := <-resCh:
		return r.p, r.ok
	case <-ctx.Done():
		// The background take may still succeed after we give up; if it
		// does, push the instance back so it isn't lost.
		go func() {
			r := <-resCh
			if r.ok && r.p != nil {
				p.pushIdle(r.p)
			}
		}()
		return nil, false
	}
}

// finishBorrow runs the allocate/activate/validate protocol for a
// candidate obtained from the idle deque or from create(). retry==true
// means the caller should loop and try another candidate; it is never
// true together with a non-nil error.
func (p *Pool[T]) finishBorrow(ctx context.Context, cand *pooledObject[T], created bool) (value T, err error, retry bool) {
	var zero T

	if !created {
		if cand.getState() == stateValidation {
			if done, ok := cand.preallocateDuringValidation(); ok {
				verr := <-done
				if verr != nil {
					p.destroyWrapper(ctx, cand, false)
					return zero, nil, true
				}
				return p.completeBorrow(ctx, cand, false)
			}
		}

		if !cand.allocate() {
			return zero, nil, true
		}
	}

	return p.completeBorrow(ctx, cand, created)
}

func (p *Pool[T]) completeBorrow(ctx context.Context, cand *pooledObject[T], created bool) (value T, err error, retry bool) {
	var zero T

	if aerr := p.factory.Activate(ctx, cand.value); aerr != nil {
		p.removeFromAllObjects(cand)
		p.destroyWrapper(ctx, cand, false)
		if created {
			return zero, fmt.Errorf("%w: %w", ErrUnableToActivate, wrapFactoryErr("activate", aerr)), false
		}
		p.reportSwallowed(wrapFactoryErr("activate", aerr))
		return zero, nil, true
	}

	needsValidate := p.config.testOnBorrow || (created && p.config.testOnCreate)
	if needsValidate {
		if !p.factory.Validate(ctx, cand.value) {
			p.removeFromAllObjects(cand)
			p.destroyWrapper(ctx, cand, false)
			if created {
				return zero, ErrUnableToValidate, false
			}
			p.stats.recordDestroyedByBorrowValidation()
			return zero, nil, true
		}
	}

	return cand.value, nil, false
}

// create reserves capacity and asks the factory for a brand-new
// instance. It returns (nil, nil) when the pool is at maxTotal capacity
// rather than an error: the caller is expected to fall back to
// blocking/exhausted handling.
func (p *Pool[T]) create(ctx context.Context) (*pooledObject[T], error) {
	if p.config.maxTotal >= 0 {
		n := p.createCount.Add(1)
		if n > int64(p.config.maxTotal) {
			p.createCount.Add(-1)
			return nil, nil
		}
	} else {
		p.createCount.Add(1)
	}

	value, err := p.factory.Make(ctx)
	if err != nil {
		p.createCount.Add(-1)
		return nil, wrapFactoryErr("make", err)
	}

	obj := newPooledObject(value)
	// allocate() immediately so the caller owns it without a second
	// compare-and-swap against a concurrent evictor that cannot possibly
	// have seen this brand-new, not-yet-indexed instance yet.
	obj.state = stateAllocated
	now := time.Now()
	obj.lastBorrowTime = now
	obj.lastUseTime = now
	obj.borrowedCount = 1

	p.allObjectsMu.Lock()
	p.allObjects[value] = obj
	p.allObjectsMu.Unlock()

	p.stats.recordCreate()
	return obj, nil
}

// Return gives value back to the pool.
func (p *Pool[T]) Return(ctx context.Context, value T) error {
	obj := p.lookup(value)
	if obj == nil {
		if p.config.abandonmentEnabled() {
			return nil
		}
		return ErrNotOwned
	}

	if !obj.markReturning() {
		if obj.getState() == stateAbandoned && p.config.abandonmentEnabled() {
			return nil
		}
		return ErrNotAllocated
	}

	if p.config.testOnReturn {
		if !p.factory.Validate(ctx, value) {
			p.removeFromAllObjects(obj)
			p.destroyWrapper(ctx, obj, false)
			p.ensureIdle(1, false)
			p.stats.recordReturn()
			return nil
		}
	}

	if perr := p.factory.Passivate(ctx, value); perr != nil {
		p.reportSwallowed(wrapFactoryErr("passivate", perr))
		p.removeFromAllObjects(obj)
		p.destroyWrapper(ctx, obj, false)
		p.ensureIdle(1, false)
		p.stats.recordReturn()
		return nil
	}

	obj.deallocate()

	if p.closed.Load() || (p.config.maxIdle >= 0 && p.idle.len() >= p.config.maxIdle) {
		p.removeFromAllObjects(obj)
		p.destroyWrapper(ctx, obj, false)
		p.stats.recordReturn()
		return nil
	}

	p.pushIdle(obj)
	p.stats.recordReturn()
	return nil
}

// Invalidate removes value from the pool at once and queues it for
// Factory.Destroy on the pool's destroy goroutine.
func (p *Pool[T]) Invalidate(ctx context.Context, value T) error {
	obj := p.lookup(value)
	if obj == nil {
		return ErrNotOwned
	}

	prev := obj.markInvalid()
	if prev == stateInvalid {
		return nil
	}

	p.removeFromAllObjects(obj)
	if prev == stateIdle || prev == stateEviction || prev == stateValidation ||
		prev == stateEvictionReturnToHead || prev == stateValidationReturnToHead {
		p.idle.remove(obj)
	}

	p.destroyQ.enqueue(ctx, obj)
	p.ensureIdle(1, false)
	return nil
}

// AddObject creates a fresh instance and pushes it directly to idle,
// without ever allocating it to a caller (make -> passivate -> idle).
func (p *Pool[T]) AddObject(ctx context.Context) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}

	obj, err := p.create(ctx)
	if err != nil {
		return err
	}
	if obj == nil {
		return ErrPoolExhausted
	}

	if perr := p.factory.Passivate(ctx, obj.value); perr != nil {
		p.reportSwallowed(wrapFactoryErr("passivate", perr))
		p.removeFromAllObjects(obj)
		p.destroyWrapper(ctx, obj, false)
		return nil
	}

	obj.markReturning()
	obj.deallocate()
	p.pushIdle(obj)
	return nil
}

// Clear destroys every currently idle instance.
func (p *Pool[T]) Clear() {
	ctx := context.Background()
	for _, obj := range p.idle.drain() {
		p.removeFromAllObjects(obj)
		p.destroyWrapper(ctx, obj, false)
	}
}

// Close shuts the pool down: it stops the evictor, drains the idle
// deque, and wakes every blocked Borrow with ErrPoolClosed. Close is
// idempotent.
func (p *Pool[T]) Close() error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)

		if p.evictTask != nil {
			sharedTimer.unregister(p.evictTask)
		}

		p.Clear()
		p.idle.interruptTakers()
		p.destroyQ.close()
		p.cancel()
	})
	return nil
}

// ensureIdle creates and pushes fresh instances until the idle deque
// holds at least target, or capacity is exhausted. If !always and
// nothing is currently waiting on a borrow, it is a no-op.
func (p *Pool[T]) ensureIdle(target int, always bool) {
	if target <= 0 {
		return
	}
	if !always && p.idle.numWaiters() == 0 {
		return
	}

	ctx := context.Background()
	for p.idle.len() < target {
		obj, err := p.create(ctx)
		if err != nil || obj == nil {
			return
		}
		if perr := p.factory.Passivate(ctx, obj.value); perr != nil {
			p.reportSwallowed(wrapFactoryErr("passivate", perr))
			p.removeFromAllObjects(obj)
			p.destroyWrapper(ctx, obj, false)
			continue
		}
		obj.markReturning()
		obj.deallocate()
		p.pushIdle(obj)
	}
}

// pushIdle inserts obj into the idle deque at the end dictated by the
// LIFO/FIFO borrow policy: LIFO pushes to the front so the next
// non-blocking Borrow (which always pops the front) gets the
// most-recently-returned instance; FIFO pushes to the back so Borrow
// gets the least-recently-returned one.
func (p *Pool[T]) pushIdle(obj *pooledObject[T]) {
	if p.config.lifo {
		p.idle.pushFront(obj)
	} else {
		p.idle.pushBack(obj)
	}
}

func (p *Pool[T]) lookup(value T) *pooledObject[T] {
	p.allObjectsMu.RLock()
	defer p.allObjectsMu.RUnlock()
	return p.allObjects[value]
}

// removeFromAllObjects drops obj from the all-objects index and, if it was
// still indexed, gives its create-counter slot back.
func (p *Pool[T]) removeFromAllObjects(obj *pooledObject[T]) {
	p.allObjectsMu.Lock()
	cur, ok := p.allObjects[obj.value]
	removed := ok && cur == obj
	if removed {
		delete(p.allObjects, obj.value)
	}
	p.allObjectsMu.Unlock()
	if removed {
		p.createCount.Add(-1)
	}
}

// destroyWrapper marks obj INVALID (if not already), unlinks it from the
// idle deque if present, and queues it for asynchronous Factory.Destroy.
// The trailing bool is ignored; callers record their own stats event
// (evicted, abandoned, ...) for the destroy.
func (p *Pool[T]) destroyWrapper(ctx context.Context, obj *pooledObject[T], _ bool) {
	obj.markInvalid()
	p.idle.remove(obj)
	p.destroyQ.enqueue(ctx, obj)
}

// destroySwallowed reports a factory failure that occurred while the
// pool already held obj out of the idle deque (evictor testWhileIdle) and
// then destroys it the same way destroyWrapper does.
func (p *Pool[T]) destroySwallowed(ctx context.Context, obj *pooledObject[T], op string, cause error) {
	p.reportSwallowed(wrapFactoryErr(op, cause))
	p.removeFromAllObjects(obj)
	p.destroyWrapper(ctx, obj, true)
	p.stats.recordEvicted()
}

func (p *Pool[T]) runDestroy(obj *pooledObject[T]) {
	if err := p.factory.Destroy(p.ctx, obj.value); err != nil {
		p.reportSwallowed(wrapFactoryErr("destroy", err))
	}
	p.stats.recordDestroy()
}

// SetSwallowedExceptionListener registers a callback invoked whenever the
// pool swallows a factory error (destroy/passivate failures, and
// activation failures on reused instances). A false Validate result is
// not an error and is not reported.
func (p *Pool[T]) SetSwallowedExceptionListener(l SwallowedExceptionListener) {
	p.swallowedMu.Lock()
	p.swallowedListener = l
	p.swallowedMu.Unlock()
}

func (p *Pool[T]) reportSwallowed(err error) {
	p.logf(logrus.WarnLevel, logrus.Fields{}, "swallowed factory error: %v", err)

	p.swallowedMu.RLock()
	l := p.swallowedListener
	p.swallowedMu.RUnlock()
	if l != nil {
		l(err)
	}
}

func (p *Pool[T]) numActive() int {
	p.allObjectsMu.RLock()
	defer p.allObjectsMu.RUnlock()
	return len(p.allObjects) - p.idle.len()
}

// NumIdle reports how many instances are currently idle (including ones
// transiently under eviction/validation testing).
func (p *Pool[T]) NumIdle() int { return p.idle.len() }

// NumActive reports how many instances are currently allocated to a
// borrower.
func (p *Pool[T]) NumActive() int { return p.numActive() }

// NumWaiters reports how many Borrow calls are currently blocked waiting
// for an instance.
func (p *Pool[T]) NumWaiters() int { return p.idle.numWaiters() }

// Stats returns a point-in-time snapshot of the pool's counters.
func (p *Pool[T]) Stats() PoolStatsSnapshot {
	return p.stats.snapshot(p.NumIdle(), p.NumActive(), p.NumWaiters())
}

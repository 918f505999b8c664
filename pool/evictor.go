package pool

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// evictorState is the persistent, single-goroutine iterator position: each
// tick resumes where the previous one left off instead of restarting from
// the beginning of the idle set every time.
type evictorState[T any] struct {
	lastVisited *pooledObject[T]
}

// numTests computes how many idle candidates a single evictor sweep
// should examine.
func numTests(configured, idleSize int) int {
	if idleSize <= 0 {
		return 0
	}
	if configured >= 0 {
		if configured < idleSize {
			return configured
		}
		return idleSize
	}
	k := -configured
	if k <= 0 {
		return idleSize
	}
	n := (idleSize + k - 1) / k
	if n > idleSize {
		n = idleSize
	}
	return n
}

// orderedForEviction returns the idle snapshot in oldest-idle-first
// order. Under LIFO, Return pushes to the front, so the front holds the
// newest instances and the tail the oldest: the evictor must walk the
// snapshot tail-to-head. Under FIFO, Return pushes to the back, so the
// natural head-to-tail order is already oldest-first.
func orderedForEviction[T any](snapshot []*pooledObject[T], lifo bool) []*pooledObject[T] {
	if !lifo {
		return snapshot
	}
	reversed := make([]*pooledObject[T], len(snapshot))
	for i, p := range snapshot {
		reversed[len(snapshot)-1-i] = p
	}
	return reversed
}

// runEvictionSweep performs one evictor tick: test up to numTests idle
// candidates against the eviction policy (and, if testWhileIdle,
// revalidate survivors), then refill to minIdle. It never calls a
// Factory method while holding a per-instance mutex or the idle deque's
// lock; activate/validate/passivate/destroy all happen between
// state-machine transitions. The caller (evictTick) holds evictMu for the
// whole sweep, factory calls included.
func (p *Pool[T]) runEvictionSweep() {
	ctx := context.Background()

	ordered := orderedForEviction(p.idle.snapshot(), p.config.lifo)
	idleSize := len(ordered)
	n := numTests(p.config.numTestsPerEvictionRun, idleSize)
	if n == 0 {
		p.maybeRunAbandonmentSweep()
		p.ensureIdle(p.config.minIdle, true)
		return
	}

	start := 0
	if p.evictor.lastVisited != nil {
		for i, cand := range ordered {
			if cand == p.evictor.lastVisited {
				start = i + 1
				break
			}
		}
	}

	tested := 0
	visited := 0
	i := start
	// At most one full loop over the snapshot per sweep.
	for tested < n && visited < len(ordered) {
		if i >= len(ordered) {
			i = 0
		}
		cand := ordered[i]
		i++
		visited++

		if !cand.startEvictionTest() {
			// Borrowed mid-scan, or already under another maintenance
			// operation; this slot doesn't count against the budget.
			continue
		}

		p.evictor.lastVisited = cand
		tested++
		p.evictCandidate(ctx, cand)
	}

	p.maybeRunAbandonmentSweep()
	p.ensureIdle(p.config.minIdle, true)
}

func (p *Pool[T]) evictCandidate(ctx context.Context, cand *pooledObject[T]) {
	now := time.Now()
	idleMillis := cand.idleMillis(now)
	idleCount := p.idle.len()

	cfg := EvictionConfig{
		IdleEvictTime:     p.config.minEvictableIdleTime,
		IdleSoftEvictTime: p.config.softMinEvictableIdleTime,
		MinIdle:           p.config.minIdle,
	}

	if p.policy.Evict(cfg, idleMillis, idleCount) {
		returnToHead := cand.endEvictionTest()
		if returnToHead {
			p.idle.pushFront(cand)
		}
		p.removeFromAllObjects(cand)
		p.destroyWrapper(ctx, cand, true)
		p.stats.recordEvicted()
		p.logf(logrus.DebugLevel, logrus.Fields{"id": cand.id}, "evictor destroyed idle instance after %dms idle", idleMillis)
		return
	}

	if !p.config.testWhileIdle {
		// Unless a borrower pulled it out mid-test, the candidate never
		// left the idle deque and keeps its position there.
		returnToHead := cand.endEvictionTest()
		if returnToHead {
			p.idle.pushFront(cand)
		}
		return
	}

	p.runIdleValidation(ctx, cand)
}

func (p *Pool[T]) runIdleValidation(ctx context.Context, cand *pooledObject[T]) {
	// startEvictionTest left state EVICTION/EVICTION_RETURN_TO_HEAD; move
	// into VALIDATION so a racing testOnBorrow caller can preallocate it.
	if !cand.startIdleValidation() {
		return
	}

	if err := p.factory.Activate(ctx, cand.value); err != nil {
		cand.finishPreallocatedValidation(false)
		p.destroySwallowed(ctx, cand, "activate", err)
		return
	}

	valid := p.factory.Validate(ctx, cand.value)

	if !valid {
		if err := p.factory.Passivate(ctx, cand.value); err != nil {
			p.reportSwallowed(wrapFactoryErr("passivate", err))
		}
	} else {
		if err := p.factory.Passivate(ctx, cand.value); err != nil {
			valid = false
			p.reportSwallowed(wrapFactoryErr("passivate", err))
		}
	}

	cand.finishPreallocatedValidation(valid)

	if !valid {
		p.removeFromAllObjects(cand)
		p.destroyWrapper(ctx, cand, true)
		p.stats.recordEvicted()
		return
	}

	returnToHead := cand.endIdleValidation(true)
	switch cand.getState() {
	case stateIdle:
		// As in evictCandidate: only a candidate a borrower pulled out
		// needs reinserting.
		if returnToHead {
			p.idle.pushFront(cand)
		}
	case stateAllocated:
		// A borrower preallocated it while validation was in flight;
		// finishPreallocatedValidation already handed it off, nothing to
		// reinsert.
	}
}

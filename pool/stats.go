package pool

import (
	"sync"
	"sync/atomic"
	"time"
)

// poolStats holds the pool's running counters. The hot-path fields are
// atomics so Borrow/Return never contend on a lock just to update a
// counter; the few derived/time fields that need to be read and written
// together are guarded by mu.
type poolStats struct {
	mu sync.RWMutex

	createdCount   atomic.Uint64
	destroyedCount atomic.Uint64
	totalBorrows   atomic.Uint64
	totalReturns   atomic.Uint64
	abandonedCount atomic.Uint64
	evictedCount   atomic.Uint64

	destroyedByBorrowValidationCount atomic.Uint64

	lastBorrowTime time.Time
	lastReturnTime time.Time
}

// PoolStatsSnapshot is a point-in-time copy of the pool's counters,
// returned by Pool.Stats.
type PoolStatsSnapshot struct {
	CreatedCount   uint64
	DestroyedCount uint64
	TotalBorrows   uint64
	TotalReturns   uint64
	AbandonedCount uint64
	EvictedCount   uint64

	DestroyedByBorrowValidationCount uint64

	NumIdle    int
	NumActive  int
	NumWaiters int

	LastBorrowTime time.Time
	LastReturnTime time.Time
}

func newPoolStats() *poolStats {
	return &poolStats{}
}

func (s *poolStats) recordCreate() {
	s.createdCount.Add(1)
}

func (s *poolStats) recordDestroy() {
	s.destroyedCount.Add(1)
}

func (s *poolStats) recordBorrow() {
	s.totalBorrows.Add(1)
	s.mu.Lock()
	s.lastBorrowTime = time.Now()
	s.mu.Unlock()
}

func (s *poolStats) recordReturn() {
	s.totalReturns.Add(1)
	s.mu.Lock()
	s.lastReturnTime = time.Now()
	s.mu.Unlock()
}

func (s *poolStats) recordAbandoned() {
	s.abandonedCount.Add(1)
}

func (s *poolStats) recordEvicted() {
	s.evictedCount.Add(1)
}

func (s *poolStats) recordDestroyedByBorrowValidation() {
	s.destroyedByBorrowValidationCount.Add(1)
}

func (s *poolStats) snapshot(numIdle, numActive, numWaiters int) PoolStatsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return PoolStatsSnapshot{
		CreatedCount:                      s.createdCount.Load(),
		DestroyedCount:                    s.destroyedCount.Load(),
		TotalBorrows:                      s.totalBorrows.Load(),
		TotalReturns:                      s.totalReturns.Load(),
		AbandonedCount:                    s.abandonedCount.Load(),
		EvictedCount:                      s.evictedCount.Load(),
		DestroyedByBorrowValidationCount:  s.destroyedByBorrowValidationCount.Load(),
		NumIdle:                           numIdle,
		NumActive:                         numActive,
		NumWaiters:                        numWaiters,
		LastBorrowTime:                    s.lastBorrowTime,
		LastReturnTime:                    s.lastReturnTime,
	}
}

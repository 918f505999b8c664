package pool_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/AlexsanderHamir/objpool/pool"
)

// widget is the reusable resource handed out by fakeFactory in tests: a
// pointer type so it satisfies Pool's comparable identity-keyed index.
type widget struct {
	id        int
	activated int
	validated int
	destroyed bool
}

// fakeFactory is a Factory[*widget] with knobs for every failure mode the
// pool's borrow/return/eviction protocols need to exercise, plus counters
// so tests can assert on exactly how many times each operation ran.
type fakeFactory struct {
	mu sync.Mutex

	nextID int

	makeErr           error
	activateErr       error
	passivateErr      error
	validateSequence  []bool // consumed in order; once exhausted, validate always succeeds
	validateCallCount int

	makeCount      atomic.Int64
	destroyCount   atomic.Int64
	activateCount  atomic.Int64
	passivateCount atomic.Int64
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{}
}

func (f *fakeFactory) Make(ctx context.Context) (*widget, error) {
	f.makeCount.Add(1)
	if f.makeErr != nil {
		return nil, f.makeErr
	}
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.mu.Unlock()
	return &widget{id: id}, nil
}

func (f *fakeFactory) Destroy(ctx context.Context, w *widget) error {
	f.destroyCount.Add(1)
	w.destroyed = true
	return nil
}

func (f *fakeFactory) Validate(ctx context.Context, w *widget) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.validateCallCount++
	w.validated++

	if len(f.validateSequence) == 0 {
		return true
	}
	next := f.validateSequence[0]
	f.validateSequence = f.validateSequence[1:]
	return next
}

func (f *fakeFactory) Activate(ctx context.Context, w *widget) error {
	f.activateCount.Add(1)
	if f.activateErr != nil {
		return f.activateErr
	}
	w.activated++
	return nil
}

func (f *fakeFactory) Passivate(ctx context.Context, w *widget) error {
	f.passivateCount.Add(1)
	return f.passivateErr
}

var errFakeMake = fmt.Errorf("fakeFactory: make failed")

var _ pool.Factory[*widget] = (*fakeFactory)(nil)

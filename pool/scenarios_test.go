package pool_test

import (
	"context"
	"testing"
	"time"

	"github.com/AlexsanderHamir/objpool/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A single borrower holding the pool's only instance blocks later
// borrowers in the order they started waiting; the first waiter is
// served as soon as the instance comes back.
func TestFIFOFairnessAmongBlockedBorrowers(t *testing.T) {
	factory := newFakeFactory()
	cfg, err := pool.NewConfigBuilder().
		SetMaxTotal(1).
		SetBlockWhenExhausted(true).
		Build()
	require.NoError(t, err)

	p, err := pool.New(cfg, factory)
	require.NoError(t, err)
	defer p.Close()

	ctx := context.Background()
	v, err := p.Borrow(ctx, 0)
	require.NoError(t, err)

	type result struct {
		who string
		w   *widget
		err error
	}
	served := make(chan result, 2)

	startB := make(chan struct{})
	go func() {
		close(startB)
		w, err := p.Borrow(ctx, -1)
		served <- result{"B", w, err}
	}()
	<-startB
	waitForCondition(t, func() bool { return p.NumWaiters() == 1 })

	go func() {
		w, err := p.Borrow(ctx, -1)
		served <- result{"C", w, err}
	}()
	waitForCondition(t, func() bool { return p.NumWaiters() == 2 })

	require.NoError(t, p.Return(ctx, v))

	var first result
	select {
	case first = <-served:
		assert.Equal(t, "B", first.who, "the longest-waiting borrower must be served first")
		assert.NoError(t, first.err)
	case <-time.After(time.Second):
		t.Fatal("neither waiter was served")
	}

	// Free the instance again so C, still waiting, can be served and this
	// test doesn't leave a goroutine blocked past its own lifetime.
	require.NoError(t, p.Return(ctx, first.w))

	select {
	case second := <-served:
		assert.Equal(t, "C", second.who)
		assert.NoError(t, second.err)
		require.NoError(t, p.Return(ctx, second.w))
	case <-time.After(time.Second):
		t.Fatal("second waiter was never served")
	}
}

// An idle instance that sits past minEvictableIdleTime is destroyed by
// the evictor even though minIdle would otherwise be satisfied by
// leaving it alone (minIdle here is 0, so nothing blocks eviction).
func TestEvictorDestroysInstancesIdlePastHardThreshold(t *testing.T) {
	factory := newFakeFactory()
	cfg, err := pool.NewConfigBuilder().
		SetMinEvictableIdleTime(100 * time.Millisecond).
		SetTimeBetweenEvictionRuns(50 * time.Millisecond).
		SetMinIdle(0).
		Build()
	require.NoError(t, err)

	p, err := pool.New(cfg, factory)
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.AddObject(context.Background()))
	require.Equal(t, 1, p.NumIdle())

	waitForCondition(t, func() bool { return p.NumIdle() == 0 })
	waitForCondition(t, func() bool { return factory.destroyCount.Load() == 1 })
}

// Soft eviction destroys instances idle past the shorter soft threshold,
// but stops once the idle count has come down to minIdle.
func TestSoftEvictionStopsAtMinIdle(t *testing.T) {
	factory := newFakeFactory()
	cfg, err := pool.NewConfigBuilder().
		SetSoftMinEvictableIdleTime(50 * time.Millisecond).
		SetMinEvictableIdleTime(time.Hour).
		SetTimeBetweenEvictionRuns(50 * time.Millisecond).
		SetMinIdle(2).
		SetNumTestsPerEvictionRun(3).
		Build()
	require.NoError(t, err)

	p, err := pool.New(cfg, factory)
	require.NoError(t, err)
	defer p.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, p.AddObject(ctx))
	}
	require.Equal(t, 3, p.NumIdle())

	waitForCondition(t, func() bool { return p.NumIdle() == 2 })
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 2, p.NumIdle(), "soft eviction must not drop idle below minIdle")
	assert.EqualValues(t, 1, factory.destroyCount.Load())
}

// A validation failure on an already-idle instance (testOnBorrow) costs
// that instance, and Borrow transparently falls through to a freshly
// created, successfully validated replacement.
func TestTestOnBorrowFailureReplacesInstanceTransparently(t *testing.T) {
	factory := newFakeFactory()
	cfg, err := pool.NewConfigBuilder().
		SetTestOnBorrow(true).
		Build()
	require.NoError(t, err)

	p, err := pool.New(cfg, factory)
	require.NoError(t, err)
	defer p.Close()

	ctx := context.Background()
	require.NoError(t, p.AddObject(ctx))

	factory.validateSequence = []bool{false, true}

	w, err := p.Borrow(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, w)

	snap := p.Stats()
	assert.EqualValues(t, 1, snap.DestroyedByBorrowValidationCount)
	assert.EqualValues(t, 2, factory.makeCount.Load())
}

// A borrower that never returns its instance is reclaimed by the
// maintenance sweep once it has been held past the abandoned timeout;
// the value is destroyed, and a later Return of it is a silent no-op.
func TestAbandonmentSweepReclaimsUnreturnedInstance(t *testing.T) {
	factory := newFakeFactory()
	cfg, err := pool.NewConfigBuilder().
		SetTimeBetweenEvictionRuns(50 * time.Millisecond).
		SetAbandonedConfig(pool.AbandonedConfig{
			RemoveAbandonedOnMaintenance: true,
			RemoveAbandonedTimeout:       100 * time.Millisecond,
		}).
		Build()
	require.NoError(t, err)

	p, err := pool.New(cfg, factory)
	require.NoError(t, err)
	defer p.Close()

	ctx := context.Background()
	v, err := p.Borrow(ctx, 0)
	require.NoError(t, err)

	waitForCondition(t, func() bool { return factory.destroyCount.Load() == 1 })

	assert.NoError(t, p.Return(ctx, v), "returning a reclaimed instance must be a silent no-op")
	assert.Equal(t, 0, p.NumActive())
}

func TestConfigBuilderRejectsInvalidCombinations(t *testing.T) {
	_, err := pool.NewConfigBuilder().SetMaxTotal(0).Build()
	assert.Error(t, err)

	_, err = pool.NewConfigBuilder().SetMaxIdle(-2).Build()
	assert.Error(t, err)

	_, err = pool.NewConfigBuilder().SetMaxTotal(2).SetMinIdle(5).Build()
	assert.Error(t, err)

	_, err = pool.NewConfigBuilder().
		SetAbandonedConfig(pool.AbandonedConfig{RemoveAbandonedOnBorrow: true}).
		Build()
	assert.Error(t, err, "enabling abandonment detection with a zero timeout must be rejected")
}

func TestActivateFailureOnFreshlyCreatedInstanceIsReported(t *testing.T) {
	factory := newFakeFactory()
	factory.activateErr = assertErr

	p, err := pool.New[*widget](nil, factory)
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Borrow(context.Background(), 0)
	assert.ErrorIs(t, err, pool.ErrUnableToActivate)
}

var assertErr = context.Canceled

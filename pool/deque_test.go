package pool

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdleDequePushFrontThenPollFrontIsLIFO(t *testing.T) {
	d := newIdleDeque[int]()
	a, b := newPooledObject(1), newPooledObject(2)

	d.pushFront(a)
	d.pushFront(b)

	assert.Same(t, b, d.pollFront())
	assert.Same(t, a, d.pollFront())
	assert.Nil(t, d.pollFront())
}

func TestIdleDequePushBackThenPollFrontIsFIFO(t *testing.T) {
	d := newIdleDeque[int]()
	a, b := newPooledObject(1), newPooledObject(2)

	d.pushBack(a)
	d.pushBack(b)

	assert.Same(t, a, d.pollFront())
	assert.Same(t, b, d.pollFront())
}

func TestIdleDequeRemoveUnlinksArbitraryMember(t *testing.T) {
	d := newIdleDeque[int]()
	a, b, c := newPooledObject(1), newPooledObject(2), newPooledObject(3)
	d.pushBack(a)
	d.pushBack(b)
	d.pushBack(c)

	d.remove(b)
	assert.Equal(t, 2, d.len())

	got := []*pooledObject[int]{d.pollFront(), d.pollFront()}
	assert.ElementsMatch(t, []*pooledObject[int]{a, c}, got)
}

func TestIdleDequeTakeFirstWithTimeoutServesWaitersInArrivalOrder(t *testing.T) {
	d := newIdleDeque[int]()

	order := make(chan int, 3)
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		idx := i
		go func() {
			defer wg.Done()
			obj, ok := d.takeFirstWithTimeout(time.Second)
			require.True(t, ok)
			order <- obj.value
			_ = idx
		}()
		// Give each goroutine time to register as a waiter before the
		// next one starts, so arrival order is deterministic.
		time.Sleep(20 * time.Millisecond)
	}

	d.pushBack(newPooledObject(100))
	d.pushBack(newPooledObject(200))
	d.pushBack(newPooledObject(300))

	wg.Wait()
	close(order)

	var got []int
	for v := range order {
		got = append(got, v)
	}
	assert.Equal(t, []int{100, 200, 300}, got)
}

func TestIdleDequeTakeFirstWithTimeoutExpires(t *testing.T) {
	d := newIdleDeque[int]()
	_, ok := d.takeFirstWithTimeout(50 * time.Millisecond)
	assert.False(t, ok)
	assert.Equal(t, 0, d.numWaiters(), "expired waiter must be dropped from the queue")
}

func TestIdleDequeInterruptTakersWakesEveryBlockedWaiter(t *testing.T) {
	d := newIdleDeque[int]()

	var wg sync.WaitGroup
	results := make(chan bool, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := d.takeFirstWithTimeout(time.Second)
			results <- ok
		}()
	}
	time.Sleep(20 * time.Millisecond)

	d.interruptTakers()
	wg.Wait()
	close(results)

	for ok := range results {
		assert.False(t, ok)
	}
}

func TestIdleDequeSnapshotOrderMatchesLinkedOrder(t *testing.T) {
	d := newIdleDeque[int]()
	a, b, c := newPooledObject(1), newPooledObject(2), newPooledObject(3)
	d.pushBack(a)
	d.pushBack(b)
	d.pushBack(c)

	assert.Equal(t, []*pooledObject[int]{a, b, c}, d.snapshot())
}

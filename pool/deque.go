package pool

import (
	"sync"
	"time"
)

// idleDeque is a bounded-in-spirit (the pool enforces capacity, not the
// deque itself) doubly-linked deque of idle pooledObjects. It supports
// push/pop at both ends for O(1) LIFO/FIFO borrow policies, and a blocking
// take-with-timeout for borrowers that must wait.
//
// Waiter fairness is explicit rather than relying on sync.Cond's
// unspecified wakeup order: each blocked taker parks on its own buffered
// channel and is served strictly in arrival order: the first waiter to
// arrive wins the next push. A concurrent non-blocking pollFront/pollBack
// is still allowed to win against a parked waiter that has not yet been
// served: queued waiters are FIFO among themselves, but a racing
// immediate taker may barge ahead of the queue.
type idleDeque[T any] struct {
	mu         sync.Mutex
	head, tail *pooledObject[T]
	size       int
	waiters    []chan *pooledObject[T]
	closed     bool
}

func newIdleDeque[T any]() *idleDeque[T] {
	return &idleDeque[T]{}
}

func (d *idleDeque[T]) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.size
}

func (d *idleDeque[T]) numWaiters() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.waiters)
}

// pushFront inserts p at the head, for LIFO borrow policy or for
// reinserting an object that must go back to its original position
// (EVICTION_RETURN_TO_HEAD / VALIDATION_RETURN_TO_HEAD).
func (d *idleDeque[T]) pushFront(p *pooledObject[T]) {
	d.mu.Lock()
	if d.deliverToWaiterLocked(p) {
		d.mu.Unlock()
		return
	}

	p.next = d.head
	p.prev = nil
	if d.head != nil {
		d.head.prev = p
	}
	d.head = p
	if d.tail == nil {
		d.tail = p
	}
	p.inDeque = true
	d.size++
	d.mu.Unlock()
}

// pushBack inserts p at the tail, for the FIFO borrow policy. Like
// pushFront, it hands p directly to the longest-waiting taker instead if
// one is parked.
func (d *idleDeque[T]) pushBack(p *pooledObject[T]) {
	d.mu.Lock()
	if d.deliverToWaiterLocked(p) {
		d.mu.Unlock()
		return
	}

	p.prev = d.tail
	p.next = nil
	if d.tail != nil {
		d.tail.next = p
	}
	d.tail = p
	if d.head == nil {
		d.head = p
	}
	p.inDeque = true
	d.size++
	d.mu.Unlock()
}

// deliverToWaiterLocked hands p directly to the longest-waiting blocked
// taker instead of inserting it into the list, if one exists. Must be
// called with d.mu held.
func (d *idleDeque[T]) deliverToWaiterLocked(p *pooledObject[T]) bool {
	for len(d.waiters) > 0 {
		ch := d.waiters[0]
		d.waiters = d.waiters[1:]
		select {
		case ch <- p:
			// Each waiter channel has room for one value and is sent
			// at most once, so this never blocks. A waiter whose timer
			// fires after this send takes p anyway (see
			// takeFirstWithTimeout).
			return true
		default:
			continue
		}
	}
	return false
}

func (d *idleDeque[T]) unlinkLocked(p *pooledObject[T]) {
	if p.prev != nil {
		p.prev.next = p.next
	} else {
		d.head = p.next
	}
	if p.next != nil {
		p.next.prev = p.prev
	} else {
		d.tail = p.prev
	}
	p.prev = nil
	p.next = nil
	p.inDeque = false
	d.size--
}

// pollFront removes and returns the head of the deque, or nil if empty.
func (d *idleDeque[T]) pollFront() *pooledObject[T] {
	d.mu.Lock()
	defer d.mu.Unlock()

	p := d.head
	if p == nil {
		return nil
	}
	d.unlinkLocked(p)
	return p
}

// pollBack removes and returns the tail of the deque, or nil if empty.
func (d *idleDeque[T]) pollBack() *pooledObject[T] {
	d.mu.Lock()
	defer d.mu.Unlock()

	p := d.tail
	if p == nil {
		return nil
	}
	d.unlinkLocked(p)
	return p
}

// remove unlinks p from the deque if it is present, for use by the
// evictor/abandonment detector when destroying an instance that is
// currently idle.
func (d *idleDeque[T]) remove(p *pooledObject[T]) {
	d.mu.Lock()
	if p.inDeque {
		d.unlinkLocked(p)
	}
	d.mu.Unlock()
}

// takeFirstWithTimeout blocks until an instance becomes available, the
// timeout elapses, or the deque is closed. A negative timeout waits
// forever. It always serves the head: the LIFO/FIFO borrow policy is
// encoded entirely in which end Return/AddObject push to (see
// Pool.pushIdle), so taking is always "pop the front".
func (d *idleDeque[T]) takeFirstWithTimeout(timeout time.Duration) (*pooledObject[T], bool) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, false
	}

	p := d.head
	if p != nil {
		d.unlinkLocked(p)
		d.mu.Unlock()
		return p, true
	}

	ch := make(chan *pooledObject[T], 1)
	d.waiters = append(d.waiters, ch)
	d.mu.Unlock()

	if timeout < 0 {
		p, ok := <-ch
		return p, ok
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case p, ok := <-ch:
		return p, ok
	case <-timer.C:
		if d.dropWaiter(ch) {
			return nil, false
		}
		// A push (or interruptTakers) already claimed this waiter.
		p, ok := <-ch
		return p, ok
	}
}

// dropWaiter removes ch from the waiter queue and reports whether it was
// still queued.
func (d *idleDeque[T]) dropWaiter(ch chan *pooledObject[T]) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, w := range d.waiters {
		if w == ch {
			d.waiters = append(d.waiters[:i], d.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// drain removes and returns every instance currently in the deque, for
// Clear().
func (d *idleDeque[T]) drain() []*pooledObject[T] {
	d.mu.Lock()
	defer d.mu.Unlock()

	items := make([]*pooledObject[T], 0, d.size)
	for p := d.head; p != nil; {
		next := p.next
		p.prev, p.next = nil, nil
		p.inDeque = false
		items = append(items, p)
		p = next
	}
	d.head, d.tail, d.size = nil, nil, 0
	return items
}

// snapshot returns a weakly-consistent slice of every instance currently
// in the deque, ordered head-to-tail (oldest-inserted first under FIFO
// push discipline). The evictor uses this to build its persistent
// iterator; it tolerates concurrent pushes/pops by simply working off a
// point-in-time copy and skipping anything no longer idle by the time it
// gets there.
func (d *idleDeque[T]) snapshot() []*pooledObject[T] {
	d.mu.Lock()
	defer d.mu.Unlock()

	items := make([]*pooledObject[T], 0, d.size)
	for p := d.head; p != nil; p = p.next {
		items = append(items, p)
	}
	return items
}

// interruptTakers wakes every blocked taker with a closed result, used by
// Close().
func (d *idleDeque[T]) interruptTakers() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closed = true
	for _, ch := range d.waiters {
		close(ch)
	}
	d.waiters = nil
}

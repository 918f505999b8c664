package pool

import (
	"context"

	"github.com/AlexsanderHamir/ringbuffer"
)

// destroyQueue decouples the (possibly slow: closing a socket, flushing a
// file) cost of Factory.Destroy from the goroutine that decided an
// instance had to go — the evictor tick and the abandonment sweep both
// need to stay quick so they don't fall behind their schedule. Reclaimed
// wrappers are handed off through a small blocking ring buffer (the same
// primitive otherwise used for bulk object storage, here repurposed as
// a hand-off channel rather than a cache) and drained by one
// dedicated goroutine per pool.
type destroyQueue[T any] struct {
	buf  *ringbuffer.RingBuffer[*pooledObject[T]]
	done chan struct{}
}

func newDestroyQueue[T any](capacity int, drain func(*pooledObject[T])) *destroyQueue[T] {
	if capacity < 1 {
		capacity = 1
	}
	buf := ringbuffer.NewRingBuffer[*pooledObject[T]](capacity).WithBlocking(true)

	q := &destroyQueue[T]{
		buf:  buf,
		done: make(chan struct{}),
	}

	go q.loop(drain)
	return q
}

func (q *destroyQueue[T]) loop(drain func(*pooledObject[T])) {
	for {
		p, err := q.buf.GetOne()
		if err != nil {
			return
		}
		drain(p)
	}
}

// enqueue blocks only if the queue is momentarily full; it never drops a
// wrapper, since every enqueued instance must eventually reach
// Factory.Destroy to keep the destroyedCount stat correct. (The
// create-counter slot is given back earlier, when the instance leaves
// the all-objects index.)
func (q *destroyQueue[T]) enqueue(_ context.Context, p *pooledObject[T]) {
	_ = q.buf.Write(p)
}

func (q *destroyQueue[T]) close() {
	_ = q.buf.Close()
}

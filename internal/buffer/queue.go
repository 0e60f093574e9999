package buffer

import "sync"

// Queue is a per-instance bounded FIFO of RefBuffer references. There is no
// internal "data available" condition: the producer broadcasts a single
// shared condition after each batch of enqueues (spec §4.1).
type Queue struct {
	mu    sync.Mutex
	items []*RefBuffer
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue appends buf to the tail of the queue.
func (q *Queue) Enqueue(buf *RefBuffer) {
	q.mu.Lock()
	q.items = append(q.items, buf)
	q.mu.Unlock()
}

// Dequeue removes and returns the head of the queue. It never blocks; the
// caller is responsible for waiting on the shared queue condition first.
func (q *Queue) Dequeue() *RefBuffer {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	buf := q.items[0]
	q.items = q.items[1:]
	return buf
}

// Len returns the number of items currently linked in the queue.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Empty reports whether the queue currently has no items.
func (q *Queue) Empty() bool {
	return q.Len() == 0
}

// Flush discards every item in the queue, releasing each one. If
// keepCritical is true, items with Critical set are kept instead of
// discarded, matching input_flush_queue's keep_critical argument.
func (q *Queue) Flush(keepCritical bool) {
	q.mu.Lock()
	kept := q.items[:0]
	var dropped []*RefBuffer
	for _, buf := range q.items {
		if keepCritical && buf.Critical {
			kept = append(kept, buf)
		} else {
			dropped = append(dropped, buf)
		}
	}
	q.items = kept
	q.mu.Unlock()

	for _, buf := range dropped {
		Release(buf)
	}
}

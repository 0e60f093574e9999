package buffer

import "testing"

func TestRefBufferFreedExactlyOnce(t *testing.T) {
	b := New([]byte("hello"), 0, false)
	if Count(b) != 0 {
		t.Fatalf("initial count = %d, want 0", Count(b))
	}

	Acquire(b)
	Acquire(b)
	Acquire(b)
	if Count(b) != 3 {
		t.Fatalf("count after 3 acquires = %d, want 3", Count(b))
	}

	Release(b)
	Release(b)
	if b.Buf == nil {
		t.Fatalf("buffer freed before count reached zero")
	}
	Release(b)
	if b.Buf != nil {
		t.Fatalf("buffer not freed when count reached zero")
	}
}

func TestAddCountZeroFreesImmediately(t *testing.T) {
	// A chunk fanned out to zero instances (every instance was skipping or
	// waiting for a critical buffer, or the stream was invalid) must be freed on the spot rather
	// than leaked, matching the producer's calloc'd-chunk behavior.
	b := New([]byte("y"), 0, true)
	freed := AddCount(b, 0)
	if !freed {
		t.Fatalf("AddCount(0) on a freshly created buffer should report freed")
	}
}

func TestAddCountNonZeroDoesNotFree(t *testing.T) {
	b := New([]byte("z"), 0, false)
	if freed := AddCount(b, 2); freed {
		t.Fatalf("AddCount(2) should not report freed")
	}
	Release(b)
	if b.Buf == nil {
		t.Fatalf("buffer freed with one reference still outstanding")
	}
	Release(b)
	if b.Buf != nil {
		t.Fatalf("buffer not freed after last reference released")
	}
}

func TestQueueFIFOOrder(t *testing.T) {
	q := NewQueue()
	bufs := []*RefBuffer{New([]byte("1"), 0, false), New([]byte("2"), 0, false), New([]byte("3"), 0, false)}
	for _, b := range bufs {
		Acquire(b) // one reference per enqueue, as the producer does
		q.Enqueue(b)
	}
	if q.Len() != 3 {
		t.Fatalf("len = %d, want 3", q.Len())
	}
	for i, want := range bufs {
		got := q.Dequeue()
		if got != want {
			t.Fatalf("dequeue %d: got %v, want %v", i, got, want)
		}
	}
	if !q.Empty() {
		t.Fatalf("queue should be empty")
	}
	if q.Dequeue() != nil {
		t.Fatalf("dequeue on empty queue should return nil")
	}
}

func TestQueueFlushKeepsCritical(t *testing.T) {
	q := NewQueue()
	normal := New([]byte("n"), 0, false)
	critical := New([]byte("c"), 0, true)
	Acquire(normal)
	Acquire(critical)
	q.Enqueue(normal)
	q.Enqueue(critical)

	q.Flush(true)

	if q.Len() != 1 {
		t.Fatalf("len after flush(keepCritical) = %d, want 1", q.Len())
	}
	if got := q.Dequeue(); got != critical {
		t.Fatalf("remaining item = %v, want the critical buffer", got)
	}
	if normal.Buf != nil {
		t.Fatalf("flushed normal buffer should have been released and freed")
	}
	if critical.Buf == nil {
		t.Fatalf("kept critical buffer should still be held")
	}
}

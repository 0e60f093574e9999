// Package buffer implements the reference-counted payload shared between
// the producer and every instance queue (spec §3, §4.1).
package buffer

import "sync"

// RefBuffer is one unit of input data: one Ogg page for a Vorbis input, one
// PCM block for a PCM input. It is created once by the producer and shared
// by reference across every instance queue it is enqueued to.
type RefBuffer struct {
	Buf []byte

	// Critical marks a logical-stream restart point (an Ogg BOS page, or a
	// track boundary from a PCM source). Instances waiting for a critical
	// buffer use this to resynchronize after a reconnect.
	Critical bool

	// Aux carries a stage-specific scalar: header length within Buf for
	// Vorbis input (used by the re-encoder to split header/body), or
	// bytes-per-second for PCM input (used for pacing).
	Aux int64

	count int
}

// refcountLock is the single shared mutex guarding every RefBuffer's count,
// per spec §4.1 invariant (i) and §5 "Refcount mutations: always under the
// refcount mutex."
var refcountLock sync.Mutex

// New allocates a RefBuffer with an initial reference count of zero. The
// producer does not hold a reference of its own: a chunk that is fanned out
// to zero instances (AddCount(b, 0)) is freed immediately, matching the
// original producer's calloc'd chunk rather than process_and_send's
// always-acquire-one-first new_ref_buffer helper.
func New(data []byte, aux int64, critical bool) *RefBuffer {
	return &RefBuffer{
		Buf:      data,
		Aux:      aux,
		Critical: critical,
	}
}

// Acquire increments the reference count. Called once per enqueue.
func Acquire(b *RefBuffer) {
	refcountLock.Lock()
	b.count++
	refcountLock.Unlock()
}

// AddCount adds n references at once; used by the producer when fanning a
// single chunk out to n instances in one pass, avoiding n separate lock
// acquisitions (spec §4.5 step 7).
func AddCount(b *RefBuffer, n int) (freed bool) {
	refcountLock.Lock()
	b.count += n
	freed = b.count == 0
	refcountLock.Unlock()
	return freed
}

// Release decrements the reference count and frees the buffer's bytes the
// moment the count reaches zero. Called once per dequeue-or-discard.
func Release(b *RefBuffer) {
	refcountLock.Lock()
	b.count--
	if b.count == 0 {
		b.Buf = nil
	}
	refcountLock.Unlock()
}

// Count returns the current reference count, for tests and diagnostics.
func Count(b *RefBuffer) int {
	refcountLock.Lock()
	defer refcountLock.Unlock()
	return b.count
}

package producer

import (
	"testing"

	"sujoyan/icesgo/internal/buffer"
	"sujoyan/icesgo/internal/coordinator"
	"sujoyan/icesgo/internal/icelog"
	"sujoyan/icesgo/internal/input"
)

type scriptedInput struct {
	typ    input.Type
	events []input.Event
}

func (s *scriptedInput) Type() input.Type                    { return s.typ }
func (s *scriptedInput) GetData() (*buffer.RefBuffer, error) { return nil, nil }
func (s *scriptedInput) HandleEvent(ev input.Event, _ any) error {
	s.events = append(s.events, ev)
	return nil
}
func (s *scriptedInput) Close() error { return nil }

type fakeConsumer struct {
	died    bool
	skip    bool
	waiting bool
	maxLen  int
	queue   *buffer.Queue

	flushedKeepCritical int
	flushedAll          int
	closed              bool
}

func newFakeConsumer() *fakeConsumer {
	return &fakeConsumer{queue: buffer.NewQueue(), maxLen: 100}
}

func (f *fakeConsumer) Died() bool               { return f.died }
func (f *fakeConsumer) Skip() bool               { return f.skip }
func (f *fakeConsumer) WaitingForCritical() bool { return f.waiting }
func (f *fakeConsumer) ClearWaitingForCritical() { f.waiting = false }
func (f *fakeConsumer) MaxQueueLen() int         { return f.maxLen }
func (f *fakeConsumer) Queue() *buffer.Queue     { return f.queue }
func (f *fakeConsumer) FlushKeepingCritical() {
	f.flushedKeepCritical++
	f.queue.Flush(true)
}
func (f *fakeConsumer) FlushAll() {
	f.flushedAll++
	f.queue.Flush(false)
}
func (f *fakeConsumer) Close() { f.closed = true }

func newTestProducer(in input.Module, consumers ...Consumer) *Producer {
	return New(in, consumers, coordinator.New(), icelog.New("test", nil))
}

func chunk(critical bool) *buffer.RefBuffer {
	return buffer.New([]byte{0xde, 0xad}, 0, critical)
}

func TestFanOutDeliversChunksInOrderToEveryInstance(t *testing.T) {
	a, b := newFakeConsumer(), newFakeConsumer()
	p := newTestProducer(&scriptedInput{typ: input.TypePCM}, a, b)

	chunks := []*buffer.RefBuffer{chunk(true), chunk(false), chunk(false)}
	for _, c := range chunks {
		n := p.fanOut(c)
		if n != 2 {
			t.Fatalf("fanOut enqueued to %d instances, want 2", n)
		}
		buffer.AddCount(c, n)
	}

	for name, fc := range map[string]*fakeConsumer{"a": a, "b": b} {
		for i, want := range chunks {
			got := fc.queue.Dequeue()
			if got != want {
				t.Fatalf("instance %s chunk %d out of order", name, i)
			}
		}
	}
}

func TestFanOutSkipsWaitingInstanceForNonCritical(t *testing.T) {
	waiting, normal := newFakeConsumer(), newFakeConsumer()
	waiting.waiting = true
	p := newTestProducer(&scriptedInput{typ: input.TypePCM}, waiting, normal)

	n := p.fanOut(chunk(false))
	if n != 1 {
		t.Fatalf("fanOut enqueued to %d instances, want 1", n)
	}
	if waiting.queue.Len() != 0 {
		t.Error("waiting instance should not receive a non-critical chunk")
	}
	if normal.queue.Len() != 1 {
		t.Error("non-waiting instance should have received the chunk")
	}
}

func TestFanOutDeliversCriticalToWaitingInstance(t *testing.T) {
	waiting := newFakeConsumer()
	waiting.waiting = true
	p := newTestProducer(&scriptedInput{typ: input.TypePCM}, waiting)

	// A critical buffer passes the wait gate; the all-waiting fallback
	// still fires NextTrack because no instance was in the clear.
	if n := p.fanOut(chunk(true)); n != 1 {
		t.Fatalf("fanOut enqueued to %d instances, want 1", n)
	}
}

func TestFanOutSkipFlagWithholdsNewWork(t *testing.T) {
	skipping := newFakeConsumer()
	skipping.skip = true
	p := newTestProducer(&scriptedInput{typ: input.TypePCM}, skipping)

	if n := p.fanOut(chunk(false)); n != 0 {
		t.Fatalf("fanOut enqueued to %d instances, want 0", n)
	}
	if skipping.queue.Len() != 0 {
		t.Error("skipping instance should not receive chunks")
	}
}

func TestFanOutAllWaitingForcesRestartAndFlush(t *testing.T) {
	a, b := newFakeConsumer(), newFakeConsumer()
	a.waiting, b.waiting = true, true
	in := &scriptedInput{typ: input.TypePCM}
	p := newTestProducer(in, a, b)

	if n := p.fanOut(chunk(false)); n != 0 {
		t.Fatalf("fanOut enqueued to %d instances, want 0", n)
	}
	if len(in.events) != 1 || in.events[0] != input.EventNextTrack {
		t.Fatalf("events = %v, want one NextTrack", in.events)
	}
	if a.flushedKeepCritical != 1 || b.flushedKeepCritical != 1 {
		t.Error("both queues should have been flushed keeping criticals")
	}
	if a.waiting || b.waiting {
		t.Error("wait flags should be cleared so the next chunk can enqueue")
	}
}

func TestFanOutFlushesOverlongQueue(t *testing.T) {
	fc := newFakeConsumer()
	fc.maxLen = 2
	p := newTestProducer(&scriptedInput{typ: input.TypePCM}, fc)

	for i := 0; i < 4; i++ {
		c := chunk(false)
		buffer.AddCount(c, p.fanOut(c))
	}
	if fc.flushedKeepCritical == 0 {
		t.Error("queue past maxqueuelength should have been flushed")
	}
	if fc.queue.Len() > 3 {
		t.Errorf("queue len = %d, should stay bounded", fc.queue.Len())
	}
}

func TestReapDropsDeadInstances(t *testing.T) {
	dead, alive := newFakeConsumer(), newFakeConsumer()
	dead.died = true
	dead.queue.Enqueue(chunkWithRef(true))
	dead.queue.Enqueue(chunkWithRef(false))
	p := newTestProducer(&scriptedInput{typ: input.TypePCM}, dead, alive)

	p.reap()

	if len(p.instances) != 1 || p.instances[0] != Consumer(alive) {
		t.Fatalf("reap left %d instances, want just the live one", len(p.instances))
	}
	if !dead.closed {
		t.Error("reaped instance should have been closed")
	}
	if dead.flushedAll != 1 {
		t.Error("reaped instance's queue should be flushed unconditionally")
	}
	if dead.queue.Len() != 0 {
		t.Error("reaped queue should be empty, criticals included")
	}
}

func chunkWithRef(critical bool) *buffer.RefBuffer {
	c := chunk(critical)
	buffer.Acquire(c)
	return c
}

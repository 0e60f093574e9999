package instance

import (
	"testing"

	"sujoyan/icesgo/internal/buffer"
	"sujoyan/icesgo/internal/config"
	"sujoyan/icesgo/internal/coordinator"
	"sujoyan/icesgo/internal/icelog"
	"sujoyan/icesgo/internal/input"
)

func testBuffer(critical bool) *buffer.RefBuffer {
	b := buffer.New([]byte("OggS"), 0, critical)
	buffer.Acquire(b)
	return b
}

// fakeModule is a minimal input.Module for constructing instances without
// any real source behind them.
type fakeModule struct {
	typ input.Type
}

func (f fakeModule) Type() input.Type                            { return f.typ }
func (f fakeModule) GetData() (*buffer.RefBuffer, error)         { return nil, nil }
func (f fakeModule) HandleEvent(ev input.Event, param any) error { return nil }
func (f fakeModule) Close() error                                { return nil }

func testInstanceCfg() config.Instance {
	minBr, nomBr, maxBr := -1, -1, -1
	quality := float32(3.0)
	return config.Instance{
		Hostname:     "localhost",
		Port:         8000,
		Password:     "hackme",
		Username:     "source",
		Mount:        "/stream.ogg",
		ReconnDelay:  2,
		ReconnTries:  10,
		MaxQueueLen:  100,
		RetryInitial: false,
		Encode: config.EncodeParams{
			Quality:    &quality,
			MinBitrate: &minBr,
			NomBitrate: &nomBr,
			MaxBitrate: &maxBr,
		},
	}
}

func newTestInstance(t *testing.T, cfg config.Instance, inType input.Type) *Instance {
	t.Helper()
	log := icelog.New("test", nil)
	ctx := coordinator.New()
	meta := config.StreamMetadata{Name: "Test Stream", Genre: "test", Description: "desc"}
	in, err := New("test-instance", cfg, meta, fakeModule{typ: inType}, log, ctx)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return in
}

func TestNewInstanceStartsNotWaitingNotSkippingNotDied(t *testing.T) {
	in := newTestInstance(t, testInstanceCfg(), input.TypePCM)
	defer in.chain.Close()

	if in.WaitingForCritical() {
		t.Error("new instance should not be waiting for critical")
	}
	if in.Skip() {
		t.Error("new instance should not be in skip state")
	}
	if in.Died() {
		t.Error("new instance should not be died")
	}
	if in.Queue().Len() != 0 {
		t.Error("new instance queue should be empty")
	}
}

func TestInstanceBuildsChainForPCMInput(t *testing.T) {
	in := newTestInstance(t, testInstanceCfg(), input.TypePCM)
	defer in.chain.Close()
	if in.chain == nil {
		t.Fatal("chain not built")
	}
}

func TestInstanceBuildsChainWhenReencodeConfigured(t *testing.T) {
	cfg := testInstanceCfg()
	cfg.Reencode = true
	in := newTestInstance(t, cfg, input.TypeVorbis)
	defer in.chain.Close()
	if in.chain == nil {
		t.Fatal("chain not built")
	}
}

func TestSetDiedMarksInstanceForReap(t *testing.T) {
	in := newTestInstance(t, testInstanceCfg(), input.TypePCM)
	defer in.chain.Close()
	in.setDied()
	if !in.Died() {
		t.Error("setDied should make Died() report true")
	}
}

func TestFlushKeepingCriticalDropsOnlyNonCritical(t *testing.T) {
	in := newTestInstance(t, testInstanceCfg(), input.TypePCM)
	defer in.chain.Close()

	crit := testBuffer(true)
	normal := testBuffer(false)
	in.Queue().Enqueue(crit)
	in.Queue().Enqueue(normal)

	in.FlushKeepingCritical()

	if in.Queue().Len() != 1 {
		t.Fatalf("queue len = %d, want 1 (critical kept)", in.Queue().Len())
	}
	if got := in.Queue().Dequeue(); got != crit {
		t.Error("surviving buffer should be the critical one")
	}
}

func TestClearWaitingForCriticalLiftsTheGate(t *testing.T) {
	in := newTestInstance(t, testInstanceCfg(), input.TypePCM)
	defer in.chain.Close()

	in.mu.Lock()
	in.waitForCritical = true
	in.mu.Unlock()

	in.ClearWaitingForCritical()
	if in.WaitingForCritical() {
		t.Error("ClearWaitingForCritical should lift the wait gate")
	}
}

func TestBufferFailuresDecayWhileQueueDrainsEmpty(t *testing.T) {
	in := newTestInstance(t, testInstanceCfg(), input.TypePCM)
	defer in.chain.Close()

	// Shut the context down up front so waitForData never blocks; the
	// decay check runs before the wait loop.
	in.ctx.RequestShutdown()

	in.bufferFailures = 3
	in.waitForData()
	if in.bufferFailures != 2 {
		t.Fatalf("bufferFailures = %d after an empty-queue wait, want 2", in.bufferFailures)
	}

	// A non-empty queue means no drain, so no decay.
	in.Queue().Enqueue(testBuffer(false))
	in.waitForData()
	if in.bufferFailures != 2 {
		t.Fatalf("bufferFailures = %d with a backlog, want 2 (no decay)", in.bufferFailures)
	}
}

func TestFlushAllDropsEverything(t *testing.T) {
	in := newTestInstance(t, testInstanceCfg(), input.TypePCM)
	defer in.chain.Close()

	in.Queue().Enqueue(testBuffer(true))
	in.Queue().Enqueue(testBuffer(false))

	in.FlushAll()

	if in.Queue().Len() != 0 {
		t.Fatalf("queue len = %d, want 0", in.Queue().Len())
	}
}

package downmix

import (
	"math"
	"testing"
)

func encodeLE(l, r int16) []byte {
	return []byte{byte(l), byte(l >> 8), byte(r), byte(r >> 8)}
}

func TestBufferLittleEndianAverages(t *testing.T) {
	s := New()
	buf := encodeLE(16384, 16384) // both channels at half scale
	out := s.Buffer(buf, false)
	if len(out) != 1 {
		t.Fatalf("got %d samples, want 1", len(out))
	}
	want := float32(32768) / 65536.0
	if math.Abs(float64(out[0]-want)) > 1e-6 {
		t.Fatalf("sample = %v, want %v", out[0], want)
	}
}

func TestBufferSilenceIsZero(t *testing.T) {
	s := New()
	out := s.Buffer(encodeLE(0, 0), false)
	if out[0] != 0 {
		t.Fatalf("silence downmixed to %v, want 0", out[0])
	}
}

func TestBufferFloatAveragesChannels(t *testing.T) {
	s := New()
	pcm := [][]float32{{1.0, -1.0}, {-1.0, 1.0}}
	out := s.BufferFloat(pcm, 2)
	if out[0] != 0 || out[1] != 0 {
		t.Fatalf("averaged samples = %v, want [0 0]", out)
	}
}

func TestBufferReusesBackingArray(t *testing.T) {
	s := New()
	first := s.Buffer(encodeLE(100, 200), false)
	firstPtr := &first[0]
	second := s.Buffer(encodeLE(300, 400), false)
	if &second[0] != firstPtr {
		t.Fatalf("Buffer reallocated instead of reusing its scratch slice")
	}
}

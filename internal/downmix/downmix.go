// Package downmix implements stereo-to-mono downmixing, for both raw PCM
// input and the float-planar PCM the re-encoder gets out of libvorbis
// synthesis. Grounded on downmix.c's downmix_buffer (16-bit PCM path) and
// reencode.c's downmix_buffer_float call shape (float-planar path, used
// when re-encoding an upstream Vorbis stream down to mono).
package downmix

// State holds the reusable scratch buffer downmixing writes into, avoiding
// a fresh allocation on every block the way downmix_state's realloc'd
// buffer does in the original.
type State struct {
	buffer []float32
}

// New returns a State ready to downmix stereo audio to mono.
func New() *State {
	return &State{}
}

// Buffer downmixes len(buf)/4 16-bit little- or big-endian stereo sample
// pairs (4 bytes per pair: L, R) into State.buffer, averaging the two
// channels into the range [-1, 1]. It returns the mono samples produced.
func (s *State) Buffer(buf []byte, bigEndian bool) []float32 {
	samples := len(buf) / 4
	if cap(s.buffer) < samples {
		s.buffer = make([]float32, samples)
	} else {
		s.buffer = s.buffer[:samples]
	}

	if bigEndian {
		for i := 0; i < samples; i++ {
			left := int16(buf[4*i])<<8 | int16(buf[4*i+1])
			right := int16(buf[4*i+2])<<8 | int16(buf[4*i+3])
			s.buffer[i] = float32(int32(left)+int32(right)) / 65536.0
		}
	} else {
		for i := 0; i < samples; i++ {
			left := int16(buf[4*i+1])<<8 | int16(buf[4*i])
			right := int16(buf[4*i+3])<<8 | int16(buf[4*i+2])
			s.buffer[i] = float32(int32(left)+int32(right)) / 65536.0
		}
	}
	return s.buffer
}

// BufferFloat downmixes already-decoded float-planar stereo PCM (as
// produced by vorbis synthesis) to mono, averaging channel 0 and channel 1.
// Used by the re-encoder's downmix stage, per reencode.c's
// downmix_buffer_float(s->downmix, pcm, samples) call.
func (s *State) BufferFloat(pcm [][]float32, samples int) []float32 {
	if cap(s.buffer) < samples {
		s.buffer = make([]float32, samples)
	} else {
		s.buffer = s.buffer[:samples]
	}

	if len(pcm) < 2 {
		copy(s.buffer, pcm[0][:samples])
		return s.buffer
	}

	left, right := pcm[0], pcm[1]
	for i := 0; i < samples; i++ {
		s.buffer[i] = (left[i] + right[i]) / 2
	}
	return s.buffer
}

// Grounded on im_stdinpcm.c: raw 16-bit PCM read straight off stdin, in
// fixed-size blocks, with rate/channels module params.
package input

import (
	"bufio"
	"io"
	"strconv"

	"sujoyan/icesgo/internal/buffer"
)

const stdinBufSize = 32768

// StdinPCM reads raw 16-bit PCM from an io.Reader (stdin in production).
type StdinPCM struct {
	r        *bufio.Reader
	rate     int
	channels int
	newTrack bool
}

// NewStdinPCM opens a StdinPCM module bound to r, defaulting to 44100Hz
// stereo per im_stdinpcm.c's defaults, overridden by "rate"/"channels"
// params.
func NewStdinPCM(r io.Reader, params []Param) *StdinPCM {
	s := &StdinPCM{
		r:        bufio.NewReaderSize(r, stdinBufSize),
		rate:     44100,
		channels: 2,
	}
	if v, ok := Lookup(params, "rate"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			s.rate = n
		}
	}
	if v, ok := Lookup(params, "channels"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			s.channels = n
		}
	}
	return s
}

func (s *StdinPCM) Type() Type { return TypePCM }

// PCMFormat reports the module's sample geometry; stdin PCM is always
// host-order little-endian, matching im_stdinpcm.c.
func (s *StdinPCM) PCMFormat() (int, int, bool) { return s.rate, s.channels, false }

// GetData reads up to stdinBufSize bytes, matching stdin_read's
// fread/EOF-is-fatal behavior: a read of zero bytes means the stream ended
// and the producer should shut down.
func (s *StdinPCM) GetData() (*buffer.RefBuffer, error) {
	buf := make([]byte, stdinBufSize)
	n, err := s.r.Read(buf)
	if n <= 0 {
		if err == io.EOF || err == nil {
			return nil, errBitstreamEnded
		}
		return nil, err
	}

	bytesPerSec := int64(s.rate * s.channels * 2)
	rb := buffer.New(buf[:n], bytesPerSec, s.newTrack)
	s.newTrack = false
	return rb, nil
}

func (s *StdinPCM) HandleEvent(ev Event, param any) error {
	if ev == EventNextTrack {
		s.newTrack = true
	}
	return nil
}

func (s *StdinPCM) Close() error { return nil }

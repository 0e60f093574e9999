package input

import (
	"bytes"
	"io"
	"testing"
)

func TestStdinPCMReadsBlockAndComputesBytesPerSec(t *testing.T) {
	data := bytes.Repeat([]byte{0x01, 0x02}, stdinBufSize)
	s := NewStdinPCM(bytes.NewReader(data), []Param{
		{Name: "rate", Value: "48000"},
		{Name: "channels", Value: "2"},
	})

	rb, err := s.GetData()
	if err != nil {
		t.Fatalf("GetData: %v", err)
	}
	if rb.Aux != 48000*2*2 {
		t.Fatalf("Aux (bytes/sec) = %d, want %d", rb.Aux, 48000*2*2)
	}
	if len(rb.Buf) != stdinBufSize {
		t.Fatalf("read %d bytes, want %d", len(rb.Buf), stdinBufSize)
	}
}

func TestStdinPCMDefaultsTo44100Stereo(t *testing.T) {
	s := NewStdinPCM(bytes.NewReader(make([]byte, 100)), nil)
	rb, err := s.GetData()
	if err != nil {
		t.Fatalf("GetData: %v", err)
	}
	if rb.Aux != 44100*2*2 {
		t.Fatalf("Aux = %d, want default 176400", rb.Aux)
	}
}

func TestStdinPCMEOFIsFatal(t *testing.T) {
	s := NewStdinPCM(bytes.NewReader(nil), nil)
	_, err := s.GetData()
	if err == nil {
		t.Fatalf("GetData at EOF should return an error")
	}
}

func TestStdinPCMNextTrackMarksCritical(t *testing.T) {
	s := NewStdinPCM(bytes.NewReader(bytes.Repeat([]byte{0}, 100)), nil)
	s.HandleEvent(EventNextTrack, nil)
	rb, err := s.GetData()
	if err != nil {
		t.Fatalf("GetData: %v", err)
	}
	if !rb.Critical {
		t.Fatalf("buffer following EventNextTrack should be marked critical")
	}

	rb2, err := s.GetData()
	if err != nil && err != io.EOF {
		t.Fatalf("GetData: %v", err)
	}
	if rb2 != nil && rb2.Critical {
		t.Fatalf("subsequent buffer should not still be marked critical")
	}
}

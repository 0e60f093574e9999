package icelog

import (
	"bytes"
	"strings"
	"testing"
)

func TestWarnfSuppressedBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	defaultLevel = LevelError
	lg := New("test", &buf)

	lg.Warnf("should not appear")
	if buf.Len() != 0 {
		t.Fatalf("Warnf wrote output at LevelError: %q", buf.String())
	}

	defaultLevel = LevelWarn
}

func TestInfofVisibleAtInfoLevel(t *testing.T) {
	var buf bytes.Buffer
	defaultLevel = LevelInfo
	lg := New("stream", &buf)

	lg.Infof("hello %s", "world")
	if !strings.Contains(buf.String(), "hello world") {
		t.Fatalf("output = %q, missing expected message", buf.String())
	}
	if !strings.Contains(buf.String(), "stream/") {
		t.Fatalf("output = %q, missing module prefix", buf.String())
	}

	defaultLevel = LevelWarn
}

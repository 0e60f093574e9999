package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestWriteContainsCurrentPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ices.pid")
	if err := Write(path); err != nil {
		t.Fatalf("Write: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	got := strings.TrimSpace(string(data))
	want := fmt.Sprintf("%d", os.Getpid())
	if got != want {
		t.Fatalf("pidfile contents = %q, want %q", got, want)
	}
	if _, err := strconv.Atoi(got); err != nil {
		t.Fatalf("pidfile contents not a valid integer: %q", got)
	}
}

func TestRemoveNonexistentIsNotAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.pid")
	if err := Remove(path); err != nil {
		t.Fatalf("Remove on missing file: %v", err)
	}
}

func TestRemoveDeletesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ices.pid")
	Write(path)
	if err := Remove(path); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("pidfile still exists after Remove")
	}
}

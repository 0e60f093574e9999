// Package pidfile writes and removes the daemon's PID file, the persisted
// state ices.c creates at startup and removes at shutdown.
package pidfile

import (
	"fmt"
	"os"
)

// Write creates path containing the current process's PID in decimal,
// overwriting any existing file.
func Write(path string) error {
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
}

// Remove deletes the PID file. A missing file is not an error: shutdown
// should proceed regardless.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

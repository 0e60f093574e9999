// Package savefile implements the optional side-channel that mirrors an
// instance's outgoing stream to a local file, grounded on savefile.c.
// Unlike the original's dedicated savefile_stream thread pulling from its
// own parallel queue, icesgo folds the write directly into the instance's
// send path (spec §4.7's process_and_send), so Writer is a plain io.Writer
// an instance composes alongside its network connection.
package savefile

import (
	"fmt"
	"os"

	"sujoyan/icesgo/internal/icelog"
)

// Writer wraps an *os.File, logging short writes instead of treating them
// as fatal, matching savefile.c's "try again" tolerance for this
// best-effort side channel.
type Writer struct {
	file *os.File
	log  *icelog.Logger
}

// Open creates (or truncates) the file at path for saving a stream to.
func Open(path string, log *icelog.Logger) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("savefile: couldn't open file to save stream: %w", err)
	}
	return &Writer{file: f, log: log}, nil
}

// Write implements io.Writer. A short write is logged, not returned as an
// error, so a single bad write to the save file never tears down the
// instance's real network stream.
func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.file.Write(p)
	if err != nil {
		w.log.Errorf("error writing to save file: %v", err)
		return n, nil
	}
	if n != len(p) {
		w.log.Warnf("short write to save file: %d of %d bytes", n, len(p))
	}
	return len(p), nil
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	return w.file.Close()
}

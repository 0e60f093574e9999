// Package metadata implements the stream metadata side-channel: reading
// comment lines until a blank line or EOF and delivering them as an update
// event. Grounded on metadata.c's metadata_thread, generalized per §6 to
// read from either stdin (when running in the foreground with no
// metadata file configured) or a named FIFO/file, and woken either by a
// blocking read or by a SIGUSR1 notification, per the Open Question
// decision recorded in SPEC_FULL.md.
package metadata

import (
	"bufio"
	"io"
	"os"

	"sujoyan/icesgo/internal/icelog"
)

// Update is one metadata update: the non-blank lines read between blank
// lines, in order, matching metadata.c's md[] comment list.
type Update []string

// Watcher reads Updates from an io.Reader in a background goroutine.
type Watcher struct {
	r       io.Reader
	path    string
	wait    func() bool
	log     *icelog.Logger
	updates chan Update
	done    chan struct{}
}

// NewWatcher starts reading from r on a background goroutine. Call Stop to
// terminate it; the underlying reader is not closed. This is the stdin
// variant: updates arrive whenever lines do.
func NewWatcher(r io.Reader, log *icelog.Logger) *Watcher {
	w := &Watcher{
		r:       r,
		log:     log,
		updates: make(chan Update, 1),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

// NewFileWatcher watches a named metadata file, blocking in wait between
// reads; wait returning false ends the watcher. Each wake reopens the file
// from the top and reads one update out of it, matching metadata.c's
// fopen-read-fclose cycle on every SIGUSR1.
func NewFileWatcher(path string, wait func() bool, log *icelog.Logger) *Watcher {
	w := &Watcher{
		path:    path,
		wait:    wait,
		log:     log,
		updates: make(chan Update, 1),
		done:    make(chan struct{}),
	}
	go w.runFile()
	return w
}

// Updates returns the channel new metadata updates are delivered on.
func (w *Watcher) Updates() <-chan Update {
	return w.updates
}

func (w *Watcher) run() {
	defer close(w.updates)

	scanner := bufio.NewScanner(w.r)
	for {
		var lines []string
		reachedEOF := true
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				reachedEOF = false
				break
			}
			lines = append(lines, line)
		}

		if len(lines) > 0 {
			w.log.Infof("Updating metadata")
			select {
			case w.updates <- Update(lines):
			case <-w.done:
				return
			}
		}

		if err := scanner.Err(); err != nil {
			w.log.Errorf("metadata watcher: %v", err)
			return
		}
		if reachedEOF {
			return
		}
	}
}

func (w *Watcher) runFile() {
	defer close(w.updates)

	for w.wait() {
		select {
		case <-w.done:
			return
		default:
		}

		f, err := os.Open(w.path)
		if err != nil {
			w.log.Warnf("error reading metadata file %q: %v", w.path, err)
			continue
		}

		var lines []string
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			line := sc.Text()
			if line == "" {
				break
			}
			lines = append(lines, line)
		}
		f.Close()

		if len(lines) > 0 {
			w.log.Infof("Updating metadata")
			select {
			case w.updates <- Update(lines):
			case <-w.done:
				return
			}
		}
	}
}

// Stop terminates the watcher.
func (w *Watcher) Stop() {
	close(w.done)
}

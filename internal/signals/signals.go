// Package signals installs icesgo's process signal handlers. Grounded on
// signals.c, with one deliberate redesign: signal_usr1_handler and
// signal_hup_handler each reinstall themselves with a bare signal() call at
// the end of the handler, a window during which a second, near-simultaneous
// signal of the same kind could be missed or could hit default disposition
// (flagged as a correctness concern, not a feature, in the original's own
// review notes). signal.Notify's channel-based registration is persistent
// and reentrant-safe, so it is used here instead; the "pending flag plus
// broadcast" semantics of each handler are otherwise preserved exactly.
package signals

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// Handlers groups the callbacks Setup wires to each signal. Any field left
// nil is simply not dispatched.
type Handlers struct {
	// OnHangup fires on SIGHUP: flush logs, advance to the next track.
	OnHangup func()

	// OnMetadataUpdate fires on SIGUSR1: a metadata update is pending.
	OnMetadataUpdate func()

	// OnShutdown fires on the first SIGINT: begin a graceful shutdown. A
	// second SIGINT terminates the process immediately, matching the
	// original's signal(SIGINT, SIG_DFL) re-arm.
	OnShutdown func()
}

// Setup installs handlers for SIGHUP, SIGINT, SIGUSR1, and ignores
// SIGPIPE, mirroring signals_setup. It returns a stop function that
// restores default disposition for every signal it touched.
func Setup(h Handlers) (stop func()) {
	signal.Ignore(syscall.SIGPIPE)

	ch := make(chan os.Signal, 4)
	signal.Notify(ch, syscall.SIGHUP, syscall.SIGINT, syscall.SIGUSR1)

	var (
		mu           sync.Mutex
		shuttingDown bool
	)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig, ok := <-ch:
				if !ok {
					return
				}
				switch sig {
				case syscall.SIGHUP:
					if h.OnHangup != nil {
						h.OnHangup()
					}
				case syscall.SIGUSR1:
					if h.OnMetadataUpdate != nil {
						h.OnMetadataUpdate()
					}
				case syscall.SIGINT:
					mu.Lock()
					first := !shuttingDown
					shuttingDown = true
					mu.Unlock()

					if first {
						if h.OnShutdown != nil {
							h.OnShutdown()
						}
					} else {
						os.Exit(130) // 128 + SIGINT, matching SIG_DFL's exit behavior
					}
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		signal.Reset(syscall.SIGPIPE)
		close(done)
	}
}

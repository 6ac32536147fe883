package bootstrap

import (
	"os"
	"os/signal"
	"syscall"
)

// SignalFlags are the two conditions the dispatch loop polls for on every
// wakeup, set from a dedicated goroutine that only ever touches these two
// channels, mirroring the original enclave's handlesig/statsflag/sigtermflag
// pair.
type SignalFlags struct {
	Stats     chan struct{}
	Terminate chan struct{}
}

// WatchSignals starts a goroutine translating SIGUSR1 into a request to
// print statistics and SIGINT/SIGTERM into a request for a graceful exit.
// It returns immediately; the returned SignalFlags' channels are closed
// (Terminate) or sent on (Stats) as signals arrive.
func WatchSignals() *SignalFlags {
	flags := &SignalFlags{
		Stats:     make(chan struct{}, 1),
		Terminate: make(chan struct{}),
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGUSR1, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		for sig := range sigCh {
			switch sig {
			case syscall.SIGUSR1:
				select {
				case flags.Stats <- struct{}{}:
				default:
				}
			case syscall.SIGINT, syscall.SIGTERM:
				close(flags.Terminate)
				return
			}
		}
	}()

	return flags
}

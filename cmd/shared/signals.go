package shared

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// gracePeriod is how long cleanup (child teardown, unmount, audit
// flush) may take after the first signal before the process exits
// anyway.
const gracePeriod = 5 * time.Second

// SetupSignalHandling cancels ctx on the first interrupt so commands can
// kill their child and unmount. A second signal, or an overrun grace
// period, exits immediately with the conventional 128+signal code.
func SetupSignalHandling(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 2)

	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT)
	signal.Ignore(syscall.SIGPIPE)

	go func() {
		s := <-sigCh
		cancel()

		select {
		case <-sigCh:
		case <-time.After(gracePeriod):
		}

		if ss, ok := s.(syscall.Signal); ok {
			os.Exit(128 + int(ss))
		}
		os.Exit(1)
	}()
}

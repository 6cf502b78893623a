// Package pipeio provides bidirectional data piping between two
// ReadWriteClosers, used to connect the local terminal to the pty of a
// sandboxed child process.
package pipeio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"syscall"

	"github.com/muesli/cancelreader"
)

// Pipe copies data between rwc1 and rwc2 in both directions. It blocks
// until one direction ends or ctx is canceled, then closes both ends.
// Copy errors are reported through logfunc, except those an ordinary
// teardown produces.
func Pipe(ctx context.Context, rwc1 io.ReadWriteCloser, rwc2 io.ReadWriteCloser, logfunc func(error)) {
	var wg sync.WaitGroup
	var o sync.Once

	closeBoth := func() {
		rwc1.Close()
		rwc2.Close()

		wg.Done()
	}
	wg.Add(1)

	finished := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			o.Do(closeBoth)
		case <-finished:
		}
	}()

	go func() {
		if _, err := io.Copy(rwc1, rwc2); err != nil && !teardownError(err) {
			logfunc(fmt.Errorf("io.Copy(rwc1, rwc2): %s", err))
		}

		o.Do(closeBoth)
	}()

	go func() {
		if _, err := io.Copy(rwc2, rwc1); err != nil && !teardownError(err) {
			logfunc(fmt.Errorf("io.Copy(rwc2, rwc1): %s", err))
		}

		o.Do(closeBoth)
	}()

	wg.Wait()
	close(finished)
}

// teardownError reports whether err is one of the errors a closing pty or
// a canceled stdin read produces while the other side still pumps.
func teardownError(err error) bool {
	return errors.Is(err, cancelreader.ErrCanceled) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EIO) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, os.ErrClosed)
}

// Package terminal connects the local terminal to the pty of a sandboxed
// child process.
package terminal

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"fusebox/pkg/log"
	"fusebox/pkg/pipeio"
	"fusebox/pkg/pty"

	"golang.org/x/term"
)

// Pipe pumps the standard streams through rwc until one side ends or ctx
// is canceled.
func Pipe(ctx context.Context, rwc io.ReadWriteCloser) {
	pipeio.Pipe(ctx, pipeio.NewStdio(nil, nil), rwc, func(err error) {
		log.ErrorMsg("Pipe(stdio, pty): %s\n", err)
	})
}

// PipeWithPTY puts the local terminal into raw mode, pumps the standard
// streams through the pty master and keeps the pty's window size in sync
// with the terminal. It restores the terminal before returning. When stdin
// is not a terminal it only pumps.
func PipeWithPTY(ctx context.Context, ptm *os.File) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if term.IsTerminal(int(os.Stdin.Fd())) {
		log.DebugMsg("Enabling raw mode\n")
		oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("setting terminal to raw mode: %s", err)
		}

		defer func() {
			log.DebugMsg("Disabling raw mode\n")
			term.Restore(int(os.Stdin.Fd()), oldState)
			fmt.Printf("\033[2K\r") // clear line
		}()

		go syncTerminalSize(ctx, ptm)
	}

	Pipe(ctx, ptm)

	return nil
}

// syncTerminalSize applies the terminal's current window size to the pty,
// once up front and again on every SIGWINCH.
func syncTerminalSize(ctx context.Context, ptm *os.File) {
	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)

	applied := pty.TerminalSize{}
	apply := func() {
		size, err := pty.GetTerminalSize()
		if err != nil {
			log.DebugMsg("can't identify terminal size: %s\n", err)
			return
		}

		if size == applied {
			return
		}

		if err := pty.SetTerminalSize(ptm, size); err != nil {
			log.DebugMsg("can't resize pty: %s\n", err)
			return
		}
		applied = size
	}

	apply()
	for {
		select {
		case <-winch:
			apply()
		case <-ctx.Done():
			return
		}
	}
}

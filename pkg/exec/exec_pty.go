package exec

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"fusebox/pkg/log"
	"fusebox/pkg/pty"
	"fusebox/pkg/terminal"
)

// drainTimeout bounds how long the terminal pump may keep running after
// the child exited, for children that leave background processes attached
// to the tty.
const drainTimeout = 200 * time.Millisecond

// RunWithPTY executes the command on a fresh pty wired to the caller's
// terminal and returns its exit code. When ctx ends before the command
// does, the child is killed.
func RunWithPTY(ctx context.Context, command *Command) (int, error) {
	cmd := newCmd(command)

	ptm, tty, err := pty.NewPty()
	if err != nil {
		return 0, fmt.Errorf("starting pty: %s", err)
	}
	defer ptm.Close()

	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setctty: true,
		Setsid:  true,
	}

	cmd.Stdout = tty
	cmd.Stdin = tty
	cmd.Stderr = tty

	if err := cmd.Start(); err != nil {
		tty.Close()
		return 0, fmt.Errorf("cmd.Start(): %s", err)
	}

	// The child holds its own descriptor now. Closing ours lets reads on
	// the master end fail once the child is gone.
	tty.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pumpDone := make(chan struct{})
	go func() {
		if err := terminal.PipeWithPTY(ctx, ptm); err != nil {
			log.ErrorMsg("Wiring up the terminal: %s\n", err)
		}
		close(pumpDone)
	}()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	select {
	case err := <-waitErr:
		select {
		case <-pumpDone:
		case <-time.After(drainTimeout):
			cancel()
			<-pumpDone
		}
		return exitCode(err)
	case <-ctx.Done():
		cmd.Process.Kill()
		err := <-waitErr
		<-pumpDone
		return exitCode(err)
	}
}

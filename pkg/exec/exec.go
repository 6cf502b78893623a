// Package exec starts the sandboxed child process and waits for it,
// reporting its exit code.
package exec

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"fusebox/pkg/config"
)

// Command describes a child process to run against the sandbox mount.
type Command struct {
	Program string
	Args    []string
	Dir     string   // working directory, typically inside the mountpoint
	Env     []string // extra KEY=value pairs appended to the inherited environment
}

// Run executes the command with the caller's standard streams attached and
// returns its exit code. When ctx ends before the command does, the child
// is killed.
func Run(ctx context.Context, command *Command, deps *config.Dependencies) (int, error) {
	cmd := newCmd(command)
	cmd.Stdin = os.Stdin
	cmd.Stdout = config.GetStdoutFunc(deps)()
	cmd.Stderr = config.GetStderrFunc(deps)()

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("cmd.Start(): %s", err)
	}

	return wait(ctx, cmd)
}

func newCmd(command *Command) *exec.Cmd {
	cmd := exec.Command(command.Program, command.Args...)
	cmd.Dir = command.Dir
	cmd.Env = append(os.Environ(), command.Env...)

	return cmd
}

func wait(ctx context.Context, cmd *exec.Cmd) (int, error) {
	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	select {
	case err := <-waitErr:
		return exitCode(err)
	case <-ctx.Done():
		cmd.Process.Kill()
		return exitCode(<-waitErr)
	}
}

// exitCode converts a Wait error into the child's exit code. A child that
// died of a signal reports 128 plus the signal number, the shell
// convention.
func exitCode(err error) (int, error) {
	if err == nil {
		return 0, nil
	}

	var xerr *exec.ExitError
	if !errors.As(err, &xerr) {
		return 0, fmt.Errorf("cmd.Wait(): %s", err)
	}

	if status, ok := xerr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return 128 + int(status.Signal()), nil
	}

	return xerr.ExitCode(), nil
}

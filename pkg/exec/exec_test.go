package exec

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"fusebox/pkg/config"
)

func testDeps(stdout, stderr io.Writer) *config.Dependencies {
	return &config.Dependencies{
		Stdout: func() io.Writer { return stdout },
		Stderr: func() io.Writer { return stderr },
	}
}

func TestRun(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	code, err := Run(context.Background(), &Command{
		Program: "/bin/sh",
		Args:    []string{"-c", "echo hello"},
	}, testDeps(&out, io.Discard))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if code != 0 {
		t.Errorf("Run() = %d, want 0", code)
	}
	if got := strings.TrimSpace(out.String()); got != "hello" {
		t.Errorf("stdout = %q, want %q", got, "hello")
	}
}

func TestRun_ExitCode(t *testing.T) {
	t.Parallel()

	code, err := Run(context.Background(), &Command{
		Program: "/bin/sh",
		Args:    []string{"-c", "exit 3"},
	}, testDeps(io.Discard, io.Discard))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if code != 3 {
		t.Errorf("Run() = %d, want 3", code)
	}
}

func TestRun_Stderr(t *testing.T) {
	t.Parallel()

	var errOut bytes.Buffer
	code, err := Run(context.Background(), &Command{
		Program: "/bin/sh",
		Args:    []string{"-c", "echo oops >&2; exit 1"},
	}, testDeps(io.Discard, &errOut))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if code != 1 {
		t.Errorf("Run() = %d, want 1", code)
	}
	if !strings.Contains(errOut.String(), "oops") {
		t.Errorf("stderr = %q, want it to contain %q", errOut.String(), "oops")
	}
}

func TestRun_Dir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		t.Fatalf("filepath.EvalSymlinks() error = %v", err)
	}

	var out bytes.Buffer
	code, err := Run(context.Background(), &Command{
		Program: "/bin/sh",
		Args:    []string{"-c", "pwd"},
		Dir:     dir,
	}, testDeps(&out, io.Discard))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if code != 0 {
		t.Errorf("Run() = %d, want 0", code)
	}
	if got := strings.TrimSpace(out.String()); got != resolved {
		t.Errorf("pwd = %q, want %q", got, resolved)
	}
}

func TestRun_Env(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	code, err := Run(context.Background(), &Command{
		Program: "/bin/sh",
		Args:    []string{"-c", `printf %s "$FUSEBOX_TEST_VALUE"`},
		Env:     []string{"FUSEBOX_TEST_VALUE=sandbox"},
	}, testDeps(&out, io.Discard))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if code != 0 {
		t.Errorf("Run() = %d, want 0", code)
	}
	if out.String() != "sandbox" {
		t.Errorf("stdout = %q, want %q", out.String(), "sandbox")
	}
}

func TestRun_StartError(t *testing.T) {
	t.Parallel()

	_, err := Run(context.Background(), &Command{
		Program: "/nonexistent/fusebox-test-binary",
	}, testDeps(io.Discard, io.Discard))
	if err == nil {
		t.Fatal("Run() expected error, got nil")
	}
	if !strings.Contains(err.Error(), "cmd.Start()") {
		t.Errorf("Run() error = %q, want it to mention cmd.Start()", err)
	}
}

func TestRun_ContextCancelKillsChild(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	code, err := Run(ctx, &Command{
		Program: "/bin/sh",
		Args:    []string{"-c", "sleep 10"},
	}, testDeps(io.Discard, io.Discard))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if code != 128+int(syscall.SIGKILL) {
		t.Errorf("Run() = %d, want %d", code, 128+int(syscall.SIGKILL))
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Run() took %v, child was not killed", elapsed)
	}
}

func TestRunWithPTY(t *testing.T) {
	if _, err := os.Stat("/dev/ptmx"); err != nil {
		t.Skipf("no pty device available: %v", err)
	}

	// The test binary's stdin is /dev/null. An immediate EOF there tears
	// the pty down before the child ran, so swap in a pipe that stays
	// open until the child is done.
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe() error = %v", err)
	}
	defer r.Close()
	defer w.Close()

	oldStdin := os.Stdin
	os.Stdin = r
	defer func() { os.Stdin = oldStdin }()

	code, err := RunWithPTY(context.Background(), &Command{
		Program: "/bin/sh",
		Args:    []string{"-c", "exit 5"},
	})
	if err != nil {
		t.Fatalf("RunWithPTY() error = %v", err)
	}
	if code != 5 {
		t.Errorf("RunWithPTY() = %d, want 5", code)
	}
}

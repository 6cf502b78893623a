package sandbox

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fusebox/pkg/config"
	"fusebox/pkg/exec"
	"fusebox/pkg/sandbox"
)

// requireFuse mounts and unmounts a throwaway sandbox, skipping the
// test when the environment cannot serve FUSE filesystems.
func requireFuse(t *testing.T) {
	t.Helper()

	s, err := sandbox.New(&config.Sandbox{Root: t.TempDir()}, nil, nil)
	if err != nil {
		t.Fatalf("New() failed: %s", err)
	}
	if err := s.Mount(); err != nil {
		t.Skipf("cannot mount a fuse filesystem here: %v", err)
	}
	s.Quiesce()
	if err := s.Close(); err != nil {
		t.Logf("preflight teardown: %v", err)
	}
}

func testDeps(out *bytes.Buffer, wd string) *config.Dependencies {
	return &config.Dependencies{
		Stdout: func() io.Writer { return out },
		Stderr: func() io.Writer { return out },
		Getwd:  func() (string, error) { return wd, nil },
	}
}

// TestRunCommandThroughSandbox covers what "fusebox run -- sh -c ..."
// does: the command works on the mounted twin of the source tree, its
// writes land in the source tree and the access report lists what it
// touched.
func TestRunCommandThroughSandbox(t *testing.T) {
	requireFuse(t)

	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "hello.txt"), []byte("hello from the sandbox\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %s", err)
	}

	var out bytes.Buffer
	cfg := &config.Sandbox{Root: root}
	command := &exec.Command{Program: "sh", Args: []string{"-c", "cat hello.txt > copy.txt"}}

	code, err := sandbox.Run(context.Background(), cfg, testDeps(&out, root), nil, command, false)
	if err != nil {
		t.Fatalf("Run() failed: %s", err)
	}
	if code != 0 {
		t.Fatalf("exit code = %d, want 0, output:\n%s", code, out.String())
	}

	data, err := os.ReadFile(filepath.Join(root, "copy.txt"))
	if err != nil {
		t.Fatalf("the write did not reach the source tree: %s", err)
	}
	if string(data) != "hello from the sandbox\n" {
		t.Errorf("copied content = %q", data)
	}

	report := out.String()
	for _, want := range []string{
		"read-only:",
		filepath.Join(root, "hello.txt"),
		"write-only:",
		filepath.Join(root, "copy.txt"),
	} {
		if !strings.Contains(report, want) {
			t.Errorf("report misses %q:\n%s", want, report)
		}
	}
}

// TestRunDeniedRead covers enforcement: a denied file makes the command
// fail and the denial shows up in the report.
func TestRunDeniedRead(t *testing.T) {
	requireFuse(t)

	root := t.TempDir()
	secret := filepath.Join(root, "secret.txt")
	if err := os.WriteFile(secret, []byte("credentials\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %s", err)
	}

	var out bytes.Buffer
	cfg := &config.Sandbox{
		Root:     root,
		Enforce:  true,
		DenyRead: []string{secret},
	}
	command := &exec.Command{Program: "sh", Args: []string{"-c", "cat secret.txt"}}

	code, err := sandbox.Run(context.Background(), cfg, testDeps(&out, root), nil, command, false)
	if err != nil {
		t.Fatalf("Run() failed: %s", err)
	}
	if code == 0 {
		t.Fatalf("expected a non-zero exit code, output:\n%s", out.String())
	}

	report := out.String()
	if !strings.Contains(report, "denied:") {
		t.Errorf("report misses the denied section:\n%s", report)
	}
	if !strings.Contains(report, "OPEN: "+secret+" (denied)") {
		t.Errorf("report misses the denied open of %s:\n%s", secret, report)
	}
}

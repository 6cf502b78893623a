// Package helpers provides common utilities for integration and end-to-end tests.
package helpers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"fusebox/pkg/config"
	"fusebox/pkg/docker"
)

// EngineCall is one recorded container engine invocation.
type EngineCall struct {
	Args []string
	Env  []string
}

// EngineRecorder stands in for the docker CLI: it records every
// invocation instead of executing it.
type EngineRecorder struct {
	mu    sync.Mutex
	calls []EngineCall

	// FailOn makes invocations of that engine verb fail, e.g. "build".
	FailOn string
}

// Run implements docker.CommandFunc.
func (r *EngineRecorder) Run(_ context.Context, _, _ io.Writer, env []string, _ string, args ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, EngineCall{Args: args, Env: env})
	if r.FailOn != "" && args[0] == r.FailOn {
		return errors.New("engine failure")
	}
	return nil
}

// Calls returns the recorded invocations in order.
func (r *EngineRecorder) Calls() []EngineCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]EngineCall(nil), r.calls...)
}

// Verbs returns the engine subcommand of each recorded invocation.
func (r *EngineRecorder) Verbs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, c.Args[0])
	}
	return out
}

// Setup bundles the mock dependencies for one in-process run.
type Setup struct {
	Recorder *EngineRecorder
	Engine   *docker.Engine
	Output   *bytes.Buffer
	Deps     *config.Dependencies
}

// SetupMockDependencies creates a complete set of mock dependencies
// for testing: an engine recorder instead of the docker CLI and a
// buffer instead of stdout.
func SetupMockDependencies() *Setup {
	rec := &EngineRecorder{}
	out := &bytes.Buffer{}

	return &Setup{
		Recorder: rec,
		Engine:   docker.New(&docker.Dependencies{RunCommand: rec.Run, Stdout: io.Discard, Stderr: io.Discard}),
		Output:   out,
		Deps: &config.Dependencies{
			Stdout: func() io.Writer { return out },
			Stderr: func() io.Writer { return out },
		},
	}
}

// InitWorkspace initializes a git repository at dir, commits the given
// files and returns the commit SHA.
func InitWorkspace(dir string, files map[string]string) (string, error) {
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		return "", fmt.Errorf("git.PlainInit(%s): %s", dir, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("repo.Worktree(): %s", err)
	}

	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", fmt.Errorf("os.MkdirAll(): %s", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return "", fmt.Errorf("os.WriteFile(%s): %s", name, err)
		}
		if _, err := wt.Add(filepath.ToSlash(name)); err != nil {
			return "", fmt.Errorf("wt.Add(%s): %s", name, err)
		}
	}

	hash, err := wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	if err != nil {
		return "", fmt.Errorf("wt.Commit(): %s", err)
	}
	return hash.String(), nil
}

// Package docker drives the host container engine through its CLI.
// Commands are assembled as argument vectors and executed via an
// injectable runner, so construction stays unit-testable without an
// engine installed.
package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/google/uuid"

	"fusebox/pkg/log"
)

// BuildSpec describes one image build.
type BuildSpec struct {
	ContextDir string
	Tag        string
	Env        map[string]string
}

// RunSpec describes one container run.
type RunSpec struct {
	Image      string
	Name       string
	Binds      []string
	Env        map[string]string
	Cmd        []string
	AutoRemove bool
}

// ExitError reports an engine command that ran and exited non-zero.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// CommandFunc executes one CLI invocation, streaming output to the given
// writers. A nil env inherits the parent environment.
type CommandFunc func(ctx context.Context, stdout, stderr io.Writer, env []string, name string, args ...string) error

// Dependencies can be used to inject the process hooks the engine runs
// with.
type Dependencies struct {
	RunCommand CommandFunc
	Stdout     io.Writer
	Stderr     io.Writer
}

// GetRunCommandFunc returns the command function from dependencies, or a
// default implementation backed by os/exec.
func GetRunCommandFunc(deps *Dependencies) CommandFunc {
	if deps != nil && deps.RunCommand != nil {
		return deps.RunCommand
	}
	return runCommand
}

// GetStdoutWriter returns the stdout writer from dependencies, or
// os.Stdout.
func GetStdoutWriter(deps *Dependencies) io.Writer {
	if deps != nil && deps.Stdout != nil {
		return deps.Stdout
	}
	return os.Stdout
}

// GetStderrWriter returns the stderr writer from dependencies, or
// os.Stderr.
func GetStderrWriter(deps *Dependencies) io.Writer {
	if deps != nil && deps.Stderr != nil {
		return deps.Stderr
	}
	return os.Stderr
}

func runCommand(ctx context.Context, stdout, stderr io.Writer, env []string, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = env
	return cmd.Run()
}

// Engine runs image builds and containers on the host engine.
type Engine struct {
	bin  string
	deps *Dependencies
}

// New creates an Engine using the docker binary from PATH.
func New(deps *Dependencies) *Engine {
	return &Engine{bin: "docker", deps: deps}
}

// Build builds the image described by spec, streaming engine output to
// the job log. BuildKit is always enabled.
func (e *Engine) Build(ctx context.Context, spec BuildSpec) error {
	return e.exec(ctx, buildEnv(spec.Env), buildArgs(spec)...)
}

// Run starts one container and waits for it to exit. A non-zero container
// exit comes back as *ExitError.
func (e *Engine) Run(ctx context.Context, spec RunSpec) error {
	return e.exec(ctx, nil, runArgs(spec)...)
}

// Version probes the engine, returning the server version. It fails when
// the CLI is missing or the daemon is unreachable.
func (e *Engine) Version(ctx context.Context) (string, error) {
	var buf bytes.Buffer
	run := GetRunCommandFunc(e.deps)
	if err := run(ctx, &buf, &buf, nil, e.bin, "version", "--format", "{{.Server.Version}}"); err != nil {
		return "", fmt.Errorf("docker version: %s", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func (e *Engine) exec(ctx context.Context, env []string, args ...string) error {
	log.DebugMsg("%s %s\n", e.bin, strings.Join(args, " "))

	run := GetRunCommandFunc(e.deps)
	err := run(ctx, GetStdoutWriter(e.deps), GetStderrWriter(e.deps), env, e.bin, args...)
	if err == nil {
		return nil
	}
	var xerr *exec.ExitError
	if errors.As(err, &xerr) {
		return &ExitError{Code: xerr.ExitCode()}
	}
	return fmt.Errorf("%s %s: %s", e.bin, args[0], err)
}

// buildArgs assembles the argument vector for an image build.
func buildArgs(spec BuildSpec) []string {
	return []string{"build", spec.ContextDir, "-t", spec.Tag}
}

// runArgs assembles the argument vector for a container run. Environment
// entries are emitted in key order.
func runArgs(spec RunSpec) []string {
	args := []string{"run"}
	if spec.AutoRemove {
		args = append(args, "--rm")
	}
	if spec.Name != "" {
		args = append(args, "--name", spec.Name)
	}
	for _, b := range spec.Binds {
		args = append(args, "-v", b)
	}
	for _, k := range sortedKeys(spec.Env) {
		args = append(args, "-e", k+"="+spec.Env[k])
	}
	args = append(args, spec.Image)
	args = append(args, spec.Cmd...)
	return args
}

// buildEnv is the process environment for build commands: the parent
// environment, BuildKit switched on, then the configured extras in key
// order.
func buildEnv(extra map[string]string) []string {
	env := append(os.Environ(), "DOCKER_BUILDKIT=1")
	for _, k := range sortedKeys(extra) {
		env = append(env, k+"="+extra[k])
	}
	return env
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ContainerName returns a unique container name under the given prefix.
func ContainerName(prefix string) string {
	return fmt.Sprintf("%s-%.8s", prefix, uuid.NewString())
}

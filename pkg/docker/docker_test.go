package docker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"reflect"
	"strings"
	"testing"
)

type call struct {
	name string
	args []string
	env  []string
}

// fakeRunner records invocations and plays back a scripted result.
type fakeRunner struct {
	calls  []call
	stdout string
	err    error
}

func (f *fakeRunner) run(_ context.Context, stdout, _ io.Writer, env []string, name string, args ...string) error {
	f.calls = append(f.calls, call{name: name, args: args, env: env})
	if f.stdout != "" {
		_, _ = io.WriteString(stdout, f.stdout)
	}
	return f.err
}

func TestBuildArgs(t *testing.T) {
	t.Parallel()

	got := buildArgs(BuildSpec{ContextDir: ".", Tag: "testenv"})
	want := []string{"build", ".", "-t", "testenv"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("buildArgs() = %v, want %v", got, want)
	}
}

func TestRunArgs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		spec RunSpec
		want []string
	}{
		{
			name: "image and command only",
			spec: RunSpec{Image: "testenv", Cmd: []string{"bash", "/fusebox/testkicker.sh"}},
			want: []string{"run", "testenv", "bash", "/fusebox/testkicker.sh"},
		},
		{
			name: "full pipeline run",
			spec: RunSpec{
				Image:      "testenv",
				Name:       "fusebox-test-0a1b2c3d",
				Binds:      []string{"/work:/fusebox", "/work/.cache/distfiles:/var/cache/distfiles"},
				Env:        map[string]string{"B": "2", "A": "1"},
				Cmd:        []string{"bash", "/fusebox/testkicker.sh"},
				AutoRemove: true,
			},
			want: []string{
				"run", "--rm", "--name", "fusebox-test-0a1b2c3d",
				"-v", "/work:/fusebox",
				"-v", "/work/.cache/distfiles:/var/cache/distfiles",
				"-e", "A=1", "-e", "B=2",
				"testenv", "bash", "/fusebox/testkicker.sh",
			},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := runArgs(tc.spec); !reflect.DeepEqual(got, tc.want) {
				t.Errorf("runArgs() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestEngineBuild(t *testing.T) {
	t.Parallel()

	fake := &fakeRunner{}
	engine := New(&Dependencies{RunCommand: fake.run})

	err := engine.Build(context.Background(), BuildSpec{ContextDir: ".", Tag: "testenv"})
	if err != nil {
		t.Fatalf("Build() failed: %s", err)
	}

	if len(fake.calls) != 1 {
		t.Fatalf("expected one engine call, got %d", len(fake.calls))
	}
	c := fake.calls[0]
	if c.name != "docker" {
		t.Errorf("expected docker binary, got %q", c.name)
	}
	if !reflect.DeepEqual(c.args, []string{"build", ".", "-t", "testenv"}) {
		t.Errorf("unexpected args %v", c.args)
	}

	buildkit := false
	for _, kv := range c.env {
		if kv == "DOCKER_BUILDKIT=1" {
			buildkit = true
		}
	}
	if !buildkit {
		t.Errorf("expected DOCKER_BUILDKIT=1 in build environment")
	}
}

func TestEngineRunExitCode(t *testing.T) {
	t.Parallel()

	probe := exec.Command("sh", "-c", "exit 7").Run()
	var probeErr *exec.ExitError
	if !errors.As(probe, &probeErr) {
		t.Skipf("cannot fabricate exit error: %v", probe)
	}

	fake := &fakeRunner{err: probe}
	engine := New(&Dependencies{RunCommand: fake.run})

	err := engine.Run(context.Background(), RunSpec{Image: "testenv"})
	var xerr *ExitError
	if !errors.As(err, &xerr) {
		t.Fatalf("Run() = %v, want *ExitError", err)
	}
	if xerr.Code != 7 {
		t.Errorf("exit code = %d, want 7", xerr.Code)
	}
}

func TestEngineRunSpawnError(t *testing.T) {
	t.Parallel()

	fake := &fakeRunner{err: errors.New("executable file not found")}
	engine := New(&Dependencies{RunCommand: fake.run})

	err := engine.Run(context.Background(), RunSpec{Image: "testenv"})
	if err == nil {
		t.Fatalf("expected error")
	}
	var xerr *ExitError
	if errors.As(err, &xerr) {
		t.Errorf("spawn failure must not map to ExitError, got %v", err)
	}
	if !strings.Contains(err.Error(), "docker run") {
		t.Errorf("unexpected error: %s", err)
	}
}

func TestEngineVersion(t *testing.T) {
	t.Parallel()

	fake := &fakeRunner{stdout: "24.0.7\n"}
	engine := New(&Dependencies{RunCommand: fake.run})

	got, err := engine.Version(context.Background())
	if err != nil {
		t.Fatalf("Version() failed: %s", err)
	}
	if got != "24.0.7" {
		t.Errorf("Version() = %q, want %q", got, "24.0.7")
	}
	if args := fake.calls[0].args; args[0] != "version" {
		t.Errorf("unexpected args %v", args)
	}
}

func TestEngineOutputStreams(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	fake := &fakeRunner{stdout: "step 1/4\n"}
	engine := New(&Dependencies{RunCommand: fake.run, Stdout: &out})

	if err := engine.Build(context.Background(), BuildSpec{ContextDir: ".", Tag: "t"}); err != nil {
		t.Fatalf("Build() failed: %s", err)
	}
	if out.String() != "step 1/4\n" {
		t.Errorf("expected engine output on the injected writer, got %q", out.String())
	}
}

func TestContainerName(t *testing.T) {
	t.Parallel()

	a := ContainerName("fusebox-test")
	b := ContainerName("fusebox-test")

	if !strings.HasPrefix(a, "fusebox-test-") {
		t.Errorf("ContainerName() = %q, want fusebox-test- prefix", a)
	}
	if len(a) != len("fusebox-test-")+8 {
		t.Errorf("ContainerName() = %q, want 8 id characters", a)
	}
	if a == b {
		t.Errorf("expected unique names, got %q twice", a)
	}
}

// Package pipeline executes the repository test workflow: restore the
// build cache partitions, build the test image, run the test container
// against the workspace, save the caches back on success.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"fusebox/pkg/cache"
	"fusebox/pkg/config"
	"fusebox/pkg/docker"
	"fusebox/pkg/format"
	"fusebox/pkg/gitinfo"
	"fusebox/pkg/log"
	"fusebox/pkg/metrics"
)

// Step statuses reported in summaries and metrics.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Cache results reported in metrics.
const (
	cacheHit         = "hit"
	cachePartial     = "partial"
	cacheMiss        = "miss"
	cacheSaved       = "saved"
	cacheSaveSkipped = "save_skipped"
)

// Event is the trigger a job runs for. Empty Branch or SHA are resolved
// from the workspace repository during checkout.
type Event struct {
	Name   string
	Branch string
	SHA    string
}

// Step is the timed outcome of one pipeline step.
type Step struct {
	Name     string
	Status   string
	Duration time.Duration
	Err      error
}

// Summary reports one pipeline execution.
type Summary struct {
	Event   Event
	Skipped bool
	Steps   []Step
}

// Failed reports whether any step failed.
func (s *Summary) Failed() bool {
	for _, st := range s.Steps {
		if st.Status == StatusFailed {
			return true
		}
	}
	return false
}

// Render writes the step table.
func (s *Summary) Render(w io.Writer) {
	for _, st := range s.Steps {
		fmt.Fprintf(w, "%-20s %-7s %s\n", st.Name, st.Status, st.Duration.Round(time.Millisecond))
	}
}

// Options carries the collaborators a Job runs with.
type Options struct {
	Store   *cache.Store
	Engine  *docker.Engine
	Deps    *config.Dependencies
	Metrics *metrics.Pipeline
}

// Job is one execution of the test pipeline for a workspace.
type Job struct {
	cfg       *config.Test
	workspace string
	store     *cache.Store
	engine    *docker.Engine
	deps      *config.Dependencies
	metrics   *metrics.Pipeline

	// partitions restored from their exact key, their save step is a no-op
	exactHits map[string]bool
}

// NewJob prepares a pipeline run for the given workspace. A nil cfg uses
// the stock pipeline.
func NewJob(cfg *config.Test, workspace string, opts Options) (*Job, error) {
	if cfg == nil {
		cfg = config.DefaultTest()
	}
	if opts.Store == nil || opts.Engine == nil {
		return nil, fmt.Errorf("job needs a cache store and a container engine")
	}
	abs, err := filepath.Abs(workspace)
	if err != nil {
		return nil, fmt.Errorf("filepath.Abs(%s): %s", workspace, err)
	}

	return &Job{
		cfg:       cfg,
		workspace: abs,
		store:     opts.Store,
		engine:    opts.Engine,
		deps:      opts.Deps,
		metrics:   opts.Metrics,
		exactHits: make(map[string]bool),
	}, nil
}

// Run executes the pipeline for ev. Steps run in order and the first
// failure aborts the job; there are no retries. An event the trigger
// configuration does not cover skips the job without error.
func (j *Job) Run(ctx context.Context, ev Event) (*Summary, error) {
	sum := &Summary{Event: ev}

	if err := j.step(ctx, sum, "checkout", func(context.Context) error {
		return j.checkout(&ev)
	}); err != nil {
		return sum, err
	}
	sum.Event = ev

	if !j.cfg.Matches(ev.Name, ev.Branch) {
		sum.Skipped = true
		j.printf("No trigger for event %s on branch %s, skipping\n", ev.Name, ev.Branch)
		return sum, nil
	}

	if err := j.step(ctx, sum, "provision", func(context.Context) error {
		return j.provision()
	}); err != nil {
		return sum, err
	}

	for _, c := range j.cfg.Caches {
		c := c
		if err := j.step(ctx, sum, "restore-"+c.Name, func(ctx context.Context) error {
			return j.restore(ctx, ev, c)
		}); err != nil {
			return sum, err
		}
	}

	if err := j.step(ctx, sum, "build", func(ctx context.Context) error {
		return j.build(ctx)
	}); err != nil {
		return sum, err
	}

	if err := j.step(ctx, sum, "run", func(ctx context.Context) error {
		return j.runContainer(ctx)
	}); err != nil {
		return sum, err
	}

	for _, c := range j.cfg.Caches {
		c := c
		if err := j.step(ctx, sum, "save-"+c.Name, func(ctx context.Context) error {
			return j.save(ctx, ev, c)
		}); err != nil {
			return sum, err
		}
	}

	return sum, nil
}

func (j *Job) step(ctx context.Context, sum *Summary, name string, fn func(context.Context) error) error {
	j.printf("==> %s\n", name)

	start := time.Now()
	err := fn(ctx)
	d := time.Since(start)

	status := StatusOK
	if err != nil {
		status = StatusFailed
	}
	j.metrics.ObserveStep(name, status, d)
	sum.Steps = append(sum.Steps, Step{Name: name, Status: status, Duration: d, Err: err})

	if err != nil {
		// %w so callers can still pull the container exit code out of
		// a failed test step with errors.As.
		return fmt.Errorf("step %s: %w", name, err)
	}
	return nil
}

// checkout verifies the workspace is a git worktree and fills the event
// fields not supplied by flags from HEAD.
func (j *Job) checkout(ev *Event) error {
	if !gitinfo.IsRepository(j.workspace) {
		return fmt.Errorf("%s is not a git worktree", j.workspace)
	}
	if ev.SHA != "" && ev.Branch != "" {
		return nil
	}

	info, err := gitinfo.Read(j.workspace)
	if err != nil {
		return err
	}
	if ev.SHA == "" {
		ev.SHA = info.SHA
	}
	if ev.Branch == "" {
		ev.Branch = info.Branch
	}
	if info.Dirty {
		log.WarnMsg("Worktree has uncommitted changes, cache keys use HEAD %.8s\n", info.SHA)
	}
	return nil
}

func (j *Job) provision() error {
	for _, c := range j.cfg.Caches {
		dir := j.cacheDir(c)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("os.MkdirAll(%s): %s", dir, err)
		}
	}
	return nil
}

func (j *Job) restore(ctx context.Context, ev Event, c *config.CacheCfg) error {
	key := cache.BuildKey(c.Name, ev.SHA)
	m, err := j.store.Restore(ctx, c.Name, key, cache.KeyPrefix(c.Name), j.cacheDir(c))
	if err != nil {
		return err
	}

	switch {
	case m == nil:
		j.metrics.IncrementCacheEvent(c.Name, cacheMiss)
		j.printf("Cache %s: miss for key %s\n", c.Name, key)
	case m.Exact:
		j.exactHits[c.Name] = true
		j.metrics.IncrementCacheEvent(c.Name, cacheHit)
		j.printf("Cache %s: hit for key %s (%s)\n", c.Name, key, format.Bytes(m.Size))
	default:
		j.metrics.IncrementCacheEvent(c.Name, cachePartial)
		j.printf("Cache %s: restored from %s (%s)\n", c.Name, m.Key, format.Bytes(m.Size))
	}
	return nil
}

func (j *Job) build(ctx context.Context) error {
	contextDir := j.cfg.Image.Context
	if !filepath.IsAbs(contextDir) {
		contextDir = filepath.Join(j.workspace, contextDir)
	}
	return j.engine.Build(ctx, docker.BuildSpec{
		ContextDir: contextDir,
		Tag:        j.cfg.Image.Tag,
		Env:        j.cfg.Env,
	})
}

func (j *Job) runContainer(ctx context.Context) error {
	binds := []string{j.workspace + ":" + j.cfg.Container.Mount}
	for _, c := range j.cfg.Caches {
		binds = append(binds, j.cacheDir(c)+":"+c.Target)
	}

	return j.engine.Run(ctx, docker.RunSpec{
		Image:      j.cfg.Image.Tag,
		Name:       docker.ContainerName("fusebox-test"),
		Binds:      binds,
		Env:        j.cfg.Env,
		Cmd:        []string{j.cfg.Container.Shell, j.cfg.Container.Script},
		AutoRemove: true,
	})
}

// save packs a partition back into the store. A partition restored from
// its exact key keeps the stored entry untouched.
func (j *Job) save(ctx context.Context, ev Event, c *config.CacheCfg) error {
	key := cache.BuildKey(c.Name, ev.SHA)
	if j.exactHits[c.Name] || j.store.Has(c.Name, key) {
		j.metrics.IncrementCacheEvent(c.Name, cacheSaveSkipped)
		j.printf("Cache %s: entry for key %s already present, not saving\n", c.Name, key)
		return nil
	}
	if err := j.store.Save(ctx, c.Name, key, j.cacheDir(c)); err != nil {
		return err
	}
	j.metrics.IncrementCacheEvent(c.Name, cacheSaved)
	j.printf("Cache %s: saved key %s\n", c.Name, key)
	return nil
}

func (j *Job) cacheDir(c *config.CacheCfg) string {
	if filepath.IsAbs(c.Dir) {
		return c.Dir
	}
	return filepath.Join(j.workspace, c.Dir)
}

func (j *Job) printf(format string, a ...any) {
	fmt.Fprintf(config.GetStdoutFunc(j.deps)(), format, a...)
}

package config

import (
	"fmt"
	"sort"
	"strings"
)

// Test configures the container test pipeline run by 'fusebox test'.
// Unset sections fall back to the stock Gentoo build pipeline, see
// DefaultTest.
type Test struct {
	On        map[string][]string `yaml:"on"`
	Env       map[string]string   `yaml:"env"`
	Caches    []*CacheCfg         `yaml:"caches"`
	Image     Image               `yaml:"image"`
	Container Container           `yaml:"container"`
	Store     string              `yaml:"store"`
}

// CacheCfg describes one cache partition: a host directory that is
// persisted between runs and bind mounted into the test container.
type CacheCfg struct {
	Name   string `yaml:"name"`
	Dir    string `yaml:"dir"`
	Target string `yaml:"target"`
}

// Image describes the docker build step.
type Image struct {
	Context string `yaml:"context"`
	Tag     string `yaml:"tag"`
}

// Container describes how the test container is started: where the
// workspace is mounted and which script the shell executes.
type Container struct {
	Mount  string `yaml:"mount"`
	Shell  string `yaml:"shell"`
	Script string `yaml:"script"`
}

// DefaultTest returns the stock pipeline: triggered by pushes and pull
// requests on master, two Portage cache partitions, an image tagged
// testenv and a test script executed from the workspace mount.
func DefaultTest() *Test {
	return &Test{
		On: map[string][]string{
			"push":         {"master"},
			"pull_request": {"master"},
		},
		Env: map[string]string{
			"docker_registory": "docker.pkg.github.com", // historical name, kept as is
		},
		Caches: []*CacheCfg{
			{Name: "distfiles", Dir: ".cache/distfiles", Target: "/var/cache/distfiles"},
			{Name: "binpkgs", Dir: ".cache/binpkgs", Target: "/var/cache/binpkgs"},
		},
		Image: Image{
			Context: ".",
			Tag:     "testenv",
		},
		Container: Container{
			Mount:  "/fusebox",
			Shell:  "bash",
			Script: "/fusebox/testkicker.sh",
		},
	}
}

// ApplyDefaults fills unset sections with the stock pipeline values.
func (c *Test) ApplyDefaults() {
	d := DefaultTest()

	if len(c.On) == 0 {
		c.On = d.On
	}
	if c.Env == nil {
		c.Env = d.Env
	}
	if len(c.Caches) == 0 {
		c.Caches = d.Caches
	}
	if c.Image.Context == "" {
		c.Image.Context = d.Image.Context
	}
	if c.Image.Tag == "" {
		c.Image.Tag = d.Image.Tag
	}
	if c.Container.Mount == "" {
		c.Container.Mount = d.Container.Mount
	}
	if c.Container.Shell == "" {
		c.Container.Shell = d.Container.Shell
	}
	if c.Container.Script == "" {
		c.Container.Script = d.Container.Script
	}
}

// Events returns the configured trigger events in stable order.
func (c *Test) Events() []string {
	out := make([]string, 0, len(c.On))
	for ev := range c.On {
		out = append(out, ev)
	}
	sort.Strings(out)

	return out
}

// Matches reports whether the pipeline is triggered by the given event
// on the given branch. Branch names match exactly.
func (c *Test) Matches(event, branch string) bool {
	for _, b := range c.On[event] {
		if b == branch {
			return true
		}
	}

	return false
}

// Validate ...
func (c *Test) Validate() []error {
	var errors []error

	for ev, branches := range c.On {
		if ev == "" {
			errors = append(errors, fmt.Errorf("'on' events must not be empty"))
		}
		if len(branches) == 0 {
			errors = append(errors, fmt.Errorf("'on' event %s: branch list must not be empty", ev))
		}
	}

	seen := make(map[string]bool)
	for _, cc := range c.Caches {
		for _, err := range cc.validate() {
			errors = append(errors, fmt.Errorf("cache %s: %s", cc.Name, err))
		}
		if seen[cc.Name] {
			errors = append(errors, fmt.Errorf("cache %s: duplicate name", cc.Name))
		}
		seen[cc.Name] = true
	}

	if c.Image.Context == "" {
		errors = append(errors, fmt.Errorf("image context must not be empty"))
	}
	if c.Image.Tag == "" {
		errors = append(errors, fmt.Errorf("image tag must not be empty"))
	} else if c.Image.Tag != strings.ToLower(c.Image.Tag) {
		errors = append(errors, fmt.Errorf("image tag %s: must be lowercase", c.Image.Tag))
	}

	if err := validateAbs(c.Container.Mount); err != nil {
		errors = append(errors, fmt.Errorf("container mount %s: %s", c.Container.Mount, err))
	}
	if c.Container.Shell == "" {
		errors = append(errors, fmt.Errorf("container shell must not be empty"))
	}
	if c.Container.Script == "" {
		errors = append(errors, fmt.Errorf("container script must not be empty"))
	}

	return errors
}

func (cc *CacheCfg) validate() []error {
	var errors []error

	if cc.Name == "" {
		errors = append(errors, fmt.Errorf("name must not be empty"))
	} else if strings.ContainsAny(cc.Name, "/\\ \t") {
		errors = append(errors, fmt.Errorf("name must not contain separators or spaces"))
	}

	if cc.Dir == "" {
		errors = append(errors, fmt.Errorf("dir must not be empty"))
	}

	if err := validateAbs(cc.Target); err != nil {
		errors = append(errors, fmt.Errorf("target %s: %s", cc.Target, err))
	}

	return errors
}

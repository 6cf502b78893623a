package config

import (
	"fmt"
	"path/filepath"
)

// Sandbox configures the FUSE passthrough mount and its access rules.
// Deny rules are path prefixes below the source directory; Allow rules
// punch holes into denied subtrees. An empty Mountpoint means a
// temporary one is created for the duration of the mount.
type Sandbox struct {
	Root       string   `yaml:"root"`
	Mountpoint string   `yaml:"mountpoint"`
	AllowOther bool     `yaml:"allow_other"`
	Debug      bool     `yaml:"debug"`
	Enforce    bool     `yaml:"enforce"`
	DenyRead   []string `yaml:"deny_read"`
	DenyWrite  []string `yaml:"deny_write"`
	Allow      []string `yaml:"allow"`
	AuditDB    string   `yaml:"audit_db"`
	AuditLog   string   `yaml:"audit_log"`
}

// Validate ...
func (c *Sandbox) Validate() []error {
	var errors []error

	if c.Root == "" {
		errors = append(errors, fmt.Errorf("source directory must not be empty"))
	}

	if c.Root != "" && c.Root == c.Mountpoint {
		errors = append(errors, fmt.Errorf("source directory and mountpoint must differ"))
	}

	for _, p := range c.DenyRead {
		if err := validateAbs(p); err != nil {
			errors = append(errors, fmt.Errorf("'--deny-read' %s: %s", p, err))
		}
	}

	for _, p := range c.DenyWrite {
		if err := validateAbs(p); err != nil {
			errors = append(errors, fmt.Errorf("'--deny-write' %s: %s", p, err))
		}
	}

	for _, p := range c.Allow {
		if err := validateAbs(p); err != nil {
			errors = append(errors, fmt.Errorf("'--allow' %s: %s", p, err))
		}
	}

	return errors
}

func validateAbs(path string) error {
	if !filepath.IsAbs(path) {
		return fmt.Errorf("must be an absolute path")
	}

	return nil
}

// Package auditor decides whether the sandboxed process may touch a
// path. Rules are absolute path prefixes, split into a read class and a
// write class; allow rules punch holes into denied subtrees. The most
// specific matching rule wins, and a path without any matching rule is
// permitted.
package auditor

import (
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"fusebox/pkg/config"
)

// Auditor holds the rule sets. The zero value permits everything and
// does not enforce.
type Auditor struct {
	mu        sync.RWMutex
	denyRead  []string
	denyWrite []string
	allow     []string
	enforce   bool
}

// New returns an empty auditor.
func New() *Auditor {
	return &Auditor{}
}

// FromConfig builds an auditor from the sandbox configuration.
func FromConfig(cfg *config.Sandbox) *Auditor {
	a := New()
	for _, p := range cfg.DenyRead {
		a.DenyRead(p)
	}
	for _, p := range cfg.DenyWrite {
		a.DenyWrite(p)
	}
	for _, p := range cfg.Allow {
		a.Allow(p)
	}
	a.SetEnforce(cfg.Enforce)

	return a
}

// DenyRead registers a prefix whose subtree must not be read.
func (a *Auditor) DenyRead(prefix string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.denyRead = append(a.denyRead, clean(prefix))
}

// DenyWrite registers a prefix whose subtree must not be modified.
func (a *Auditor) DenyWrite(prefix string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.denyWrite = append(a.denyWrite, clean(prefix))
}

// Allow registers a prefix that is exempt from deny rules. It applies
// to both access classes.
func (a *Auditor) Allow(prefix string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.allow = append(a.allow, clean(prefix))
}

// SetEnforce switches between enforcing denials and observe-only mode.
func (a *Auditor) SetEnforce(on bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enforce = on
}

// Enforcing reports whether denied accesses are refused rather than
// merely recorded.
func (a *Auditor) Enforcing() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.enforce
}

// Readable reports whether the path may be read.
func (a *Auditor) Readable(path string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return decide(a.denyRead, a.allow, path)
}

// Writable reports whether the path may be created, modified or
// removed.
func (a *Auditor) Writable(path string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return decide(a.denyWrite, a.allow, path)
}

// PermittedOpen reports whether an open with the given flags may
// proceed. O_TRUNC and O_CREAT count as writes even with O_RDONLY.
func (a *Auditor) PermittedOpen(path string, flags uint32) bool {
	f := int(flags)
	needsWrite := f&unix.O_ACCMODE != unix.O_RDONLY || f&(unix.O_TRUNC|unix.O_CREAT) != 0
	needsRead := f&unix.O_ACCMODE != unix.O_WRONLY

	if needsWrite && !a.Writable(path) {
		return false
	}
	if needsRead && !a.Readable(path) {
		return false
	}
	return true
}

// decide picks the most specific matching prefix across the deny list
// and the allow list. An allow match of equal length beats the deny.
func decide(deny, allow []string, path string) bool {
	return longestMatch(allow, path) >= longestMatch(deny, path)
}

// longestMatch returns the length of the longest rule prefix matching
// path, or -1 when none does.
func longestMatch(rules []string, path string) int {
	best := -1
	for _, r := range rules {
		if !matches(r, path) {
			continue
		}
		if len(r) > best {
			best = len(r)
		}
	}
	return best
}

// matches is a path-aware prefix test: /etc matches /etc and
// /etc/portage but not /etcetera.
func matches(prefix, path string) bool {
	if prefix == "/" {
		return strings.HasPrefix(path, "/")
	}
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+"/")
}

func clean(prefix string) string {
	if prefix != "/" {
		prefix = strings.TrimRight(prefix, "/")
	}
	return prefix
}

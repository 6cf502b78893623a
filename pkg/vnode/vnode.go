// Package vnode tracks the mapping between vnode numbers handed to the
// kernel, the absolute paths they currently refer to, and the file
// descriptors open on them. A node can own several paths at once
// (hardlinks) and several descriptors (concurrent opens).
package vnode

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ID is a vnode number as reported to the kernel in stat results and
// entry replies.
type ID uint64

// RootID is the fixed vnode number of the filesystem root.
const RootID ID = 1

// Info describes one live node: its paths, its open descriptors and the
// kernel lookup reference count. All mutation goes through the owning
// Table, which holds the lock.
type Info struct {
	id       ID
	paths    map[string]struct{}
	fds      map[int]struct{}
	refcount int64
}

// ID returns the vnode number.
func (vi *Info) ID() ID {
	return vi.id
}

func (vi *Info) String() string {
	return fmt.Sprintf("vnode-%d %v", vi.id, vi.pathList())
}

func (vi *Info) pathList() []string {
	out := make([]string, 0, len(vi.paths))
	for p := range vi.paths {
		out = append(out, p)
	}
	return out
}

// Table is the bookkeeping for all live nodes of one mount: bijections
// between vnode numbers, paths and open descriptors, plus the payout
// counter for fresh numbers.
type Table struct {
	mu     sync.Mutex
	byID   map[ID]*Info
	byPath map[string]*Info
	byFD   map[int]*Info
	next   ID

	// exists is swapped in tests to avoid touching the real filesystem.
	exists func(string) bool
}

// NewTable creates a table with the given directory installed as the
// root node under RootID.
func NewTable(rootPath string) (*Table, error) {
	rootPath, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, fmt.Errorf("filepath.Abs(%s): %s", rootPath, err)
	}

	fi, err := os.Lstat(rootPath)
	if err != nil {
		return nil, fmt.Errorf("os.Lstat(%s): %s", rootPath, err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("%s: not a directory", rootPath)
	}

	t := &Table{
		byID:   make(map[ID]*Info),
		byPath: make(map[string]*Info),
		byFD:   make(map[int]*Info),
		next:   RootID,
		exists: func(p string) bool {
			_, err := os.Lstat(p)
			return err == nil
		},
	}

	root := &Info{
		id:    RootID,
		paths: map[string]struct{}{rootPath: {}},
		fds:   make(map[int]struct{}),
		// the root is pinned, it never hits zero
		refcount: 1,
	}
	t.byID[RootID] = root
	t.byPath[rootPath] = root

	return t, nil
}

// Root returns the root node.
func (t *Table) Root() *Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byID[RootID]
}

// Create registers a fresh node with the next free vnode number and a
// lookup count of zero.
func (t *Table) Create() *Info {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.next++
	vi := &Info{
		id:    t.next,
		paths: make(map[string]struct{}),
		fds:   make(map[int]struct{}),
	}
	t.byID[vi.id] = vi
	return vi
}

// ByID returns the node for a vnode number. Stale paths are pruned
// before the node is handed out.
func (t *Table) ByID(id ID) (*Info, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	vi, ok := t.byID[id]
	if !ok {
		return nil, false
	}
	t.cleanupLocked(vi)
	return vi, true
}

// ByPath returns the node currently owning the given absolute path.
func (t *Table) ByPath(path string) (*Info, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	vi, ok := t.byPath[path]
	return vi, ok
}

// ByFD returns the node an open descriptor belongs to.
func (t *Table) ByFD(fd int) (*Info, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	vi, ok := t.byFD[fd]
	return vi, ok
}

// AddPath registers path with the node. When incRef is true the kernel
// lookup count is bumped as well; readdir-style registrations pass
// false. A path owned by another node is stolen from it, which happens
// when a file gets overwritten in place.
func (t *Table) AddPath(vi *Info, path string, incRef bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.byPath[path]; ok && prev != vi {
		delete(prev.paths, path)
		t.maybeUnbindLocked(prev)
	}

	vi.paths[path] = struct{}{}
	t.byPath[path] = vi
	if incRef {
		vi.refcount++
	}
}

// RemovePath unregisters path from the node. A node left without paths,
// descriptors and references is unbound.
func (t *Table) RemovePath(vi *Info, path string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(vi.paths, path)
	if t.byPath[path] == vi {
		delete(t.byPath, path)
	}
	t.maybeUnbindLocked(vi)
}

// Rename moves the node owning oldPath over to newPath without touching
// reference counts.
func (t *Table) Rename(oldPath, newPath string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	vi, ok := t.byPath[oldPath]
	if !ok {
		return
	}

	if prev, ok := t.byPath[newPath]; ok && prev != vi {
		delete(prev.paths, newPath)
		t.maybeUnbindLocked(prev)
	}

	delete(vi.paths, oldPath)
	delete(t.byPath, oldPath)
	vi.paths[newPath] = struct{}{}
	t.byPath[newPath] = vi
}

// Forget drops n kernel references from the node. Nodes forgotten down
// to zero are unbound unless a descriptor is still open. Forgetting an
// unknown vnode is a no-op, the kernel may flush after we already
// dropped the node.
func (t *Table) Forget(id ID, n uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	vi, ok := t.byID[id]
	if !ok || id == RootID {
		return
	}
	vi.refcount -= int64(n)
	t.maybeUnbindLocked(vi)
}

// OpenFD records an open descriptor for the node.
func (t *Table) OpenFD(vi *Info, fd int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	vi.fds[fd] = struct{}{}
	t.byFD[fd] = vi
}

// CloseFD drops the descriptor mapping and returns the node it belonged
// to, unbinding it when nothing else keeps it alive.
func (t *Table) CloseFD(fd int) (*Info, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	vi, ok := t.byFD[fd]
	if !ok {
		return nil, false
	}
	delete(vi.fds, fd)
	delete(t.byFD, fd)
	t.maybeUnbindLocked(vi)
	return vi, true
}

// Path returns a representative path of the node, pruning stale ones
// first. ok is false when no valid path remains.
func (t *Table) Path(vi *Info) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cleanupLocked(vi)
	for p := range vi.paths {
		return p, true
	}
	return "", false
}

// Paths returns a copy of all currently valid paths of the node.
func (t *Table) Paths(vi *Info) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cleanupLocked(vi)
	return vi.pathList()
}

// FDs returns a copy of the open descriptors of the node.
func (t *Table) FDs(vi *Info) []int {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]int, 0, len(vi.fds))
	for fd := range vi.fds {
		out = append(out, fd)
	}
	return out
}

// Refcount returns the current kernel lookup count of the node.
func (t *Table) Refcount(vi *Info) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return vi.refcount
}

// Contains reports whether a vnode number is still bound.
func (t *Table) Contains(id ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.byID[id]
	return ok
}

// JoinPath joins a parent path and entry name into a clean absolute
// path.
func JoinPath(parent, name string) string {
	return filepath.Join(parent, name)
}

// cleanupLocked prunes paths whose backing file vanished. Rename or
// unlink of an ancestor directory invalidates registered paths; they
// are detected here, on access, rather than eagerly.
func (t *Table) cleanupLocked(vi *Info) {
	for p := range vi.paths {
		if t.exists(p) {
			continue
		}
		delete(vi.paths, p)
		if t.byPath[p] == vi {
			delete(t.byPath, p)
		}
	}
}

// maybeUnbindLocked removes a node once the kernel holds no more
// references to it and no descriptor is open. An unlinked node with a
// positive refcount stays bound until the matching Forget arrives. The
// root node is never removed.
func (t *Table) maybeUnbindLocked(vi *Info) {
	if vi.id == RootID {
		return
	}
	if len(vi.fds) > 0 || vi.refcount > 0 {
		return
	}
	for p := range vi.paths {
		if t.byPath[p] == vi {
			delete(t.byPath, p)
		}
	}
	delete(t.byID, vi.id)
}

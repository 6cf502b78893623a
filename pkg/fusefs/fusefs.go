// Package fusefs implements the passthrough filesystem: every
// operation is forwarded 1:1 to an underlying source directory while
// the access trace is recorded and checked against the auditor's rules.
// It speaks the raw FUSE protocol; vnode numbers handed to the kernel
// come from the vnode table, not from the backing filesystem.
package fusefs

import (
	"fmt"
	"sync"

	"github.com/hanwen/go-fuse/v2/fuse"

	"fusebox/pkg/audit"
	"fusebox/pkg/auditor"
	"fusebox/pkg/log"
	"fusebox/pkg/metrics"
	"fusebox/pkg/vnode"
)

// Options carries the optional collaborators of a mount. Nil fields
// disable the respective concern.
type Options struct {
	Auditor *auditor.Auditor
	Worker  *audit.Worker
	Metrics *metrics.FS
}

// FS is the passthrough filesystem. Unimplemented operations fall
// through to the embedded default, which answers ENOSYS.
type FS struct {
	fuse.RawFileSystem

	table      *vnode.Table
	root       string
	mountpoint string
	aud        *auditor.Auditor
	worker     *audit.Worker
	fsm        *metrics.FS
	stats      *Stats

	mu      sync.Mutex
	dirs    map[uint64]*dirStream
	nextDir uint64
}

// New builds a filesystem serving the contents of root. The mountpoint
// is hidden from the tree so a mount nested inside its own source does
// not recurse.
func New(root, mountpoint string, opts Options) (*FS, error) {
	table, err := vnode.NewTable(root)
	if err != nil {
		return nil, fmt.Errorf("vnode.NewTable(): %s", err)
	}

	return &FS{
		RawFileSystem: fuse.NewDefaultRawFileSystem(),
		table:         table,
		root:          root,
		mountpoint:    mountpoint,
		aud:           opts.Auditor,
		worker:        opts.Worker,
		fsm:           opts.Metrics,
		stats:         NewStats(),
		dirs:          make(map[uint64]*dirStream),
	}, nil
}

func (fs *FS) String() string {
	return "fusebox"
}

// Stats returns the open-mode statistics collected so far.
func (fs *FS) Stats() *Stats {
	return fs.stats
}

// report records one observed operation in the trace and the metrics.
func (fs *FS) report(header *fuse.InHeader, op audit.Op, path, target string, allowed bool) {
	fs.fsm.IncrementOp(string(op))
	if !allowed {
		fs.fsm.IncrementDenied(string(op))
	}

	if log.Debugging() {
		log.DebugMsg("%s\n", audit.Event{Op: op, Path: path, Target: target, Allowed: allowed}.Line())
	}

	if fs.worker == nil {
		return
	}

	ev := audit.Event{Op: op, Path: path, Target: target, Allowed: allowed}
	if header != nil {
		ev.PID = header.Caller.Pid
		ev.UID = header.Caller.Uid
	}
	fs.worker.Publish(ev)
}

func (fs *FS) readable(path string) bool {
	if fs.aud == nil {
		return true
	}
	return fs.aud.Readable(path)
}

func (fs *FS) writable(path string) bool {
	if fs.aud == nil {
		return true
	}
	return fs.aud.Writable(path)
}

func (fs *FS) permittedOpen(path string, flags uint32) bool {
	if fs.aud == nil {
		return true
	}
	return fs.aud.PermittedOpen(path, flags)
}

func (fs *FS) enforcing() bool {
	return fs.aud != nil && fs.aud.Enforcing()
}

// node resolves a vnode number sent by the kernel.
func (fs *FS) node(id uint64) (*vnode.Info, fuse.Status) {
	vi, ok := fs.table.ByID(vnode.ID(id))
	if !ok {
		return nil, fuse.ENOENT
	}
	return vi, fuse.OK
}

// nodePath resolves a vnode number to its representative path.
func (fs *FS) nodePath(id uint64) (*vnode.Info, string, fuse.Status) {
	vi, status := fs.node(id)
	if status != fuse.OK {
		return nil, "", status
	}
	path, ok := fs.table.Path(vi)
	if !ok {
		return nil, "", fuse.ENOENT
	}
	return vi, path, fuse.OK
}

// childPath builds the backing path for a directory entry.
func (fs *FS) childPath(parent uint64, name string) (string, fuse.Status) {
	_, dir, status := fs.nodePath(parent)
	if status != fuse.OK {
		return "", status
	}
	return vnode.JoinPath(dir, name), fuse.OK
}

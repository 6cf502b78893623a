package fusefs

import (
	"os"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
	"golang.org/x/sys/unix"

	"fusebox/pkg/audit"
	"fusebox/pkg/vnode"
)

const (
	entryTimeout = time.Second
	attrTimeout  = time.Second
)

// registerPath finds or creates the node for a backing path. Each
// lookup reply increments the kernel reference, readdir registrations
// pass ref=false.
func (fs *FS) registerPath(path string, ref bool) *vnode.Info {
	vi, ok := fs.table.ByPath(path)
	if !ok {
		vi = fs.table.Create()
	}
	fs.table.AddPath(vi, path, ref)
	return vi
}

func (fs *FS) fillEntry(vi *vnode.Info, st *syscall.Stat_t, out *fuse.EntryOut) {
	out.NodeId = uint64(vi.ID())
	out.Attr.FromStat(st)
	out.Ino = uint64(vi.ID())
	out.SetEntryTimeout(entryTimeout)
	out.SetAttrTimeout(attrTimeout)
}

func (fs *FS) fillAttr(vi *vnode.Info, st *syscall.Stat_t, out *fuse.AttrOut) {
	out.Attr.FromStat(st)
	out.Ino = uint64(vi.ID())
	out.SetTimeout(attrTimeout)
}

func (fs *FS) Lookup(cancel <-chan struct{}, header *fuse.InHeader, name string, out *fuse.EntryOut) fuse.Status {
	path, status := fs.childPath(header.NodeId, name)
	if status != fuse.OK {
		return status
	}
	if path == fs.mountpoint {
		return fuse.ENOENT
	}

	var st syscall.Stat_t
	if err := syscall.Lstat(path, &st); err != nil {
		return fuse.ToStatus(err)
	}

	vi := fs.registerPath(path, true)
	fs.fillEntry(vi, &st, out)
	return fuse.OK
}

func (fs *FS) Forget(nodeid, nlookup uint64) {
	fs.table.Forget(vnode.ID(nodeid), nlookup)
}

func (fs *FS) GetAttr(cancel <-chan struct{}, input *fuse.GetAttrIn, out *fuse.AttrOut) fuse.Status {
	vi, status := fs.node(input.NodeId)
	if status != fuse.OK {
		return status
	}

	var st syscall.Stat_t
	if path, ok := fs.table.Path(vi); ok {
		if path == fs.mountpoint {
			return fuse.ENOENT
		}
		if err := syscall.Lstat(path, &st); err != nil {
			return fuse.ToStatus(err)
		}
	} else if fds := fs.table.FDs(vi); len(fds) > 0 {
		// unlinked but still open
		if err := syscall.Fstat(fds[0], &st); err != nil {
			return fuse.ToStatus(err)
		}
	} else {
		return fuse.ENOENT
	}

	fs.fillAttr(vi, &st, out)
	return fuse.OK
}

func (fs *FS) SetAttr(cancel <-chan struct{}, input *fuse.SetAttrIn, out *fuse.AttrOut) fuse.Status {
	vi, status := fs.node(input.NodeId)
	if status != fuse.OK {
		return status
	}

	path, hasPath := fs.table.Path(vi)
	fd := -1
	if fh, ok := input.GetFh(); ok {
		fd = int(fh)
	} else if fds := fs.table.FDs(vi); !hasPath && len(fds) > 0 {
		fd = fds[0]
	}
	if !hasPath && fd < 0 {
		return fuse.ENOENT
	}

	allowed := !hasPath || fs.writable(path)
	fs.report(&input.InHeader, audit.OpSetattr, path, "", allowed)
	if !allowed && fs.enforcing() {
		return fuse.EACCES
	}

	if size, ok := input.GetSize(); ok {
		var err error
		if fd >= 0 {
			err = syscall.Ftruncate(fd, int64(size))
		} else {
			err = syscall.Truncate(path, int64(size))
		}
		if err != nil {
			return fuse.ToStatus(err)
		}
	}

	if mode, ok := input.GetMode(); ok {
		var err error
		if fd >= 0 {
			err = syscall.Fchmod(fd, mode&0o7777)
		} else {
			err = syscall.Chmod(path, mode&0o7777)
		}
		if err != nil {
			return fuse.ToStatus(err)
		}
	}

	uid, uok := input.GetUID()
	gid, gok := input.GetGID()
	if uok || gok {
		u, g := -1, -1
		if uok {
			u = int(uid)
		}
		if gok {
			g = int(gid)
		}
		var err error
		if fd >= 0 {
			err = syscall.Fchown(fd, u, g)
		} else {
			err = syscall.Lchown(path, u, g)
		}
		if err != nil {
			return fuse.ToStatus(err)
		}
	}

	atime, aok := input.GetATime()
	mtime, mok := input.GetMTime()
	if (aok || mok) && hasPath {
		omit := unix.Timespec{Nsec: unix.UTIME_OMIT}
		ts := []unix.Timespec{omit, omit}
		if aok {
			ts[0] = unix.NsecToTimespec(atime.UnixNano())
		}
		if mok {
			ts[1] = unix.NsecToTimespec(mtime.UnixNano())
		}
		if err := unix.UtimesNanoAt(unix.AT_FDCWD, path, ts, unix.AT_SYMLINK_NOFOLLOW); err != nil {
			return fuse.ToStatus(err)
		}
	}

	var st syscall.Stat_t
	var err error
	if hasPath {
		err = syscall.Lstat(path, &st)
	} else {
		err = syscall.Fstat(fd, &st)
	}
	if err != nil {
		return fuse.ToStatus(err)
	}

	fs.fillAttr(vi, &st, out)
	return fuse.OK
}

func (fs *FS) Readlink(cancel <-chan struct{}, header *fuse.InHeader) ([]byte, fuse.Status) {
	_, path, status := fs.nodePath(header.NodeId)
	if status != fuse.OK {
		return nil, status
	}

	target, err := os.Readlink(path)
	if err != nil {
		return nil, fuse.ToStatus(err)
	}
	return []byte(target), fuse.OK
}

func (fs *FS) Mknod(cancel <-chan struct{}, input *fuse.MknodIn, name string, out *fuse.EntryOut) fuse.Status {
	path, status := fs.childPath(input.NodeId, name)
	if status != fuse.OK {
		return status
	}

	allowed := fs.writable(path)
	fs.report(&input.InHeader, audit.OpCreate, path, "", allowed)
	if !allowed && fs.enforcing() {
		return fuse.EACCES
	}

	if err := unix.Mknod(path, input.Mode, int(input.Rdev)); err != nil {
		return fuse.ToStatus(err)
	}

	var st syscall.Stat_t
	if err := syscall.Lstat(path, &st); err != nil {
		return fuse.ToStatus(err)
	}

	vi := fs.registerPath(path, true)
	fs.fillEntry(vi, &st, out)
	return fuse.OK
}

func (fs *FS) Unlink(cancel <-chan struct{}, header *fuse.InHeader, name string) fuse.Status {
	path, status := fs.childPath(header.NodeId, name)
	if status != fuse.OK {
		return status
	}

	allowed := fs.writable(path)
	fs.report(header, audit.OpUnlink, path, "", allowed)
	if !allowed && fs.enforcing() {
		return fuse.EACCES
	}

	if err := syscall.Unlink(path); err != nil {
		return fuse.ToStatus(err)
	}

	if vi, ok := fs.table.ByPath(path); ok {
		fs.table.RemovePath(vi, path)
	}
	return fuse.OK
}

func (fs *FS) Rename(cancel <-chan struct{}, input *fuse.RenameIn, oldName, newName string) fuse.Status {
	oldPath, status := fs.childPath(input.NodeId, oldName)
	if status != fuse.OK {
		return status
	}
	newPath, status := fs.childPath(input.Newdir, newName)
	if status != fuse.OK {
		return status
	}

	allowed := fs.writable(oldPath) && fs.writable(newPath)
	fs.report(&input.InHeader, audit.OpRename, oldPath, newPath, allowed)
	if !allowed && fs.enforcing() {
		return fuse.EACCES
	}

	var err error
	if input.Flags != 0 {
		err = unix.Renameat2(unix.AT_FDCWD, oldPath, unix.AT_FDCWD, newPath, uint(input.Flags))
	} else {
		err = syscall.Rename(oldPath, newPath)
	}
	if err != nil {
		return fuse.ToStatus(err)
	}

	fs.table.Rename(oldPath, newPath)
	return fuse.OK
}

func (fs *FS) Link(cancel <-chan struct{}, input *fuse.LinkIn, filename string, out *fuse.EntryOut) fuse.Status {
	srcVi, srcPath, status := fs.nodePath(input.Oldnodeid)
	if status != fuse.OK {
		return status
	}
	newPath, status := fs.childPath(input.NodeId, filename)
	if status != fuse.OK {
		return status
	}

	allowed := fs.writable(newPath)
	fs.report(&input.InHeader, audit.OpLink, newPath, "", allowed)
	if !allowed && fs.enforcing() {
		return fuse.EACCES
	}

	if err := syscall.Link(srcPath, newPath); err != nil {
		return fuse.ToStatus(err)
	}

	fs.table.AddPath(srcVi, newPath, true)

	var st syscall.Stat_t
	if err := syscall.Lstat(newPath, &st); err != nil {
		return fuse.ToStatus(err)
	}
	fs.fillEntry(srcVi, &st, out)
	return fuse.OK
}

func (fs *FS) Symlink(cancel <-chan struct{}, header *fuse.InHeader, pointedTo, linkName string, out *fuse.EntryOut) fuse.Status {
	path, status := fs.childPath(header.NodeId, linkName)
	if status != fuse.OK {
		return status
	}

	allowed := fs.writable(path)
	fs.report(header, audit.OpSymlink, path, pointedTo, allowed)
	if !allowed && fs.enforcing() {
		return fuse.EACCES
	}

	if err := syscall.Symlink(pointedTo, path); err != nil {
		return fuse.ToStatus(err)
	}

	var st syscall.Stat_t
	if err := syscall.Lstat(path, &st); err != nil {
		return fuse.ToStatus(err)
	}

	vi := fs.registerPath(path, true)
	fs.fillEntry(vi, &st, out)
	return fuse.OK
}

func (fs *FS) StatFs(cancel <-chan struct{}, input *fuse.InHeader, out *fuse.StatfsOut) fuse.Status {
	var st unix.Statfs_t
	if err := unix.Statfs(fs.root, &st); err != nil {
		return fuse.ToStatus(err)
	}

	out.Blocks = st.Blocks
	out.Bfree = st.Bfree
	out.Bavail = st.Bavail
	out.Files = st.Files
	out.Ffree = st.Ffree
	out.Bsize = uint32(st.Bsize)
	out.Frsize = uint32(st.Frsize)

	// paths gain the source prefix when forwarded
	namelen := int64(st.Namelen) - int64(len(fs.root)) - 1
	if namelen < 0 {
		namelen = 0
	}
	out.NameLen = uint32(namelen)

	return fuse.OK
}

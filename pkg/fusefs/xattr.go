package fusefs

import (
	"github.com/hanwen/go-fuse/v2/fuse"
	"golang.org/x/sys/unix"
)

// Extended attributes pass straight through to the backing path. They
// are permission-checked like any other read or write but kept out of
// the access trace.

func (fs *FS) GetXAttr(cancel <-chan struct{}, header *fuse.InHeader, attr string, dest []byte) (uint32, fuse.Status) {
	_, path, status := fs.nodePath(header.NodeId)
	if status != fuse.OK {
		return 0, status
	}
	if !fs.readable(path) && fs.enforcing() {
		return 0, fuse.EACCES
	}

	sz, err := unix.Lgetxattr(path, attr, dest)
	if err != nil {
		return 0, fuse.ToStatus(err)
	}
	return uint32(sz), fuse.OK
}

func (fs *FS) ListXAttr(cancel <-chan struct{}, header *fuse.InHeader, dest []byte) (uint32, fuse.Status) {
	_, path, status := fs.nodePath(header.NodeId)
	if status != fuse.OK {
		return 0, status
	}
	if !fs.readable(path) && fs.enforcing() {
		return 0, fuse.EACCES
	}

	sz, err := unix.Llistxattr(path, dest)
	if err != nil {
		return 0, fuse.ToStatus(err)
	}
	return uint32(sz), fuse.OK
}

func (fs *FS) SetXAttr(cancel <-chan struct{}, input *fuse.SetXAttrIn, attr string, data []byte) fuse.Status {
	_, path, status := fs.nodePath(input.NodeId)
	if status != fuse.OK {
		return status
	}
	if !fs.writable(path) && fs.enforcing() {
		return fuse.EACCES
	}

	return fuse.ToStatus(unix.Lsetxattr(path, attr, data, int(input.Flags)))
}

func (fs *FS) RemoveXAttr(cancel <-chan struct{}, header *fuse.InHeader, attr string) fuse.Status {
	_, path, status := fs.nodePath(header.NodeId)
	if status != fuse.OK {
		return status
	}
	if !fs.writable(path) && fs.enforcing() {
		return fuse.EACCES
	}

	return fuse.ToStatus(unix.Lremovexattr(path, attr))
}

package fusefs

import (
	"syscall"

	"github.com/hanwen/go-fuse/v2/fuse"
	"golang.org/x/sys/unix"

	"fusebox/pkg/audit"
)

func (fs *FS) Open(cancel <-chan struct{}, input *fuse.OpenIn, out *fuse.OpenOut) fuse.Status {
	vi, path, status := fs.nodePath(input.NodeId)
	if status != fuse.OK {
		return status
	}

	allowed := fs.permittedOpen(path, input.Flags)
	fs.report(&input.InHeader, audit.OpOpen, path, "", allowed)
	if !allowed && fs.enforcing() {
		return fuse.EACCES
	}

	fd, err := syscall.Open(path, int(input.Flags), 0)
	if err != nil {
		return fuse.ToStatus(err)
	}

	fs.table.OpenFD(vi, fd)
	fs.stats.Record(path, input.Flags)
	fs.fsm.FileOpened()

	out.Fh = uint64(fd)
	return fuse.OK
}

func (fs *FS) Create(cancel <-chan struct{}, input *fuse.CreateIn, name string, out *fuse.CreateOut) fuse.Status {
	path, status := fs.childPath(input.NodeId, name)
	if status != fuse.OK {
		return status
	}

	allowed := fs.permittedOpen(path, input.Flags|syscall.O_CREAT)
	fs.report(&input.InHeader, audit.OpCreate, path, "", allowed)
	if !allowed && fs.enforcing() {
		return fuse.EACCES
	}

	fd, err := syscall.Open(path, int(input.Flags)|syscall.O_CREAT, input.Mode)
	if err != nil {
		return fuse.ToStatus(err)
	}

	var st syscall.Stat_t
	if err := syscall.Lstat(path, &st); err != nil {
		syscall.Close(fd)
		return fuse.ToStatus(err)
	}

	vi := fs.registerPath(path, true)
	fs.table.OpenFD(vi, fd)
	fs.stats.Record(path, input.Flags|syscall.O_CREAT)
	fs.fsm.FileOpened()

	fs.fillEntry(vi, &st, &out.EntryOut)
	out.Fh = uint64(fd)
	return fuse.OK
}

func (fs *FS) Read(cancel <-chan struct{}, input *fuse.ReadIn, buf []byte) (fuse.ReadResult, fuse.Status) {
	fd := int(input.Fh)

	path := ""
	if vi, ok := fs.table.ByFD(fd); ok {
		path, _ = fs.table.Path(vi)
	}
	fs.report(&input.InHeader, audit.OpRead, path, "", true)

	n, err := syscall.Pread(fd, buf[:input.Size], int64(input.Offset))
	if err != nil {
		return nil, fuse.ToStatus(err)
	}

	fs.fsm.AddBytesRead(n)
	return fuse.ReadResultData(buf[:n]), fuse.OK
}

func (fs *FS) Write(cancel <-chan struct{}, input *fuse.WriteIn, data []byte) (uint32, fuse.Status) {
	fd := int(input.Fh)

	path := ""
	if vi, ok := fs.table.ByFD(fd); ok {
		path, _ = fs.table.Path(vi)
	}
	fs.report(&input.InHeader, audit.OpWrite, path, "", true)

	n, err := syscall.Pwrite(fd, data, int64(input.Offset))
	if err != nil {
		return 0, fuse.ToStatus(err)
	}

	fs.fsm.AddBytesWritten(n)
	return uint32(n), fuse.OK
}

func (fs *FS) Release(cancel <-chan struct{}, input *fuse.ReleaseIn) {
	fd := int(input.Fh)
	fs.table.CloseFD(fd)
	syscall.Close(fd)
	fs.fsm.FileClosed()
}

// Flush duplicates and closes the descriptor so pending errors surface
// on close without invalidating the handle.
func (fs *FS) Flush(cancel <-chan struct{}, input *fuse.FlushIn) fuse.Status {
	nfd, err := syscall.Dup(int(input.Fh))
	if err != nil {
		return fuse.ToStatus(err)
	}
	return fuse.ToStatus(syscall.Close(nfd))
}

func (fs *FS) Fsync(cancel <-chan struct{}, input *fuse.FsyncIn) fuse.Status {
	fd := int(input.Fh)
	if input.FsyncFlags&1 != 0 {
		return fuse.ToStatus(unix.Fdatasync(fd))
	}
	return fuse.ToStatus(syscall.Fsync(fd))
}

func (fs *FS) Lseek(cancel <-chan struct{}, input *fuse.LseekIn, out *fuse.LseekOut) fuse.Status {
	off, err := unix.Seek(int(input.Fh), int64(input.Offset), int(input.Whence))
	if err != nil {
		return fuse.ToStatus(err)
	}
	out.Offset = uint64(off)
	return fuse.OK
}

func (fs *FS) Fallocate(cancel <-chan struct{}, input *fuse.FallocateIn) fuse.Status {
	return fuse.ToStatus(unix.Fallocate(int(input.Fh), input.Mode, int64(input.Offset), int64(input.Length)))
}

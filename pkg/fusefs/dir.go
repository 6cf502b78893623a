package fusefs

import (
	iofs "io/fs"
	"os"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fuse"

	"fusebox/pkg/audit"
	"fusebox/pkg/vnode"
)

// dirStream is the snapshot taken at opendir time. Offset cookies are
// indexes into entries, shifted by one.
type dirStream struct {
	path    string
	entries []fuse.DirEntry
}

func (fs *FS) dir(fh uint64) *dirStream {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.dirs[fh]
}

func (fs *FS) OpenDir(cancel <-chan struct{}, input *fuse.OpenIn, out *fuse.OpenOut) fuse.Status {
	vi, path, status := fs.nodePath(input.NodeId)
	if status != fuse.OK {
		return status
	}

	allowed := fs.readable(path)
	fs.report(&input.InHeader, audit.OpOpendir, path, "", allowed)
	if !allowed && fs.enforcing() {
		return fuse.EACCES
	}

	des, err := os.ReadDir(path)
	if err != nil {
		return fuse.ToStatus(err)
	}

	parent := vi
	if path != fs.root {
		parent = fs.registerPath(vnode.JoinPath(path, ".."), false)
	}

	entries := make([]fuse.DirEntry, 0, len(des)+2)
	entries = append(entries,
		fuse.DirEntry{Mode: syscall.S_IFDIR, Name: ".", Ino: uint64(vi.ID())},
		fuse.DirEntry{Mode: syscall.S_IFDIR, Name: "..", Ino: uint64(parent.ID())},
	)
	for _, de := range des {
		childPath := vnode.JoinPath(path, de.Name())
		if childPath == fs.mountpoint {
			continue
		}
		evi := fs.registerPath(childPath, false)
		entries = append(entries, fuse.DirEntry{
			Mode: typeMode(de.Type()),
			Name: de.Name(),
			Ino:  uint64(evi.ID()),
		})
	}
	for i := range entries {
		entries[i].Off = uint64(i + 1)
	}

	fs.mu.Lock()
	fs.nextDir++
	fh := fs.nextDir
	fs.dirs[fh] = &dirStream{path: path, entries: entries}
	fs.mu.Unlock()

	out.Fh = fh
	return fuse.OK
}

func (fs *FS) ReadDir(cancel <-chan struct{}, input *fuse.ReadIn, out *fuse.DirEntryList) fuse.Status {
	ds := fs.dir(input.Fh)
	if ds == nil {
		return fuse.ToStatus(syscall.EBADF)
	}

	if input.Offset >= uint64(len(ds.entries)) {
		return fuse.OK
	}
	for _, e := range ds.entries[input.Offset:] {
		if !out.AddDirEntry(e) {
			break
		}
	}
	return fuse.OK
}

func (fs *FS) ReadDirPlus(cancel <-chan struct{}, input *fuse.ReadIn, out *fuse.DirEntryList) fuse.Status {
	ds := fs.dir(input.Fh)
	if ds == nil {
		return fuse.ToStatus(syscall.EBADF)
	}

	if input.Offset >= uint64(len(ds.entries)) {
		return fuse.OK
	}
	for _, e := range ds.entries[input.Offset:] {
		entryOut := out.AddDirLookupEntry(e)
		if entryOut == nil {
			break
		}
		// "." and ".." carry no lookup reference
		if e.Name == "." || e.Name == ".." {
			continue
		}

		childPath := vnode.JoinPath(ds.path, e.Name)
		var st syscall.Stat_t
		if err := syscall.Lstat(childPath, &st); err != nil {
			continue
		}
		vi := fs.registerPath(childPath, true)
		fs.fillEntry(vi, &st, entryOut)
	}
	return fuse.OK
}

func (fs *FS) ReleaseDir(input *fuse.ReleaseIn) {
	fs.mu.Lock()
	delete(fs.dirs, input.Fh)
	fs.mu.Unlock()
}

func (fs *FS) FsyncDir(cancel <-chan struct{}, input *fuse.FsyncIn) fuse.Status {
	// directory handles hold no kernel descriptor
	return fuse.OK
}

func (fs *FS) Mkdir(cancel <-chan struct{}, input *fuse.MkdirIn, name string, out *fuse.EntryOut) fuse.Status {
	path, status := fs.childPath(input.NodeId, name)
	if status != fuse.OK {
		return status
	}

	allowed := fs.writable(path)
	fs.report(&input.InHeader, audit.OpMkdir, path, "", allowed)
	if !allowed && fs.enforcing() {
		return fuse.EACCES
	}

	if err := syscall.Mkdir(path, input.Mode); err != nil {
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

func (fs *FS) Rmdir(cancel <-chan struct{}, header *fuse.InHeader, name string) fuse.Status {
	path, status := fs.childPath(header.NodeId, name)
	if status != fuse.OK {
		return status
	}

	allowed := fs.writable(path)
	fs.report(header, audit.OpRmdir, path, "", allowed)
	if !allowed && fs.enforcing() {
		return fuse.EACCES
	}

	if err := syscall.Rmdir(path); err != nil {
		return fuse.ToStatus(err)
	}

	if vi, ok := fs.table.ByPath(path); ok {
		fs.table.RemovePath(vi, path)
	}
	return fuse.OK
}

func typeMode(m iofs.FileMode) uint32 {
	switch {
	case m.IsDir():
		return syscall.S_IFDIR
	case m&iofs.ModeSymlink != 0:
		return syscall.S_IFLNK
	case m&iofs.ModeNamedPipe != 0:
		return syscall.S_IFIFO
	case m&iofs.ModeSocket != 0:
		return syscall.S_IFSOCK
	case m&iofs.ModeCharDevice != 0:
		return syscall.S_IFCHR
	case m&iofs.ModeDevice != 0:
		return syscall.S_IFBLK
	default:
		return syscall.S_IFREG
	}
}

package fusefs

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/hanwen/go-fuse/v2/fuse"

	"fusebox/pkg/audit"
	"fusebox/pkg/auditor"
	"fusebox/pkg/vnode"
)

func newTestFS(t *testing.T, opts Options) (*FS, string) {
	t.Helper()

	root := t.TempDir()
	fs, err := New(root, filepath.Join(root, "mnt"), opts)
	if err != nil {
		t.Fatalf("New() failed: %s", err)
	}
	return fs, root
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile(%s) failed: %s", path, err)
	}
}

func lookup(t *testing.T, fs *FS, parent uint64, name string) *fuse.EntryOut {
	t.Helper()

	var out fuse.EntryOut
	header := &fuse.InHeader{NodeId: parent}
	if status := fs.Lookup(nil, header, name, &out); status != fuse.OK {
		t.Fatalf("Lookup(%s) returned %v", name, status)
	}
	return &out
}

func openNode(t *testing.T, fs *FS, id uint64, flags uint32) uint64 {
	t.Helper()

	in := fuse.OpenIn{Flags: flags}
	in.NodeId = id
	var out fuse.OpenOut
	if status := fs.Open(nil, &in, &out); status != fuse.OK {
		t.Fatalf("Open() returned %v", status)
	}
	return out.Fh
}

func TestLookup(t *testing.T) {
	t.Parallel()

	fs, root := newTestFS(t, Options{})
	mustWriteFile(t, filepath.Join(root, "hello.txt"), "hello world")

	out := lookup(t, fs, 1, "hello.txt")

	if out.NodeId <= uint64(vnode.RootID) {
		t.Errorf("expected fresh vnode number, got %d", out.NodeId)
	}
	if out.Ino != out.NodeId {
		t.Errorf("expected ino %d to match vnode number, got %d", out.NodeId, out.Ino)
	}
	if out.Mode&syscall.S_IFMT != syscall.S_IFREG {
		t.Errorf("expected regular file mode, got %#o", out.Mode)
	}
	if out.Size != uint64(len("hello world")) {
		t.Errorf("expected size %d, got %d", len("hello world"), out.Size)
	}
}

func TestLookupMissing(t *testing.T) {
	t.Parallel()

	fs, _ := newTestFS(t, Options{})

	var out fuse.EntryOut
	header := &fuse.InHeader{NodeId: 1}
	if status := fs.Lookup(nil, header, "nope", &out); status != fuse.ENOENT {
		t.Errorf("Lookup(nope) returned %v, want ENOENT", status)
	}
}

func TestLookupSameNodeTwice(t *testing.T) {
	t.Parallel()

	fs, root := newTestFS(t, Options{})
	mustWriteFile(t, filepath.Join(root, "a"), "x")

	first := lookup(t, fs, 1, "a")
	second := lookup(t, fs, 1, "a")

	if first.NodeId != second.NodeId {
		t.Errorf("expected stable vnode number, got %d then %d", first.NodeId, second.NodeId)
	}
}

func TestGetAttrRoot(t *testing.T) {
	t.Parallel()

	fs, _ := newTestFS(t, Options{})

	in := fuse.GetAttrIn{}
	in.NodeId = 1
	var out fuse.AttrOut
	if status := fs.GetAttr(nil, &in, &out); status != fuse.OK {
		t.Fatalf("GetAttr(root) returned %v", status)
	}
	if out.Mode&syscall.S_IFMT != syscall.S_IFDIR {
		t.Errorf("expected directory mode, got %#o", out.Mode)
	}
	if out.Ino != 1 {
		t.Errorf("expected root ino 1, got %d", out.Ino)
	}
}

func TestOpenReadWrite(t *testing.T) {
	t.Parallel()

	fs, root := newTestFS(t, Options{})
	mustWriteFile(t, filepath.Join(root, "data"), "hello world")

	entry := lookup(t, fs, 1, "data")
	fh := openNode(t, fs, entry.NodeId, syscall.O_RDWR)

	buf := make([]byte, 64)
	rin := fuse.ReadIn{Fh: fh, Size: uint32(len(buf))}
	rin.NodeId = entry.NodeId
	res, status := fs.Read(nil, &rin, buf)
	if status != fuse.OK {
		t.Fatalf("Read() returned %v", status)
	}
	got, _ := res.Bytes(nil)
	if string(got) != "hello world" {
		t.Errorf("Read() = %q, want %q", got, "hello world")
	}

	win := fuse.WriteIn{Fh: fh, Offset: 6}
	win.NodeId = entry.NodeId
	n, status := fs.Write(nil, &win, []byte("fusebox"))
	if status != fuse.OK {
		t.Fatalf("Write() returned %v", status)
	}
	if n != uint32(len("fusebox")) {
		t.Errorf("Write() wrote %d bytes, want %d", n, len("fusebox"))
	}

	rel := fuse.ReleaseIn{Fh: fh}
	fs.Release(nil, &rel)

	content, err := os.ReadFile(filepath.Join(root, "data"))
	if err != nil {
		t.Fatalf("ReadFile failed: %s", err)
	}
	if string(content) != "hello fusebox" {
		t.Errorf("backing file = %q, want %q", content, "hello fusebox")
	}
}

func TestCreateAndUnlink(t *testing.T) {
	t.Parallel()

	fs, root := newTestFS(t, Options{})

	cin := fuse.CreateIn{Flags: syscall.O_WRONLY | syscall.O_TRUNC, Mode: 0o644}
	cin.NodeId = 1
	var cout fuse.CreateOut
	if status := fs.Create(nil, &cin, "fresh", &cout); status != fuse.OK {
		t.Fatalf("Create() returned %v", status)
	}

	win := fuse.WriteIn{Fh: cout.Fh}
	n, status := fs.Write(nil, &win, []byte("abc"))
	if status != fuse.OK || n != 3 {
		t.Fatalf("Write() returned %v, n=%d", status, n)
	}
	fs.Release(nil, &fuse.ReleaseIn{Fh: cout.Fh})

	content, err := os.ReadFile(filepath.Join(root, "fresh"))
	if err != nil {
		t.Fatalf("expected backing file: %s", err)
	}
	if string(content) != "abc" {
		t.Errorf("backing file = %q, want %q", content, "abc")
	}

	if status := fs.Unlink(nil, &fuse.InHeader{NodeId: 1}, "fresh"); status != fuse.OK {
		t.Fatalf("Unlink() returned %v", status)
	}
	if _, err := os.Lstat(filepath.Join(root, "fresh")); !os.IsNotExist(err) {
		t.Errorf("expected backing file to be gone, err=%v", err)
	}
	if status := fs.Unlink(nil, &fuse.InHeader{NodeId: 1}, "fresh"); status != fuse.ENOENT {
		t.Errorf("second Unlink() returned %v, want ENOENT", status)
	}
}

func TestMkdirReaddirRmdir(t *testing.T) {
	t.Parallel()

	fs, root := newTestFS(t, Options{})
	mustWriteFile(t, filepath.Join(root, "file"), "x")

	min := fuse.MkdirIn{Mode: 0o755}
	min.NodeId = 1
	var mout fuse.EntryOut
	if status := fs.Mkdir(nil, &min, "sub", &mout); status != fuse.OK {
		t.Fatalf("Mkdir() returned %v", status)
	}

	oin := fuse.OpenIn{}
	oin.NodeId = 1
	var oout fuse.OpenOut
	if status := fs.OpenDir(nil, &oin, &oout); status != fuse.OK {
		t.Fatalf("OpenDir() returned %v", status)
	}

	ds := fs.dir(oout.Fh)
	if ds == nil {
		t.Fatalf("expected directory stream for fh %d", oout.Fh)
	}

	names := make(map[string]bool)
	for i, e := range ds.entries {
		names[e.Name] = true
		if e.Off != uint64(i+1) {
			t.Errorf("entry %d has offset %d, want %d", i, e.Off, i+1)
		}
	}
	for _, want := range []string{".", "..", "file", "sub"} {
		if !names[want] {
			t.Errorf("expected entry %q in listing %v", want, names)
		}
	}

	rin := fuse.ReadIn{Fh: oout.Fh}
	out := fuse.NewDirEntryList(make([]byte, 4096), 0)
	if status := fs.ReadDir(nil, &rin, out); status != fuse.OK {
		t.Fatalf("ReadDir() returned %v", status)
	}

	fs.ReleaseDir(&fuse.ReleaseIn{Fh: oout.Fh})
	if fs.dir(oout.Fh) != nil {
		t.Errorf("expected directory stream to be dropped")
	}

	if status := fs.Rmdir(nil, &fuse.InHeader{NodeId: 1}, "sub"); status != fuse.OK {
		t.Fatalf("Rmdir() returned %v", status)
	}
	if _, err := os.Lstat(filepath.Join(root, "sub")); !os.IsNotExist(err) {
		t.Errorf("expected backing dir to be gone, err=%v", err)
	}
}

func TestMountpointHidden(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "mnt"), 0o755); err != nil {
		t.Fatalf("Mkdir failed: %s", err)
	}

	fs, err := New(root, filepath.Join(root, "mnt"), Options{})
	if err != nil {
		t.Fatalf("New() failed: %s", err)
	}

	var out fuse.EntryOut
	if status := fs.Lookup(nil, &fuse.InHeader{NodeId: 1}, "mnt", &out); status != fuse.ENOENT {
		t.Errorf("Lookup(mnt) returned %v, want ENOENT", status)
	}

	oin := fuse.OpenIn{}
	oin.NodeId = 1
	var oout fuse.OpenOut
	if status := fs.OpenDir(nil, &oin, &oout); status != fuse.OK {
		t.Fatalf("OpenDir() returned %v", status)
	}
	for _, e := range fs.dir(oout.Fh).entries {
		if e.Name == "mnt" {
			t.Errorf("expected mountpoint to be hidden from listing")
		}
	}
}

func TestRename(t *testing.T) {
	t.Parallel()

	fs, root := newTestFS(t, Options{})
	mustWriteFile(t, filepath.Join(root, "old"), "x")

	entry := lookup(t, fs, 1, "old")

	rin := fuse.RenameIn{Newdir: 1}
	rin.NodeId = 1
	if status := fs.Rename(nil, &rin, "old", "new"); status != fuse.OK {
		t.Fatalf("Rename() returned %v", status)
	}

	if _, err := os.Lstat(filepath.Join(root, "new")); err != nil {
		t.Errorf("expected renamed backing file: %s", err)
	}

	after := lookup(t, fs, 1, "new")
	if after.NodeId != entry.NodeId {
		t.Errorf("expected rename to keep vnode %d, got %d", entry.NodeId, after.NodeId)
	}
}

func TestLink(t *testing.T) {
	t.Parallel()

	fs, root := newTestFS(t, Options{})
	mustWriteFile(t, filepath.Join(root, "a"), "x")

	entry := lookup(t, fs, 1, "a")

	lin := fuse.LinkIn{Oldnodeid: entry.NodeId}
	lin.NodeId = 1
	var lout fuse.EntryOut
	if status := fs.Link(nil, &lin, "b", &lout); status != fuse.OK {
		t.Fatalf("Link() returned %v", status)
	}
	if lout.NodeId != entry.NodeId {
		t.Errorf("expected link to share vnode %d, got %d", entry.NodeId, lout.NodeId)
	}
	if lout.Nlink != 2 {
		t.Errorf("expected nlink 2, got %d", lout.Nlink)
	}

	other := lookup(t, fs, 1, "b")
	if other.NodeId != entry.NodeId {
		t.Errorf("expected both names to resolve to vnode %d, got %d", entry.NodeId, other.NodeId)
	}
}

func TestSymlinkReadlink(t *testing.T) {
	t.Parallel()

	fs, _ := newTestFS(t, Options{})

	var out fuse.EntryOut
	header := &fuse.InHeader{NodeId: 1}
	if status := fs.Symlink(nil, header, "/some/target", "sym", &out); status != fuse.OK {
		t.Fatalf("Symlink() returned %v", status)
	}
	if out.Mode&syscall.S_IFMT != syscall.S_IFLNK {
		t.Errorf("expected symlink mode, got %#o", out.Mode)
	}

	target, status := fs.Readlink(nil, &fuse.InHeader{NodeId: out.NodeId})
	if status != fuse.OK {
		t.Fatalf("Readlink() returned %v", status)
	}
	if string(target) != "/some/target" {
		t.Errorf("Readlink() = %q, want %q", target, "/some/target")
	}
}

func TestSetAttrTruncate(t *testing.T) {
	t.Parallel()

	fs, root := newTestFS(t, Options{})
	mustWriteFile(t, filepath.Join(root, "f"), "abcdef")

	entry := lookup(t, fs, 1, "f")

	sin := fuse.SetAttrIn{}
	sin.NodeId = entry.NodeId
	sin.Valid = fuse.FATTR_SIZE
	sin.Size = 3
	var aout fuse.AttrOut
	if status := fs.SetAttr(nil, &sin, &aout); status != fuse.OK {
		t.Fatalf("SetAttr() returned %v", status)
	}
	if aout.Size != 3 {
		t.Errorf("expected size 3 after truncate, got %d", aout.Size)
	}

	content, err := os.ReadFile(filepath.Join(root, "f"))
	if err != nil {
		t.Fatalf("ReadFile failed: %s", err)
	}
	if string(content) != "abc" {
		t.Errorf("backing file = %q, want %q", content, "abc")
	}
}

func TestSetAttrChmod(t *testing.T) {
	t.Parallel()

	fs, root := newTestFS(t, Options{})
	mustWriteFile(t, filepath.Join(root, "f"), "x")

	entry := lookup(t, fs, 1, "f")

	sin := fuse.SetAttrIn{}
	sin.NodeId = entry.NodeId
	sin.Valid = fuse.FATTR_MODE
	sin.Mode = 0o600
	var aout fuse.AttrOut
	if status := fs.SetAttr(nil, &sin, &aout); status != fuse.OK {
		t.Fatalf("SetAttr() returned %v", status)
	}

	fi, err := os.Lstat(filepath.Join(root, "f"))
	if err != nil {
		t.Fatalf("Lstat failed: %s", err)
	}
	if fi.Mode().Perm() != 0o600 {
		t.Errorf("backing mode = %#o, want 0600", fi.Mode().Perm())
	}
}

func TestForget(t *testing.T) {
	t.Parallel()

	fs, root := newTestFS(t, Options{})
	mustWriteFile(t, filepath.Join(root, "a"), "x")

	entry := lookup(t, fs, 1, "a")
	fs.Forget(entry.NodeId, 1)

	in := fuse.GetAttrIn{}
	in.NodeId = entry.NodeId
	var out fuse.AttrOut
	if status := fs.GetAttr(nil, &in, &out); status != fuse.ENOENT {
		t.Errorf("GetAttr() after forget returned %v, want ENOENT", status)
	}
}

func TestStatFs(t *testing.T) {
	t.Parallel()

	fs, _ := newTestFS(t, Options{})

	var out fuse.StatfsOut
	if status := fs.StatFs(nil, &fuse.InHeader{NodeId: 1}, &out); status != fuse.OK {
		t.Fatalf("StatFs() returned %v", status)
	}
	if out.Bsize == 0 || out.Blocks == 0 {
		t.Errorf("expected populated statfs, got %+v", out)
	}
}

func TestDeniedOpenEnforced(t *testing.T) {
	t.Parallel()

	aud := auditor.New()
	aud.SetEnforce(true)

	store := audit.NewMemoryStore()
	worker := audit.NewWorker(store, 64)
	done := make(chan error, 1)
	go func() { done <- worker.Run(context.Background()) }()

	fs, root := newTestFS(t, Options{Auditor: aud, Worker: worker})
	aud.DenyRead(filepath.Join(root, "secret"))
	mustWriteFile(t, filepath.Join(root, "secret"), "x")

	entry := lookup(t, fs, 1, "secret")

	in := fuse.OpenIn{Flags: syscall.O_RDONLY}
	in.NodeId = entry.NodeId
	var out fuse.OpenOut
	if status := fs.Open(nil, &in, &out); status != fuse.EACCES {
		t.Fatalf("Open() returned %v, want EACCES", status)
	}

	worker.Close()
	if err := <-done; err != nil {
		t.Fatalf("worker failed: %s", err)
	}

	denied, err := store.List(context.Background(), audit.Filter{DeniedOnly: true})
	if err != nil {
		t.Fatalf("List() failed: %s", err)
	}
	if len(denied) != 1 || denied[0].Op != audit.OpOpen {
		t.Errorf("expected one denied OPEN event, got %v", denied)
	}
}

func TestDeniedOpenObserveOnly(t *testing.T) {
	t.Parallel()

	aud := auditor.New()

	store := audit.NewMemoryStore()
	worker := audit.NewWorker(store, 64)
	done := make(chan error, 1)
	go func() { done <- worker.Run(context.Background()) }()

	fs, root := newTestFS(t, Options{Auditor: aud, Worker: worker})
	aud.DenyRead(filepath.Join(root, "secret"))
	mustWriteFile(t, filepath.Join(root, "secret"), "x")

	entry := lookup(t, fs, 1, "secret")
	fh := openNode(t, fs, entry.NodeId, syscall.O_RDONLY)
	fs.Release(nil, &fuse.ReleaseIn{Fh: fh})

	worker.Close()
	if err := <-done; err != nil {
		t.Fatalf("worker failed: %s", err)
	}

	denied, err := store.List(context.Background(), audit.Filter{DeniedOnly: true})
	if err != nil {
		t.Fatalf("List() failed: %s", err)
	}
	if len(denied) != 1 {
		t.Errorf("expected the denied access to be recorded, got %v", denied)
	}
}

func TestStatsRecordsOpenModes(t *testing.T) {
	t.Parallel()

	fs, root := newTestFS(t, Options{})
	mustWriteFile(t, filepath.Join(root, "r"), "x")
	mustWriteFile(t, filepath.Join(root, "w"), "x")
	mustWriteFile(t, filepath.Join(root, "rw"), "x")

	for name, flags := range map[string]uint32{
		"r":  syscall.O_RDONLY,
		"w":  syscall.O_WRONLY,
		"rw": syscall.O_RDWR,
	} {
		entry := lookup(t, fs, 1, name)
		fh := openNode(t, fs, entry.NodeId, flags)
		fs.Release(nil, &fuse.ReleaseIn{Fh: fh})
	}

	stats := fs.Stats()
	if got := stats.Read(); len(got) != 1 || filepath.Base(got[0]) != "r" {
		t.Errorf("Read() = %v, want the read-only path", got)
	}
	if got := stats.Written(); len(got) != 1 || filepath.Base(got[0]) != "w" {
		t.Errorf("Written() = %v, want the write-only path", got)
	}
	if got := stats.ReadWritten(); len(got) != 1 || filepath.Base(got[0]) != "rw" {
		t.Errorf("ReadWritten() = %v, want the read-write path", got)
	}
}

package cache

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"
)

// packTree writes dir as a gzip compressed tar stream to w. Entry names
// are relative to dir. Sockets and devices are skipped, they cannot be
// archived.
func packTree(w io.Writer, dir string) error {
	gz, err := gzip.NewWriterLevel(w, gzip.BestSpeed)
	if err != nil {
		return fmt.Errorf("gzip.NewWriterLevel(): %s", err)
	}
	tw := tar.NewWriter(gz)

	walkErr := filepath.WalkDir(dir, func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return fmt.Errorf("filepath.Rel(): %s", err)
		}
		if rel == "." {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return fmt.Errorf("reading %s: %s", rel, err)
		}
		mode := fi.Mode()
		if !mode.IsRegular() && !mode.IsDir() && mode&os.ModeSymlink == 0 {
			return nil
		}

		link := ""
		if mode&os.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return fmt.Errorf("os.Readlink(%s): %s", rel, err)
			}
		}
		hdr, err := tar.FileInfoHeader(fi, link)
		if err != nil {
			return fmt.Errorf("tar.FileInfoHeader(%s): %s", rel, err)
		}
		hdr.Name = filepath.ToSlash(rel)
		if fi.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("writing header %s: %s", hdr.Name, err)
		}

		if mode.IsRegular() {
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("os.Open(%s): %s", rel, err)
			}
			_, err = io.Copy(tw, f)
			_ = f.Close()
			if err != nil {
				return fmt.Errorf("archiving %s: %s", rel, err)
			}
		}
		return nil
	})
	if walkErr != nil {
		return walkErr
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("closing tar stream: %s", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("closing gzip stream: %s", err)
	}
	return nil
}

// unpackTree extracts the archive at src into destDir, restoring modes,
// symlinks and mtimes. Entries resolving outside destDir are rejected.
func unpackTree(src, destDir string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("os.Open(%s): %s", src, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("gzip.NewReader(): %s", err)
	}
	defer gz.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("os.MkdirAll(%s): %s", destDir, err)
	}

	type dirTime struct {
		path string
		at   time.Time
	}
	var dirTimes []dirTime

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("reading archive: %s", err)
		}

		name := filepath.FromSlash(hdr.Name)
		if !filepath.IsLocal(name) {
			return fmt.Errorf("entry %q escapes the target directory", hdr.Name)
		}
		target := filepath.Join(destDir, name)
		perm := hdr.FileInfo().Mode().Perm()

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, perm); err != nil {
				return fmt.Errorf("os.MkdirAll(%s): %s", hdr.Name, err)
			}
			if err := os.Chmod(target, perm); err != nil {
				return fmt.Errorf("os.Chmod(%s): %s", hdr.Name, err)
			}
			dirTimes = append(dirTimes, dirTime{path: target, at: hdr.ModTime})
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("os.MkdirAll(%s): %s", filepath.Dir(hdr.Name), err)
			}
			out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
			if err != nil {
				return fmt.Errorf("os.OpenFile(%s): %s", hdr.Name, err)
			}
			_, err = io.Copy(out, tr)
			cerr := out.Close()
			if err != nil {
				return fmt.Errorf("extracting %s: %s", hdr.Name, err)
			}
			if cerr != nil {
				return fmt.Errorf("closing %s: %s", hdr.Name, cerr)
			}
			if err := os.Chmod(target, perm); err != nil {
				return fmt.Errorf("os.Chmod(%s): %s", hdr.Name, err)
			}
			if err := os.Chtimes(target, hdr.ModTime, hdr.ModTime); err != nil {
				return fmt.Errorf("os.Chtimes(%s): %s", hdr.Name, err)
			}
		case tar.TypeSymlink:
			_ = os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return fmt.Errorf("os.Symlink(%s): %s", hdr.Name, err)
			}
		case tar.TypeLink:
			if !filepath.IsLocal(filepath.FromSlash(hdr.Linkname)) {
				return fmt.Errorf("hardlink %q points outside the target directory", hdr.Name)
			}
			_ = os.Remove(target)
			if err := os.Link(filepath.Join(destDir, filepath.FromSlash(hdr.Linkname)), target); err != nil {
				return fmt.Errorf("os.Link(%s): %s", hdr.Name, err)
			}
		default:
			return fmt.Errorf("entry %q has unsupported type %d", hdr.Name, hdr.Typeflag)
		}
	}

	// Writing children bumps a directory's mtime, restore those last,
	// deepest first.
	for i := len(dirTimes) - 1; i >= 0; i-- {
		d := dirTimes[i]
		if err := os.Chtimes(d.path, d.at, d.at); err != nil {
			return fmt.Errorf("os.Chtimes(%s): %s", d.path, err)
		}
	}
	return nil
}

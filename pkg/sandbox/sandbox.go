// Package sandbox ties the pieces together: it mounts the passthrough
// filesystem, keeps the audit pipeline running next to it, and writes
// the access report when the mount winds down.
package sandbox

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"

	"fusebox/pkg/audit"
	"fusebox/pkg/auditor"
	"fusebox/pkg/clean"
	"fusebox/pkg/config"
	"fusebox/pkg/fusefs"
	"fusebox/pkg/log"
	"fusebox/pkg/metrics"
)

const unmountRetries = 5
const unmountDelay = 100 * time.Millisecond

// Sandbox is one mount of the passthrough filesystem together with its
// audit pipeline.
type Sandbox struct {
	cfg  *config.Sandbox
	deps *config.Dependencies
	fsm  *metrics.FS

	root       string
	mountpoint string
	created    bool

	fs     *fusefs.FS
	srv    *fuse.Server
	worker *audit.Worker
	store  audit.Store
	mem    *audit.MemoryStore

	workerDone chan error
	quiesced   bool
	mounted    bool
}

// New prepares a sandbox serving the contents of the configured source
// directory. Nothing is mounted until Mount is called.
func New(cfg *config.Sandbox, deps *config.Dependencies, fsm *metrics.FS) (*Sandbox, error) {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("filepath.Abs(%s): %s", cfg.Root, err)
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("os.Stat(%s): %s", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	return &Sandbox{
		cfg:  cfg,
		deps: deps,
		fsm:  fsm,
		root: root,
	}, nil
}

// Mountpoint returns the directory the filesystem is served on. It is
// only valid after Mount.
func (s *Sandbox) Mountpoint() string {
	return s.mountpoint
}

// Mount serves the sandbox filesystem. A temporary mountpoint is created
// when the configuration names none.
func (s *Sandbox) Mount() error {
	if err := s.ensureMountpoint(); err != nil {
		return err
	}

	s.mem = audit.NewMemoryStore()
	store, err := buildStore(s.cfg, s.mem)
	if err != nil {
		return err
	}
	s.store = store

	s.worker = audit.NewWorker(store, 0)
	s.workerDone = make(chan error, 1)
	go func() {
		s.workerDone <- s.worker.Run(context.Background())
	}()

	fs, err := fusefs.New(s.root, s.mountpoint, fusefs.Options{
		Auditor: auditor.FromConfig(s.cfg),
		Worker:  s.worker,
		Metrics: s.fsm,
	})
	if err != nil {
		s.shutdownSink()
		return err
	}
	s.fs = fs

	srv, err := fuse.NewServer(fs, s.mountpoint, &fuse.MountOptions{
		Name:       "fusebox",
		FsName:     s.root,
		AllowOther: s.cfg.AllowOther,
		Debug:      s.cfg.Debug,
	})
	if err != nil {
		s.shutdownSink()
		return fmt.Errorf("fuse.NewServer(%s): %s", s.mountpoint, err)
	}
	s.srv = srv

	go srv.Serve()
	if err := srv.WaitMount(); err != nil {
		s.shutdownSink()
		return fmt.Errorf("srv.WaitMount(): %s", err)
	}
	s.mounted = true

	log.InfoMsg("Serving %s on %s\n", s.root, s.mountpoint)
	return nil
}

// Wait blocks until the filesystem is unmounted externally or ctx ends.
func (s *Sandbox) Wait(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.srv.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Quiesce stops the audit intake and waits for the backlog to be
// written, so the report sees every event.
func (s *Sandbox) Quiesce() {
	if s.worker == nil || s.quiesced {
		return
	}
	s.quiesced = true

	s.worker.Close()
	<-s.workerDone
}

// Report writes the access summary collected since Mount.
func (s *Sandbox) Report(w io.Writer) error {
	stats := s.fs.Stats()

	sections := []struct {
		name  string
		paths []string
	}{
		{"read-only", stats.Read()},
		{"write-only", stats.Written()},
		{"read-write", stats.ReadWritten()},
	}

	fmt.Fprintf(w, "==> Access report for %s\n", s.root)
	for _, sec := range sections {
		if len(sec.paths) == 0 {
			continue
		}
		fmt.Fprintf(w, "%s:\n", sec.name)
		for _, p := range sec.paths {
			fmt.Fprintf(w, "  %s\n", p)
		}
	}

	denied, err := s.mem.List(context.Background(), audit.Filter{DeniedOnly: true})
	if err != nil {
		return fmt.Errorf("listing denied accesses: %s", err)
	}
	if len(denied) > 0 {
		fmt.Fprintf(w, "denied:\n")
		for _, ev := range denied {
			fmt.Fprintf(w, "  %s\n", ev.Line())
		}
	}

	return nil
}

// Close unmounts the filesystem, flushes the audit trail and removes a
// mountpoint this sandbox created.
func (s *Sandbox) Close() error {
	var firstErr error

	if s.mounted {
		if err := s.unmount(); err != nil {
			firstErr = err
		} else {
			s.mounted = false
		}
	}

	s.shutdownSink()

	if s.created && !s.mounted {
		if err := os.Remove(s.mountpoint); err != nil {
			log.DebugMsg("Removing mountpoint %s: %s\n", s.mountpoint, err)
		}
	}

	return firstErr
}

func (s *Sandbox) ensureMountpoint() error {
	if s.cfg.Mountpoint == "" {
		mp, err := os.MkdirTemp("", "fusebox-")
		if err != nil {
			return fmt.Errorf("os.MkdirTemp(): %s", err)
		}
		s.mountpoint = mp
		s.created = true
		return nil
	}

	mp, err := filepath.Abs(s.cfg.Mountpoint)
	if err != nil {
		return fmt.Errorf("filepath.Abs(%s): %s", s.cfg.Mountpoint, err)
	}

	if err := clean.EnsureDetached(mp); err != nil {
		return fmt.Errorf("mountpoint %s is stale: %s", mp, err)
	}

	if _, err := os.Stat(mp); os.IsNotExist(err) {
		if err := os.MkdirAll(mp, 0o755); err != nil {
			return fmt.Errorf("creating mountpoint %s: %s", mp, err)
		}
		s.created = true
	}

	s.mountpoint = mp
	return nil
}

func (s *Sandbox) unmount() error {
	var err error
	for i := 0; i < unmountRetries; i++ {
		if err = s.srv.Unmount(); err == nil {
			return nil
		}
		time.Sleep(unmountDelay)
	}

	// A process still holding files below the mountpoint keeps it busy.
	// Detach lazily through the platform helper as a last resort.
	if lerr := clean.Detach(s.mountpoint); lerr != nil {
		log.DebugMsg("%s\n", lerr)
		return fmt.Errorf("unmounting %s: %s", s.mountpoint, err)
	}

	return nil
}

func (s *Sandbox) shutdownSink() {
	if s.worker != nil {
		s.Quiesce()
	}

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.ErrorMsg("Closing the audit store: %s\n", err)
		}
		s.store = nil
	}
}

// buildStore assembles the event sink: always the in-memory store for
// the report, plus the file-backed stores the configuration asks for.
func buildStore(cfg *config.Sandbox, mem *audit.MemoryStore) (audit.Store, error) {
	stores := []audit.Store{mem}

	closeAll := func() {
		for _, st := range stores[1:] {
			st.Close()
		}
	}

	if cfg.AuditLog != "" {
		ls, err := audit.OpenLogStore(cfg.AuditLog)
		if err != nil {
			return nil, fmt.Errorf("opening the access log: %s", err)
		}
		stores = append(stores, ls)
	}

	if cfg.AuditDB != "" {
		db, err := audit.NewSQLiteStore(cfg.AuditDB)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("opening the audit database: %s", err)
		}
		stores = append(stores, db)
	}

	if len(stores) == 1 {
		return mem, nil
	}
	return audit.NewMultiStore(stores...), nil
}

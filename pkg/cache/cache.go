// Package cache is the key-addressed store for build cache partitions.
// Entries are directory snapshots saved as gzip compressed tar archives,
// one partition per cached directory, keyed by host OS, partition name
// and commit SHA.
package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"
)

const (
	archiveExt = ".tar.gz"
	metaExt    = ".meta"
	lockName   = ".lock"
)

// EnvStoreDir overrides the store location when set.
const EnvStoreDir = "FUSEBOX_CACHE_DIR"

// lockRetryDelay is the poll interval while waiting for a partition lock
// held by another runner.
const lockRetryDelay = 100 * time.Millisecond

// Match describes the entry a restore resolved to.
type Match struct {
	Key   string
	Exact bool
	Size  int64
}

// Store holds cache partitions under a single directory.
type Store struct {
	dir string
}

// NewStore opens the store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("store directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("os.MkdirAll(%s): %s", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the store root.
func (s *Store) Dir() string {
	return s.dir
}

// DefaultDir returns the store location: $FUSEBOX_CACHE_DIR when set,
// otherwise fusebox under the user cache directory.
func DefaultDir() string {
	if dir, ok := os.LookupEnv(EnvStoreDir); ok && dir != "" {
		return dir
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "fusebox-cache")
	}
	return filepath.Join(base, "fusebox")
}

// BuildKey returns the cache key for one partition of a build:
// <os>-build-<name>-<sha>.
func BuildKey(name, sha string) string {
	return fmt.Sprintf("%s-build-%s-%s", runtime.GOOS, name, sha)
}

// KeyPrefix returns the restore fallback prefix for a partition, matching
// every build of that partition on this OS.
func KeyPrefix(name string) string {
	return fmt.Sprintf("%s-build-%s-", runtime.GOOS, name)
}

// Save packs dir into the partition under key. An existing entry for the
// key is replaced.
func (s *Store) Save(ctx context.Context, partition, key, dir string) error {
	fl, err := s.lock(ctx, partition)
	if err != nil {
		return err
	}
	defer fl.Unlock()

	partDir := s.partitionDir(partition)
	name := sanitizeKey(key)

	tmp, err := os.CreateTemp(partDir, name+".tmp.*")
	if err != nil {
		return fmt.Errorf("os.CreateTemp(): %s", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err := packTree(tmp, dir); err != nil {
		return fmt.Errorf("packing %s: %s", dir, err)
	}
	_ = tmp.Sync()
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing archive: %s", err)
	}
	if err := os.Rename(tmpName, filepath.Join(partDir, name+archiveExt)); err != nil {
		return fmt.Errorf("committing archive: %s", err)
	}
	committed = true

	return writeMeta(filepath.Join(partDir, name+metaExt), meta{
		Key:     key,
		SavedAt: time.Now().UTC(),
	})
}

// Restore unpacks the entry for key into dir. On an exact miss the newest
// entry whose key starts with prefix is used instead. A nil Match with a
// nil error is a total miss; dir is left untouched then.
func (s *Store) Restore(ctx context.Context, partition, key, prefix, dir string) (*Match, error) {
	fl, err := s.lock(ctx, partition)
	if err != nil {
		return nil, err
	}
	defer fl.Unlock()

	m, path, err := s.resolve(partition, key, prefix)
	if err != nil || m == nil {
		return nil, err
	}
	if err := unpackTree(path, dir); err != nil {
		return nil, fmt.Errorf("unpacking %s: %s", filepath.Base(path), err)
	}
	return m, nil
}

// Has reports whether the partition holds an entry for exactly this key.
func (s *Store) Has(partition, key string) bool {
	path := filepath.Join(s.partitionDir(partition), sanitizeKey(key)+archiveExt)
	_, err := os.Stat(path)
	return err == nil
}

func (s *Store) resolve(partition, key, prefix string) (*Match, string, error) {
	partDir := s.partitionDir(partition)

	exact := filepath.Join(partDir, sanitizeKey(key)+archiveExt)
	if fi, err := os.Stat(exact); err == nil {
		return &Match{Key: key, Exact: true, Size: fi.Size()}, exact, nil
	}
	if prefix == "" {
		return nil, "", nil
	}

	entries, err := os.ReadDir(partDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("os.ReadDir(%s): %s", partDir, err)
	}

	want := sanitizeKey(prefix)
	var (
		bestPath string
		bestKey  string
		bestTime time.Time
		bestSize int64
	)
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, archiveExt) || !strings.HasPrefix(name, want) {
			continue
		}
		stem := strings.TrimSuffix(name, archiveExt)
		entryKey, savedAt := readMeta(filepath.Join(partDir, stem+metaExt))
		if entryKey == "" {
			entryKey = stem
		}
		var size int64
		if fi, err := e.Info(); err == nil {
			size = fi.Size()
			if savedAt.IsZero() {
				savedAt = fi.ModTime()
			}
		}
		if bestPath == "" || savedAt.After(bestTime) {
			bestPath = filepath.Join(partDir, name)
			bestKey = entryKey
			bestTime = savedAt
			bestSize = size
		}
	}
	if bestPath == "" {
		return nil, "", nil
	}
	return &Match{Key: bestKey, Exact: false, Size: bestSize}, bestPath, nil
}

// lock takes the partition's file lock, creating the partition directory
// on first use. Runners sharing a store block here.
func (s *Store) lock(ctx context.Context, partition string) (*flock.Flock, error) {
	dir := s.partitionDir(partition)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("os.MkdirAll(%s): %s", dir, err)
	}
	fl := flock.New(filepath.Join(dir, lockName))
	ok, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("locking partition '%s': %s", partition, err)
	}
	if !ok {
		return nil, fmt.Errorf("locking partition '%s': lock not acquired", partition)
	}
	return fl, nil
}

func (s *Store) partitionDir(partition string) string {
	return filepath.Join(s.dir, sanitizeKey(partition))
}

// meta is the sidecar record next to each archive. The archive filename is
// the sanitized key, the sidecar keeps the original.
type meta struct {
	Key     string    `yaml:"key"`
	SavedAt time.Time `yaml:"saved_at"`
}

func writeMeta(path string, m meta) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("yaml.Marshal(): %s", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("os.CreateTemp(): %s", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("writing meta: %s", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing meta: %s", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("committing meta: %s", err)
	}
	return nil
}

func readMeta(path string) (string, time.Time) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", time.Time{}
	}
	var m meta
	if err := yaml.Unmarshal(data, &m); err != nil {
		return "", time.Time{}
	}
	return m.Key, m.SavedAt
}

// sanitizeKey maps a key to a filename-safe form. Keys are built from host
// OS, partition name and commit SHA, so collisions after mapping are not a
// concern.
func sanitizeKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, key)
}

package fusefs

import (
	"sort"
	"sync"

	"golang.org/x/sys/unix"
)

// Stats collects which paths were opened and in which mode, for the
// access summary printed after a sandboxed run.
type Stats struct {
	mu sync.Mutex
	r  map[string]struct{}
	w  map[string]struct{}
	rw map[string]struct{}
}

func NewStats() *Stats {
	return &Stats{
		r:  make(map[string]struct{}),
		w:  make(map[string]struct{}),
		rw: make(map[string]struct{}),
	}
}

// Record classifies an open by its access mode.
func (s *Stats) Record(path string, flags uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch flags & unix.O_ACCMODE {
	case unix.O_RDONLY:
		s.r[path] = struct{}{}
	case unix.O_WRONLY:
		s.w[path] = struct{}{}
	default:
		s.rw[path] = struct{}{}
	}
}

// Read returns the paths opened read-only, sorted.
func (s *Stats) Read() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sorted(s.r)
}

// Written returns the paths opened write-only, sorted.
func (s *Stats) Written() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sorted(s.w)
}

// ReadWritten returns the paths opened read-write, sorted.
func (s *Stats) ReadWritten() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sorted(s.rw)
}

func sorted(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

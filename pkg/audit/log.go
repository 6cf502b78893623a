package audit

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
)

// LogStore appends the access trace as plain text, one line per event.
type LogStore struct {
	mu sync.Mutex
	w  io.WriteCloser
}

// NewLogStore writes the trace to w.
func NewLogStore(w io.WriteCloser) *LogStore {
	return &LogStore{w: w}
}

// OpenLogStore appends the trace to the file at path, creating it if
// needed.
func OpenLogStore(path string) (*LogStore, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("os.OpenFile(%s): %s", path, err)
	}
	return NewLogStore(f), nil
}

func (s *LogStore) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := fmt.Fprintln(s.w, event.Line()); err != nil {
		return fmt.Errorf("writing access line: %s", err)
	}
	return nil
}

func (s *LogStore) List(context.Context, Filter) ([]Event, error) {
	return nil, ErrNoQuery
}

func (s *LogStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Close()
}

package audit

import (
	"context"
	"errors"
	"strings"
)

// ErrNoQuery is returned by stores that can only append.
var ErrNoQuery = errors.New("store does not support queries")

// Store persists events.
type Store interface {
	Append(ctx context.Context, event Event) error
	List(ctx context.Context, f Filter) ([]Event, error)
	Close() error
}

// Filter narrows a List call. Zero fields match everything.
type Filter struct {
	Op         Op
	PathPrefix string
	DeniedOnly bool
	Limit      int
}

func (f Filter) matches(ev Event) bool {
	if f.Op != "" && ev.Op != f.Op {
		return false
	}
	if f.PathPrefix != "" && !strings.HasPrefix(ev.Path, f.PathPrefix) {
		return false
	}
	if f.DeniedOnly && ev.Allowed {
		return false
	}
	return true
}

package audit

import "context"

// MultiStore fans Append out to several stores, so a mount can keep a
// queryable database next to a plain text trace. List serves from the
// first store that supports queries.
type MultiStore struct {
	stores []Store
}

func NewMultiStore(stores ...Store) *MultiStore {
	return &MultiStore{stores: stores}
}

func (s *MultiStore) Append(ctx context.Context, event Event) error {
	var firstErr error
	for _, st := range s.stores {
		if err := st.Append(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *MultiStore) List(ctx context.Context, f Filter) ([]Event, error) {
	for _, st := range s.stores {
		out, err := st.List(ctx, f)
		if err == ErrNoQuery {
			continue
		}
		return out, err
	}
	return nil, ErrNoQuery
}

func (s *MultiStore) Close() error {
	var firstErr error
	for _, st := range s.stores {
		if err := st.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

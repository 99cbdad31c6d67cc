package chain

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// UpdateFunc mutates a chain loaded under the store's per-chain lock. It
// reports whether the chain changed; returning an error aborts the update.
type UpdateFunc func(c *ReviewChain) (changed bool, err error)

// Store persists review chains. Update must run fn as one atomic
// read-modify-write so two handlers never both act on the same pre-transition
// state.
type Store interface {
	Create(ctx context.Context, c *ReviewChain) error
	Get(ctx context.Context, id string) (*ReviewChain, error)
	List(ctx context.Context, filter ListFilter) ([]*ReviewChain, error)
	Update(ctx context.Context, id string, fn UpdateFunc) (*ReviewChain, error)
}

// InMemoryStore is a threadsafe in-memory store for tests and single-node runs.
type InMemoryStore struct {
	mu   sync.Mutex
	byID map[string]*ReviewChain
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byID: make(map[string]*ReviewChain)}
}

func (s *InMemoryStore) Create(ctx context.Context, c *ReviewChain) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[c.ID]; exists {
		return fmt.Errorf("review chain %s already exists", c.ID)
	}
	s.byID[c.ID] = c.Clone()
	return nil
}

func (s *InMemoryStore) Get(ctx context.Context, id string) (*ReviewChain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("chain %s: %w", id, ErrNotFound)
	}
	return c.Clone(), nil
}

func (s *InMemoryStore) List(ctx context.Context, filter ListFilter) ([]*ReviewChain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ReviewChain, 0)
	for _, c := range s.byID {
		if filter.matches(c) {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *InMemoryStore) Update(ctx context.Context, id string, fn UpdateFunc) (*ReviewChain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("chain %s: %w", id, ErrNotFound)
	}
	working := current.Clone()
	changed, err := fn(working)
	if err != nil {
		return nil, err
	}
	if changed {
		s.byID[id] = working.Clone()
	}
	return working, nil
}

func (f ListFilter) matches(c *ReviewChain) bool {
	if f.ActivityID != "" && c.ActivityID != f.ActivityID {
		return false
	}
	if f.Status != "" && c.Status() != f.Status {
		return false
	}
	if !f.DueBefore.IsZero() {
		return dueAt(c).Compare(f.DueBefore) <= 0 && !c.Status().Terminal()
	}
	return true
}

// dueAt is the next deadline of a non-terminal chain.
func dueAt(c *ReviewChain) time.Time {
	if c.Status() == StatusPending {
		return c.TriggerTime
	}
	return c.ExpireTime
}

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/bullionbook/lot-engine/internal/model"
)

// MemoryStore implements Store and Atomic with in-memory maps. Used for
// testing and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu  sync.RWMutex
	txs map[string]*model.Transaction
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		txs: make(map[string]*model.Transaction),
	}
}

func (s *MemoryStore) GetTransaction(_ context.Context, id string) (*model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.get(id)
}

func (s *MemoryStore) ListTransactions(_ context.Context, filter model.Filter) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.list(filter), nil
}

func (s *MemoryStore) InsertTransaction(_ context.Context, t *model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(t)
}

func (s *MemoryStore) UpdateTransaction(_ context.Context, t *model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.update(t)
}

func (s *MemoryStore) DeleteTransaction(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delete(id)
}

// WithinTx holds the write lock for the whole of fn, so readers never see
// a partially applied group. If fn fails every write it made is undone.
func (s *MemoryStore) WithinTx(ctx context.Context, _ model.Scope, fn func(ctx context.Context, tx Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := make(map[string]*model.Transaction, len(s.txs))
	for id, t := range s.txs {
		saved[id] = t
	}

	if err := fn(ctx, &memoryTx{s: s}); err != nil {
		s.txs = saved
		return err
	}
	return nil
}

// --- Unlocked helpers (caller holds s.mu) ---

func (s *MemoryStore) get(id string) (*model.Transaction, error) {
	t, ok := s.txs[id]
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	return t.Clone(), nil
}

func (s *MemoryStore) list(filter model.Filter) []model.Transaction {
	var result []model.Transaction
	for _, t := range s.txs {
		if filter.Match(t) {
			result = append(result, *t.Clone())
		}
	}
	sortTransactions(result)
	return result
}

func (s *MemoryStore) insert(t *model.Transaction) error {
	if _, exists := s.txs[t.ID]; exists {
		return fmt.Errorf("transaction %s already exists: %w", t.ID, ErrConflict)
	}
	// Store a copy to avoid external mutation.
	s.txs[t.ID] = t.Clone()
	return nil
}

// update replaces the stored record rather than mutating it in place, so a
// map snapshot taken by WithinTx still points at the old values.
func (s *MemoryStore) update(t *model.Transaction) error {
	existing, ok := s.txs[t.ID]
	if !ok {
		return fmt.Errorf("transaction %s: %w", t.ID, ErrNotFound)
	}
	if existing.Version != t.Version {
		return fmt.Errorf("transaction %s at version %d, expected %d: %w",
			t.ID, existing.Version, t.Version, ErrConflict)
	}
	t.Version++
	s.txs[t.ID] = t.Clone()
	return nil
}

func (s *MemoryStore) delete(id string) error {
	if _, ok := s.txs[id]; !ok {
		return fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	delete(s.txs, id)
	return nil
}

// memoryTx is the Store handed to WithinTx callbacks. The enclosing
// WithinTx already holds the write lock.
type memoryTx struct {
	s *MemoryStore
}

func (m *memoryTx) GetTransaction(_ context.Context, id string) (*model.Transaction, error) {
	return m.s.get(id)
}

func (m *memoryTx) ListTransactions(_ context.Context, filter model.Filter) ([]model.Transaction, error) {
	return m.s.list(filter), nil
}

func (m *memoryTx) InsertTransaction(_ context.Context, t *model.Transaction) error {
	return m.s.insert(t)
}

func (m *memoryTx) UpdateTransaction(_ context.Context, t *model.Transaction) error {
	return m.s.update(t)
}

func (m *memoryTx) DeleteTransaction(_ context.Context, id string) error {
	return m.s.delete(id)
}

func sortTransactions(ts []model.Transaction) {
	sort.Slice(ts, func(i, j int) bool {
		if !ts[i].Timestamp.Equal(ts[j].Timestamp) {
			return ts[i].Timestamp.Before(ts[j].Timestamp)
		}
		return ts[i].ID < ts[j].ID
	})
}

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bullionbook/lot-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
//
// Cached entries: single transactions by id, and whole (profile, metal)
// partitions. Listings with a date range or without a metal are served
// from the cached partitions and filtered in process.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store. If the
// primary is Atomic, so is the returned store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) Store {
	cs := &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
	if atomic, ok := primary.(Atomic); ok {
		return &atomicCachedStore{CachedStore: cs, atomic: atomic}
	}
	return cs
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) InsertTransaction(ctx context.Context, t *model.Transaction) error {
	if err := s.primary.InsertTransaction(ctx, t); err != nil {
		return err
	}
	s.invalidate(ctx, t.Scope(), t.ID)
	return nil
}

func (s *CachedStore) UpdateTransaction(ctx context.Context, t *model.Transaction) error {
	if err := s.primary.UpdateTransaction(ctx, t); err != nil {
		return err
	}
	// Invalidate cache; next read will re-populate.
	s.invalidate(ctx, t.Scope(), t.ID)
	return nil
}

func (s *CachedStore) DeleteTransaction(ctx context.Context, id string) error {
	// Need the scope to drop the partition entry.
	existing, err := s.primary.GetTransaction(ctx, id)
	if err != nil {
		return err
	}
	if err := s.primary.DeleteTransaction(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, existing.Scope(), id)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	data, err := s.rdb.Get(ctx, transactionKey(id)).Bytes()
	if err == nil {
		var t model.Transaction
		if json.Unmarshal(data, &t) == nil {
			return &t, nil
		}
	}

	// Cache miss: read from primary.
	t, err := s.primary.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(t); err == nil {
		s.rdb.Set(ctx, transactionKey(id), data, s.ttl)
	}
	return t, nil
}

func (s *CachedStore) ListTransactions(ctx context.Context, filter model.Filter) ([]model.Transaction, error) {
	if filter.ProfileID == "" {
		return s.primary.ListTransactions(ctx, filter)
	}

	metals := model.Metals
	if filter.Metal != "" {
		metals = []model.Metal{filter.Metal}
	}

	var result []model.Transaction
	for _, m := range metals {
		part, err := s.partition(ctx, model.Scope{ProfileID: filter.ProfileID, Metal: m})
		if err != nil {
			return nil, err
		}
		for i := range part {
			if filter.Match(&part[i]) {
				result = append(result, part[i])
			}
		}
	}
	sortTransactions(result)
	return result, nil
}

// partition returns every transaction in one scope.
func (s *CachedStore) partition(ctx context.Context, scope model.Scope) ([]model.Transaction, error) {
	data, err := s.rdb.Get(ctx, partitionKey(scope)).Bytes()
	if err == nil {
		var ts []model.Transaction
		if json.Unmarshal(data, &ts) == nil {
			return ts, nil
		}
	}

	// Cache miss.
	ts, err := s.primary.ListTransactions(ctx, model.Filter{ProfileID: scope.ProfileID, Metal: scope.Metal})
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(ts); err == nil {
		s.rdb.Set(ctx, partitionKey(scope), data, s.ttl)
	}
	return ts, nil
}

// --- Cache helpers ---

func (s *CachedStore) invalidate(ctx context.Context, scope model.Scope, ids ...string) {
	keys := []string{partitionKey(scope)}
	for _, id := range ids {
		keys = append(keys, transactionKey(id))
	}
	s.rdb.Del(ctx, keys...)
}

// atomicCachedStore forwards WithinTx to the primary. The callback talks to
// the primary's transaction directly; the whole partition is invalidated
// afterwards, whether or not the transaction committed.
type atomicCachedStore struct {
	*CachedStore
	atomic Atomic
}

func (s *atomicCachedStore) WithinTx(ctx context.Context, scope model.Scope, fn func(ctx context.Context, tx Store) error) error {
	var touched []string
	err := s.atomic.WithinTx(ctx, scope, func(ctx context.Context, tx Store) error {
		return fn(ctx, &recordingStore{Store: tx, touched: &touched})
	})
	s.invalidate(ctx, scope, touched...)
	return err
}

// recordingStore remembers which ids were written so their cache entries
// can be dropped once the transaction ends.
type recordingStore struct {
	Store
	touched *[]string
}

func (r *recordingStore) InsertTransaction(ctx context.Context, t *model.Transaction) error {
	*r.touched = append(*r.touched, t.ID)
	return r.Store.InsertTransaction(ctx, t)
}

func (r *recordingStore) UpdateTransaction(ctx context.Context, t *model.Transaction) error {
	*r.touched = append(*r.touched, t.ID)
	return r.Store.UpdateTransaction(ctx, t)
}

func (r *recordingStore) DeleteTransaction(ctx context.Context, id string) error {
	*r.touched = append(*r.touched, id)
	return r.Store.DeleteTransaction(ctx, id)
}

func transactionKey(id string) string       { return fmt.Sprintf("txn:%s", id) }
func partitionKey(scope model.Scope) string { return fmt.Sprintf("ledger:%s", scope.Key()) }

// Package store defines the persistence interface for the lot engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing and development).
//
// A store knows nothing about lot semantics. It keeps transaction records
// and answers lookups by id and by (profile, metal).
package store

import (
	"context"
	"errors"

	"github.com/bullionbook/lot-engine/internal/model"
)

var (
	// ErrNotFound is returned when no record has the requested id.
	ErrNotFound = errors.New("store: transaction not found")

	// ErrConflict is returned when an update's expected version no longer
	// matches the stored row, or an insert reuses an existing id.
	ErrConflict = errors.New("store: version conflict")
)

// Store is the persistence interface.
type Store interface {
	// GetTransaction retrieves a transaction by its ID.
	GetTransaction(ctx context.Context, id string) (*model.Transaction, error)

	// ListTransactions returns all transactions matching the filter,
	// ordered by timestamp then id.
	ListTransactions(ctx context.Context, filter model.Filter) ([]model.Transaction, error)

	// InsertTransaction persists a new transaction.
	InsertTransaction(ctx context.Context, t *model.Transaction) error

	// UpdateTransaction overwrites the mutable fields of a transaction.
	// t.Version must equal the stored version; on success the stored
	// version becomes t.Version+1 and t.Version is advanced to match.
	UpdateTransaction(ctx context.Context, t *model.Transaction) error

	// DeleteTransaction removes a transaction.
	DeleteTransaction(ctx context.Context, id string) error
}

// Atomic is implemented by stores that can run a group of reads and writes
// as one unit. Writes made through the Store passed to fn are committed
// together when fn returns nil and discarded otherwise. Concurrent Atomic
// calls for the same scope are serialized.
type Atomic interface {
	WithinTx(ctx context.Context, scope model.Scope, fn func(ctx context.Context, tx Store) error) error
}

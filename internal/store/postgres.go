package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/bullionbook/lot-engine/internal/model"
)

//go:embed schema.sql
var schema string

// querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store and Atomic using PostgreSQL as the source
// of truth. All quantities and money are stored as NUMERIC for exact
// decimal precision; sell draws are stored as JSONB.
type PostgresStore struct {
	pool *pgxpool.Pool // nil inside a transaction
	db   querier
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, db: pool}
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const selectColumns = `id, profile_id, kind, metal,
	quantity::TEXT, unit_price::TEXT, timestamp,
	remaining_quantity::TEXT, consumed_lots::TEXT,
	realized_profit::TEXT, unallocated::TEXT,
	version, created_at, updated_at`

func (s *PostgresStore) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM transactions WHERE id = $1`, id)
	t, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", id, err)
	}
	return t, nil
}

func (s *PostgresStore) ListTransactions(ctx context.Context, filter model.Filter) ([]model.Transaction, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.ProfileID != "" {
		add("profile_id = $%d", filter.ProfileID)
	}
	if filter.Metal != "" {
		add("metal = $%d", string(filter.Metal))
	}
	if !filter.From.IsZero() {
		add("timestamp >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("timestamp <= $%d", filter.To)
	}

	sql := `SELECT ` + selectColumns + ` FROM transactions`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	sql += ` ORDER BY timestamp, id`

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var result []model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}
	return result, rows.Err()
}

func (s *PostgresStore) InsertTransaction(ctx context.Context, t *model.Transaction) error {
	lots, err := encodeDraws(t.ConsumedLots)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO transactions (id, profile_id, kind, metal, quantity, unit_price, timestamp,
		                           remaining_quantity, consumed_lots, realized_profit, unallocated,
		                           version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7,
		         $8::NUMERIC, $9::JSONB, $10::NUMERIC, $11::NUMERIC,
		         $12, $13, $14)`,
		t.ID, t.ProfileID, string(t.Kind), string(t.Metal),
		t.Quantity.String(), t.UnitPrice.String(), t.Timestamp,
		t.RemainingQuantity.String(), lots, t.RealizedProfit.String(), t.Unallocated.String(),
		t.Version, t.CreatedAt, t.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("transaction %s already exists: %w", t.ID, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert transaction %s: %w", t.ID, err)
	}
	return nil
}

func (s *PostgresStore) UpdateTransaction(ctx context.Context, t *model.Transaction) error {
	lots, err := encodeDraws(t.ConsumedLots)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE transactions
		 SET quantity = $3::NUMERIC, unit_price = $4::NUMERIC, timestamp = $5,
		     remaining_quantity = $6::NUMERIC, consumed_lots = $7::JSONB,
		     realized_profit = $8::NUMERIC, unallocated = $9::NUMERIC,
		     updated_at = $10, version = version + 1
		 WHERE id = $1 AND version = $2`,
		t.ID, t.Version,
		t.Quantity.String(), t.UnitPrice.String(), t.Timestamp,
		t.RemainingQuantity.String(), lots,
		t.RealizedProfit.String(), t.Unallocated.String(),
		t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update transaction %s: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.db.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM transactions WHERE id = $1)`, t.ID).Scan(&exists); err != nil {
			return fmt.Errorf("update transaction %s: %w", t.ID, err)
		}
		if !exists {
			return fmt.Errorf("transaction %s: %w", t.ID, ErrNotFound)
		}
		return fmt.Errorf("transaction %s not at version %d: %w", t.ID, t.Version, ErrConflict)
	}
	t.Version++
	return nil
}

func (s *PostgresStore) DeleteTransaction(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM transactions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete transaction %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	return nil
}

// WithinTx runs fn in a database transaction holding an advisory lock on
// the scope, so writers on other instances queue behind this one.
func (s *PostgresStore) WithinTx(ctx context.Context, scope model.Scope, fn func(ctx context.Context, tx Store) error) error {
	if s.pool == nil {
		return errors.New("store: nested transactions are not supported")
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, scope.Key()); err != nil {
			return fmt.Errorf("lock scope %s: %w", scope.Key(), err)
		}
		return fn(ctx, &PostgresStore{db: tx})
	})
}

// scanTransaction reads one row of selectColumns.
func scanTransaction(row pgx.Row) (*model.Transaction, error) {
	var t model.Transaction
	var kind, metal string
	var qtyS, priceS, remainingS, lotsS, profitS, unallocS string

	if err := row.Scan(&t.ID, &t.ProfileID, &kind, &metal,
		&qtyS, &priceS, &t.Timestamp,
		&remainingS, &lotsS,
		&profitS, &unallocS,
		&t.Version, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}

	t.Kind = model.Kind(kind)
	t.Metal = model.Metal(metal)
	t.Quantity, _ = decimal.NewFromString(qtyS)
	t.UnitPrice, _ = decimal.NewFromString(priceS)
	t.RemainingQuantity, _ = decimal.NewFromString(remainingS)
	t.RealizedProfit, _ = decimal.NewFromString(profitS)
	t.Unallocated, _ = decimal.NewFromString(unallocS)

	if err := json.Unmarshal([]byte(lotsS), &t.ConsumedLots); err != nil {
		return nil, fmt.Errorf("decode consumed lots of %s: %w", t.ID, err)
	}
	if len(t.ConsumedLots) == 0 {
		t.ConsumedLots = nil
	}
	return &t, nil
}

func encodeDraws(draws []model.Draw) (string, error) {
	if draws == nil {
		draws = []model.Draw{}
	}
	b, err := json.Marshal(draws)
	if err != nil {
		return "", fmt.Errorf("encode consumed lots: %w", err)
	}
	return string(b), nil
}

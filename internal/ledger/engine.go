package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/bullionbook/lot-engine/internal/lot"
	"github.com/bullionbook/lot-engine/internal/metrics"
	"github.com/bullionbook/lot-engine/internal/model"
	"github.com/bullionbook/lot-engine/internal/report"
	"github.com/bullionbook/lot-engine/internal/store"
)

// Config controls matching and commit behavior.
type Config struct {
	Policy     lot.Policy
	Mode       lot.Mode
	MaxRetries int // extra attempts after a version conflict

	// Now and NewID default to time.Now().UTC() and uuid.NewString.
	Now   func() time.Time
	NewID func() string
}

// Event describes a committed mutation.
type Event struct {
	Op            string      `json:"op"` // "add", "edit", "delete"
	ProfileID     string      `json:"profile_id"`
	Metal         model.Metal `json:"metal"`
	TransactionID string      `json:"transaction_id"`
	Touched       []string    `json:"touched"` // every id written, including lots and dependent sells
}

// Notifier is told about every committed mutation.
type Notifier interface {
	LedgerChanged(Event)
}

// Engine is the entry point for ledger mutations and queries. Mutations
// are serialized per (profile, metal) with an in-process lock; stores that
// implement store.Atomic additionally run each mutation in one store
// transaction, which is what keeps multiple instances apart.
type Engine struct {
	store    store.Store
	matcher  *lot.Matcher
	cfg      Config
	locks    *partitionLocks
	notifier Notifier
}

// NewEngine creates an engine. Pass nil for notifier if nobody listens.
func NewEngine(st store.Store, cfg Config, notifier Notifier) *Engine {
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Engine{
		store:    st,
		matcher:  lot.NewMatcher(cfg.Policy, cfg.Mode),
		cfg:      cfg,
		locks:    newPartitionLocks(),
		notifier: notifier,
	}
}

// Matcher returns the engine's lot matcher.
func (e *Engine) Matcher() *lot.Matcher { return e.matcher }

// AddTransaction records a buy or a sell. In strict mode a sell that the
// available lots cannot cover fails with ErrInsufficientInventory and
// nothing is written.
func (e *Engine) AddTransaction(ctx context.Context, in model.Intent) (*model.Transaction, error) {
	if err := validateIntent(in); err != nil {
		e.reject("add", err)
		return nil, err
	}
	scope := model.Scope{ProfileID: in.ProfileID, Metal: in.Metal}

	// A fresh id per attempt, so an id collision is retried like any
	// other conflict.
	var added *model.Transaction
	b, err := e.mutate(ctx, "add", scope, func(b *Book) error {
		t, err := b.Add(in, e.cfg.NewID())
		added = t
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.Info("transaction added",
		"id", added.ID,
		"profile", added.ProfileID,
		"metal", added.Metal,
		"kind", added.Kind,
		"qty", added.Quantity.String(),
		"unit_price", added.UnitPrice.String(),
		"lots", len(added.ConsumedLots),
		"profit", added.RealizedProfit.String(),
		"unallocated", added.Unallocated.String(),
	)
	e.committed("add", added, b)
	return added.Clone(), nil
}

// EditTransaction applies a partial edit. See Book.Edit for the rules.
func (e *Engine) EditTransaction(ctx context.Context, id string, p model.Patch) (*model.Transaction, error) {
	scope, err := e.scopeOf(ctx, id)
	if err != nil {
		e.reject("edit", err)
		return nil, err
	}

	var edited *model.Transaction
	b, err := e.mutate(ctx, "edit", scope, func(b *Book) error {
		t, err := b.Edit(id, p)
		edited = t
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.Info("transaction edited",
		"id", edited.ID,
		"profile", edited.ProfileID,
		"metal", edited.Metal,
		"kind", edited.Kind,
		"qty", edited.Quantity.String(),
		"unit_price", edited.UnitPrice.String(),
		"writes", len(b.Changes()),
	)
	e.committed("edit", edited, b)
	return edited.Clone(), nil
}

// DeleteTransaction removes a transaction. Buys that sells still draw from
// fail with ErrLotInUse.
func (e *Engine) DeleteTransaction(ctx context.Context, id string) error {
	scope, err := e.scopeOf(ctx, id)
	if err != nil {
		e.reject("delete", err)
		return err
	}

	var deleted *model.Transaction
	b, err := e.mutate(ctx, "delete", scope, func(b *Book) error {
		t, err := b.Delete(id)
		deleted = t
		return err
	})
	if err != nil {
		return err
	}

	slog.Info("transaction deleted",
		"id", deleted.ID,
		"profile", deleted.ProfileID,
		"metal", deleted.Metal,
		"kind", deleted.Kind,
	)
	e.committed("delete", deleted, b)
	return nil
}

// ListLedger returns the transactions matching the filter, newest first.
// The profile is required.
func (e *Engine) ListLedger(ctx context.Context, f model.Filter) ([]model.Transaction, error) {
	if f.ProfileID == "" {
		return nil, fmt.Errorf("%w: profile is required", ErrInvalidTransaction)
	}
	if f.Metal != "" && !f.Metal.Valid() {
		return nil, fmt.Errorf("%w: unknown metal %q", ErrInvalidTransaction, f.Metal)
	}

	unlock := e.locks.rlock(e.scopesFor(f)...)
	defer unlock()

	txs, err := e.store.ListTransactions(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}
	sort.SliceStable(txs, func(i, j int) bool {
		if !txs[i].Timestamp.Equal(txs[j].Timestamp) {
			return txs[i].Timestamp.After(txs[j].Timestamp)
		}
		return txs[i].ID < txs[j].ID
	})
	if txs == nil {
		txs = []model.Transaction{}
	}
	return txs, nil
}

// GetTransaction returns one transaction.
func (e *Engine) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	t, err := e.store.GetTransaction(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	return t, err
}

// Summary returns the all-time summary of a profile.
func (e *Engine) Summary(ctx context.Context, profileID string) (report.Summary, error) {
	txs, err := e.ListLedger(ctx, model.Filter{ProfileID: profileID})
	if err != nil {
		return report.Summary{}, err
	}
	return report.Summarize(profileID, txs), nil
}

// MonthlyReport groups a profile's activity by month, newest first.
func (e *Engine) MonthlyReport(ctx context.Context, profileID string) ([]report.MonthReport, error) {
	txs, err := e.ListLedger(ctx, model.Filter{ProfileID: profileID})
	if err != nil {
		return nil, err
	}
	return report.Monthly(txs), nil
}

// WindowReport reports one metal's activity between from and to inclusive.
// Zero bounds default to the current week.
func (e *Engine) WindowReport(ctx context.Context, profileID string, metal model.Metal, from, to time.Time) (report.WindowReport, error) {
	if !metal.Valid() {
		return report.WindowReport{}, fmt.Errorf("%w: unknown metal %q", ErrInvalidTransaction, metal)
	}
	if from.IsZero() || to.IsZero() {
		wf, wt := report.WeekBounds(e.cfg.Now())
		if from.IsZero() {
			from = wf
		}
		if to.IsZero() {
			to = wt
		}
	}
	if to.Before(from) {
		return report.WindowReport{}, fmt.Errorf("%w: window ends before it starts", ErrInvalidTransaction)
	}
	txs, err := e.ListLedger(ctx, model.Filter{ProfileID: profileID, Metal: metal})
	if err != nil {
		return report.WindowReport{}, err
	}
	return report.Window(txs, metal, from, to), nil
}

// --- Mutation pipeline ---

// mutate locks the scope, then loads, plans and commits, retrying the whole
// sequence when the store reports a version conflict.
func (e *Engine) mutate(ctx context.Context, op string, scope model.Scope, fn func(*Book) error) (*Book, error) {
	start := time.Now()
	defer func() {
		metrics.MutationLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	unlock := e.locks.lock(scope)
	defer unlock()

	for attempt := 0; ; attempt++ {
		b, err := e.execute(ctx, scope, fn)
		if err == nil {
			return b, nil
		}
		if isRetryable(err) && attempt < e.cfg.MaxRetries {
			metrics.ConflictRetries.Inc()
			slog.Warn("version conflict, retrying", "op", op, "scope", scope.Key(), "attempt", attempt+1, "err", err)
			continue
		}
		e.reject(op, err)
		return nil, err
	}
}

func (e *Engine) execute(ctx context.Context, scope model.Scope, fn func(*Book) error) (*Book, error) {
	if atomic, ok := e.store.(store.Atomic); ok {
		var b *Book
		err := atomic.WithinTx(ctx, scope, func(ctx context.Context, tx store.Store) error {
			var err error
			if b, err = e.plan(ctx, tx, scope, fn); err != nil {
				return err
			}
			return apply(ctx, tx, b.Changes())
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	}

	b, err := e.plan(ctx, e.store, scope, fn)
	if err != nil {
		return nil, err
	}
	if err := commitCompensating(ctx, e.store, b.Changes()); err != nil {
		return nil, err
	}
	return b, nil
}

// plan loads the scope into a fresh Book, runs fn on it and verifies the
// invariants before anything is written.
func (e *Engine) plan(ctx context.Context, st store.Store, scope model.Scope, fn func(*Book) error) (*Book, error) {
	txs, err := st.ListTransactions(ctx, model.Filter{ProfileID: scope.ProfileID, Metal: scope.Metal})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", scope.Key(), err)
	}
	b := NewBook(scope, e.matcher, txs, e.cfg.Now())
	if err := fn(b); err != nil {
		return nil, err
	}
	if err := b.Check(); err != nil {
		slog.Error("ledger invariant violated, aborting", "scope", scope.Key(), "err", err)
		return nil, err
	}
	return b, nil
}

func (e *Engine) scopeOf(ctx context.Context, id string) (model.Scope, error) {
	t, err := e.store.GetTransaction(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return model.Scope{}, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Scope{}, err
	}
	return t.Scope(), nil
}

func (e *Engine) scopesFor(f model.Filter) []model.Scope {
	if f.Metal != "" {
		return []model.Scope{{ProfileID: f.ProfileID, Metal: f.Metal}}
	}
	scopes := make([]model.Scope, 0, len(model.Metals))
	for _, m := range model.Metals {
		scopes = append(scopes, model.Scope{ProfileID: f.ProfileID, Metal: m})
	}
	return scopes
}

func (e *Engine) committed(op string, t *model.Transaction, b *Book) {
	metrics.MutationsTotal.WithLabelValues(op, string(t.Kind), string(t.Metal)).Inc()
	if e.notifier == nil {
		return
	}
	changes := b.Changes()
	touched := make([]string, 0, len(changes))
	for _, c := range changes {
		touched = append(touched, c.ID())
	}
	e.notifier.LedgerChanged(Event{
		Op:            op,
		ProfileID:     t.ProfileID,
		Metal:         t.Metal,
		TransactionID: t.ID,
		Touched:       touched,
	})
}

func (e *Engine) reject(op string, err error) {
	reason := Reason(err)
	metrics.Rejections.WithLabelValues(op, reason).Inc()
	if reason == "consistency" || reason == "overdraw" {
		slog.Error("ledger mutation aborted", "op", op, "reason", reason, "err", err)
	}
}

// Reason classifies an engine error for metrics and transport mapping.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrConsistency):
		return "consistency"
	case errors.Is(err, ErrOverDraw):
		return "overdraw"
	case errors.Is(err, ErrInsufficientInventory):
		return "insufficient_inventory"
	case errors.Is(err, ErrNegativeRemaining):
		return "negative_remaining"
	case errors.Is(err, ErrLotInUse):
		return "lot_in_use"
	case errors.Is(err, ErrLotNotFound):
		return "lot_not_found"
	case errors.Is(err, ErrNotFound), errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrImmutableField):
		return "immutable_field"
	case errors.Is(err, ErrInvalidTransaction), errors.Is(err, lot.ErrInvalidQuantity):
		return "invalid"
	case errors.Is(err, store.ErrConflict):
		return "conflict"
	default:
		return "internal"
	}
}

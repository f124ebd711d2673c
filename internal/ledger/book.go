// Package ledger keeps the lot books for one (profile, metal) partition
// consistent as transactions are added, edited and deleted.
//
// A Book is an in-memory snapshot of a partition. Operations run against
// the Book, never against the store; once an operation succeeds the Book
// yields the list of Changes that the Engine commits in one unit. A failed
// operation simply discards the Book, so validation never needs undoing.
package ledger

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bullionbook/lot-engine/internal/lot"
	"github.com/bullionbook/lot-engine/internal/model"
)

// Book is a mutable snapshot of one partition.
type Book struct {
	scope   model.Scope
	matcher *lot.Matcher
	now     time.Time

	txs   map[string]*model.Transaction // working copies
	orig  map[string]*model.Transaction // as loaded
	dirty map[string]bool
}

// NewBook builds a Book over the given transactions. Transactions outside
// the scope are ignored.
func NewBook(scope model.Scope, matcher *lot.Matcher, txs []model.Transaction, now time.Time) *Book {
	b := &Book{
		scope:   scope,
		matcher: matcher,
		now:     now,
		txs:     make(map[string]*model.Transaction, len(txs)),
		orig:    make(map[string]*model.Transaction, len(txs)),
		dirty:   make(map[string]bool),
	}
	for i := range txs {
		t := &txs[i]
		if t.Scope() != scope {
			continue
		}
		b.txs[t.ID] = t.Clone()
		b.orig[t.ID] = t.Clone()
	}
	return b
}

// Scope returns the partition this book covers.
func (b *Book) Scope() model.Scope { return b.scope }

// Get returns the working copy of a transaction.
func (b *Book) Get(id string) (*model.Transaction, error) {
	t, ok := b.txs[id]
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	return t, nil
}

// Transactions returns the working copies ordered by timestamp then id.
func (b *Book) Transactions() []*model.Transaction {
	out := make([]*model.Transaction, 0, len(b.txs))
	for _, t := range b.txs {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// candidates returns every buy with stock left, as matcher input.
func (b *Book) candidates() []lot.Candidate {
	var cs []lot.Candidate
	for _, t := range b.txs {
		if t.Kind == model.Buy && t.RemainingQuantity.IsPositive() {
			cs = append(cs, lot.CandidateFrom(t))
		}
	}
	return cs
}

// dependents returns the sells drawing from lotID.
func (b *Book) dependents(lotID string) []*model.Transaction {
	var out []*model.Transaction
	for _, t := range b.Transactions() {
		if t.Kind != model.Sell {
			continue
		}
		for _, d := range t.ConsumedLots {
			if d.LotID == lotID {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

func (b *Book) touch(t *model.Transaction) {
	t.UpdatedAt = b.now
	b.dirty[t.ID] = true
}

// --- Lot mutator ---

// draw decrements each lot by its draw and appends the draws to the sell.
// Every draw is checked before any lot is touched, so a failure leaves the
// book as it was.
func (b *Book) draw(sell *model.Transaction, draws []model.Draw) error {
	pending := make(map[string]decimal.Decimal, len(draws))
	for _, d := range draws {
		l, ok := b.txs[d.LotID]
		if !ok || l.Kind != model.Buy {
			return fmt.Errorf("draw for sell %s: lot %s: %w", sell.ID, d.LotID, ErrLotNotFound)
		}
		total := pending[d.LotID].Add(d.Quantity)
		if total.GreaterThan(l.RemainingQuantity) {
			return fmt.Errorf("draw %s from lot %s with %s remaining: %w",
				total.String(), d.LotID, l.RemainingQuantity.String(), ErrOverDraw)
		}
		pending[d.LotID] = total
	}

	for _, d := range draws {
		l := b.txs[d.LotID]
		l.RemainingQuantity = l.RemainingQuantity.Sub(d.Quantity)
		b.touch(l)
	}
	sell.ConsumedLots = append(sell.ConsumedLots, draws...)
	b.recomputeProfit(sell)
	b.touch(sell)
	return nil
}

// match allocates a fresh sell against the current pool and applies it.
func (b *Book) match(sell *model.Transaction) error {
	alloc, err := b.matcher.Match(sell.Quantity, b.candidates())
	if err != nil {
		return err
	}
	sell.ConsumedLots = nil
	sell.Unallocated = alloc.Unallocated
	return b.draw(sell, alloc.Draws)
}

// reverse returns every draw of a sell to its lot and clears the sell's
// provenance.
func (b *Book) reverse(sell *model.Transaction) error {
	for _, d := range sell.ConsumedLots {
		l, ok := b.txs[d.LotID]
		if !ok || l.Kind != model.Buy {
			return fmt.Errorf("reverse sell %s: lot %s: %w", sell.ID, d.LotID, ErrLotNotFound)
		}
		restored := l.RemainingQuantity.Add(d.Quantity)
		if restored.GreaterThan(l.Quantity) {
			return fmt.Errorf("%w: reversing sell %s would restore lot %s to %s of %s",
				ErrConsistency, sell.ID, l.ID, restored.String(), l.Quantity.String())
		}
		l.RemainingQuantity = restored
		b.touch(l)
	}
	sell.ConsumedLots = nil
	sell.Unallocated = decimal.Zero
	sell.RealizedProfit = decimal.Zero
	b.touch(sell)
	return nil
}

// recomputeProfit derives realized profit from the sell's current draws:
// covered quantity × sell price − Σ drawn × lot price. With full coverage
// this is quantity × price − cost basis.
func (b *Book) recomputeProfit(sell *model.Transaction) {
	sell.RealizedProfit = b.profitOf(sell)
}

func (b *Book) profitOf(sell *model.Transaction) decimal.Decimal {
	cost := decimal.Zero
	covered := decimal.Zero
	for _, d := range sell.ConsumedLots {
		if l, ok := b.txs[d.LotID]; ok {
			cost = cost.Add(d.Quantity.Mul(l.UnitPrice))
		}
		covered = covered.Add(d.Quantity)
	}
	return covered.Mul(sell.UnitPrice).Sub(cost)
}

// coverShorts lets free stock cover open shorts, oldest sell first.
// Only permissive mode produces open shorts.
func (b *Book) coverShorts() error {
	if b.matcher.Mode() != lot.Permissive {
		return nil
	}
	for _, t := range b.Transactions() {
		if t.Kind != model.Sell || !t.Unallocated.IsPositive() {
			continue
		}
		cs := b.candidates()
		if len(cs) == 0 {
			return nil
		}
		alloc, err := b.matcher.Match(t.Unallocated, cs)
		if err != nil {
			return err
		}
		t.Unallocated = alloc.Unallocated
		if err := b.draw(t, alloc.Draws); err != nil {
			return err
		}
	}
	return nil
}

// --- Invariants ---

// Check verifies that every lot's remaining quantity equals its quantity
// minus everything drawn from it and stays within [0, quantity], that every
// draw points at a buy in the partition, and that every sell's profit
// matches its draws.
func (b *Book) Check() error {
	drawn := make(map[string]decimal.Decimal)
	for _, t := range b.txs {
		if t.Kind != model.Sell {
			continue
		}
		for _, d := range t.ConsumedLots {
			l, ok := b.txs[d.LotID]
			if !ok || l.Kind != model.Buy {
				return fmt.Errorf("%w: sell %s draws from missing lot %s", ErrConsistency, t.ID, d.LotID)
			}
			if !d.Quantity.IsPositive() {
				return fmt.Errorf("%w: sell %s has non-positive draw from %s", ErrConsistency, t.ID, d.LotID)
			}
			drawn[d.LotID] = drawn[d.LotID].Add(d.Quantity)
		}
		if t.Unallocated.IsNegative() {
			return fmt.Errorf("%w: sell %s has negative unallocated %s", ErrConsistency, t.ID, t.Unallocated.String())
		}
		if want := b.profitOf(t); !t.RealizedProfit.Equal(want) {
			return fmt.Errorf("%w: sell %s profit %s, draws imply %s",
				ErrConsistency, t.ID, t.RealizedProfit.String(), want.String())
		}
	}
	for _, t := range b.txs {
		if t.Kind != model.Buy {
			continue
		}
		if t.RemainingQuantity.IsNegative() || t.RemainingQuantity.GreaterThan(t.Quantity) {
			return fmt.Errorf("%w: lot %s remaining %s outside [0, %s]",
				ErrConsistency, t.ID, t.RemainingQuantity.String(), t.Quantity.String())
		}
		want := t.Quantity.Sub(drawn[t.ID])
		if !t.RemainingQuantity.Equal(want) {
			return fmt.Errorf("%w: lot %s remaining %s, draws imply %s",
				ErrConsistency, t.ID, t.RemainingQuantity.String(), want.String())
		}
	}
	return nil
}

// --- Changeset ---

// Op is the kind of write a Change makes.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Change is one write. Before is nil for inserts, After is nil for deletes.
type Change struct {
	Op     Op
	Before *model.Transaction
	After  *model.Transaction
}

// ID returns the id of the transaction the change writes.
func (c Change) ID() string {
	if c.After != nil {
		return c.After.ID
	}
	return c.Before.ID
}

// Changes lists the writes needed to bring the store in line with the
// book: inserts, then updates, then deletes, each group ordered by id.
func (b *Book) Changes() []Change {
	var inserts, updates, deletes []Change
	for id := range b.dirty {
		after, live := b.txs[id]
		before, existed := b.orig[id]
		switch {
		case live && !existed:
			inserts = append(inserts, Change{Op: OpInsert, After: after})
		case live && existed:
			updates = append(updates, Change{Op: OpUpdate, Before: before, After: after})
		case !live && existed:
			deletes = append(deletes, Change{Op: OpDelete, Before: before})
		}
	}
	byID := func(cs []Change) {
		sort.Slice(cs, func(i, j int) bool { return cs[i].ID() < cs[j].ID() })
	}
	byID(inserts)
	byID(updates)
	byID(deletes)

	out := make([]Change, 0, len(inserts)+len(updates)+len(deletes))
	out = append(out, inserts...)
	out = append(out, updates...)
	return append(out, deletes...)
}

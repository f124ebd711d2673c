package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/bullionbook/lot-engine/internal/lot"
	"github.com/bullionbook/lot-engine/internal/model"
)

// Add records a new transaction under the given id. A buy opens a lot (and,
// in permissive mode, covers open shorts); a sell is matched against the
// lots in the book.
func (b *Book) Add(in model.Intent, id string) (*model.Transaction, error) {
	if err := validateIntent(in); err != nil {
		return nil, err
	}
	if in.ProfileID != b.scope.ProfileID || in.Metal != b.scope.Metal {
		return nil, fmt.Errorf("%w: intent for %s/%s in book %s", ErrInvalidTransaction, in.ProfileID, in.Metal, b.scope.Key())
	}
	if _, exists := b.txs[id]; exists {
		return nil, fmt.Errorf("%w: duplicate id %s", ErrInvalidTransaction, id)
	}

	ts := in.Timestamp
	if ts.IsZero() {
		ts = b.now
	}
	t := &model.Transaction{
		ID:                id,
		ProfileID:         in.ProfileID,
		Kind:              in.Kind,
		Metal:             in.Metal,
		Quantity:          in.Quantity,
		UnitPrice:         in.UnitPrice,
		Timestamp:         ts,
		RemainingQuantity: decimal.Zero,
		RealizedProfit:    decimal.Zero,
		Unallocated:       decimal.Zero,
		CreatedAt:         b.now,
	}
	b.txs[id] = t
	b.touch(t)

	switch t.Kind {
	case model.Buy:
		t.RemainingQuantity = t.Quantity
		if err := b.coverShorts(); err != nil {
			return nil, err
		}
	case model.Sell:
		if err := b.match(t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Edit applies a patch to an existing transaction.
//
// Buys keep what has already been sold from them and adjust only the free
// part; a price change re-prices every dependent sell. Sells whose quantity
// changes are reversed and matched again against the restored pool; a sell
// whose quantity is unchanged keeps its draws. A patch that changes nothing
// is a no-op.
func (b *Book) Edit(id string, p model.Patch) (*model.Transaction, error) {
	t, err := b.Get(id)
	if err != nil {
		return nil, err
	}
	if p.Kind != nil && *p.Kind != t.Kind {
		return nil, fmt.Errorf("%w: kind of %s", ErrImmutableField, id)
	}
	if p.Metal != nil && *p.Metal != t.Metal {
		return nil, fmt.Errorf("%w: metal of %s", ErrImmutableField, id)
	}
	if p.Quantity != nil && !p.Quantity.IsPositive() {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrInvalidTransaction)
	}
	if p.UnitPrice != nil && !p.UnitPrice.IsPositive() {
		return nil, fmt.Errorf("%w: unit price must be positive", ErrInvalidTransaction)
	}

	if t.Kind == model.Buy {
		err = b.editBuy(t, p)
	} else {
		err = b.editSell(t, p)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (b *Book) editBuy(t *model.Transaction, p model.Patch) error {
	changed := false
	grew := false

	if p.Quantity != nil && !p.Quantity.Equal(t.Quantity) {
		sold := t.Quantity.Sub(t.RemainingQuantity)
		if p.Quantity.LessThan(sold) {
			return fmt.Errorf("lot %s: %s already sold, cannot shrink to %s: %w",
				t.ID, sold.String(), p.Quantity.String(), ErrNegativeRemaining)
		}
		grew = p.Quantity.GreaterThan(t.Quantity)
		t.Quantity = *p.Quantity
		t.RemainingQuantity = t.Quantity.Sub(sold)
		changed = true
	}

	if p.UnitPrice != nil && !p.UnitPrice.Equal(t.UnitPrice) {
		t.UnitPrice = *p.UnitPrice
		for _, sell := range b.dependents(t.ID) {
			b.recomputeProfit(sell)
			b.touch(sell)
		}
		changed = true
	}

	if p.Timestamp != nil && !p.Timestamp.Equal(t.Timestamp) {
		t.Timestamp = *p.Timestamp
		changed = true
	}

	if changed {
		b.touch(t)
	}
	if grew {
		return b.coverShorts()
	}
	return nil
}

func (b *Book) editSell(t *model.Transaction, p model.Patch) error {
	qty, price, ts := t.Quantity, t.UnitPrice, t.Timestamp
	if p.Quantity != nil {
		qty = *p.Quantity
	}
	if p.UnitPrice != nil {
		price = *p.UnitPrice
	}
	if p.Timestamp != nil {
		ts = *p.Timestamp
	}

	if qty.Equal(t.Quantity) {
		if price.Equal(t.UnitPrice) && ts.Equal(t.Timestamp) {
			return nil
		}
		t.UnitPrice = price
		t.Timestamp = ts
		b.recomputeProfit(t)
		b.touch(t)
		return nil
	}

	// Check the new quantity against the pool as it will be once this
	// sell's own draws are returned.
	if b.matcher.Mode() == lot.Strict {
		available := lot.Available(b.candidates()).Add(t.Quantity.Sub(t.Unallocated))
		if qty.GreaterThan(available) {
			return &lot.InsufficientInventoryError{Requested: qty, Shortfall: qty.Sub(available)}
		}
	}

	if err := b.reverse(t); err != nil {
		return err
	}
	t.Quantity = qty
	t.UnitPrice = price
	t.Timestamp = ts
	if err := b.match(t); err != nil {
		return err
	}
	return b.coverShorts()
}

// Delete removes a transaction. A buy that sells still draw from cannot be
// deleted; a sell returns its draws to their lots first.
func (b *Book) Delete(id string) (*model.Transaction, error) {
	t, err := b.Get(id)
	if err != nil {
		return nil, err
	}

	switch t.Kind {
	case model.Buy:
		if deps := b.dependents(id); len(deps) > 0 {
			return nil, fmt.Errorf("lot %s drawn by %d sell(s), first %s: %w",
				id, len(deps), deps[0].ID, ErrLotInUse)
		}
		b.remove(t)
	case model.Sell:
		if err := b.reverse(t); err != nil {
			return nil, err
		}
		b.remove(t)
		if err := b.coverShorts(); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (b *Book) remove(t *model.Transaction) {
	delete(b.txs, t.ID)
	b.dirty[t.ID] = true
}

func validateIntent(in model.Intent) error {
	switch {
	case in.ProfileID == "":
		return fmt.Errorf("%w: profile is required", ErrInvalidTransaction)
	case !in.Kind.Valid():
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidTransaction, in.Kind)
	case !in.Metal.Valid():
		return fmt.Errorf("%w: unknown metal %q", ErrInvalidTransaction, in.Metal)
	case !in.Quantity.IsPositive():
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidTransaction)
	case !in.UnitPrice.IsPositive():
		return fmt.Errorf("%w: unit price must be positive", ErrInvalidTransaction)
	}
	return nil
}

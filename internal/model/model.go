// Package model defines the core domain types shared across the lot engine.
// All quantities and monetary values use shopspring/decimal — never float64.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Kind is the direction of a transaction.
type Kind string

const (
	Buy  Kind = "buy"
	Sell Kind = "sell"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool { return k == Buy || k == Sell }

// ParseKind parses a case-insensitive kind name.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown kind %q", s)
	}
	return k, nil
}

// Metal partitions the ledger. Buys and sells only match within one metal.
type Metal string

const (
	Gold   Metal = "gold"
	Silver Metal = "silver"
)

// Metals lists every supported metal in a fixed order.
var Metals = []Metal{Gold, Silver}

// Valid reports whether m is a known metal.
func (m Metal) Valid() bool { return m == Gold || m == Silver }

// ParseMetal parses a case-insensitive metal name.
func ParseMetal(s string) (Metal, error) {
	m := Metal(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("unknown metal %q", s)
	}
	return m, nil
}

// Draw is the amount a sell took from one buy lot.
type Draw struct {
	LotID    string          `json:"lot_id"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Transaction is a buy or a sell of one metal for one profile.
//
// Buy-only fields: RemainingQuantity.
// Sell-only fields: ConsumedLots, RealizedProfit, Unallocated.
type Transaction struct {
	ID        string          `json:"id" db:"id"`
	ProfileID string          `json:"profile_id" db:"profile_id"`
	Kind      Kind            `json:"kind" db:"kind"`
	Metal     Metal           `json:"metal" db:"metal"`
	Quantity  decimal.Decimal `json:"quantity" db:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price" db:"unit_price"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`

	RemainingQuantity decimal.Decimal `json:"remaining_quantity" db:"remaining_quantity"`

	ConsumedLots   []Draw          `json:"consumed_lots,omitempty" db:"consumed_lots"`
	RealizedProfit decimal.Decimal `json:"realized_profit" db:"realized_profit"`
	Unallocated    decimal.Decimal `json:"unallocated" db:"unallocated"` // open short, permissive mode only

	Version   int64     `json:"version" db:"version"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Total is quantity × unit price.
func (t *Transaction) Total() decimal.Decimal {
	return t.Quantity.Mul(t.UnitPrice)
}

// Scope returns the (profile, metal) partition the transaction lives in.
func (t *Transaction) Scope() Scope {
	return Scope{ProfileID: t.ProfileID, Metal: t.Metal}
}

// DrawnFrom returns how much this sell took from the given lot.
func (t *Transaction) DrawnFrom(lotID string) decimal.Decimal {
	total := decimal.Zero
	for _, d := range t.ConsumedLots {
		if d.LotID == lotID {
			total = total.Add(d.Quantity)
		}
	}
	return total
}

// Clone returns a deep copy.
func (t *Transaction) Clone() *Transaction {
	c := *t
	if t.ConsumedLots != nil {
		c.ConsumedLots = make([]Draw, len(t.ConsumedLots))
		copy(c.ConsumedLots, t.ConsumedLots)
	}
	return &c
}

// Scope is a (profile, metal) partition. Mutations are serialized per scope.
type Scope struct {
	ProfileID string
	Metal     Metal
}

// Key is a stable string form used for locks and cache keys.
func (s Scope) Key() string { return s.ProfileID + "|" + string(s.Metal) }

// Filter selects transactions for listing. Metal and the date bounds are
// optional; From and To are inclusive.
type Filter struct {
	ProfileID string
	Metal     Metal
	From      time.Time
	To        time.Time
}

// Match reports whether t passes the filter.
func (f Filter) Match(t *Transaction) bool {
	if f.ProfileID != "" && t.ProfileID != f.ProfileID {
		return false
	}
	if f.Metal != "" && t.Metal != f.Metal {
		return false
	}
	if !f.From.IsZero() && t.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && t.Timestamp.After(f.To) {
		return false
	}
	return true
}

// Intent is a request to add a transaction.
type Intent struct {
	ProfileID string          `json:"profile_id"`
	Kind      Kind            `json:"kind"`
	Metal     Metal           `json:"metal"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Timestamp time.Time       `json:"timestamp"`
}

// Patch is a partial edit. Nil fields are left unchanged. Kind and Metal
// may be echoed back but never changed.
type Patch struct {
	Kind      *Kind            `json:"kind,omitempty"`
	Metal     *Metal           `json:"metal,omitempty"`
	Quantity  *decimal.Decimal `json:"quantity,omitempty"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
	Timestamp *time.Time       `json:"timestamp,omitempty"`
}

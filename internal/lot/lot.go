// Package lot implements lot matching: choosing which buy lots cover a sell
// and what that sell cost.
//
// The matcher is stateless: lots are passed in, an allocation comes out,
// nothing is mutated. Applying an allocation is the ledger's job.
//
// All quantities use shopspring/decimal — never float64.
package lot

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bullionbook/lot-engine/internal/model"
)

var (
	// ErrInsufficientInventory is returned in strict mode when the candidate
	// lots cannot cover the requested quantity. The concrete error is an
	// *InsufficientInventoryError carrying the shortfall.
	ErrInsufficientInventory = errors.New("lot: insufficient inventory")

	// ErrInvalidQuantity is returned when the requested quantity is not positive.
	ErrInvalidQuantity = errors.New("lot: quantity must be positive")
)

// InsufficientInventoryError reports how much of a sell could not be covered.
type InsufficientInventoryError struct {
	Requested decimal.Decimal
	Shortfall decimal.Decimal
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("lot: insufficient inventory: requested %s, short by %s",
		e.Requested.String(), e.Shortfall.String())
}

// Is makes errors.Is(err, ErrInsufficientInventory) hold.
func (e *InsufficientInventoryError) Is(target error) bool {
	return target == ErrInsufficientInventory
}

// Policy orders candidate lots.
type Policy int

const (
	// PriceAscending consumes the cheapest lot first; ties go to the earliest.
	PriceAscending Policy = iota
	// DateAscending consumes the earliest lot first (FIFO); ties go to the cheapest.
	DateAscending
)

func (p Policy) String() string {
	switch p {
	case PriceAscending:
		return "price"
	case DateAscending:
		return "date"
	default:
		return "unknown"
	}
}

// ParsePolicy parses "price" or "date" (aliases: "cheapest", "fifo").
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(s) {
	case "price", "cheapest":
		return PriceAscending, nil
	case "date", "fifo":
		return DateAscending, nil
	default:
		return 0, fmt.Errorf("unknown matching policy: %q", s)
	}
}

// Mode decides what happens when lots run out before the sell is covered.
type Mode int

const (
	// Strict rejects an under-covered sell with ErrInsufficientInventory.
	Strict Mode = iota
	// Permissive accepts it and reports the rest as Unallocated, an open
	// short to be covered by later buys.
	Permissive
)

func (m Mode) String() string {
	switch m {
	case Strict:
		return "strict"
	case Permissive:
		return "permissive"
	default:
		return "unknown"
	}
}

// ParseMode parses "strict" or "permissive".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "strict":
		return Strict, nil
	case "permissive":
		return Permissive, nil
	default:
		return 0, fmt.Errorf("unknown shortfall mode: %q", s)
	}
}

// Candidate is a buy lot with stock left.
type Candidate struct {
	ID        string
	Remaining decimal.Decimal
	UnitPrice decimal.Decimal
	Timestamp time.Time
}

// CandidateFrom builds a Candidate from a buy transaction.
func CandidateFrom(t *model.Transaction) Candidate {
	return Candidate{
		ID:        t.ID,
		Remaining: t.RemainingQuantity,
		UnitPrice: t.UnitPrice,
		Timestamp: t.Timestamp,
	}
}

// Allocation is the matcher's answer for one sell.
type Allocation struct {
	// Draws are in the order the lots were consumed.
	Draws []model.Draw
	// CostBasis is Σ drawn × lot unit price.
	CostBasis decimal.Decimal
	// Covered is Σ drawn.
	Covered decimal.Decimal
	// Unallocated is the quantity no lot could cover. Zero in strict mode.
	Unallocated decimal.Decimal
}

// Matcher allocates sells to lots under a fixed policy and mode.
type Matcher struct {
	policy Policy
	mode   Mode
}

// NewMatcher creates a matcher.
func NewMatcher(policy Policy, mode Mode) *Matcher {
	return &Matcher{policy: policy, mode: mode}
}

// Policy returns the ordering policy.
func (m *Matcher) Policy() Policy { return m.policy }

// Mode returns the shortfall mode.
func (m *Matcher) Mode() Mode { return m.mode }

// Match greedily walks the ordered candidates, drawing
// min(remaining, still needed) from each until the quantity is covered or
// the lots run out. Candidates with no stock left are skipped. The input
// slice is not modified.
func (m *Matcher) Match(quantity decimal.Decimal, candidates []Candidate) (Allocation, error) {
	if !quantity.IsPositive() {
		return Allocation{}, ErrInvalidQuantity
	}

	ordered := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Remaining.IsPositive() {
			ordered = append(ordered, c)
		}
	}
	m.sort(ordered)

	alloc := Allocation{
		CostBasis: decimal.Zero,
		Covered:   decimal.Zero,
	}
	needed := quantity
	for _, c := range ordered {
		if !needed.IsPositive() {
			break
		}
		drawn := decimal.Min(c.Remaining, needed)
		alloc.Draws = append(alloc.Draws, model.Draw{LotID: c.ID, Quantity: drawn})
		alloc.CostBasis = alloc.CostBasis.Add(drawn.Mul(c.UnitPrice))
		alloc.Covered = alloc.Covered.Add(drawn)
		needed = needed.Sub(drawn)
	}
	alloc.Unallocated = needed

	if needed.IsPositive() && m.mode == Strict {
		return Allocation{}, &InsufficientInventoryError{Requested: quantity, Shortfall: needed}
	}
	return alloc, nil
}

// Available sums the remaining stock across candidates.
func Available(candidates []Candidate) decimal.Decimal {
	total := decimal.Zero
	for _, c := range candidates {
		if c.Remaining.IsPositive() {
			total = total.Add(c.Remaining)
		}
	}
	return total
}

func (m *Matcher) sort(cs []Candidate) {
	byPrice := func(a, b Candidate) int { return a.UnitPrice.Cmp(b.UnitPrice) }
	byDate := func(a, b Candidate) int { return a.Timestamp.Compare(b.Timestamp) }

	first, second := byPrice, byDate
	if m.policy == DateAscending {
		first, second = byDate, byPrice
	}
	sort.SliceStable(cs, func(i, j int) bool {
		if c := first(cs[i], cs[j]); c != 0 {
			return c < 0
		}
		if c := second(cs[i], cs[j]); c != 0 {
			return c < 0
		}
		// Deterministic order for identical price and date.
		return cs[i].ID < cs[j].ID
	})
}

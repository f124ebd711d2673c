package lot

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func day(n int) time.Time {
	return time.Date(2024, 1, n, 0, 0, 0, 0, time.UTC)
}

// --- Ordering ---

func TestMatch_CheapestFirst(t *testing.T) {
	m := NewMatcher(PriceAscending, Strict)
	lots := []Candidate{
		{ID: "a", Remaining: d(5), UnitPrice: d(10), Timestamp: day(1)},
		{ID: "b", Remaining: d(5), UnitPrice: d(12), Timestamp: day(2)},
		{ID: "c", Remaining: d(5), UnitPrice: d(8), Timestamp: day(3)},
	}

	alloc, err := m.Match(d(7), lots)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(alloc.Draws) != 2 {
		t.Fatalf("expected 2 draws, got %d", len(alloc.Draws))
	}
	if alloc.Draws[0].LotID != "c" || !alloc.Draws[0].Quantity.Equal(d(5)) {
		t.Errorf("first draw should be 5 from c, got %s from %s", alloc.Draws[0].Quantity, alloc.Draws[0].LotID)
	}
	if alloc.Draws[1].LotID != "a" || !alloc.Draws[1].Quantity.Equal(d(2)) {
		t.Errorf("second draw should be 2 from a, got %s from %s", alloc.Draws[1].Quantity, alloc.Draws[1].LotID)
	}
	// 5×8 + 2×10 = 60
	if !alloc.CostBasis.Equal(d(60)) {
		t.Errorf("expected cost basis 60, got %s", alloc.CostBasis)
	}
	if !alloc.Unallocated.IsZero() {
		t.Errorf("expected nothing unallocated, got %s", alloc.Unallocated)
	}
}

func TestMatch_PriceTieBreaksOnDate(t *testing.T) {
	m := NewMatcher(PriceAscending, Strict)
	lots := []Candidate{
		{ID: "late", Remaining: d(5), UnitPrice: d(10), Timestamp: day(9)},
		{ID: "early", Remaining: d(5), UnitPrice: d(10), Timestamp: day(1)},
	}

	alloc, err := m.Match(d(3), lots)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if alloc.Draws[0].LotID != "early" {
		t.Errorf("equal price should consume the earliest lot, got %s", alloc.Draws[0].LotID)
	}
}

func TestMatch_DateAscending(t *testing.T) {
	m := NewMatcher(DateAscending, Strict)
	lots := []Candidate{
		{ID: "cheap-late", Remaining: d(5), UnitPrice: d(1), Timestamp: day(5)},
		{ID: "dear-early", Remaining: d(5), UnitPrice: d(99), Timestamp: day(1)},
	}

	alloc, err := m.Match(d(6), lots)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if alloc.Draws[0].LotID != "dear-early" || alloc.Draws[1].LotID != "cheap-late" {
		t.Errorf("FIFO should consume the earliest lot first, got %+v", alloc.Draws)
	}
	// 5×99 + 1×1
	if !alloc.CostBasis.Equal(d(496)) {
		t.Errorf("expected cost basis 496, got %s", alloc.CostBasis)
	}
}

func TestMatch_SkipsEmptyLots(t *testing.T) {
	m := NewMatcher(PriceAscending, Strict)
	lots := []Candidate{
		{ID: "empty", Remaining: decimal.Zero, UnitPrice: d(1), Timestamp: day(1)},
		{ID: "full", Remaining: d(4), UnitPrice: d(2), Timestamp: day(2)},
	}

	alloc, err := m.Match(d(4), lots)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(alloc.Draws) != 1 || alloc.Draws[0].LotID != "full" {
		t.Errorf("empty lot should not appear in draws, got %+v", alloc.Draws)
	}
}

func TestMatch_DoesNotMutateInput(t *testing.T) {
	m := NewMatcher(PriceAscending, Strict)
	lots := []Candidate{
		{ID: "b", Remaining: d(5), UnitPrice: d(12), Timestamp: day(1)},
		{ID: "a", Remaining: d(5), UnitPrice: d(8), Timestamp: day(2)},
	}

	if _, err := m.Match(d(7), lots); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lots[0].ID != "b" || !lots[0].Remaining.Equal(d(5)) || !lots[1].Remaining.Equal(d(5)) {
		t.Errorf("input candidates were modified: %+v", lots)
	}
}

// --- Shortfall ---

func TestMatch_StrictShortfall(t *testing.T) {
	m := NewMatcher(PriceAscending, Strict)
	lots := []Candidate{
		{ID: "b1", Remaining: d(70), UnitPrice: d(50), Timestamp: day(1)},
		{ID: "b2", Remaining: d(50), UnitPrice: d(40), Timestamp: day(2)},
	}

	_, err := m.Match(d(200), lots)
	if !errors.Is(err, ErrInsufficientInventory) {
		t.Fatalf("expected ErrInsufficientInventory, got %v", err)
	}
	var ie *InsufficientInventoryError
	if !errors.As(err, &ie) {
		t.Fatalf("expected *InsufficientInventoryError, got %T", err)
	}
	if !ie.Shortfall.Equal(d(80)) {
		t.Errorf("expected shortfall 80, got %s", ie.Shortfall)
	}
}

func TestMatch_PermissiveShortfall(t *testing.T) {
	m := NewMatcher(PriceAscending, Permissive)
	lots := []Candidate{
		{ID: "b1", Remaining: d(30), UnitPrice: d(10), Timestamp: day(1)},
	}

	alloc, err := m.Match(d(50), lots)
	if err != nil {
		t.Fatalf("permissive mode should not fail, got %v", err)
	}
	if !alloc.Covered.Equal(d(30)) {
		t.Errorf("expected 30 covered, got %s", alloc.Covered)
	}
	if !alloc.Unallocated.Equal(d(20)) {
		t.Errorf("expected 20 unallocated, got %s", alloc.Unallocated)
	}
}

func TestMatch_PermissiveNoLots(t *testing.T) {
	m := NewMatcher(PriceAscending, Permissive)

	alloc, err := m.Match(d(5), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(alloc.Draws) != 0 {
		t.Errorf("expected no draws, got %d", len(alloc.Draws))
	}
	if !alloc.CostBasis.IsZero() || !alloc.Unallocated.Equal(d(5)) {
		t.Errorf("expected zero cost and 5 unallocated, got cost=%s unallocated=%s", alloc.CostBasis, alloc.Unallocated)
	}
}

func TestMatch_NonPositiveQuantity(t *testing.T) {
	m := NewMatcher(PriceAscending, Strict)

	for _, q := range []decimal.Decimal{decimal.Zero, d(-1)} {
		if _, err := m.Match(q, nil); err != ErrInvalidQuantity {
			t.Errorf("quantity %s: expected ErrInvalidQuantity, got %v", q, err)
		}
	}
}

func TestMatch_ExactCover(t *testing.T) {
	m := NewMatcher(PriceAscending, Strict)
	lots := []Candidate{
		{ID: "b1", Remaining: d(100), UnitPrice: d(50), Timestamp: day(1)},
		{ID: "b2", Remaining: d(50), UnitPrice: d(40), Timestamp: day(2)},
	}

	alloc, err := m.Match(d(150), lots)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !alloc.Covered.Equal(d(150)) || !alloc.Unallocated.IsZero() {
		t.Errorf("expected full cover, got covered=%s unallocated=%s", alloc.Covered, alloc.Unallocated)
	}
}

// --- Parsing ---

func TestParsePolicy(t *testing.T) {
	cases := map[string]Policy{"price": PriceAscending, "cheapest": PriceAscending, "FIFO": DateAscending, "date": DateAscending}
	for in, want := range cases {
		got, err := ParsePolicy(in)
		if err != nil || got != want {
			t.Errorf("ParsePolicy(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParsePolicy("lifo"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestParseMode(t *testing.T) {
	if m, err := ParseMode("Permissive"); err != nil || m != Permissive {
		t.Errorf("ParseMode(Permissive) = %v, %v", m, err)
	}
	if _, err := ParseMode("lenient"); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestAvailable(t *testing.T) {
	lots := []Candidate{
		{ID: "a", Remaining: d(1.5)},
		{ID: "b", Remaining: decimal.Zero},
		{ID: "c", Remaining: d(2)},
	}
	if got := Available(lots); !got.Equal(d(3.5)) {
		t.Errorf("expected 3.5, got %s", got)
	}
}

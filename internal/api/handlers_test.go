package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/bullionbook/lot-engine/internal/api"
	"github.com/bullionbook/lot-engine/internal/ledger"
	"github.com/bullionbook/lot-engine/internal/lot"
	"github.com/bullionbook/lot-engine/internal/model"
	"github.com/bullionbook/lot-engine/internal/report"
	"github.com/bullionbook/lot-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestEnv creates a router over an engine backed by an in-memory store.
func newTestEnv(t *testing.T, mode lot.Mode) chi.Router {
	t.Helper()
	engine := ledger.NewEngine(store.NewMemoryStore(), ledger.Config{
		Policy:     lot.PriceAscending,
		Mode:       mode,
		MaxRetries: 3,
		Now:        func() time.Time { return time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC) },
	}, nil)

	r := chi.NewRouter()
	r.Route("/api/v1", api.NewHandler(engine).Routes)
	return r
}

func do(t *testing.T, router chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func addTx(t *testing.T, router chi.Router, profile string, req api.AddRequest) model.Transaction {
	t.Helper()
	w := do(t, router, "POST", "/api/v1/profiles/"+profile+"/transactions", req)
	if w.Code != http.StatusCreated {
		t.Fatalf("add %s: expected 201, got %d: %s", req.Kind, w.Code, w.Body.String())
	}
	var tx model.Transaction
	if err := json.NewDecoder(w.Body).Decode(&tx); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return tx
}

func getTx(t *testing.T, router chi.Router, profile, id string) model.Transaction {
	t.Helper()
	w := do(t, router, "GET", "/api/v1/profiles/"+profile+"/transactions/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get %s: expected 200, got %d: %s", id, w.Code, w.Body.String())
	}
	var tx model.Transaction
	json.NewDecoder(w.Body).Decode(&tx)
	return tx
}

// seedLots adds B1 100@50 on Jan 1 and B2 50@40 on Jan 2.
func seedLots(t *testing.T, router chi.Router) (model.Transaction, model.Transaction) {
	t.Helper()
	b1 := addTx(t, router, "alice", api.AddRequest{Kind: "buy", Metal: "gold", Quantity: d(100), UnitPrice: d(50), Timestamp: "2024-01-01"})
	b2 := addTx(t, router, "alice", api.AddRequest{Kind: "buy", Metal: "gold", Quantity: d(50), UnitPrice: d(40), Timestamp: "2024-01-02"})
	return b1, b2
}

// --- Mutation tests ---

func TestAddSell_MatchesCheapestFirst(t *testing.T) {
	router := newTestEnv(t, lot.Strict)
	b1, b2 := seedLots(t, router)

	sell := addTx(t, router, "alice", api.AddRequest{Kind: "sell", Metal: "gold", Quantity: d(120), UnitPrice: d(60), Timestamp: "2024-01-03"})

	if !sell.RealizedProfit.Equal(d(1700)) {
		t.Errorf("expected profit 1700, got %s", sell.RealizedProfit)
	}
	if len(sell.ConsumedLots) != 2 || sell.ConsumedLots[0].LotID != b2.ID {
		t.Fatalf("expected B2 drawn first, got %+v", sell.ConsumedLots)
	}
	if got := getTx(t, router, "alice", b1.ID); !got.RemainingQuantity.Equal(d(30)) {
		t.Errorf("expected B1 remaining 30, got %s", got.RemainingQuantity)
	}
	if got := getTx(t, router, "alice", b2.ID); !got.RemainingQuantity.IsZero() {
		t.Errorf("expected B2 remaining 0, got %s", got.RemainingQuantity)
	}
}

func TestAddSell_InsufficientInventory(t *testing.T) {
	router := newTestEnv(t, lot.Strict)
	b1, _ := seedLots(t, router)

	w := do(t, router, "POST", "/api/v1/profiles/alice/transactions", api.AddRequest{
		Kind: "sell", Metal: "gold", Quantity: d(200), UnitPrice: d(60),
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
	var resp api.ErrorResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Reason != "insufficient_inventory" {
		t.Errorf("expected reason insufficient_inventory, got %q", resp.Reason)
	}
	if resp.Shortfall == nil || !resp.Shortfall.Equal(d(50)) {
		t.Errorf("expected shortfall 50, got %v", resp.Shortfall)
	}
	if got := getTx(t, router, "alice", b1.ID); !got.RemainingQuantity.Equal(d(100)) {
		t.Errorf("rejected sell mutated B1: remaining %s", got.RemainingQuantity)
	}
}

func TestAddSell_PermissiveRecordsShort(t *testing.T) {
	router := newTestEnv(t, lot.Permissive)

	sell := addTx(t, router, "alice", api.AddRequest{Kind: "sell", Metal: "silver", Quantity: d(10), UnitPrice: d(25)})
	if !sell.Unallocated.Equal(d(10)) {
		t.Errorf("expected unallocated 10, got %s", sell.Unallocated)
	}
	addTx(t, router, "alice", api.AddRequest{Kind: "buy", Metal: "silver", Quantity: d(4), UnitPrice: d(20)})

	got := getTx(t, router, "alice", sell.ID)
	if !got.Unallocated.Equal(d(6)) {
		t.Errorf("expected unallocated 6 after cover, got %s", got.Unallocated)
	}
	if !got.RealizedProfit.Equal(d(20)) {
		t.Errorf("expected profit 20 on covered part, got %s", got.RealizedProfit)
	}
}

func TestAdd_Validation(t *testing.T) {
	router := newTestEnv(t, lot.Strict)

	tests := []struct {
		name string
		req  api.AddRequest
	}{
		{"bad kind", api.AddRequest{Kind: "hold", Metal: "gold", Quantity: d(1), UnitPrice: d(1)}},
		{"bad metal", api.AddRequest{Kind: "buy", Metal: "copper", Quantity: d(1), UnitPrice: d(1)}},
		{"zero quantity", api.AddRequest{Kind: "buy", Metal: "gold", Quantity: d(0), UnitPrice: d(1)}},
		{"negative price", api.AddRequest{Kind: "buy", Metal: "gold", Quantity: d(1), UnitPrice: d(-1)}},
		{"bad timestamp", api.AddRequest{Kind: "buy", Metal: "gold", Quantity: d(1), UnitPrice: d(1), Timestamp: "yesterday"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, "POST", "/api/v1/profiles/alice/transactions", tt.req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestAdd_InvalidBody(t *testing.T) {
	router := newTestEnv(t, lot.Strict)

	req := httptest.NewRequest("POST", "/api/v1/profiles/alice/transactions", bytes.NewBufferString("not json"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestEditSell_RoundTripRestoresLots(t *testing.T) {
	router := newTestEnv(t, lot.Strict)
	b1, b2 := seedLots(t, router)
	sell := addTx(t, router, "alice", api.AddRequest{Kind: "sell", Metal: "gold", Quantity: d(120), UnitPrice: d(60)})

	for _, q := range []float64{30, 120} {
		qty := d(q)
		w := do(t, router, "PATCH", "/api/v1/profiles/alice/transactions/"+sell.ID, api.EditRequest{Quantity: &qty})
		if w.Code != http.StatusOK {
			t.Fatalf("edit to %v: expected 200, got %d: %s", q, w.Code, w.Body.String())
		}
	}

	if got := getTx(t, router, "alice", b1.ID); !got.RemainingQuantity.Equal(d(30)) {
		t.Errorf("expected B1 remaining 30, got %s", got.RemainingQuantity)
	}
	if got := getTx(t, router, "alice", b2.ID); !got.RemainingQuantity.IsZero() {
		t.Errorf("expected B2 remaining 0, got %s", got.RemainingQuantity)
	}
	if got := getTx(t, router, "alice", sell.ID); !got.RealizedProfit.Equal(d(1700)) {
		t.Errorf("expected profit 1700, got %s", got.RealizedProfit)
	}
}

func TestEditBuy_BelowSold(t *testing.T) {
	router := newTestEnv(t, lot.Strict)
	b1, _ := seedLots(t, router)
	addTx(t, router, "alice", api.AddRequest{Kind: "sell", Metal: "gold", Quantity: d(120), UnitPrice: d(60)})

	qty := d(60) // 70 already sold from B1
	w := do(t, router, "PATCH", "/api/v1/profiles/alice/transactions/"+b1.ID, api.EditRequest{Quantity: &qty})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
	var resp api.ErrorResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Reason != "negative_remaining" {
		t.Errorf("expected reason negative_remaining, got %q", resp.Reason)
	}
}

func TestEdit_ImmutableMetal(t *testing.T) {
	router := newTestEnv(t, lot.Strict)
	b1, _ := seedLots(t, router)

	silver := "silver"
	w := do(t, router, "PATCH", "/api/v1/profiles/alice/transactions/"+b1.ID, api.EditRequest{Metal: &silver})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}

	gold := "gold"
	w = do(t, router, "PATCH", "/api/v1/profiles/alice/transactions/"+b1.ID, api.EditRequest{Metal: &gold})
	if w.Code != http.StatusOK {
		t.Errorf("echoing the same metal should succeed, got %d: %s", w.Code, w.Body.String())
	}
}

func TestDeleteBuy_LotInUse(t *testing.T) {
	router := newTestEnv(t, lot.Strict)
	b1, _ := seedLots(t, router)
	sell := addTx(t, router, "alice", api.AddRequest{Kind: "sell", Metal: "gold", Quantity: d(120), UnitPrice: d(60)})

	w := do(t, router, "DELETE", "/api/v1/profiles/alice/transactions/"+b1.ID, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}

	// Deleting the sell frees the lot.
	if w := do(t, router, "DELETE", "/api/v1/profiles/alice/transactions/"+sell.ID, nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete sell: expected 204, got %d: %s", w.Code, w.Body.String())
	}
	if got := getTx(t, router, "alice", b1.ID); !got.RemainingQuantity.Equal(d(100)) {
		t.Errorf("expected B1 restored to 100, got %s", got.RemainingQuantity)
	}
	if w := do(t, router, "DELETE", "/api/v1/profiles/alice/transactions/"+b1.ID, nil); w.Code != http.StatusNoContent {
		t.Errorf("delete B1: expected 204, got %d: %s", w.Code, w.Body.String())
	}
}

func TestNotFound(t *testing.T) {
	router := newTestEnv(t, lot.Strict)
	b1, _ := seedLots(t, router)

	tests := []struct {
		method, path string
	}{
		{"GET", "/api/v1/profiles/alice/transactions/missing"},
		{"DELETE", "/api/v1/profiles/alice/transactions/missing"},
		{"PATCH", "/api/v1/profiles/alice/transactions/missing"},
		// Another profile's transaction is invisible.
		{"GET", "/api/v1/profiles/bob/transactions/" + b1.ID},
		{"DELETE", "/api/v1/profiles/bob/transactions/" + b1.ID},
	}
	for _, tt := range tests {
		w := do(t, router, tt.method, tt.path, map[string]any{})
		if w.Code != http.StatusNotFound {
			t.Errorf("%s %s: expected 404, got %d: %s", tt.method, tt.path, w.Code, w.Body.String())
		}
	}
}

// --- Query tests ---

func TestListTransactions(t *testing.T) {
	router := newTestEnv(t, lot.Strict)
	seedLots(t, router)
	addTx(t, router, "alice", api.AddRequest{Kind: "buy", Metal: "silver", Quantity: d(500), UnitPrice: d(1), Timestamp: "2024-02-10"})
	addTx(t, router, "bob", api.AddRequest{Kind: "buy", Metal: "gold", Quantity: d(1), UnitPrice: d(1), Timestamp: "2024-01-01"})

	list := func(query string) []model.Transaction {
		w := do(t, router, "GET", "/api/v1/profiles/alice/transactions"+query, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("list %s: expected 200, got %d: %s", query, w.Code, w.Body.String())
		}
		var txs []model.Transaction
		json.NewDecoder(w.Body).Decode(&txs)
		return txs
	}

	all := list("")
	if len(all) != 3 {
		t.Fatalf("expected 3 transactions, got %d", len(all))
	}
	if all[0].Metal != model.Silver {
		t.Errorf("expected newest first, got %s first", all[0].Metal)
	}
	if got := list("?metal=gold"); len(got) != 2 {
		t.Errorf("metal filter: expected 2, got %d", len(got))
	}
	// The to date covers the whole day.
	if got := list("?from=2024-01-02&to=2024-01-02"); len(got) != 1 {
		t.Errorf("date filter: expected 1, got %d", len(got))
	}

	if w := do(t, router, "GET", "/api/v1/profiles/alice/transactions?from=jan", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad date: expected 400, got %d", w.Code)
	}
	if w := do(t, router, "GET", "/api/v1/profiles/alice/transactions?metal=zinc", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad metal: expected 400, got %d", w.Code)
	}
}

func TestListTransactions_EmptyIsArray(t *testing.T) {
	router := newTestEnv(t, lot.Strict)

	w := do(t, router, "GET", "/api/v1/profiles/nobody/transactions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body := bytes.TrimSpace(w.Body.Bytes()); string(body) != "[]" {
		t.Errorf("expected [], got %s", body)
	}
}

func TestSummary(t *testing.T) {
	router := newTestEnv(t, lot.Strict)
	seedLots(t, router)
	addTx(t, router, "alice", api.AddRequest{Kind: "sell", Metal: "gold", Quantity: d(120), UnitPrice: d(60), Timestamp: "2024-01-03"})

	w := do(t, router, "GET", "/api/v1/profiles/alice/summary", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var s report.Summary
	json.NewDecoder(w.Body).Decode(&s)
	if !s.TotalProfit.Equal(d(1700)) {
		t.Errorf("expected total profit 1700, got %s", s.TotalProfit)
	}
	if !s.TotalBuyValue.Equal(d(7000)) {
		t.Errorf("expected total buy value 7000, got %s", s.TotalBuyValue)
	}
}

func TestWindowReport(t *testing.T) {
	router := newTestEnv(t, lot.Strict)
	seedLots(t, router)

	w := do(t, router, "GET", "/api/v1/profiles/alice/reports/window?metal=gold&from=2024-01-02&to=2024-01-31", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var rep report.WindowReport
	json.NewDecoder(w.Body).Decode(&rep)
	if len(rep.Transactions) != 1 {
		t.Errorf("expected 1 transaction in window, got %d", len(rep.Transactions))
	}

	if w := do(t, router, "GET", "/api/v1/profiles/alice/reports/window", nil); w.Code != http.StatusBadRequest {
		t.Errorf("missing metal: expected 400, got %d", w.Code)
	}
	if w := do(t, router, "GET", "/api/v1/profiles/alice/reports/window?metal=gold&from=2024-02-01&to=2024-01-01", nil); w.Code != http.StatusBadRequest {
		t.Errorf("inverted window: expected 400, got %d", w.Code)
	}
}

func TestMonthlyReport(t *testing.T) {
	router := newTestEnv(t, lot.Strict)
	seedLots(t, router)
	addTx(t, router, "alice", api.AddRequest{Kind: "buy", Metal: "gold", Quantity: d(1), UnitPrice: d(70), Timestamp: "2024-02-05"})

	w := do(t, router, "GET", "/api/v1/profiles/alice/reports/monthly", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var months []report.MonthReport
	json.NewDecoder(w.Body).Decode(&months)
	if len(months) != 2 || months[0].Month != "2024-02" {
		t.Errorf("expected [2024-02 2024-01], got %+v", months)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{ledger.ErrInvalidTransaction, http.StatusBadRequest},
		{ledger.ErrNotFound, http.StatusNotFound},
		{&lot.InsufficientInventoryError{Requested: d(2), Shortfall: d(1)}, http.StatusConflict},
		{ledger.ErrLotInUse, http.StatusConflict},
		{ledger.ErrNegativeRemaining, http.StatusConflict},
		{ledger.ErrImmutableField, http.StatusConflict},
		{ledger.ErrConsistency, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := api.StatusFor(tt.err); got != tt.want {
			t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

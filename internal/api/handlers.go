// Package api provides the HTTP handlers for recording, editing and
// querying a profile's metal transactions.
//
// Quantities and prices travel as JSON numbers or strings and are decoded
// straight into shopspring/decimal.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/bullionbook/lot-engine/internal/ledger"
	"github.com/bullionbook/lot-engine/internal/lot"
	"github.com/bullionbook/lot-engine/internal/model"
)

// DateLayout is the layout of the from/to query parameters.
const DateLayout = "2006-01-02"

// Handler serves the ledger API on top of an Engine.
type Handler struct {
	engine *ledger.Engine
}

// NewHandler creates a new handler.
func NewHandler(engine *ledger.Engine) *Handler {
	return &Handler{engine: engine}
}

// Routes mounts the profile routes on r. Mount it under /api/v1.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/profiles/{profile}", func(r chi.Router) {
		r.Get("/transactions", h.ListTransactions)
		r.Post("/transactions", h.AddTransaction)
		r.Get("/transactions/{id}", h.GetTransaction)
		r.Patch("/transactions/{id}", h.EditTransaction)
		r.Delete("/transactions/{id}", h.DeleteTransaction)

		r.Get("/summary", h.Summary)
		r.Get("/reports/monthly", h.MonthlyReport)
		r.Get("/reports/window", h.WindowReport)
	})
}

// --- Request/Response types ---

// AddRequest is the JSON body for POST /transactions.
type AddRequest struct {
	Kind      string          `json:"kind"`  // "buy" or "sell"
	Metal     string          `json:"metal"` // "gold" or "silver"
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Timestamp string          `json:"timestamp,omitempty"` // RFC 3339 or YYYY-MM-DD; empty → now
}

// EditRequest is the JSON body for PATCH /transactions/{id}. Kind and
// metal are accepted so clients can send the whole record back, but they
// cannot change.
type EditRequest struct {
	Kind      *string          `json:"kind,omitempty"`
	Metal     *string          `json:"metal,omitempty"`
	Quantity  *decimal.Decimal `json:"quantity,omitempty"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
	Timestamp *string          `json:"timestamp,omitempty"`
}

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error     string           `json:"error"`
	Reason    string           `json:"reason"`
	Requested *decimal.Decimal `json:"requested,omitempty"`
	Shortfall *decimal.Decimal `json:"shortfall,omitempty"`
}

// --- HTTP Handlers ---

// AddTransaction handles POST /api/v1/profiles/{profile}/transactions
func (h *Handler) AddTransaction(w http.ResponseWriter, r *http.Request) {
	var req AddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	kind, err := model.ParseKind(req.Kind)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	metal, err := model.ParseMetal(req.Metal)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	var ts time.Time
	if req.Timestamp != "" {
		if ts, err = parseTime(req.Timestamp); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	t, err := h.engine.AddTransaction(r.Context(), model.Intent{
		ProfileID: chi.URLParam(r, "profile"),
		Kind:      kind,
		Metal:     metal,
		Quantity:  req.Quantity,
		UnitPrice: req.UnitPrice,
		Timestamp: ts,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// GetTransaction handles GET /api/v1/profiles/{profile}/transactions/{id}
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	t, ok := h.owned(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// EditTransaction handles PATCH /api/v1/profiles/{profile}/transactions/{id}
func (h *Handler) EditTransaction(w http.ResponseWriter, r *http.Request) {
	var req EditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	p, err := req.patch()
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, ok := h.owned(w, r); !ok {
		return
	}

	t, err := h.engine.EditTransaction(r.Context(), chi.URLParam(r, "id"), p)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// DeleteTransaction handles DELETE /api/v1/profiles/{profile}/transactions/{id}
func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.owned(w, r); !ok {
		return
	}
	if err := h.engine.DeleteTransaction(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListTransactions handles GET /api/v1/profiles/{profile}/transactions
// Optional filters: ?metal=gold&from=2024-01-01&to=2024-01-31
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	f := model.Filter{ProfileID: chi.URLParam(r, "profile")}
	q := r.URL.Query()

	if m := q.Get("metal"); m != "" {
		metal, err := model.ParseMetal(m)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.Metal = metal
	}
	from, to, err := parseRange(q.Get("from"), q.Get("to"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.From, f.To = from, to

	txs, err := h.engine.ListLedger(r.Context(), f)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

// Summary handles GET /api/v1/profiles/{profile}/summary
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	s, err := h.engine.Summary(r.Context(), chi.URLParam(r, "profile"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// MonthlyReport handles GET /api/v1/profiles/{profile}/reports/monthly
func (h *Handler) MonthlyReport(w http.ResponseWriter, r *http.Request) {
	months, err := h.engine.MonthlyReport(r.Context(), chi.URLParam(r, "profile"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, months)
}

// WindowReport handles GET /api/v1/profiles/{profile}/reports/window
// Requires ?metal=; from and to default to the current week.
func (h *Handler) WindowReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	metal, err := model.ParseMetal(q.Get("metal"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	from, to, err := parseRange(q.Get("from"), q.Get("to"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	rep, err := h.engine.WindowReport(r.Context(), chi.URLParam(r, "profile"), metal, from, to)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// owned loads the {id} transaction and checks it belongs to {profile}.
// Transactions of other profiles are reported as not found.
func (h *Handler) owned(w http.ResponseWriter, r *http.Request) (*model.Transaction, bool) {
	t, err := h.engine.GetTransaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return nil, false
	}
	if t.ProfileID != chi.URLParam(r, "profile") {
		writeError(w, "transaction not found", http.StatusNotFound)
		return nil, false
	}
	return t, true
}

func (req EditRequest) patch() (model.Patch, error) {
	var p model.Patch
	if req.Kind != nil {
		k, err := model.ParseKind(*req.Kind)
		if err != nil {
			return p, err
		}
		p.Kind = &k
	}
	if req.Metal != nil {
		m, err := model.ParseMetal(*req.Metal)
		if err != nil {
			return p, err
		}
		p.Metal = &m
	}
	if req.Timestamp != nil {
		ts, err := parseTime(*req.Timestamp)
		if err != nil {
			return p, err
		}
		p.Timestamp = &ts
	}
	p.Quantity = req.Quantity
	p.UnitPrice = req.UnitPrice
	return p, nil
}

// parseTime accepts RFC 3339 or a bare date, which means midnight UTC.
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: want RFC 3339 or YYYY-MM-DD", s)
	}
	return t, nil
}

// parseRange parses optional YYYY-MM-DD bounds. A to date covers the whole
// day.
func parseRange(from, to string) (time.Time, time.Time, error) {
	var f, t time.Time
	var err error
	if from != "" {
		if f, err = time.Parse(DateLayout, from); err != nil {
			return f, t, fmt.Errorf("invalid from date %q: want YYYY-MM-DD", from)
		}
	}
	if to != "" {
		if t, err = time.Parse(DateLayout, to); err != nil {
			return f, t, fmt.Errorf("invalid to date %q: want YYYY-MM-DD", to)
		}
		t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	if !f.IsZero() && !t.IsZero() && t.Before(f) {
		return f, t, fmt.Errorf("to date %s is before from date %s", to, from)
	}
	return f, t, nil
}

// StatusFor maps an engine error to an HTTP status.
func StatusFor(err error) int {
	switch ledger.Reason(err) {
	case "invalid":
		return http.StatusBadRequest
	case "not_found":
		return http.StatusNotFound
	case "insufficient_inventory", "lot_in_use", "negative_remaining", "immutable_field", "conflict":
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeEngineError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	resp := ErrorResponse{Error: err.Error(), Reason: ledger.Reason(err)}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "reason", resp.Reason, "err", err)
		resp.Error = "internal error"
	}
	var short *lot.InsufficientInventoryError
	if errors.As(err, &short) {
		resp.Requested = &short.Requested
		resp.Shortfall = &short.Shortfall
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

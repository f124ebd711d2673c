// Package report computes read-only views over a ledger: per-metal
// summaries, monthly activity and window (weekly) reports.
//
// Reports never look at lot internals beyond what every transaction
// already carries (remaining quantity, realized profit), so they can run
// on any consistent snapshot.
package report

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bullionbook/lot-engine/internal/model"
)

// RateScale is the number of decimal places kept for average rates.
const RateScale int32 = 8

// Stats aggregates buys and sells.
type Stats struct {
	BuyQuantity     decimal.Decimal `json:"buy_quantity"`
	BuyValue        decimal.Decimal `json:"buy_value"`
	SellQuantity    decimal.Decimal `json:"sell_quantity"`
	SellValue       decimal.Decimal `json:"sell_value"`
	AverageBuyRate  decimal.Decimal `json:"average_buy_rate"`
	AverageSellRate decimal.Decimal `json:"average_sell_rate"`
	Profit          decimal.Decimal `json:"profit"`
	Count           int             `json:"count"`
}

func collect(txs []model.Transaction, keep func(*model.Transaction) bool) Stats {
	s := Stats{
		BuyQuantity:  decimal.Zero,
		BuyValue:     decimal.Zero,
		SellQuantity: decimal.Zero,
		SellValue:    decimal.Zero,
		Profit:       decimal.Zero,
	}
	for i := range txs {
		t := &txs[i]
		if !keep(t) {
			continue
		}
		s.Count++
		switch t.Kind {
		case model.Buy:
			s.BuyQuantity = s.BuyQuantity.Add(t.Quantity)
			s.BuyValue = s.BuyValue.Add(t.Total())
		case model.Sell:
			s.SellQuantity = s.SellQuantity.Add(t.Quantity)
			s.SellValue = s.SellValue.Add(t.Total())
			s.Profit = s.Profit.Add(t.RealizedProfit)
		}
	}
	s.AverageBuyRate = rate(s.BuyValue, s.BuyQuantity)
	s.AverageSellRate = rate(s.SellValue, s.SellQuantity)
	return s
}

func rate(value, quantity decimal.Decimal) decimal.Decimal {
	if quantity.IsZero() {
		return decimal.Zero
	}
	return value.DivRound(quantity, RateScale)
}

// Stock is what is left on hand for one metal.
type Stock struct {
	// Remaining is Σ remaining quantity over buys.
	Remaining decimal.Decimal `json:"remaining"`
	// Value is Σ remaining × buy unit price.
	Value decimal.Decimal `json:"value"`
	// OpenShort is Σ unallocated over sells (permissive mode only).
	OpenShort decimal.Decimal `json:"open_short"`
}

func stock(txs []model.Transaction, metal model.Metal) Stock {
	s := Stock{Remaining: decimal.Zero, Value: decimal.Zero, OpenShort: decimal.Zero}
	for i := range txs {
		t := &txs[i]
		if t.Metal != metal {
			continue
		}
		switch t.Kind {
		case model.Buy:
			s.Remaining = s.Remaining.Add(t.RemainingQuantity)
			s.Value = s.Value.Add(t.RemainingQuantity.Mul(t.UnitPrice))
		case model.Sell:
			s.OpenShort = s.OpenShort.Add(t.Unallocated)
		}
	}
	return s
}

// MetalSummary is the all-time view of one metal.
type MetalSummary struct {
	Metal model.Metal `json:"metal"`
	Stats
	Stock Stock `json:"stock"`
}

// Summary is the all-time view of a profile.
type Summary struct {
	ProfileID      string          `json:"profile_id"`
	Metals         []MetalSummary  `json:"metals"`
	TotalBuyValue  decimal.Decimal `json:"total_buy_value"`
	TotalSellValue decimal.Decimal `json:"total_sell_value"`
	TotalProfit    decimal.Decimal `json:"total_profit"`
}

// Summarize builds a Summary from every transaction of a profile.
func Summarize(profileID string, txs []model.Transaction) Summary {
	sum := Summary{
		ProfileID:      profileID,
		TotalBuyValue:  decimal.Zero,
		TotalSellValue: decimal.Zero,
		TotalProfit:    decimal.Zero,
	}
	for _, m := range model.Metals {
		ms := MetalSummary{
			Metal: m,
			Stats: collect(txs, func(t *model.Transaction) bool { return t.Metal == m }),
			Stock: stock(txs, m),
		}
		sum.Metals = append(sum.Metals, ms)
		sum.TotalBuyValue = sum.TotalBuyValue.Add(ms.BuyValue)
		sum.TotalSellValue = sum.TotalSellValue.Add(ms.SellValue)
		sum.TotalProfit = sum.TotalProfit.Add(ms.Profit)
	}
	return sum
}

// MonthReport is the activity of one calendar month.
type MonthReport struct {
	Month  string                `json:"month"` // YYYY-MM
	Metals map[model.Metal]Stats `json:"metals"`
}

// Monthly groups transactions by calendar month of their timestamp (UTC),
// newest month first.
func Monthly(txs []model.Transaction) []MonthReport {
	byMonth := make(map[string][]model.Transaction)
	for _, t := range txs {
		key := t.Timestamp.UTC().Format("2006-01")
		byMonth[key] = append(byMonth[key], t)
	}

	months := make([]string, 0, len(byMonth))
	for k := range byMonth {
		months = append(months, k)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(months)))

	out := make([]MonthReport, 0, len(months))
	for _, month := range months {
		group := byMonth[month]
		mr := MonthReport{Month: month, Metals: make(map[model.Metal]Stats, len(model.Metals))}
		for _, m := range model.Metals {
			mr.Metals[m] = collect(group, func(t *model.Transaction) bool { return t.Metal == m })
		}
		out = append(out, mr)
	}
	return out
}

// WindowReport is one metal's activity inside [From, To], plus the stock
// on hand now.
type WindowReport struct {
	Metal        model.Metal         `json:"metal"`
	From         time.Time           `json:"from"`
	To           time.Time           `json:"to"`
	Stats        Stats               `json:"stats"`
	Stock        Stock               `json:"stock"`
	Transactions []model.Transaction `json:"transactions"`
}

// Window reports on one metal between from and to, inclusive. txs should
// hold every transaction of the profile so stock reflects the whole ledger.
func Window(txs []model.Transaction, metal model.Metal, from, to time.Time) WindowReport {
	in := func(t *model.Transaction) bool {
		return t.Metal == metal && !t.Timestamp.Before(from) && !t.Timestamp.After(to)
	}
	wr := WindowReport{
		Metal:        metal,
		From:         from,
		To:           to,
		Stats:        collect(txs, in),
		Stock:        stock(txs, metal),
		Transactions: []model.Transaction{},
	}
	for i := range txs {
		if in(&txs[i]) {
			wr.Transactions = append(wr.Transactions, txs[i])
		}
	}
	// Newest first, as listed on screen.
	sort.SliceStable(wr.Transactions, func(i, j int) bool {
		return wr.Transactions[i].Timestamp.After(wr.Transactions[j].Timestamp)
	})
	return wr
}

// WeekBounds returns the Sunday-to-Saturday week containing t, in t's
// location: Sunday 00:00 through the last nanosecond of Saturday.
func WeekBounds(t time.Time) (time.Time, time.Time) {
	y, m, d := t.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, t.Location()).AddDate(0, 0, -int(t.Weekday()))
	end := start.AddDate(0, 0, 7).Add(-time.Nanosecond)
	return start, end
}

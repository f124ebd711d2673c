package main

import (
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"

	"github.com/bullionbook/lot-engine/internal/model"
	"github.com/bullionbook/lot-engine/internal/report"
)

func renderTransactions(w io.Writer, txs []model.Transaction) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "Date", "Kind", "Metal", "Quantity", "Unit Price", "Remaining", "Profit", "Lots"})
	table.SetAutoWrapText(false)

	for _, t := range txs {
		remaining, profit := "", ""
		if t.Kind == model.Buy {
			remaining = t.RemainingQuantity.String()
		} else {
			profit = t.RealizedProfit.StringFixed(2)
			if t.Unallocated.IsPositive() {
				remaining = "short " + t.Unallocated.String()
			}
		}
		table.Append([]string{
			t.ID,
			t.Timestamp.Format("2006-01-02"),
			string(t.Kind),
			string(t.Metal),
			t.Quantity.String(),
			t.UnitPrice.StringFixed(2),
			remaining,
			profit,
			formatDraws(t.ConsumedLots),
		})
	}
	table.Render()
}

func renderSummary(w io.Writer, s report.Summary) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Metal", "Bought", "Avg Buy", "Sold", "Avg Sell", "In Stock", "Stock Value", "Open Short", "Profit"})

	for _, m := range s.Metals {
		table.Append([]string{
			string(m.Metal),
			m.BuyQuantity.String(),
			money(m.AverageBuyRate),
			m.SellQuantity.String(),
			money(m.AverageSellRate),
			m.Stock.Remaining.String(),
			money(m.Stock.Value),
			m.Stock.OpenShort.String(),
			money(m.Profit),
		})
	}
	table.SetFooter([]string{"Total", money(s.TotalBuyValue), "", money(s.TotalSellValue), "", "", "", "", money(s.TotalProfit)})
	table.Render()
}

func renderMonthly(w io.Writer, months []report.MonthReport) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Month", "Metal", "Bought", "Buy Value", "Sold", "Sell Value", "Profit", "Count"})

	for _, mr := range months {
		for _, metal := range model.Metals {
			st, ok := mr.Metals[metal]
			if !ok || st.Count == 0 {
				continue
			}
			table.Append([]string{
				mr.Month,
				string(metal),
				st.BuyQuantity.String(),
				money(st.BuyValue),
				st.SellQuantity.String(),
				money(st.SellValue),
				money(st.Profit),
				strconv.Itoa(st.Count),
			})
		}
	}
	table.Render()
}

func money(v decimal.Decimal) string { return v.StringFixed(2) }

// formatDraws renders provenance as "lot:qty, lot:qty" with short ids.
func formatDraws(draws []model.Draw) string {
	parts := make([]string, 0, len(draws))
	for _, d := range draws {
		id := d.LotID
		if len(id) > 8 {
			id = id[:8]
		}
		parts = append(parts, id+":"+d.Quantity.String())
	}
	return strings.Join(parts, ", ")
}

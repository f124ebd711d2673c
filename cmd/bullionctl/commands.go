package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/subcommands"
	"github.com/shopspring/decimal"

	"github.com/bullionbook/lot-engine/internal/api"
	"github.com/bullionbook/lot-engine/internal/model"
)

// --- add ---

type addCmd struct {
	kind     string
	metal    string
	quantity string
	price    string
	date     string
}

func (*addCmd) Name() string     { return "add" }
func (*addCmd) Synopsis() string { return "record a buy or a sell" }
func (*addCmd) Usage() string {
	return `bullionctl [-profile <p>] add -kind buy|sell -metal gold|silver -q <quantity> -price <unit price> [-d <date>]

  Records a transaction. A sell is matched against open buy lots using the
  configured policy; in strict mode it fails if the lots cannot cover it.
`
}

func (c *addCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.kind, "kind", "", "buy or sell")
	f.StringVar(&c.metal, "metal", "gold", "gold or silver")
	f.StringVar(&c.quantity, "q", "", "Quantity in grams")
	f.StringVar(&c.price, "price", "", "Unit price")
	f.StringVar(&c.date, "d", "", "Transaction date (YYYY-MM-DD), defaults to now")
}

func (c *addCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	kind, err := model.ParseKind(c.kind)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}
	metal, err := model.ParseMetal(c.metal)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}
	qty, err := decimal.NewFromString(c.quantity)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing quantity: %v\n", err)
		return subcommands.ExitUsageError
	}
	price, err := decimal.NewFromString(c.price)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing price: %v\n", err)
		return subcommands.ExitUsageError
	}
	ts, err := parseDate(c.date)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}

	engine, closeFn, err := openEngine(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer closeFn()

	t, err := engine.AddTransaction(ctx, model.Intent{
		ProfileID: *profile,
		Kind:      kind,
		Metal:     metal,
		Quantity:  qty,
		UnitPrice: price,
		Timestamp: ts,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	renderTransactions(os.Stdout, []model.Transaction{*t})
	return subcommands.ExitSuccess
}

// --- edit ---

type editCmd struct {
	quantity string
	price    string
	date     string
}

func (*editCmd) Name() string     { return "edit" }
func (*editCmd) Synopsis() string { return "change the quantity, price or date of a transaction" }
func (*editCmd) Usage() string {
	return `bullionctl edit [-q <quantity>] [-price <unit price>] [-d <date>] <id>

  Edits a transaction and rebalances every lot and sell that depends on it.
`
}

func (c *editCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.quantity, "q", "", "New quantity")
	f.StringVar(&c.price, "price", "", "New unit price")
	f.StringVar(&c.date, "d", "", "New date (YYYY-MM-DD)")
}

func (c *editCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: exactly one transaction id is required.")
		return subcommands.ExitUsageError
	}

	var p model.Patch
	if c.quantity != "" {
		q, err := decimal.NewFromString(c.quantity)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing quantity: %v\n", err)
			return subcommands.ExitUsageError
		}
		p.Quantity = &q
	}
	if c.price != "" {
		pr, err := decimal.NewFromString(c.price)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing price: %v\n", err)
			return subcommands.ExitUsageError
		}
		p.UnitPrice = &pr
	}
	if c.date != "" {
		ts, err := parseDate(c.date)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return subcommands.ExitUsageError
		}
		p.Timestamp = &ts
	}

	engine, closeFn, err := openEngine(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer closeFn()

	t, err := engine.EditTransaction(ctx, f.Arg(0), p)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	renderTransactions(os.Stdout, []model.Transaction{*t})
	return subcommands.ExitSuccess
}

// --- delete ---

type deleteCmd struct{}

func (*deleteCmd) Name() string     { return "delete" }
func (*deleteCmd) Synopsis() string { return "delete a transaction" }
func (*deleteCmd) Usage() string {
	return `bullionctl delete <id>

  Deletes a transaction. A buy that sells still draw from cannot be deleted.
`
}

func (*deleteCmd) SetFlags(*flag.FlagSet) {}

func (*deleteCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: exactly one transaction id is required.")
		return subcommands.ExitUsageError
	}

	engine, closeFn, err := openEngine(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer closeFn()

	if err := engine.DeleteTransaction(ctx, f.Arg(0)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	fmt.Println("deleted", f.Arg(0))
	return subcommands.ExitSuccess
}

// --- list ---

type listCmd struct {
	metal string
	start string
	end   string
}

func (*listCmd) Name() string     { return "list" }
func (*listCmd) Synopsis() string { return "list transactions, newest first" }
func (*listCmd) Usage() string {
	return `bullionctl [-profile <p>] list [-metal gold|silver] [-s <start_date>] [-d <end_date>]
`
}

func (c *listCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.metal, "metal", "", "Only list this metal")
	f.StringVar(&c.start, "s", "", "Start date (YYYY-MM-DD), inclusive")
	f.StringVar(&c.end, "d", "", "End date (YYYY-MM-DD), inclusive")
}

func (c *listCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	filter := model.Filter{ProfileID: *profile}
	if c.metal != "" {
		m, err := model.ParseMetal(c.metal)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return subcommands.ExitUsageError
		}
		filter.Metal = m
	}
	var err error
	if filter.From, err = parseDate(c.start); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}
	if filter.To, err = parseDate(c.end); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}
	if !filter.To.IsZero() {
		filter.To = filter.To.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}

	engine, closeFn, err := openEngine(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer closeFn()

	txs, err := engine.ListLedger(ctx, filter)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	renderTransactions(os.Stdout, txs)
	return subcommands.ExitSuccess
}

// --- summary ---

type summaryCmd struct{}

func (*summaryCmd) Name() string     { return "summary" }
func (*summaryCmd) Synopsis() string { return "show all-time totals, stock and profit per metal" }
func (*summaryCmd) Usage() string {
	return `bullionctl [-profile <p>] summary
`
}

func (*summaryCmd) SetFlags(*flag.FlagSet) {}

func (*summaryCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	engine, closeFn, err := openEngine(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer closeFn()

	s, err := engine.Summary(ctx, *profile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	renderSummary(os.Stdout, s)
	return subcommands.ExitSuccess
}

// --- monthly ---

type monthlyCmd struct{}

func (*monthlyCmd) Name() string     { return "monthly" }
func (*monthlyCmd) Synopsis() string { return "show buy/sell totals and profit per month" }
func (*monthlyCmd) Usage() string {
	return `bullionctl [-profile <p>] monthly
`
}

func (*monthlyCmd) SetFlags(*flag.FlagSet) {}

func (*monthlyCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	engine, closeFn, err := openEngine(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer closeFn()

	months, err := engine.MonthlyReport(ctx, *profile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	renderMonthly(os.Stdout, months)
	return subcommands.ExitSuccess
}

// parseDate parses an optional YYYY-MM-DD date; empty yields the zero time.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(api.DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return t, nil
}

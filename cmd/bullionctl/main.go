// Command bullionctl records and inspects metal transactions directly
// against the ledger database.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path"

	"github.com/google/subcommands"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bullionbook/lot-engine/internal/ledger"
	"github.com/bullionbook/lot-engine/internal/lot"
	"github.com/bullionbook/lot-engine/internal/store"
)

var (
	databaseURL = flag.String("database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string (defaults to $DATABASE_URL)")
	profile     = flag.String("profile", "default", "Profile whose ledger to operate on")
	policy      = flag.String("policy", "price", "Lot matching policy: price (cheapest first) or date (oldest first)")
	mode        = flag.String("mode", "strict", "Shortfall mode: strict or permissive")
)

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")

	commander.Register(&addCmd{}, "transactions")
	commander.Register(&editCmd{}, "transactions")
	commander.Register(&deleteCmd{}, "transactions")
	commander.Register(&listCmd{}, "transactions")

	commander.Register(&summaryCmd{}, "reports")
	commander.Register(&monthlyCmd{}, "reports")

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}

// openEngine connects to the database and builds an engine from the global
// flags. The returned func closes the pool.
func openEngine(ctx context.Context) (*ledger.Engine, func(), error) {
	if *databaseURL == "" {
		return nil, nil, fmt.Errorf("no database: set -database-url or DATABASE_URL")
	}
	p, err := lot.ParsePolicy(*policy)
	if err != nil {
		return nil, nil, err
	}
	m, err := lot.ParseMode(*mode)
	if err != nil {
		return nil, nil, err
	}

	pool, err := pgxpool.New(ctx, *databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect: %w", err)
	}
	pg := store.NewPostgresStore(pool)
	if err := pg.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return ledger.NewEngine(pg, ledger.Config{Policy: p, Mode: m, MaxRetries: 3}, nil), pool.Close, nil
}

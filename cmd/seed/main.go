package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/spf13/pflag"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-checkin/internal/database/migrations"
	"ms-checkin/internal/logger"
)

func main() {
	_ = godotenv.Load()

	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "seed: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	opts := defaultSeedOptions()
	var dsn string
	var reset bool
	var to uint

	flagSet := pflag.NewFlagSet("seed", pflag.ContinueOnError)
	flagSet.StringVar(&dsn, "dsn", os.Getenv("POSTGRES_DSN"), "Postgres DSN (default: $POSTGRES_DSN)")
	flagSet.BoolVar(&reset, "reset", false, "roll back every migration before seeding")
	flagSet.UintVar(&to, "to", 0, "only migrate the schema to this version, without seeding")
	flagSet.StringVar(&opts.EventID, "event", opts.EventID, "event ID to create")
	flagSet.StringVar(&opts.VenueID, "venue", opts.VenueID, "venue ID to create")
	flagSet.IntVar(&opts.Capacity, "capacity", opts.Capacity, "venue capacity")
	flagSet.IntVar(&opts.Tickets, "tickets", opts.Tickets, "number of VALID tickets to issue")
	flagSet.StringSliceVar(&opts.Checkers, "checker", opts.Checkers, "checker IDs to assign (repeatable)")
	flagSet.DurationVar(&opts.StartsIn, "starts-in", opts.StartsIn, "time from now until the event starts")
	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if dsn == "" {
		return fmt.Errorf("--dsn or POSTGRES_DSN is required")
	}

	log := logger.NewLoggerWithWriter(os.Stdout)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	sqldb, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer sqldb.Close()
	if err := sqldb.PingContext(ctx); err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}

	runner := migrations.NewRunner(sqldb, log)
	defer runner.Close()
	seed, err := prepareSchema(runner, reset, to, log)
	if err != nil || !seed {
		return err
	}

	bunDB := bun.NewDB(sqldb, pgdialect.New())
	log.Info("SEED", "Seeding sample data...")
	summary, err := seedData(ctx, bunDB, opts, time.Now().UTC())
	if err != nil {
		return err
	}

	log.LogDatabase("INSERT", "tickets", fmt.Sprintf("%d tickets for event %s", len(summary.TicketCodes), opts.EventID))
	log.Info("SEED", fmt.Sprintf("Done: event %s at venue %s, %d tickets, checkers %v", opts.EventID, opts.VenueID, len(summary.TicketCodes), opts.Checkers))
	for _, code := range summary.TicketCodes {
		fmt.Println(code)
	}
	return nil
}

type schemaMigrator interface {
	MigrateUp() error
	MigrateDown() error
	MigrateTo(version uint) error
}

// prepareSchema applies the requested migrations and reports whether sample data
// should be inserted afterwards. A pinned version only moves the schema.
func prepareSchema(m schemaMigrator, reset bool, to uint, log *logger.Logger) (bool, error) {
	if reset {
		log.Info("SEED", "Dropping tables...")
		if err := m.MigrateDown(); err != nil {
			return false, err
		}
	}

	if to > 0 {
		if err := m.MigrateTo(to); err != nil {
			return false, err
		}
		log.LogDatabase("MIGRATE", "schema", fmt.Sprintf("migrated to version %d, skipping sample data", to))
		return false, nil
	}

	log.Info("SEED", "Creating tables...")
	if err := m.MigrateUp(); err != nil {
		return false, err
	}
	log.LogDatabase("MIGRATE", "schema", "migrated to latest version")
	return true, nil
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"

	"github.com/dvloznov/ledger-ingest/internal/config"
	"github.com/dvloznov/ledger-ingest/internal/infra/sqlite"
	"github.com/dvloznov/ledger-ingest/internal/logger"
)

const usage = `Usage: migrate [-db PATH] <command>

Commands:
  up          Apply every pending migration (default)
  down [N]    Roll back N migrations, or all of them
  version     Print the current schema version
  force V     Set the version without running migrations, clearing the dirty flag
`

func main() {
	cfg, err := config.Load()
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	log := logger.NewWithOptions(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	ctx := logger.WithContext(context.Background(), log)

	if err := run(ctx, os.Args[1:], cfg.DatabasePath, os.Stdout); err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
}

func run(ctx context.Context, args []string, defaultDB string, out io.Writer) error {
	log := logger.FromContext(ctx)

	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.Usage = func() { fmt.Fprint(out, usage) }
	dbPath := fs.String("db", defaultDB, "SQLite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cmd := "up"
	rest := fs.Args()
	if len(rest) > 0 {
		cmd, rest = rest[0], rest[1:]
	}

	db, err := sqlite.Open(ctx, *dbPath)
	if err != nil {
		return err
	}
	m, err := sqlite.NewMigrator(db)
	if err != nil {
		db.Close()
		return err
	}
	defer m.Close()

	log.Info().Str("db", *dbPath).Str("command", cmd).Msg("Running migrations")

	switch cmd {
	case "up":
		err = m.Up()
	case "down":
		if len(rest) == 0 {
			err = m.Down()
			break
		}
		n, perr := strconv.Atoi(rest[0])
		if perr != nil || n <= 0 {
			return fmt.Errorf("down: step count must be a positive integer, got %q", rest[0])
		}
		err = m.Steps(-n)
	case "version":
		v, dirty, verr := m.Version()
		if errors.Is(verr, migrate.ErrNilVersion) {
			fmt.Fprintln(out, "No migrations applied.")
			return nil
		}
		if verr != nil {
			return fmt.Errorf("version: %w", verr)
		}
		fmt.Fprintf(out, "Version %d", v)
		if dirty {
			fmt.Fprint(out, " (dirty)")
		}
		fmt.Fprintln(out)
		return nil
	case "force":
		if len(rest) == 0 {
			return errors.New("force: version required")
		}
		v, perr := strconv.Atoi(rest[0])
		if perr != nil {
			return fmt.Errorf("force: invalid version %q", rest[0])
		}
		err = m.Force(v)
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		fmt.Fprintln(out, "No change. Database is up to date.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}
	fmt.Fprintf(out, "Migration %s completed.\n", cmd)
	return nil
}

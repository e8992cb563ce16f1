package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/ledger-ingest/internal/config"
	"github.com/dvloznov/ledger-ingest/internal/infra/sqlite"
	"github.com/dvloznov/ledger-ingest/internal/logger"
	"github.com/dvloznov/ledger-ingest/internal/review"
)

// globals are flags shared by every command.
type globals struct {
	DB   string `name:"db" help:"SQLite database path (defaults to DATABASE_PATH)."`
	JSON bool   `name:"json" help:"Print results as JSON."`
}

type cli struct {
	Globals globals `embed:""`

	List       listCmd       `cmd:"" help:"Query stored transactions."`
	Add        addCmd        `cmd:"" help:"Add one transaction by hand."`
	Report     reportCmd     `cmd:"" help:"Spending and income reports."`
	Review     reviewCmd     `cmd:"" help:"Work the duplicate review queue."`
	Delete     deleteCmd     `cmd:"" help:"Delete transactions by id."`
	Categorize categorizeCmd `cmd:"" help:"Categorize stored uncategorized transactions."`
	Vendor     vendorCmd     `cmd:"" help:"Manage vendor category rules."`
	Runs       runsCmd       `cmd:"" help:"Show the processing log."`
	Stats      statsCmd      `cmd:"" help:"Summarize the store."`
}

// env is bound to every command's Run method.
type env struct {
	ctx  context.Context
	cfg  *config.Config
	repo *sqlite.Repository
	in   io.Reader
	out  io.Writer
	json bool
}

func (e *env) workflow() *review.Workflow {
	return review.NewWorkflow(e.repo, review.Options{
		Tolerance:             decimal.NewFromFloat(e.cfg.AmountTolerance),
		WindowDays:            e.cfg.LooseWindowDays,
		AutoFinalizeThreshold: e.cfg.AutoFinalizeThreshold,
	})
}

func (e *env) printJSON(v interface{}) error {
	enc := json.NewEncoder(e.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}
	log := logger.NewWithOptions(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx, log)

	if err := execute(ctx, os.Args[1:], cfg, os.Stdin, os.Stdout); err != nil {
		log.Error().Err(err).Msg("Command failed")
		stop()
		os.Exit(1)
	}
}

// execute parses args, opens the store and runs the selected command.
func execute(ctx context.Context, args []string, cfg *config.Config, in io.Reader, out io.Writer) error {
	var c cli
	parser, err := kong.New(&c,
		kong.Name("ledger"),
		kong.Description("Review duplicates, categorize and inspect the transaction store."),
		kong.Writers(out, out),
	)
	if err != nil {
		return err
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		return err
	}

	dbPath := cfg.DatabasePath
	if c.Globals.DB != "" {
		dbPath = c.Globals.DB
	}
	repo, err := sqlite.NewRepository(ctx, dbPath)
	if err != nil {
		return err
	}
	defer repo.Close()

	return kctx.Run(&env{ctx: ctx, cfg: cfg, repo: repo, in: in, out: out, json: c.Globals.JSON})
}

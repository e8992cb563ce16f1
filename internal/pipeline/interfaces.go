package pipeline

import (
	"context"

	"github.com/dvloznov/ledger-ingest/internal/categorize"
	"github.com/dvloznov/ledger-ingest/internal/domain"
	"github.com/dvloznov/ledger-ingest/internal/infra/sqlite"
)

// Store is the persistence boundary of an ingestion run.
type Store interface {
	ExistingHashesFor(ctx context.Context, batch []*domain.Transaction) (map[string]struct{}, error)
	ExistingTxnRefsFor(ctx context.Context, batch []*domain.Transaction) (map[domain.TxnRef]struct{}, error)
	InsertBatch(ctx context.Context, txns []*domain.Transaction, groups []sqlite.HashGroup) (*sqlite.BatchResult, error)
	ListVendorMappings(ctx context.Context) ([]domain.VendorMapping, error)

	StartRun(ctx context.Context, meta domain.RunMeta) (int64, error)
	CompleteRun(ctx context.Context, id int64, c domain.RunCounters, status domain.RunStatus, details map[string]interface{}) error
}

// Source lists and reads input files.
type Source interface {
	// Location describes the source for logs and the run log.
	Location() string

	// Discover returns the CSV files to ingest in a stable order.
	Discover(ctx context.Context) ([]string, error)

	// Read returns the raw bytes of one discovered file.
	Read(ctx context.Context, name string) ([]byte, error)
}

// Categorizer assigns categories to rows before they are stored.
type Categorizer interface {
	Categorize(ctx context.Context, txns []*domain.Transaction, rules *categorize.Rules) categorize.Result
}

// Exporter mirrors newly stored rows to a secondary destination.
type Exporter interface {
	Name() string
	Export(ctx context.Context, txns []*domain.Transaction) (int, error)
}

// Archiver keeps a copy of every ingested source file.
type Archiver interface {
	Archive(ctx context.Context, runID int64, name string, data []byte) (string, error)
}

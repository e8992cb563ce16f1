package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"

	"github.com/dvloznov/ledger-ingest/internal/domain"
	"github.com/dvloznov/ledger-ingest/internal/logger"
)

const (
	transactionsTable = "transactions"
	insertChunkSize   = 500
)

// Exporter mirrors inserted transactions into a BigQuery table. Rows carry
// the content hash as insert id so a retried export does not duplicate them.
type Exporter struct {
	client    *bigquery.Client
	projectID string
	datasetID string
	tableID   string
}

// NewExporter creates an Exporter for project.dataset.transactions.
func NewExporter(ctx context.Context, projectID, datasetID string) (*Exporter, error) {
	if projectID == "" || datasetID == "" {
		return nil, fmt.Errorf("NewExporter: project and dataset are required")
	}
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewExporter: creating client: %w", err)
	}
	return &Exporter{
		client:    client,
		projectID: projectID,
		datasetID: datasetID,
		tableID:   transactionsTable,
	}, nil
}

// Close closes the BigQuery client connection.
func (e *Exporter) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

// Name identifies the destination in run summaries.
func (e *Exporter) Name() string {
	return "bq:" + e.projectID + "." + e.datasetID
}

// Export creates the table on first use and streams txns into it.
func (e *Exporter) Export(ctx context.Context, txns []*domain.Transaction) (int, error) {
	if len(txns) == 0 {
		return 0, nil
	}
	table := e.client.DatasetInProject(e.projectID, e.datasetID).Table(e.tableID)
	if err := EnsureTableWithClient(ctx, table); err != nil {
		return 0, err
	}
	return InsertTransactionsWithClient(ctx, table, txns)
}

// EnsureTableWithClient creates the mirror table if it does not exist.
func EnsureTableWithClient(ctx context.Context, table *bigquery.Table) error {
	_, err := table.Metadata(ctx)
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusNotFound {
		return fmt.Errorf("EnsureTable: reading metadata: %w", err)
	}

	schema, err := bigquery.InferSchema(TransactionRow{})
	if err != nil {
		return fmt.Errorf("EnsureTable: inferring schema: %w", err)
	}
	meta := &bigquery.TableMetadata{
		Schema: schema,
		TimePartitioning: &bigquery.TimePartitioning{
			Field: "transaction_date",
			Type:  bigquery.MonthPartitioningType,
		},
	}
	if err := table.Create(ctx, meta); err != nil {
		return fmt.Errorf("EnsureTable: creating table: %w", err)
	}
	log := logger.FromContext(ctx)
	log.Info().Str("table", table.FullyQualifiedName()).Msg("created mirror table")
	return nil
}

// InsertTransactionsWithClient streams txns in chunks and returns how many
// rows were accepted.
func InsertTransactionsWithClient(ctx context.Context, table *bigquery.Table, txns []*domain.Transaction) (int, error) {
	inserter := table.Inserter()
	savers := Savers(txns)

	sent := 0
	for start := 0; start < len(savers); start += insertChunkSize {
		end := min(start+insertChunkSize, len(savers))
		if err := inserter.Put(ctx, savers[start:end]); err != nil {
			return sent, fmt.Errorf("InsertTransactions: inserting rows: %w", err)
		}
		sent = end
	}
	return sent, nil
}

// Savers wraps each transaction in a StructSaver keyed by its content hash.
func Savers(txns []*domain.Transaction) []*bigquery.StructSaver {
	savers := make([]*bigquery.StructSaver, 0, len(txns))
	for _, t := range txns {
		savers = append(savers, &bigquery.StructSaver{
			Struct:   NewTransactionRow(t),
			InsertID: t.ContentHash,
		})
	}
	return savers
}

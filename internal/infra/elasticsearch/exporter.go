// Package elasticsearch indexes inserted transactions for search.
package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esutil"

	"github.com/dvloznov/ledger-ingest/internal/domain"
	"github.com/dvloznov/ledger-ingest/internal/logger"
)

const (
	DefaultIndex = "ledger-transactions"
	flushBytes   = 1 << 20
	maxRetries   = 5
)

// Document is the indexed form of a transaction. The content hash is the
// document id, so re-exporting a row overwrites it.
type Document struct {
	ID          int64   `json:"id"`
	Date        string  `json:"date"`
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
	Balance     *string `json:"balance,omitempty"`
	Source      string  `json:"source,omitempty"`
	TxnID       string  `json:"txn_id,omitempty"`
	Reference   string  `json:"reference,omitempty"`
	Account     string  `json:"account,omitempty"`
	Category    string  `json:"category,omitempty"`
	Vendor      string  `json:"vendor,omitempty"`
	ContentHash string  `json:"content_hash"`
}

// NewDocument converts t for indexing.
func NewDocument(t *domain.Transaction) Document {
	doc := Document{
		ID:          t.ID,
		Date:        t.Date.String(),
		Description: t.Description,
		Amount:      t.Amount.InexactFloat64(),
		Source:      t.Source,
		TxnID:       t.TxnID,
		Reference:   t.Reference,
		Account:     t.Account,
		Category:    t.Category,
		Vendor:      t.Vendor,
		ContentHash: t.ContentHash,
	}
	if t.Balance.Valid {
		b := t.Balance.Decimal.String()
		doc.Balance = &b
	}
	return doc
}

// Exporter bulk-indexes transactions into one index.
type Exporter struct {
	es    *elasticsearch.Client
	url   string
	index string
}

// NewExporter creates an Exporter for the cluster at url.
func NewExporter(url, index string) (*Exporter, error) {
	if index == "" {
		index = DefaultIndex
	}
	retryBackoff := backoff.NewExponentialBackOff()

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:     []string{url},
		RetryOnStatus: []int{502, 503, 504, 429},
		RetryBackoff: func(i int) time.Duration {
			if i == 1 {
				retryBackoff.Reset()
			}
			return retryBackoff.NextBackOff()
		},
		MaxRetries: maxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("NewExporter: creating client: %w", err)
	}
	return &Exporter{es: es, url: url, index: index}, nil
}

// Name identifies the destination in run summaries.
func (e *Exporter) Name() string {
	return "es8:" + e.url
}

// Export indexes txns and returns the number of documents flushed. Any
// per-document failure makes the export an error.
func (e *Exporter) Export(ctx context.Context, txns []*domain.Transaction) (int, error) {
	if len(txns) == 0 {
		return 0, nil
	}
	log := logger.FromContext(ctx)

	if err := e.ensureIndex(ctx); err != nil {
		return 0, err
	}

	bi, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Index:         e.index,
		Client:        e.es,
		FlushBytes:    flushBytes,
		NumWorkers:    2,
		FlushInterval: 10 * time.Second,
	})
	if err != nil {
		return 0, fmt.Errorf("Export: creating bulk indexer: %w", err)
	}

	for _, t := range txns {
		data, err := json.Marshal(NewDocument(t))
		if err != nil {
			_ = bi.Close(ctx)
			return 0, fmt.Errorf("Export: encoding %s: %w", t.ContentHash, err)
		}
		err = bi.Add(ctx, esutil.BulkIndexerItem{
			Action:     "index",
			DocumentID: t.ContentHash,
			Body:       bytes.NewReader(data),
			OnFailure: func(ctx context.Context, item esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem, err error) {
				if err != nil {
					log.Warn().Err(err).Str("doc", item.DocumentID).Msg("index failed")
					return
				}
				log.Warn().Str("doc", item.DocumentID).Str("type", res.Error.Type).Str("reason", res.Error.Reason).Msg("index failed")
			},
		})
		if err != nil {
			_ = bi.Close(ctx)
			return 0, fmt.Errorf("Export: adding document: %w", err)
		}
	}

	if err := bi.Close(ctx); err != nil {
		return 0, fmt.Errorf("Export: flushing: %w", err)
	}

	stats := bi.Stats()
	if stats.NumFailed > 0 {
		return int(stats.NumFlushed), fmt.Errorf("Export: failed indexing %d docs", stats.NumFailed)
	}
	log.Info().Uint64("indexed", stats.NumFlushed).Str("index", e.index).Msg("indexed transactions")
	return int(stats.NumFlushed), nil
}

func (e *Exporter) ensureIndex(ctx context.Context) error {
	res, err := e.es.Indices.Exists([]string{e.index}, e.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("ensureIndex: checking index: %w", err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}

	res, err = e.es.Indices.Create(e.index, e.es.Indices.Create.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("ensureIndex: creating index: %w", err)
	}
	defer res.Body.Close()
	// 400 covers a concurrent create (resource_already_exists_exception).
	if res.IsError() && res.StatusCode != http.StatusBadRequest {
		return fmt.Errorf("ensureIndex: creating index: %s", res.String())
	}
	return nil
}

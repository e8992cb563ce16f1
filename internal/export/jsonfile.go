package export

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/dvloznov/ledger-ingest/internal/domain"
	"github.com/dvloznov/ledger-ingest/internal/infra/elasticsearch"
)

// JSONFileExporter appends one JSON document per inserted row to a file.
type JSONFileExporter struct {
	path string
}

// NewJSONFileExporter writes to path, creating it when missing.
func NewJSONFileExporter(path string) *JSONFileExporter {
	return &JSONFileExporter{path: path}
}

// Name identifies the destination in run summaries.
func (e *JSONFileExporter) Name() string {
	return string(KindJSONFile) + ":" + e.path
}

// Export appends txns using the same document shape as the search index.
func (e *JSONFileExporter) Export(ctx context.Context, txns []*domain.Transaction) (int, error) {
	if len(txns) == 0 {
		return 0, nil
	}
	f, err := os.OpenFile(e.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("Export: opening %s: %w", e.path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for i, t := range txns {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := enc.Encode(elasticsearch.NewDocument(t)); err != nil {
			return i, fmt.Errorf("Export: encoding %s: %w", t.ContentHash, err)
		}
	}
	if err := w.Flush(); err != nil {
		return 0, fmt.Errorf("Export: flushing %s: %w", e.path, err)
	}
	return len(txns), nil
}

// Package export builds the secondary destinations inserted rows are mirrored
// to, and the spreadsheet used to review duplicate groups offline.
package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dvloznov/ledger-ingest/internal/infra/bigquery"
	"github.com/dvloznov/ledger-ingest/internal/infra/elasticsearch"
	"github.com/dvloznov/ledger-ingest/internal/pipeline"
)

// Kind names a destination type.
type Kind string

const (
	KindElasticsearch Kind = "es8"
	KindBigQuery      Kind = "bq"
	KindJSONFile      Kind = "jsonfile"
)

// Destination is a parsed "kind:target" export flag value.
type Destination struct {
	Kind   Kind
	Target string
}

func (d Destination) String() string {
	return string(d.Kind) + ":" + d.Target
}

// ParseDestination parses one of
//
//	es8:http://localhost:9200
//	bq:project.dataset
//	jsonfile:/path/to/out.jsonl
func ParseDestination(s string) (Destination, error) {
	kind, target, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || target == "" {
		return Destination{}, fmt.Errorf("ParseDestination: expected kind:target, got %q", s)
	}
	d := Destination{Kind: Kind(strings.ToLower(kind)), Target: target}

	switch d.Kind {
	case KindElasticsearch, KindJSONFile:
	case KindBigQuery:
		if _, _, err := d.BigQueryTable(); err != nil {
			return Destination{}, err
		}
	default:
		return Destination{}, fmt.Errorf("ParseDestination: unknown destination %q", kind)
	}
	return d, nil
}

// BigQueryTable splits a bq target into project and dataset.
func (d Destination) BigQueryTable() (project, dataset string, err error) {
	project, dataset, ok := strings.Cut(d.Target, ".")
	if !ok || project == "" || dataset == "" {
		return "", "", fmt.Errorf("ParseDestination: bq target must be project.dataset, got %q", d.Target)
	}
	return project, dataset, nil
}

// Open creates the exporters for dests. The returned closer releases every
// client that was opened; it is safe to call when err is non-nil.
func Open(ctx context.Context, dests []Destination) ([]pipeline.Exporter, io.Closer, error) {
	var (
		exporters []pipeline.Exporter
		closers   multiCloser
	)
	for _, d := range dests {
		switch d.Kind {
		case KindElasticsearch:
			e, err := elasticsearch.NewExporter(d.Target, "")
			if err != nil {
				return nil, closers, fmt.Errorf("Open: %s: %w", d, err)
			}
			exporters = append(exporters, e)
		case KindBigQuery:
			project, dataset, err := d.BigQueryTable()
			if err != nil {
				return nil, closers, err
			}
			e, err := bigquery.NewExporter(ctx, project, dataset)
			if err != nil {
				return nil, closers, fmt.Errorf("Open: %s: %w", d, err)
			}
			exporters = append(exporters, e)
			closers = append(closers, e)
		case KindJSONFile:
			exporters = append(exporters, NewJSONFileExporter(d.Target))
		default:
			return nil, closers, fmt.Errorf("Open: unknown destination %q", d.Kind)
		}
	}
	return exporters, closers, nil
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var errs []error
	for _, c := range m {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

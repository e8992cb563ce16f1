package pipeline

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/ledger-ingest/internal/dedup"
	"github.com/dvloznov/ledger-ingest/internal/domain"
	"github.com/dvloznov/ledger-ingest/internal/logger"
	"github.com/dvloznov/ledger-ingest/internal/normalize"
	"github.com/shopspring/decimal"
)

// ManualSource tags rows entered by hand.
const ManualSource = "manual_entry"

// ManualEntry is one transaction typed in by an operator.
type ManualEntry struct {
	Date        civil.Date
	Description string
	Amount      decimal.Decimal

	Account   string
	TxnID     string
	Reference string

	Category string
	Vendor   string
	Notes    string
}

// ManualResult reports what AddManual did with an entry. Duplicate names the
// tier that matched a stored row when nothing was inserted.
type ManualResult struct {
	RunID       int64               `json:"run_id"`
	Inserted    bool                `json:"inserted"`
	Duplicate   string              `json:"duplicate,omitempty"`
	Transaction *domain.Transaction `json:"-"`
}

func (e ManualEntry) transaction() (*domain.Transaction, error) {
	desc := strings.Join(strings.Fields(e.Description), " ")
	if desc == "" {
		return nil, fmt.Errorf("%w: description is required", domain.ErrInvalidTransaction)
	}
	if !e.Date.IsValid() {
		return nil, fmt.Errorf("%w: date is required", domain.ErrInvalidTransaction)
	}
	t := &domain.Transaction{
		Date:        e.Date,
		Description: desc,
		Amount:      e.Amount,
		Source:      ManualSource,
		TxnID:       strings.TrimSpace(e.TxnID),
		Reference:   strings.TrimSpace(e.Reference),
		Account:     normalize.NormalizeAccount(e.Account),
		Category:    strings.TrimSpace(e.Category),
		Vendor:      strings.TrimSpace(e.Vendor),
		Notes:       strings.TrimSpace(e.Notes),
	}
	normalize.Fingerprint(t)
	return t, nil
}

// AddManual stores one hand-entered transaction. It is fingerprinted and
// deduplicated against the store exactly like an imported row, and recorded
// in the processing log.
func (in *Ingester) AddManual(ctx context.Context, e ManualEntry) (*ManualResult, error) {
	log := logger.FromContext(ctx)

	t, err := e.transaction()
	if err != nil {
		return nil, fmt.Errorf("AddManual: %w", err)
	}

	runID, err := in.cfg.Store.StartRun(ctx, domain.RunMeta{
		Operation:  domain.OpManualEntry,
		SourceFile: ManualSource,
		Details:    map[string]interface{}{"content_hash": t.ContentHash},
	})
	if err != nil {
		return nil, fmt.Errorf("AddManual: start run: %w", err)
	}
	log = log.With().Int64("run_id", runID).Logger()
	ctx = logger.WithContext(ctx, log)

	state := &State{RunID: runID, Batch: []*domain.Transaction{t}}
	p := NewPipeline(
		&LookupStep{Store: in.cfg.Store},
		&DedupStep{Engine: dedup.New(dedup.Options{Tolerance: in.cfg.Tolerance})},
		&PersistStep{Store: in.cfg.Store},
	)
	if err := p.Execute(ctx, state); err != nil {
		in.fail(ctx, state, err)
		return nil, fmt.Errorf("AddManual: %w", err)
	}

	res := &ManualResult{RunID: runID, Transaction: t}
	counters := domain.RunCounters{Processed: 1}
	details := map[string]interface{}{"content_hash": t.ContentHash}
	switch {
	case len(state.Outcome.Drops) > 0:
		res.Duplicate = state.Outcome.Drops[0].Tier.String()
		counters.Skipped = 1
		details["duplicate"] = res.Duplicate
	case state.Inserted != nil && state.Inserted.Inserted == 1:
		res.Inserted = true
		counters.Inserted = 1
		details["transaction_id"] = t.ID
	default:
		res.Duplicate = dedup.TierContentHash.String()
		counters.Skipped = 1
		details["duplicate"] = res.Duplicate
	}
	if err := in.cfg.Store.CompleteRun(ctx, runID, counters, domain.RunCompleted, details); err != nil {
		return nil, fmt.Errorf("AddManual: complete run: %w", err)
	}

	log.Info().
		Bool("inserted", res.Inserted).
		Str("duplicate", res.Duplicate).
		Str("content_hash", t.ContentHash).
		Msg("Manual entry processed")
	return res, nil
}

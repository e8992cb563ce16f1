package categorize

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dvloznov/ledger-ingest/internal/domain"
	"github.com/dvloznov/ledger-ingest/internal/logger"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// Options tunes a Service. Zero values take the defaults.
type Options struct {
	BatchSize     int
	MaxAttempts   int
	Backoff       time.Duration
	RatePerMinute int
	CacheTTL      time.Duration
}

const (
	defaultBatchSize   = 50
	defaultMaxAttempts = 3
	defaultBackoff     = 2 * time.Second
	defaultCacheTTL    = 24 * time.Hour
)

// Service categorizes transactions. It never fails a caller: rows left
// without an answer get the fallback category.
type Service struct {
	classifier Classifier
	opts       Options
	limiter    *rate.Limiter
	cache      *cache.Cache
}

// NewService creates a Service. A nil classifier means rules and fallback only.
func NewService(classifier Classifier, opts Options) *Service {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = defaultBackoff
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}

	limit := rate.Inf
	if opts.RatePerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(opts.RatePerMinute))
	}
	return &Service{
		classifier: classifier,
		opts:       opts,
		limiter:    rate.NewLimiter(limit, 1),
		cache:      cache.New(opts.CacheTTL, 2*opts.CacheTTL),
	}
}

// Result counts how each row was categorized.
type Result struct {
	ByRule   int `json:"by_rule"`
	ByModel  int `json:"by_model"`
	Cached   int `json:"cached"`
	Fallback int `json:"fallback"`
}

// Total is the number of rows categorized.
func (r Result) Total() int {
	return r.ByRule + r.ByModel + r.Cached + r.Fallback
}

// Categorize sets Category, Vendor and Notes on every row in txns: vendor
// rules first, then the cache, then the classifier in batches.
func (s *Service) Categorize(ctx context.Context, txns []*domain.Transaction, rules *Rules) Result {
	log := logger.FromContext(ctx)

	var (
		res     Result
		pending []*domain.Transaction
	)
	for _, t := range txns {
		if sug, ok := rules.Match(t.Description); ok {
			apply(t, sug)
			res.ByRule++
			continue
		}
		if cached, ok := s.cache.Get(t.ContentHash); ok {
			apply(t, cached.(Suggestion))
			res.Cached++
			continue
		}
		pending = append(pending, t)
	}

	for start := 0; start < len(pending); start += s.opts.BatchSize {
		end := start + s.opts.BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		suggestions := s.classifyBatch(ctx, batch)
		for _, t := range batch {
			sug, ok := suggestions[t.ContentHash]
			if !ok {
				apply(t, Suggestion{Vendor: CleanVendor(t.Description), Category: FallbackCategory, Notes: UnmatchedNote})
				res.Fallback++
				continue
			}
			if sug.Vendor == "" {
				sug.Vendor = CleanVendor(t.Description)
			}
			apply(t, sug)
			s.cache.SetDefault(t.ContentHash, sug)
			res.ByModel++
		}
	}

	log.Info().
		Int("rows", len(txns)).
		Int("by_rule", res.ByRule).
		Int("by_model", res.ByModel).
		Int("cached", res.Cached).
		Int("fallback", res.Fallback).
		Msg("Categorized transactions")
	return res
}

// classifyBatch calls the classifier with bounded constant-backoff retries.
// A batch that still fails yields no suggestions.
func (s *Service) classifyBatch(ctx context.Context, batch []*domain.Transaction) map[string]Suggestion {
	log := logger.FromContext(ctx)
	if s.classifier == nil {
		return nil
	}

	items := make([]Item, len(batch))
	for i, t := range batch {
		items[i] = Item{Date: t.Date, Description: t.Description, Amount: t.Amount, ContentHash: t.ContentHash}
	}

	var out map[string]Suggestion
	attempt := 0
	op := func() error {
		attempt++
		if err := s.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		got, err := s.classifier.Classify(ctx, items)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		out = got
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.opts.Backoff), uint64(s.opts.MaxAttempts-1)),
		ctx,
	)
	notify := func(err error, wait time.Duration) {
		log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", wait).Msg("Classifier call failed, retrying")
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		log.Error().Err(err).Int("rows", len(batch)).Int("attempts", attempt).Msg("Classifier gave up, using fallback category")
		return nil
	}
	return out
}

func apply(t *domain.Transaction, s Suggestion) {
	t.Category = s.Category
	t.Vendor = s.Vendor
	t.Notes = s.Notes
}

// Store is the persistence Run needs.
type Store interface {
	ListTransactions(ctx context.Context, f domain.TransactionFilter) ([]*domain.Transaction, error)
	ListVendorMappings(ctx context.Context) ([]domain.VendorMapping, error)
	UpdateCategories(ctx context.Context, updates []domain.CategoryUpdate) (int, error)
	StartRun(ctx context.Context, meta domain.RunMeta) (int64, error)
	CompleteRun(ctx context.Context, id int64, c domain.RunCounters, status domain.RunStatus, details map[string]interface{}) error
}

// RunSummary reports a categorization run over stored rows.
type RunSummary struct {
	RunID   int64 `json:"run_id"`
	Rows    int   `json:"rows"`
	Updated int   `json:"updated"`
	Result
}

// Run categorizes up to limit live uncategorized rows in the store and records
// the run in the processing log. limit <= 0 means all.
func (s *Service) Run(ctx context.Context, store Store, limit int) (*RunSummary, error) {
	log := logger.FromContext(ctx)

	runID, err := store.StartRun(ctx, domain.RunMeta{Operation: domain.OpCategorization})
	if err != nil {
		return nil, fmt.Errorf("Run: start run: %w", err)
	}
	log = log.With().Int64("run_id", runID).Logger()
	ctx = logger.WithContext(ctx, log)

	summary, err := s.run(ctx, store, limit)
	if err != nil {
		if cerr := store.CompleteRun(ctx, runID, domain.RunCounters{Errors: 1}, domain.RunFailed,
			map[string]interface{}{"error": err.Error()}); cerr != nil {
			log.Error().Err(cerr).Msg("Failed to mark categorization run failed")
		}
		return nil, err
	}
	summary.RunID = runID

	counters := domain.RunCounters{
		Processed: summary.Rows,
		Updated:   summary.Updated,
		Skipped:   summary.Rows - summary.Updated,
	}
	details := map[string]interface{}{
		"by_rule":  summary.ByRule,
		"by_model": summary.ByModel,
		"cached":   summary.Cached,
		"fallback": summary.Fallback,
	}
	if err := store.CompleteRun(ctx, runID, counters, domain.RunCompleted, details); err != nil {
		return nil, fmt.Errorf("Run: complete run: %w", err)
	}
	return summary, nil
}

func (s *Service) run(ctx context.Context, store Store, limit int) (*RunSummary, error) {
	txns, err := store.ListTransactions(ctx, domain.TransactionFilter{UncategorizedOnly: true, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("Run: list uncategorized: %w", err)
	}
	if len(txns) == 0 {
		return &RunSummary{}, nil
	}

	mappings, err := store.ListVendorMappings(ctx)
	if err != nil {
		return nil, fmt.Errorf("Run: list vendor mappings: %w", err)
	}
	rules, err := CompileRules(mappings)
	if err != nil {
		return nil, fmt.Errorf("Run: %w", err)
	}

	res := s.Categorize(ctx, txns, rules)

	updates := make([]domain.CategoryUpdate, len(txns))
	for i, t := range txns {
		updates[i] = domain.CategoryUpdate{ID: t.ID, Category: t.Category, Vendor: t.Vendor, Notes: t.Notes}
	}
	n, err := store.UpdateCategories(ctx, updates)
	if err != nil {
		return nil, fmt.Errorf("Run: update categories: %w", err)
	}
	return &RunSummary{Rows: len(txns), Updated: n, Result: res}, nil
}

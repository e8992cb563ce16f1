package jobs

import (
	"context"
	"fmt"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/ledger-ingest/internal/categorize"
	"github.com/dvloznov/ledger-ingest/internal/logger"
	"github.com/dvloznov/ledger-ingest/internal/review"
)

// Scanner runs a duplicate scan over stored rows.
type Scanner interface {
	Scan(ctx context.Context, opts review.ScanOptions) (*review.ScanResult, error)
}

// CategorizeFunc categorizes up to limit uncategorized stored rows.
type CategorizeFunc func(ctx context.Context, limit int) (*categorize.RunSummary, error)

// NewHandler dispatches jobs by type. A nil categorize func makes
// categorize jobs fail.
func NewHandler(scanner Scanner, categorizeFn CategorizeFunc) JobHandler {
	return func(ctx context.Context, job *Job) error {
		log := logger.FromContext(ctx)
		log = log.With().Str("job_id", job.JobID).Str("job_type", string(job.Type)).Logger()
		ctx = logger.WithContext(ctx, log)

		log.Info().Int("attempt", job.RetryCount+1).Msg("processing job")

		var err error
		switch job.Type {
		case JobTypeDuplicateScan:
			err = runScan(ctx, scanner, job)
		case JobTypeCategorize:
			err = runCategorize(ctx, categorizeFn, job)
		default:
			err = fmt.Errorf("unexpected job type: %s", job.Type)
		}
		if err != nil {
			log.Error().Err(err).Msg("job failed")
			return err
		}
		log.Info().Int64("run_id", job.RunID).Msg("job completed")
		return nil
	}
}

func runScan(ctx context.Context, scanner Scanner, job *Job) error {
	opts := review.ScanOptions{AutoFinalize: job.Params.AutoFinalize}
	if job.Params.AsOf != "" {
		d, err := civil.ParseDate(job.Params.AsOf)
		if err != nil {
			return fmt.Errorf("runScan: bad as_of %q: %w", job.Params.AsOf, err)
		}
		opts.AsOf = d
	}

	res, err := scanner.Scan(ctx, opts)
	if err != nil {
		return fmt.Errorf("runScan: %w", err)
	}
	job.RunID = res.RunID
	job.Result = map[string]interface{}{
		"candidates":     res.Candidates,
		"groups":         len(res.Groups),
		"staged":         res.Staged,
		"auto_finalized": res.AutoFinalized,
		"skipped":        res.Skipped,
	}
	return nil
}

func runCategorize(ctx context.Context, fn CategorizeFunc, job *Job) error {
	if fn == nil {
		return fmt.Errorf("runCategorize: categorization is not configured")
	}
	sum, err := fn(ctx, job.Params.Limit)
	if err != nil {
		return fmt.Errorf("runCategorize: %w", err)
	}
	job.RunID = sum.RunID
	job.Result = map[string]interface{}{
		"rows":     sum.Rows,
		"updated":  sum.Updated,
		"by_rule":  sum.ByRule,
		"by_model": sum.ByModel,
		"cached":   sum.Cached,
		"fallback": sum.Fallback,
	}
	return nil
}

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// Stats summarizes the contents of the store.
type Stats struct {
	Transactions   int    `json:"transactions"`
	Live           int    `json:"live"`
	SoftDeleted    int    `json:"soft_deleted"`
	Uncategorized  int    `json:"uncategorized"`
	PendingGroups  int    `json:"pending_groups"`
	ReviewedGroups int    `json:"reviewed_groups"`
	Runs           int    `json:"runs"`
	FirstDate      string `json:"first_date,omitempty"`
	LastDate       string `json:"last_date,omitempty"`
}

// StatsWithDB computes Stats in a single query.
func StatsWithDB(ctx context.Context, q DBTX) (*Stats, error) {
	var (
		s           Stats
		first, last sql.NullString
	)
	err := q.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM transactions),
			(SELECT COUNT(*) FROM transactions WHERE deleted_at IS NULL),
			(SELECT COUNT(*) FROM transactions WHERE deleted_at IS NOT NULL),
			(SELECT COUNT(*) FROM transactions WHERE deleted_at IS NULL AND category = ''),
			(SELECT COUNT(*) FROM duplicate_review_groups WHERE reviewed = 0),
			(SELECT COUNT(*) FROM duplicate_review_groups WHERE reviewed = 1),
			(SELECT COUNT(*) FROM processing_log),
			(SELECT MIN(date) FROM transactions WHERE deleted_at IS NULL),
			(SELECT MAX(date) FROM transactions WHERE deleted_at IS NULL)`,
	).Scan(&s.Transactions, &s.Live, &s.SoftDeleted, &s.Uncategorized, &s.PendingGroups,
		&s.ReviewedGroups, &s.Runs, &first, &last)
	if err != nil {
		return nil, fmt.Errorf("Stats: %w", err)
	}
	s.FirstDate, s.LastDate = first.String, last.String
	return &s, nil
}

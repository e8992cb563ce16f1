package sqlite

import (
	"context"
	"fmt"
)

// VendorSuggestion is a vendor that keeps showing up on rows no rule or model
// could categorize. It is a candidate for a new vendor mapping.
type VendorSuggestion struct {
	Vendor    string   `json:"vendor"`
	Count     int      `json:"count"`
	AvgAmount float64  `json:"avg_amount"`
	FirstSeen string   `json:"first_seen"`
	LastSeen  string   `json:"last_seen"`
	Samples   []string `json:"samples"`
}

// VendorSuggestionsWithDB groups live rows that are uncategorized, or carry
// unmatchedNote from the fallback, by vendor. Vendors seen fewer than
// minCount times are left out. Most frequent first.
func VendorSuggestionsWithDB(ctx context.Context, q DBTX, unmatchedNote string, minCount, limit int) ([]VendorSuggestion, error) {
	if minCount < 1 {
		minCount = 1
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := q.QueryContext(ctx, `
		SELECT vendor, COUNT(*), AVG(CAST(amount AS REAL)), MIN(date), MAX(date),
			MIN(description), MAX(description)
		FROM transactions
		WHERE deleted_at IS NULL
			AND vendor != ''
			AND (category = '' OR notes = ?)
		GROUP BY vendor
		HAVING COUNT(*) >= ?
		ORDER BY COUNT(*) DESC, vendor
		LIMIT ?`,
		unmatchedNote, minCount, limit)
	if err != nil {
		return nil, fmt.Errorf("VendorSuggestions: query: %w", err)
	}
	defer rows.Close()

	var out []VendorSuggestion
	for rows.Next() {
		var (
			s      VendorSuggestion
			lo, hi string
		)
		if err := rows.Scan(&s.Vendor, &s.Count, &s.AvgAmount, &s.FirstSeen, &s.LastSeen, &lo, &hi); err != nil {
			return nil, fmt.Errorf("VendorSuggestions: scan: %w", err)
		}
		s.Samples = []string{lo}
		if hi != lo {
			s.Samples = append(s.Samples, hi)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("VendorSuggestions: rows: %w", err)
	}
	return out, nil
}

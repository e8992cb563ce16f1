package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/ledger-ingest/internal/domain"
)

// UpsertVendorMappingWithDB stores m keyed by its pattern and returns its id.
func UpsertVendorMappingWithDB(ctx context.Context, q DBTX, m domain.VendorMapping, now time.Time) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO vendor_mappings (pattern, category, is_regex, priority, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(pattern) DO UPDATE SET
			category = excluded.category,
			is_regex = excluded.is_regex,
			priority = excluded.priority
		RETURNING id`,
		m.Pattern, m.Category, m.IsRegex, m.Priority, formatTime(now)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("UpsertVendorMapping: %w", err)
	}
	return id, nil
}

// ListVendorMappingsWithDB returns mappings in evaluation order: highest
// priority first, then oldest.
func ListVendorMappingsWithDB(ctx context.Context, q DBTX) ([]domain.VendorMapping, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, pattern, category, is_regex, priority
		FROM vendor_mappings
		ORDER BY priority DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("ListVendorMappings: query: %w", err)
	}
	defer rows.Close()

	var out []domain.VendorMapping
	for rows.Next() {
		var m domain.VendorMapping
		if err := rows.Scan(&m.ID, &m.Pattern, &m.Category, &m.IsRegex, &m.Priority); err != nil {
			return nil, fmt.Errorf("ListVendorMappings: scan: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteVendorMappingWithDB removes a mapping; false when it did not exist.
func DeleteVendorMappingWithDB(ctx context.Context, q DBTX, id int64) (bool, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM vendor_mappings WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("DeleteVendorMapping: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("DeleteVendorMapping: rows affected: %w", err)
	}
	return n > 0, nil
}

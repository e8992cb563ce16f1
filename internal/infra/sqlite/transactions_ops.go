package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/ledger-ingest/internal/domain"
	"github.com/shopspring/decimal"
)

const transactionColumns = `id, date, description, amount, source, txn_id, reference, time_part,
	account, balance, content_hash, loose_group_key, category, vendor, notes,
	deleted_at, deletion_reason, created_at`

// DeletionReasonDuplicate marks rows soft-deleted by a duplicate review.
const DeletionReasonDuplicate = "duplicate_review"

func scanTransaction(s scanner) (*domain.Transaction, error) {
	var (
		t                       domain.Transaction
		date, amount, createdAt string
		balance, deletedAt      sql.NullString
	)
	err := s.Scan(&t.ID, &date, &t.Description, &amount, &t.Source, &t.TxnID, &t.Reference, &t.TimePart,
		&t.Account, &balance, &t.ContentHash, &t.LooseGroupKey, &t.Category, &t.Vendor, &t.Notes,
		&deletedAt, &t.DeletionReason, &createdAt)
	if err != nil {
		return nil, err
	}

	if t.Date, err = civil.ParseDate(date); err != nil {
		return nil, fmt.Errorf("transaction %d: date: %w", t.ID, err)
	}
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("transaction %d: amount: %w", t.ID, err)
	}
	if balance.Valid {
		b, err := decimal.NewFromString(balance.String)
		if err != nil {
			return nil, fmt.Errorf("transaction %d: balance: %w", t.ID, err)
		}
		t.Balance = decimal.NewNullDecimal(b)
	}
	if t.DeletedAt, err = parseNullTime(deletedAt); err != nil {
		return nil, fmt.Errorf("transaction %d: deleted_at: %w", t.ID, err)
	}
	t.CreatedAt = parseTime(createdAt)
	return &t, nil
}

func collectTransactions(rows *sql.Rows) ([]*domain.Transaction, error) {
	defer rows.Close()
	var out []*domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ExistingHashesFor returns the content hashes of batch already stored,
// soft-deleted rows included.
func ExistingHashesFor(ctx context.Context, q DBTX, batch []*domain.Transaction) (map[string]struct{}, error) {
	hashes := make([]string, 0, len(batch))
	seen := make(map[string]struct{}, len(batch))
	for _, t := range batch {
		if _, ok := seen[t.ContentHash]; !ok {
			seen[t.ContentHash] = struct{}{}
			hashes = append(hashes, t.ContentHash)
		}
	}

	found := make(map[string]struct{})
	for _, c := range chunks(len(hashes), maxParams) {
		part := hashes[c[0]:c[1]]
		args := make([]any, len(part))
		for i, h := range part {
			args[i] = h
		}
		rows, err := q.QueryContext(ctx,
			`SELECT content_hash FROM transactions WHERE content_hash IN (`+placeholders(len(part))+`)`, args...)
		if err != nil {
			return nil, fmt.Errorf("ExistingHashesFor: query: %w", err)
		}
		for rows.Next() {
			var h string
			if err := rows.Scan(&h); err != nil {
				rows.Close()
				return nil, fmt.Errorf("ExistingHashesFor: scan: %w", err)
			}
			found[h] = struct{}{}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("ExistingHashesFor: rows: %w", err)
		}
		rows.Close()
	}
	return found, nil
}

// ExistingTxnRefsFor returns the (txnId, account) pairs of batch already stored.
func ExistingTxnRefsFor(ctx context.Context, q DBTX, batch []*domain.Transaction) (map[domain.TxnRef]struct{}, error) {
	wanted := make(map[domain.TxnRef]struct{})
	var ids []string
	seenID := make(map[string]struct{})
	for _, t := range batch {
		if t.TxnID == "" {
			continue
		}
		wanted[t.Ref()] = struct{}{}
		if _, ok := seenID[t.TxnID]; !ok {
			seenID[t.TxnID] = struct{}{}
			ids = append(ids, t.TxnID)
		}
	}

	found := make(map[domain.TxnRef]struct{})
	for _, c := range chunks(len(ids), maxParams) {
		part := ids[c[0]:c[1]]
		args := make([]any, len(part))
		for i, id := range part {
			args[i] = id
		}
		rows, err := q.QueryContext(ctx,
			`SELECT txn_id, account FROM transactions WHERE txn_id IN (`+placeholders(len(part))+`)`, args...)
		if err != nil {
			return nil, fmt.Errorf("ExistingTxnRefsFor: query: %w", err)
		}
		for rows.Next() {
			var ref domain.TxnRef
			if err := rows.Scan(&ref.TxnID, &ref.Account); err != nil {
				rows.Close()
				return nil, fmt.Errorf("ExistingTxnRefsFor: scan: %w", err)
			}
			if _, ok := wanted[ref]; ok {
				found[ref] = struct{}{}
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("ExistingTxnRefsFor: rows: %w", err)
		}
		rows.Close()
	}
	return found, nil
}

// insertTransaction inserts t unless its content hash is already stored.
// It returns the new id and false when the row was absorbed by the unique index.
func insertTransaction(ctx context.Context, q DBTX, t *domain.Transaction, now time.Time) (int64, bool, error) {
	var balance sql.NullString
	if t.Balance.Valid {
		balance = sql.NullString{String: t.Balance.Decimal.StringFixed(2), Valid: true}
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO transactions (
			date, description, amount, source, txn_id, reference, time_part, account,
			balance, content_hash, loose_group_key, category, vendor, notes, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_hash) DO NOTHING`,
		formatDate(t.Date), t.Description, t.Amount.StringFixed(2), t.Source, t.TxnID, t.Reference,
		t.TimePart, t.Account, balance, t.ContentHash, t.LooseGroupKey, t.Category, t.Vendor, t.Notes,
		formatTime(now),
	)
	if err != nil {
		return 0, false, fmt.Errorf("insertTransaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("insertTransaction: rows affected: %w", err)
	}
	if n == 0 {
		return 0, false, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("insertTransaction: last insert id: %w", err)
	}
	return id, true, nil
}

// HashGroup is a review group proposed at ingestion, before its members have
// store ids.
type HashGroup struct {
	Score  float64
	Reason string
	Hashes []string
}

// BatchResult reports what InsertBatch wrote.
type BatchResult struct {
	Inserted  int
	Conflicts int              // rows absorbed by the unique content hash
	IDs       map[string]int64 // content hash to new id

	GroupsStaged  int
	GroupsSkipped int
}

// InsertBatchWithDB inserts txns and stages groups in a single transaction:
// either every row and group is written or none is.
func InsertBatchWithDB(ctx context.Context, db *sql.DB, txns []*domain.Transaction, groups []HashGroup, now time.Time, newGroupID func() string) (*BatchResult, error) {
	res := &BatchResult{IDs: make(map[string]int64, len(txns))}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("InsertBatch: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, t := range txns {
		id, inserted, err := insertTransaction(ctx, tx, t, now)
		if err != nil {
			return nil, fmt.Errorf("InsertBatch: %w", err)
		}
		if !inserted {
			res.Conflicts++
			continue
		}
		res.Inserted++
		res.IDs[t.ContentHash] = id
	}

	for _, g := range groups {
		members := make([]int64, 0, len(g.Hashes))
		for _, h := range g.Hashes {
			if id, ok := res.IDs[h]; ok {
				members = append(members, id)
			}
		}
		if len(members) < 2 {
			res.GroupsSkipped++
			continue
		}
		staged, err := stageGroup(ctx, tx, &domain.ReviewGroup{
			GroupID:         newGroupID(),
			SimilarityScore: g.Score,
			Reason:          g.Reason,
			Origin:          domain.OriginIngest,
			Members:         members,
			CreatedAt:       now,
		})
		if err != nil {
			return nil, fmt.Errorf("InsertBatch: %w", err)
		}
		if staged {
			res.GroupsStaged++
		} else {
			res.GroupsSkipped++
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("InsertBatch: commit: %w", err)
	}
	return res, nil
}

// ListTransactionsWithDB returns stored rows matching f, ordered by date then
// id unless f.SortBy says otherwise.
func ListTransactionsWithDB(ctx context.Context, q DBTX, f domain.TransactionFilter) ([]*domain.Transaction, error) {
	var (
		where []string
		args  []any
	)
	if !f.IncludeDeleted {
		where = append(where, "deleted_at IS NULL")
	}
	if !f.Start.IsZero() {
		where = append(where, "date >= ?")
		args = append(args, formatDate(f.Start))
	}
	if !f.End.IsZero() {
		where = append(where, "date <= ?")
		args = append(args, formatDate(f.End))
	}
	if f.UncategorizedOnly {
		where = append(where, "category = ''")
	}
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, f.Category)
	}
	if f.Vendor != "" {
		where = append(where, "instr(lower(vendor), lower(?)) > 0")
		args = append(args, f.Vendor)
	}
	if f.Search != "" {
		where = append(where, "instr(lower(description), lower(?)) > 0")
		args = append(args, f.Search)
	}
	if f.MinAmount.Valid {
		where = append(where, "CAST(amount AS REAL) >= ?")
		args = append(args, f.MinAmount.Decimal.InexactFloat64())
	}
	if f.MaxAmount.Valid {
		where = append(where, "CAST(amount AS REAL) <= ?")
		args = append(args, f.MaxAmount.Decimal.InexactFloat64())
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY ` + orderBy(f)
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ListTransactions: query: %w", err)
	}
	txns, err := collectTransactions(rows)
	if err != nil {
		return nil, fmt.Errorf("ListTransactions: %w", err)
	}
	return txns, nil
}

// orderBy maps the filter's sort key to an ORDER BY clause. Ties always fall
// back to date then id so paging is stable.
func orderBy(f domain.TransactionFilter) string {
	dir := "ASC"
	if f.Desc {
		dir = "DESC"
	}
	switch f.SortBy {
	case domain.SortByAmount:
		return "CAST(amount AS REAL) " + dir + ", date, id"
	case domain.SortByCategory:
		return "category " + dir + ", date, id"
	default:
		return "date " + dir + ", id " + dir
	}
}

// GetTransactionsWithDB loads rows by id, soft-deleted included, ordered by id.
func GetTransactionsWithDB(ctx context.Context, q DBTX, ids []int64) ([]*domain.Transaction, error) {
	var out []*domain.Transaction
	for _, c := range chunks(len(ids), maxParams) {
		part := ids[c[0]:c[1]]
		args := make([]any, len(part))
		for i, id := range part {
			args[i] = id
		}
		rows, err := q.QueryContext(ctx,
			`SELECT `+transactionColumns+` FROM transactions WHERE id IN (`+placeholders(len(part))+`) ORDER BY id`, args...)
		if err != nil {
			return nil, fmt.Errorf("GetTransactions: query: %w", err)
		}
		txns, err := collectTransactions(rows)
		if err != nil {
			return nil, fmt.Errorf("GetTransactions: %w", err)
		}
		out = append(out, txns...)
	}
	return out, nil
}

// GetTransactionWithDB loads a single row by id.
func GetTransactionWithDB(ctx context.Context, q DBTX, id int64) (*domain.Transaction, error) {
	t, err := scanTransaction(q.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("GetTransaction: %d: %w", id, domain.ErrTransactionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("GetTransaction: %w", err)
	}
	return t, nil
}

// softDelete marks a live row deleted and appends note to its notes. It
// reports false when the row is missing or already deleted.
func softDelete(ctx context.Context, q DBTX, id int64, reason, note string, at time.Time) (bool, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE transactions
		SET deleted_at = ?,
			deletion_reason = ?,
			notes = CASE WHEN ? = '' THEN notes WHEN notes = '' THEN ? ELSE notes || '; ' || ? END
		WHERE id = ? AND deleted_at IS NULL`,
		formatTime(at), reason, note, note, note, id)
	if err != nil {
		return false, fmt.Errorf("softDelete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("softDelete: rows affected: %w", err)
	}
	return n == 1, nil
}

// SoftDeleteWithDB marks one row deleted with reason and records the deletion
// in the processing log. Deleting an already deleted row is a no-op.
func SoftDeleteWithDB(ctx context.Context, db *sql.DB, id int64, reason string, now time.Time) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("SoftDelete: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := GetTransactionWithDB(ctx, tx, id); err != nil {
		return fmt.Errorf("SoftDelete: %w", err)
	}
	deleted, err := softDelete(ctx, tx, id, reason, "", now)
	if err != nil {
		return fmt.Errorf("SoftDelete: %w", err)
	}

	counters := domain.RunCounters{Processed: 1}
	if deleted {
		counters.Updated = 1
	} else {
		counters.Skipped = 1
	}
	details := map[string]interface{}{"transaction_id": id, "reason": reason, "permanent": false}
	if _, err := appendRun(ctx, tx, domain.OpTransactionDeletion, counters, domain.RunCompleted, details, now); err != nil {
		return fmt.Errorf("SoftDelete: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("SoftDelete: commit: %w", err)
	}
	return nil
}

// PermanentDeleteWithDB removes a row irreversibly, together with its review
// memberships, and records the removal in the processing log.
func PermanentDeleteWithDB(ctx context.Context, db *sql.DB, id int64, now time.Time) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("PermanentDelete: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	t, err := GetTransactionWithDB(ctx, tx, id)
	if err != nil {
		return fmt.Errorf("PermanentDelete: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("PermanentDelete: delete: %w", err)
	}

	details := map[string]interface{}{"transaction_id": id, "content_hash": t.ContentHash, "permanent": true}
	if _, err := appendRun(ctx, tx, domain.OpTransactionDeletion, domain.RunCounters{Processed: 1, Updated: 1}, domain.RunCompleted, details, now); err != nil {
		return fmt.Errorf("PermanentDelete: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("PermanentDelete: commit: %w", err)
	}
	return nil
}

// ClearTransactionsWithDB deletes every transaction and review group. Audit
// and processing log history are kept.
func ClearTransactionsWithDB(ctx context.Context, db *sql.DB, now time.Time) (int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("ClearTransactions: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM duplicate_review_groups`); err != nil {
		return 0, fmt.Errorf("ClearTransactions: groups: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM transactions`)
	if err != nil {
		return 0, fmt.Errorf("ClearTransactions: transactions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("ClearTransactions: rows affected: %w", err)
	}

	if _, err := appendRun(ctx, tx, domain.OpClearTransactions, domain.RunCounters{Processed: int(n), Updated: int(n)}, domain.RunCompleted, nil, now); err != nil {
		return 0, fmt.Errorf("ClearTransactions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("ClearTransactions: commit: %w", err)
	}
	return int(n), nil
}

// UpdateCategoriesWithDB writes categorization results in one transaction and
// returns the number of rows changed.
func UpdateCategoriesWithDB(ctx context.Context, db *sql.DB, updates []domain.CategoryUpdate) (int, error) {
	if len(updates) == 0 {
		return 0, nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("UpdateCategories: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `UPDATE transactions SET category = ?, vendor = ?, notes = ? WHERE id = ?`)
	if err != nil {
		return 0, fmt.Errorf("UpdateCategories: prepare: %w", err)
	}
	defer stmt.Close()

	updated := 0
	for _, u := range updates {
		res, err := stmt.ExecContext(ctx, u.Category, u.Vendor, u.Notes, u.ID)
		if err != nil {
			return 0, fmt.Errorf("UpdateCategories: id %d: %w", u.ID, err)
		}
		n, _ := res.RowsAffected()
		updated += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("UpdateCategories: commit: %w", err)
	}
	return updated, nil
}

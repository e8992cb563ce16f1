package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/ledger-ingest/internal/domain"
	"github.com/google/uuid"
)

const (
	timeLayout = time.RFC3339Nano

	// maxParams keeps IN lists well under SQLite's bound-parameter limit.
	maxParams = 500
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repository is the SQLite-backed store. It holds one shared connection pool.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepository opens the database at path and applies pending migrations.
func NewRepository(ctx context.Context, path string) (*Repository, error) {
	db, err := Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("NewRepository: %w", err)
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("NewRepository: %w", err)
	}
	return NewRepositoryWithDB(db), nil
}

// NewRepositoryWithDB wraps an already migrated database.
func NewRepositoryWithDB(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// SetClock overrides the time source, for tests.
func (r *Repository) SetClock(now func() time.Time) {
	r.now = now
}

// DB exposes the underlying pool.
func (r *Repository) DB() *sql.DB {
	return r.db
}

// Close closes the connection pool.
func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func formatDate(d civil.Date) string {
	return d.String()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// chunks splits n items into [lo, hi) ranges of at most size.
func chunks(n, size int) [][2]int {
	var out [][2]int
	for lo := 0; lo < n; lo += size {
		hi := lo + size
		if hi > n {
			hi = n
		}
		out = append(out, [2]int{lo, hi})
	}
	return out
}

// scanner is implemented by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// ExistingHashesFor delegates to ExistingHashesFor with the shared pool.
func (r *Repository) ExistingHashesFor(ctx context.Context, batch []*domain.Transaction) (map[string]struct{}, error) {
	return ExistingHashesFor(ctx, r.db, batch)
}

// ExistingTxnRefsFor delegates to ExistingTxnRefsFor with the shared pool.
func (r *Repository) ExistingTxnRefsFor(ctx context.Context, batch []*domain.Transaction) (map[domain.TxnRef]struct{}, error) {
	return ExistingTxnRefsFor(ctx, r.db, batch)
}

// InsertBatch writes txns and stages groups atomically. Group ids are fresh UUIDs.
func (r *Repository) InsertBatch(ctx context.Context, txns []*domain.Transaction, groups []HashGroup) (*BatchResult, error) {
	return InsertBatchWithDB(ctx, r.db, txns, groups, r.now(), uuid.NewString)
}

// ListTransactions delegates to ListTransactionsWithDB.
func (r *Repository) ListTransactions(ctx context.Context, f domain.TransactionFilter) ([]*domain.Transaction, error) {
	return ListTransactionsWithDB(ctx, r.db, f)
}

// GetTransactions delegates to GetTransactionsWithDB.
func (r *Repository) GetTransactions(ctx context.Context, ids []int64) ([]*domain.Transaction, error) {
	return GetTransactionsWithDB(ctx, r.db, ids)
}

// GetTransaction delegates to GetTransactionWithDB.
func (r *Repository) GetTransaction(ctx context.Context, id int64) (*domain.Transaction, error) {
	return GetTransactionWithDB(ctx, r.db, id)
}

// SoftDelete marks a row deleted with reason.
func (r *Repository) SoftDelete(ctx context.Context, id int64, reason string) error {
	return SoftDeleteWithDB(ctx, r.db, id, reason, r.now())
}

// PermanentDelete irreversibly removes a row.
func (r *Repository) PermanentDelete(ctx context.Context, id int64) error {
	return PermanentDeleteWithDB(ctx, r.db, id, r.now())
}

// ClearTransactions deletes every transaction and review group.
func (r *Repository) ClearTransactions(ctx context.Context) (int, error) {
	return ClearTransactionsWithDB(ctx, r.db, r.now())
}

// UpdateCategories delegates to UpdateCategoriesWithDB.
func (r *Repository) UpdateCategories(ctx context.Context, updates []domain.CategoryUpdate) (int, error) {
	return UpdateCategoriesWithDB(ctx, r.db, updates)
}

// StartRun opens a pending processing log entry.
func (r *Repository) StartRun(ctx context.Context, meta domain.RunMeta) (int64, error) {
	return StartRunWithDB(ctx, r.db, meta, r.now())
}

// CompleteRun sets the terminal status and counters of a run.
func (r *Repository) CompleteRun(ctx context.Context, id int64, c domain.RunCounters, status domain.RunStatus, details map[string]interface{}) error {
	return CompleteRunWithDB(ctx, r.db, id, c, status, details, r.now())
}

// ListRuns delegates to ListRunsWithDB.
func (r *Repository) ListRuns(ctx context.Context, limit int) ([]*domain.RunLog, error) {
	return ListRunsWithDB(ctx, r.db, limit)
}

// StageGroup stages g unless a member is already in an open group.
func (r *Repository) StageGroup(ctx context.Context, g *domain.ReviewGroup) (bool, error) {
	return StageGroupWithDB(ctx, r.db, g)
}

// GetGroup delegates to GetGroupWithDB.
func (r *Repository) GetGroup(ctx context.Context, groupID string) (*domain.ReviewGroup, error) {
	return GetGroupWithDB(ctx, r.db, groupID)
}

// PendingGroups delegates to PendingGroupsWithDB.
func (r *Repository) PendingGroups(ctx context.Context) ([]domain.PendingGroup, error) {
	return PendingGroupsWithDB(ctx, r.db)
}

// OpenMemberIDs delegates to OpenMemberIDsWithDB.
func (r *Repository) OpenMemberIDs(ctx context.Context) (map[int64]string, error) {
	return OpenMemberIDsWithDB(ctx, r.db)
}

// ResolvedMemberSets delegates to ResolvedMemberSetsWithDB.
func (r *Repository) ResolvedMemberSets(ctx context.Context) ([][]int64, error) {
	return ResolvedMemberSetsWithDB(ctx, r.db)
}

// ApplyReview resolves a group atomically with its audit record.
func (r *Repository) ApplyReview(ctx context.Context, groupID string, d domain.Decision) (*domain.ReviewAudit, error) {
	return ApplyReviewWithDB(ctx, r.db, groupID, d, r.now())
}

// ListAudit delegates to ListAuditWithDB.
func (r *Repository) ListAudit(ctx context.Context, groupID string) ([]domain.ReviewAudit, error) {
	return ListAuditWithDB(ctx, r.db, groupID)
}

// UpsertVendorMapping delegates to UpsertVendorMappingWithDB.
func (r *Repository) UpsertVendorMapping(ctx context.Context, m domain.VendorMapping) (int64, error) {
	return UpsertVendorMappingWithDB(ctx, r.db, m, r.now())
}

// ListVendorMappings delegates to ListVendorMappingsWithDB.
func (r *Repository) ListVendorMappings(ctx context.Context) ([]domain.VendorMapping, error) {
	return ListVendorMappingsWithDB(ctx, r.db)
}

// DeleteVendorMapping delegates to DeleteVendorMappingWithDB.
func (r *Repository) DeleteVendorMapping(ctx context.Context, id int64) (bool, error) {
	return DeleteVendorMappingWithDB(ctx, r.db, id)
}

// VendorSuggestions delegates to VendorSuggestionsWithDB.
func (r *Repository) VendorSuggestions(ctx context.Context, unmatchedNote string, minCount, limit int) ([]VendorSuggestion, error) {
	return VendorSuggestionsWithDB(ctx, r.db, unmatchedNote, minCount, limit)
}

// Stats delegates to StatsWithDB.
func (r *Repository) Stats(ctx context.Context) (*Stats, error) {
	return StatsWithDB(ctx, r.db)
}

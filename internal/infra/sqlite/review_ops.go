package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/ledger-ingest/internal/domain"
)

// stageGroup inserts g as an unreviewed group. When any member already sits in
// an unreviewed group nothing is written and false is returned.
func stageGroup(ctx context.Context, q DBTX, g *domain.ReviewGroup) (bool, error) {
	args := make([]any, len(g.Members))
	for i, id := range g.Members {
		args[i] = id
	}

	var open int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM duplicate_review_members
		WHERE open = 1 AND transaction_id IN (`+placeholders(len(args))+`)`, args...).Scan(&open)
	if err != nil {
		return false, fmt.Errorf("stageGroup: open members: %w", err)
	}
	if open > 0 {
		return false, nil
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO duplicate_review_groups (group_id, similarity_score, reason, origin, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		g.GroupID, g.SimilarityScore, g.Reason, string(g.Origin), formatTime(g.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("stageGroup: insert group: %w", err)
	}
	for _, id := range g.Members {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO duplicate_review_members (group_id, transaction_id, open) VALUES (?, ?, 1)`,
			g.GroupID, id); err != nil {
			return false, fmt.Errorf("stageGroup: insert member %d: %w", id, err)
		}
	}
	return true, nil
}

// StageGroupWithDB stages one group in its own transaction.
func StageGroupWithDB(ctx context.Context, db *sql.DB, g *domain.ReviewGroup) (bool, error) {
	if len(g.Members) < 2 {
		return false, fmt.Errorf("StageGroup: group needs at least two members, got %d", len(g.Members))
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("StageGroup: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	staged, err := stageGroup(ctx, tx, g)
	if err != nil {
		return false, fmt.Errorf("StageGroup: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("StageGroup: commit: %w", err)
	}
	return staged, nil
}

const groupColumns = `group_id, similarity_score, reason, origin, reviewed, action_taken,
	reviewed_by, reviewed_at, notes, created_at`

func scanGroup(s scanner) (*domain.ReviewGroup, error) {
	var (
		g          domain.ReviewGroup
		reviewedAt sql.NullString
		createdAt  string
	)
	if err := s.Scan(&g.GroupID, &g.SimilarityScore, &g.Reason, &g.Origin, &g.Reviewed, &g.Action,
		&g.ReviewedBy, &reviewedAt, &g.Notes, &createdAt); err != nil {
		return nil, err
	}
	var err error
	if g.ReviewedAt, err = parseNullTime(reviewedAt); err != nil {
		return nil, fmt.Errorf("group %s: reviewed_at: %w", g.GroupID, err)
	}
	g.CreatedAt = parseTime(createdAt)
	return &g, nil
}

func groupMembers(ctx context.Context, q DBTX, groupID string) ([]int64, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT transaction_id FROM duplicate_review_members WHERE group_id = ? ORDER BY transaction_id`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetGroupWithDB loads a group and its member ids.
func GetGroupWithDB(ctx context.Context, q DBTX, groupID string) (*domain.ReviewGroup, error) {
	g, err := scanGroup(q.QueryRowContext(ctx,
		`SELECT `+groupColumns+` FROM duplicate_review_groups WHERE group_id = ?`, groupID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("GetGroup: %s: %w", groupID, domain.ErrGroupNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("GetGroup: %w", err)
	}
	if g.Members, err = groupMembers(ctx, q, groupID); err != nil {
		return nil, fmt.Errorf("GetGroup: members: %w", err)
	}
	return g, nil
}

// ListGroupsWithDB returns groups by review state, oldest first.
func ListGroupsWithDB(ctx context.Context, q DBTX, reviewed bool) ([]*domain.ReviewGroup, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+groupColumns+` FROM duplicate_review_groups
		WHERE reviewed = ?
		ORDER BY created_at, group_id`, reviewed)
	if err != nil {
		return nil, fmt.Errorf("ListGroups: query: %w", err)
	}

	var groups []*domain.ReviewGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("ListGroups: scan: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("ListGroups: rows: %w", err)
	}
	rows.Close()

	for _, g := range groups {
		if g.Members, err = groupMembers(ctx, q, g.GroupID); err != nil {
			return nil, fmt.Errorf("ListGroups: members of %s: %w", g.GroupID, err)
		}
	}
	return groups, nil
}

// PendingGroupsWithDB returns unreviewed groups with their member rows.
func PendingGroupsWithDB(ctx context.Context, q DBTX) ([]domain.PendingGroup, error) {
	groups, err := ListGroupsWithDB(ctx, q, false)
	if err != nil {
		return nil, fmt.Errorf("PendingGroups: %w", err)
	}
	out := make([]domain.PendingGroup, 0, len(groups))
	for _, g := range groups {
		txns, err := GetTransactionsWithDB(ctx, q, g.Members)
		if err != nil {
			return nil, fmt.Errorf("PendingGroups: %w", err)
		}
		out = append(out, domain.PendingGroup{Group: *g, Transactions: txns})
	}
	return out, nil
}

// OpenMemberIDsWithDB maps every transaction in an unreviewed group to that group.
func OpenMemberIDsWithDB(ctx context.Context, q DBTX) (map[int64]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT transaction_id, group_id FROM duplicate_review_members WHERE open = 1`)
	if err != nil {
		return nil, fmt.Errorf("OpenMemberIDs: query: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]string)
	for rows.Next() {
		var (
			id    int64
			group string
		)
		if err := rows.Scan(&id, &group); err != nil {
			return nil, fmt.Errorf("OpenMemberIDs: scan: %w", err)
		}
		out[id] = group
	}
	return out, rows.Err()
}

// ResolvedMemberSetsWithDB returns the member ids of every reviewed group.
func ResolvedMemberSetsWithDB(ctx context.Context, q DBTX) ([][]int64, error) {
	groups, err := ListGroupsWithDB(ctx, q, true)
	if err != nil {
		return nil, fmt.Errorf("ResolvedMemberSets: %w", err)
	}
	out := make([][]int64, 0, len(groups))
	for _, g := range groups {
		out = append(out, g.Members)
	}
	return out, nil
}

// ApplyReviewWithDB moves an unreviewed group to reviewed, applies the effect
// of d and writes the audit record and a processing log entry, all in one
// transaction. The "still unreviewed" condition on the update serializes
// competing reviewers.
func ApplyReviewWithDB(ctx context.Context, db *sql.DB, groupID string, d domain.Decision, now time.Time) (*domain.ReviewAudit, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("ApplyReview: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	g, err := GetGroupWithDB(ctx, tx, groupID)
	if err != nil {
		return nil, fmt.Errorf("ApplyReview: %w", err)
	}
	if g.Reviewed {
		return nil, fmt.Errorf("ApplyReview: %s: %w", groupID, domain.ErrAlreadyReviewed)
	}
	if !d.Action.Valid() {
		return nil, fmt.Errorf("ApplyReview: %q: %w", d.Action, domain.ErrInvalidAction)
	}
	if d.Action == domain.ActionDeleteDuplicate {
		if d.KeepID == 0 {
			return nil, fmt.Errorf("ApplyReview: %w", domain.ErrKeepIDRequired)
		}
		if !g.HasMember(d.KeepID) {
			return nil, fmt.Errorf("ApplyReview: %d: %w", d.KeepID, domain.ErrNotMember)
		}
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE duplicate_review_groups
		SET reviewed = 1, action_taken = ?, reviewed_by = ?, reviewed_at = ?, notes = ?
		WHERE group_id = ? AND reviewed = 0`,
		string(d.Action), d.Reviewer, formatTime(now), d.Notes, groupID)
	if err != nil {
		return nil, fmt.Errorf("ApplyReview: update group: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("ApplyReview: rows affected: %w", err)
	} else if n == 0 {
		return nil, fmt.Errorf("ApplyReview: %s: %w", groupID, domain.ErrAlreadyReviewed)
	}

	affected := []int64{}
	if d.Action == domain.ActionDeleteDuplicate {
		for _, id := range g.Members {
			if id == d.KeepID {
				continue
			}
			note := fmt.Sprintf("Duplicate of transaction %d", d.KeepID)
			deleted, err := softDelete(ctx, tx, id, DeletionReasonDuplicate, note, now)
			if err != nil {
				return nil, fmt.Errorf("ApplyReview: %w", err)
			}
			if deleted {
				affected = append(affected, id)
			}
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE duplicate_review_members SET open = 0 WHERE group_id = ?`, groupID); err != nil {
		return nil, fmt.Errorf("ApplyReview: close members: %w", err)
	}

	audit := &domain.ReviewAudit{
		GroupID:     groupID,
		Action:      d.Action,
		KeepID:      d.KeepID,
		Reviewer:    d.Reviewer,
		Notes:       d.Notes,
		AffectedIDs: affected,
		At:          now,
	}
	if audit.ID, err = insertAudit(ctx, tx, audit); err != nil {
		return nil, fmt.Errorf("ApplyReview: %w", err)
	}

	details := map[string]interface{}{
		"group_id": groupID,
		"action":   string(d.Action),
		"keep_id":  d.KeepID,
		"reviewer": d.Reviewer,
	}
	counters := domain.RunCounters{Processed: len(g.Members), Updated: len(affected)}
	if _, err := appendRun(ctx, tx, domain.OpDuplicateReview, counters, domain.RunCompleted, details, now); err != nil {
		return nil, fmt.Errorf("ApplyReview: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("ApplyReview: commit: %w", err)
	}
	return audit, nil
}

func insertAudit(ctx context.Context, q DBTX, a *domain.ReviewAudit) (int64, error) {
	ids, err := json.Marshal(a.AffectedIDs)
	if err != nil {
		return 0, fmt.Errorf("insertAudit: marshal ids: %w", err)
	}
	var keep sql.NullInt64
	if a.KeepID != 0 {
		keep = sql.NullInt64{Int64: a.KeepID, Valid: true}
	}
	res, err := q.ExecContext(ctx, `
		INSERT INTO review_audit (group_id, action, keep_id, reviewer, notes, affected_ids, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.GroupID, string(a.Action), keep, a.Reviewer, a.Notes, string(ids), formatTime(a.At))
	if err != nil {
		return 0, fmt.Errorf("insertAudit: %w", err)
	}
	return res.LastInsertId()
}

// ListAuditWithDB returns the audit trail of a group, oldest first.
func ListAuditWithDB(ctx context.Context, q DBTX, groupID string) ([]domain.ReviewAudit, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, group_id, action, keep_id, reviewer, notes, affected_ids, at
		FROM review_audit WHERE group_id = ? ORDER BY id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("ListAudit: query: %w", err)
	}
	defer rows.Close()

	var out []domain.ReviewAudit
	for rows.Next() {
		var (
			a    domain.ReviewAudit
			keep sql.NullInt64
			ids  string
			at   string
		)
		if err := rows.Scan(&a.ID, &a.GroupID, &a.Action, &keep, &a.Reviewer, &a.Notes, &ids, &at); err != nil {
			return nil, fmt.Errorf("ListAudit: scan: %w", err)
		}
		if err := json.Unmarshal([]byte(ids), &a.AffectedIDs); err != nil {
			return nil, fmt.Errorf("ListAudit: affected ids: %w", err)
		}
		a.KeepID = keep.Int64
		a.At = parseTime(at)
		out = append(out, a)
	}
	return out, rows.Err()
}

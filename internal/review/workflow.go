// Package review owns the lifecycle of duplicate review groups: staging,
// on-demand scans over stored rows, and audited resolution.
package review

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/ledger-ingest/internal/dedup"
	"github.com/dvloznov/ledger-ingest/internal/domain"
	"github.com/dvloznov/ledger-ingest/internal/logger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AutoReviewer is recorded as the reviewer of auto-finalized groups.
const AutoReviewer = "auto"

// Store is the persistence the workflow needs.
type Store interface {
	StageGroup(ctx context.Context, g *domain.ReviewGroup) (bool, error)
	GetGroup(ctx context.Context, groupID string) (*domain.ReviewGroup, error)
	PendingGroups(ctx context.Context) ([]domain.PendingGroup, error)
	ApplyReview(ctx context.Context, groupID string, d domain.Decision) (*domain.ReviewAudit, error)

	ListTransactions(ctx context.Context, f domain.TransactionFilter) ([]*domain.Transaction, error)
	OpenMemberIDs(ctx context.Context) (map[int64]string, error)
	ResolvedMemberSets(ctx context.Context) ([][]int64, error)

	StartRun(ctx context.Context, meta domain.RunMeta) (int64, error)
	CompleteRun(ctx context.Context, id int64, c domain.RunCounters, status domain.RunStatus, details map[string]interface{}) error
}

// Options configures a Workflow.
type Options struct {
	Tolerance             decimal.Decimal
	WindowDays            int
	AutoFinalizeThreshold float64
}

// Workflow moves groups through Unstaged -> Staged -> Reviewed.
type Workflow struct {
	store     Store
	tolerance decimal.Decimal
	window    int
	threshold float64

	newID func() string
	now   func() time.Time
}

// NewWorkflow creates a Workflow over store.
func NewWorkflow(store Store, opts Options) *Workflow {
	tol := opts.Tolerance
	if tol.IsZero() {
		tol = dedup.DefaultTolerance
	}
	threshold := opts.AutoFinalizeThreshold
	if threshold <= 0 {
		threshold = 0.9
	}
	return &Workflow{
		store:     store,
		tolerance: tol,
		window:    opts.WindowDays,
		threshold: threshold,
		newID:     uuid.NewString,
		now:       time.Now,
	}
}

// StageResult reports the outcome of Stage.
type StageResult struct {
	GroupID string

	// Skipped is true when a member already belongs to an unreviewed group;
	// nothing was written in that case.
	Skipped bool
}

// Stage creates an unreviewed group over members. Staging a row that is
// already in an open group is a no-op for the whole proposed group.
func (w *Workflow) Stage(ctx context.Context, members []int64, score float64, reason string, origin domain.GroupOrigin) (StageResult, error) {
	log := logger.FromContext(ctx)

	g := &domain.ReviewGroup{
		GroupID:         w.newID(),
		SimilarityScore: score,
		Reason:          reason,
		Origin:          origin,
		Members:         members,
		CreatedAt:       w.now(),
	}
	staged, err := w.store.StageGroup(ctx, g)
	if err != nil {
		return StageResult{}, fmt.Errorf("Stage: %w", err)
	}
	if !staged {
		log.Debug().Ints64("members", members).Msg("Members already in an open group, not staging")
		return StageResult{Skipped: true}, nil
	}

	log.Info().
		Str("group_id", g.GroupID).
		Float64("score", score).
		Str("reason", reason).
		Int("members", len(members)).
		Msg("Staged duplicate review group")
	return StageResult{GroupID: g.GroupID}, nil
}

// Review resolves a staged group. Invalid decisions are rejected before any
// write; the group update, its effect and the audit record commit together.
func (w *Workflow) Review(ctx context.Context, groupID string, d domain.Decision) (*domain.ReviewAudit, error) {
	if !d.Action.Valid() {
		return nil, fmt.Errorf("Review: %q: %w", d.Action, domain.ErrInvalidAction)
	}
	if d.Action == domain.ActionDeleteDuplicate && d.KeepID == 0 {
		return nil, fmt.Errorf("Review: %w", domain.ErrKeepIDRequired)
	}
	if d.Reviewer == "" {
		d.Reviewer = "user"
	}

	audit, err := w.store.ApplyReview(ctx, groupID, d)
	if err != nil {
		return nil, fmt.Errorf("Review: %w", err)
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("group_id", groupID).
		Str("action", string(d.Action)).
		Str("reviewer", d.Reviewer).
		Ints64("soft_deleted", audit.AffectedIDs).
		Msg("Reviewed duplicate group")
	return audit, nil
}

// Queue returns every unreviewed group with its member rows.
func (w *Workflow) Queue(ctx context.Context) ([]domain.PendingGroup, error) {
	groups, err := w.store.PendingGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("Queue: %w", err)
	}
	return groups, nil
}

// Group returns one group by id.
func (w *Workflow) Group(ctx context.Context, groupID string) (*domain.ReviewGroup, error) {
	g, err := w.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("Group: %w", err)
	}
	return g, nil
}

package domain

import "time"

// Action is the decision recorded when a duplicate review group is resolved.
type Action string

const (
	ActionKeepBoth        Action = "keep_both"
	ActionDeleteDuplicate Action = "delete_duplicate"
	ActionMerge           Action = "merge"
	ActionIgnore          Action = "ignore"
)

// Valid reports whether a is one of the known review actions.
func (a Action) Valid() bool {
	switch a {
	case ActionKeepBoth, ActionDeleteDuplicate, ActionMerge, ActionIgnore:
		return true
	}
	return false
}

// GroupOrigin records which path created a review group.
type GroupOrigin string

const (
	OriginIngest GroupOrigin = "ingest"
	OriginScan   GroupOrigin = "scan"
)

// ReviewGroup is a set of transactions that may describe the same event.
type ReviewGroup struct {
	GroupID         string
	SimilarityScore float64
	Reason          string
	Origin          GroupOrigin
	Members         []int64

	Reviewed   bool
	Action     Action
	ReviewedBy string
	ReviewedAt *time.Time
	Notes      string
	CreatedAt  time.Time
}

// HasMember reports whether id belongs to the group.
func (g *ReviewGroup) HasMember(id int64) bool {
	for _, m := range g.Members {
		if m == id {
			return true
		}
	}
	return false
}

// ReviewAudit is the append-only record written for every review transition.
type ReviewAudit struct {
	ID          int64
	GroupID     string
	Action      Action
	KeepID      int64
	Reviewer    string
	Notes       string
	AffectedIDs []int64
	At          time.Time
}

// PendingGroup pairs an open group with its member rows for display.
type PendingGroup struct {
	Group        ReviewGroup
	Transactions []*Transaction
}

// Decision is a reviewer's resolution of one group.
type Decision struct {
	Action   Action
	KeepID   int64 // required for delete_duplicate
	Notes    string
	Reviewer string
}

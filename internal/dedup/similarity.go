package dedup

import (
	"fmt"
	"sort"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/ledger-ingest/internal/domain"
	"github.com/dvloznov/ledger-ingest/internal/normalize"
	"github.com/shopspring/decimal"
)

// DefaultTolerance is the largest amount difference still treated as equal.
var DefaultTolerance = decimal.RequireFromString("0.01")

// MaxRuleDays is the widest date gap any date-bounded rule accepts.
const MaxRuleDays = 3

// Match is the strongest similarity rule that fired for a pair.
type Match struct {
	Score  float64
	Reason string
}

// Score applies the similarity rules to a and b in priority order and returns
// the first that fires.
func Score(a, b *domain.Transaction, tolerance decimal.Decimal) (Match, bool) {
	days := normalize.DaysApart(a.Date, b.Date)
	amountClose := a.Amount.Sub(b.Amount).Abs().LessThanOrEqual(tolerance)

	if a.TxnID != "" && a.TxnID == b.TxnID && a.Account == b.Account {
		return Match{Score: 1.0, Reason: "Same TxnId and Account"}, true
	}

	if a.Reference != "" && a.Reference == b.Reference && days <= 1 && amountClose {
		return Match{Score: 0.95, Reason: "Same Reference, Date, and Amount"}, true
	}

	if amountClose && days <= 3 && strings.EqualFold(a.Description, b.Description) {
		score := 0.75
		if days == 0 {
			score = 0.85
		}
		return Match{Score: score, Reason: fmt.Sprintf("Same Description and Amount, %d days apart", days)}, true
	}

	if amountClose && days <= 2 && a.Vendor != "" && strings.EqualFold(a.Vendor, b.Vendor) {
		return Match{Score: 0.80, Reason: fmt.Sprintf("Same Vendor and Amount, %d days apart", days)}, true
	}

	return Match{}, false
}

// GroupScore scores members against the first one; the weakest pair decides
// both score and reason. False when some member matches no rule.
func GroupScore(members []*domain.Transaction, tolerance decimal.Decimal) (Match, bool) {
	if len(members) < 2 {
		return Match{}, false
	}
	best := Match{Score: 2}
	for _, m := range members[1:] {
		got, ok := Score(members[0], m, tolerance)
		if !ok {
			return Match{}, false
		}
		if got.Score < best.Score {
			best = got
		}
	}
	return best, true
}

// Window restricts loose matching to a trailing number of days ending at an
// anchor date. Days <= 0 means unlimited.
type Window struct {
	Days int

	// Anchor is the last day of the window; zero means the newest date among
	// the candidates.
	Anchor civil.Date
}

// Start returns the first day inside the window for the given candidates,
// zero when the window is unlimited or there are no candidates.
func (w Window) Start(txns []*domain.Transaction) civil.Date {
	if w.Days <= 0 || len(txns) == 0 {
		return civil.Date{}
	}
	anchor := w.Anchor
	if anchor.IsZero() {
		for _, t := range txns {
			if t.Date.After(anchor) {
				anchor = t.Date
			}
		}
	}
	return anchor.AddDays(-w.Days)
}

// Filter returns the candidates dated inside the window, in input order.
func (w Window) Filter(txns []*domain.Transaction) []*domain.Transaction {
	start := w.Start(txns)
	if start.IsZero() {
		return txns
	}
	out := make([]*domain.Transaction, 0, len(txns))
	for _, t := range txns {
		if !t.Date.Before(start) {
			out = append(out, t)
		}
	}
	return out
}

// PairKey identifies an unordered pair of stored transactions.
type PairKey struct {
	Lo, Hi int64
}

// NewPairKey orders a and b.
func NewPairKey(a, b int64) PairKey {
	if a > b {
		a, b = b, a
	}
	return PairKey{Lo: a, Hi: b}
}

// Cluster is a set of stored transactions proposed as one review group.
type Cluster struct {
	Members []*domain.Transaction
	Match   Match
}

// FindClusters groups stored transactions by the similarity rules. Each row
// joins at most one cluster; pairs listed in skip are never joined. The first
// member of each cluster is its earliest row by date then id.
func FindClusters(txns []*domain.Transaction, tolerance decimal.Decimal, skip map[PairKey]struct{}) []Cluster {
	sorted := make([]*domain.Transaction, len(txns))
	copy(sorted, txns)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Date != sorted[j].Date {
			return sorted[i].Date.Before(sorted[j].Date)
		}
		return sorted[i].ID < sorted[j].ID
	})

	byRef := make(map[domain.TxnRef][]int)
	for i, t := range sorted {
		if t.TxnID != "" {
			byRef[t.Ref()] = append(byRef[t.Ref()], i)
		}
	}

	assigned := make([]bool, len(sorted))
	var clusters []Cluster

	for i, anchor := range sorted {
		if assigned[i] {
			continue
		}

		candidates := make([]int, 0)
		for j := i + 1; j < len(sorted) && sorted[j].Date.DaysSince(anchor.Date) <= MaxRuleDays; j++ {
			candidates = append(candidates, j)
		}
		if anchor.TxnID != "" {
			for _, j := range byRef[anchor.Ref()] {
				if j > i && sorted[j].Date.DaysSince(anchor.Date) > MaxRuleDays {
					candidates = append(candidates, j)
				}
			}
		}

		members := []*domain.Transaction{anchor}
		match := Match{Score: 2}
		for _, j := range candidates {
			if assigned[j] {
				continue
			}
			if _, resolved := skip[NewPairKey(anchor.ID, sorted[j].ID)]; resolved {
				continue
			}
			m, ok := Score(anchor, sorted[j], tolerance)
			if !ok {
				continue
			}
			members = append(members, sorted[j])
			assigned[j] = true
			if m.Score < match.Score {
				match = m
			}
		}

		if len(members) > 1 {
			assigned[i] = true
			clusters = append(clusters, Cluster{Members: members, Match: match})
		}
	}

	return clusters
}

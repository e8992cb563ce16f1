// Package dedup removes provable duplicates from a batch of normalized
// transactions and proposes review groups for possible ones.
package dedup

import (
	"github.com/dvloznov/ledger-ingest/internal/domain"
	"github.com/shopspring/decimal"
)

// Tier is one priority level of the deduplication algorithm.
type Tier int

const (
	TierTxnRef      Tier = 1 // txnId + account
	TierReference   Tier = 2 // reference + date + amount + time
	TierContentHash Tier = 3
	TierLoose       Tier = 4 // never drops
)

func (t Tier) String() string {
	switch t {
	case TierTxnRef:
		return "txn_ref"
	case TierReference:
		return "reference"
	case TierContentHash:
		return "content_hash"
	case TierLoose:
		return "loose"
	}
	return "unknown"
}

// Existing is the read-only view of rows already in the store.
type Existing struct {
	Hashes  map[string]struct{}
	TxnRefs map[domain.TxnRef]struct{}
}

// Drop records a row removed as a proven duplicate.
type Drop struct {
	Txn  *domain.Transaction
	Tier Tier

	// Stored is true when the row matched the store rather than an earlier
	// row of the same batch.
	Stored bool
}

// ProposedGroup is a tier-4 collision waiting to be staged for review.
type ProposedGroup struct {
	Members []*domain.Transaction
	Score   float64
	Reason  string
}

// Outcome is the result of one Run. Survivors keep ingestion order.
type Outcome struct {
	Survivors []*domain.Transaction
	Drops     []Drop
	Groups    []ProposedGroup
}

// DroppedByTier counts drops attributed to tier.
func (o Outcome) DroppedByTier(t Tier) int {
	n := 0
	for _, d := range o.Drops {
		if d.Tier == t {
			n++
		}
	}
	return n
}

// DroppedFromStore counts drops that matched a stored row.
func (o Outcome) DroppedFromStore() int {
	n := 0
	for _, d := range o.Drops {
		if d.Stored {
			n++
		}
	}
	return n
}

// Options configures an Engine.
type Options struct {
	Tolerance decimal.Decimal
}

// Engine applies the tiered deduplication rules. It is pure: every lookup
// against the store is passed in through Existing.
type Engine struct {
	tolerance decimal.Decimal
}

// New creates an Engine. A zero tolerance falls back to DefaultTolerance.
func New(opts Options) *Engine {
	tol := opts.Tolerance
	if tol.IsZero() {
		tol = DefaultTolerance
	}
	return &Engine{tolerance: tol}
}

type refKey struct {
	reference, date, amount, time string
}

// Run deduplicates batch in stable order against itself and existing.
func (e *Engine) Run(batch []*domain.Transaction, existing Existing) Outcome {
	var out Outcome

	seenRefs := make(map[domain.TxnRef]struct{})
	seenReferences := make(map[refKey]struct{})
	seenHashes := make(map[string]struct{})

	for _, t := range batch {
		if t.TxnID != "" {
			ref := t.Ref()
			if _, ok := existing.TxnRefs[ref]; ok {
				out.Drops = append(out.Drops, Drop{Txn: t, Tier: TierTxnRef, Stored: true})
				continue
			}
			if _, ok := seenRefs[ref]; ok {
				out.Drops = append(out.Drops, Drop{Txn: t, Tier: TierTxnRef})
				continue
			}
			seenRefs[ref] = struct{}{}
		}

		if t.Reference != "" {
			key := refKey{t.Reference, t.Date.String(), t.Amount.StringFixed(2), t.TimePart}
			if _, ok := seenReferences[key]; ok {
				out.Drops = append(out.Drops, Drop{Txn: t, Tier: TierReference})
				continue
			}
			seenReferences[key] = struct{}{}
		}

		if _, ok := existing.Hashes[t.ContentHash]; ok {
			out.Drops = append(out.Drops, Drop{Txn: t, Tier: TierContentHash, Stored: true})
			continue
		}
		if _, ok := seenHashes[t.ContentHash]; ok {
			out.Drops = append(out.Drops, Drop{Txn: t, Tier: TierContentHash})
			continue
		}
		seenHashes[t.ContentHash] = struct{}{}

		out.Survivors = append(out.Survivors, t)
	}

	out.Groups = e.looseGroups(out.Survivors)
	return out
}

// looseGroups clusters survivors sharing a LooseGroupKey. Members of a key
// share a date, so every collision in the batch is proposed regardless of
// how old it is relative to the rest of the batch.
func (e *Engine) looseGroups(survivors []*domain.Transaction) []ProposedGroup {
	var order []string
	byKey := make(map[string][]*domain.Transaction)
	for _, t := range survivors {
		if _, ok := byKey[t.LooseGroupKey]; !ok {
			order = append(order, t.LooseGroupKey)
		}
		byKey[t.LooseGroupKey] = append(byKey[t.LooseGroupKey], t)
	}

	var groups []ProposedGroup
	for _, key := range order {
		members := byKey[key]
		if len(members) < 2 {
			continue
		}
		m, ok := GroupScore(members, e.tolerance)
		if !ok {
			m = Match{Score: 0.85, Reason: "Same Description and Amount, 0 days apart"}
		}
		groups = append(groups, ProposedGroup{Members: members, Score: m.Score, Reason: m.Reason})
	}
	return groups
}

package dedup

import (
	"testing"

	"github.com/dvloznov/ledger-ingest/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScore(t *testing.T) {
	tests := []struct {
		name   string
		a, b   *domain.Transaction
		ok     bool
		score  float64
		reason string
	}{
		{
			name:   "txn id and account",
			a:      newTxn("2024-01-01", "X", "-1.00", withTxnID("T", "1")),
			b:      newTxn("2024-02-01", "Y", "-9.00", withTxnID("T", "1")),
			ok:     true,
			score:  1.0,
			reason: "Same TxnId and Account",
		},
		{
			name:   "reference one day apart",
			a:      newTxn("2024-01-01", "X", "-1.00", withRef("R", "")),
			b:      newTxn("2024-01-02", "Y", "-1.00", withRef("R", "")),
			ok:     true,
			score:  0.95,
			reason: "Same Reference, Date, and Amount",
		},
		{
			name:   "description same day",
			a:      newTxn("2024-01-01", "Coffee", "-4.50"),
			b:      newTxn("2024-01-01", "COFFEE", "-4.50"),
			ok:     true,
			score:  0.85,
			reason: "Same Description and Amount, 0 days apart",
		},
		{
			name:   "description within tolerance two days apart",
			a:      newTxn("2024-01-01", "COFFEE", "-4.50"),
			b:      newTxn("2024-01-03", "COFFEE", "-4.51"),
			ok:     true,
			score:  0.75,
			reason: "Same Description and Amount, 2 days apart",
		},
		{
			name:   "vendor",
			a:      newTxn("2024-01-01", "AMZN MKTP US*1", "-20.00", withVendor("Amazon")),
			b:      newTxn("2024-01-02", "AMAZON.COM*2", "-20.00", withVendor("AMAZON")),
			ok:     true,
			score:  0.80,
			reason: "Same Vendor and Amount, 1 days apart",
		},
		{
			name: "description too far apart",
			a:    newTxn("2024-01-01", "COFFEE", "-4.50"),
			b:    newTxn("2024-01-05", "COFFEE", "-4.50"),
			ok:   false,
		},
		{
			name: "amount outside tolerance",
			a:    newTxn("2024-01-01", "COFFEE", "-4.50"),
			b:    newTxn("2024-01-01", "COFFEE", "-4.52"),
			ok:   false,
		},
		{
			name: "empty vendors never match",
			a:    newTxn("2024-01-01", "A", "-4.50"),
			b:    newTxn("2024-01-01", "B", "-4.50"),
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Score(tt.a, tt.b, DefaultTolerance)
			require.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, tt.score, got.Score, 1e-9)
				assert.Equal(t, tt.reason, got.Reason)
			}
		})
	}
}

func TestGroupScore_WeakestPairWins(t *testing.T) {
	a := newTxn("2024-01-01", "COFFEE", "-4.50", withRef("R", ""))
	b := newTxn("2024-01-01", "COFFEE", "-4.50", withRef("R", ""))
	c := newTxn("2024-01-02", "coffee", "-4.50")

	m, ok := GroupScore([]*domain.Transaction{a, b, c}, DefaultTolerance)
	require.True(t, ok)
	assert.InDelta(t, 0.75, m.Score, 1e-9)
	assert.Equal(t, "Same Description and Amount, 1 days apart", m.Reason)

	_, ok = GroupScore([]*domain.Transaction{a}, DefaultTolerance)
	assert.False(t, ok)
}

func TestWindow(t *testing.T) {
	txns := []*domain.Transaction{
		newTxn("2024-01-01", "A", "1"),
		newTxn("2024-02-15", "B", "1"),
		newTxn("2024-03-01", "C", "1"),
	}

	got := Window{Days: 30}.Filter(txns)
	assert.Equal(t, txns[1:], got)

	anchored := Window{Days: 30, Anchor: txns[0].Date.AddDays(10)}
	assert.Equal(t, txns, anchored.Filter(txns))

	assert.Equal(t, txns, Window{}.Filter(txns))
}

func TestFindClusters(t *testing.T) {
	a := newTxn("2024-01-01", "COFFEE", "-4.50", withID(1))
	b := newTxn("2024-01-02", "COFFEE", "-4.50", withID(2))
	c := newTxn("2024-01-01", "RENT", "-1200.00", withID(3))
	d := newTxn("2024-01-01", "RENT", "-1200.00", withID(4))
	e := newTxn("2024-01-20", "COFFEE", "-4.50", withID(5))
	f := newTxn("2024-03-01", "LATE", "-1.00", withID(6), withTxnID("T", "1"))
	g := newTxn("2024-01-10", "EARLY", "-2.00", withID(7), withTxnID("T", "1"))

	skip := map[PairKey]struct{}{NewPairKey(4, 3): {}}
	clusters := FindClusters([]*domain.Transaction{e, d, c, b, a, f, g}, DefaultTolerance, skip)

	require.Len(t, clusters, 2)

	assert.Equal(t, []*domain.Transaction{a, b}, clusters[0].Members)
	assert.InDelta(t, 0.75, clusters[0].Match.Score, 1e-9)

	assert.Equal(t, []*domain.Transaction{g, f}, clusters[1].Members)
	assert.InDelta(t, 1.0, clusters[1].Match.Score, 1e-9)
}

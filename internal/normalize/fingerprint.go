package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"unicode"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/ledger-ingest/internal/domain"
	"github.com/shopspring/decimal"
)

// hashLen is the number of hex characters kept from each digest (64 bits).
const hashLen = 16

// fingerprint is the canonical serialization hashed into ContentHash. Field
// order is fixed by the struct; absent optionals are "" or "0.00".
type fingerprint struct {
	Date        string `json:"date"`
	Description string `json:"desc"`
	Amount      string `json:"amount"`
	TxnID       string `json:"txn"`
	Reference   string `json:"ref"`
	TimePart    string `json:"time"`
	Account     string `json:"acct"`
	Balance     string `json:"bal"`
}

// ContentHash fingerprints every identifying field of t except Source.
func ContentHash(t *domain.Transaction) string {
	bal := decimal.Zero
	if t.Balance.Valid {
		bal = t.Balance.Decimal
	}
	fp := fingerprint{
		Date:        t.Date.String(),
		Description: t.Description,
		Amount:      t.Amount.StringFixed(2),
		TxnID:       t.TxnID,
		Reference:   t.Reference,
		TimePart:    t.TimePart,
		Account:     t.Account,
		Balance:     bal.StringFixed(2),
	}
	// Marshal of a flat struct of strings cannot fail.
	b, _ := json.Marshal(fp)
	return digest(b)
}

// LooseGroupKey fingerprints only date, trimmed description and the amount at
// exactly two decimals, so 12.3 and 12.30 collide.
func LooseGroupKey(date civil.Date, description string, amount decimal.Decimal) string {
	key := date.String() + "|" + strings.TrimSpace(description) + "|" + amount.StringFixed(2)
	return digest([]byte(key))
}

// Fingerprint fills ContentHash and LooseGroupKey on t.
func Fingerprint(t *domain.Transaction) {
	t.ContentHash = ContentHash(t)
	t.LooseGroupKey = LooseGroupKey(t.Date, t.Description, t.Amount)
}

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:hashLen]
}

// NormalizeAccount keeps the trailing four digits when the value has at least
// four, otherwise the literal cut to 12 characters.
func NormalizeAccount(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	digits := make([]rune, 0, len(s))
	for _, r := range s {
		if unicode.IsDigit(r) {
			digits = append(digits, r)
		}
	}
	if len(digits) >= 4 {
		return string(digits[len(digits)-4:])
	}
	if r := []rune(s); len(r) > 12 {
		return string(r[:12])
	}
	return s
}

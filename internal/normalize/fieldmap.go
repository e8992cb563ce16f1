package normalize

import "strings"

// Field is a canonical transaction field a source column can map to.
type Field string

const (
	FieldDate        Field = "date"
	FieldDescription Field = "description"
	FieldAmount      Field = "amount"
	FieldDebit       Field = "debit"
	FieldCredit      Field = "credit"
	FieldType        Field = "type"
	FieldTxnID       Field = "txnId"
	FieldReference   Field = "reference"
	FieldTime        Field = "time"
	FieldAccount     Field = "account"
	FieldBalance     Field = "balance"
)

// Aliases lists recognized source column names per field, in priority order.
var Aliases = map[Field][]string{
	FieldDate:        {"Date", "Transaction Date", "Trans Date", "Posted Date", "Post Date", "TransactionDate", "Posting Date"},
	FieldDescription: {"Description", "Payee", "Memo", "Name", "Details", "Transaction Description", "Merchant", "Vendor", "Narrative"},
	FieldAmount:      {"Amount", "Amount ($)", "Transaction Amount", "Purchase Amount", "Amt"},
	FieldDebit:       {"Debit", "Withdrawal", "Withdrawals", "Outflow", "Charges"},
	FieldCredit:      {"Credit", "Deposit", "Deposits", "Inflow", "Income"},
	FieldType:        {"Type", "Transaction Type", "Category", "Debit/Credit"},
	FieldTxnID:       {"Transaction ID", "FITID", "ID", "TxnId", "Confirmation Number"},
	FieldReference:   {"Reference", "Ref", "Check Number", "Check #", "Reference Number"},
	FieldTime:        {"Time", "Transaction Time", "Posted Time"},
	FieldAccount:     {"Account", "Account Number", "Acct", "Account #"},
	FieldBalance:     {"Balance", "Running Balance", "Current Balance", "Bal"},
}

// DetectColumn returns the first alias present in headers. An exact match
// pass runs over all aliases before a case-insensitive pass.
func DetectColumn(headers []string, aliases []string) (string, bool) {
	present := make(map[string]struct{}, len(headers))
	for _, h := range headers {
		present[h] = struct{}{}
	}
	for _, a := range aliases {
		if _, ok := present[a]; ok {
			return a, true
		}
	}

	for _, a := range aliases {
		for _, h := range headers {
			if strings.EqualFold(strings.TrimSpace(h), a) {
				return h, true
			}
		}
	}
	return "", false
}

// Layout is the resolved source column for each canonical field; "" when absent.
type Layout struct {
	Date        string
	Description string
	Amount      string
	Debit       string
	Credit      string
	Type        string
	TxnID       string
	Reference   string
	Time        string
	Account     string
	Balance     string
}

// DetectLayout maps every canonical field against headers. Description falls
// back to the first column when no alias matches.
func DetectLayout(headers []string) Layout {
	col := func(f Field) string {
		c, _ := DetectColumn(headers, Aliases[f])
		return c
	}

	l := Layout{
		Date:        col(FieldDate),
		Description: col(FieldDescription),
		Amount:      col(FieldAmount),
		Debit:       col(FieldDebit),
		Credit:      col(FieldCredit),
		Type:        col(FieldType),
		TxnID:       col(FieldTxnID),
		Reference:   col(FieldReference),
		Time:        col(FieldTime),
		Account:     col(FieldAccount),
		Balance:     col(FieldBalance),
	}
	if l.Description == "" && len(headers) > 0 {
		l.Description = headers[0]
	}
	return l
}

// valueColumn finds a column whose name mentions "amount" or "value", used for
// type-flagged amounts when no single signed column was recognized.
func valueColumn(headers []string) string {
	for _, h := range headers {
		lower := strings.ToLower(h)
		if strings.Contains(lower, "amount") || strings.Contains(lower, "value") {
			return h
		}
	}
	return ""
}

package categorize

import (
	"context"
	"errors"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// ErrMalformedResponse is returned by classifiers whose upstream answered with
// something that could not be decoded. Retrying does not help.
var ErrMalformedResponse = errors.New("malformed classifier response")

// Item is one row sent for classification.
type Item struct {
	Date        civil.Date
	Description string
	Amount      decimal.Decimal
	ContentHash string
}

// Suggestion is the classifier's answer for one row.
type Suggestion struct {
	Vendor   string `json:"vendor"`
	Category string `json:"category"`
	Notes    string `json:"notes"`
}

// Classifier suggests a vendor and category per item, keyed by content hash.
// Items it has no answer for are simply absent from the result.
type Classifier interface {
	Classify(ctx context.Context, items []Item) (map[string]Suggestion, error)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, items []Item) (map[string]Suggestion, error)

// Classify calls f.
func (f ClassifierFunc) Classify(ctx context.Context, items []Item) (map[string]Suggestion, error) {
	return f(ctx, items)
}

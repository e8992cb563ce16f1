// Package categorize assigns a vendor and category to transactions, first by
// stored vendor rules, then by a language model, falling back to Misc.
package categorize

import (
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Categories is the fixed set a suggestion may use.
var Categories = []string{
	"Groceries", "Dining", "Utilities", "Subscriptions", "Transportation",
	"Housing", "Healthcare", "Insurance", "Income", "Shopping", "Misc",
}

const (
	// FallbackCategory is assigned when nothing else matched.
	FallbackCategory = "Misc"

	// UnmatchedNote marks rows the classifier returned nothing for.
	UnmatchedNote = "unmatched: no suggestion returned"

	// RuleNote marks rows categorized by a vendor rule.
	RuleNote = "mapped by vendor rule"

	maxVendorLen = 100
)

// ValidCategory reports whether c is one of Categories.
func ValidCategory(c string) bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

var (
	vendorNoise = []*regexp.Regexp{
		regexp.MustCompile(`#\d+`),
		regexp.MustCompile(`\d{4,}`),
		regexp.MustCompile(`(?i)\bSTORE \d+`),
		regexp.MustCompile(`(?i)\bLOCATION \d+`),
		regexp.MustCompile(`(?i)\b(LLC|INC|CORP)\b\.?`),
		regexp.MustCompile(`(?i)\bCO\.?$`),
	}
	spaces = regexp.MustCompile(`\s+`)

	strictPolicy = bluemonday.StrictPolicy()
)

// CleanVendor derives a vendor name from a bank description by stripping
// store numbers, long digit runs and company suffixes.
func CleanVendor(description string) string {
	v := strings.TrimSpace(description)
	for _, re := range vendorNoise {
		v = strings.TrimSpace(re.ReplaceAllString(v, ""))
	}
	v = spaces.ReplaceAllString(v, " ")
	return truncate(v, maxVendorLen)
}

// sanitize strips markup from model output before it reaches the store.
func sanitize(s string, max int) string {
	s = strictPolicy.Sanitize(s)
	s = strings.ReplaceAll(s, "&amp;", "&")
	return truncate(strings.TrimSpace(s), max)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return strings.TrimSpace(string(r[:max]))
}

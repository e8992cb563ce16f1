package categorize

import (
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"

	"github.com/dvloznov/ledger-ingest/internal/domain"
	"gopkg.in/yaml.v3"
)

// Rules matches descriptions against vendor mappings in priority order.
type Rules struct {
	rules []rule
}

type rule struct {
	mapping domain.VendorMapping
	re      *regexp.Regexp
	needle  string
}

// CompileRules prepares mappings for matching. Higher priority wins; ties keep
// the input order.
func CompileRules(mappings []domain.VendorMapping) (*Rules, error) {
	sorted := make([]domain.VendorMapping, len(mappings))
	copy(sorted, mappings)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority > sorted[j].Priority })

	r := &Rules{rules: make([]rule, 0, len(sorted))}
	for _, m := range sorted {
		pattern := strings.TrimSpace(m.Pattern)
		if pattern == "" {
			continue
		}
		ru := rule{mapping: m}
		if m.IsRegex {
			re, err := regexp.Compile("(?i)" + pattern)
			if err != nil {
				return nil, fmt.Errorf("CompileRules: pattern %q: %w", m.Pattern, err)
			}
			ru.re = re
		} else {
			ru.needle = strings.ToLower(pattern)
		}
		r.rules = append(r.rules, ru)
	}
	return r, nil
}

// Len returns the number of usable rules.
func (r *Rules) Len() int {
	if r == nil {
		return 0
	}
	return len(r.rules)
}

// Match returns the suggestion of the first rule matching description.
func (r *Rules) Match(description string) (Suggestion, bool) {
	if r == nil {
		return Suggestion{}, false
	}
	lower := strings.ToLower(description)
	for _, ru := range r.rules {
		var vendor string
		switch {
		case ru.re != nil:
			if !ru.re.MatchString(description) {
				continue
			}
			vendor = CleanVendor(description)
		case strings.Contains(lower, ru.needle):
			vendor = titleCase(ru.needle)
		default:
			continue
		}
		return Suggestion{Vendor: vendor, Category: ru.mapping.Category, Notes: RuleNote}, true
	}
	return Suggestion{}, false
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

type rulesFile struct {
	Mappings []struct {
		Pattern  string `yaml:"pattern"`
		Category string `yaml:"category"`
		Regex    bool   `yaml:"regex"`
		Priority int    `yaml:"priority"`
	} `yaml:"mappings"`
}

// LoadMappingsYAML reads vendor mappings from a document of the form
//
//	mappings:
//	  - pattern: tesco
//	    category: Groceries
//	    priority: 10
func LoadMappingsYAML(r io.Reader) ([]domain.VendorMapping, error) {
	var f rulesFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("LoadMappingsYAML: decode: %w", err)
	}

	out := make([]domain.VendorMapping, 0, len(f.Mappings))
	for i, m := range f.Mappings {
		if strings.TrimSpace(m.Pattern) == "" {
			return nil, fmt.Errorf("LoadMappingsYAML: mapping %d: empty pattern", i)
		}
		if !ValidCategory(m.Category) {
			return nil, fmt.Errorf("LoadMappingsYAML: mapping %d: unknown category %q", i, m.Category)
		}
		if m.Regex {
			if _, err := regexp.Compile(m.Pattern); err != nil {
				return nil, fmt.Errorf("LoadMappingsYAML: mapping %d: %w", i, err)
			}
		}
		out = append(out, domain.VendorMapping{
			Pattern:  strings.TrimSpace(m.Pattern),
			Category: m.Category,
			IsRegex:  m.Regex,
			Priority: m.Priority,
		})
	}
	return out, nil
}

// Package detection provides the rule table that maps inbound request paths
// to injection-technique classifications.
package detection

import (
	"fmt"
	"strings"

	"github.com/invisible-tech/injection-collector/internal/types"
)

// Technique codes used by the synthesized classifications.
const (
	TechniqueUnknown          = "UNK"
	TechniqueUnknownJailbreak = "J?"
)

// Rule maps a request-path prefix to a classification.
type Rule struct {
	Prefix    string         `yaml:"prefix" json:"prefix"`
	Page      types.Page     `yaml:"page" json:"page"`
	Technique string         `yaml:"technique" json:"technique"`
	Name      string         `yaml:"name" json:"name"`
	Severity  types.Severity `yaml:"severity" json:"severity"`
	Category  types.Category `yaml:"category" json:"category"`
}

func (r *Rule) classification() types.Classification {
	return types.Classification{
		Page:      r.Page,
		Technique: r.Technique,
		Name:      r.Name,
		Severity:  r.Severity,
		Category:  r.Category,
	}
}

// Namespace is a wildcard path family. For the variant namespace Name is a
// format string receiving the upper-cased trailing path segment.
type Namespace struct {
	Prefix    string         `yaml:"prefix" json:"prefix"`
	Page      types.Page     `yaml:"page" json:"page"`
	Technique string         `yaml:"technique" json:"technique"`
	Name      string         `yaml:"name" json:"name"`
	Severity  types.Severity `yaml:"severity" json:"severity"`
	Category  types.Category `yaml:"category" json:"category"`
}

// Table is an immutable rule table. Build it with NewTable, DefaultTable or
// LoadTable; it is safe for concurrent use.
type Table struct {
	rules    []Rule
	variant  *Namespace
	unknown  *Namespace
	known    int
	catchAll types.Classification
}

// NewTable validates the rules and namespaces and returns a table. Either
// namespace may be nil.
func NewTable(rules []Rule, variant, unknown *Namespace) (*Table, error) {
	seenPrefix := make(map[string]bool, len(rules))
	byCode := make(map[string]Rule, len(rules))
	for i, r := range rules {
		if r.Prefix == "" || !strings.HasPrefix(r.Prefix, "/") {
			return nil, fmt.Errorf("rule %d: prefix %q must start with /", i, r.Prefix)
		}
		if seenPrefix[r.Prefix] {
			return nil, fmt.Errorf("rule %d: duplicate prefix %q", i, r.Prefix)
		}
		seenPrefix[r.Prefix] = true
		if err := checkFields(r.Technique, r.Name, r.Severity, r.Category); err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.Prefix, err)
		}
		if prev, ok := byCode[r.Technique]; ok {
			if prev.Page != r.Page || prev.Severity != r.Severity || prev.Category != r.Category {
				return nil, fmt.Errorf("rule %q: technique %s conflicts with rule %q", r.Prefix, r.Technique, prev.Prefix)
			}
			continue
		}
		byCode[r.Technique] = r
	}
	for _, ns := range []*Namespace{variant, unknown} {
		if ns == nil {
			continue
		}
		if !strings.HasPrefix(ns.Prefix, "/") || !strings.HasSuffix(ns.Prefix, "/") {
			return nil, fmt.Errorf("namespace prefix %q must start and end with /", ns.Prefix)
		}
		if err := checkFields(ns.Technique, ns.Name, ns.Severity, ns.Category); err != nil {
			return nil, fmt.Errorf("namespace %q: %w", ns.Prefix, err)
		}
	}

	t := &Table{
		rules:   append([]Rule(nil), rules...),
		variant: variant,
		unknown: unknown,
		known:   len(byCode),
		catchAll: types.Classification{
			Page:      types.PageUnknown,
			Technique: TechniqueUnknown,
			Name:      "Unknown Endpoint",
			Severity:  types.SeverityInfo,
			Category:  types.CategoryUnknown,
		},
	}
	return t, nil
}

func checkFields(technique, name string, sev types.Severity, cat types.Category) error {
	if technique == "" {
		return fmt.Errorf("technique code is required")
	}
	if name == "" {
		return fmt.Errorf("name is required")
	}
	if _, err := sev.MarshalText(); err != nil {
		return err
	}
	if !cat.Valid() {
		return fmt.Errorf("unknown category %q", cat)
	}
	return nil
}

// Lookup classifies a request path. Any query string is ignored. Lookup
// always returns exactly one classification.
func (t *Table) Lookup(path string) types.Classification {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}

	best := -1
	for i := range t.rules {
		if !strings.HasPrefix(path, t.rules[i].Prefix) {
			continue
		}
		// strict > keeps the earliest rule on equal length
		if best < 0 || len(t.rules[i].Prefix) > len(t.rules[best].Prefix) {
			best = i
		}
	}
	if best >= 0 {
		return t.rules[best].classification()
	}

	if ns := t.variant; ns != nil && strings.HasPrefix(path, ns.Prefix) {
		return types.Classification{
			Page:      ns.Page,
			Technique: ns.Technique,
			Name:      fmt.Sprintf(ns.Name, variantLabel(path)),
			Severity:  ns.Severity,
			Category:  ns.Category,
		}
	}

	if ns := t.unknown; ns != nil && strings.HasPrefix(path, ns.Prefix) {
		return types.Classification{
			Page:      ns.Page,
			Technique: ns.Technique,
			Name:      ns.Name,
			Severity:  ns.Severity,
			Category:  ns.Category,
		}
	}

	return t.catchAll
}

// variantLabel returns the upper-cased last path segment, or "?" when the
// path ends in a slash.
func variantLabel(path string) string {
	seg := path[strings.LastIndex(path, "/")+1:]
	if seg == "" {
		return "?"
	}
	return strings.ToUpper(seg)
}

// Rules returns a copy of the exact-prefix rules in definition order.
func (t *Table) Rules() []Rule {
	return append([]Rule(nil), t.rules...)
}

// VariantNamespace returns the variant namespace, or nil.
func (t *Table) VariantNamespace() *Namespace {
	return t.variant
}

// UnknownNamespace returns the unknown-variant namespace, or nil.
func (t *Table) UnknownNamespace() *Namespace {
	return t.unknown
}

// KnownTechniques is the number of distinct technique codes in the rules.
func (t *Table) KnownTechniques() int {
	return t.known
}

// TechniqueName returns the name of the first rule using code.
func (t *Table) TechniqueName(code string) (string, bool) {
	for _, r := range t.rules {
		if r.Technique == code {
			return r.Name, true
		}
	}
	return "", false
}

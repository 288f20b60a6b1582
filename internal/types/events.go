// Package types defines the classification, event and summary records shared
// by the rule table, event store, aggregator and HTTP listener.
package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Severity is an ordered risk level.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = [...]string{"INFO", "LOW", "MEDIUM", "HIGH", "CRITICAL"}

// Severities lists every level in ascending order.
func Severities() []Severity {
	return []Severity{SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
}

func (s Severity) String() string {
	if s < SeverityInfo || s > SeverityCritical {
		return "Severity(" + strconv.Itoa(int(s)) + ")"
	}
	return severityNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	if s < SeverityInfo || s > SeverityCritical {
		return nil, fmt.Errorf("invalid severity %d", int(s))
	}
	return []byte(severityNames[s]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Names are case-insensitive.
func (s *Severity) UnmarshalText(text []byte) error {
	name := strings.ToUpper(strings.TrimSpace(string(text)))
	for i, n := range severityNames {
		if n == name {
			*s = Severity(i)
			return nil
		}
	}
	return fmt.Errorf("unknown severity %q", string(text))
}

// Category is the top-level classification axis.
type Category string

const (
	CategoryToolInjection Category = "tool_injection"
	CategoryJailbreak     Category = "jailbreak"
	CategoryGeneric       Category = "generic"
	CategoryUnknown       Category = "unknown"
)

// Categories lists every category in reporting order.
func Categories() []Category {
	return []Category{CategoryToolInjection, CategoryJailbreak, CategoryGeneric, CategoryUnknown}
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryToolInjection, CategoryJailbreak, CategoryGeneric, CategoryUnknown:
		return true
	}
	return false
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Category) UnmarshalText(text []byte) error {
	v := Category(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("unknown category %q", string(text))
	}
	*c = v
	return nil
}

// Page groups related techniques. PageUnknown is used by the catch-all
// classification and is rendered as "?".
type Page int

const PageUnknown Page = -1

// Key returns the summary bucket name for the page.
func (p Page) Key() string {
	if p < 0 {
		return "unknown"
	}
	return "page_" + strconv.Itoa(int(p))
}

// MarshalJSON implements json.Marshaler.
func (p Page) MarshalJSON() ([]byte, error) {
	if p < 0 {
		return []byte(`"?"`), nil
	}
	return []byte(strconv.Itoa(int(p))), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Page) UnmarshalJSON(data []byte) error {
	if string(data) == `"?"` {
		*p = PageUnknown
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid page %s: %w", data, err)
	}
	*p = Page(n)
	return nil
}

// Classification is the result of looking a request path up in the rule
// table. Every field is always populated.
type Classification struct {
	Page      Page     `json:"page"`
	Technique string   `json:"technique"`
	Name      string   `json:"technique_name"`
	Severity  Severity `json:"severity"`
	Category  Category `json:"category"`
}

// Event is one classified inbound request. Events are immutable once appended.
type Event struct {
	ID             string              `json:"id"`
	RequestNumber  int                 `json:"request_number"`
	Timestamp      time.Time           `json:"timestamp"`
	Method         string              `json:"method"`
	Path           string              `json:"path"`
	QueryParams    map[string][]string `json:"query_params"`
	Headers        map[string]string   `json:"headers"`
	Body           string              `json:"body"`
	ClientIP       string              `json:"client_ip"`
	Classification Classification      `json:"classification"`
}

// TimelineEntry is one row of the summary timeline.
type TimelineEntry struct {
	Time      time.Time `json:"time"`
	Technique string    `json:"technique"`
	Path      string    `json:"path"`
	Category  Category  `json:"category"`
}

// Summary is the aggregate view derived from the full event history.
type Summary struct {
	TotalRequests             int              `json:"total_requests"`
	TechniqueHits             map[string]int   `json:"technique_hits"`
	UniqueTechniquesTriggered int              `json:"unique_techniques_triggered"`
	KnownTechniques           int              `json:"known_techniques"`
	CriticalHits              int              `json:"critical_hits"`
	BySeverity                map[string]int   `json:"by_severity"`
	ByCategory                map[Category]int `json:"by_category"`
	ByPage                    map[string]int   `json:"by_page"`
	Timeline                  []TimelineEntry  `json:"timeline"`
}

// Acknowledgement is the JSON body returned for every recorded request.
type Acknowledgement struct {
	Status        string   `json:"status"`
	Technique     string   `json:"technique"`
	Category      Category `json:"category"`
	RequestNumber int      `json:"request_number"`
}

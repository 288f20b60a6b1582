// Package aggregator derives the summary document from the full event history.
package aggregator

import (
	"fmt"
	"sync"

	"github.com/invisible-tech/injection-collector/internal/persist"
	"github.com/invisible-tech/injection-collector/internal/types"
)

// Recompute builds a summary from events. It depends only on its arguments.
func Recompute(events []types.Event, knownTechniques int) types.Summary {
	s := types.Summary{
		TotalRequests:   len(events),
		TechniqueHits:   make(map[string]int),
		KnownTechniques: knownTechniques,
		BySeverity:      make(map[string]int, len(types.Severities())),
		ByCategory:      make(map[types.Category]int, len(types.Categories())),
		ByPage:          make(map[string]int),
		Timeline:        make([]types.TimelineEntry, 0, len(events)),
	}
	for _, sev := range types.Severities() {
		s.BySeverity[sev.String()] = 0
	}
	for _, cat := range types.Categories() {
		s.ByCategory[cat] = 0
	}

	for _, ev := range events {
		c := ev.Classification
		s.TechniqueHits[c.Technique]++
		s.BySeverity[c.Severity.String()]++
		s.ByCategory[c.Category]++
		s.ByPage[c.Page.Key()]++
		if c.Severity == types.SeverityCritical {
			s.CriticalHits++
		}
		s.Timeline = append(s.Timeline, types.TimelineEntry{
			Time:      ev.Timestamp,
			Technique: c.Technique,
			Path:      ev.Path,
			Category:  c.Category,
		})
	}
	s.UniqueTechniquesTriggered = len(s.TechniqueHits)
	return s
}

// Aggregator recomputes and persists the summary and keeps the latest copy.
type Aggregator struct {
	path            string
	knownTechniques int

	mu     sync.RWMutex
	latest types.Summary
}

// New returns an aggregator writing to path. knownTechniques is the number
// of distinct technique codes in the rule table.
func New(path string, knownTechniques int) *Aggregator {
	return &Aggregator{
		path:            path,
		knownTechniques: knownTechniques,
		latest:          Recompute(nil, knownTechniques),
	}
}

// Path returns the summary file path.
func (a *Aggregator) Path() string {
	return a.path
}

// Update recomputes the summary from events, stores it as the latest and
// persists it. The summary is returned even when persisting fails.
func (a *Aggregator) Update(events []types.Event) (types.Summary, error) {
	s := Recompute(events, a.knownTechniques)
	a.mu.Lock()
	a.latest = s
	a.mu.Unlock()
	return s, a.Persist(s)
}

// Persist writes s to the summary file.
func (a *Aggregator) Persist(s types.Summary) error {
	if err := persist.WriteJSON(a.path, s); err != nil {
		return fmt.Errorf("failed to persist summary: %w", err)
	}
	return nil
}

// Latest returns the most recently computed summary.
func (a *Aggregator) Latest() types.Summary {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.latest
}

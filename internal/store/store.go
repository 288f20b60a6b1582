// Package store holds the append-only event log and mirrors it to a JSON file
// after every append.
package store

import (
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/invisible-tech/injection-collector/internal/persist"
	"github.com/invisible-tech/injection-collector/internal/types"
)

// DefaultMaxBodyBytes bounds the stored body of each event.
const DefaultMaxBodyBytes = 5000

// Request carries the captured parts of an inbound request.
type Request struct {
	Method      string
	Path        string
	QueryParams map[string][]string
	Headers     map[string]string
	Body        string
	ClientIP    string
}

// Store is the ordered event history. Sequence numbers start at 1 and are
// never reused.
type Store struct {
	path         string
	maxBodyBytes int
	now          func() time.Time

	mu     sync.RWMutex
	events []types.Event
}

// New returns an empty store that persists to path. maxBodyBytes <= 0
// selects DefaultMaxBodyBytes.
func New(path string, maxBodyBytes int) *Store {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &Store{
		path:         path,
		maxBodyBytes: maxBodyBytes,
		now:          time.Now,
	}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Append records one event and rewrites the backing file. The returned event
// is always valid; a non-nil error only reports that the file could not be
// written, the event stays in memory either way.
func (s *Store) Append(req Request, c types.Classification) (types.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev := types.Event{
		ID:             uuid.NewString(),
		RequestNumber:  len(s.events) + 1,
		Timestamp:      s.now(),
		Method:         req.Method,
		Path:           req.Path,
		QueryParams:    req.QueryParams,
		Headers:        req.Headers,
		Body:           Truncate(req.Body, s.maxBodyBytes),
		ClientIP:       req.ClientIP,
		Classification: c,
	}
	if ev.QueryParams == nil {
		ev.QueryParams = map[string][]string{}
	}
	if ev.Headers == nil {
		ev.Headers = map[string]string{}
	}
	s.events = append(s.events, ev)

	if err := s.flushLocked(); err != nil {
		return ev, err
	}
	return ev, nil
}

// Events returns a snapshot of the history in append order.
func (s *Store) Events() []types.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Event, len(s.events))
	copy(out, s.events)
	return out
}

// Len returns the number of appended events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Flush rewrites the backing file from memory.
func (s *Store) Flush() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flushLocked()
}

func (s *Store) flushLocked() error {
	events := s.events
	if events == nil {
		events = []types.Event{}
	}
	if err := persist.WriteJSON(s.path, events); err != nil {
		return fmt.Errorf("failed to persist event log: %w", err)
	}
	return nil
}

// Truncate cuts body to at most max bytes without splitting a UTF-8 sequence.
func Truncate(body string, max int) string {
	if len(body) <= max {
		return body
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return body[:cut]
}

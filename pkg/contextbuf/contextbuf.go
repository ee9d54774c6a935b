// Package contextbuf keeps the short-lived per-session memory of recent
// search results that lets follow-ups like "open the second one" resolve
// against the previous turn. Entries expire lazily after a TTL; there is no
// background sweep.
package contextbuf

import (
	"errors"
	"sync"
	"time"
)

var ErrNotFound = errors.New("no referenceable result in session context")

// ResultKind tags what the stored result list contains, so "открой 2" after
// a web search opens a URL rather than a path.
type ResultKind string

const (
	KindFile ResultKind = "file"
	KindApp  ResultKind = "app"
	KindWeb  ResultKind = "web"
)

// Entry is the context snapshot for one session. Results is ordered exactly
// as it was presented to the user (1-based when referenced).
type Entry struct {
	SessionID  string
	Results    []string
	Kind       ResultKind
	LastOpened string
	CreatedAt  time.Time
}

// Reference describes one reference expression from an utterance. Exactly one
// of Ordinal (>0, 1-based) or Kind ("first", "last", "it") is set.
type Reference struct {
	Ordinal int
	Kind    string
}

// Store owns all session entries. The clock is injected so TTL expiry is
// deterministic under test.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	ttl     time.Duration
	now     func() time.Time
}

func NewStore(ttl time.Duration) *Store {
	return &Store{
		entries: make(map[string]*Entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// SetClock replaces the time source. Test hook.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Put replaces any existing entry for the session with the new result list,
// stamped with the current time.
func (s *Store) Put(sessionID string, results []string, kind ResultKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]string, len(results))
	copy(stored, results)
	s.entries[sessionID] = &Entry{
		SessionID: sessionID,
		Results:   stored,
		Kind:      kind,
		CreatedAt: s.now(),
	}
}

// Get returns a copy of the session's entry, or ok=false if none exists or
// the entry's age exceeds the TTL. Expired entries are deleted on read.
func (s *Store) Get(sessionID string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.live(sessionID)
	if entry == nil {
		return Entry{}, false
	}
	return s.snapshot(entry), true
}

// MarkOpened records which target the session last opened so "it" and
// "last" resolve to it. No-op if the entry has expired.
func (s *Store) MarkOpened(sessionID, target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.live(sessionID)
	if entry == nil {
		return
	}
	entry.LastOpened = target
}

// ResolveReference maps a reference expression onto a concrete path or URL
// from the session's stored results. Returns ErrNotFound when the context is
// absent, expired, or the reference is out of range.
func (s *Store) ResolveReference(sessionID string, ref Reference) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.live(sessionID)
	if entry == nil || len(entry.Results) == 0 {
		return "", ErrNotFound
	}

	switch {
	case ref.Ordinal > 0:
		if ref.Ordinal > len(entry.Results) {
			return "", ErrNotFound
		}
		return entry.Results[ref.Ordinal-1], nil
	case ref.Kind == "first":
		return entry.Results[0], nil
	case ref.Kind == "last":
		if entry.LastOpened != "" {
			return entry.LastOpened, nil
		}
		return entry.Results[len(entry.Results)-1], nil
	case ref.Kind == "it":
		if entry.LastOpened == "" {
			return "", ErrNotFound
		}
		return entry.LastOpened, nil
	}
	return "", ErrNotFound
}

// Reset deletes the session's entry immediately, regardless of TTL.
func (s *Store) Reset(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, sessionID)
}

// live returns the non-expired entry for a session, deleting it if stale.
// Must be called with the write lock held.
func (s *Store) live(sessionID string) *Entry {
	entry, ok := s.entries[sessionID]
	if !ok {
		return nil
	}
	if s.now().Sub(entry.CreatedAt) > s.ttl {
		delete(s.entries, sessionID)
		return nil
	}
	return entry
}

func (s *Store) snapshot(entry *Entry) Entry {
	out := Entry{
		SessionID:  entry.SessionID,
		Kind:       entry.Kind,
		LastOpened: entry.LastOpened,
		CreatedAt:  entry.CreatedAt,
	}
	out.Results = make([]string, len(entry.Results))
	copy(out.Results, entry.Results)
	return out
}

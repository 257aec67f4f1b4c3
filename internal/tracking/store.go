// Package tracking holds the set of tracked GitHub accounts and their
// freshness cursors.
//
// A cursor is the point in time after which an account's events are
// considered new. The poller advances it before every fetch, so each event
// is handled at most once per process lifetime.
package tracking

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	ErrAlreadyTracked = errors.New("already tracked")
	ErrNotTracked     = errors.New("not tracked")
)

// Entity is a tracked account.
type Entity struct {
	ID     string
	Cursor time.Time
}

// Store is safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]*Entity // keyed by lower-cased id
}

type Option func(*Store)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{now: time.Now, entries: map[string]*Entity{}}
	for _, o := range opts {
		o(s)
	}
	return s
}

func key(id string) string { return strings.ToLower(strings.TrimSpace(id)) }

// Add starts tracking id with a cursor of now. Grammar is the caller's concern.
func (s *Store) Add(id string) error {
	id = strings.TrimSpace(id)
	k := key(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[k]; ok {
		return ErrAlreadyTracked
	}
	s.entries[k] = &Entity{ID: id, Cursor: s.now()}
	return nil
}

func (s *Store) Remove(id string) error {
	k := key(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[k]; !ok {
		return ErrNotTracked
	}
	delete(s.entries, k)
	return nil
}

func (s *Store) Contains(id string) bool {
	s.mu.Lock()
	_, ok := s.entries[key(id)]
	s.mu.Unlock()
	return ok
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// List returns a snapshot sorted by lower-cased id.
func (s *Store) List() []Entity {
	s.mu.Lock()
	out := make([]Entity, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return key(out[i].ID) < key(out[j].ID) })
	return out
}

// IDs returns the tracked ids in List order.
func (s *Store) IDs() []string {
	list := s.List()
	out := make([]string, len(list))
	for i, e := range list {
		out[i] = e.ID
	}
	return out
}

// Cursors returns a copy of every cursor keyed by id.
func (s *Store) Cursors() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.entries))
	for _, e := range s.entries {
		out[e.ID] = e.Cursor
	}
	return out
}

// MarkFetchStart returns the previous cursor of id and advances it to now.
// The new cursor is always strictly after the previous one.
func (s *Store) MarkFetchStart(id string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key(id)]
	if !ok {
		return time.Time{}, ErrNotTracked
	}
	prev := e.Cursor
	next := s.now()
	if !next.After(prev) {
		next = prev.Add(time.Nanosecond)
	}
	e.Cursor = next
	return prev, nil
}

// Restore moves the cursor of an already tracked id forward to at.
// It reports whether the cursor changed; cursors never move backwards.
func (s *Store) Restore(id string, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key(id)]
	if !ok || !at.After(e.Cursor) {
		return false
	}
	e.Cursor = at
	return true
}

// Seed sets the cursor of an already tracked id to a saved value, in either
// direction. It is meant for startup, before the first cycle, so events
// created while the process was down are still seen as new.
func (s *Store) Seed(id string, at time.Time) bool {
	if at.IsZero() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key(id)]
	if !ok {
		return false
	}
	e.Cursor = at
	return true
}

// Reset replaces the tracked set with ids. Cursors of ids that stay tracked
// are kept; new ids start at now. It returns the added and removed ids.
func (s *Store) Reset(ids []string) (added, removed []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]string, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		want[key(id)] = id
	}
	for k, e := range s.entries {
		if _, ok := want[k]; !ok {
			removed = append(removed, e.ID)
			delete(s.entries, k)
		}
	}
	now := s.now()
	for k, id := range want {
		if _, ok := s.entries[k]; !ok {
			s.entries[k] = &Entity{ID: id, Cursor: now}
			added = append(added, id)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}

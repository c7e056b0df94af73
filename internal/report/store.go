package report

import "sync"

// Store holds the single current-report slot and the most recent history
// snapshot. Both are plain in-memory state; the orchestrator is the only
// writer.
type Store struct {
	mu      sync.RWMutex
	current *Report
	history []HistoryEntry
}

func NewStore() *Store {
	return &Store{}
}

// SetCurrent replaces the current report. The previous one is discarded from
// the slot; the backend still retains it and serves it through history.
func (s *Store) SetCurrent(r Report) {
	clone := r.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = &clone
}

// Current returns a copy of the current report, or false when the slot is
// empty.
func (s *Store) Current() (Report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return Report{}, false
	}
	return s.current.Clone(), true
}

// Clear nulls the current report without touching the history snapshot.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
}

// ReplaceHistory swaps the history snapshot wholesale. Entries are never
// merged incrementally.
func (s *Store) ReplaceHistory(entries []HistoryEntry) {
	snapshot := make([]HistoryEntry, len(entries))
	copy(snapshot, entries)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = snapshot
}

// History returns a copy of the current history snapshot.
func (s *Store) History() []HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]HistoryEntry, len(s.history))
	copy(out, s.history)
	return out
}

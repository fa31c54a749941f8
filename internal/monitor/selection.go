package monitor

import (
	"sort"
	"sync"
)

// Selection is the set of identifiers the operator is tracking. The reader
// checks it on every frame; the controlling layer mutates it.
type Selection struct {
	mu  sync.RWMutex
	ids map[uint32]struct{}
}

func NewSelection(ids ...uint32) *Selection {
	s := &Selection{ids: make(map[uint32]struct{}, len(ids))}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return s
}

// Add reports whether id was newly added.
func (s *Selection) Add(id uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

// Remove reports whether id was present.
func (s *Selection) Remove(id uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; !ok {
		return false
	}
	delete(s.ids, id)
	return true
}

func (s *Selection) Contains(id uint32) bool {
	s.mu.RLock()
	_, ok := s.ids[id]
	s.mu.RUnlock()
	return ok
}

// Set replaces the whole selection.
func (s *Selection) Set(ids ...uint32) {
	next := make(map[uint32]struct{}, len(ids))
	for _, id := range ids {
		next[id] = struct{}{}
	}
	s.mu.Lock()
	s.ids = next
	s.mu.Unlock()
}

func (s *Selection) Clear() {
	s.Set()
}

func (s *Selection) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// IDs returns the selected identifiers in ascending order.
func (s *Selection) IDs() []uint32 {
	s.mu.RLock()
	out := make([]uint32, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

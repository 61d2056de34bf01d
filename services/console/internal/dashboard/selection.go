package dashboard

import (
	"slices"
	"sync"
)

// Selection is the set of record ids marked for batch action. It is
// independent of the page on screen and of the search term.
type Selection struct {
	mu  sync.Mutex
	ids map[int64]struct{}
}

func NewSelection() *Selection {
	return &Selection{ids: map[int64]struct{}{}}
}

// Toggle flips id and returns whether it is now selected.
func (s *Selection) Toggle(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		delete(s.ids, id)
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

func (s *Selection) SelectPage(ids []int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
}

// DeselectPage removes only the given ids, leaving other pages intact.
func (s *Selection) DeselectPage(ids []int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.ids, id)
	}
}

func (s *Selection) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.ids)
}

func (s *Selection) Contains(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

// AllSelected drives the "select all" checkbox: true only when the page is
// non-empty and every id on it is selected.
func (s *Selection) AllSelected(pageIDs []int64) bool {
	if len(pageIDs) == 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range pageIDs {
		if _, ok := s.ids[id]; !ok {
			return false
		}
	}
	return true
}

// IDs returns the selected ids in ascending order.
func (s *Selection) IDs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

func (s *Selection) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// Retain drops every id for which keep returns false.
func (s *Selection) Retain(keep func(int64) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.ids {
		if !keep(id) {
			delete(s.ids, id)
		}
	}
}

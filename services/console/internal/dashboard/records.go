package dashboard

import (
	"sync"

	"churnboard/pkg/domain"
)

// RecordStore is the local copy of the remote collection. It is replaced
// wholesale by Apply and never patched in place.
type RecordStore struct {
	mu      sync.RWMutex
	records []domain.Record
	index   map[int64]int
	issued  uint64
	applied uint64
}

func NewRecordStore() *RecordStore {
	return &RecordStore{index: map[int64]int{}}
}

// Issue reserves the generation number for a new fetch.
func (s *RecordStore) Issue() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued++
	return s.issued
}

// Apply replaces the snapshot with records fetched under gen. Results from
// any fetch other than the latest issued are discarded and Apply returns false.
func (s *RecordStore) Apply(gen uint64, records []domain.Record) bool {
	next := domain.CloneRecords(records)
	if next == nil {
		next = []domain.Record{}
	}
	index := make(map[int64]int, len(next))
	for i, r := range next {
		index[r.ID] = i
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.issued || gen <= s.applied {
		return false
	}
	s.records = next
	s.index = index
	s.applied = gen
	return true
}

// Generation returns the generation of the snapshot currently held.
func (s *RecordStore) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.applied
}

// Snapshot returns a point-in-time deep copy of all records.
func (s *RecordStore) Snapshot() []domain.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := domain.CloneRecords(s.records)
	if out == nil {
		out = []domain.Record{}
	}
	return out
}

func (s *RecordStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *RecordStore) Get(id int64) (domain.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return domain.Record{}, false
	}
	return s.records[i].Clone(), true
}

func (s *RecordStore) Contains(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[id]
	return ok
}

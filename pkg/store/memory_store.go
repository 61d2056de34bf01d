package store

import (
	"sync"
	"time"

	"churnboard/pkg/domain"
)

type memoryRecord struct {
	record    domain.Record
	objectKey string
	extracted []byte
}

// MemoryStore is an in-memory RecordStore for local runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	records map[int64]*memoryRecord
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[int64]*memoryRecord),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) CreatePending(sourceFile, objectKey string) (domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	rec := domain.Record{
		ID:               s.nextID,
		EmployeeID:       PendingEmployeeID,
		SourceFile:       sourceFile,
		UploadTimestamp:  s.now(),
		ProcessingStatus: domain.StatusPending,
	}
	s.records[rec.ID] = &memoryRecord{record: rec, objectKey: objectKey}
	return rec.Clone(), nil
}

func (s *MemoryStore) GetSource(id int64) (Source, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.records[id]
	if !ok {
		return Source{}, false, nil
	}
	return Source{RecordID: id, SourceFile: m.record.SourceFile, ObjectKey: m.objectKey}, true, nil
}

func (s *MemoryStore) CompleteExtraction(id int64, ext domain.Extraction, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.records[id]
	if !ok {
		return nil
	}
	r := &m.record
	r.EmployeeID = ext.EmployeeID
	r.Department = clonePtr(ext.Department)
	r.JoiningDate = clonePtr(ext.JoiningDate)
	r.ExitDate = clonePtr(ext.ExitDate)
	r.ExitReason = clonePtr(ext.ExitReason)
	r.Salary = clonePtr(ext.Salary)
	r.LastPerformanceRating = clonePtr(ext.LastPerformanceRating)
	r.ChurnFlag = ext.ChurnFlag
	r.ProcessingStatus = domain.StatusCompleted
	if len(raw) > 0 {
		m.extracted = append([]byte(nil), raw...)
	}
	return nil
}

func (s *MemoryStore) FailExtraction(id int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.records[id]
	if !ok {
		return nil
	}
	reason = TruncateReason(reason)
	m.record.EmployeeID = ErrorEmployeeID
	m.record.ExitReason = &reason
	m.record.ProcessingStatus = domain.StatusFailed
	return nil
}

func (s *MemoryStore) ListRecords() ([]domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Record, 0, len(s.records))
	for id := int64(1); id <= s.nextID; id++ {
		if m, ok := s.records[id]; ok {
			out = append(out, m.record.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) GetRecord(id int64) (domain.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.records[id]
	if !ok {
		return domain.Record{}, false, nil
	}
	return m.record.Clone(), true, nil
}

func (s *MemoryStore) UpdateRecord(id int64, patch domain.RecordPatch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.records[id]
	if !ok {
		return false, nil
	}
	patch.Apply(&m.record)
	return true, nil
}

func (s *MemoryStore) DeleteRecord(id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return false, nil
	}
	delete(s.records, id)
	return true, nil
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

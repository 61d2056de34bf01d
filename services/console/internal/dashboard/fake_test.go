package dashboard

import (
	"context"
	"errors"
	"io"
	"slices"
	"strings"
	"sync"

	"churnboard/pkg/domain"
)

var errRemote = errors.New("remote unavailable")

// fakeBackend is an in-memory remote collection.
type fakeBackend struct {
	mu        sync.Mutex
	records   []domain.Record
	listErr   error
	updateErr error
	deleteErr map[int64]error

	listCalls   int
	updateCalls int
	deleteCalls []int64
	patches     []domain.RecordPatch

	listFn   func(ctx context.Context, call int) ([]domain.Record, error)
	uploadFn func(ctx context.Context, files []StagedFile, progress ProgressFunc) (domain.UploadResult, error)
	askFn    func(ctx context.Context, question string, snapshot []domain.Record) (string, error)
}

func newFakeBackend(records ...domain.Record) *fakeBackend {
	return &fakeBackend{records: records, deleteErr: map[int64]error{}}
}

func (f *fakeBackend) List(ctx context.Context) ([]domain.Record, error) {
	f.mu.Lock()
	f.listCalls++
	call := f.listCalls
	fn := f.listFn
	err := f.listErr
	records := domain.CloneRecords(f.records)
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, call)
	}
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (f *fakeBackend) Update(_ context.Context, id int64, patch domain.RecordPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	f.patches = append(f.patches, patch)
	if f.updateErr != nil {
		return f.updateErr
	}
	for i := range f.records {
		if f.records[i].ID == id {
			patch.Apply(&f.records[i])
			return nil
		}
	}
	return errors.New("record not found")
}

func (f *fakeBackend) Delete(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls = append(f.deleteCalls, id)
	if err := f.deleteErr[id]; err != nil {
		return err
	}
	f.records = slices.DeleteFunc(f.records, func(r domain.Record) bool { return r.ID == id })
	return nil
}

func (f *fakeBackend) Upload(ctx context.Context, files []StagedFile, progress ProgressFunc) (domain.UploadResult, error) {
	if f.uploadFn != nil {
		return f.uploadFn(ctx, files, progress)
	}
	return domain.UploadResult{Message: "Processing complete"}, nil
}

func (f *fakeBackend) Ask(ctx context.Context, question string, snapshot []domain.Record) (string, error) {
	if f.askFn != nil {
		return f.askFn(ctx, question, snapshot)
	}
	return "ok", nil
}

func (f *fakeBackend) calls() (list, update int, deletes []int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls, f.updateCalls, append([]int64(nil), f.deleteCalls...)
}

func rec(id int64, employeeID, dept string, churned bool) domain.Record {
	r := domain.Record{ID: id, EmployeeID: employeeID, ChurnFlag: churned}
	if dept != "" {
		r.Department = domain.Ptr(dept)
	}
	return r
}

func textFile(name, body string) StagedFile {
	return NewStagedFile(name, int64(len(body)), func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(body)), nil
	})
}

func ids(records []domain.Record) []int64 {
	out := make([]int64, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}

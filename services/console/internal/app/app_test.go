package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"churnboard/pkg/domain"
	"churnboard/services/console/internal/dashboard"
)

type fakeChurnAPI struct {
	mu       sync.Mutex
	records  []domain.Record
	uploaded []string
}

func (f *fakeChurnAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/churn-data":
		_ = json.NewEncoder(w).Encode(f.records)
	case r.Method == http.MethodPost && r.URL.Path == "/upload":
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		result := domain.UploadResult{Message: "Processing complete"}
		for _, fh := range r.MultipartForm.File["files"] {
			f.uploaded = append(f.uploaded, fh.Filename)
			id := int64(len(f.records) + 1)
			f.records = append(f.records, domain.Record{ID: id, EmployeeID: "PENDING", ProcessingStatus: domain.StatusPending})
			result.Results = append(result.Results, domain.FileResult{Filename: fh.Filename, Status: "success", RecordID: &id})
		}
		_ = json.NewEncoder(w).Encode(result)
	case r.Method == http.MethodGet && r.URL.Path == "/export":
		w.Header().Set("Content-Disposition", `attachment; filename="consolidated_data.xlsx"`)
		_, _ = io.WriteString(w, "xlsx")
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"not found"}`)
	}
}

func newTestApp(t *testing.T, api http.Handler, maxBytes int64) (*App, string) {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	dir := t.TempDir()
	a, err := New(Config{ChurnAPIURL: srv.URL, StagingDir: dir, MaxUploadBytes: maxBytes})
	require.NoError(t, err)
	return a, dir
}

func TestStageAndSubmit(t *testing.T) {
	api := &fakeChurnAPI{}
	a, dir := newTestApp(t, api, 0)
	ctx := context.Background()
	a.Start(ctx)

	sf, err := a.StageFile("hr/records.csv", strings.NewReader("employee_id\nE1\n"))
	require.NoError(t, err)
	assert.Equal(t, "records.csv", sf.Name)
	assert.Equal(t, int64(15), sf.Size)
	assert.DirExists(t, dir+"/"+sf.Handle)

	_, err = a.Console().Upload.Submit(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"records.csv"}, api.uploaded)
	assert.NoDirExists(t, dir+"/"+sf.Handle, "submitted files leave the staging area")
	assert.Equal(t, 1, a.Console().Store.Len(), "upload refreshes the store")
}

func TestStageFileValidation(t *testing.T) {
	a, dir := newTestApp(t, &fakeChurnAPI{}, 4)

	_, err := a.StageFile("payload.exe", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrUnsupportedFileType)

	_, err = a.StageFile("big.txt", strings.NewReader("12345"))
	assert.ErrorIs(t, err, ErrFileTooLarge)
	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries)
	assert.Equal(t, dashboard.UploadIdle, a.Console().Upload.State())
}

func TestRemoveStagedFileDeletesContent(t *testing.T) {
	a, dir := newTestApp(t, &fakeChurnAPI{}, 0)
	sf, err := a.StageFile("cv.PDF", strings.NewReader("%PDF"))
	require.NoError(t, err)
	require.NoError(t, a.Console().Upload.RemoveFile(sf.Handle))
	assert.NoDirExists(t, dir+"/"+sf.Handle)
}

func TestExport(t *testing.T) {
	a, _ := newTestApp(t, &fakeChurnAPI{}, 0)
	doc, err := a.Export(context.Background())
	require.NoError(t, err)
	defer doc.Body.Close()
	data, _ := io.ReadAll(doc.Body)
	assert.Equal(t, "xlsx", string(data))
	assert.Equal(t, "consolidated_data.xlsx", doc.Filename)
}

func TestNewRequiresChurnAPIURL(t *testing.T) {
	_, err := New(Config{StagingDir: t.TempDir()})
	assert.Error(t, err)
}

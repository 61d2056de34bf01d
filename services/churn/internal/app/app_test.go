package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"churnboard/pkg/ai"
	"churnboard/pkg/domain"
	"churnboard/pkg/queue"
	"churnboard/pkg/storage"
	"churnboard/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type fakeGenerator struct {
	mu      sync.Mutex
	reply   string
	err     error
	systems []string
	users   []string
}

func (g *fakeGenerator) GenerateText(_ context.Context, system, user string, _ ...ai.Option) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.systems = append(g.systems, system)
	g.users = append(g.users, user)
	return g.reply, g.err
}

type recordingQueue struct {
	mu  sync.Mutex
	ids []int64
}

func (q *recordingQueue) Enqueue(_ context.Context, id int64) (queue.JobStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, id)
	return queue.JobStatus{ID: "job", RecordID: id, Status: queue.StatusQueued}, nil
}

func (q *recordingQueue) Start(context.Context, int, queue.Handler) {}

type fixture struct {
	app     *App
	store   *store.MemoryStore
	objects *storage.LocalStore
	gen     *fakeGenerator
}

func newFixture(t *testing.T, q queue.JobQueue) fixture {
	t.Helper()
	objects, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	gen := &fakeGenerator{}
	if q == nil {
		q = queue.NewInlineQueue()
	}
	s := store.NewMemoryStore()
	a, err := New(Config{Store: s, Objects: objects, Queue: q, Generator: gen})
	require.NoError(t, err)
	a.StartWorker(context.Background(), 1)
	return fixture{app: a, store: s, objects: objects, gen: gen}
}

func fileOf(name, content string) UploadFile {
	return UploadFile{
		Filename: name,
		Size:     int64(len(content)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(content)), nil
		},
	}
}

func TestUploadExtractsRecordInline(t *testing.T) {
	f := newFixture(t, nil)
	f.gen.reply = "```json\n" + `{"employee_id":"E-100","joining_date":"2019-04-01","exit_date":"None",` +
		`"department":"Sales","last_performance_rating":"4.5","salary":"$52,000","exit_reason":null,"churn_flag":false}` + "\n```"

	res, err := f.app.Upload(context.Background(), []UploadFile{
		fileOf("people.csv", "id,dept\nE-100,Sales\n"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Processing complete", res.Message)
	require.Len(t, res.Results, 1)
	assert.Equal(t, domain.FileStatusSuccess, res.Results[0].Status)
	require.NotNil(t, res.Results[0].RecordID)

	rec, ok, err := f.store.GetRecord(*res.Results[0].RecordID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "E-100", rec.EmployeeID)
	assert.Equal(t, domain.StatusCompleted, rec.ProcessingStatus)
	assert.Equal(t, "people.csv", rec.SourceFile)
	assert.Equal(t, 52000.0, *rec.Salary)
	assert.Equal(t, 4.5, *rec.LastPerformanceRating)
	assert.Equal(t, "2019-04-01", rec.JoiningDate.String())
	assert.Nil(t, rec.ExitDate)

	require.Len(t, f.gen.users, 1)
	assert.Equal(t, extractionSystemPrompt, f.gen.systems[0])
	assert.Contains(t, f.gen.users[0], `[{"dept":"Sales","id":"E-100"}]`)
}

func TestUploadUnsupportedExtensionStoresErrorRecord(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.app.Upload(context.Background(), []UploadFile{fileOf("bundle.zip", "PK")})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, domain.FileStatusFailed, res.Results[0].Status)
	assert.Equal(t, "unsupported file extension: .zip", res.Results[0].Error)

	rec, _, err := f.store.GetRecord(*res.Results[0].RecordID)
	require.NoError(t, err)
	assert.Equal(t, store.ErrorEmployeeID, rec.EmployeeID)
	assert.Equal(t, domain.StatusFailed, rec.ProcessingStatus)
	assert.Equal(t, "unsupported file extension: .zip", *rec.ExitReason)
	assert.Empty(t, f.gen.users)
}

func TestUploadWithoutEmployeeIDFails(t *testing.T) {
	f := newFixture(t, nil)
	f.gen.reply = `{"department":"HR"}`

	res, err := f.app.Upload(context.Background(), []UploadFile{fileOf("note.txt", "Resigned last week.")})
	require.NoError(t, err)
	assert.Equal(t, domain.FileStatusFailed, res.Results[0].Status)
	assert.Equal(t, ErrNoEmployeeID.Error(), res.Results[0].Error)
}

func TestUploadEmptyDocumentFails(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.app.Upload(context.Background(), []UploadFile{fileOf("blank.txt", "   \n")})
	require.NoError(t, err)
	assert.Equal(t, ErrNoText.Error(), res.Results[0].Error)
}

func TestUploadKeepsOrderAndQueuesAsync(t *testing.T) {
	q := &recordingQueue{}
	f := newFixture(t, q)

	res, err := f.app.Upload(context.Background(), []UploadFile{
		fileOf("a.pdf", "%PDF"),
		fileOf(`C:\scans\b.png`, "PNG"),
	})
	require.NoError(t, err)
	require.Len(t, res.Results, 2)
	assert.Equal(t, "a.pdf", res.Results[0].Filename)
	assert.Equal(t, "b.png", res.Results[1].Filename)
	for _, r := range res.Results {
		assert.Equal(t, domain.FileStatusQueued, r.Status)
	}
	assert.ElementsMatch(t, []int64{1, 2}, q.ids)

	list, err := f.app.ListRecords()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, store.PendingEmployeeID, list[0].EmployeeID)
}

func TestUploadRejectsOversizedFile(t *testing.T) {
	f := newFixture(t, nil)
	f.app.maxUploadBytes = 3

	res, err := f.app.Upload(context.Background(), []UploadFile{fileOf("big.txt", "four")})
	require.NoError(t, err)
	assert.Equal(t, ErrFileTooLarge.Error(), res.Results[0].Error)
	assert.Nil(t, res.Results[0].RecordID)

	_, err = f.app.Upload(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoFiles)
}

func TestProcessJobRetryOverwritesFailure(t *testing.T) {
	f := newFixture(t, &recordingQueue{})
	_, err := f.app.Upload(context.Background(), []UploadFile{fileOf("cv.txt", "Employee E-9 in Ops")})
	require.NoError(t, err)

	f.gen.err = errors.New("upstream 503")
	err = f.app.ProcessJob(context.Background(), queue.JobStatus{ID: "j", RecordID: 1, Attempts: 1})
	require.Error(t, err)
	assert.False(t, queue.IsPermanent(err))
	rec, _, _ := f.store.GetRecord(1)
	assert.Equal(t, domain.StatusFailed, rec.ProcessingStatus)

	f.gen.err = nil
	f.gen.reply = `{"employee_id":"E-9","department":"Ops","churn_flag":"yes"}`
	require.NoError(t, f.app.ProcessJob(context.Background(), queue.JobStatus{ID: "j", RecordID: 1, Attempts: 2}))
	rec, _, _ = f.store.GetRecord(1)
	assert.Equal(t, domain.StatusCompleted, rec.ProcessingStatus)
	assert.Equal(t, "E-9", rec.EmployeeID)
	assert.True(t, rec.ChurnFlag)

	err = f.app.ProcessJob(context.Background(), queue.JobStatus{ID: "j", RecordID: 77})
	assert.True(t, queue.IsPermanent(err))
}

func TestUpdateRecordRules(t *testing.T) {
	f := newFixture(t, &recordingQueue{})
	rec, err := f.store.CreatePending("a.txt", "k")
	require.NoError(t, err)

	assert.ErrorIs(t, f.app.UpdateRecord(rec.ID, domain.RecordPatch{EmployeeID: domain.SetTo("  ")}), ErrEmptyEmployeeID)
	assert.ErrorIs(t, f.app.UpdateRecord(rec.ID, domain.RecordPatch{EmployeeID: domain.SetNull[string]()}), ErrEmptyEmployeeID)
	assert.ErrorIs(t, f.app.UpdateRecord(404, domain.RecordPatch{Salary: domain.SetTo(1.0)}), ErrNotFound)

	require.NoError(t, f.app.UpdateRecord(rec.ID, domain.RecordPatch{
		EmployeeID: domain.SetTo(" E-1 "),
		Department: domain.SetTo(""),
		Salary:     domain.SetTo(61000.0),
	}))
	got, _, _ := f.store.GetRecord(rec.ID)
	assert.Equal(t, "E-1", got.EmployeeID)
	assert.Nil(t, got.Department)
	assert.Equal(t, 61000.0, *got.Salary)
}

func TestDeleteRecordRemovesOriginal(t *testing.T) {
	f := newFixture(t, &recordingQueue{})
	res, err := f.app.Upload(context.Background(), []UploadFile{fileOf("a.txt", "hello")})
	require.NoError(t, err)
	id := *res.Results[0].RecordID
	src, _, _ := f.store.GetSource(id)

	require.NoError(t, f.app.DeleteRecord(context.Background(), id))
	_, err = f.objects.Get(context.Background(), src.ObjectKey)
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
	assert.ErrorIs(t, f.app.DeleteRecord(context.Background(), id), ErrNotFound)
}

func TestExportWritesWorkbook(t *testing.T) {
	f := newFixture(t, &recordingQueue{})
	rec, err := f.store.CreatePending("a.pdf", "k")
	require.NoError(t, err)
	require.NoError(t, f.store.CompleteExtraction(rec.ID, domain.Extraction{
		EmployeeID: "E-1",
		Department: domain.Ptr("Finance"),
		Salary:     domain.Ptr(70000.0),
		ChurnFlag:  true,
	}, nil))

	var buf bytes.Buffer
	require.NoError(t, f.app.Export(&buf))

	wb, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer wb.Close()
	assert.Equal(t, []string{"Sheet1"}, wb.GetSheetList())
	rows, err := wb.GetRows("Sheet1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, exportColumns, rows[0])
	assert.Equal(t, "E-1", rows[1][1])
	assert.Equal(t, "Finance", rows[1][4])
	assert.Equal(t, "70000", rows[1][6])
	assert.Equal(t, "TRUE", rows[1][8])
	assert.Equal(t, "COMPLETED", rows[1][11])
}

func TestChatUsesAnalystPrompt(t *testing.T) {
	f := newFixture(t, &recordingQueue{})
	f.gen.reply = " Sales has the highest churn. "

	_, err := f.app.Chat(context.Background(), "  ", nil)
	assert.ErrorIs(t, err, ErrEmptyQuestion)

	answer, err := f.app.Chat(context.Background(), "Which department churns most?", []domain.Record{
		{ID: 1, EmployeeID: "E-1", Department: domain.Ptr("Sales"), ChurnFlag: true},
	})
	require.NoError(t, err)
	assert.Equal(t, "Sales has the highest churn.", answer)
	require.Len(t, f.gen.systems, 1)
	assert.Equal(t, analystSystemPrompt, f.gen.systems[0])
	assert.Contains(t, f.gen.users[0], `"employee_id":"E-1"`)
	assert.True(t, strings.HasSuffix(f.gen.users[0], "Question: Which department churns most?"))
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestChatAnswersOnlyFromSentSnapshot(t *testing.T) {
	f := newFixture(t, &recordingQueue{})
	f.gen.reply = "There is no data to analyse."
	pending, err := f.store.CreatePending("hr.csv", "uploads/x/hr.csv")
	require.NoError(t, err)
	require.NoError(t, f.store.CompleteExtraction(pending.ID, domain.Extraction{EmployeeID: "E-STORED"}, nil))

	_, err = f.app.Chat(context.Background(), "How many employees left?", nil)
	require.NoError(t, err)
	require.Len(t, f.gen.users, 1)
	assert.Contains(t, f.gen.users[0], "Here is the HR data in JSON format:\n[]\n")
	assert.NotContains(t, f.gen.users[0], "E-STORED")
}

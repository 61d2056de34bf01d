package dashboard

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"churnboard/pkg/domain"
)

func TestUploadStateTransitions(t *testing.T) {
	backend := newFakeBackend()
	var seen []float64
	var discarded []string
	var during UploadState
	c := New(backend, Config{UploadOptions: []UploadOption{
		WithProgressObserver(func(p float64) { seen = append(seen, p) }),
		WithDiscardHook(func(f StagedFile) { discarded = append(discarded, f.Name) }),
	}})
	backend.uploadFn = func(_ context.Context, files []StagedFile, progress ProgressFunc) (domain.UploadResult, error) {
		during = c.Upload.State()
		assert.ErrorIs(t, c.Upload.AddFiles(textFile("late.csv", "x")), ErrUploadInProgress)
		assert.ErrorIs(t, c.Upload.RemoveFile(files[0].Handle), ErrUploadInProgress)
		assert.ErrorIs(t, c.Upload.Clear(), ErrUploadInProgress)
		for _, f := range files {
			rc, err := f.Open()
			require.NoError(t, err)
			_, _ = io.Copy(io.Discard, rc)
			rc.Close()
		}
		progress(0, 200)
		progress(50, 200)
		progress(40, 200)
		progress(150, 200)
		return domain.UploadResult{Message: "Processing complete"}, nil
	}

	assert.Equal(t, UploadIdle, c.Upload.State())
	require.NoError(t, c.Upload.AddFiles(textFile("a.csv", "1"), textFile("b.pdf", "2")))
	assert.Equal(t, UploadStaged, c.Upload.State())

	_, err := c.Upload.Submit(context.Background())
	require.NoError(t, err)

	assert.Equal(t, UploadSubmitting, during)
	assert.Equal(t, UploadIdle, c.Upload.State())
	assert.Empty(t, c.Upload.Files())
	assert.Zero(t, c.Upload.Progress())
	assert.Equal(t, []string{"a.csv", "b.pdf"}, discarded)

	require.NotEmpty(t, seen)
	assert.IsNonDecreasing(t, seen)
	assert.Equal(t, 100.0, seen[len(seen)-1])

	list, _, _ := backend.calls()
	assert.Equal(t, 1, list, "successful upload refreshes the store")
	_, ok := c.Upload.LastResult()
	assert.True(t, ok)
}

func TestUploadFailureKeepsStagedFiles(t *testing.T) {
	backend := newFakeBackend()
	backend.uploadFn = func(_ context.Context, _ []StagedFile, progress ProgressFunc) (domain.UploadResult, error) {
		progress(10, 100)
		return domain.UploadResult{}, errRemote
	}
	c := New(backend, Config{})
	require.NoError(t, c.Upload.AddFiles(textFile("a.csv", "1"), textFile("b.xlsx", "2"), textFile("c.png", "3")))
	before := c.Upload.Files()

	_, err := c.Upload.Submit(context.Background())
	var uerr *UploadError
	require.ErrorAs(t, err, &uerr)
	assert.ErrorIs(t, err, errRemote)

	assert.Equal(t, before, c.Upload.Files())
	assert.Equal(t, UploadStaged, c.Upload.State())
	assert.Zero(t, c.Upload.Progress())
	list, _, _ := backend.calls()
	assert.Zero(t, list)
	assert.Equal(t, NoticeUpload, c.Notices.Recent()[0].Kind)
}

func TestUploadRequiresFiles(t *testing.T) {
	c := New(newFakeBackend(), Config{})
	_, err := c.Upload.Submit(context.Background())
	assert.ErrorIs(t, err, ErrNoStagedFiles)
}

func TestRemoveAndClearStagedFiles(t *testing.T) {
	var discarded []string
	c := New(newFakeBackend(), Config{UploadOptions: []UploadOption{
		WithDiscardHook(func(f StagedFile) { discarded = append(discarded, f.Name) }),
	}})
	a, b, d := textFile("a.csv", "1"), textFile("b.csv", "2"), textFile("d.csv", "3")
	require.NoError(t, c.Upload.AddFiles(a, b, d))

	require.NoError(t, c.Upload.RemoveFile(b.Handle))
	assert.ErrorIs(t, c.Upload.RemoveFile(b.Handle), ErrFileNotStaged)
	assert.Equal(t, []string{a.Handle, d.Handle}, []string{c.Upload.Files()[0].Handle, c.Upload.Files()[1].Handle})

	require.NoError(t, c.Upload.Clear())
	assert.Equal(t, UploadIdle, c.Upload.State())
	assert.Equal(t, []string{"b.csv", "a.csv", "d.csv"}, discarded)
}

func TestSubmitAsyncRejectsSecondSubmit(t *testing.T) {
	backend := newFakeBackend()
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	backend.uploadFn = func(_ context.Context, _ []StagedFile, _ ProgressFunc) (domain.UploadResult, error) {
		defer wg.Done()
		<-release
		return domain.UploadResult{}, nil
	}
	c := New(backend, Config{})
	require.NoError(t, c.Upload.AddFiles(textFile("a.csv", "1")))

	require.NoError(t, c.Upload.SubmitAsync(context.Background()))
	assert.ErrorIs(t, c.Upload.SubmitAsync(context.Background()), ErrUploadInProgress)
	assert.Equal(t, UploadSubmitting, c.Upload.State())
	close(release)
	wg.Wait()
	assert.Eventually(t, func() bool { return c.Upload.State() == UploadIdle }, time.Second, 5*time.Millisecond)
}

func TestPerFileFailuresBecomeNotices(t *testing.T) {
	backend := newFakeBackend()
	backend.uploadFn = func(context.Context, []StagedFile, ProgressFunc) (domain.UploadResult, error) {
		return domain.UploadResult{Results: []domain.FileResult{
			{Filename: "a.csv", Status: "success"},
			{Filename: "b.png", Status: "failed", Error: "no text"},
		}}, nil
	}
	c := New(backend, Config{})
	require.NoError(t, c.Upload.AddFiles(textFile("a.csv", "1"), textFile("b.png", "2")))
	_, err := c.Upload.Submit(context.Background())
	require.NoError(t, err)

	notices := c.Notices.Recent()
	require.Len(t, notices, 1)
	assert.Equal(t, "b.png: no text", notices[0].Message)
}

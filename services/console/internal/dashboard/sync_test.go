package dashboard

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"churnboard/pkg/domain"
)

func TestRefreshReplacesStore(t *testing.T) {
	backend := newFakeBackend(sampleRecords()...)
	c := New(backend, Config{})
	require.NoError(t, c.Sync.Refresh(context.Background()))
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, ids(c.Store.Snapshot()))
	assert.Equal(t, uint64(1), c.Store.Generation())
}

func TestRefreshFailureLeavesStoreUnchanged(t *testing.T) {
	backend := newFakeBackend(sampleRecords()...)
	c := New(backend, Config{})
	ctx := context.Background()
	require.NoError(t, c.Sync.Refresh(ctx))

	backend.listErr = errRemote
	err := c.Sync.Refresh(ctx)
	var ferr *FetchError
	require.ErrorAs(t, err, &ferr)
	assert.ErrorIs(t, err, errRemote)
	assert.Len(t, c.Store.Snapshot(), 5)

	notices := c.Notices.Recent()
	require.Len(t, notices, 1)
	assert.Equal(t, NoticeFetch, notices[0].Kind)
}

func TestStaleRefreshIsDiscarded(t *testing.T) {
	backend := newFakeBackend()
	release := make(chan struct{})
	started := make(chan struct{})
	backend.listFn = func(_ context.Context, call int) ([]domain.Record, error) {
		if call == 1 {
			close(started)
			<-release
			return []domain.Record{rec(1, "old", "", false)}, nil
		}
		return []domain.Record{rec(2, "new", "", false)}, nil
	}
	c := New(backend, Config{})
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, c.Sync.Refresh(ctx))
	}()
	<-started
	require.NoError(t, c.Sync.Refresh(ctx))
	close(release)
	wg.Wait()

	assert.Equal(t, []int64{2}, ids(c.Store.Snapshot()))
	assert.Equal(t, uint64(2), c.Store.Generation())
}

func TestApplyRejectsOlderGeneration(t *testing.T) {
	s := NewRecordStore()
	first := s.Issue()
	second := s.Issue()
	assert.True(t, s.Apply(second, []domain.Record{rec(2, "b", "", false)}))
	assert.False(t, s.Apply(first, []domain.Record{rec(1, "a", "", false)}))
	assert.Equal(t, []int64{2}, ids(s.Snapshot()))
}

func TestSnapshotIsIsolated(t *testing.T) {
	s := NewRecordStore()
	s.Apply(s.Issue(), []domain.Record{rec(1, "a", "Eng", false)})
	snap := s.Snapshot()
	*snap[0].Department = "changed"
	got, _ := s.Get(1)
	assert.Equal(t, "Eng", *got.Department)
}

func TestDeleteOne(t *testing.T) {
	backend := newFakeBackend(sampleRecords()...)
	c := New(backend, Config{})
	ctx := context.Background()
	require.NoError(t, c.Sync.Refresh(ctx))
	c.Selection.SelectPage([]int64{2, 3})

	require.NoError(t, c.Sync.DeleteOne(ctx, 2))
	assert.False(t, c.Store.Contains(2))
	assert.Equal(t, []int64{3}, c.Selection.IDs())
}

func TestDeleteOneFailure(t *testing.T) {
	backend := newFakeBackend(sampleRecords()...)
	backend.deleteErr[2] = errRemote
	c := New(backend, Config{})
	ctx := context.Background()
	require.NoError(t, c.Sync.Refresh(ctx))
	c.Selection.Toggle(2)

	err := c.Sync.DeleteOne(ctx, 2)
	var derr *DeleteError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, int64(2), derr.ID)
	assert.True(t, c.Store.Contains(2))
	assert.True(t, c.Selection.Contains(2))
	list, _, _ := backend.calls()
	assert.Equal(t, 1, list, "failed delete must not refresh")
}

func TestDeleteManyPartialFailure(t *testing.T) {
	backend := newFakeBackend(rec(1, "a", "", false), rec(2, "b", "", false), rec(3, "c", "", false))
	backend.deleteErr[2] = errRemote
	c := New(backend, Config{})
	ctx := context.Background()
	require.NoError(t, c.Sync.Refresh(ctx))
	c.Selection.SelectPage([]int64{1, 2, 3})

	deleted, err := c.DeleteSelected(ctx)
	assert.Equal(t, []int64{1, 3}, deleted)

	var berr *BatchDeleteError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, []int64{2}, berr.FailedIDs())
	assert.Contains(t, err.Error(), "ids: 2")
	assert.ErrorIs(t, err, errRemote)

	assert.Equal(t, []int64{2}, ids(c.Store.Snapshot()))
	assert.Equal(t, []int64{2}, c.Selection.IDs())

	list, _, deletes := backend.calls()
	assert.Equal(t, []int64{1, 2, 3}, deletes, "deletes run sequentially in order")
	assert.Equal(t, 2, list, "one refresh after the batch")
}

func TestDeleteManyAllSucceed(t *testing.T) {
	backend := newFakeBackend(sampleRecords()...)
	c := New(backend, Config{})
	ctx := context.Background()
	require.NoError(t, c.Sync.Refresh(ctx))

	deleted, err := c.Sync.DeleteMany(ctx, []int64{4, 4, 5})
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 5}, deleted)
	assert.Equal(t, []int64{1, 2, 3}, ids(c.Store.Snapshot()))

	deleted, err = c.Sync.DeleteMany(ctx, nil)
	assert.NoError(t, err)
	assert.Nil(t, deleted)
}

func TestUpdateRefreshFailureStillSucceeds(t *testing.T) {
	backend := newFakeBackend(salaried(1, 10))
	c := New(backend, Config{})
	ctx := context.Background()
	require.NoError(t, c.Sync.Refresh(ctx))
	c.Edit.Begin(salaried(1, 10))

	backend.listErr = errors.New("list down")
	require.NoError(t, c.Sync.Update(ctx, 1, domain.RecordPatch{Department: domain.SetTo("HR")}))

	_, active := c.Edit.Active()
	assert.False(t, active)
	stored, _ := c.Store.Get(1)
	assert.Equal(t, "Ops", *stored.Department, "store keeps last good snapshot")
	assert.Equal(t, NoticeFetch, c.Notices.Recent()[0].Kind)
}

func TestRefreshDropsDraftForVanishedRecord(t *testing.T) {
	backend := newFakeBackend(sampleRecords()...)
	c := New(backend, Config{})
	ctx := context.Background()
	require.NoError(t, c.Sync.Refresh(ctx))
	_, err := c.BeginEdit(5)
	require.NoError(t, err)

	backend.mu.Lock()
	backend.records = backend.records[:4]
	backend.mu.Unlock()
	require.NoError(t, c.Sync.Refresh(ctx))

	_, active := c.Edit.Active()
	assert.False(t, active)
}

func TestDeleteManyRefreshEach(t *testing.T) {
	backend := newFakeBackend(rec(1, "a", "", false), rec(2, "b", "", false), rec(3, "c", "", false))
	backend.deleteErr[2] = errRemote
	c := New(backend, Config{BatchRefresh: RefreshEach})
	ctx := context.Background()
	require.NoError(t, c.Sync.Refresh(ctx))

	deleted, err := c.Sync.DeleteMany(ctx, []int64{1, 2, 3})
	require.Error(t, err)
	assert.Equal(t, []int64{1, 3}, deleted)
	assert.Equal(t, []int64{2}, ids(c.Store.Snapshot()))

	list, _, _ := backend.calls()
	assert.Equal(t, 3, list, "one refresh per successful delete")
}

func TestSetBatchRefreshIgnoresUnknownPolicy(t *testing.T) {
	backend := newFakeBackend(rec(1, "a", "", false))
	c := New(backend, Config{BatchRefresh: "sometimes"})
	ctx := context.Background()
	require.NoError(t, c.Sync.Refresh(ctx))

	_, err := c.Sync.DeleteMany(ctx, []int64{1})
	require.NoError(t, err)
	list, _, _ := backend.calls()
	assert.Equal(t, 2, list)
}

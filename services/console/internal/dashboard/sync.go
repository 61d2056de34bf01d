package dashboard

import (
	"context"
	"log/slog"

	"churnboard/pkg/domain"
)

// Remote is the record collection the console mirrors.
type Remote interface {
	List(ctx context.Context) ([]domain.Record, error)
	Update(ctx context.Context, id int64, patch domain.RecordPatch) error
	Delete(ctx context.Context, id int64) error
}

// BatchRefresh controls when DeleteMany re-fetches the collection.
type BatchRefresh string

const (
	// RefreshOnce re-fetches after the whole batch has been attempted.
	RefreshOnce BatchRefresh = "once"
	// RefreshEach re-fetches after every successful deletion.
	RefreshEach BatchRefresh = "each"
)

// Syncer issues calls against the remote collection and reconciles the
// results into the local containers. Every successful mutation is followed
// by a full refresh; the remote is authoritative and nothing is patched
// locally.
type Syncer struct {
	remote    Remote
	store     *RecordStore
	selection *Selection
	edit      *EditSession
	notices   *Notices
	logger    *slog.Logger
	batch     BatchRefresh
}

func NewSyncer(remote Remote, store *RecordStore, selection *Selection, edit *EditSession, notices *Notices, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		remote:    remote,
		store:     store,
		selection: selection,
		edit:      edit,
		notices:   notices,
		logger:    logger,
		batch:     RefreshOnce,
	}
}

// SetBatchRefresh selects the DeleteMany refresh policy. Unknown values keep
// the current one.
func (s *Syncer) SetBatchRefresh(policy BatchRefresh) {
	switch policy {
	case RefreshOnce, RefreshEach:
		s.batch = policy
	}
}

// Refresh replaces the record store with the remote collection. A response
// overtaken by a newer Refresh is dropped and reported as success.
func (s *Syncer) Refresh(ctx context.Context) error {
	gen := s.store.Issue()
	records, err := s.remote.List(ctx)
	if err != nil {
		ferr := &FetchError{Cause: err}
		s.notices.Push(NoticeFetch, ferr.Error())
		s.logger.WarnContext(ctx, "refresh failed", "generation", gen, "err", err)
		return ferr
	}
	if !s.store.Apply(gen, records) {
		s.logger.DebugContext(ctx, "stale refresh discarded", "generation", gen)
		return nil
	}
	s.selection.Retain(s.store.Contains)
	if s.edit.dropIfMissing(s.store.Contains) {
		s.logger.InfoContext(ctx, "edit target no longer exists, draft dropped")
	}
	s.logger.DebugContext(ctx, "records refreshed", "generation", gen, "count", len(records))
	return nil
}

// Update sends patch for id. On success the draft for id is cleared and the
// store refreshed; a failing refresh is noticed but does not fail the update.
func (s *Syncer) Update(ctx context.Context, id int64, patch domain.RecordPatch) error {
	if err := s.remote.Update(ctx, id, patch); err != nil {
		uerr := &UpdateError{ID: id, Cause: err}
		s.notices.Push(NoticeUpdate, uerr.Error())
		s.logger.WarnContext(ctx, "update failed", "record_id", id, "err", err)
		return uerr
	}
	s.edit.Finish(id)
	s.logger.InfoContext(ctx, "record updated", "record_id", id)
	_ = s.Refresh(ctx)
	return nil
}

// DeleteOne removes id remotely, unselects it, and refreshes.
func (s *Syncer) DeleteOne(ctx context.Context, id int64) error {
	if err := s.deleteOne(ctx, id); err != nil {
		return err
	}
	_ = s.Refresh(ctx)
	return nil
}

func (s *Syncer) deleteOne(ctx context.Context, id int64) *DeleteError {
	if err := s.remote.Delete(ctx, id); err != nil {
		derr := &DeleteError{ID: id, Cause: err}
		s.notices.Push(NoticeDelete, derr.Error())
		s.logger.WarnContext(ctx, "delete failed", "record_id", id, "err", err)
		return derr
	}
	s.selection.DeselectPage([]int64{id})
	s.edit.Finish(id)
	s.logger.InfoContext(ctx, "record deleted", "record_id", id)
	return nil
}

// DeleteMany deletes ids one at a time and refreshes according to the batch
// policy. Failed ids stay selected and are returned in a *BatchDeleteError;
// deleted ids are returned either way.
func (s *Syncer) DeleteMany(ctx context.Context, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	seen := make(map[int64]struct{}, len(ids))
	var deleted []int64
	var failed []*DeleteError
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if derr := s.deleteOne(ctx, id); derr != nil {
			failed = append(failed, derr)
			continue
		}
		deleted = append(deleted, id)
		if s.batch == RefreshEach {
			_ = s.Refresh(ctx)
		}
	}
	if s.batch == RefreshOnce || len(deleted) == 0 {
		_ = s.Refresh(ctx)
	}

	if len(failed) > 0 {
		return deleted, &BatchDeleteError{Failed: failed, Deleted: deleted}
	}
	return deleted, nil
}

package dashboard

import (
	"context"
	"log/slog"

	"churnboard/pkg/domain"
)

// Backend is everything the console needs from the remote API.
type Backend interface {
	Remote
	Uploader
	Asker
}

// Config tunes a Console.
type Config struct {
	PageSize       int
	NoticeCapacity int
	BatchRefresh   BatchRefresh
	Logger         *slog.Logger
	UploadOptions  []UploadOption
}

// Console composes the state containers around one backend.
type Console struct {
	Store     *RecordStore
	Query     *QueryState
	Selection *Selection
	Edit      *EditSession
	Sync      *Syncer
	Upload    *UploadPipeline
	Chat      *ChatSession
	Notices   *Notices

	pageSize int
}

func New(backend Backend, cfg Config) *Console {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	c := &Console{
		Store:     NewRecordStore(),
		Query:     NewQueryState(),
		Selection: NewSelection(),
		Edit:      NewEditSession(),
		Notices:   NewNotices(cfg.NoticeCapacity),
		pageSize:  pageSize,
	}
	c.Sync = NewSyncer(backend, c.Store, c.Selection, c.Edit, c.Notices, logger.With("component", "sync"))
	c.Sync.SetBatchRefresh(cfg.BatchRefresh)
	c.Upload = NewUploadPipeline(backend, c.Sync, c.Notices, logger.With("component", "upload"), cfg.UploadOptions...)
	c.Chat = NewChatSession(backend, c.Notices, logger.With("component", "chat"))
	return c
}

// PageSize is fixed for the lifetime of the console.
func (c *Console) PageSize() int {
	return c.pageSize
}

// Screen is everything the record table renders.
type Screen struct {
	View
	SearchTerm  string         `json:"searchTerm"`
	Selected    []int64        `json:"selected"`
	AllSelected bool           `json:"allSelected"`
	Draft       *Draft         `json:"draft,omitempty"`
	Summary     domain.Summary `json:"summary"`
}

// Current computes the visible page for the current query.
func (c *Console) Current() Screen {
	records := c.Store.Snapshot()
	term, page := c.Query.Current()
	view := ComputeView(records, term, page, c.pageSize)
	screen := Screen{
		View:        view,
		SearchTerm:  term,
		Selected:    c.Selection.IDs(),
		AllSelected: c.Selection.AllSelected(view.IDs()),
		Summary:     Summarize(records),
	}
	if d, ok := c.Edit.Active(); ok {
		screen.Draft = &d
	}
	return screen
}

// SetSelectAllOnPage selects or unselects exactly the ids on the visible page.
func (c *Console) SetSelectAllOnPage(selected bool) {
	ids := c.Current().IDs()
	if selected {
		c.Selection.SelectPage(ids)
		return
	}
	c.Selection.DeselectPage(ids)
}

// ToggleSelection flips id in the selection. Only stored records can be
// selected; an id already selected can always be unselected.
func (c *Console) ToggleSelection(id int64) (bool, error) {
	if !c.Store.Contains(id) && !c.Selection.Contains(id) {
		return false, ErrRecordNotFound
	}
	return c.Selection.Toggle(id), nil
}

// BeginEdit starts editing the stored record id.
func (c *Console) BeginEdit(id int64) (Draft, error) {
	rec, ok := c.Store.Get(id)
	if !ok {
		return Draft{}, ErrRecordNotFound
	}
	return c.Edit.Begin(rec), nil
}

// CommitEdit validates the draft and sends it through the syncer.
func (c *Console) CommitEdit(ctx context.Context) error {
	return c.Edit.Commit(ctx, c.Sync)
}

// DeleteSelected batch-deletes the current selection.
func (c *Console) DeleteSelected(ctx context.Context) ([]int64, error) {
	return c.Sync.DeleteMany(ctx, c.Selection.IDs())
}

// Analytics returns the chart series and header counters.
func (c *Console) Analytics() ([]domain.DepartmentChurn, domain.Summary) {
	records := c.Store.Snapshot()
	return AggregateByDepartment(records), Summarize(records)
}

// Ask sends question scoped to the records held right now.
func (c *Console) Ask(ctx context.Context, question string) (string, error) {
	return c.Chat.Ask(ctx, question, c.Store.Snapshot())
}

// AskAsync is Ask without waiting for the answer.
func (c *Console) AskAsync(ctx context.Context, question string) error {
	return c.Chat.Submit(ctx, question, c.Store.Snapshot())
}

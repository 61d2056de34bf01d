package dashboard

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"churnboard/pkg/domain"
)

type UploadState string

const (
	UploadIdle       UploadState = "idle"
	UploadStaged     UploadState = "staged"
	UploadSubmitting UploadState = "submitting"
)

// StagedFile is a selected but not yet submitted file.
type StagedFile struct {
	Handle string `json:"handle"`
	Name   string `json:"name"`
	Size   int64  `json:"size"`

	open func() (io.ReadCloser, error)
}

// NewStagedFile wraps a file whose content is read by open at submit time.
func NewStagedFile(name string, size int64, open func() (io.ReadCloser, error)) StagedFile {
	return StagedFile{Handle: uuid.NewString(), Name: name, Size: size, open: open}
}

// Open returns the file content.
func (f StagedFile) Open() (io.ReadCloser, error) {
	if f.open == nil {
		return nil, fmt.Errorf("staged file %s has no content", f.Name)
	}
	return f.open()
}

// ProgressFunc receives transport progress in bytes.
type ProgressFunc func(sent, total int64)

// Uploader sends a file batch to the ingestion endpoint as one request.
type Uploader interface {
	Upload(ctx context.Context, files []StagedFile, progress ProgressFunc) (domain.UploadResult, error)
}

// Refresher reloads the record store.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// UploadPipeline owns the staged file set and drives submission.
type UploadPipeline struct {
	mu         sync.Mutex
	files      []StagedFile
	submitting bool
	progress   float64
	last       *domain.UploadResult

	uploader   Uploader
	refresher  Refresher
	notices    *Notices
	logger     *slog.Logger
	onProgress func(float64)
	onDiscard  func(StagedFile)
}

// UploadOption customizes an UploadPipeline.
type UploadOption func(*UploadPipeline)

// WithProgressObserver is called with every progress value during a submit.
func WithProgressObserver(fn func(percent float64)) UploadOption {
	return func(p *UploadPipeline) { p.onProgress = fn }
}

// WithDiscardHook is called for each file leaving the staged set.
func WithDiscardHook(fn func(StagedFile)) UploadOption {
	return func(p *UploadPipeline) { p.onDiscard = fn }
}

func NewUploadPipeline(uploader Uploader, refresher Refresher, notices *Notices, logger *slog.Logger, opts ...UploadOption) *UploadPipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &UploadPipeline{uploader: uploader, refresher: refresher, notices: notices, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State is derived: Submitting while a submit runs, Staged with files, else Idle.
func (p *UploadPipeline) State() UploadState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stateLocked()
}

func (p *UploadPipeline) stateLocked() UploadState {
	switch {
	case p.submitting:
		return UploadSubmitting
	case len(p.files) > 0:
		return UploadStaged
	default:
		return UploadIdle
	}
}

// Progress returns the percentage of the running submit, or 0.
func (p *UploadPipeline) Progress() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.progress
}

// Files returns the staged files in order.
func (p *UploadPipeline) Files() []StagedFile {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]StagedFile(nil), p.files...)
}

// LastResult returns the response of the most recent successful submit.
func (p *UploadPipeline) LastResult() (domain.UploadResult, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return domain.UploadResult{}, false
	}
	return *p.last, true
}

// AddFiles appends files to the staged set. Rejected while submitting.
func (p *UploadPipeline) AddFiles(files ...StagedFile) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.submitting {
		return ErrUploadInProgress
	}
	p.files = append(p.files, files...)
	return nil
}

// RemoveFile unstages the file with handle. Rejected while submitting.
func (p *UploadPipeline) RemoveFile(handle string) error {
	p.mu.Lock()
	if p.submitting {
		p.mu.Unlock()
		return ErrUploadInProgress
	}
	for i, f := range p.files {
		if f.Handle == handle {
			p.files = append(p.files[:i], p.files[i+1:]...)
			p.mu.Unlock()
			p.discard(f)
			return nil
		}
	}
	p.mu.Unlock()
	return ErrFileNotStaged
}

// Clear unstages every file. Rejected while submitting.
func (p *UploadPipeline) Clear() error {
	p.mu.Lock()
	if p.submitting {
		p.mu.Unlock()
		return ErrUploadInProgress
	}
	files := p.files
	p.files = nil
	p.mu.Unlock()
	p.discard(files...)
	return nil
}

// Submit sends every staged file in one request and waits for the result.
// Progress is reported as a non-decreasing percentage ending at 100 on
// success. On success the staged set is cleared and the record store
// refreshed; on failure the staged set is kept and an *UploadError returned.
// Progress returns to 0 either way.
func (p *UploadPipeline) Submit(ctx context.Context) (domain.UploadResult, error) {
	batch, err := p.begin()
	if err != nil {
		return domain.UploadResult{}, err
	}
	return p.run(ctx, batch)
}

// SubmitAsync starts Submit in the background once the batch is accepted.
// The request outlives ctx cancellation.
func (p *UploadPipeline) SubmitAsync(ctx context.Context) error {
	batch, err := p.begin()
	if err != nil {
		return err
	}
	go func() {
		_, _ = p.run(context.WithoutCancel(ctx), batch)
	}()
	return nil
}

func (p *UploadPipeline) begin() ([]StagedFile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.submitting {
		return nil, ErrUploadInProgress
	}
	if len(p.files) == 0 {
		return nil, ErrNoStagedFiles
	}
	p.submitting = true
	p.progress = 0
	return append([]StagedFile(nil), p.files...), nil
}

func (p *UploadPipeline) run(ctx context.Context, batch []StagedFile) (domain.UploadResult, error) {
	p.logger.InfoContext(ctx, "upload started", "files", len(batch))
	result, err := p.uploader.Upload(ctx, batch, p.report)
	if err != nil {
		p.finish(nil)
		uerr := &UploadError{Cause: err}
		p.notices.Push(NoticeUpload, uerr.Error())
		p.logger.WarnContext(ctx, "upload failed", "files", len(batch), "err", err)
		return domain.UploadResult{}, uerr
	}

	p.setProgress(100)
	p.finish(&result)
	p.discard(batch...)
	for _, fr := range result.Results {
		if fr.Status == domain.FileStatusFailed {
			p.notices.Push(NoticeUpload, fmt.Sprintf("%s: %s", fr.Filename, fr.Error))
		}
	}
	p.logger.InfoContext(ctx, "upload finished", "files", len(batch))
	if p.refresher != nil {
		_ = p.refresher.Refresh(ctx)
	}
	return result, nil
}

func (p *UploadPipeline) finish(result *domain.UploadResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submitting = false
	p.progress = 0
	if result != nil {
		p.files = nil
		p.last = result
	}
}

func (p *UploadPipeline) report(sent, total int64) {
	if total <= 0 {
		return
	}
	p.setProgress(float64(sent) * 100 / float64(total))
}

func (p *UploadPipeline) setProgress(pct float64) {
	pct = min(max(pct, 0), 100)
	p.mu.Lock()
	if !p.submitting || pct < p.progress || (pct == p.progress && pct != 0) {
		p.mu.Unlock()
		return
	}
	p.progress = pct
	observer := p.onProgress
	p.mu.Unlock()
	if observer != nil {
		observer(pct)
	}
}

func (p *UploadPipeline) discard(files ...StagedFile) {
	if p.onDiscard == nil {
		return
	}
	for _, f := range files {
		p.onDiscard(f)
	}
}

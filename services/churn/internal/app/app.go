package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"churnboard/internal/util"
	"churnboard/pkg/ai"
	"churnboard/pkg/domain"
	"churnboard/pkg/queue"
	"churnboard/pkg/storage"
	"churnboard/pkg/store"
	"golang.org/x/sync/errgroup"
)

const (
	defaultOCRCommand        = "tesseract"
	defaultUploadConcurrency = 4
	uploadMessage            = "Processing complete"
)

// Config holds runtime dependencies.
type Config struct {
	Store             store.RecordStore
	Objects           storage.ObjectStore
	Queue             queue.JobQueue
	Generator         ai.TextGenerator
	OCRCommand        string
	OCRTimeout        time.Duration
	MaxUploadBytes    int64
	UploadConcurrency int
	Logger            *slog.Logger
}

// UploadFile is one part of an ingestion request.
type UploadFile struct {
	Filename    string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

// App ingests documents into employee records and serves them.
type App struct {
	store             store.RecordStore
	objects           storage.ObjectStore
	queue             queue.JobQueue
	generator         ai.TextGenerator
	ocrCommand        string
	ocrTimeout        time.Duration
	maxUploadBytes    int64
	uploadConcurrency int
	logger            *slog.Logger
}

// New validates cfg and builds the application.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("record store required")
	}
	if cfg.Objects == nil {
		return nil, errors.New("object store required")
	}
	if cfg.Queue == nil {
		return nil, errors.New("job queue required")
	}
	ocr := strings.TrimSpace(cfg.OCRCommand)
	if ocr == "" {
		ocr = defaultOCRCommand
	}
	concurrency := cfg.UploadConcurrency
	if concurrency <= 0 {
		concurrency = defaultUploadConcurrency
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		store:             cfg.Store,
		objects:           cfg.Objects,
		queue:             cfg.Queue,
		generator:         cfg.Generator,
		ocrCommand:        ocr,
		ocrTimeout:        cfg.OCRTimeout,
		maxUploadBytes:    cfg.MaxUploadBytes,
		uploadConcurrency: concurrency,
		logger:            logger,
	}, nil
}

// StartWorker registers ProcessJob with the queue and starts consuming.
func (a *App) StartWorker(ctx context.Context, concurrency int) {
	a.queue.Start(ctx, concurrency, a.ProcessJob)
}

// ListRecords returns every stored record ordered by id.
func (a *App) ListRecords() ([]domain.Record, error) {
	return a.store.ListRecords()
}

// UpdateRecord applies the set fields of patch. Blank department or
// exit_reason values clear the field.
func (a *App) UpdateRecord(id int64, patch domain.RecordPatch) error {
	if patch.EmployeeID.Set {
		if patch.EmployeeID.Value == nil || strings.TrimSpace(*patch.EmployeeID.Value) == "" {
			return ErrEmptyEmployeeID
		}
		patch.EmployeeID = domain.SetTo(strings.TrimSpace(*patch.EmployeeID.Value))
	}
	patch.Department = blankToNull(patch.Department)
	patch.ExitReason = blankToNull(patch.ExitReason)
	ok, err := a.store.UpdateRecord(id, patch)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func blankToNull(f domain.PatchField[string]) domain.PatchField[string] {
	if f.Set && f.Value != nil && strings.TrimSpace(*f.Value) == "" {
		return domain.SetNull[string]()
	}
	return f
}

// DeleteRecord removes a record and, best effort, its uploaded original.
func (a *App) DeleteRecord(ctx context.Context, id int64) error {
	src, found, err := a.store.GetSource(id)
	if err != nil {
		return err
	}
	ok, err := a.store.DeleteRecord(id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	if found && src.ObjectKey != "" {
		if err := a.objects.Delete(ctx, src.ObjectKey); err != nil {
			a.logger.WarnContext(ctx, "object_delete_failed", "record_id", id, "key", src.ObjectKey, "err", err)
		}
	}
	return nil
}

// Upload stores each file, creates a pending record for it and hands it to
// the extraction queue. Files are handled concurrently; results keep the
// request order.
func (a *App) Upload(ctx context.Context, files []UploadFile) (domain.UploadResult, error) {
	if len(files) == 0 {
		return domain.UploadResult{}, ErrNoFiles
	}
	results := make([]domain.FileResult, len(files))
	var g errgroup.Group
	g.SetLimit(a.uploadConcurrency)
	for i, f := range files {
		g.Go(func() error {
			results[i] = a.ingest(ctx, f)
			return nil
		})
	}
	_ = g.Wait()
	return domain.UploadResult{Message: uploadMessage, Results: results}, nil
}

func (a *App) ingest(ctx context.Context, f UploadFile) domain.FileResult {
	name := cleanFilename(f.Filename)
	res := domain.FileResult{Filename: name}
	fail := func(err error) domain.FileResult {
		res.Status = domain.FileStatusFailed
		res.Error = store.TruncateReason(err.Error())
		return res
	}
	if a.maxUploadBytes > 0 && f.Size > a.maxUploadBytes {
		return fail(ErrFileTooLarge)
	}

	key := path.Join("uploads", util.NewID(), name)
	rc, err := f.Open()
	if err != nil {
		return fail(fmt.Errorf("open upload: %w", err))
	}
	err = a.objects.Put(ctx, key, rc, f.Size, f.ContentType)
	_ = rc.Close()
	if err != nil {
		a.logger.ErrorContext(ctx, "upload_store_failed", "filename", name, "err", err)
		return fail(err)
	}

	rec, err := a.store.CreatePending(name, key)
	if err != nil {
		a.logger.ErrorContext(ctx, "upload_record_failed", "filename", name, "err", err)
		_ = a.objects.Delete(ctx, key)
		return fail(err)
	}
	id := rec.ID
	res.RecordID = &id

	job, err := a.queue.Enqueue(ctx, rec.ID)
	if err != nil {
		err = fmt.Errorf("enqueue extraction: %w", err)
		_ = a.store.FailExtraction(rec.ID, err.Error())
		return fail(err)
	}
	switch job.Status {
	case queue.StatusDone:
		res.Status = domain.FileStatusSuccess
	case queue.StatusFailed:
		return fail(errors.New(job.ErrorMessage))
	default:
		res.Status = domain.FileStatusQueued
	}
	a.logger.InfoContext(ctx, "upload_accepted", "filename", name, "record_id", rec.ID, "job_id", job.ID, "status", res.Status)
	return res
}

// ProcessJob extracts the record behind job. Every failure is written to
// the record so it shows as FAILED; a later successful retry overwrites it.
func (a *App) ProcessJob(ctx context.Context, job queue.JobStatus) error {
	logger := a.logger.With("job_id", job.ID, "record_id", job.RecordID, "attempt", job.Attempts)
	src, ok, err := a.store.GetSource(job.RecordID)
	if err != nil {
		return err
	}
	if !ok {
		return queue.Permanent(ErrNotFound)
	}
	start := time.Now()
	ext, raw, err := a.extractRecord(ctx, src)
	if err != nil {
		logger.WarnContext(ctx, "extraction_failed", "filename", src.SourceFile, "err", err)
		if ferr := a.store.FailExtraction(src.RecordID, err.Error()); ferr != nil {
			return fmt.Errorf("%w (mark failed: %v)", err, ferr)
		}
		return err
	}
	if err := a.store.CompleteExtraction(src.RecordID, ext, raw); err != nil {
		return err
	}
	logger.InfoContext(ctx, "extraction_done", "filename", src.SourceFile, "employee_id", ext.EmployeeID, "took", time.Since(start).String())
	return nil
}

// extractRecord wraps deterministic failures with queue.Permanent.
func (a *App) extractRecord(ctx context.Context, src store.Source) (domain.Extraction, []byte, error) {
	rc, err := a.objects.Get(ctx, src.ObjectKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return domain.Extraction{}, nil, queue.Permanent(err)
		}
		return domain.Extraction{}, nil, err
	}
	tmp, err := copyToTemp(rc, src.SourceFile)
	_ = rc.Close()
	if err != nil {
		return domain.Extraction{}, nil, fmt.Errorf("spool upload: %w", err)
	}
	defer os.Remove(tmp)

	text, err := a.extractText(ctx, src.SourceFile, tmp)
	if err != nil {
		return domain.Extraction{}, nil, queue.Permanent(err)
	}
	ext, raw, err := a.extractProfile(ctx, text)
	if errors.Is(err, ErrNoEmployeeID) || errors.Is(err, ErrGeneratorRequired) {
		return domain.Extraction{}, nil, queue.Permanent(err)
	}
	return ext, raw, err
}

// Export writes all records as an xlsx workbook.
func (a *App) Export(w io.Writer) error {
	records, err := a.store.ListRecords()
	if err != nil {
		return err
	}
	return writeWorkbook(w, records)
}

// Chat answers question strictly from the snapshot the caller sent. An empty
// snapshot is answered as empty; the store is never consulted.
func (a *App) Chat(ctx context.Context, question string, data []domain.Record) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", ErrEmptyQuestion
	}
	if data == nil {
		data = []domain.Record{}
	}
	return a.answer(ctx, question, data)
}

func cleanFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "" || name == "." || name == "/" {
		return "upload"
	}
	return name
}

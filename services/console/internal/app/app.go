package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"churnboard/internal/servicetoken"
	"churnboard/pkg/domain"
	"churnboard/services/console/internal/churnclient"
	"churnboard/services/console/internal/dashboard"
	"churnboard/services/console/internal/staging"
)

// DefaultAllowedExtensions are the formats the churn API can extract records from.
var DefaultAllowedExtensions = []string{".pdf", ".csv", ".xls", ".xlsx", ".html", ".htm", ".txt", ".jpg", ".jpeg", ".png"}

const defaultMaxUploadBytes = 20 << 20

// Config holds runtime configuration for the console core.
type Config struct {
	ChurnAPIURL       string
	RequestTimeout    time.Duration
	StagingDir        string
	PageSize          int
	NoticeCapacity    int
	BatchRefresh      string
	MaxUploadBytes    int64
	AllowedExtensions []string
	Signer            *servicetoken.Signer
	Logger            *slog.Logger
}

// App wires the dashboard state containers to the churn API client and the
// on-disk staging area.
type App struct {
	console        *dashboard.Console
	client         *churnclient.Client
	files          *staging.FileStore
	maxUploadBytes int64
	allowed        map[string]struct{}
	logger         *slog.Logger
}

// New constructs the console core. It does not contact the churn API.
func New(cfg Config) (*App, error) {
	if strings.TrimSpace(cfg.ChurnAPIURL) == "" {
		return nil, fmt.Errorf("churn API URL required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	files, err := staging.NewFileStore(cfg.StagingDir)
	if err != nil {
		return nil, err
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	exts := cfg.AllowedExtensions
	if len(exts) == 0 {
		exts = DefaultAllowedExtensions
	}
	allowed := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allowed[ext] = struct{}{}
	}

	client := churnclient.NewClient(cfg.ChurnAPIURL, cfg.RequestTimeout, cfg.Signer)
	a := &App{
		client:         client,
		files:          files,
		maxUploadBytes: cfg.MaxUploadBytes,
		allowed:        allowed,
		logger:         logger,
	}
	a.console = dashboard.New(backend{Client: client}, dashboard.Config{
		PageSize:       cfg.PageSize,
		NoticeCapacity: cfg.NoticeCapacity,
		BatchRefresh:   dashboard.BatchRefresh(strings.ToLower(strings.TrimSpace(cfg.BatchRefresh))),
		Logger:         logger,
		UploadOptions:  []dashboard.UploadOption{dashboard.WithDiscardHook(a.discardStaged)},
	})
	return a, nil
}

// Console exposes the state containers.
func (a *App) Console() *dashboard.Console {
	return a.console
}

// Start performs the initial fetch. A failure is logged and noticed; the
// console stays usable with an empty store.
func (a *App) Start(ctx context.Context) {
	if err := a.console.Sync.Refresh(ctx); err != nil {
		a.logger.WarnContext(ctx, "initial refresh failed", "err", err)
	}
}

// StageFile copies r to the staging area and adds it to the upload pipeline.
func (a *App) StageFile(name string, r io.Reader) (dashboard.StagedFile, error) {
	name = staging.SafeFilename(name)
	if _, ok := a.allowed[strings.ToLower(filepath.Ext(name))]; !ok {
		return dashboard.StagedFile{}, fmt.Errorf("%w: %s", ErrUnsupportedFileType, name)
	}
	if a.console.Upload.State() == dashboard.UploadSubmitting {
		return dashboard.StagedFile{}, dashboard.ErrUploadInProgress
	}

	var handle string
	sf := dashboard.NewStagedFile(name, 0, func() (io.ReadCloser, error) {
		return a.files.Open(handle)
	})
	handle = sf.Handle

	n, err := a.files.Save(handle, name, io.LimitReader(r, a.maxUploadBytes+1))
	if err != nil {
		return dashboard.StagedFile{}, fmt.Errorf("stage file: %w", err)
	}
	if n > a.maxUploadBytes {
		_ = a.files.Delete(handle)
		return dashboard.StagedFile{}, fmt.Errorf("%w: %s", ErrFileTooLarge, name)
	}
	sf.Size = n
	if err := a.console.Upload.AddFiles(sf); err != nil {
		_ = a.files.Delete(handle)
		return dashboard.StagedFile{}, err
	}
	return sf, nil
}

// Export opens the consolidated workbook from the churn API.
func (a *App) Export(ctx context.Context) (churnclient.Document, error) {
	doc, err := a.client.Export(ctx)
	if err != nil {
		return churnclient.Document{}, fmt.Errorf("export records: %w", err)
	}
	return doc, nil
}

func (a *App) discardStaged(f dashboard.StagedFile) {
	if err := a.files.Delete(f.Handle); err != nil && !errors.Is(err, staging.ErrNotFound) {
		a.logger.Warn("remove staged file failed", "handle", f.Handle, "err", err)
	}
}

// backend adapts the churn API client to the dashboard's collaborator
// interfaces. Only Upload needs converting.
type backend struct {
	*churnclient.Client
}

func (b backend) Upload(ctx context.Context, files []dashboard.StagedFile, progress dashboard.ProgressFunc) (domain.UploadResult, error) {
	parts := make([]churnclient.File, 0, len(files))
	for _, f := range files {
		parts = append(parts, churnclient.File{Name: f.Name, Size: f.Size, Open: f.Open})
	}
	return b.Client.Upload(ctx, parts, progress)
}

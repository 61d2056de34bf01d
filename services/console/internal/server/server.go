package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"churnboard/internal/util"
	"churnboard/pkg/domain"
	"churnboard/services/console/internal/app"
	"churnboard/services/console/internal/churnclient"
	"churnboard/services/console/internal/dashboard"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	AllowedOrigins []string
	MaxUploadBytes int64
}

// Server binds the console state containers to a JSON API.
type Server struct {
	app            *app.App
	console        *dashboard.Console
	mux            *http.ServeMux
	validate       *validator.Validate
	allowedOrigins []string
	maxUploadBytes int64
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:            cfg.App,
		console:        cfg.App.Console(),
		mux:            http.NewServeMux(),
		validate:       validator.New(validator.WithRequiredStructEnabled()),
		allowedOrigins: cfg.AllowedOrigins,
		maxUploadBytes: normalizeMaxBytes(cfg.MaxUploadBytes),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(s.allowedOrigins, s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// records
	s.mux.HandleFunc("/api/view", s.handleView)
	s.mux.HandleFunc("/api/query", s.handleQuery)
	s.mux.HandleFunc("/api/refresh", s.handleRefresh)
	s.mux.HandleFunc("/api/records/delete-selected", s.handleDeleteSelected)
	s.mux.HandleFunc("/api/records/", s.handleRecordByID)
	s.mux.HandleFunc("/api/analytics", s.handleAnalytics)
	s.mux.HandleFunc("/api/export", s.handleExport)

	// selection
	s.mux.HandleFunc("/api/selection", s.handleSelection)
	s.mux.HandleFunc("/api/selection/toggle", s.handleSelectionToggle)
	s.mux.HandleFunc("/api/selection/page", s.handleSelectionPage)

	// edit
	s.mux.HandleFunc("/api/edit", s.handleEdit)
	s.mux.HandleFunc("/api/edit/commit", s.handleEditCommit)

	// uploads
	s.mux.HandleFunc("/api/uploads", s.handleUploadStatus)
	s.mux.HandleFunc("/api/uploads/files", s.handleUploadFiles)
	s.mux.HandleFunc("/api/uploads/files/", s.handleUploadFileByHandle)
	s.mux.HandleFunc("/api/uploads/submit", s.handleUploadSubmit)

	// chat & notices
	s.mux.HandleFunc("/api/chat", s.handleChat)
	s.mux.HandleFunc("/api/notices", s.handleNotices)
	s.mux.HandleFunc("/api/notices/", s.handleNoticeByID)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /api/view?q=&page= applies the optional query parameters first.
func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, s.console.Current())
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req queryRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.SearchTerm != nil {
		s.console.Query.SetSearchTerm(*req.SearchTerm)
	}
	if req.Page != nil {
		s.console.Query.SetPage(*req.Page)
	}
	writeJSON(w, http.StatusOK, s.console.Current())
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := s.console.Sync.Refresh(r.Context()); err != nil {
		writeConsoleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.console.Current())
}

// DELETE /api/records/{id}
func (s *Server) handleRecordByID(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(strings.TrimPrefix(r.URL.Path, "/api/records/"))
	if !ok {
		notFound(w, "not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if err := s.console.Sync.DeleteOne(r.Context(), id); err != nil {
		writeConsoleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{Deleted: []int64{id}, Failed: []int64{}})
}

func (s *Server) handleDeleteSelected(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	deleted, err := s.console.DeleteSelected(r.Context())
	if deleted == nil {
		deleted = []int64{}
	}
	var batchErr *dashboard.BatchDeleteError
	if errors.As(err, &batchErr) {
		writeJSON(w, http.StatusBadGateway, deleteResponse{
			Deleted: deleted,
			Failed:  batchErr.FailedIDs(),
			Error:   batchErr.Error(),
			Code:    "RECORD_DELETE_PARTIAL",
		})
		return
	}
	if err != nil {
		writeConsoleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{Deleted: deleted, Failed: []int64{}})
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	departments, summary := s.console.Analytics()
	writeJSON(w, http.StatusOK, analyticsResponse{Departments: departments, Summary: summary})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	doc, err := s.app.Export(r.Context())
	if err != nil {
		writeConsoleError(w, err)
		return
	}
	defer doc.Body.Close()
	contentType := doc.ContentType
	if contentType == "" {
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Filename))
	if doc.ContentLength > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(doc.ContentLength, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, doc.Body); err != nil {
		util.LoggerFromContext(r.Context()).Warn("export stream interrupted", "err", err)
	}
}

// selection handlers
func (s *Server) handleSelection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodDelete:
		s.console.Selection.Clear()
	default:
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, s.selectionState())
}

func (s *Server) handleSelectionToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req idRequest
	if !s.decode(w, r, &req) {
		return
	}
	if _, err := s.console.ToggleSelection(req.ID); err != nil {
		writeConsoleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.selectionState())
}

func (s *Server) handleSelectionPage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req selectPageRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.console.SetSelectAllOnPage(*req.Selected)
	writeJSON(w, http.StatusOK, s.selectionState())
}

func (s *Server) selectionState() selectionResponse {
	screen := s.console.Current()
	return selectionResponse{Selected: screen.Selected, AllSelected: screen.AllSelected}
}

// edit handlers
func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		d, ok := s.console.Edit.Active()
		if !ok {
			notFound(w, "no edit in progress")
			return
		}
		writeJSON(w, http.StatusOK, d)
	case http.MethodPost:
		var req idRequest
		if !s.decode(w, r, &req) {
			return
		}
		d, err := s.console.BeginEdit(req.ID)
		if err != nil {
			writeConsoleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	case http.MethodPatch:
		var req editFieldRequest
		if !s.decode(w, r, &req) {
			return
		}
		if err := s.console.Edit.SetField(dashboard.Field(req.Field), req.Value); err != nil {
			writeConsoleError(w, err)
			return
		}
		d, _ := s.console.Edit.Active()
		writeJSON(w, http.StatusOK, d)
	case http.MethodDelete:
		s.console.Edit.Cancel()
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleEditCommit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := s.console.CommitEdit(r.Context()); err != nil {
		writeConsoleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.console.Current())
}

// upload handlers
func (s *Server) handleUploadStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, s.uploadState())
}

func (s *Server) handleUploadFiles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleStageFiles(w, r)
	case http.MethodDelete:
		if err := s.console.Upload.Clear(); err != nil {
			writeConsoleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.uploadState())
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleStageFiles(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	defer r.MultipartForm.RemoveAll()
	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, "file is required (field: files)")
		return
	}
	staged := make([]dashboard.StagedFile, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid form data")
			return
		}
		sf, err := s.app.StageFile(fh.Filename, f)
		f.Close()
		if err != nil {
			writeConsoleError(w, err)
			return
		}
		staged = append(staged, sf)
	}
	writeJSON(w, http.StatusCreated, map[string]any{"staged": staged, "upload": s.uploadState()})
}

// DELETE /api/uploads/files/{handle}
func (s *Server) handleUploadFileByHandle(w http.ResponseWriter, r *http.Request) {
	handle := strings.TrimPrefix(r.URL.Path, "/api/uploads/files/")
	if handle == "" || strings.Contains(handle, "/") {
		notFound(w, "not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if err := s.console.Upload.RemoveFile(handle); err != nil {
		writeConsoleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.uploadState())
}

func (s *Server) handleUploadSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := s.console.Upload.SubmitAsync(r.Context()); err != nil {
		writeConsoleError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.uploadState())
}

func (s *Server) uploadState() uploadResponse {
	resp := uploadResponse{
		State:    s.console.Upload.State(),
		Progress: s.console.Upload.Progress(),
		Files:    s.console.Upload.Files(),
	}
	if last, ok := s.console.Upload.LastResult(); ok {
		resp.LastResult = &last
	}
	return resp
}

// chat handlers
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req chatRequest
		if !s.decode(w, r, &req) {
			return
		}
		if err := s.console.AskAsync(r.Context(), req.Question); err != nil {
			writeConsoleError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, s.chatState())
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.chatState())
	case http.MethodDelete:
		s.console.Chat.Reset()
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) chatState() chatResponse {
	turn, ok := s.console.Chat.Current()
	if !ok {
		return chatResponse{}
	}
	return chatResponse{Turn: &turn}
}

func (s *Server) handleNotices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": s.console.Notices.Recent()})
}

// DELETE /api/notices/{id}
func (s *Server) handleNoticeByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if !s.console.Notices.Dismiss(strings.TrimPrefix(r.URL.Path, "/api/notices/")) {
		notFound(w, "notice not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return "invalid request"
	}
	fe := fieldErrs[0]
	switch fe.Tag() {
	case "required", "required_without":
		return fe.Field() + " is required"
	case "oneof":
		return fe.Field() + " must be one of: " + fe.Param()
	default:
		return fe.Field() + " is invalid"
	}
}

type queryRequest struct {
	SearchTerm *string `json:"searchTerm" validate:"required_without=Page"`
	Page       *int    `json:"page" validate:"required_without=SearchTerm"`
}

type idRequest struct {
	ID int64 `json:"id" validate:"required,gt=0"`
}

type selectPageRequest struct {
	Selected *bool `json:"selected" validate:"required"`
}

type editFieldRequest struct {
	Field string `json:"field" validate:"required,oneof=employee_id department exit_reason salary"`
	Value string `json:"value"`
}

type chatRequest struct {
	Question string `json:"question" validate:"required"`
}

type deleteResponse struct {
	Deleted []int64 `json:"deleted"`
	Failed  []int64 `json:"failed"`
	Error   string  `json:"error,omitempty"`
	Code    string  `json:"code,omitempty"`
}

type selectionResponse struct {
	Selected    []int64 `json:"selected"`
	AllSelected bool    `json:"allSelected"`
}

type analyticsResponse struct {
	Departments []domain.DepartmentChurn `json:"departments"`
	Summary     domain.Summary           `json:"summary"`
}

type uploadResponse struct {
	State      dashboard.UploadState  `json:"state"`
	Progress   float64                `json:"progress"`
	Files      []dashboard.StagedFile `json:"files"`
	LastResult *domain.UploadResult   `json:"lastResult,omitempty"`
}

type chatResponse struct {
	Turn *dashboard.Turn `json:"turn"`
}

func parseID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func normalizeMaxBytes(value int64) int64 {
	if value <= 0 {
		return 50 * 1024 * 1024
	}
	return value
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeErrorCode(w, status, msg, errorCodeForStatus(status))
}

func writeErrorCode(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      code,
		RequestID: strings.TrimSpace(w.Header().Get(util.RequestIDHeader)),
	})
}

func errorCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "REQUEST_INVALID"
	case http.StatusNotFound:
		return "SYSTEM_NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case http.StatusConflict:
		return "REQUEST_CONFLICT"
	case http.StatusRequestEntityTooLarge:
		return "UPLOAD_FILE_TOO_LARGE"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}

// writeConsoleError maps container and remote failures to HTTP responses.
func writeConsoleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dashboard.ErrRecordNotFound):
		writeErrorCode(w, http.StatusNotFound, err.Error(), "RECORD_NOT_FOUND")
	case errors.Is(err, dashboard.ErrNoDraft):
		writeErrorCode(w, http.StatusConflict, err.Error(), "EDIT_NOT_ACTIVE")
	case errors.Is(err, dashboard.ErrInvalidSalary),
		errors.Is(err, dashboard.ErrEmptyEmployeeID),
		errors.Is(err, dashboard.ErrUnknownField):
		writeErrorCode(w, http.StatusBadRequest, err.Error(), "EDIT_INVALID_FIELD")
	case errors.Is(err, dashboard.ErrUploadInProgress):
		writeErrorCode(w, http.StatusConflict, err.Error(), "UPLOAD_IN_PROGRESS")
	case errors.Is(err, dashboard.ErrNoStagedFiles):
		writeErrorCode(w, http.StatusBadRequest, err.Error(), "UPLOAD_NO_FILES")
	case errors.Is(err, dashboard.ErrFileNotStaged):
		writeErrorCode(w, http.StatusNotFound, err.Error(), "UPLOAD_FILE_NOT_STAGED")
	case errors.Is(err, app.ErrUnsupportedFileType):
		writeErrorCode(w, http.StatusBadRequest, err.Error(), "UPLOAD_UNSUPPORTED_FILE_TYPE")
	case errors.Is(err, app.ErrFileTooLarge):
		writeErrorCode(w, http.StatusRequestEntityTooLarge, err.Error(), "UPLOAD_FILE_TOO_LARGE")
	case errors.Is(err, dashboard.ErrEmptyQuestion):
		writeErrorCode(w, http.StatusBadRequest, err.Error(), "CHAT_EMPTY_QUESTION")
	case errors.Is(err, dashboard.ErrChatPending):
		writeErrorCode(w, http.StatusConflict, err.Error(), "CHAT_PENDING")
	default:
		writeRemoteError(w, err)
	}
}

func writeRemoteError(w http.ResponseWriter, err error) {
	var apiErr *churnclient.APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		writeErrorCode(w, http.StatusNotFound, err.Error(), "RECORD_NOT_FOUND")
		return
	}
	writeErrorCode(w, http.StatusBadGateway, err.Error(), "CHURN_API_UNAVAILABLE")
}

package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"churnboard/internal/ratelimit"
	"churnboard/internal/servicetoken"
	"churnboard/internal/util"
	"churnboard/pkg/domain"
	"churnboard/services/churn/internal/app"
)

const (
	maxJSONBytes       = 8 << 20
	multipartMemory    = 32 << 20
	defaultMaxUpload   = 50 << 20
	rateLimitScopeChat = "chat"
	rateLimitScopeFile = "upload"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	AllowedOrigins []string
	MaxUploadBytes int64
	// Limiter is optional; nil disables rate limiting.
	Limiter *ratelimit.FixedWindowLimiter
	// ClientIP resolves the rate-limit key. Nil uses the socket address.
	ClientIP *util.ClientIPResolver
	// Verifier is optional; when set every API route requires a service token.
	Verifier *servicetoken.Verifier
}

// Server exposes the record API, ingestion, export and chat.
type Server struct {
	app            *app.App
	mux            *http.ServeMux
	validate       *validator.Validate
	allowedOrigins []string
	maxUploadBytes int64
	limiter        *ratelimit.FixedWindowLimiter
	clientIP       *util.ClientIPResolver
	verifier       *servicetoken.Verifier
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUpload
	}
	clientIP := cfg.ClientIP
	if clientIP == nil {
		clientIP, _ = util.NewClientIPResolver(nil)
	}
	s := &Server{
		app:            cfg.App,
		mux:            http.NewServeMux(),
		validate:       validator.New(validator.WithRequiredStructEnabled()),
		allowedOrigins: cfg.AllowedOrigins,
		maxUploadBytes: maxUpload,
		limiter:        cfg.Limiter,
		clientIP:       clientIP,
		verifier:       cfg.Verifier,
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(s.allowedOrigins, s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/", s.handleRoot)
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/api/churn-data", s.withService(s.handleRecords))
	s.mux.Handle("/api/churn-data/", s.withService(s.handleRecordByID))
	s.mux.Handle("/upload", s.withService(s.withRateLimit(rateLimitScopeFile, s.handleUpload)))
	s.mux.Handle("/export", s.withService(s.handleExport))
	s.mux.Handle("/api/chat", s.withService(s.withRateLimit(rateLimitScopeChat, s.handleChat)))
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		notFound(w, "not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Employee Churn Document Consolidation API"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) withService(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.verifier == nil || r.Method == http.MethodOptions {
			next(w, r)
			return
		}
		token, ok := servicetoken.BearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing service token")
			return
		}
		claims, err := s.verifier.Verify(token)
		if err != nil {
			util.LoggerFromContext(r.Context()).Warn("service_token_rejected", "path", r.URL.Path, "err", err)
			writeError(w, http.StatusUnauthorized, "invalid service token")
			return
		}
		util.LoggerFromContext(r.Context()).Debug("service_token_accepted", "issuer", claims.Issuer)
		next(w, r)
	})
}

func (s *Server) withRateLimit(scope string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil || r.Method == http.MethodOptions {
			next(w, r)
			return
		}
		ip := s.clientIP.Resolve(r)
		if !s.limiter.Allow(r.Context(), scope, ip) {
			slog.Warn("rate_limited", "scope", scope, "ip", ip, "path", r.URL.Path)
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	records, err := s.app.ListRecords()
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if records == nil {
		records = []domain.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

// PUT|DELETE /api/churn-data/{id}
func (s *Server) handleRecordByID(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(strings.TrimPrefix(r.URL.Path, "/api/churn-data/"))
	if !ok {
		notFound(w, "Record not found")
		return
	}
	switch r.Method {
	case http.MethodPut:
		var patch domain.RecordPatch
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&patch); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := s.app.UpdateRecord(id, patch); err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, recordResponse{Message: "Record updated successfully", RecordID: id})
	case http.MethodDelete:
		if err := s.app.DeleteRecord(r.Context(), id); err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, recordResponse{Message: "Record deleted successfully", RecordID: id})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File["files"]
	files := make([]app.UploadFile, 0, len(headers))
	for _, fh := range headers {
		files = append(files, uploadFile(fh))
	}
	result, err := s.app.Upload(r.Context(), files)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func uploadFile(fh *multipart.FileHeader) app.UploadFile {
	return app.UploadFile{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	var buf bytes.Buffer
	if err := s.app.Export(&buf); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", app.ExportContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+app.ExportFilename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req domain.ChatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	answer, err := s.app.Chat(r.Context(), req.Question, req.Data)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.ChatAnswer{Answer: answer})
}

type recordResponse struct {
	Message  string `json:"message"`
	RecordID int64  `json:"record_id"`
}

func validationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return "invalid request"
	}
	fe := fieldErrs[0]
	if fe.Tag() == "required" {
		return strings.ToLower(fe.Field()) + " is required"
	}
	return strings.ToLower(fe.Field()) + " is invalid"
}

func parseID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
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
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusNotFound:
		return "SYSTEM_NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case http.StatusRequestEntityTooLarge:
		return "UPLOAD_FILE_TOO_LARGE"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}

func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrNotFound):
		writeErrorCode(w, http.StatusNotFound, "Record not found", "RECORD_NOT_FOUND")
	case errors.Is(err, app.ErrEmptyEmployeeID):
		writeErrorCode(w, http.StatusBadRequest, err.Error(), "RECORD_INVALID_FIELD")
	case errors.Is(err, app.ErrNoFiles):
		writeErrorCode(w, http.StatusBadRequest, err.Error(), "UPLOAD_NO_FILES")
	case errors.Is(err, app.ErrEmptyQuestion):
		writeErrorCode(w, http.StatusBadRequest, err.Error(), "CHAT_EMPTY_QUESTION")
	case errors.Is(err, app.ErrGeneratorRequired):
		writeErrorCode(w, http.StatusServiceUnavailable, err.Error(), "LLM_UNAVAILABLE")
	default:
		util.LoggerFromContext(r.Context()).Error("request_failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

package churnclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"churnboard/internal/servicetoken"
	"churnboard/internal/util"
	"churnboard/pkg/domain"
)

const defaultTimeout = 60 * time.Second

// Client calls the churn API over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     *servicetoken.Signer
}

// APIError represents a churn API error response.
type APIError struct {
	Status  int
	Message string
	Code    string
}

func (e *APIError) Error() string {
	return e.Message
}

// File is one upload part. Size is the declared length used for progress;
// Open is called once while the body is streamed.
type File struct {
	Name string
	Size int64
	Open func() (io.ReadCloser, error)
}

// Document is a streamed export. The caller closes Body.
type Document struct {
	Body          io.ReadCloser
	ContentType   string
	Filename      string
	ContentLength int64
}

// NewClient constructs a churn API client. A nil signer sends unauthenticated requests.
func NewClient(baseURL string, timeout time.Duration, signer *servicetoken.Signer) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		signer:     signer,
	}
}

func (c *Client) List(ctx context.Context) ([]domain.Record, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/churn-data", nil)
	if err != nil {
		return nil, err
	}
	var records []domain.Record
	if err := c.do(req, &records); err != nil {
		return nil, err
	}
	if records == nil {
		records = []domain.Record{}
	}
	return records, nil
}

// Update sends only the fields set in patch.
func (c *Client) Update(ctx context.Context, id int64, patch domain.RecordPatch) error {
	data, err := json.Marshal(patch)
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodPut, fmt.Sprintf("/api/churn-data/%d", id), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, nil)
}

func (c *Client) Delete(ctx context.Context, id int64) error {
	req, err := c.newRequest(ctx, http.MethodDelete, fmt.Sprintf("/api/churn-data/%d", id), nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// Upload streams files as one multipart request under the "files" field.
// Parts are written through a pipe, so at most one file is open at a time.
// progress, when set, receives the bytes handed to the transport so far.
func (c *Client) Upload(ctx context.Context, files []File, progress func(sent, total int64)) (domain.UploadResult, error) {
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	total, err := multipartSize(writer.Boundary(), files)
	if err != nil {
		return domain.UploadResult{}, err
	}

	go func() {
		for _, f := range files {
			if err := writePart(writer, f); err != nil {
				pw.CloseWithError(err)
				return
			}
		}
		pw.CloseWithError(writer.Close())
	}()

	var r io.Reader = pr
	if progress != nil {
		progress(0, total)
		r = &progressReader{r: pr, total: total, report: progress}
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/upload", r)
	if err != nil {
		pr.CloseWithError(err)
		return domain.UploadResult{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var result domain.UploadResult
	if err := c.do(req, &result); err != nil {
		return domain.UploadResult{}, err
	}
	return result, nil
}

// multipartSize is the encoded body length for files: part headers and
// trailer with the given boundary plus the declared file sizes.
func multipartSize(boundary string, files []File) (int64, error) {
	var counter byteCounter
	w := multipart.NewWriter(&counter)
	if err := w.SetBoundary(boundary); err != nil {
		return 0, err
	}
	var size int64
	for _, f := range files {
		if _, err := w.CreateFormFile("files", f.Name); err != nil {
			return 0, err
		}
		size += max(f.Size, 0)
	}
	if err := w.Close(); err != nil {
		return 0, err
	}
	return size + counter.n, nil
}

type byteCounter struct{ n int64 }

func (b *byteCounter) Write(p []byte) (int, error) {
	b.n += int64(len(p))
	return len(p), nil
}

func writePart(writer *multipart.Writer, f File) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	part, err := writer.CreateFormFile("files", f.Name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, rc); err != nil {
		return fmt.Errorf("read %s: %w", f.Name, err)
	}
	return nil
}

// Export opens the consolidated workbook stream.
func (c *Client) Export(ctx context.Context) (Document, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/export", nil)
	if err != nil {
		return Document{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Document{}, err
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return Document{}, decodeError(resp)
	}
	doc := Document{
		Body:          resp.Body,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.ContentLength,
		Filename:      "consolidated_data.xlsx",
	}
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		doc.Filename = params["filename"]
	}
	return doc, nil
}

// Ask sends question with the record snapshot it must be answered from.
func (c *Client) Ask(ctx context.Context, question string, snapshot []domain.Record) (string, error) {
	if snapshot == nil {
		snapshot = []domain.Record{}
	}
	data, err := json.Marshal(domain.ChatRequest{Question: question, Data: snapshot})
	if err != nil {
		return "", err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/chat", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	var ans domain.ChatAnswer
	if err := c.do(req, &ans); err != nil {
		return "", err
	}
	return ans.Answer, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	util.ForwardRequestID(req)
	if err := c.signer.Authorize(req, servicetoken.AudienceChurnAPI); err != nil {
		return nil, fmt.Errorf("sign service token: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", req.Method, req.URL.Path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var errResp struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
		Code   string `json:"code"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&errResp)
	msg := errResp.Error
	if msg == "" {
		msg = errResp.Detail
	}
	if msg == "" {
		msg = resp.Status
	}
	return &APIError{Status: resp.StatusCode, Message: msg, Code: strings.TrimSpace(errResp.Code)}
}

type progressReader struct {
	r      io.Reader
	sent   int64
	total  int64
	report func(sent, total int64)
}

// Read reports after every chunk. A declared size that undercounts the body
// grows total so sent never exceeds it, and EOF always reports completion.
func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		p.total = max(p.total, p.sent)
		p.report(p.sent, p.total)
	}
	if err == io.EOF && p.sent != p.total {
		p.total = p.sent
		p.report(p.sent, p.total)
	}
	return n, err
}

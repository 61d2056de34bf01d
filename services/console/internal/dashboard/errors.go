package dashboard

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrRecordNotFound   = errors.New("record not found")
	ErrNoDraft          = errors.New("no edit in progress")
	ErrUnknownField     = errors.New("field is not editable")
	ErrInvalidSalary    = errors.New("salary must be a number")
	ErrEmptyEmployeeID  = errors.New("employee id cannot be blank")
	ErrUploadInProgress = errors.New("upload in progress")
	ErrNoStagedFiles    = errors.New("no files staged")
	ErrFileNotStaged    = errors.New("file not staged")
	ErrEmptyQuestion    = errors.New("question is empty")
	ErrChatPending      = errors.New("a question is already pending")
)

// FetchError reports a failed refresh. The record store is left unchanged.
type FetchError struct {
	Cause error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch records: %v", e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }

// UpdateError reports a rejected update. The edit draft is kept for retry.
type UpdateError struct {
	ID    int64
	Cause error
}

func (e *UpdateError) Error() string {
	return fmt.Sprintf("update record %d: %v", e.ID, e.Cause)
}

func (e *UpdateError) Unwrap() error { return e.Cause }

// DeleteError reports a failed delete of a single record.
type DeleteError struct {
	ID    int64
	Cause error
}

func (e *DeleteError) Error() string {
	return fmt.Sprintf("delete record %d: %v", e.ID, e.Cause)
}

func (e *DeleteError) Unwrap() error { return e.Cause }

// BatchDeleteError lists the ids a batch delete could not remove.
// Deleted holds the ids that were removed before and after each failure.
type BatchDeleteError struct {
	Failed  []*DeleteError
	Deleted []int64
}

func (e *BatchDeleteError) Error() string {
	ids := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		ids = append(ids, fmt.Sprint(f.ID))
	}
	total := len(e.Failed) + len(e.Deleted)
	return fmt.Sprintf("delete records: %d of %d failed (ids: %s)", len(e.Failed), total, strings.Join(ids, ", "))
}

// FailedIDs returns the ids that were not deleted, in request order.
func (e *BatchDeleteError) FailedIDs() []int64 {
	out := make([]int64, 0, len(e.Failed))
	for _, f := range e.Failed {
		out = append(out, f.ID)
	}
	return out
}

func (e *BatchDeleteError) Unwrap() []error {
	out := make([]error, 0, len(e.Failed))
	for _, f := range e.Failed {
		out = append(out, f)
	}
	return out
}

// UploadError reports a failed submission. Staged files are kept.
type UploadError struct {
	Cause error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload files: %v", e.Cause)
}

func (e *UploadError) Unwrap() error { return e.Cause }

// ChatError reports a failed question. The turn shows FallbackAnswer.
type ChatError struct {
	Cause error
}

func (e *ChatError) Error() string {
	return fmt.Sprintf("ask assistant: %v", e.Cause)
}

func (e *ChatError) Unwrap() error { return e.Cause }

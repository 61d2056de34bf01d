package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"churnboard/internal/util"
)

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// JobStatus tracks one extraction job for a stored record.
type JobStatus struct {
	ID           string    `json:"id"`
	RecordID     int64     `json:"recordId"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	Attempts     int       `json:"attempts"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Handler processes one job. A returned error marks the attempt failed.
type Handler func(context.Context, JobStatus) error

// JobQueue dispatches extraction jobs to a handler.
type JobQueue interface {
	Enqueue(ctx context.Context, recordID int64) (JobStatus, error)
	Start(ctx context.Context, concurrency int, handler Handler)
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped by Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// ErrNoHandler is returned by InlineQueue.Enqueue before Start was called.
var ErrNoHandler = errors.New("queue: no handler registered")

// InlineQueue runs each job synchronously inside Enqueue. The returned
// status is already terminal.
type InlineQueue struct {
	mu      sync.RWMutex
	handler Handler
}

func NewInlineQueue() *InlineQueue {
	return &InlineQueue{}
}

// Start registers handler. Concurrency is bounded by the callers of Enqueue.
func (q *InlineQueue) Start(_ context.Context, _ int, handler Handler) {
	q.mu.Lock()
	q.handler = handler
	q.mu.Unlock()
}

func (q *InlineQueue) Enqueue(ctx context.Context, recordID int64) (JobStatus, error) {
	if recordID <= 0 {
		return JobStatus{}, errors.New("record id required")
	}
	q.mu.RLock()
	handler := q.handler
	q.mu.RUnlock()
	if handler == nil {
		return JobStatus{}, ErrNoHandler
	}
	now := time.Now().UTC()
	job := JobStatus{
		ID:        util.NewID(),
		RecordID:  recordID,
		Status:    StatusProcessing,
		Attempts:  1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := handler(ctx, job); err != nil {
		job.Status = StatusFailed
		job.ErrorMessage = err.Error()
	} else {
		job.Status = StatusDone
	}
	job.UpdatedAt = time.Now().UTC()
	return job, nil
}

package domain

import "time"

type ProcessingStatus string

const (
	StatusPending   ProcessingStatus = "PENDING"
	StatusCompleted ProcessingStatus = "COMPLETED"
	StatusFailed    ProcessingStatus = "FAILED"
)

// UnknownDepartment is the display bucket for records without a department.
const UnknownDepartment = "Unknown"

// Record is one employee's consolidated profile.
type Record struct {
	ID                    int64            `json:"id"`
	EmployeeID            string           `json:"employee_id"`
	Department            *string          `json:"department"`
	JoiningDate           *Date            `json:"joining_date"`
	ExitDate              *Date            `json:"exit_date"`
	ExitReason            *string          `json:"exit_reason"`
	Salary                *float64         `json:"salary"`
	LastPerformanceRating *float64         `json:"last_performance_rating"`
	ChurnFlag             bool             `json:"churn_flag"`
	SourceFile            string           `json:"source_file,omitempty"`
	UploadTimestamp       time.Time        `json:"upload_timestamp"`
	ProcessingStatus      ProcessingStatus `json:"processing_status,omitempty"`
}

// Clone returns a copy that shares no pointers with r.
func (r Record) Clone() Record {
	out := r
	out.Department = clonePtr(r.Department)
	out.JoiningDate = clonePtr(r.JoiningDate)
	out.ExitDate = clonePtr(r.ExitDate)
	out.ExitReason = clonePtr(r.ExitReason)
	out.Salary = clonePtr(r.Salary)
	out.LastPerformanceRating = clonePtr(r.LastPerformanceRating)
	return out
}

// CloneRecords deep-copies a slice of records.
func CloneRecords(in []Record) []Record {
	if in == nil {
		return nil
	}
	out := make([]Record, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// DepartmentChurn is one bar of the department chart.
type DepartmentChurn struct {
	Department string `json:"department"`
	Retained   int    `json:"retained"`
	Churned    int    `json:"churned"`
}

// Summary holds the header counters of the dashboard.
type Summary struct {
	Total     int     `json:"total"`
	Churned   int     `json:"churned"`
	Retained  int     `json:"retained"`
	ChurnRate float64 `json:"churnRate"`
}

// Per-file outcomes of an upload. Queued files are stored and awaiting
// background extraction.
const (
	FileStatusSuccess = "success"
	FileStatusQueued  = "queued"
	FileStatusFailed  = "failed"
)

// FileResult reports what happened to one uploaded file.
type FileResult struct {
	Filename string `json:"filename"`
	Status   string `json:"status"`
	RecordID *int64 `json:"record_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

// UploadResult is the response of the ingestion endpoint.
type UploadResult struct {
	Message string       `json:"message"`
	Results []FileResult `json:"results"`
}

// ChatRequest is a question plus the record snapshot it is scoped to.
type ChatRequest struct {
	Question string   `json:"question" validate:"required"`
	Data     []Record `json:"data"`
}

// ChatAnswer is the assistant reply.
type ChatAnswer struct {
	Answer string `json:"answer"`
}

// Extraction is the structured profile read out of one uploaded document.
type Extraction struct {
	EmployeeID            string   `json:"employee_id"`
	Department            *string  `json:"department"`
	JoiningDate           *Date    `json:"joining_date"`
	ExitDate              *Date    `json:"exit_date"`
	ExitReason            *string  `json:"exit_reason"`
	Salary                *float64 `json:"salary"`
	LastPerformanceRating *float64 `json:"last_performance_rating"`
	ChurnFlag             bool     `json:"churn_flag"`
}

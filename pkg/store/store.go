package store

import (
	"churnboard/pkg/domain"
)

// Source locates the uploaded original a record was extracted from.
type Source struct {
	RecordID   int64
	SourceFile string
	ObjectKey  string
}

// RecordStore persists employee churn records.
type RecordStore interface {
	// ingestion
	CreatePending(sourceFile, objectKey string) (domain.Record, error)
	GetSource(id int64) (Source, bool, error)
	CompleteExtraction(id int64, ext domain.Extraction, raw []byte) error
	FailExtraction(id int64, reason string) error

	// records
	ListRecords() ([]domain.Record, error)
	GetRecord(id int64) (domain.Record, bool, error)
	UpdateRecord(id int64, patch domain.RecordPatch) (bool, error)
	DeleteRecord(id int64) (bool, error)
}

const (
	// PendingEmployeeID marks a record whose extraction has not finished.
	PendingEmployeeID = "PENDING"
	// ErrorEmployeeID marks a record whose extraction failed.
	ErrorEmployeeID = "ERROR"
	// MaxReasonLength bounds the failure reason kept in exit_reason.
	MaxReasonLength = 255
)

// TruncateReason cuts reason to MaxReasonLength runes.
func TruncateReason(reason string) string {
	runes := []rune(reason)
	if len(runes) <= MaxReasonLength {
		return reason
	}
	return string(runes[:MaxReasonLength])
}

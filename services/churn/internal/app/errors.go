package app

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrNoFiles           = errors.New("no files uploaded")
	ErrFileTooLarge      = errors.New("file too large")
	ErrEmptyQuestion     = errors.New("question is required")
	ErrEmptyEmployeeID   = errors.New("employee_id cannot be empty")
	ErrNoText            = errors.New("could not extract any text from the file")
	ErrNoEmployeeID      = errors.New("LLM could not extract a valid employee_id")
	ErrGeneratorRequired = errors.New("text generator not configured")
)

// UnsupportedExtensionError reports a file type extraction cannot read.
type UnsupportedExtensionError struct {
	Ext string
}

func (e *UnsupportedExtensionError) Error() string {
	return fmt.Sprintf("unsupported file extension: %s", e.Ext)
}

package app

import "errors"

var (
	// ErrUnsupportedFileType indicates a staged file with an extension the churn API cannot extract.
	ErrUnsupportedFileType = errors.New("unsupported file type")
	// ErrFileTooLarge indicates a staged file above the configured size limit.
	ErrFileTooLarge = errors.New("file too large")
)

package staging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"churnboard/internal/util"
)

// ErrNotFound is returned when a handle has no staged file.
var ErrNotFound = errors.New("staged file not found")

// FileStore keeps staged uploads on disk until they are submitted or discarded.
// Each file lives in its own handle directory.
type FileStore struct {
	basePath string
}

// NewFileStore creates the base directory if missing.
func NewFileStore(basePath string) (*FileStore, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, fmt.Errorf("staging base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	return &FileStore{basePath: basePath}, nil
}

// Save writes r under handle and returns the stored byte count.
func (f *FileStore) Save(handle, filename string, r io.Reader) (int64, error) {
	if !util.IsID(handle) {
		return 0, fmt.Errorf("invalid staging handle %q", handle)
	}
	targetDir := filepath.Join(f.basePath, handle)
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return 0, fmt.Errorf("create handle dir: %w", err)
	}
	target := filepath.Join(targetDir, SafeFilename(filename))

	out, err := os.Create(target)
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}
	defer out.Close()
	n, err := io.Copy(out, r)
	if err != nil {
		_ = os.RemoveAll(targetDir)
		return 0, fmt.Errorf("write file: %w", err)
	}
	return n, nil
}

// Open returns a reader over the file staged under handle.
func (f *FileStore) Open(handle string) (io.ReadCloser, error) {
	if !util.IsID(handle) {
		return nil, ErrNotFound
	}
	entries, err := os.ReadDir(filepath.Join(f.basePath, handle))
	if errors.Is(err, os.ErrNotExist) || (err == nil && len(entries) == 0) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read handle dir: %w", err)
	}
	return os.Open(filepath.Join(f.basePath, handle, entries[0].Name()))
}

// Delete removes the files staged under handle.
func (f *FileStore) Delete(handle string) error {
	if !util.IsID(handle) {
		return nil
	}
	targetDir := filepath.Join(f.basePath, handle)
	if _, err := os.Stat(targetDir); os.IsNotExist(err) {
		return nil
	}
	return os.RemoveAll(targetDir)
}

// SafeFilename strips directories from an uploaded name.
func SafeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == "/" {
		return "upload"
	}
	return name
}

package repository

import (
	"context"
	"io"
	"path"
	"strings"

	"github.com/iconidentify/captionlab/internal/domain"
)

// DatasetRepository is the dataset store: one directory per dataset, each
// holding an images/ and a text/ folder. All path construction and
// existence checks go through it.
type DatasetRepository interface {
	// List returns dataset names sorted by name.
	List(ctx context.Context) ([]string, error)

	// Info returns the dataset's directory information.
	Info(ctx context.Context, name string) (*domain.DatasetInfo, error)

	// Create makes the dataset with empty images/ and text/ folders.
	// It fails with domain.ErrDatasetExists if the name is taken.
	Create(ctx context.Context, name string) error

	// Delete removes the dataset and everything in it.
	Delete(ctx context.Context, name string) error

	// Touch moves the dataset's creation time to now. Import calls it once
	// extraction is done so imported captions never read as later edits.
	Touch(ctx context.Context, name string) error

	// ListFiles returns the entries of images/ or text/ sorted by name.
	ListFiles(ctx context.Context, name string, kind domain.FileKind) ([]domain.FileEntry, error)

	// ReadFile returns the content of a file at a slash-separated path
	// relative to the dataset root.
	ReadFile(ctx context.Context, name, relPath string) ([]byte, error)

	// WriteFile replaces the file at relPath, creating parent folders.
	WriteFile(ctx context.Context, name, relPath string, content io.Reader) error

	// MkdirAll creates a folder at relPath inside the dataset.
	MkdirAll(ctx context.Context, name, relPath string) error
}

// CleanPath normalizes a slash-separated path relative to a dataset root
// and rejects anything that would leave it.
func CleanPath(relPath string) (string, error) {
	if relPath == "" || strings.ContainsRune(relPath, 0) || strings.Contains(relPath, `\`) {
		return "", domain.ErrInvalidInput
	}
	if path.IsAbs(relPath) {
		return "", domain.ErrInvalidInput
	}
	cleaned := path.Clean(relPath)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", domain.ErrInvalidInput
	}
	return cleaned, nil
}

// FilePath joins a dataset subfolder and a filename into a relative path.
func FilePath(kind domain.FileKind, filename string) string {
	return path.Join(kind.Dir(), filename)
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/iconidentify/captionlab/internal/config"
	"github.com/iconidentify/captionlab/internal/domain"
)

// FilesystemDatasetRepository implements DatasetRepository on a directory tree.
type FilesystemDatasetRepository struct {
	basePath string
}

// NewFilesystemDatasetRepository creates a repository rooted at the configured data path.
func NewFilesystemDatasetRepository(cfg config.StorageConfig) *FilesystemDatasetRepository {
	return &FilesystemDatasetRepository{
		basePath: cfg.DataPath,
	}
}

// BasePath returns the store root.
func (r *FilesystemDatasetRepository) BasePath() string {
	return r.basePath
}

func (r *FilesystemDatasetRepository) datasetDir(name string) (string, error) {
	if !domain.ValidName(name) {
		return "", domain.ErrInvalidInput
	}
	return filepath.Join(r.basePath, name), nil
}

// existingDir resolves a dataset directory and checks that it is there.
func (r *FilesystemDatasetRepository) existingDir(name string) (string, os.FileInfo, error) {
	dir, err := r.datasetDir(name)
	if err != nil {
		return "", nil, err
	}
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil, domain.ErrDatasetNotFound
		}
		return "", nil, fmt.Errorf("stat dataset: %w", err)
	}
	if !info.IsDir() {
		return "", nil, domain.ErrDatasetNotFound
	}
	return dir, info, nil
}

// List returns dataset names sorted by name.
func (r *FilesystemDatasetRepository) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(r.basePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read store: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// Info returns the dataset's directory information.
func (r *FilesystemDatasetRepository) Info(ctx context.Context, name string) (*domain.DatasetInfo, error) {
	dir, info, err := r.existingDir(name)
	if err != nil {
		return nil, err
	}
	return &domain.DatasetInfo{
		Name:      name,
		CreatedAt: changeTime(dir, info),
	}, nil
}

// Create makes the dataset directory with os.Mkdir so that two callers
// racing for the same name cannot both succeed.
func (r *FilesystemDatasetRepository) Create(ctx context.Context, name string) error {
	dir, err := r.datasetDir(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(r.basePath, 0755); err != nil {
		return fmt.Errorf("create store: %w", err)
	}
	if err := os.Mkdir(dir, 0755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return domain.ErrDatasetExists
		}
		return fmt.Errorf("create dataset: %w", err)
	}
	for _, kind := range []domain.FileKind{domain.KindImage, domain.KindCaption} {
		if err := os.Mkdir(filepath.Join(dir, kind.Dir()), 0755); err != nil {
			return fmt.Errorf("create %s folder: %w", kind, err)
		}
	}
	return nil
}

// Touch sets the time Info reports as the creation time to now.
func (r *FilesystemDatasetRepository) Touch(ctx context.Context, name string) error {
	dir, _, err := r.existingDir(name)
	if err != nil {
		return err
	}
	if err := touchChangeTime(dir, time.Now()); err != nil {
		return fmt.Errorf("touch dataset: %w", err)
	}
	return nil
}

// Delete removes the dataset and everything in it.
func (r *FilesystemDatasetRepository) Delete(ctx context.Context, name string) error {
	dir, _, err := r.existingDir(name)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove dataset: %w", err)
	}
	return nil
}

// ListFiles returns the entries of images/ or text/ sorted by name.
// A missing subfolder reads as empty; entries removed while listing are skipped.
func (r *FilesystemDatasetRepository) ListFiles(ctx context.Context, name string, kind domain.FileKind) ([]domain.FileEntry, error) {
	dir, _, err := r.existingDir(name)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(filepath.Join(dir, kind.Dir()))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if _, _, err := r.existingDir(name); err != nil {
				return nil, err
			}
			return []domain.FileEntry{}, nil
		}
		return nil, fmt.Errorf("read %s folder: %w", kind, err)
	}

	files := make([]domain.FileEntry, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", entry.Name(), err)
		}
		files = append(files, domain.FileEntry{
			Name:    entry.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
			IsDir:   info.IsDir(),
		})
	}
	return files, nil
}

// ReadFile returns the content of a file inside the dataset.
func (r *FilesystemDatasetRepository) ReadFile(ctx context.Context, name, relPath string) ([]byte, error) {
	target, err := r.resolve(name, relPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrFileNotFound
		}
		return nil, fmt.Errorf("read %s: %w", relPath, err)
	}
	return data, nil
}

// WriteFile replaces the file at relPath. Content goes to a temp file in
// the same folder first and is renamed into place.
func (r *FilesystemDatasetRepository) WriteFile(ctx context.Context, name, relPath string, content io.Reader) error {
	target, err := r.resolve(name, relPath)
	if err != nil {
		return err
	}
	parent := filepath.Dir(target)
	if err := os.MkdirAll(parent, 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	f, err := os.CreateTemp(parent, ".write-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tempFile := f.Name()

	_, err = io.Copy(f, content)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("write %s: %w", relPath, err)
	}
	if err := os.Chmod(tempFile, 0644); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("chmod %s: %w", relPath, err)
	}

	if err := os.Rename(tempFile, target); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("move %s into place: %w", relPath, err)
	}
	return nil
}

// MkdirAll creates a folder at relPath inside the dataset.
func (r *FilesystemDatasetRepository) MkdirAll(ctx context.Context, name, relPath string) error {
	target, err := r.resolve(name, relPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(target, 0755); err != nil {
		return fmt.Errorf("create %s: %w", relPath, err)
	}
	return nil
}

func (r *FilesystemDatasetRepository) resolve(name, relPath string) (string, error) {
	dir, _, err := r.existingDir(name)
	if err != nil {
		return "", err
	}
	cleaned, err := CleanPath(relPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, filepath.FromSlash(cleaned)), nil
}

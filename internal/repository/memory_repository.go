package repository

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/iconidentify/captionlab/internal/domain"
)

type memFile struct {
	data    []byte
	modTime time.Time
}

type memDataset struct {
	createdAt time.Time
	files     map[string]memFile
	dirs      map[string]time.Time
}

// InMemoryDatasetRepository implements DatasetRepository in memory.
// It is used by tests and by callers that want a throwaway store.
type InMemoryDatasetRepository struct {
	mu       sync.RWMutex
	datasets map[string]*memDataset
	now      func() time.Time
}

// NewInMemoryDatasetRepository creates a new in-memory dataset repository.
func NewInMemoryDatasetRepository() *InMemoryDatasetRepository {
	return &InMemoryDatasetRepository{
		datasets: make(map[string]*memDataset),
		now:      time.Now,
	}
}

// SetClock replaces the time source used for creation and modification times.
func (r *InMemoryDatasetRepository) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// List returns dataset names sorted by name.
func (r *InMemoryDatasetRepository) List(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.datasets))
	for name := range r.datasets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Info returns the dataset's creation time.
func (r *InMemoryDatasetRepository) Info(ctx context.Context, name string) (*domain.DatasetInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ds, ok := r.datasets[name]
	if !ok {
		return nil, domain.ErrDatasetNotFound
	}
	return &domain.DatasetInfo{Name: name, CreatedAt: ds.createdAt}, nil
}

// Create adds an empty dataset.
func (r *InMemoryDatasetRepository) Create(ctx context.Context, name string) error {
	if !domain.ValidName(name) {
		return domain.ErrInvalidInput
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.datasets[name]; ok {
		return domain.ErrDatasetExists
	}
	now := r.now()
	r.datasets[name] = &memDataset{
		createdAt: now,
		files:     make(map[string]memFile),
		dirs: map[string]time.Time{
			domain.ImagesDir: now,
			domain.TextDir:   now,
		},
	}
	return nil
}

// Touch resets the dataset's creation time to the repository clock.
func (r *InMemoryDatasetRepository) Touch(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ds, ok := r.datasets[name]
	if !ok {
		return domain.ErrDatasetNotFound
	}
	ds.createdAt = r.now()
	return nil
}

// Delete removes the dataset.
func (r *InMemoryDatasetRepository) Delete(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.datasets[name]; !ok {
		return domain.ErrDatasetNotFound
	}
	delete(r.datasets, name)
	return nil
}

// ListFiles returns the direct children of images/ or text/ sorted by name.
func (r *InMemoryDatasetRepository) ListFiles(ctx context.Context, name string, kind domain.FileKind) ([]domain.FileEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ds, ok := r.datasets[name]
	if !ok {
		return nil, domain.ErrDatasetNotFound
	}

	prefix := kind.Dir() + "/"
	files := []domain.FileEntry{}
	for p, f := range ds.files {
		if child, ok := directChild(p, prefix); ok {
			files = append(files, domain.FileEntry{Name: child, Size: int64(len(f.data)), ModTime: f.modTime})
		}
	}
	for p, modTime := range ds.dirs {
		if child, ok := directChild(p, prefix); ok {
			files = append(files, domain.FileEntry{Name: child, ModTime: modTime, IsDir: true})
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

func directChild(p, prefix string) (string, bool) {
	if !strings.HasPrefix(p, prefix) {
		return "", false
	}
	child := strings.TrimPrefix(p, prefix)
	if child == "" || strings.Contains(child, "/") {
		return "", false
	}
	return child, true
}

// ReadFile returns a copy of the stored content.
func (r *InMemoryDatasetRepository) ReadFile(ctx context.Context, name, relPath string) ([]byte, error) {
	cleaned, err := CleanPath(relPath)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	ds, ok := r.datasets[name]
	if !ok {
		return nil, domain.ErrDatasetNotFound
	}
	f, ok := ds.files[cleaned]
	if !ok {
		return nil, domain.ErrFileNotFound
	}
	return append([]byte(nil), f.data...), nil
}

// WriteFile stores content at relPath, registering parent folders.
func (r *InMemoryDatasetRepository) WriteFile(ctx context.Context, name, relPath string, content io.Reader) error {
	cleaned, err := CleanPath(relPath)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return fmt.Errorf("read content: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ds, ok := r.datasets[name]
	if !ok {
		return domain.ErrDatasetNotFound
	}
	now := r.now()
	ds.addParents(cleaned, now)
	ds.files[cleaned] = memFile{data: data, modTime: now}
	return nil
}

// MkdirAll registers a folder and its parents.
func (r *InMemoryDatasetRepository) MkdirAll(ctx context.Context, name, relPath string) error {
	cleaned, err := CleanPath(relPath)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ds, ok := r.datasets[name]
	if !ok {
		return domain.ErrDatasetNotFound
	}
	now := r.now()
	ds.addParents(cleaned, now)
	if _, ok := ds.dirs[cleaned]; !ok {
		ds.dirs[cleaned] = now
	}
	return nil
}

func (ds *memDataset) addParents(p string, now time.Time) {
	for dir := path.Dir(p); dir != "."; dir = path.Dir(dir) {
		if _, ok := ds.dirs[dir]; !ok {
			ds.dirs[dir] = now
		}
	}
}

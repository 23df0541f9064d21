package service

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/iconidentify/captionlab/internal/config"
	"github.com/iconidentify/captionlab/internal/domain"
	"github.com/iconidentify/captionlab/internal/repository"
)

// stagingDir is the subfolder of a transfer folder that holds copied captions.
const stagingDir = "captions"

// exportArchive is the zip's name inside a transfer folder. The download
// name comes from ExportBundle.Filename.
const exportArchive = "export.zip"

// ExportService packs a dataset's captions into a zip for download.
type ExportService struct {
	repo         repository.DatasetRepository
	locker       *repository.NameLocker
	events       domain.EventEmitter
	transferPath string
	logger       *slog.Logger
}

// NewExportService creates a new export service.
func NewExportService(
	repo repository.DatasetRepository,
	locker *repository.NameLocker,
	events domain.EventEmitter,
	cfg config.StorageConfig,
	logger *slog.Logger,
) *ExportService {
	return &ExportService{
		repo:         repo,
		locker:       locker,
		events:       emitterOrDiscard(events),
		transferPath: cfg.TransferPath,
		logger:       logger,
	}
}

// ExportBundle is a finished caption archive inside its transfer folder.
// Close removes the transfer folder; callers defer it right after a
// successful Export.
type ExportBundle struct {
	Dataset  string
	Filename string
	Path     string
	Files    int

	dir    string
	logger *slog.Logger
	once   sync.Once
	err    error
}

// Open opens the zip for reading.
func (b *ExportBundle) Open() (*os.File, error) {
	return os.Open(b.Path)
}

// Dir returns the transfer folder holding the bundle.
func (b *ExportBundle) Dir() string {
	return b.dir
}

// Close removes the transfer folder and the zip in it. It is safe to call
// more than once.
func (b *ExportBundle) Close() error {
	b.once.Do(func() {
		b.err = os.RemoveAll(b.dir)
		if b.err != nil {
			b.logger.Warn("failed to remove transfer folder", "path", b.dir, "error", b.err)
		}
	})
	return b.err
}

// Export stages the captions of a dataset into a fresh transfer folder and
// zips them using bare filenames as entry names. Images are not included.
func (s *ExportService) Export(ctx context.Context, name string) (*ExportBundle, error) {
	unlock, err := s.locker.Lock(ctx, name)
	if err != nil {
		return nil, domain.NewDatasetError(name, "export", err)
	}
	defer unlock()

	captions, err := s.repo.ListFiles(ctx, name, domain.KindCaption)
	if err != nil {
		return nil, domain.NewDatasetError(name, "export", err)
	}

	if err := os.MkdirAll(s.transferPath, 0755); err != nil {
		return nil, domain.NewDatasetError(name, "export", fmt.Errorf("create transfer directory: %w", err))
	}
	dir := filepath.Join(s.transferPath, uuid.NewString())
	staged := filepath.Join(dir, stagingDir)
	if err := os.MkdirAll(staged, 0755); err != nil {
		return nil, domain.NewDatasetError(name, "export", fmt.Errorf("create transfer folder: %w", err))
	}

	bundle := &ExportBundle{
		Dataset:  name,
		Filename: name + ArchiveExt,
		Path:     filepath.Join(dir, exportArchive),
		dir:      dir,
		logger:   s.logger,
	}
	success := false
	defer func() {
		if !success {
			bundle.Close()
		}
	}()

	for _, c := range captions {
		if c.IsDir {
			continue
		}
		data, err := s.repo.ReadFile(ctx, name, repository.FilePath(domain.KindCaption, c.Name))
		if err != nil {
			if errors.Is(err, domain.ErrFileNotFound) {
				continue
			}
			return nil, s.exportFailed(name, err)
		}
		if err := os.WriteFile(filepath.Join(staged, c.Name), data, 0644); err != nil {
			return nil, s.exportFailed(name, fmt.Errorf("stage %s: %w", c.Name, err))
		}
	}

	files, err := createZipFromDir(ctx, staged, bundle.Path)
	if err != nil {
		return nil, s.exportFailed(name, err)
	}
	bundle.Files = files

	success = true
	s.events.EmitSuccess(domain.EventCategoryExport, name, "captions exported", domain.EventMetadata{"files": files})
	return bundle, nil
}

func (s *ExportService) exportFailed(name string, err error) error {
	s.events.EmitError(domain.EventCategoryExport, name, "export failed", domain.EventMetadata{"error": err.Error()})
	return domain.NewDatasetError(name, "export", err)
}

// createZipFromDir writes every regular file directly under srcDir into a
// new zip at zipPath, named by its bare filename.
func createZipFromDir(ctx context.Context, srcDir, zipPath string) (int, error) {
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return 0, fmt.Errorf("read staging folder: %w", err)
	}

	zipFile, err := os.Create(zipPath)
	if err != nil {
		return 0, fmt.Errorf("create zip file: %w", err)
	}
	defer zipFile.Close()

	zipWriter := zip.NewWriter(zipFile)
	files := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if !entry.Type().IsRegular() {
			continue
		}
		if err := addZipEntry(zipWriter, filepath.Join(srcDir, entry.Name()), entry.Name()); err != nil {
			return 0, err
		}
		files++
	}

	if err := zipWriter.Close(); err != nil {
		return 0, fmt.Errorf("finish zip: %w", err)
	}
	if err := zipFile.Close(); err != nil {
		return 0, fmt.Errorf("close zip file: %w", err)
	}
	return files, nil
}

func addZipEntry(zw *zip.Writer, srcPath, entryName string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", entryName, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", entryName, err)
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("zip header %s: %w", entryName, err)
	}
	header.Name = entryName
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("add %s: %w", entryName, err)
	}
	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("write %s: %w", entryName, err)
	}
	return nil
}

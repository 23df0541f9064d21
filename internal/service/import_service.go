package service

import (
	"archive/zip"
	"compress/flate"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/iconidentify/captionlab/internal/config"
	"github.com/iconidentify/captionlab/internal/domain"
	"github.com/iconidentify/captionlab/internal/repository"
)

// ArchiveExt is the only accepted upload extension. The check is case-sensitive.
const ArchiveExt = ".zip"

// maxNameAttempts bounds the "name (N)" search.
const maxNameAttempts = 10000

// ImportService turns uploaded zip archives into datasets.
type ImportService struct {
	repo   repository.DatasetRepository
	locker *repository.NameLocker
	events domain.EventEmitter
	cfg    config.StorageConfig
	logger *slog.Logger
}

// NewImportService creates a new import service.
func NewImportService(
	repo repository.DatasetRepository,
	locker *repository.NameLocker,
	events domain.EventEmitter,
	cfg config.StorageConfig,
	logger *slog.Logger,
) *ImportService {
	return &ImportService{
		repo:   repo,
		locker: locker,
		events: emitterOrDiscard(events),
		cfg:    cfg,
		logger: logger,
	}
}

// DatasetNameFromUpload validates an upload filename and returns the
// dataset base name (the filename stem) in Unicode NFC form.
func DatasetNameFromUpload(filename string) (string, error) {
	base := path.Base(filepath.ToSlash(filename))
	if domain.Ext(base) != ArchiveExt {
		return "", fmt.Errorf("%w: %q is not a %s file", domain.ErrInvalidInput, base, ArchiveExt)
	}
	stem := norm.NFC.String(strings.TrimSuffix(base, ArchiveExt))
	if !domain.ValidName(stem) {
		return "", fmt.Errorf("%w: %q has no usable name", domain.ErrInvalidInput, base)
	}
	return stem, nil
}

// Import spools an uploaded archive to the transfer directory, imports it
// and removes the spooled copy. It returns the resolved dataset name.
func (s *ImportService) Import(ctx context.Context, filename string, content io.Reader) (string, error) {
	baseName, err := DatasetNameFromUpload(filename)
	if err != nil {
		return "", domain.NewDatasetError("", "import", err)
	}

	if err := os.MkdirAll(s.cfg.TransferPath, 0755); err != nil {
		return "", domain.NewDatasetError(baseName, "import", fmt.Errorf("create transfer directory: %w", err))
	}
	spoolPath := filepath.Join(s.cfg.TransferPath, uuid.NewString()+ArchiveExt)
	defer func() {
		if err := os.Remove(spoolPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("failed to remove spooled upload", "path", spoolPath, "error", err)
		}
	}()

	if err := s.spool(spoolPath, content); err != nil {
		return "", domain.NewDatasetError(baseName, "import", err)
	}

	return s.ImportArchive(ctx, spoolPath, baseName)
}

func (s *ImportService) spool(spoolPath string, content io.Reader) error {
	f, err := os.OpenFile(spoolPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("create spool file: %w", err)
	}

	limit := s.cfg.MaxUploadSize
	var n int64
	if limit > 0 {
		n, err = io.Copy(f, io.LimitReader(content, limit+1))
	} else {
		n, err = io.Copy(f, content)
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("write spool file: %w", err)
	}
	if limit > 0 && n > limit {
		return fmt.Errorf("%w: upload exceeds %d bytes", domain.ErrInvalidInput, limit)
	}
	return nil
}

// ImportArchive extracts the zip at archivePath into a new dataset named
// after baseName, or "baseName (N)" when that is taken. Flat entries are
// sorted into images/ and text/ by extension; entries inside archive
// folders keep their path. A failed import leaves no dataset behind.
func (s *ImportService) ImportArchive(ctx context.Context, archivePath, baseName string) (string, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return "", domain.NewDatasetError(baseName, "import", fmt.Errorf("%w: %v", domain.ErrCorruptArchive, err))
	}
	defer zr.Close()

	total, err := checkEntries(zr.File)
	if err != nil {
		return "", domain.NewDatasetError(baseName, "import", err)
	}
	if free := freeDiskSpace(s.cfg.DataPath); free > 0 && free < total {
		return "", domain.NewDatasetError(baseName, "import", fmt.Errorf("%w: need %d bytes, %d free", domain.ErrStorageFull, total, free))
	}

	name, unlock, err := s.createUnique(ctx, baseName)
	if err != nil {
		return "", domain.NewDatasetError(baseName, "import", err)
	}
	defer unlock()

	counts, err := s.extract(ctx, zr.File, name)
	if err == nil {
		err = s.repo.Touch(ctx, name)
	}
	if err != nil {
		if delErr := s.repo.Delete(context.WithoutCancel(ctx), name); delErr != nil && !errors.Is(delErr, domain.ErrDatasetNotFound) {
			s.logger.Error("failed to remove partial dataset", "dataset", name, "error", delErr)
		}
		s.events.EmitError(domain.EventCategoryImport, name, "import failed", domain.EventMetadata{"error": err.Error()})
		return "", domain.NewDatasetError(name, "import", err)
	}

	s.events.EmitSuccess(domain.EventCategoryImport, name, "dataset imported", domain.EventMetadata{
		"images":   counts.images,
		"captions": counts.captions,
		"other":    counts.other,
	})
	s.logger.Info("imported dataset", "dataset", name, "images", counts.images, "captions", counts.captions)
	return name, nil
}

// createUnique claims the first free candidate name. Each candidate is
// created atomically under its name lock, so concurrent imports of the
// same base name end up with different datasets. The returned function
// releases the lock on the claimed name.
func (s *ImportService) createUnique(ctx context.Context, baseName string) (string, func(), error) {
	for attempt := 1; attempt <= maxNameAttempts; attempt++ {
		candidate := domain.CandidateName(baseName, attempt)

		unlock, err := s.locker.Lock(ctx, candidate)
		if err != nil {
			return "", nil, err
		}
		err = s.repo.Create(ctx, candidate)
		if err == nil {
			return candidate, unlock, nil
		}
		unlock()
		if !errors.Is(err, domain.ErrDatasetExists) {
			return "", nil, err
		}
	}
	return "", nil, fmt.Errorf("%w: no free name for %q after %d attempts", domain.ErrDatasetExists, baseName, maxNameAttempts)
}

// checkEntries rejects entries that would escape the dataset root and
// returns the total uncompressed size.
func checkEntries(files []*zip.File) (uint64, error) {
	var total uint64
	for _, f := range files {
		if _, err := repository.CleanPath(f.Name); err != nil {
			return 0, fmt.Errorf("%w: unsafe entry %q", domain.ErrCorruptArchive, f.Name)
		}
		total += f.UncompressedSize64
	}
	return total, nil
}

type extractCounts struct {
	images   int
	captions int
	other    int
}

func (s *ImportService) extract(ctx context.Context, files []*zip.File, name string) (extractCounts, error) {
	var counts extractCounts
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return counts, err
		}

		entry, _ := repository.CleanPath(f.Name)
		if f.FileInfo().IsDir() {
			if err := s.repo.MkdirAll(ctx, name, entry); err != nil {
				return counts, fmt.Errorf("create %s: %w", entry, err)
			}
			continue
		}

		target := entry
		if !strings.Contains(entry, "/") {
			kind := domain.ClassifyFile(entry)
			target = repository.FilePath(kind, entry)
			if kind == domain.KindCaption {
				counts.captions++
			} else {
				counts.images++
			}
		} else {
			counts.other++
		}

		if err := s.writeEntry(ctx, f, name, target); err != nil {
			return counts, err
		}
	}
	return counts, nil
}

func (s *ImportService) writeEntry(ctx context.Context, f *zip.File, name, target string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", domain.ErrCorruptArchive, f.Name, err)
	}
	defer rc.Close()

	if err := s.repo.WriteFile(ctx, name, target, rc); err != nil {
		if isCorruptZipError(err) {
			return fmt.Errorf("%w: extract %s: %v", domain.ErrCorruptArchive, f.Name, err)
		}
		return fmt.Errorf("extract %s: %w", f.Name, err)
	}
	return nil
}

func isCorruptZipError(err error) bool {
	var flateErr flate.CorruptInputError
	return errors.Is(err, zip.ErrChecksum) ||
		errors.Is(err, zip.ErrFormat) ||
		errors.Is(err, zip.ErrAlgorithm) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.As(err, &flateErr)
}

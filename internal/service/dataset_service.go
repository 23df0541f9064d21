package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/iconidentify/captionlab/internal/domain"
	"github.com/iconidentify/captionlab/internal/repository"
)

// metadataConcurrency bounds how many datasets are scanned at once.
const metadataConcurrency = 8

// DatasetService derives listing metadata and edits captions.
type DatasetService struct {
	repo   repository.DatasetRepository
	locker *repository.NameLocker
	events domain.EventEmitter
	logger *slog.Logger
	now    func() time.Time
}

// NewDatasetService creates a new dataset service.
func NewDatasetService(
	repo repository.DatasetRepository,
	locker *repository.NameLocker,
	events domain.EventEmitter,
	logger *slog.Logger,
) *DatasetService {
	return &DatasetService{
		repo:   repo,
		locker: locker,
		events: emitterOrDiscard(events),
		logger: logger,
		now:    time.Now,
	}
}

// ListMetadata returns one DatasetMetadata per dataset, ordered by name.
// Datasets deleted while the scan is running are left out.
func (s *DatasetService) ListMetadata(ctx context.Context) ([]domain.DatasetMetadata, error) {
	names, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}

	now := s.now()
	results := make([]*domain.DatasetMetadata, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(metadataConcurrency)
	for i, name := range names {
		g.Go(func() error {
			md, err := s.metadata(gctx, name, now)
			if err != nil {
				if errors.Is(err, domain.ErrDatasetNotFound) {
					s.logger.Debug("dataset vanished during listing", "dataset", name)
					return nil
				}
				return domain.NewDatasetError(name, "derive metadata", err)
			}
			results[i] = md
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	list := make([]domain.DatasetMetadata, 0, len(results))
	for _, md := range results {
		if md != nil {
			list = append(list, *md)
		}
	}
	return list, nil
}

// Metadata derives the listing entry for a single dataset.
func (s *DatasetService) Metadata(ctx context.Context, name string) (*domain.DatasetMetadata, error) {
	md, err := s.metadata(ctx, name, s.now())
	if err != nil {
		return nil, domain.NewDatasetError(name, "derive metadata", err)
	}
	return md, nil
}

func (s *DatasetService) metadata(ctx context.Context, name string, now time.Time) (*domain.DatasetMetadata, error) {
	info, err := s.repo.Info(ctx, name)
	if err != nil {
		return nil, err
	}
	images, err := s.repo.ListFiles(ctx, name, domain.KindImage)
	if err != nil {
		return nil, err
	}
	captions, err := s.repo.ListFiles(ctx, name, domain.KindCaption)
	if err != nil {
		return nil, err
	}

	// Only captions count as edits; with none the dataset reads as never modified.
	modified := time.Unix(0, 0)
	for _, c := range captions {
		if c.ModTime.After(modified) {
			modified = c.ModTime
		}
	}

	var imageBytes int64
	for _, img := range images {
		if !img.IsDir {
			imageBytes += img.Size
		}
	}

	return &domain.DatasetMetadata{
		Name:       name,
		Images:     len(images),
		Created:    domain.RelativeTime(info.CreatedAt, now),
		Modified:   domain.ModifiedDisplay(info.CreatedAt, modified, now),
		ImageBytes: imageBytes,
		Size:       humanize.Bytes(uint64(imageBytes)),
		CreatedAt:  info.CreatedAt,
		ModifiedAt: modified,
	}, nil
}

// Pairs returns every image of the dataset with the caption stored for its
// stem, ordered by image filename. Images without a caption get "".
func (s *DatasetService) Pairs(ctx context.Context, name string) ([]domain.CaptionPair, error) {
	images, err := s.repo.ListFiles(ctx, name, domain.KindImage)
	if err != nil {
		return nil, domain.NewDatasetError(name, "list images", err)
	}

	pairs := make([]domain.CaptionPair, 0, len(images))
	for _, img := range images {
		if img.IsDir {
			continue
		}
		caption := ""
		data, err := s.repo.ReadFile(ctx, name, repository.FilePath(domain.KindCaption, domain.CaptionFilename(img.Name)))
		switch {
		case err == nil:
			caption = string(data)
		case errors.Is(err, domain.ErrFileNotFound):
		default:
			return nil, domain.NewDatasetError(name, "read caption", err)
		}
		pairs = append(pairs, domain.CaptionPair{ImageFilename: img.Name, Caption: caption})
	}
	return pairs, nil
}

// SaveCaptions overwrites text/<stem>.txt for every key with the trimmed
// value. Keys are image filenames or stems. It returns the number of
// caption files written.
func (s *DatasetService) SaveCaptions(ctx context.Context, name string, captions map[string]string) (int, error) {
	keys := make([]string, 0, len(captions))
	for key := range captions {
		if !domain.ValidName(key) {
			return 0, domain.NewDatasetError(name, "save captions", fmt.Errorf("%w: caption key %q", domain.ErrInvalidInput, key))
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	unlock, err := s.locker.Lock(ctx, name)
	if err != nil {
		return 0, domain.NewDatasetError(name, "save captions", err)
	}
	defer unlock()

	if _, err := s.repo.Info(ctx, name); err != nil {
		return 0, domain.NewDatasetError(name, "save captions", err)
	}

	for i, key := range keys {
		relPath := repository.FilePath(domain.KindCaption, domain.CaptionFilename(key))
		if err := s.repo.WriteFile(ctx, name, relPath, strings.NewReader(strings.TrimSpace(captions[key]))); err != nil {
			s.events.EmitError(domain.EventCategoryCaption, name, "caption save failed", domain.EventMetadata{
				"written": i,
				"error":   err.Error(),
			})
			return i, domain.NewDatasetError(name, "save captions", err)
		}
	}

	s.events.EmitSuccess(domain.EventCategoryCaption, name, "captions saved", domain.EventMetadata{"written": len(keys)})
	return len(keys), nil
}

// Delete removes the dataset and everything in it.
func (s *DatasetService) Delete(ctx context.Context, name string) error {
	unlock, err := s.locker.Lock(ctx, name)
	if err != nil {
		return domain.NewDatasetError(name, "delete", err)
	}
	defer unlock()

	if err := s.repo.Delete(ctx, name); err != nil {
		if !errors.Is(err, domain.ErrDatasetNotFound) {
			s.events.EmitError(domain.EventCategoryDelete, name, "delete failed", domain.EventMetadata{"error": err.Error()})
		}
		return domain.NewDatasetError(name, "delete", err)
	}

	s.events.EmitSuccess(domain.EventCategoryDelete, name, "dataset deleted", nil)
	return nil
}

// Image returns the bytes of an image in the dataset.
func (s *DatasetService) Image(ctx context.Context, name, filename string) ([]byte, error) {
	if !domain.ValidName(filename) {
		return nil, domain.NewDatasetError(name, "read image", domain.ErrInvalidInput)
	}
	data, err := s.repo.ReadFile(ctx, name, repository.FilePath(domain.KindImage, filename))
	if err != nil {
		return nil, domain.NewDatasetError(name, "read image", err)
	}
	return data, nil
}

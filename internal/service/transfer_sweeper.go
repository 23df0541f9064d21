package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// locksDir is the NameLocker directory inside the transfer path. It is
// never swept.
const locksDir = ".locks"

// TransferSweeper removes transfer entries left behind by a crashed
// process: spooled uploads and export folders older than a TTL.
type TransferSweeper struct {
	path   string
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewTransferSweeper creates a sweeper for the transfer directory.
func NewTransferSweeper(transferPath string, ttl time.Duration, logger *slog.Logger) *TransferSweeper {
	return &TransferSweeper{
		path:   transferPath,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// Name identifies the sweeper in logs.
func (s *TransferSweeper) Name() string {
	return "transfer-sweep"
}

// Run removes stale entries and returns an error only when the transfer
// directory cannot be read.
func (s *TransferSweeper) Run(ctx context.Context) error {
	_, err := s.Sweep(ctx)
	return err
}

// Sweep removes every entry of the transfer directory whose modification
// time is older than the TTL and returns how many were removed.
func (s *TransferSweeper) Sweep(ctx context.Context) (int, error) {
	if s.ttl <= 0 {
		return 0, nil
	}

	entries, err := os.ReadDir(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read transfer directory: %w", err)
	}

	cutoff := s.now().Add(-s.ttl)
	removed := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if entry.Name() == locksDir {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}

		p := filepath.Join(s.path, entry.Name())
		if err := os.RemoveAll(p); err != nil {
			s.logger.Warn("failed to remove stale transfer entry", "path", p, "error", err)
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info("removed stale transfer entries", "count", removed, "cutoff", cutoff)
	}
	return removed, nil
}

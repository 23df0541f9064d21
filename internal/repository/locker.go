package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/iconidentify/captionlab/internal/domain"
)

const lockRetryDelay = 50 * time.Millisecond

// NameLocker serializes mutating operations per dataset name.
// Within the process a per-name semaphore is used. When a lock directory
// is configured a flock file is held too, so several processes sharing a
// store also exclude each other.
type NameLocker struct {
	dir   string
	mu    sync.Mutex
	locks map[string]*nameLock
}

type nameLock struct {
	sem  chan struct{}
	refs int
}

// NewNameLocker creates a locker. An empty dir disables file locks.
func NewNameLocker(dir string) *NameLocker {
	return &NameLocker{
		dir:   dir,
		locks: make(map[string]*nameLock),
	}
}

// Lock blocks until the name is free or ctx is done. The returned
// function releases the lock and must be called exactly once.
func (l *NameLocker) Lock(ctx context.Context, name string) (func(), error) {
	if !domain.ValidName(name) {
		return nil, domain.ErrInvalidInput
	}

	nl := l.acquireRef(name)
	select {
	case nl.sem <- struct{}{}:
	case <-ctx.Done():
		l.releaseRef(name)
		return nil, ctx.Err()
	}

	var fileLock *flock.Flock
	if l.dir != "" {
		if err := os.MkdirAll(l.dir, 0755); err != nil {
			l.release(name, nl)
			return nil, fmt.Errorf("create lock directory: %w", err)
		}
		fileLock = flock.New(l.lockPath(name))
		ok, err := fileLock.TryLockContext(ctx, lockRetryDelay)
		if err != nil || !ok {
			l.release(name, nl)
			if err == nil {
				err = ctx.Err()
			}
			return nil, fmt.Errorf("acquire file lock: %w", err)
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if fileLock != nil {
				_ = fileLock.Unlock()
			}
			l.release(name, nl)
		})
	}, nil
}

// lockPath names the lock file by a digest of the dataset name so that
// names close to the filesystem's length limit still get a lock file.
func (l *NameLocker) lockPath(name string) string {
	return filepath.Join(l.dir, uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()+".lock")
}

func (l *NameLocker) acquireRef(name string) *nameLock {
	l.mu.Lock()
	defer l.mu.Unlock()

	nl, ok := l.locks[name]
	if !ok {
		nl = &nameLock{sem: make(chan struct{}, 1)}
		l.locks[name] = nl
	}
	nl.refs++
	return nl
}

func (l *NameLocker) releaseRef(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	nl, ok := l.locks[name]
	if !ok {
		return
	}
	nl.refs--
	if nl.refs == 0 {
		delete(l.locks, name)
	}
}

func (l *NameLocker) release(name string, nl *nameLock) {
	<-nl.sem
	l.releaseRef(name)
}

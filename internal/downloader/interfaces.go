package downloader

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrAccessDenied is returned when the server refuses the archive URL.
	ErrAccessDenied = errors.New("archive url access denied")
	// ErrRateLimited is returned on HTTP 429.
	ErrRateLimited = errors.New("rate limited by archive host")
	// ErrTooLarge is returned when an archive exceeds the upload limit.
	ErrTooLarge = errors.New("archive exceeds size limit")
)

// Downloader fetches dataset archives from URLs.
type Downloader interface {
	// Download fetches the archive at url and returns its body and size.
	// Size is -1 when the server does not announce it.
	// Caller is responsible for closing the reader.
	Download(ctx context.Context, url string) (io.ReadCloser, int64, error)
}

package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iconidentify/captionlab/internal/config"
)

func testConfig() config.DownloadConfig {
	return config.DownloadConfig{
		Timeout:       5 * time.Second,
		RetryDelay:    10 * time.Millisecond,
		MaxRetryDelay: 50 * time.Millisecond,
		UserAgent:     "test-agent",
	}
}

func TestNewHTTPDownloader(t *testing.T) {
	dl := NewHTTPDownloader(testConfig(), nil)

	if dl.userAgent != "test-agent" {
		t.Errorf("userAgent = %q, want %q", dl.userAgent, "test-agent")
	}
	if dl.retry.InitialDelay != 10*time.Millisecond {
		t.Errorf("InitialDelay = %v, want 10ms", dl.retry.InitialDelay)
	}
	if dl.logger == nil {
		t.Error("logger should default to slog.Default")
	}
}

func TestHTTPDownloader_Download_Success(t *testing.T) {
	content := []byte("PK archive bytes")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		if ua := r.Header.Get("User-Agent"); ua != "test-agent" {
			t.Errorf("User-Agent = %q, want %q", ua, "test-agent")
		}
		w.Write(content)
	}))
	defer server.Close()

	dl := NewHTTPDownloader(testConfig(), nil)
	reader, size, err := dl.Download(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	defer reader.Close()

	if size != int64(len(content)) {
		t.Errorf("size = %d, want %d", size, len(content))
	}
	data, _ := io.ReadAll(reader)
	if string(data) != string(content) {
		t.Errorf("content = %q, want %q", data, content)
	}
}

func TestHTTPDownloader_Download_Forbidden(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	dl := NewHTTPDownloader(testConfig(), nil)
	_, _, err := dl.Download(context.Background(), server.URL)
	if !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("error = %v, want ErrAccessDenied", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (no retry)", calls.Load())
	}
}

func TestHTTPDownloader_Download_NotFoundIsPermanent(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	dl := NewHTTPDownloader(testConfig(), nil)
	if _, _, err := dl.Download(context.Background(), server.URL); err == nil {
		t.Fatal("expected error for 404")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestHTTPDownloader_Download_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, "ok")
	}))
	defer server.Close()

	dl := NewHTTPDownloader(testConfig(), nil)
	reader, _, err := dl.Download(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	reader.Close()
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestHTTPDownloader_Download_RateLimitedExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	dl := NewHTTPDownloader(testConfig(), nil)
	_, _, err := dl.Download(context.Background(), server.URL)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("error = %v, want ErrRateLimited", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestHTTPDownloader_Download_ContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dl := NewHTTPDownloader(testConfig(), nil)
	if _, _, err := dl.Download(ctx, server.URL); err == nil {
		t.Fatal("expected error for canceled context")
	}
}

func TestHTTPDownloader_DownloadToFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "0123456789")
	}))
	defer server.Close()

	dl := NewHTTPDownloader(testConfig(), nil)
	path := filepath.Join(t.TempDir(), "pets.zip")

	n, err := dl.DownloadToFile(context.Background(), server.URL, path, 100)
	if err != nil {
		t.Fatalf("DownloadToFile failed: %v", err)
	}
	if n != 10 {
		t.Errorf("n = %d, want 10", n)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "0123456789" {
		t.Errorf("file = %q, %v", data, err)
	}
}

func TestHTTPDownloader_DownloadToFile_TooLarge(t *testing.T) {
	tests := []struct {
		name          string
		contentLength bool
	}{
		{name: "announced", contentLength: true},
		{name: "chunked", contentLength: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := strings.Repeat("x", 64)
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.contentLength {
					w.Header().Set("Content-Length", fmt.Sprint(len(body)))
					io.WriteString(w, body)
					return
				}
				for i := 0; i < len(body); i += 8 {
					io.WriteString(w, body[i:i+8])
					w.(http.Flusher).Flush()
				}
			}))
			defer server.Close()

			dl := NewHTTPDownloader(testConfig(), nil)
			path := filepath.Join(t.TempDir(), "big.zip")
			_, err := dl.DownloadToFile(context.Background(), server.URL, path, 16)
			if !errors.Is(err, ErrTooLarge) {
				t.Fatalf("error = %v, want ErrTooLarge", err)
			}
			if _, err := os.Stat(path); !os.IsNotExist(err) {
				t.Error("partial file should be removed")
			}
		})
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited", ErrRateLimited, true},
		{"access denied", ErrAccessDenied, false},
		{"wrapped access denied", fmt.Errorf("x: %w", ErrAccessDenied), false},
		{"permanent", permanent(errors.New("bad request")), false},
		{"canceled", context.Canceled, false},
		{"network", errors.New("connection reset"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableError(tt.err); got != tt.want {
				t.Errorf("isRetryableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

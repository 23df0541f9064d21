package service

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/iconidentify/captionlab/internal/config"
	"github.com/iconidentify/captionlab/internal/domain"
	"github.com/iconidentify/captionlab/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// zipEntry is a file or folder (name ending in "/") to put in a test archive.
type zipEntry struct {
	name  string
	body  string
	store bool
}

func buildZip(t *testing.T, entries ...zipEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		header := &zip.FileHeader{Name: e.name, Method: zip.Deflate}
		if e.store {
			header.Method = zip.Store
		}
		w, err := zw.CreateHeader(header)
		if err != nil {
			t.Fatalf("zip create %s: %v", e.name, err)
		}
		if _, err := io.WriteString(w, e.body); err != nil {
			t.Fatalf("zip write %s: %v", e.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func readZip(t *testing.T, path string) map[string]string {
	t.Helper()
	zr, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	defer zr.Close()

	out := make(map[string]string)
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open entry %s: %v", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read entry %s: %v", f.Name, err)
		}
		out[f.Name] = string(data)
	}
	return out
}

// testEnv wires every service against one store.
type testEnv struct {
	cfg      config.StorageConfig
	repo     repository.DatasetRepository
	events   *EventService
	datasets *DatasetService
	importer *ImportService
	exporter *ExportService
}

func newTestEnv(t *testing.T, repo repository.DatasetRepository, dataPath string) *testEnv {
	t.Helper()
	root := t.TempDir()
	cfg := config.StorageConfig{
		DataPath:      dataPath,
		TransferPath:  filepath.Join(root, "transfers"),
		MaxUploadSize: 1 << 20,
	}
	events, err := NewEventService(EventServiceConfig{RingBufferSize: 50}, testLogger())
	if err != nil {
		t.Fatalf("NewEventService: %v", err)
	}
	t.Cleanup(func() { events.Close() })

	locker := repository.NewNameLocker(filepath.Join(cfg.TransferPath, ".locks"))
	return &testEnv{
		cfg:      cfg,
		repo:     repo,
		events:   events,
		datasets: NewDatasetService(repo, locker, events, testLogger()),
		importer: NewImportService(repo, locker, events, cfg, testLogger()),
		exporter: NewExportService(repo, locker, events, cfg, testLogger()),
	}
}

// newFilesystemEnv uses a real directory store.
func newFilesystemEnv(t *testing.T) *testEnv {
	t.Helper()
	dataPath := filepath.Join(t.TempDir(), "static", "data")
	repo := repository.NewFilesystemDatasetRepository(config.StorageConfig{DataPath: dataPath})
	return newTestEnv(t, repo, dataPath)
}

// newMemoryEnv uses the in-memory store.
func newMemoryEnv(t *testing.T) (*testEnv, *repository.InMemoryDatasetRepository) {
	t.Helper()
	repo := repository.NewInMemoryDatasetRepository()
	return newTestEnv(t, repo, ""), repo
}

func mustCreate(t *testing.T, repo repository.DatasetRepository, name string, files map[string]string) {
	t.Helper()
	ctx := context.Background()
	if err := repo.Create(ctx, name); err != nil {
		t.Fatalf("Create(%q): %v", name, err)
	}
	for p, body := range files {
		if err := repo.WriteFile(ctx, name, p, bytes.NewBufferString(body)); err != nil {
			t.Fatalf("WriteFile(%q): %v", p, err)
		}
	}
}

func transferEntries(t *testing.T, env *testEnv) []string {
	t.Helper()
	entries, err := os.ReadDir(env.cfg.TransferPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		t.Fatalf("read transfers: %v", err)
	}
	var names []string
	for _, e := range entries {
		if e.Name() == ".locks" {
			continue
		}
		names = append(names, e.Name())
	}
	return names
}

func lastEvent(t *testing.T, svc *EventService) domain.Event {
	t.Helper()
	res, err := svc.Query(context.Background(), domain.EventQuery{Limit: 1})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(res.Events) == 0 {
		t.Fatal("no events recorded")
	}
	return res.Events[0]
}

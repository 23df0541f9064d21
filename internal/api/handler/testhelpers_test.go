package handler

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/iconidentify/captionlab/internal/config"
	"github.com/iconidentify/captionlab/internal/repository"
	"github.com/iconidentify/captionlab/internal/service"
)

// testLogger returns a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testServer wires the handlers against a filesystem store in a temp dir.
type testServer struct {
	cfg    config.StorageConfig
	repo   *repository.FilesystemDatasetRepository
	events *service.EventService
	ui     *UIHandler
	ds     *DatasetHandler
	ev     *EventHandler
	health *HealthHandler
	mux    *chi.Mux
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	root := t.TempDir()
	cfg := config.StorageConfig{
		DataPath:      filepath.Join(root, "static", "data"),
		TransferPath:  filepath.Join(root, "transfers"),
		MaxUploadSize: 1 << 20,
	}
	if err := os.MkdirAll(cfg.DataPath, 0755); err != nil {
		t.Fatal(err)
	}

	repo := repository.NewFilesystemDatasetRepository(cfg)
	events, err := service.NewEventService(service.EventServiceConfig{RingBufferSize: 100}, testLogger())
	if err != nil {
		t.Fatalf("NewEventService: %v", err)
	}
	t.Cleanup(func() { events.Close() })

	locker := repository.NewNameLocker(filepath.Join(cfg.TransferPath, ".locks"))
	datasets := service.NewDatasetService(repo, locker, events, testLogger())
	importer := service.NewImportService(repo, locker, events, cfg, testLogger())
	exporter := service.NewExportService(repo, locker, events, cfg, testLogger())

	s := &testServer{
		cfg:    cfg,
		repo:   repo,
		events: events,
		ui:     NewUIHandler(datasets, testLogger()),
		ds:     NewDatasetHandler(datasets, importer, exporter, cfg.MaxUploadSize, testLogger()),
		ev:     NewEventHandler(events, testLogger()),
		health: NewHealthHandler(repo, cfg.DataPath),
	}

	r := chi.NewRouter()
	r.Get("/", s.ui.Index)
	r.Get("/edit/{name}", s.ui.Edit)
	r.Get("/delete/{name}", s.ui.Delete)
	r.Post("/submit/{name}", s.ds.Submit)
	r.Post("/upload", s.ds.Upload)
	r.Get("/download/{name}", s.ds.Download)
	r.Post("/delete/{name}/confirm", s.ds.DeleteConfirm)
	r.Get("/static/data/{name}/images/{file}", s.ds.Image)
	r.Get("/api/v1/datasets", s.ds.List)
	r.Get("/api/v1/datasets/{name}", s.ds.Get)
	r.Get("/api/v1/events", s.ev.List)
	r.Get("/api/v1/events/stats", s.ev.Stats)
	s.mux = r
	return s
}

func (s *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)
	return w
}

// createDataset writes a dataset with the given relative files.
func (s *testServer) createDataset(t *testing.T, name string, files map[string]string) {
	t.Helper()
	ctx := context.Background()
	if err := s.repo.Create(ctx, name); err != nil {
		t.Fatalf("Create(%q): %v", name, err)
	}
	for p, body := range files {
		if err := s.repo.WriteFile(ctx, name, p, strings.NewReader(body)); err != nil {
			t.Fatalf("WriteFile(%q): %v", p, err)
		}
	}
}

func (s *testServer) readFile(t *testing.T, name, relPath string) string {
	t.Helper()
	data, err := s.repo.ReadFile(context.Background(), name, relPath)
	if err != nil {
		t.Fatalf("ReadFile(%q, %q): %v", name, relPath, err)
	}
	return string(data)
}

func (s *testServer) transferEntries(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(s.cfg.TransferPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		t.Fatalf("read transfers: %v", err)
	}
	var names []string
	for _, e := range entries {
		if e.Name() != ".locks" {
			names = append(names, e.Name())
		}
	}
	return names
}

// buildZip returns an archive with the given name -> body entries.
func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		io.WriteString(w, body)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

// uploadRequest builds a multipart POST /upload with content under field.
func uploadRequest(t *testing.T, field, filename string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	part.Write(content)
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

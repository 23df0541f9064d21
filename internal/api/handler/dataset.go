package handler

import (
	"bytes"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/iconidentify/captionlab/internal/domain"
	"github.com/iconidentify/captionlab/internal/service"
)

// multipartMemory is how much of an upload is kept in memory before
// spilling to a temp file.
const multipartMemory = 32 << 20

// DatasetHandler handles dataset mutations, downloads and the JSON listing.
type DatasetHandler struct {
	datasets      *service.DatasetService
	importer      *service.ImportService
	exporter      *service.ExportService
	maxUploadSize int64
	logger        *slog.Logger
}

// NewDatasetHandler creates a new dataset handler.
func NewDatasetHandler(
	datasets *service.DatasetService,
	importer *service.ImportService,
	exporter *service.ExportService,
	maxUploadSize int64,
	logger *slog.Logger,
) *DatasetHandler {
	return &DatasetHandler{
		datasets:      datasets,
		importer:      importer,
		exporter:      exporter,
		maxUploadSize: maxUploadSize,
		logger:        logger,
	}
}

// Submit handles POST /submit/{name} - save edited captions.
func (h *DatasetHandler) Submit(w http.ResponseWriter, r *http.Request) {
	name := nameParam(r, "name")
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}

	captions := make(map[string]string, len(r.PostForm))
	for key, values := range r.PostForm {
		if len(values) > 0 {
			captions[key] = values[0]
		}
	}

	if _, err := h.datasets.SaveCaptions(r.Context(), name, captions); err != nil {
		writeTextError(w, h.logger, err, "failed to save captions")
		return
	}
	http.Redirect(w, r, editURL(name), http.StatusSeeOther)
}

// Upload handles POST /upload - import a zip archive as a new dataset.
// The response body is the resolved dataset name as plain text.
func (h *DatasetHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.maxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize+multipartMemory)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "File too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "No file part", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "No file part", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if _, err := service.DatasetNameFromUpload(header.Filename); err != nil {
		http.Error(w, "Invalid file", http.StatusBadRequest)
		return
	}

	name, err := h.importer.Import(r.Context(), header.Filename, file)
	if err != nil {
		writeTextError(w, h.logger, err, "failed to import archive")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(name))
}

// Download handles GET /download/{name} - captions as a zip attachment.
// The transfer folder is removed once the response is written, whether or
// not the client received all of it.
func (h *DatasetHandler) Download(w http.ResponseWriter, r *http.Request) {
	name := nameParam(r, "name")

	bundle, err := h.exporter.Export(r.Context(), name)
	if err != nil {
		writeTextError(w, h.logger, err, "failed to export dataset")
		return
	}
	defer bundle.Close()

	f, err := bundle.Open()
	if err != nil {
		h.logger.Error("failed to open export", "dataset", name, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		h.logger.Error("failed to stat export", "dataset", name, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": bundle.Filename}))
	http.ServeContent(w, r, bundle.Filename, stat.ModTime(), f)
}

// DeleteConfirm handles POST /delete/{name}/confirm - remove the dataset.
func (h *DatasetHandler) DeleteConfirm(w http.ResponseWriter, r *http.Request) {
	name := nameParam(r, "name")
	if err := h.datasets.Delete(r.Context(), name); err != nil {
		writeTextError(w, h.logger, err, "failed to delete dataset")
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// Image handles GET /static/data/{name}/images/{file}.
func (h *DatasetHandler) Image(w http.ResponseWriter, r *http.Request) {
	name := nameParam(r, "name")
	filename := nameParam(r, "file")

	data, err := h.datasets.Image(r.Context(), name, filename)
	if err != nil {
		writeTextError(w, h.logger, err, "failed to read image")
		return
	}

	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, filename, time.Time{}, bytes.NewReader(data))
}

// DatasetListResponse is the JSON dataset listing.
type DatasetListResponse struct {
	Datasets []domain.DatasetMetadata `json:"datasets"`
	Total    int                      `json:"total"`
}

// List handles GET /api/v1/datasets.
func (h *DatasetHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.datasets.ListMetadata(r.Context())
	if err != nil {
		h.logger.Error("failed to list datasets", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to list datasets")
		return
	}
	writeJSON(w, http.StatusOK, DatasetListResponse{Datasets: list, Total: len(list)})
}

// Get handles GET /api/v1/datasets/{name}.
func (h *DatasetHandler) Get(w http.ResponseWriter, r *http.Request) {
	name := nameParam(r, "name")
	md, err := h.datasets.Metadata(r.Context(), name)
	if err != nil {
		status := statusForError(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("failed to load dataset", "dataset", name, "error", err)
		}
		writeJSONError(w, status, messageForStatus(status))
		return
	}
	writeJSON(w, http.StatusOK, md)
}

package handler

import (
	"bytes"
	"log/slog"
	"net/http"

	"github.com/iconidentify/captionlab/internal/domain"
	"github.com/iconidentify/captionlab/internal/service"
	"github.com/iconidentify/captionlab/pkg/ui"
)

// UIHandler serves the HTML views.
type UIHandler struct {
	datasets *service.DatasetService
	logger   *slog.Logger
}

// NewUIHandler creates a new UI handler.
func NewUIHandler(datasets *service.DatasetService, logger *slog.Logger) *UIHandler {
	return &UIHandler{
		datasets: datasets,
		logger:   logger,
	}
}

// IndexPage is the data for the listing view.
type IndexPage struct {
	Datasets []domain.DatasetMetadata
}

// EditPage is the data for the caption editing view.
type EditPage struct {
	Dataset string
	Pairs   []domain.CaptionPair
}

// DeletePage is the data for the delete confirmation view.
type DeletePage struct {
	Dataset string
	Images  int
}

// Index handles GET / - dataset listing.
func (h *UIHandler) Index(w http.ResponseWriter, r *http.Request) {
	list, err := h.datasets.ListMetadata(r.Context())
	if err != nil {
		writeTextError(w, h.logger, err, "failed to list datasets")
		return
	}
	h.render(w, ui.IndexView, IndexPage{Datasets: list})
}

// Edit handles GET /edit/{name} - caption editing view.
func (h *UIHandler) Edit(w http.ResponseWriter, r *http.Request) {
	name := nameParam(r, "name")
	pairs, err := h.datasets.Pairs(r.Context(), name)
	if err != nil {
		writeTextError(w, h.logger, err, "failed to load captions")
		return
	}
	h.render(w, ui.EditView, EditPage{Dataset: name, Pairs: pairs})
}

// Delete handles GET /delete/{name} - confirmation view.
func (h *UIHandler) Delete(w http.ResponseWriter, r *http.Request) {
	name := nameParam(r, "name")
	md, err := h.datasets.Metadata(r.Context(), name)
	if err != nil {
		writeTextError(w, h.logger, err, "failed to load dataset")
		return
	}
	h.render(w, ui.DeleteView, DeletePage{Dataset: name, Images: md.Images})
}

func (h *UIHandler) render(w http.ResponseWriter, view string, data any) {
	var buf bytes.Buffer
	if err := ui.Render(&buf, view, data); err != nil {
		h.logger.Error("failed to render view", "view", view, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

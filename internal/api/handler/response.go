package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/iconidentify/captionlab/internal/domain"
)

// statusForError maps domain errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrDatasetNotFound), errors.Is(err, domain.ErrFileNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrCorruptArchive):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrDatasetExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrStorageFull):
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}

// messageForStatus is the client-facing text for an error status.
func messageForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "Invalid request"
	case http.StatusNotFound:
		return "Dataset not found"
	case http.StatusUnprocessableEntity:
		return "Corrupt archive"
	case http.StatusConflict:
		return "Dataset already exists"
	case http.StatusInsufficientStorage:
		return "Not enough storage"
	default:
		return "Internal server error"
	}
}

// writeTextError logs unexpected errors and writes a plain-text error.
func writeTextError(w http.ResponseWriter, logger *slog.Logger, err error, msg string) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		logger.Error(msg, "error", err)
	}
	http.Error(w, messageForStatus(status), status)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// nameParam returns the decoded dataset name from the route. chi matches on
// the raw path when the request path carries escapes that differ from the
// default encoding, so the parameter may still be escaped.
func nameParam(r *http.Request, key string) string {
	value := chi.URLParam(r, key)
	if r.URL.RawPath == "" {
		return value
	}
	if decoded, err := url.PathUnescape(value); err == nil {
		return decoded
	}
	return value
}

// editURL is the edit view location of a dataset.
func editURL(name string) string {
	return "/edit/" + url.PathEscape(name)
}

package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestUIHandler_Index(t *testing.T) {
	s := newTestServer(t)
	s.createDataset(t, "pets", map[string]string{"images/dog.jpg": "jpg", "images/cat.jpg": "jpg"})

	w := s.do(t, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	contentType := w.Header().Get("Content-Type")
	if contentType != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q, want %q", contentType, "text/html; charset=utf-8")
	}

	body := w.Body.String()
	if !strings.Contains(body, "<!DOCTYPE html>") {
		t.Error("response should contain HTML content")
	}
	if !strings.Contains(body, `href="/edit/pets"`) {
		t.Error("listing should link to the edit view")
	}
	if !strings.Contains(body, "<td>2</td>") {
		t.Error("listing should show the image count")
	}
	if !strings.Contains(body, "Just now") {
		t.Error("listing should show the created time")
	}
}

func TestUIHandler_Edit(t *testing.T) {
	s := newTestServer(t)
	s.createDataset(t, "pets", map[string]string{
		"images/b.jpg": "jpg",
		"images/a.jpg": "jpg",
		"text/a.txt":   "first caption",
	})

	w := s.do(t, httptest.NewRequest(http.MethodGet, "/edit/pets", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	body := w.Body.String()
	first := strings.Index(body, `name="a.jpg"`)
	second := strings.Index(body, `name="b.jpg"`)
	if first < 0 || second < 0 || first > second {
		t.Errorf("pairs should be listed by image filename:\n%s", body)
	}
	if !strings.Contains(body, ">first caption</textarea>") {
		t.Error("caption for a.jpg should be prefilled")
	}
	if !strings.Contains(body, `action="/submit/pets"`) {
		t.Error("form should submit to /submit/pets")
	}
}

func TestUIHandler_Edit_NotFound(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, httptest.NewRequest(http.MethodGet, "/edit/missing", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestUIHandler_Delete(t *testing.T) {
	s := newTestServer(t)
	s.createDataset(t, "pets", map[string]string{"images/dog.jpg": "jpg"})

	w := s.do(t, httptest.NewRequest(http.MethodGet, "/delete/pets", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), `action="/delete/pets/confirm"`) {
		t.Error("confirmation form missing")
	}

	names, _ := s.repo.List(t.Context())
	if len(names) != 1 {
		t.Error("viewing the confirmation must not delete the dataset")
	}

	w = s.do(t, httptest.NewRequest(http.MethodGet, "/delete/missing", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("missing dataset status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

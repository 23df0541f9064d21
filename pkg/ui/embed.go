// Package ui provides the embedded HTML views for captionlab.
//
// Views are html/template files parsed once at startup. Handlers render
// them by name through Render.
package ui

import (
	"embed"
	"html/template"
	"io"
	"net/url"
)

// View names.
const (
	IndexView  = "index.html"
	EditView   = "edit.html"
	DeleteView = "delete.html"
)

//go:embed templates/*.html
var templateFS embed.FS

var funcs = template.FuncMap{
	// pathEscape escapes a dataset or file name for use as one URL path segment.
	"pathEscape": url.PathEscape,
}

var views = template.Must(template.New("").Funcs(funcs).ParseFS(templateFS, "templates/*.html"))

// Render executes the named view with data.
func Render(w io.Writer, name string, data any) error {
	return views.ExecuteTemplate(w, name, data)
}

// Names lists the parsed view names.
func Names() []string {
	var names []string
	for _, t := range views.Templates() {
		if t.Name() != "" {
			names = append(names, t.Name())
		}
	}
	return names
}
